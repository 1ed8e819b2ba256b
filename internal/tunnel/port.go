package tunnel

import (
	"fmt"
	"net"
)

// AllocatePort returns a local TCP port the caller may hand to the tunnel
// subprocess. A nonzero requested port is returned unchanged without checking
// that it is free - the subprocess fails fast if it is not. For 0 we bind an
// ephemeral socket, read back the OS-assigned port and release it again.
// The port can be taken by someone else between release and the subprocess
// bind; the readiness probe surfaces that as a startup failure.
func AllocatePort(requested int) (int, error) {
	if requested != 0 {
		return requested, nil
	}

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate local port: %w", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}
