package tunnel

import (
	"fmt"
	"time"
)

// LaunchError indicates the tunneling executable could not be resolved or
// the OS refused to start it. No subprocess exists when this is returned.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch tunnel process %q: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// StartupError indicates the tunnel subprocess exited before its local port
// ever accepted a connection. Output holds the captured stderr tail.
type StartupError struct {
	Target Target
	Output string
	Err    error
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("tunnel process for %s exited before becoming ready", e.Target)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }

// TimeoutError indicates the tunnel process kept running but its local port
// never became reachable within the readiness timeout.
type TimeoutError struct {
	Target    Target
	LocalPort int
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tunnel to %s not ready on localhost:%d after %v",
		e.Target, e.LocalPort, e.Timeout)
}
