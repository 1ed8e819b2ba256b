package tunnel

import (
	"net"
	"strconv"
	"time"
)

const (
	// DefaultReadyTimeout bounds how long Create waits for a new tunnel to
	// accept connections before giving up.
	DefaultReadyTimeout = 30 * time.Second

	defaultProbeInterval = 500 * time.Millisecond
	probeDialTimeout     = 1 * time.Second
)

// waitReady blocks until the record's local port accepts a TCP connection,
// the subprocess exits, or the overall timeout elapses - whichever comes
// first. Network readiness cannot be inferred from the subprocess alone (the
// tunnel may log for seconds before binding its listener), so polling the
// port is the only reliable observable of "traffic will now flow".
//
// Each attempt opens a fresh connection and closes it immediately; nothing is
// leaked across attempts.
func waitReady(rec *Record, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	addr := net.JoinHostPort("localhost", strconv.Itoa(rec.LocalPort))

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, probeDialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-rec.Wait():
			return &StartupError{
				Target: rec.Target,
				Output: rec.stderrTail(),
				Err:    rec.exitError(),
			}
		case <-deadline.C:
			return &TimeoutError{
				Target:    rec.Target,
				LocalPort: rec.LocalPort,
				Timeout:   timeout,
			}
		case <-ticker.C:
		}
	}
}
