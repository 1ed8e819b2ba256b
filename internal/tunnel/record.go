package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Status is the dynamically computed state of a tunnel. It is never stored -
// process liveness and port reachability can change at any time without this
// program being notified, so every query re-derives it.
type Status string

const (
	// StatusActive means the process is alive and the local port accepts connections.
	StatusActive Status = "active"
	// StatusStopped means the tunnel process no longer exists.
	StatusStopped Status = "stopped"
	// StatusError means the record has no usable process, or the process is
	// alive but the local port is unreachable (degraded tunnel).
	StatusError Status = "error"
)

// Target identifies the remote endpoint of a tunnel. Immutable after creation.
type Target struct {
	Project  string
	Zone     string
	Instance string
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Project, t.Zone, t.Instance)
}

const (
	stopTimeout       = 5 * time.Second
	statusDialTimeout = 1 * time.Second
)

// Record represents one forwarding tunnel. Its ID equals the PID of the
// tunnel subprocess for the record's entire lifetime; the PID keying matches
// the on-disk format, so PID reuse after process exit is an accepted hazard
// mitigated by liveness checks on every load.
type Record struct {
	ID         int
	Target     Target
	LocalPort  int
	RemotePort int
	CreatedAt  time.Time

	// cmd is set only for tunnels spawned by this process. Records recovered
	// from disk have no exec.Cmd and are monitored by PID polling instead.
	cmd    *exec.Cmd
	stderr *tailBuffer

	done     chan struct{}
	exitOnce sync.Once
	exitErr  error

	// released is closed when the registry drops the record, so watcher
	// goroutines stop even while the process itself lives on.
	released    chan struct{}
	releaseOnce sync.Once
}

// newRecord wraps a freshly started tunnel subprocess. A monitor goroutine
// reaps the child and marks the record exited; everything else observes exit
// through the done channel rather than calling Wait themselves.
func newRecord(cmd *exec.Cmd, target Target, localPort, remotePort int, stderr *tailBuffer) *Record {
	r := &Record{
		ID:         cmd.Process.Pid,
		Target:     target,
		LocalPort:  localPort,
		RemotePort: remotePort,
		CreatedAt:  time.Now(),
		cmd:        cmd,
		stderr:     stderr,
		done:       make(chan struct{}),
		released:   make(chan struct{}),
	}
	go func() {
		r.markExited(cmd.Wait())
	}()
	return r
}

// newAdoptedRecord rebuilds a record for a tunnel process that outlived the
// program that created it. There is no exec.Cmd to wait on; the registry
// polls the PID and calls markExited when the process disappears.
func newAdoptedRecord(pid int, target Target, localPort, remotePort int, created time.Time) *Record {
	return &Record{
		ID:         pid,
		Target:     target,
		LocalPort:  localPort,
		RemotePort: remotePort,
		CreatedAt:  created,
		done:       make(chan struct{}),
		released:   make(chan struct{}),
	}
}

func (r *Record) markExited(err error) {
	r.exitOnce.Do(func() {
		r.exitErr = err
		close(r.done)
	})
}

func (r *Record) markReleased() {
	r.releaseOnce.Do(func() {
		close(r.released)
	})
}

// Exited reports whether the tunnel process is known to have terminated.
func (r *Record) Exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait returns a channel that is closed once the tunnel process exits.
func (r *Record) Wait() <-chan struct{} {
	return r.done
}

// exitError is only meaningful after the done channel is closed.
func (r *Record) exitError() error {
	return r.exitErr
}

func (r *Record) stderrTail() string {
	if r.stderr == nil {
		return ""
	}
	return r.stderr.String()
}

// Status computes the current tunnel state. Safe to call repeatedly and
// concurrently; it never mutates the record.
//
// Three stages, each short-circuiting: no process -> error, process gone ->
// stopped, process alive but port unreachable -> error, otherwise active.
func (r *Record) Status() Status {
	if r.ID <= 0 {
		return StatusError
	}
	if r.Exited() {
		return StatusStopped
	}
	alive, err := process.PidExists(int32(r.ID))
	if err != nil || !alive {
		return StatusStopped
	}

	addr := net.JoinHostPort("localhost", strconv.Itoa(r.LocalPort))
	conn, err := net.DialTimeout("tcp", addr, statusDialTimeout)
	if err != nil {
		return StatusError
	}
	conn.Close()
	return StatusActive
}

// Stop terminates the tunnel subprocess. Idempotent - an already exited
// process is a no-op. Sends SIGTERM to the process group first, polls up to
// 5s for exit, then escalates to SIGKILL when force is set.
//
// Uses Signal(0) polling instead of Wait() because tunnels run in their own
// session (Setsid) and adopted records have no exec.Cmd; the monitor
// goroutine owns Wait for spawned tunnels.
func (r *Record) Stop(force bool) error {
	if r.Exited() {
		return nil
	}
	if alive, err := process.PidExists(int32(r.ID)); err == nil && !alive {
		return nil
	}

	proc, err := os.FindProcess(r.ID)
	if err != nil {
		return fmt.Errorf("failed to find tunnel process %d: %w", r.ID, err)
	}

	// Signal the whole session so any helper children die with the tunnel.
	if err := syscall.Kill(-r.ID, syscall.SIGTERM); err != nil {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			if errors.Is(err, os.ErrProcessDone) {
				return nil
			}
			return fmt.Errorf("failed to signal tunnel process %d: %w", r.ID, err)
		}
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !force {
		return fmt.Errorf("tunnel process %d did not exit within %v", r.ID, stopTimeout)
	}

	syscall.Kill(-r.ID, syscall.SIGKILL)
	proc.Kill()

	time.Sleep(100 * time.Millisecond)
	if err := proc.Signal(syscall.Signal(0)); err == nil {
		return fmt.Errorf("tunnel process %d survived SIGKILL", r.ID)
	}
	return nil
}

// Info is the exported view of a record with its computed status, used for
// command output.
type Info struct {
	ID         int    `json:"id"`
	Project    string `json:"project"`
	Zone       string `json:"zone"`
	Instance   string `json:"instance"`
	LocalPort  int    `json:"local_port"`
	RemotePort int    `json:"remote_port"`
	Created    string `json:"created"`
	Status     Status `json:"status"`
}

func (r *Record) Info() Info {
	return Info{
		ID:         r.ID,
		Project:    r.Target.Project,
		Zone:       r.Target.Zone,
		Instance:   r.Target.Instance,
		LocalPort:  r.LocalPort,
		RemotePort: r.RemotePort,
		Created:    r.CreatedAt.Format(time.RFC3339),
		Status:     r.Status(),
	}
}
