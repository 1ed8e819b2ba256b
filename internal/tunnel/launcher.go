package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// tailBuffer keeps the last maxLines lines of subprocess diagnostics for
// error reporting. Bounded so a chatty tunnel can't grow memory forever.
type tailBuffer struct {
	mu       sync.Mutex
	lines    []string
	maxLines int
}

func newTailBuffer(maxLines int) *tailBuffer {
	if maxLines <= 0 {
		maxLines = 64
	}
	return &tailBuffer{maxLines: maxLines}
}

func (b *tailBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= b.maxLines {
		b.lines = b.lines[1:]
	}
	b.lines = append(b.lines, line)
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

// interpreterArgs returns the argv prefix for the resolved executable.
// gcloud installs commonly resolve to a Python entrypoint or a shell wrapper
// rather than a native binary; invoking those through their interpreter keeps
// the launch from silently spawning the wrong process. Arguments are passed
// as an argv vector, never through a shell, so embedded spaces and quotes in
// paths survive as-is.
func interpreterArgs(path string) []string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return []string{"python3", path}
	case ".sh", ".bash":
		return []string{"/bin/sh", path}
	default:
		return []string{path}
	}
}

// launchTunnel resolves the tunneling executable and starts the forwarding
// subprocess for target. With showWindow false only stderr is captured -
// stdin/stdout are left alone to avoid buffer-full deadlocks - and the tail
// buffer holding recent diagnostics is returned alongside the command. With
// showWindow true the subprocess shares the caller's terminal for interactive
// debugging and nothing is captured.
func launchTunnel(executable string, target Target, localPort, remotePort int, showWindow bool) (*exec.Cmd, *tailBuffer, error) {
	resolved, err := exec.LookPath(executable)
	if err != nil {
		return nil, nil, &LaunchError{Executable: executable, Err: err}
	}

	argv := interpreterArgs(resolved)
	args := append(argv[1:],
		"compute", "start-iap-tunnel",
		target.Instance,
		strconv.Itoa(remotePort),
		"--local-host-port", fmt.Sprintf("localhost:%d", localPort),
		"--zone", target.Zone,
		"--project", target.Project,
	)

	cmd := exec.Command(argv[0], args...)
	cmd.Env = os.Environ()

	// Run the tunnel in its own session so it survives this process and can
	// be signalled as a group on teardown.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	var tail *tailBuffer
	var stderrPipe io.ReadCloser
	if showWindow {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		stderrPipe, err = cmd.StderrPipe()
		if err != nil {
			return nil, nil, &LaunchError{Executable: executable, Err: err}
		}
		tail = newTailBuffer(64)
	}

	slog.Debug("Starting tunnel process",
		"executable", resolved,
		"target", target.String(),
		"local_port", localPort,
		"remote_port", remotePort)

	if err := cmd.Start(); err != nil {
		return nil, nil, &LaunchError{Executable: executable, Err: err}
	}

	if stderrPipe != nil {
		go drainStderr(stderrPipe, tail, target)
	}

	return cmd, tail, nil
}

// drainStderr reads subprocess diagnostics until the pipe closes. Reading
// must continue for the life of the process: if nobody drains stderr the pipe
// buffer fills up (~64KB) and the tunnel process blocks on write(), freezing
// all forwarded connections.
func drainStderr(pipe io.ReadCloser, tail *tailBuffer, target Target) {
	scanner := bufio.NewScanner(pipe)
	// The default 64KB token limit would stop the scanner permanently on one
	// oversized diagnostic line, leaving the pipe undrained.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Append(line)
		slog.Debug(fmt.Sprintf("[%s] tunnel: %s", target.Instance, line))
	}
	if err := scanner.Err(); err != nil {
		slog.Debug(fmt.Sprintf("[%s] error reading tunnel output: %v", target.Instance, err))
	}
}
