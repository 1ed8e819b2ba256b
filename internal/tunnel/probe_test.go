package tunnel

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func testTarget() Target {
	return Target{Project: "p1", Zone: "z1", Instance: "vm1"}
}

func TestWaitReadyPortAccepting(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	rec := newAdoptedRecord(1234, testTarget(), port, 22, time.Now())

	start := time.Now()
	if err := waitReady(rec, 5*time.Second, 50*time.Millisecond); err != nil {
		t.Fatalf("waitReady failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("waitReady took %v for an already listening port", elapsed)
	}
}

func TestWaitReadyTimeout(t *testing.T) {
	// Allocate a port and release it so nothing is listening
	port, err := AllocatePort(0)
	if err != nil {
		t.Fatalf("AllocatePort failed: %v", err)
	}

	rec := newAdoptedRecord(1234, testTarget(), port, 22, time.Now())

	start := time.Now()
	err = waitReady(rec, 600*time.Millisecond, 100*time.Millisecond)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.LocalPort != port {
		t.Errorf("expected port %d in error, got %d", port, timeoutErr.LocalPort)
	}
	// Never blocks much past the overall timeout
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("waitReady took %v, timeout was 600ms", elapsed)
	}
}

func TestWaitReadyProcessExit(t *testing.T) {
	port, err := AllocatePort(0)
	if err != nil {
		t.Fatalf("AllocatePort failed: %v", err)
	}

	rec := newAdoptedRecord(1234, testTarget(), port, 22, time.Now())
	rec.stderr = newTailBuffer(8)
	rec.stderr.Append("ERROR: (gcloud.compute.start-iap-tunnel) permission denied")
	rec.markExited(fmt.Errorf("exit status 1"))

	err = waitReady(rec, 5*time.Second, 50*time.Millisecond)

	var startupErr *StartupError
	if !errors.As(err, &startupErr) {
		t.Fatalf("expected *StartupError, got %T: %v", err, err)
	}
	if !strings.Contains(startupErr.Error(), "permission denied") {
		t.Errorf("expected captured diagnostics in error, got %q", startupErr.Error())
	}
}
