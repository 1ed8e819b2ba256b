package tunnel

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLaunchTunnelUnresolvableExecutable(t *testing.T) {
	target := Target{Project: "p1", Zone: "z1", Instance: "vm1"}

	_, _, err := launchTunnel("definitely-not-a-real-binary-xyz", target, 10022, 22, false)
	if err == nil {
		t.Fatal("expected error for unresolvable executable")
	}

	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected *LaunchError, got %T: %v", err, err)
	}
	if launchErr.Executable != "definitely-not-a-real-binary-xyz" {
		t.Errorf("unexpected executable in error: %q", launchErr.Executable)
	}
}

func TestInterpreterArgs(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/opt/sdk/bin/gcloud", []string{"/opt/sdk/bin/gcloud"}},
		{"/opt/sdk/lib/gcloud.py", []string{"python3", "/opt/sdk/lib/gcloud.py"}},
		{"/opt/sdk/bin/gcloud.sh", []string{"/bin/sh", "/opt/sdk/bin/gcloud.sh"}},
		{"/opt/sdk/bin/gcloud.PY", []string{"python3", "/opt/sdk/bin/gcloud.PY"}},
		{"/opt/with space/gcloud", []string{"/opt/with space/gcloud"}},
	}

	for _, tt := range tests {
		got := interpreterArgs(tt.path)
		if len(got) != len(tt.want) {
			t.Errorf("interpreterArgs(%q) = %v, want %v", tt.path, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("interpreterArgs(%q) = %v, want %v", tt.path, got, tt.want)
				break
			}
		}
	}
}

func TestDrainStderrSurvivesOversizedLine(t *testing.T) {
	// A single line past the default 64KB scanner limit must not stop the
	// drain; lines after it still reach the tail buffer
	long := strings.Repeat("x", 128*1024)
	pipe := io.NopCloser(strings.NewReader(long + "\nconnection refused\n"))

	tail := newTailBuffer(8)
	drainStderr(pipe, tail, testTarget())

	if !strings.Contains(tail.String(), "connection refused") {
		t.Errorf("expected line after oversized one to be captured, tail has %d bytes", len(tail.String()))
	}
}

func TestTailBufferBounded(t *testing.T) {
	tail := newTailBuffer(3)
	for _, line := range []string{"one", "two", "three", "four"} {
		tail.Append(line)
	}

	got := tail.String()
	want := "two\nthree\nfour"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
