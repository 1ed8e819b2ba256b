package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFile(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Executable != "gcloud" {
		t.Errorf("expected default executable gcloud, got %q", cfg.Executable)
	}
	if cfg.StateDir != filepath.Join(tmpDir, StateDirName) {
		t.Errorf("unexpected state dir: %q", cfg.StateDir)
	}
	if cfg.EventsDB != filepath.Join(tmpDir, EventsDBName) {
		t.Errorf("unexpected events db: %q", cfg.EventsDB)
	}
	if cfg.Defaults.RemotePort != 22 {
		t.Errorf("expected default remote port 22, got %d", cfg.Defaults.RemotePort)
	}
	if cfg.Defaults.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Defaults.Timeout)
	}
	if cfg.Defaults.ProbeInterval != 500*time.Millisecond {
		t.Errorf("expected default probe interval 500ms, got %v", cfg.Defaults.ProbeInterval)
	}
}

func TestLoadConfigFull(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
executable = "/opt/google-cloud-sdk/bin/gcloud"
state_dir  = "/var/lib/vmtunnel"
events_db  = "/var/lib/vmtunnel/events.db"

defaults {
  remote_port    = 3389
  timeout        = "45s"
  probe_interval = "250ms"
  show_window    = true
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Executable != "/opt/google-cloud-sdk/bin/gcloud" {
		t.Errorf("unexpected executable: %q", cfg.Executable)
	}
	if cfg.StateDir != "/var/lib/vmtunnel" {
		t.Errorf("unexpected state dir: %q", cfg.StateDir)
	}
	if cfg.Defaults.RemotePort != 3389 {
		t.Errorf("expected remote port 3389, got %d", cfg.Defaults.RemotePort)
	}
	if cfg.Defaults.Timeout != 45*time.Second {
		t.Errorf("expected timeout 45s, got %v", cfg.Defaults.Timeout)
	}
	if cfg.Defaults.ProbeInterval != 250*time.Millisecond {
		t.Errorf("expected probe interval 250ms, got %v", cfg.Defaults.ProbeInterval)
	}
	if !cfg.Defaults.ShowWindow {
		t.Error("expected show_window true")
	}
}

func TestLoadConfigPartialDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
defaults {
  remote_port = 8080
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadConfig(tmpDir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Defaults.RemotePort != 8080 {
		t.Errorf("expected remote port 8080, got %d", cfg.Defaults.RemotePort)
	}
	// Unset fields keep their defaults
	if cfg.Defaults.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Defaults.Timeout)
	}
	if cfg.Executable != "gcloud" {
		t.Errorf("expected default executable, got %q", cfg.Executable)
	}
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
defaults {
  timeout = "not-a-duration"
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadConfig(tmpDir); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/state", filepath.Join(home, "state")},
		{"~", home},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
