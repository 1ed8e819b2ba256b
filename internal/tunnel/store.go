package tunnel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// recordFile is the on-disk schema: one JSON file per tunnel, named by id.
// Field names match the historical format, so unknown fields from newer or
// older writers are tolerated and missing fields fall back to zero values.
type recordFile struct {
	ID           int    `json:"id"`
	InstanceName string `json:"InstanceName"`
	Project      string `json:"Project"`
	Zone         string `json:"Zone"`
	LocalPort    int    `json:"LocalPort"`
	RemotePort   int    `json:"RemotePort"`
	ProcessID    int    `json:"ProcessId"`
	Created      string `json:"Created"`
}

// Store is the durable registry of tunnel records. It is not authoritative
// for liveness - that is always re-derived from the OS process table when
// records are loaded. There is no cross-process locking: only the owning
// process writes a given id's file while it lives, and later processes only
// delete files they can prove (via PID lookup) belong to dead tunnels.
type Store struct {
	dir string
}

// NewStore opens the registry directory, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tunnel state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the registry directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.json", id))
}

// Save writes the record's snapshot atomically (temp file + rename). Callers
// treat failure as a warning: an unpersisted tunnel still works for its
// current lifetime, it just won't survive a restart.
func (s *Store) Save(rec *Record) error {
	rf := recordFile{
		ID:           rec.ID,
		InstanceName: rec.Target.Instance,
		Project:      rec.Target.Project,
		Zone:         rec.Target.Zone,
		LocalPort:    rec.LocalPort,
		RemotePort:   rec.RemotePort,
		ProcessID:    rec.ID,
		Created:      rec.CreatedAt.Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tunnel record: %w", err)
	}

	path := s.path(rec.ID)
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write tunnel record temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename tunnel record file: %w", err)
	}

	return nil
}

// Remove deletes the persisted file for id. A missing file is not an error.
func (s *Store) Remove(id int) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove tunnel record file: %w", err)
	}
	return nil
}

// LoadAll enumerates every persisted record and rebuilds records for tunnels
// whose process is still alive. Stale files (dead PID) and unparseable or
// invalid files are deleted on the spot - they cannot be trusted and nobody
// else will clean them up.
func (s *Store) LoadAll() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tunnel state directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Failed to read tunnel record file", "path", path, "error", err)
			continue
		}

		var rf recordFile
		if err := json.Unmarshal(data, &rf); err != nil {
			slog.Warn("Discarding unparseable tunnel record file", "path", path, "error", err)
			os.Remove(path)
			continue
		}
		if !rf.valid() {
			slog.Warn("Discarding invalid tunnel record file", "path", path)
			os.Remove(path)
			continue
		}

		alive, err := process.PidExists(int32(rf.ProcessID))
		if err != nil || !alive {
			slog.Debug("Pruning stale tunnel record, process no longer exists",
				"path", path,
				"pid", rf.ProcessID)
			os.Remove(path)
			continue
		}

		created, err := time.Parse(time.RFC3339, rf.Created)
		if err != nil {
			created = time.Time{}
		}

		target := Target{
			Project:  rf.Project,
			Zone:     rf.Zone,
			Instance: rf.InstanceName,
		}
		records = append(records, newAdoptedRecord(rf.ProcessID, target, rf.LocalPort, rf.RemotePort, created))
	}

	return records, nil
}

func (rf recordFile) valid() bool {
	if rf.ProcessID <= 0 {
		return false
	}
	if rf.LocalPort < 1 || rf.LocalPort > 65535 {
		return false
	}
	if rf.RemotePort < 1 || rf.RemotePort > 65535 {
		return false
	}
	return rf.InstanceName != ""
}
