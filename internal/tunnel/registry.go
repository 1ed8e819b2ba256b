package tunnel

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"vmtunnel/internal/db"
)

const defaultWatchInterval = 5 * time.Second

// Options configures a Manager.
type Options struct {
	// Executable is the tunneling command, resolved through PATH. Usually
	// "gcloud".
	Executable string
	// StateDir holds one persisted record file per tunnel.
	StateDir string
	// ProbeInterval overrides the readiness poll cadence. Zero means 500ms.
	ProbeInterval time.Duration
	// Events receives best-effort lifecycle events. May be nil.
	Events *db.DB
}

// Manager owns the authoritative runtime map of tunnels and keeps it
// synchronized against the persisted registry and the OS process table.
// Construct one per process and pass it around explicitly; there is no
// ambient global instance.
type Manager struct {
	mu      sync.Mutex
	tunnels map[int]*Record

	store         *Store
	executable    string
	probeInterval time.Duration
	watchInterval time.Duration
	events        *db.DB
}

// NewManager creates a manager backed by the given state directory.
func NewManager(opts Options) (*Manager, error) {
	if opts.Executable == "" {
		opts.Executable = "gcloud"
	}
	store, err := NewStore(opts.StateDir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		tunnels:       make(map[int]*Record),
		store:         store,
		executable:    opts.Executable,
		probeInterval: opts.ProbeInterval,
		watchInterval: defaultWatchInterval,
		events:        opts.Events,
	}, nil
}

// CreateOptions are the parameters for opening a new tunnel.
type CreateOptions struct {
	Target     Target
	LocalPort  int           // 0 picks a free ephemeral port
	RemotePort int           // 0 defaults to 22
	Timeout    time.Duration // 0 defaults to DefaultReadyTimeout
	ShowWindow bool          // run with a visible console, no stderr capture
}

// Create opens a forwarding tunnel to the target and returns its record once
// the local port carries traffic. If an Active tunnel to the same target
// already exists it is returned unchanged instead of spawning a duplicate.
//
// Persistence happens strictly after readiness: a tunnel is never advertised
// as durable before it can carry traffic. On any failure the spawned
// subprocess is killed best-effort and a typed error is returned; no record
// or file is left behind.
func (m *Manager) Create(opts CreateOptions) (*Record, error) {
	if opts.Target.Project == "" || opts.Target.Zone == "" || opts.Target.Instance == "" {
		return nil, fmt.Errorf("tunnel target requires project, zone and instance")
	}
	if opts.RemotePort == 0 {
		opts.RemotePort = 22
	}

	// Reuse: an Active tunnel to the same target makes a second subprocess
	// redundant.
	existing := m.List(Filter{
		Project:  opts.Target.Project,
		Zone:     opts.Target.Zone,
		Instance: opts.Target.Instance,
	})
	for _, rec := range existing {
		if rec.Status() == StatusActive {
			slog.Info("Reusing active tunnel",
				"target", opts.Target.String(),
				"pid", rec.ID,
				"local_port", rec.LocalPort)
			return rec, nil
		}
	}

	localPort, err := AllocatePort(opts.LocalPort)
	if err != nil {
		return nil, err
	}

	cmd, tail, err := launchTunnel(m.executable, opts.Target, localPort, opts.RemotePort, opts.ShowWindow)
	if err != nil {
		return nil, err
	}

	rec := newRecord(cmd, opts.Target, localPort, opts.RemotePort, tail)

	if err := waitReady(rec, opts.Timeout, m.probeInterval); err != nil {
		m.logEvent(opts.Target, "startup_failed", err.Error())
		if stopErr := rec.Stop(true); stopErr != nil {
			slog.Warn("Failed to kill tunnel process after startup failure",
				"pid", rec.ID,
				"error", stopErr)
		}
		return nil, err
	}

	if err := m.store.Save(rec); err != nil {
		slog.Warn("Failed to persist tunnel record, tunnel will not survive a restart",
			"pid", rec.ID,
			"error", err)
	}

	m.mu.Lock()
	m.tunnels[rec.ID] = rec
	m.mu.Unlock()

	go m.reapOnExit(rec)

	slog.Info("Tunnel ready",
		"target", opts.Target.String(),
		"pid", rec.ID,
		"local_port", rec.LocalPort,
		"remote_port", rec.RemotePort)
	m.logEvent(opts.Target, "created",
		fmt.Sprintf("PID: %d, localhost:%d -> :%d", rec.ID, rec.LocalPort, rec.RemotePort))

	return rec, nil
}

// Filter selects tunnels by identity, target fields, or computed status.
// Zero values match everything.
type Filter struct {
	ID       int
	Project  string
	Zone     string
	Instance string
	Status   Status
}

func (f Filter) matches(rec *Record) bool {
	if f.ID != 0 && rec.ID != f.ID {
		return false
	}
	if f.Project != "" && rec.Target.Project != f.Project {
		return false
	}
	if f.Zone != "" && rec.Target.Zone != f.Zone {
		return false
	}
	if f.Instance != "" && rec.Target.Instance != f.Instance {
		return false
	}
	return true
}

// List reconciles against the persisted registry and the process table, then
// returns the tunnels matching the filter sorted by id. Status filtering
// needs a per-record liveness probe, so the cheap field filters run first.
func (m *Manager) List(f Filter) []*Record {
	m.reconcile()

	m.mu.Lock()
	candidates := make([]*Record, 0, len(m.tunnels))
	for _, rec := range m.tunnels {
		if f.matches(rec) {
			candidates = append(candidates, rec)
		}
	}
	m.mu.Unlock()

	if f.Status != "" {
		filtered := candidates[:0]
		for _, rec := range candidates {
			if rec.Status() == f.Status {
				filtered = append(filtered, rec)
			}
		}
		candidates = filtered
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates
}

// reconcile merges the persisted registry into memory, then prunes in-memory
// entries that lost their persisted file. Merge-then-prune is deliberate:
// recoverable tunnels reappear first, and the durable state remains the
// source of truth for what should exist.
func (m *Manager) reconcile() {
	persisted, err := m.store.LoadAll()
	if err != nil {
		slog.Warn("Failed to load persisted tunnel records", "error", err)
		return
	}

	persistedIDs := make(map[int]bool, len(persisted))

	m.mu.Lock()
	for _, rec := range persisted {
		persistedIDs[rec.ID] = true
		if _, exists := m.tunnels[rec.ID]; exists {
			continue
		}
		m.tunnels[rec.ID] = rec
		slog.Debug("Recovered persisted tunnel",
			"pid", rec.ID,
			"target", rec.Target.String())
		go m.pollProcess(rec)
		go m.reapOnExit(rec)
	}
	for id, rec := range m.tunnels {
		if !persistedIDs[id] {
			slog.Debug("Pruning tunnel without persisted record", "pid", id)
			rec.markReleased()
			delete(m.tunnels, id)
		}
	}
	m.mu.Unlock()
}

// pollProcess watches an adopted tunnel by polling the process table, since
// there is no exec.Cmd to wait on. Marks the record exited when the PID
// disappears, and stops as soon as the registry releases the record so a
// pruned entry doesn't keep a poller alive for the process's lifetime.
func (m *Manager) pollProcess(rec *Record) {
	ticker := time.NewTicker(m.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rec.released:
			return
		case <-rec.Wait():
			return
		case <-ticker.C:
			alive, err := process.PidExists(int32(rec.ID))
			if err == nil && !alive {
				rec.markExited(nil)
				return
			}
		}
	}
}

// reapOnExit blocks until the tunnel process terminates, then deletes the
// persisted file and the in-memory entry. Runs once per record and is safe
// to fire long after the call that created the record has returned. A
// released record is abandoned without cleanup - its file may already belong
// to a successor record for the same id.
func (m *Manager) reapOnExit(rec *Record) {
	select {
	case <-rec.released:
		return
	case <-rec.Wait():
	}

	slog.Debug("Tunnel process exited, cleaning up",
		"pid", rec.ID,
		"target", rec.Target.String())

	if err := m.store.Remove(rec.ID); err != nil {
		slog.Warn("Failed to remove persisted record for exited tunnel",
			"pid", rec.ID,
			"error", err)
	}

	m.mu.Lock()
	if current, exists := m.tunnels[rec.ID]; exists && current == rec {
		delete(m.tunnels, rec.ID)
	}
	m.mu.Unlock()

	m.logEvent(rec.Target, "exited", fmt.Sprintf("PID: %d", rec.ID))
}

// Selector identifies the tunnels a Remove call should tear down. All takes
// precedence over the other fields.
type Selector struct {
	ID       int
	Project  string
	Zone     string
	Instance string
	All      bool
}

func (s Selector) empty() bool {
	return !s.All && s.ID == 0 && s.Project == "" && s.Zone == "" && s.Instance == ""
}

// Remove tears down every tunnel matching the selector: stop the subprocess,
// delete the persisted file, drop the in-memory entry. Each record's removal
// is independent - a failure on one never aborts the others - and all errors
// are collected per record. Termination failures still proceed to registry
// cleanup; a tunnel we cannot confirm dead must not keep its record alive.
func (m *Manager) Remove(sel Selector) []error {
	if sel.empty() {
		return []error{fmt.Errorf("empty selector: pass an id, target filters, or all")}
	}

	filter := Filter{}
	if !sel.All {
		filter = Filter{ID: sel.ID, Project: sel.Project, Zone: sel.Zone, Instance: sel.Instance}
	}
	records := m.List(filter)

	var errs []error
	for _, rec := range records {
		if err := rec.Stop(true); err != nil {
			slog.Warn("Could not confirm tunnel process terminated",
				"pid", rec.ID,
				"error", err)
			errs = append(errs, fmt.Errorf("tunnel %d: %w", rec.ID, err))
		}

		if err := m.store.Remove(rec.ID); err != nil {
			errs = append(errs, fmt.Errorf("tunnel %d: %w", rec.ID, err))
		}

		m.mu.Lock()
		delete(m.tunnels, rec.ID)
		m.mu.Unlock()
		rec.markReleased()

		slog.Info("Removed tunnel",
			"pid", rec.ID,
			"target", rec.Target.String())
		m.logEvent(rec.Target, "removed", fmt.Sprintf("PID: %d", rec.ID))
	}

	return errs
}

// logEvent records a lifecycle event in the journal if one is configured.
// Journal failures are logged, never propagated.
func (m *Manager) logEvent(target Target, eventType, details string) {
	if m.events == nil {
		return
	}
	if err := m.events.LogTunnelEvent(target.Instance, eventType, details); err != nil {
		slog.Error("Failed to log tunnel event", "error", err)
	}
}
