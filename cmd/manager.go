package cmd

import (
	"log/slog"

	"vmtunnel/internal/core"
	"vmtunnel/internal/db"
	"vmtunnel/internal/tunnel"
)

// newManager builds the tunnel manager from the loaded configuration. The
// returned cleanup closes the event journal; the journal being unavailable is
// a warning, never a reason to refuse tunnel operations.
func newManager() (*tunnel.Manager, func(), error) {
	cfg := core.Config

	var events *db.DB
	cleanup := func() {}
	if cfg.EventsDB != "" {
		var err error
		events, err = db.Open(cfg.EventsDB)
		if err != nil {
			slog.Warn("Event journal unavailable, continuing without it", "error", err)
			events = nil
		} else {
			cleanup = func() { events.Close() }
		}
	}

	manager, err := tunnel.NewManager(tunnel.Options{
		Executable:    cfg.Executable,
		StateDir:      cfg.StateDir,
		ProbeInterval: cfg.Defaults.ProbeInterval,
		Events:        events,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return manager, cleanup, nil
}
