package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kgrahem/lanscout/bridge"
	"github.com/kgrahem/lanscout/config"
	"github.com/kgrahem/lanscout/engine"
	"github.com/kgrahem/lanscout/internal"
	"github.com/kgrahem/lanscout/session"
	"github.com/kgrahem/lanscout/version"
)

const pollInterval = 250 * time.Millisecond

// MARK: newApplication
// Creates and configures a new application instance
func newApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := internal.NewLogger(cfg.Log.Level)

	return &Application{
		config: cfg,
		logger: logger,
	}, nil
}

// MARK: start
// Starts the engine, registers configured services, and begins browsing
func (app *Application) start(ctx context.Context) error {
	app.logger.Info("Starting lanscout", "version", version.Version)

	eng, err := engine.New(app.config.EngineConfig(), app.logger)
	if err != nil {
		return fmt.Errorf("starting mDNS engine: %w", err)
	}
	app.engine = eng

	if err := app.advertiseServices(); err != nil {
		return err
	}
	if err := app.startBrowsers(); err != nil {
		return err
	}

	app.waitGroup.Add(1)
	go app.pollLoop(ctx)

	return nil
}

// MARK: advertiseServices
// Registers each configured service under its own session owner
func (app *Application) advertiseServices() error {
	for _, svc := range app.config.Services {
		manager := session.NewManagerWithEngine(app.engine, app.logger)
		handle, err := manager.Advertise(svc.Name, svc.Type, svc.Port, svc.Txt)
		if err != nil {
			return fmt.Errorf("advertising %q: %w", svc.Name, err)
		}
		app.adverts = append(app.adverts, &advert{manager: manager, handle: handle})
		app.logger.Info("Advertising service",
			"full_name", manager.RegisteredFullName(handle),
			"port", svc.Port)
	}
	return nil
}

// MARK: startBrowsers
// Starts one browse session per configured service type
func (app *Application) startBrowsers() error {
	for _, serviceType := range app.config.Browse {
		manager := session.NewManagerWithEngine(app.engine, app.logger)
		handle, err := manager.StartBrowse(serviceType)
		if err != nil {
			return fmt.Errorf("browsing %q: %w", serviceType, err)
		}
		app.browsers = append(app.browsers, &browser{manager: manager, handle: handle})
	}
	return nil
}

// MARK: pollLoop
// Drains every browse session once per tick, mirroring a host that polls the
// bridge from its frame loop
func (app *Application) pollLoop(ctx context.Context) {
	defer app.waitGroup.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.pollBrowsers()
		}
	}
}

// MARK: pollBrowsers
func (app *Application) pollBrowsers() {
	for _, b := range app.browsers {
		events, err := b.manager.PollBrowse(b.handle)
		if err != nil {
			app.logger.Warn("Browse backlog overflowed, restarting browse",
				"service_type", b.handle.ServiceType())
			if handle, restartErr := b.manager.StartBrowse(b.handle.ServiceType()); restartErr == nil {
				b.handle = handle
			}
		}
		for _, ev := range events {
			app.logEvent(ev)
		}
	}
}

// MARK: logEvent
func (app *Application) logEvent(ev bridge.Event) {
	switch ev.Kind {
	case bridge.Discovered:
		app.logger.Info("Service discovered",
			"instance", ev.Service.Instance,
			"host", ev.Service.Hostname,
			"addresses", addressStrings(ev.Service),
			"port", ev.Service.Port,
			"txt", ev.Service.Txt.String())
	case bridge.Updated:
		app.logger.Info("Service updated",
			"instance", ev.Service.Instance,
			"txt", ev.Service.Txt.String())
	case bridge.Removed:
		app.logger.Info("Service removed", "instance", ev.Service.Instance)
	}
}

// MARK: addressStrings
func addressStrings(svc bridge.Service) []string {
	out := make([]string, len(svc.Addresses))
	for i, addr := range svc.Addresses {
		out[i] = addr.String()
	}
	return out
}

// MARK: stop
// Tears down sessions and the engine; idempotent by way of the session layer
func (app *Application) stop() error {
	for _, b := range app.browsers {
		b.manager.StopBrowse(b.handle)
	}
	for _, a := range app.adverts {
		a.manager.Unadvertise(a.handle)
	}

	if app.engine != nil {
		if err := app.engine.Close(); err != nil {
			app.logger.Error("Engine shutdown incomplete", "error", err)
			app.dumpRecentLogs()
			return err
		}
	}

	app.logger.Info("lanscout stopped")
	return nil
}

// MARK: dumpRecentLogs
// Writes the logger's in-memory ring to stderr for post-mortem inspection
// when shutdown did not complete cleanly
func (app *Application) dumpRecentLogs() {
	entries := app.logger.GetLogs("")
	fmt.Fprintf(os.Stderr, "--- last %d log entries ---\n", len(entries))
	for _, entry := range entries {
		if entry.Context != nil {
			fmt.Fprintf(os.Stderr, "%s %s %s %v\n", entry.Timestamp, entry.Level, entry.Message, entry.Context)
			continue
		}
		fmt.Fprintf(os.Stderr, "%s %s %s\n", entry.Timestamp, entry.Level, entry.Message)
	}
}
