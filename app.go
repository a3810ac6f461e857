package main

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"Toyol/mcp"
	"Toyol/pkg/criteria"
	"Toyol/pkg/engine"
	"Toyol/pkg/gesture"
	"Toyol/pkg/journal"
	"Toyol/pkg/plugin"
	"Toyol/pkg/settings"
	"Toyol/pkg/types"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	journalRetention    = 30 * 24 * time.Hour
)

// AppConfig holds everything the App needs at startup
type AppConfig struct {
	Version string
	AdbPath string
	// Serial of the device to drive; empty picks the first online device
	Serial string
	// ConfigPath is the YAML/JSON filter configuration; empty uses the defaults
	ConfigPath string
	// JournalPath is the SQLite journal; empty disables journaling
	JournalPath  string
	PluginPaths  []string
	PollInterval time.Duration
	StartEnabled bool
	// MCP serves the control tools on stdio while running
	MCP     bool
	Timings engine.Timings
}

// clickerDevice is the device side of the App; *AdbDevice implements it
type clickerDevice interface {
	engine.Platform
	Serial() string
	Watch(ctx context.Context, interval time.Duration, n TreeNotifier) error
}

// App wires the automaton to a device, the configuration store, the floating
// control, the filter scripts and the journal.
type App struct {
	version string
	adbPath string
	cfg     AppConfig

	store   *settings.Store
	device  clickerDevice
	engine  *engine.Engine
	control *Control
	plugins *plugin.Manager
	journal *journal.Store
	watcher *ConfigWatcher

	closeOnce sync.Once
}

var _ mcp.ClickerApp = (*App)(nil)

// NewApp resolves adb, picks the device and builds the App
func NewApp(ctx context.Context, cfg AppConfig) (*App, error) {
	adbPath, err := ResolveAdbPath(cfg.AdbPath)
	if err != nil {
		return nil, err
	}
	cfg.AdbPath = adbPath

	devices, err := ListDevices(ctx, adbPath)
	if err != nil {
		return nil, err
	}
	serial, err := PickDevice(devices, cfg.Serial)
	if err != nil {
		return nil, err
	}

	device, err := NewAdbDevice(AdbDeviceConfig{AdbPath: adbPath, Serial: serial})
	if err != nil {
		return nil, err
	}
	return newApp(cfg, device)
}

func newApp(cfg AppConfig, device clickerDevice) (*App, error) {
	initial, err := loadInitialConfig(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.StartEnabled {
		initial.ServiceEnabled = true
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	a := &App{
		version: cfg.Version,
		adbPath: cfg.AdbPath,
		cfg:     cfg,
		device:  device,
		store:   settings.New(settings.Config{Initial: initial, Logger: ModuleLogger("settings")}),
		plugins: plugin.NewManager(plugin.Config{Logger: ModuleLogger("plugin")}),
	}

	if err := a.loadPlugins(cfg.PluginPaths); err != nil {
		return nil, err
	}
	if err := a.initJournal(); err != nil {
		return nil, err
	}

	recorders := engine.Recorders{engine.RecorderFunc(logEvent)}
	if a.journal != nil {
		recorders = append(recorders, &journalRecorder{store: a.journal, deviceID: device.Serial()})
	}

	a.engine, err = engine.New(engine.Options{
		Platform: device,
		Config:   a.store,
		Filter:   a.plugins,
		Recorder: recorders,
		Timings:  cfg.Timings,
		Logger:   ModuleLogger("engine"),
	})
	if err != nil {
		a.shutdownJournal()
		return nil, err
	}

	a.control = NewControl(a.store, gesture.DefaultOptions())
	if cfg.ConfigPath != "" {
		a.watcher = NewConfigWatcher(cfg.ConfigPath, a.store)
	}
	return a, nil
}

func loadInitialConfig(path string) (types.Configuration, error) {
	if path == "" {
		return types.DefaultConfiguration(), nil
	}
	cfg, err := settings.LoadFile(path)
	if errors.Is(err, settings.ErrNoConfigFile) {
		ConfigLog().Str("path", path).Msg("Configuration file not found, using defaults")
		return types.DefaultConfiguration(), nil
	}
	if err != nil {
		return types.Configuration{}, err
	}
	return cfg, nil
}

func (a *App) loadPlugins(paths []string) error {
	for _, path := range paths {
		p, err := a.plugins.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load filter %s: %w", path, err)
		}
		LogUserAction(ActionFilterLoad, map[string]interface{}{
			"id":   p.Metadata.ID,
			"name": p.Metadata.Name,
			"path": path,
		})
	}
	return nil
}

// ========================================
// Journal
// ========================================

func (a *App) initJournal() error {
	if a.cfg.JournalPath == "" {
		return nil
	}
	store, err := journal.Open(journal.Config{
		Path:   a.cfg.JournalPath,
		Logger: ModuleLogger("journal"),
	})
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	a.journal = store

	if n, err := store.CleanupOldSessions(journalRetention); err != nil {
		LogWarn("journal").Err(err).Msg("Session cleanup failed")
	} else if n > 0 {
		LogInfo("journal").Int("sessions", n).Msg("Removed old sessions")
	}
	LogInfo("journal").Str("path", a.cfg.JournalPath).Msg("Journal opened")
	return nil
}

func (a *App) shutdownJournal() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		LogError("journal").Err(err).Msg("Failed to close journal")
	}
}

// journalRecorder writes engine events to the journal. Sessions are created
// before their first event and closed with the stop reason.
type journalRecorder struct {
	store    *journal.Store
	deviceID string
}

func (r *journalRecorder) Record(ev engine.Event) {
	switch ev.Kind {
	case engine.EventSessionStarted:
		if err := r.store.StartSession(ev.SessionID, r.deviceID, ev.Time); err != nil {
			LogWarn("journal").Err(err).Str("session", ev.SessionID).Msg("Failed to start session")
		}
	case engine.EventSessionStopped:
		if err := r.store.EndSession(ev.SessionID, ev.Detail, ev.Time); err != nil {
			LogWarn("journal").Err(err).Str("session", ev.SessionID).Msg("Failed to end session")
		}
	default:
		if ev.SessionID == "" {
			return
		}
		r.store.WriteEvent(journal.Entry{
			SessionID: ev.SessionID,
			Timestamp: ev.Time.UnixMilli(),
			Kind:      string(ev.Kind),
			Text:      ev.Text,
			Detail:    ev.Detail,
		})
	}
}

func logEvent(ev engine.Event) {
	event := LogDebug("engine")
	switch ev.Kind {
	case engine.EventSessionStarted, engine.EventSessionStopped, engine.EventJobClicked,
		engine.EventBookingConfirmed, engine.EventRecoveryTimeout:
		event = LogInfo("engine")
	}
	event.Str("kind", string(ev.Kind)).
		Str("session", ev.SessionID).
		Str("text", ev.Text).
		Str("detail", ev.Detail).
		Msg("Engine event")
}

// ========================================
// Lifecycle
// ========================================

// Run drives the device until ctx is cancelled or a component fails
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	LogAppState(StateStarting, map[string]interface{}{
		"version": a.version,
		"device":  a.device.Serial(),
		"enabled": a.store.Enabled(),
	})

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			ConfigLog().Err(err).Msg("Config watcher not started")
		}
	}

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	start := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					LogPanic(name, r, string(debug.Stack()))
					errCh <- fmt.Errorf("%s panicked: %v", name, r)
				}
			}()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, engine.ErrStopped) {
				errCh <- fmt.Errorf("%s: %w", name, err)
				return
			}
			errCh <- nil
		}()
	}

	start("engine", a.engine.Run)
	start("device", func(ctx context.Context) error {
		return a.device.Watch(ctx, a.cfg.PollInterval, a.engine)
	})
	if a.cfg.MCP {
		server := mcp.NewMCPServer(a)
		start("mcp", server.Start)
	}

	LogAppState(StateReady, nil)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	LogAppState(StateShuttingDown, nil)
	cancel()
	wg.Wait()
	a.Close()
	LogAppState(StateStopped, nil)
	return runErr
}

// Close discards control touches, stops the watcher and closes the journal
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.control.Close()
		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.shutdownJournal()
	})
}

// ========================================
// ClickerApp
// ========================================

func (a *App) GetAppVersion() string {
	return a.version
}

func (a *App) GetStatus(ctx context.Context) (mcp.ClickerStatus, error) {
	status, err := a.engine.Status(ctx)
	if err != nil && !errors.Is(err, engine.ErrStopped) {
		return mcp.ClickerStatus{}, err
	}
	return mcp.ClickerStatus{
		Version:       a.version,
		Device:        a.device.Serial(),
		Enabled:       a.store.Enabled(),
		ConfigVersion: a.store.Version(),
		Engine:        status,
		Control:       a.control.State(),
		Filters:       a.plugins.List(),
	}, nil
}

func (a *App) SetServiceEnabled(enabled bool) {
	a.store.SetEnabled(enabled)
	LogUserAction(ActionServiceEnable, map[string]interface{}{"enabled": enabled})
}

func (a *App) GetDevices(ctx context.Context) ([]types.Device, error) {
	if a.adbPath == "" {
		return nil, fmt.Errorf("adb is not configured")
	}
	return ListDevices(ctx, a.adbPath)
}

func (a *App) GetConfig() types.Configuration {
	return a.store.Snapshot()
}

func (a *App) UpdateConfig(fn func(cfg *types.Configuration) error) (types.Configuration, error) {
	next := a.store.Snapshot()
	if err := fn(&next); err != nil {
		return types.Configuration{}, err
	}
	if err := next.Validate(); err != nil {
		return types.Configuration{}, err
	}
	version := a.store.ReplaceFilters(next)
	LogUserAction(ActionConfigUpdate, map[string]interface{}{"version": version})
	return a.store.Snapshot(), nil
}

// MatchText evaluates text against the current configuration and the loaded filters
func (a *App) MatchText(ctx context.Context, text string) mcp.MatchResult {
	return evaluateText(ctx, a.store.Snapshot(), a.plugins, text)
}

// evaluateText runs the built-in rules and, when they accept, every enabled
// filter script. A single rejecting filter rejects the job.
func evaluateText(ctx context.Context, cfg types.Configuration, plugins *plugin.Manager, text string) mcp.MatchResult {
	res := mcp.MatchResult{
		Text:     text,
		Decision: criteria.Evaluate(text, cfg),
		Job:      criteria.Parse(text, cfg),
	}
	res.Accepted = res.Decision.Accepted
	if !res.Accepted || plugins == nil {
		return res
	}
	res.Verdicts = plugins.Evaluate(ctx, res.Job)
	for _, v := range res.Verdicts {
		if !v.Accepted {
			res.Accepted = false
		}
	}
	return res
}

func (a *App) TouchControl(events []gesture.Event) (types.ControlState, error) {
	for _, ev := range events {
		a.control.Touch(ev)
	}
	return a.control.State(), nil
}

func (a *App) ShowControl() types.ControlState {
	a.control.Show()
	LogUserAction(ActionControlShow, nil)
	return a.control.State()
}

func (a *App) RecentEvents(sessionID string, limit int) ([]journal.Entry, error) {
	if a.journal == nil {
		return nil, fmt.Errorf("journal is disabled")
	}
	if sessionID != "" {
		return a.journal.SessionEvents(sessionID, limit)
	}
	return a.journal.Recent(limit)
}

func (a *App) ListSessions(limit int) ([]journal.Session, error) {
	if a.journal == nil {
		return nil, fmt.Errorf("journal is disabled")
	}
	return a.journal.ListSessions(limit)
}

func (a *App) SessionKindCounts(sessionID string) (map[string]int, error) {
	if a.journal == nil {
		return nil, fmt.Errorf("journal is disabled")
	}
	return a.journal.KindCounts(sessionID)
}

// RecentLogs needs file logging; console-only runs have nothing to read back
func (a *App) RecentLogs(lines int) (mcp.LogTail, error) {
	path := GetLogFilePath()
	if path == "" {
		return mcp.LogTail{}, fmt.Errorf("file logging is disabled (start with --log-dir)")
	}
	files, err := ListLogFiles()
	if err != nil {
		return mcp.LogTail{}, err
	}
	tail, err := ReadRecentLogs(lines)
	if err != nil {
		return mcp.LogTail{}, err
	}
	return mcp.LogTail{Path: path, Files: files, Lines: tail}, nil
}
