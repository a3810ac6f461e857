package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// ========================================
// Structured Logger
// ========================================

// Logger is the process-wide logger
var Logger zerolog.Logger

var persistentLogger *PersistentLogger

// LogLevel selects the minimum level written
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// LogConfig controls where logs go and how files are rotated
type LogConfig struct {
	Level      LogLevel
	Console    bool   // human-readable output on stderr
	File       bool   // JSON lines in FilePath
	FilePath   string // e.g. <dir>/toyol.log
	MaxSizeMB  int    // rotate once the file would exceed this size
	MaxAgeDays int    // remove rotated files older than this
	MaxBackups int    // keep at most this many rotated files
	Compress   bool   // gzip rotated files
	TimeFormat string
}

// DefaultLogConfig logs to the console only
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      LogLevelInfo,
		Console:    true,
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		MaxBackups: 5,
		Compress:   true,
		TimeFormat: time.RFC3339,
	}
}

// PersistentLogConfig logs to the console and to <logDir>/toyol.log
func PersistentLogConfig(logDir string) LogConfig {
	cfg := DefaultLogConfig()
	cfg.File = true
	cfg.FilePath = filepath.Join(logDir, "toyol.log")
	return cfg
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ========================================
// PersistentLogger
// ========================================

// PersistentLogger is an io.Writer that rotates, compresses and prunes its files
type PersistentLogger struct {
	mu          sync.Mutex
	config      LogConfig
	currentFile *os.File
	currentSize int64
	maxBytes    int64
	logDir      string
	prefix      string

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewPersistentLogger opens config.FilePath for appending
func NewPersistentLogger(config LogConfig) (*PersistentLogger, error) {
	logDir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	base := filepath.Base(config.FilePath)
	pl := &PersistentLogger{
		config:   config,
		maxBytes: int64(config.MaxSizeMB) * 1024 * 1024,
		logDir:   logDir,
		prefix:   strings.TrimSuffix(base, filepath.Ext(base)),
		stopChan: make(chan struct{}),
	}

	if err := pl.openFile(); err != nil {
		return nil, err
	}

	go pl.cleanupRoutine()

	return pl, nil
}

// Write implements io.Writer
func (pl *PersistentLogger) Write(p []byte) (n int, err error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.currentFile == nil {
		return 0, os.ErrClosed
	}
	if pl.maxBytes > 0 && pl.currentSize > 0 && pl.currentSize+int64(len(p)) > pl.maxBytes {
		if err := pl.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = pl.currentFile.Write(p)
	pl.currentSize += int64(n)
	return n, err
}

func (pl *PersistentLogger) openFile() error {
	file, err := os.OpenFile(pl.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	pl.currentFile = file
	pl.currentSize = info.Size()
	return nil
}

func (pl *PersistentLogger) rotate() error {
	if pl.currentFile != nil {
		pl.currentFile.Close()
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05.000")
	rotatedPath := filepath.Join(pl.logDir, fmt.Sprintf("%s_%s.log", pl.prefix, timestamp))

	if err := os.Rename(pl.config.FilePath, rotatedPath); err != nil {
		return pl.openFile()
	}

	if pl.config.Compress {
		go compressFile(rotatedPath)
	}

	return pl.openFile()
}

func compressFile(filePath string) {
	src, err := os.Open(filePath)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(filePath + ".gz")
	if err != nil {
		return
	}

	gz := gzip.NewWriter(dst)
	_, copyErr := io.Copy(gz, src)
	closeErr := gz.Close()
	dst.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(filePath + ".gz")
		return
	}

	os.Remove(filePath)
}

func (pl *PersistentLogger) cleanupRoutine() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	pl.cleanup()

	for {
		select {
		case <-ticker.C:
			pl.cleanup()
		case <-pl.stopChan:
			return
		}
	}
}

// rotatedFiles returns the rotated files, newest first
func (pl *PersistentLogger) rotatedFiles() []string {
	files, err := filepath.Glob(filepath.Join(pl.logDir, pl.prefix+"_*.log*"))
	if err != nil {
		return nil
	}
	return sortByModTime(files)
}

func (pl *PersistentLogger) cleanup() {
	now := time.Now()
	for i, path := range pl.rotatedFiles() {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if pl.config.MaxAgeDays > 0 && now.Sub(info.ModTime()) > time.Duration(pl.config.MaxAgeDays)*24*time.Hour {
			os.Remove(path)
			continue
		}
		if pl.config.MaxBackups > 0 && i >= pl.config.MaxBackups {
			os.Remove(path)
		}
	}
}

// Close stops the cleanup routine and closes the current file
func (pl *PersistentLogger) Close() error {
	pl.stopOnce.Do(func() { close(pl.stopChan) })

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.currentFile == nil {
		return nil
	}
	err := pl.currentFile.Close()
	pl.currentFile = nil
	return err
}

func sortByModTime(files []string) []string {
	type fileWithTime struct {
		path    string
		modTime time.Time
	}
	var withTime []fileWithTime
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		withTime = append(withTime, fileWithTime{path: f, modTime: info.ModTime()})
	}
	sort.Slice(withTime, func(i, j int) bool {
		return withTime[i].modTime.After(withTime[j].modTime)
	})

	out := make([]string, len(withTime))
	for i, f := range withTime {
		out[i] = f.path
	}
	return out
}

// ========================================
// Initialization
// ========================================

// InitLogger replaces the global Logger. Console output goes to stderr so
// stdout stays free for the MCP stdio transport.
func InitLogger(config LogConfig) error {
	var writers []io.Writer

	if config.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	if config.File && config.FilePath != "" {
		pl, err := NewPersistentLogger(config)
		if err != nil {
			return err
		}
		CloseLogger()
		persistentLogger = pl
		writers = append(writers, pl)
	}

	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(config.Level.zerolog()).
		With().
		Timestamp().
		Logger()

	return nil
}

// CloseLogger closes the log file, if any
func CloseLogger() {
	if persistentLogger != nil {
		persistentLogger.Close()
		persistentLogger = nil
	}
}

// ========================================
// Convenience helpers
// ========================================

func LogDebug(module string) *zerolog.Event {
	return Logger.Debug().Str("module", module)
}

func LogInfo(module string) *zerolog.Event {
	return Logger.Info().Str("module", module)
}

func LogWarn(module string) *zerolog.Event {
	return Logger.Warn().Str("module", module)
}

func LogError(module string) *zerolog.Event {
	return Logger.Error().Str("module", module)
}

// ModuleLogger returns a child logger for packages that take a *zerolog.Logger
func ModuleLogger(module string) *zerolog.Logger {
	l := Logger.With().Str("module", module).Logger()
	return &l
}

// DeviceLog is for the adb adapter
func DeviceLog() *zerolog.Event {
	return Logger.Info().Str("module", "device")
}

// ControlLog is for the floating control
func ControlLog() *zerolog.Event {
	return Logger.Info().Str("module", "control")
}

// ConfigLog is for settings and the config file watcher
func ConfigLog() *zerolog.Event {
	return Logger.Info().Str("module", "config")
}

// ========================================
// Operator actions
// ========================================

// UserAction names something the operator did
type UserAction string

const (
	ActionServiceToggle UserAction = "service_toggle"
	ActionServiceEnable UserAction = "service_enable"
	ActionControlHide   UserAction = "control_hide"
	ActionControlShow   UserAction = "control_show"
	ActionControlMove   UserAction = "control_move"
	ActionConfigUpdate  UserAction = "config_update"
	ActionConfigReload  UserAction = "config_reload"
	ActionFilterLoad    UserAction = "filter_load"
)

// LogUserAction records an operator action with free-form details
func LogUserAction(action UserAction, details map[string]interface{}) {
	event := Logger.Info().
		Str("category", "user_action").
		Str("action", string(action))
	addFields(event, details).Msg("User action")
}

// ========================================
// App state
// ========================================

// AppState is a lifecycle phase of the process
type AppState string

const (
	StateStarting     AppState = "starting"
	StateReady        AppState = "ready"
	StateShuttingDown AppState = "shutting_down"
	StateStopped      AppState = "stopped"
)

// LogAppState records a lifecycle transition
func LogAppState(state AppState, details map[string]interface{}) {
	event := Logger.Info().
		Str("category", "app_state").
		Str("state", string(state))
	addFields(event, details).Msg("App state changed")
}

// LogPanic records a recovered panic
func LogPanic(module string, recovered interface{}, stack string) {
	Logger.Error().
		Str("module", module).
		Str("category", "panic").
		Interface("recovered", recovered).
		Str("stack", stack).
		Msg("Panic recovered")
}

func addFields(event *zerolog.Event, fields map[string]interface{}) *zerolog.Event {
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			event.Str(k, val)
		case int:
			event.Int(k, val)
		case int64:
			event.Int64(k, val)
		case float64:
			event.Float64(k, val)
		case bool:
			event.Bool(k, val)
		case time.Duration:
			event.Dur(k, val)
		case error:
			event.AnErr(k, val)
		default:
			event.Interface(k, val)
		}
	}
	return event
}

// ========================================
// Timing
// ========================================

// OperationTimer logs how long an operation took
type OperationTimer struct {
	module    string
	operation string
	startTime time.Time
	details   map[string]interface{}
}

// StartOperation starts a timer
func StartOperation(module, operation string) *OperationTimer {
	return &OperationTimer{
		module:    module,
		operation: operation,
		startTime: time.Now(),
		details:   make(map[string]interface{}),
	}
}

// AddDetail attaches a field to the final log line
func (t *OperationTimer) AddDetail(key string, value interface{}) *OperationTimer {
	t.details[key] = value
	return t
}

// End logs the duration at debug level
func (t *OperationTimer) End() {
	t.event(Logger.Debug()).Msg("Operation completed")
}

// EndWithError logs the duration and err
func (t *OperationTimer) EndWithError(err error) {
	t.event(Logger.Warn()).Err(err).Msg("Operation failed")
}

func (t *OperationTimer) event(event *zerolog.Event) *zerolog.Event {
	duration := time.Since(t.startTime)
	event.Str("module", t.module).
		Str("category", "performance").
		Str("operation", t.operation).
		Int64("duration_ms", duration.Milliseconds())
	return addFields(event, t.details)
}

// ========================================
// Log queries
// ========================================

// GetLogFilePath returns the active log file, or "" when logging to console only
func GetLogFilePath() string {
	if persistentLogger != nil {
		return persistentLogger.config.FilePath
	}
	return ""
}

// ListLogFiles returns the active and rotated log files, newest first
func ListLogFiles() ([]string, error) {
	if persistentLogger == nil {
		return nil, fmt.Errorf("persistent logger not initialized")
	}
	files, err := filepath.Glob(filepath.Join(persistentLogger.logDir, persistentLogger.prefix+"*.log*"))
	if err != nil {
		return nil, err
	}
	return sortByModTime(files), nil
}

// ReadRecentLogs returns the last n lines of the active log file
func ReadRecentLogs(lines int) ([]string, error) {
	if lines <= 0 {
		return []string{}, nil
	}
	if persistentLogger == nil {
		return nil, fmt.Errorf("persistent logger not initialized")
	}

	content, err := os.ReadFile(persistentLogger.config.FilePath)
	if err != nil {
		return nil, err
	}

	allLines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(allLines) <= lines {
		return allLines, nil
	}
	return allLines[len(allLines)-lines:], nil
}

func init() {
	_ = InitLogger(DefaultLogConfig())
}
