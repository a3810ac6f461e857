package mcp

import (
	"context"
	"errors"
	"sync"

	"Toyol/pkg/types"
)

// MockCall records a method call for verification
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockClickerApp is a mock implementation of ClickerApp for testing
type MockClickerApp struct {
	mu    sync.Mutex
	Calls []MockCall

	AppVersion string

	StatusResult ClickerStatus
	StatusError  error

	Enabled bool

	DevicesResult []Device
	DevicesError  error

	Config      Configuration
	UpdateError error

	MatchResult MatchResult

	Control           ControlState
	TouchControlError error
	TouchedEvents     []TouchEvent

	RecentResult   []JournalEntry
	RecentError    error
	SessionsResult []JournalSession
	SessionsError  error
	KindCounts     map[string]map[string]int
	KindCountsErr  error

	LogsResult LogTail
	LogsError  error
}

// Common errors for testing
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrJournalClosed  = errors.New("journal closed")
)

// NewMockClickerApp creates a mock with a default configuration and a visible control
func NewMockClickerApp() *MockClickerApp {
	return &MockClickerApp{
		Calls:      make([]MockCall, 0),
		AppVersion: "1.0.0-test",
		Config:     types.DefaultConfiguration(),
		Control:    ControlState{X: 0, Y: 100, Visible: true},
	}
}

func (m *MockClickerApp) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetCalls returns a copy of the recorded calls
func (m *MockClickerApp) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.Calls...)
}

// ResetCalls clears the recorded calls
func (m *MockClickerApp) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]MockCall, 0)
}

// WasMethodCalled reports whether method was called at least once
func (m *MockClickerApp) WasMethodCalled(method string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Calls {
		if c.Method == method {
			return true
		}
	}
	return false
}

// GetLastCallByMethod returns the last call of method, or nil
func (m *MockClickerApp) GetLastCallByMethod(method string) *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == method {
			c := m.Calls[i]
			return &c
		}
	}
	return nil
}

// SetupWithError makes method fail with err
func (m *MockClickerApp) SetupWithError(method string, err error) *MockClickerApp {
	switch method {
	case "GetStatus":
		m.StatusError = err
	case "GetDevices":
		m.DevicesError = err
	case "UpdateConfig":
		m.UpdateError = err
	case "TouchControl":
		m.TouchControlError = err
	case "RecentEvents":
		m.RecentError = err
	case "ListSessions":
		m.SessionsError = err
	case "SessionKindCounts":
		m.KindCountsErr = err
	case "RecentLogs":
		m.LogsError = err
	}
	return m
}

// ==================== ClickerApp ====================

func (m *MockClickerApp) GetAppVersion() string {
	m.recordCall("GetAppVersion")
	return m.AppVersion
}

func (m *MockClickerApp) GetStatus(ctx context.Context) (ClickerStatus, error) {
	m.recordCall("GetStatus")
	return m.StatusResult, m.StatusError
}

func (m *MockClickerApp) SetServiceEnabled(enabled bool) {
	m.recordCall("SetServiceEnabled", enabled)
	m.mu.Lock()
	m.Enabled = enabled
	m.mu.Unlock()
}

func (m *MockClickerApp) GetDevices(ctx context.Context) ([]Device, error) {
	m.recordCall("GetDevices")
	return m.DevicesResult, m.DevicesError
}

func (m *MockClickerApp) GetConfig() Configuration {
	m.recordCall("GetConfig")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Config.Clone()
}

func (m *MockClickerApp) UpdateConfig(fn func(cfg *Configuration) error) (Configuration, error) {
	m.recordCall("UpdateConfig")
	if m.UpdateError != nil {
		return Configuration{}, m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.Config.Clone()
	if err := fn(&next); err != nil {
		return Configuration{}, err
	}
	m.Config = next
	return next.Clone(), nil
}

func (m *MockClickerApp) MatchText(ctx context.Context, text string) MatchResult {
	m.recordCall("MatchText", text)
	res := m.MatchResult
	res.Text = text
	return res
}

func (m *MockClickerApp) TouchControl(events []TouchEvent) (ControlState, error) {
	m.recordCall("TouchControl", events)
	if m.TouchControlError != nil {
		return ControlState{}, m.TouchControlError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TouchedEvents = append(m.TouchedEvents, events...)
	return m.Control, nil
}

func (m *MockClickerApp) ShowControl() ControlState {
	m.recordCall("ShowControl")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Control.Visible = true
	return m.Control
}

func (m *MockClickerApp) RecentEvents(sessionID string, limit int) ([]JournalEntry, error) {
	m.recordCall("RecentEvents", sessionID, limit)
	return m.RecentResult, m.RecentError
}

func (m *MockClickerApp) ListSessions(limit int) ([]JournalSession, error) {
	m.recordCall("ListSessions", limit)
	return m.SessionsResult, m.SessionsError
}

func (m *MockClickerApp) SessionKindCounts(sessionID string) (map[string]int, error) {
	m.recordCall("SessionKindCounts", sessionID)
	if m.KindCountsErr != nil {
		return nil, m.KindCountsErr
	}
	return m.KindCounts[sessionID], nil
}

func (m *MockClickerApp) RecentLogs(lines int) (LogTail, error) {
	m.recordCall("RecentLogs", lines)
	if m.LogsError != nil {
		return LogTail{}, m.LogsError
	}
	tail := m.LogsResult
	if lines >= 0 && len(tail.Lines) > lines {
		tail.Lines = tail.Lines[len(tail.Lines)-lines:]
	}
	return tail, nil
}
