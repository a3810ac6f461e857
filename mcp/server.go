// Package mcp provides the MCP (Model Context Protocol) control server for Toyol.
// It lets an external client inspect and steer a running clicker over stdio.
package mcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"Toyol/pkg/criteria"
	"Toyol/pkg/engine"
	"Toyol/pkg/gesture"
	"Toyol/pkg/journal"
	"Toyol/pkg/plugin"
	"Toyol/pkg/types"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Type aliases from the shared packages
type (
	Configuration  = types.Configuration
	JobTarget      = types.JobTarget
	Device         = types.Device
	ControlState   = types.ControlState
	TouchEvent     = gesture.Event
	EngineStatus   = engine.Status
	JournalEntry   = journal.Entry
	JournalSession = journal.Session
	FilterInfo     = plugin.Metadata
	FilterVerdict  = plugin.Verdict
)

// ClickerStatus is the combined state reported by clicker_status
type ClickerStatus struct {
	Version       string       `json:"version"`
	Device        string       `json:"device"`
	Enabled       bool         `json:"enabled"`
	ConfigVersion uint64       `json:"configVersion"`
	Engine        EngineStatus `json:"engine"`
	Control       ControlState `json:"control"`
	Filters       []FilterInfo `json:"filters,omitempty"`
}

// MatchResult is a dry run of the acceptance rules on one job text
type MatchResult struct {
	Text     string            `json:"text"`
	Accepted bool              `json:"accepted"`
	Decision criteria.Decision `json:"decision"`
	Job      criteria.Job      `json:"job"`
	Verdicts []FilterVerdict   `json:"verdicts,omitempty"`
}

// ClickerApp is what the server needs from the running application
type ClickerApp interface {
	GetAppVersion() string
	GetStatus(ctx context.Context) (ClickerStatus, error)
	SetServiceEnabled(enabled bool)
	GetDevices(ctx context.Context) ([]Device, error)

	// Configuration
	GetConfig() Configuration
	// UpdateConfig applies fn to a copy of the configuration and installs it
	// when fn succeeds and the result validates. The enabled flag is kept.
	UpdateConfig(fn func(cfg *Configuration) error) (Configuration, error)
	MatchText(ctx context.Context, text string) MatchResult

	// Floating control
	TouchControl(events []TouchEvent) (ControlState, error)
	ShowControl() ControlState

	// Journal
	RecentEvents(sessionID string, limit int) ([]JournalEntry, error)
	ListSessions(limit int) ([]JournalSession, error)
	SessionKindCounts(sessionID string) (map[string]int, error)

	// Logs
	RecentLogs(lines int) (LogTail, error)
}

// LogTail is the end of the active log file plus the rotated files next to it
type LogTail struct {
	Path  string   `json:"path"`
	Files []string `json:"files"`
	Lines []string `json:"lines"`
}

// MCPServer wraps the MCP server with the Toyol tools
type MCPServer struct {
	app       ClickerApp
	server    *server.MCPServer
	stdio     *server.StdioServer
	mu        sync.Mutex
	isRunning bool
}

// NewMCPServer creates a server bound to app
func NewMCPServer(app ClickerApp) *MCPServer {
	mcpServer := server.NewMCPServer(
		"toyol-clicker",
		app.GetAppVersion(),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)

	s := &MCPServer{
		app:    app,
		server: mcpServer,
	}

	s.registerTools()
	s.registerResources()

	return s
}

func (s *MCPServer) registerTools() {
	s.registerClickerTools()
	s.registerControlTools()
	s.registerJournalTools()
	s.registerLogTools()
}

func (s *MCPServer) registerResources() {
	s.server.AddResource(
		mcp.NewResource(
			"toyol://config",
			"Current acceptance configuration",
			mcp.WithMIMEType("application/json"),
		),
		s.handleConfigResource,
	)

	s.server.AddResource(
		mcp.NewResource(
			"toyol://status",
			"Clicker, engine and control status",
			mcp.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)
}

// Serve runs the stdio transport until ctx is done or in is closed
func (s *MCPServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("MCP server is already running")
	}
	s.isRunning = true
	s.stdio = server.NewStdioServer(s.server)
	stdio := s.stdio
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	return stdio.Listen(ctx, in, out)
}

// Start serves on the process's stdin and stdout
func (s *MCPServer) Start(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// IsRunning returns whether the server is serving
func (s *MCPServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func textResult(parts ...string) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(parts))
	for _, p := range parts {
		content = append(content, mcp.NewTextContent(p))
	}
	return &mcp.CallToolResult{Content: content}
}
