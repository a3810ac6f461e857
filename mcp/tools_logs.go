package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultLogLines = 100
	maxLogLines     = 2000
)

// registerLogTools registers log inspection tools
func (s *MCPServer) registerLogTools() {
	s.server.AddTool(
		mcp.NewTool("logs_recent",
			mcp.WithDescription("Show the last lines of the clicker's log file. Needs file logging (--log-dir)."),
			mcp.WithNumber("lines",
				mcp.Description("Number of lines (default: 100, max: 2000)"),
			),
		),
		s.handleLogsRecent,
	)
}

func (s *MCPServer) handleLogsRecent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lines := defaultLogLines
	if v, ok := request.GetArguments()["lines"].(float64); ok && v > 0 {
		lines = int(v)
	}
	if lines > maxLogLines {
		lines = maxLogLines
	}

	tail, err := s.app.RecentLogs(lines)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Log file: %s\n", tail.Path)
	if len(tail.Files) > 1 {
		names := make([]string, len(tail.Files))
		for i, f := range tail.Files {
			names[i] = filepath.Base(f)
		}
		fmt.Fprintf(&b, "Rotated: %s\n", strings.Join(names[1:], ", "))
	}
	if len(tail.Lines) == 0 {
		b.WriteString("(empty)\n")
		return textResult(b.String()), nil
	}
	fmt.Fprintf(&b, "Last %d line(s):\n", len(tail.Lines))
	for _, line := range tail.Lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return textResult(b.String()), nil
}
