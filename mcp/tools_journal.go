package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerJournalTools registers activity journal tools
func (s *MCPServer) registerJournalTools() {
	s.server.AddTool(
		mcp.NewTool("journal_recent",
			mcp.WithDescription("List the most recent clicker actions and decisions, newest first"),
			mcp.WithString("session_id",
				mcp.Description("Only show events of this session (oldest first)"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of events (default: 50, max: 1000)"),
			),
		),
		s.handleJournalRecent,
	)

	s.server.AddTool(
		mcp.NewTool("journal_sessions",
			mcp.WithDescription("List recent clicker sessions (one per enabled period)"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of sessions (default: 50)"),
			),
		),
		s.handleJournalSessions,
	)
}

func limitArg(args map[string]interface{}) int {
	if v, ok := args["limit"].(float64); ok && v > 0 {
		return int(v)
	}
	return 0
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func (s *MCPServer) handleJournalRecent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	sessionID, _ := args["session_id"].(string)

	entries, err := s.app.RecentEvents(sessionID, limitArg(args))
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	if len(entries) == 0 {
		return textResult("No journal events"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %-18s", formatTime(e.Timestamp), e.Kind)
		if e.Text != "" {
			fmt.Fprintf(&b, " %s", strings.ReplaceAll(e.Text, "\n", " | "))
		}
		if e.Detail != "" {
			fmt.Fprintf(&b, " (%s)", e.Detail)
		}
		b.WriteString("\n")
	}
	return textResult(b.String()), nil
}

func (s *MCPServer) handleJournalSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.app.ListSessions(limitArg(request.GetArguments()))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return textResult("No sessions"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s):\n", len(sessions))
	for _, sess := range sessions {
		fmt.Fprintf(&b, "%s  %s  %s -> %s  events=%d", sess.ID, sess.DeviceID, formatTime(sess.StartTime), formatTime(sess.EndTime), sess.EventCount)
		if sess.EndReason != "" {
			fmt.Fprintf(&b, "  (%s)", sess.EndReason)
		}
		if counts, err := s.app.SessionKindCounts(sess.ID); err == nil && len(counts) > 0 {
			fmt.Fprintf(&b, "  [%s]", formatKindCounts(counts))
		}
		b.WriteString("\n")
	}
	return textResult(b.String()), nil
}

func formatKindCounts(counts map[string]int) string {
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
