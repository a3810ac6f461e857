package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"Toyol/pkg/gesture"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerControlTools registers the floating control tools
func (s *MCPServer) registerControlTools() {
	s.server.AddTool(
		mcp.NewTool("control_touch",
			mcp.WithDescription("Feed touch events to the floating control. A short press toggles the clicker, a drag moves the control, a press held for a second hides it."),
			mcp.WithString("events",
				mcp.Required(),
				mcp.Description(`JSON array of {"action":"down|move|up|cancel","x":0,"y":0}, e.g. [{"action":"down","x":5,"y":105},{"action":"up","x":5,"y":105}]`),
			),
		),
		s.handleControlTouch,
	)

	s.server.AddTool(
		mcp.NewTool("control_show",
			mcp.WithDescription("Show the floating control again after a long press hid it"),
		),
		s.handleControlShow,
	)
}

func (s *MCPServer) handleControlTouch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	raw, ok := args["events"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("events is required")
	}

	var events []TouchEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		return nil, fmt.Errorf("invalid events: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("events must not be empty")
	}
	for i, ev := range events {
		switch ev.Action {
		case gesture.ActionDown, gesture.ActionMove, gesture.ActionUp, gesture.ActionCancel:
		default:
			return nil, fmt.Errorf("event %d: unknown action %q", i, ev.Action)
		}
	}

	state, err := s.app.TouchControl(events)
	if err != nil {
		return nil, fmt.Errorf("failed to touch control: %w", err)
	}
	return controlResult(state), nil
}

func (s *MCPServer) handleControlShow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return controlResult(s.app.ShowControl()), nil
}

func controlResult(state ControlState) *mcp.CallToolResult {
	visibility := "hidden"
	if state.Visible {
		visibility = "visible"
	}
	return textResult(fmt.Sprintf("Control %s at (%.0f, %.0f)", visibility, state.X, state.Y))
}
