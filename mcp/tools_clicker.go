package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerClickerTools registers service and configuration tools
func (s *MCPServer) registerClickerTools() {
	s.server.AddTool(
		mcp.NewTool("clicker_status",
			mcp.WithDescription("Show whether the clicker is enabled, what the engine is doing and where the floating control is"),
		),
		s.handleClickerStatus,
	)

	s.server.AddTool(
		mcp.NewTool("clicker_set_enabled",
			mcp.WithDescription("Turn the clicker on or off"),
			mcp.WithBoolean("enabled",
				mcp.Required(),
				mcp.Description("true to start accepting jobs, false to stop"),
			),
		),
		s.handleClickerSetEnabled,
	)

	s.server.AddTool(
		mcp.NewTool("clicker_config_get",
			mcp.WithDescription("Get the current acceptance configuration as JSON"),
		),
		s.handleConfigGet,
	)

	s.server.AddTool(
		mcp.NewTool("clicker_config_update",
			mcp.WithDescription("Change part of the acceptance configuration. Keys left out of the patch keep their value."),
			mcp.WithString("patch",
				mcp.Required(),
				mcp.Description(`JSON object, e.g. {"categories":{"JustGrab":true},"timeMode":"Manual","manualHours":[7,8],"targets":{"JustGrab":{"enabled":true,"minPriceEnabled":true,"minPrice":20}},"refreshIntervalMs":1500,"airportPolicy":"marker"}`),
			),
		),
		s.handleConfigUpdate,
	)

	s.server.AddTool(
		mcp.NewTool("clicker_match",
			mcp.WithDescription("Dry-run the acceptance rules and filter scripts on a job text without touching the device"),
			mcp.WithString("text",
				mcp.Required(),
				mcp.Description("Job text, lines separated by \\n (e.g. 'JustGrab\\n2:15 PM\\nRM15.50\\n3.2 Km from you')"),
			),
		),
		s.handleClickerMatch,
	)

	s.server.AddTool(
		mcp.NewTool("device_list",
			mcp.WithDescription("List Android devices visible to adb"),
		),
		s.handleDeviceList,
	)
}

func (s *MCPServer) handleClickerStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.app.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	state := "disabled"
	if status.Enabled {
		state = "enabled"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Clicker %s on %s (config v%d)\n", state, status.Device, status.ConfigVersion)
	if status.Engine.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", status.Engine.SessionID)
	}
	if status.Engine.LastScreen != "" {
		fmt.Fprintf(&b, "Last screen: %s\n", status.Engine.LastScreen)
	}
	if status.Engine.HasPending {
		fmt.Fprintf(&b, "Pending job: %s\n", strings.ReplaceAll(status.Engine.Pending, "\n", " | "))
	}
	fmt.Fprintf(&b, "Recovery timeout armed: %v, forced refresh: %v\n", status.Engine.RecoveryArmed, status.Engine.ForceRefresh)
	fmt.Fprintf(&b, "Control: visible=%v at (%.0f, %.0f)\n", status.Control.Visible, status.Control.X, status.Control.Y)
	for _, f := range status.Filters {
		fmt.Fprintf(&b, "Filter %s (%s) enabled=%v\n", f.ID, f.Name, f.Enabled)
	}

	jsonData, _ := json.MarshalIndent(status, "", "  ")
	return textResult(b.String(), fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))), nil
}

func (s *MCPServer) handleClickerSetEnabled(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	enabled, ok := args["enabled"].(bool)
	if !ok {
		return nil, fmt.Errorf("enabled is required")
	}

	s.app.SetServiceEnabled(enabled)

	if enabled {
		return textResult("Clicker enabled"), nil
	}
	return textResult("Clicker disabled"), nil
}

func (s *MCPServer) handleConfigGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(s.app.GetConfig(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	return textResult(string(jsonData)), nil
}

func (s *MCPServer) handleConfigUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	patch, ok := args["patch"].(string)
	if !ok || strings.TrimSpace(patch) == "" {
		return nil, fmt.Errorf("patch is required")
	}

	var changed []string
	cfg, err := s.app.UpdateConfig(func(cfg *Configuration) error {
		var perr error
		changed, perr = applyConfigPatch(cfg, patch)
		return perr
	})
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Configuration not changed: %v", err))},
			IsError: true,
		}, nil
	}

	jsonData, _ := json.MarshalIndent(cfg, "", "  ")
	return textResult(
		fmt.Sprintf("Updated %s", strings.Join(changed, ", ")),
		fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData)),
	), nil
}

func (s *MCPServer) handleClickerMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	text, ok := args["text"].(string)
	if !ok || text == "" {
		return nil, fmt.Errorf("text is required")
	}

	res := s.app.MatchText(ctx, text)

	var b strings.Builder
	if res.Accepted {
		b.WriteString("ACCEPT")
	} else {
		b.WriteString("REJECT")
	}
	fmt.Fprintf(&b, ": %s\n", res.Decision.Reason)
	if res.Job.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", res.Job.Category)
	}
	if res.Job.Hour != nil {
		fmt.Fprintf(&b, "Pickup hour: %d\n", *res.Job.Hour)
	}
	if res.Job.Price != nil {
		fmt.Fprintf(&b, "Price: %.2f\n", *res.Job.Price)
	}
	if res.Job.DistanceKm != nil {
		fmt.Fprintf(&b, "Distance: %.1f km\n", *res.Job.DistanceKm)
	}
	if res.Job.ToAirport || res.Job.FromAirport {
		fmt.Fprintf(&b, "Airport: to=%v from=%v\n", res.Job.ToAirport, res.Job.FromAirport)
	}
	for _, v := range res.Verdicts {
		fmt.Fprintf(&b, "Filter %s: accepted=%v", v.PluginID, v.Accepted)
		if v.Error != "" {
			fmt.Fprintf(&b, " error=%s", v.Error)
		}
		b.WriteString("\n")
		for _, line := range v.Logs {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	return textResult(b.String()), nil
}

func (s *MCPServer) handleDeviceList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.app.GetDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	if len(devices) == 0 {
		return textResult("No devices connected"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		connType := ""
		if d.Wireless {
			connType = " [wireless]"
		}
		fmt.Fprintf(&b, "%d. %s%s\n   Model: %s, State: %s\n", i+1, d.ID, connType, d.Model, d.State)
	}
	return textResult(b.String()), nil
}
