// Package plugin runs user-supplied JavaScript job filters.
//
// A filter script defines a global `filter` object:
//
//	var filter = {
//	    accept: function (job, ctx) { return job.price >= 20; },
//	    onInit: function (ctx) {}            // optional
//	};
//
// accept is only consulted for jobs the built-in criteria already accepted.
package plugin

import (
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
)

var (
	// ErrNoFilterFunc is returned when a script does not define filter.accept
	ErrNoFilterFunc = errors.New("script does not define filter.accept")
	// ErrTimeout is returned when accept runs past the timeout
	ErrTimeout = errors.New("filter timed out")
	// ErrNotFound is returned for unknown plugin IDs
	ErrNotFound = errors.New("plugin not found")
	// ErrNoDecision is returned when accept returns undefined or null
	ErrNoDecision = errors.New("filter returned no decision")
)

// DefaultTimeout bounds one accept call
const DefaultTimeout = 2 * time.Second

// Metadata describes a loaded filter
type Metadata struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Path        string    `json:"path,omitempty"`
	Enabled     bool      `json:"enabled"`
	LoadedAt    time.Time `json:"loadedAt"`
}

// Plugin is one compiled filter with its own VM
type Plugin struct {
	Metadata   Metadata `json:"metadata"`
	SourceCode string   `json:"-"`

	// State persists across accept calls (ctx.state in scripts)
	State map[string]interface{} `json:"-"`

	// goja.Runtime is not goroutine safe; mu serializes every VM access
	mu     sync.Mutex
	vm     *goja.Runtime
	accept goja.Callable
}

// Verdict is the outcome of one filter evaluation, with the script's log lines
type Verdict struct {
	PluginID string   `json:"pluginId"`
	Accepted bool     `json:"accepted"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs,omitempty"`
	Duration int64    `json:"durationMs"`
}
