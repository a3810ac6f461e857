// Package engine drives the job-accepting automaton: it scans each observed UI
// tree, clicks matching offers, verifies them on the Accept screen and recovers
// back to the planner screen when the app wanders off.
//
// All automaton state lives on a single event-loop goroutine. Tree
// notifications, the recovery timeout and the refresh scheduler only post work
// to that loop.
package engine

import (
	"context"

	"Toyol/pkg/criteria"
	"Toyol/pkg/types"
	"Toyol/pkg/uitree"
)

// Platform is the host that owns the screen. Actions are best-effort:
// a target that disappeared is not an error the engine acts on.
type Platform interface {
	// Root returns the current UI tree
	Root(ctx context.Context) (uitree.Element, error)
	// FindByText returns the first element containing text, or nil
	FindByText(root uitree.Element, text string) uitree.Element
	// FindAllByID returns the elements carrying the identifier, in screen order
	FindAllByID(root uitree.Element, id string) []uitree.Element

	Click(ctx context.Context, el uitree.Element) error
	SwipeVertical(ctx context.Context) error
	NavigateBack(ctx context.Context) error
	PlayConfirmation(ctx context.Context)
}

// ConfigSource provides configuration snapshots and the service-enabled flag.
// *settings.Store implements it.
type ConfigSource interface {
	Snapshot() types.Configuration
	Enabled() bool
	SetEnabled(enabled bool)
	Subscribe() (<-chan bool, func())
}

// JobFilter is an optional second opinion consulted after the built-in
// criteria accepted a job. An error counts as a rejection.
//
// Accept runs on the engine loop and blocks it, so no tree change or status
// call is handled meanwhile. One scan shares Timings.FilterBudget across all
// of its candidates; ctx expires when the budget is spent and Accept should
// return promptly then.
type JobFilter interface {
	Accept(ctx context.Context, job criteria.Job) (bool, error)
}

// TreeLookup implements the lookup half of Platform with the uitree helpers.
// Platforms backed by uitree nodes can embed it.
type TreeLookup struct{}

func (TreeLookup) FindByText(root uitree.Element, text string) uitree.Element {
	return uitree.FindByText(root, text)
}

func (TreeLookup) FindAllByID(root uitree.Element, id string) []uitree.Element {
	return uitree.FindAllByID(root, id)
}
