// Package uitree models the UI element tree observed on the device screen and
// provides the text flattening and lookup helpers the automaton relies on.
package uitree

import "errors"

// ErrStaleNode is returned when an element became invalid while it was being read
var ErrStaleNode = errors.New("ui element is no longer valid")

// Element is a read-only handle to one node of the UI tree.
// Implementations may be backed by a live accessibility tree, so any read can
// race with the screen changing underneath it.
type Element interface {
	// Text returns the node's text; ok is false when the node has none
	Text() (text string, ok bool)
	// Description returns the accessible (content) description, or ""
	Description() string
	// ResourceID returns the platform identifier, or ""
	ResourceID() string
	// Children returns the child elements in screen order.
	// It returns ErrStaleNode when the node can no longer be read.
	Children() ([]Element, error)
}
