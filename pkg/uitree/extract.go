package uitree

import "strings"

// Limits bounds a traversal so that malformed or cyclic trees cannot stall a scan
type Limits struct {
	MaxDepth int
	MaxNodes int
}

// DefaultLimits are generous for real screens, which rarely exceed a few hundred nodes
var DefaultLimits = Limits{MaxDepth: 64, MaxNodes: 5000}

// Extraction is the result of flattening a subtree
type Extraction struct {
	Texts []string
	// Stale counts nodes skipped because they became invalid mid-read
	Stale int
	// Truncated is set when a limit cut the traversal short
	Truncated bool
}

// Joined returns the texts joined with newlines
func (e Extraction) Joined() string {
	return strings.Join(e.Texts, "\n")
}

type frame struct {
	el    Element
	depth int
}

// Extract collects the text of every node under root in depth-first pre-order.
// Stale nodes are treated as having no text and their subtree is skipped;
// reading never fails.
func Extract(root Element, limits Limits) Extraction {
	var out Extraction
	if isNil(root) {
		return out
	}

	stack := []frame{{el: root}}
	visited := 0
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if isNil(top.el) {
			continue
		}

		if limits.MaxNodes > 0 && visited >= limits.MaxNodes {
			out.Truncated = true
			break
		}
		visited++

		children, err := top.el.Children()
		if err != nil {
			out.Stale++
			continue
		}
		if text, ok := top.el.Text(); ok {
			out.Texts = append(out.Texts, text)
		}

		if limits.MaxDepth > 0 && top.depth >= limits.MaxDepth {
			if len(children) > 0 {
				out.Truncated = true
			}
			continue
		}
		// Reverse push keeps screen order on pop
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{el: children[i], depth: top.depth + 1})
		}
	}
	return out
}

// Texts flattens root with DefaultLimits
func Texts(root Element) []string {
	return Extract(root, DefaultLimits).Texts
}

// JoinedText flattens root with DefaultLimits and joins the texts with newlines
func JoinedText(root Element) string {
	return Extract(root, DefaultLimits).Joined()
}

func isNil(el Element) bool {
	if el == nil {
		return true
	}
	if n, ok := el.(*Node); ok && n == nil {
		return true
	}
	return false
}
