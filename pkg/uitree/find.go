package uitree

import "strings"

// Walk visits root and its descendants in pre-order until visit returns false.
// Stale subtrees are skipped.
func Walk(root Element, limits Limits, visit func(Element) bool) {
	if isNil(root) {
		return
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
			return
		}
		visited++

		if !visit(top.el) {
			return
		}
		if limits.MaxDepth > 0 && top.depth >= limits.MaxDepth {
			continue
		}
		children, err := top.el.Children()
		if err != nil {
			continue
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{el: children[i], depth: top.depth + 1})
		}
	}
}

// MatchesText reports whether el's text or description contains text, ignoring case.
// This mirrors how accessibility text lookups behave on the device.
func MatchesText(el Element, text string) bool {
	needle := strings.ToLower(text)
	if t, ok := el.Text(); ok && strings.Contains(strings.ToLower(t), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(el.Description()), needle)
}

// MatchesID reports whether el has the identifier id, either fully qualified
// ("pkg:id/name") or by its short name.
func MatchesID(el Element, id string) bool {
	rid := el.ResourceID()
	if rid == "" || id == "" {
		return false
	}
	return rid == id || strings.HasSuffix(rid, ":id/"+id)
}

// FindByText returns the first element in pre-order whose text or description
// contains text, or nil.
func FindByText(root Element, text string) Element {
	var found Element
	Walk(root, DefaultLimits, func(el Element) bool {
		if MatchesText(el, text) {
			found = el
			return false
		}
		return true
	})
	return found
}

// FindAllByID returns every element with the given identifier, in pre-order
func FindAllByID(root Element, id string) []Element {
	var results []Element
	Walk(root, DefaultLimits, func(el Element) bool {
		if MatchesID(el, id) {
			results = append(results, el)
		}
		return true
	})
	return results
}
