package uitree

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
)

// Node is one element of a uiautomator hierarchy dump
type Node struct {
	XMLName       xml.Name `xml:"node" json:"-"`
	Label         string   `xml:"text,attr" json:"text"`
	ID            string   `xml:"resource-id,attr" json:"resourceId"`
	Class         string   `xml:"class,attr" json:"class"`
	Package       string   `xml:"package,attr" json:"package"`
	ContentDesc   string   `xml:"content-desc,attr" json:"contentDesc"`
	Clickable     bool     `xml:"clickable,attr" json:"clickable"`
	Enabled       bool     `xml:"enabled,attr" json:"enabled"`
	LongClickable bool     `xml:"long-clickable,attr" json:"longClickable"`
	Bounds        string   `xml:"bounds,attr" json:"bounds"`
	Nodes         []Node   `xml:"node" json:"nodes"`
}

// Text implements Element
func (n *Node) Text() (string, bool) {
	if n == nil || n.Label == "" {
		return "", false
	}
	return n.Label, true
}

// Description implements Element
func (n *Node) Description() string {
	if n == nil {
		return ""
	}
	return n.ContentDesc
}

// ResourceID implements Element
func (n *Node) ResourceID() string {
	if n == nil {
		return ""
	}
	return n.ID
}

// Children implements Element
func (n *Node) Children() ([]Element, error) {
	if n == nil {
		return nil, ErrStaleNode
	}
	out := make([]Element, len(n.Nodes))
	for i := range n.Nodes {
		out[i] = &n.Nodes[i]
	}
	return out, nil
}

// Rect returns the parsed screen bounds of the node
func (n *Node) Rect() (*BoundsRect, error) {
	if n == nil {
		return nil, ErrStaleNode
	}
	return ParseBounds(n.Bounds)
}

// BoundsRect represents parsed bounds coordinates
type BoundsRect struct {
	X1, Y1, X2, Y2 int
}

var boundsRe = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// ParseBounds parses Android bounds string "[x1,y1][x2,y2]" into BoundsRect
func ParseBounds(bounds string) (*BoundsRect, error) {
	matches := boundsRe.FindStringSubmatch(bounds)
	if len(matches) != 5 {
		return nil, fmt.Errorf("invalid bounds format: %q", bounds)
	}

	x1, _ := strconv.Atoi(matches[1])
	y1, _ := strconv.Atoi(matches[2])
	x2, _ := strconv.Atoi(matches[3])
	y2, _ := strconv.Atoi(matches[4])

	return &BoundsRect{X1: x1, Y1: y1, X2: x2, Y2: y2}, nil
}

// Center returns the center point of the bounds
func (b *BoundsRect) Center() (int, int) {
	return b.X1 + (b.X2-b.X1)/2, b.Y1 + (b.Y2-b.Y1)/2
}

// Empty reports whether the rectangle has no area (off-screen or collapsed views)
func (b *BoundsRect) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}
