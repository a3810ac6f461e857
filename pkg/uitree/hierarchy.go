package uitree

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrNoHierarchy is returned when a dump does not contain an XML hierarchy
var ErrNoHierarchy = errors.New("no UI hierarchy in dump output")

// Hierarchy is the document element of a uiautomator dump
type Hierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []Node   `xml:"node"`
}

// Snapshot is one parsed hierarchy dump
type Snapshot struct {
	Root   *Node
	RawXML string
	// Digest identifies the dump content; equal digests mean an unchanged screen
	Digest string
}

// ParseDump extracts and parses the hierarchy from raw `uiautomator dump && cat`
// output. Leading and trailing noise printed by adb is discarded.
func ParseDump(output string) (*Snapshot, error) {
	startIdx := strings.Index(output, "<?xml")
	if startIdx == -1 {
		return nil, ErrNoHierarchy
	}
	xmlContent := output[startIdx:]
	if endIdx := strings.LastIndex(xmlContent, ">"); endIdx != -1 && endIdx < len(xmlContent)-1 {
		xmlContent = xmlContent[:endIdx+1]
	}
	raw := xmlContent

	// Unescaped ampersands break the decoder; normalise them without
	// double-escaping the entities that are already valid.
	xmlContent = strings.ReplaceAll(xmlContent, "&", "&amp;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;amp;", "&amp;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;lt;", "&lt;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;gt;", "&gt;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;quot;", "&quot;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;apos;", "&apos;")
	xmlContent = strings.ReplaceAll(xmlContent, "&amp;#", "&#")

	var h Hierarchy
	if err := xml.Unmarshal([]byte(xmlContent), &h); err != nil {
		return nil, fmt.Errorf("failed to parse UI XML (length: %d): %w", len(xmlContent), err)
	}
	if len(h.Nodes) == 0 {
		return nil, ErrNoHierarchy
	}

	var root *Node
	if len(h.Nodes) == 1 {
		root = &h.Nodes[0]
	} else {
		root = &Node{
			Class:   "android.view.View",
			Package: h.Nodes[0].Package,
			Bounds:  "[0,0][0,0]",
			Nodes:   h.Nodes,
		}
	}

	sum := sha1.Sum([]byte(raw))
	return &Snapshot{
		Root:   root,
		RawXML: raw,
		Digest: hex.EncodeToString(sum[:]),
	}, nil
}
