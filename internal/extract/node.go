package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is the current position of an extraction: either a markup selection or
// a decoded document value.
type Node struct {
	sel *goquery.Selection
	val Value
}

// MarkupNode wraps a goquery selection.
func MarkupNode(sel *goquery.Selection) Node {
	return Node{sel: sel}
}

// DocumentNode wraps a decoded document value.
func DocumentNode(v Value) Node {
	return Node{val: v}
}

// ParseHTML parses a raw page into a markup root node.
func ParseHTML(body []byte) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Node{}, fmt.Errorf("parse html: %w", err)
	}
	return MarkupNode(doc.Selection), nil
}

// IsMarkup reports whether n wraps a markup selection.
func (n Node) IsMarkup() bool {
	return n.sel != nil
}

// Selection returns the markup selection, or nil for document nodes.
func (n Node) Selection() *goquery.Selection {
	return n.sel
}

// Value returns the document value. Markup nodes return their trimmed text as
// a String.
func (n Node) Value() Value {
	if n.sel != nil {
		return String(n.Text())
	}
	return n.val
}

// Text returns the node text: the markup text content, or the scalar text of
// a document value.
func (n Node) Text() string {
	if n.sel != nil {
		return strings.TrimSpace(n.sel.Text())
	}
	return n.val.Text()
}

func (n Node) kind() InputKind {
	if n.sel != nil {
		return InputMarkup
	}
	return InputDocument
}
