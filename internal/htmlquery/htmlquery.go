// Package htmlquery evaluates CSS selectors against listing pages.
package htmlquery

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is a parsed document or one element within it.
type Node struct {
	sel *goquery.Selection
}

// Parse parses raw markup.
func Parse(raw string) (*Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Node{sel: doc.Selection}, nil
}

// Text returns the text content of the first element matching selector. The boolean is
// false when the selector is empty or matches nothing.
func (n *Node) Text(selector string) (string, bool) {
	if n == nil || strings.TrimSpace(selector) == "" {
		return "", false
	}
	match := n.sel.Find(selector).First()
	if match.Length() == 0 {
		return "", false
	}
	return match.Text(), true
}

// All returns every element matching selector, in document order.
func (n *Node) All(selector string) []*Node {
	if n == nil || strings.TrimSpace(selector) == "" {
		return nil
	}
	matches := n.sel.Find(selector)
	out := make([]*Node, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Node{sel: s})
	})
	return out
}
