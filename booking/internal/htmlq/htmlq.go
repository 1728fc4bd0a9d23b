// Package htmlq provides the minimal HTML querying the portal adapters need.
// The portals serve server-rendered markup; a handful of tag/attribute
// predicates covers every page we parse.
package htmlq

import (
	"strings"

	"golang.org/x/net/html"
)

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasClass reports whether the node's class attribute contains the class.
func HasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// Find returns the first element in document order matching the predicate.
func Find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns all elements in document order matching the predicate.
func FindAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// ByTag matches elements with the given tag name.
func ByTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

// ByTagAttr matches elements with the given tag and attribute value.
func ByTagAttr(tag, key, val string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag && Attr(n, key) == val }
}

// ByTagClass matches elements with the given tag carrying the class.
func ByTagClass(tag, class string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag && HasClass(n, class) }
}

// Text returns the concatenated, whitespace-trimmed text content of a node.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// FormValues collects a form's submittable fields the way a browser would:
// every non-submit input with a name, the first option of every select, and
// the named submit button itself (Contao folds the action into it).
func FormValues(form *html.Node) map[string]string {
	values := make(map[string]string)

	for _, input := range FindAll(form, ByTag("input")) {
		name := Attr(input, "name")
		if name == "" {
			continue
		}
		if Attr(input, "type") == "submit" {
			v := Attr(input, "value")
			if v == "" {
				v = "Speichern"
			}
			values[name] = v
			continue
		}
		values[name] = Attr(input, "value")
	}

	for _, sel := range FindAll(form, ByTag("select")) {
		name := Attr(sel, "name")
		if name == "" {
			continue
		}
		if opt := Find(sel, ByTag("option")); opt != nil {
			v := Attr(opt, "value")
			if v == "" {
				v = Text(opt)
			}
			values[name] = v
		}
	}

	return values
}
