// Package xmldoc is the markup backend. Dot-paths become relative descendant
// XPath selectors: "channel.item" is evaluated as ".//channel/item".
package xmldoc

import (
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/JonMunkholm/docmapper/internal/backend"
)

// Name is the backend's registry name.
const Name = "xml"

func init() {
	backend.Register(New())
}

// Backend parses XML documents.
type Backend struct{}

// New returns the XML backend.
func New() *Backend {
	return &Backend{}
}

// Name implements backend.Backend.
func (*Backend) Name() string { return Name }

type query struct {
	path     string
	selector string
	expr     *xpath.Expr
	attr     string
	self     bool
}

func (q *query) Path() string   { return q.path }
func (q *query) String() string { return q.selector }

// Translate converts a dot-path to its XPath selector without compiling it.
func Translate(p backend.Path) string {
	if len(p.Segments) == 0 {
		return "."
	}
	return ".//" + strings.Join(p.Segments, "/")
}

// Compile implements backend.Backend.
func (*Backend) Compile(path string) (backend.Query, error) {
	p, err := backend.ParsePath(path)
	if err != nil {
		return nil, err
	}

	selector := Translate(p)
	expr, err := xpath.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", selector, err)
	}

	if p.Attr != "" {
		selector += "/@" + p.Attr
	}
	return &query{path: path, selector: selector, expr: expr, attr: p.Attr, self: len(p.Segments) == 0}, nil
}

// Parse implements backend.Backend.
func (*Backend) Parse(r io.Reader) (backend.Node, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, err
	}
	if doc.FirstChild == nil {
		return nil, fmt.Errorf("empty document")
	}
	return &node{n: doc}, nil
}

type node struct {
	n *xmlquery.Node
}

// FindAll implements backend.Node.
func (n *node) FindAll(q backend.Query) ([]backend.Node, error) {
	xq, ok := q.(*query)
	if !ok {
		return nil, fmt.Errorf("xml backend cannot evaluate %T", q)
	}

	var matches []*xmlquery.Node
	if xq.self {
		matches = []*xmlquery.Node{n.n}
	} else {
		matches = xmlquery.QuerySelectorAll(n.n, xq.expr)
	}

	out := make([]backend.Node, 0, len(matches))
	for _, m := range matches {
		if xq.attr == "" {
			out = append(out, &node{n: m})
			continue
		}
		if v, ok := attr(m, xq.attr); ok {
			out = append(out, attrNode(v))
		}
	}
	return out, nil
}

// Text implements backend.Node.
func (n *node) Text() string {
	return strings.TrimSpace(n.n.InnerText())
}

func attr(n *xmlquery.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		full := a.Name.Local
		if a.Name.Space != "" {
			full = a.Name.Space + ":" + a.Name.Local
		}
		if a.Name.Local == name || full == name {
			return a.Value, true
		}
	}
	return "", false
}

// attrNode is an attribute value; it has no children.
type attrNode string

func (attrNode) FindAll(backend.Query) ([]backend.Node, error) { return nil, nil }
func (a attrNode) Text() string                                { return string(a) }
