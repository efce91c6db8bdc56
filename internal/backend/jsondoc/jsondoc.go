// Package jsondoc is the structured-data backend. Dot-paths are key paths
// walked one key at a time from the current node; arrays met on the way are
// expanded, so "feed.items" yields one node per element of items.
package jsondoc

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/JonMunkholm/docmapper/internal/backend"
)

// Name is the backend's registry name.
const Name = "json"

func init() {
	backend.Register(New())
}

// Backend parses JSON documents.
type Backend struct{}

// New returns the JSON backend.
func New() *Backend {
	return &Backend{}
}

// Name implements backend.Backend.
func (*Backend) Name() string { return Name }

type query struct {
	path string
	keys []string
}

func (q *query) Path() string { return q.path }

func (q *query) String() string {
	return strings.Join(q.keys, ".")
}

// Compile implements backend.Backend. Every key is escaped so gjson path
// syntax ('*', '?', '#', '@') in key names is matched literally.
func (*Backend) Compile(path string) (backend.Query, error) {
	p, err := backend.ParsePath(path)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(p.Segments)+1)
	for _, seg := range p.Segments {
		if seg == "*" {
			return nil, fmt.Errorf("invalid path %q: wildcards are not supported by the json backend", path)
		}
		keys = append(keys, gjson.Escape(seg))
	}
	if p.Attr != "" {
		keys = append(keys, gjson.Escape("@"+p.Attr))
	}
	return &query{path: path, keys: keys}, nil
}

// Parse implements backend.Backend.
func (*Backend) Parse(r io.Reader) (backend.Node, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("empty document")
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	return node{r: gjson.ParseBytes(data)}, nil
}

type node struct {
	r gjson.Result
}

// FindAll implements backend.Node. JSON null counts as absent.
func (n node) FindAll(q backend.Query) ([]backend.Node, error) {
	jq, ok := q.(*query)
	if !ok {
		return nil, fmt.Errorf("json backend cannot evaluate %T", q)
	}

	current := []gjson.Result{n.r}
	for _, key := range jq.keys {
		var next []gjson.Result
		for _, r := range current {
			if r.IsArray() {
				for _, el := range r.Array() {
					next = appendMatch(next, el.Get(key))
				}
				continue
			}
			next = appendMatch(next, r.Get(key))
		}
		current = next
		if len(current) == 0 {
			break
		}
	}

	if len(jq.keys) == 0 {
		current = expand(nil, n.r)
	}

	out := make([]backend.Node, len(current))
	for i, r := range current {
		out[i] = node{r: r}
	}
	return out, nil
}

// Text implements backend.Node. Strings are unquoted; other values keep
// their JSON text.
func (n node) Text() string {
	return n.r.String()
}

func appendMatch(dst []gjson.Result, r gjson.Result) []gjson.Result {
	if !r.Exists() || r.Type == gjson.Null {
		return dst
	}
	return expand(dst, r)
}

func expand(dst []gjson.Result, r gjson.Result) []gjson.Result {
	if !r.IsArray() {
		return append(dst, r)
	}
	for _, el := range r.Array() {
		if el.Type != gjson.Null {
			dst = append(dst, el)
		}
	}
	return dst
}
