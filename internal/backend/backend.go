// Package backend defines how source documents are loaded and queried.
//
// A Backend parses a document into a tree of Nodes and translates dot-paths
// such as "channel.item" into its own selector syntax. Paths are compiled
// once while a schema is validated and reused for every node.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
)

// ErrBackend is matched by every *Error.
var ErrBackend = errors.New("backend error")

// Error reports a document that could not be read or parsed.
type Error struct {
	Backend string
	Locator string
	Err     error
}

func (e *Error) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s backend: load %s: %v", e.Backend, e.Locator, e.Err)
	}
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrBackend.
func (e *Error) Is(target error) bool { return target == ErrBackend }

// Query is a compiled selector.
type Query interface {
	// Path returns the dot-path the query was compiled from.
	Path() string
	// String returns the backend-native selector.
	String() string
}

// Node is one element of a loaded document.
type Node interface {
	// FindAll evaluates q relative to the node and returns the matches in
	// document order.
	FindAll(q Query) ([]Node, error)
	// Text returns the node's text content.
	Text() string
}

// Backend loads documents and compiles queries for them.
type Backend interface {
	Name() string
	Compile(path string) (Query, error)
	Parse(r io.Reader) (Node, error)
}

// Load parses r with b. Failures are returned as *Error.
func Load(b Backend, r io.Reader, locator string) (Node, error) {
	root, err := b.Parse(r)
	if err != nil {
		return nil, &Error{Backend: b.Name(), Locator: locator, Err: err}
	}
	return root, nil
}

// Open reads the document at locator, a file path or an http(s) URL, and
// parses it with b.
func Open(ctx context.Context, b Backend, locator string) (Node, error) {
	rc, err := openLocator(ctx, locator)
	if err != nil {
		return nil, &Error{Backend: b.Name(), Locator: locator, Err: err}
	}
	defer rc.Close()
	return Load(b, rc, locator)
}

func openLocator(ctx context.Context, locator string) (io.ReadCloser, error) {
	if locator == "" {
		return nil, errors.New("empty source locator")
	}

	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return resp.Body, nil
	}

	return os.Open(strings.TrimPrefix(locator, "file://"))
}

var (
	registry   = make(map[string]Backend)
	registryMu sync.RWMutex
)

// Register adds a backend under its name.
// Panics if a backend with the same name is already registered.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[b.Name()]; exists {
		panic(fmt.Sprintf("backend already registered: %s", b.Name()))
	}
	registry[b.Name()] = b
}

// Get returns the backend registered under name.
func Get(name string) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend: %q", name)
	}
	return b, nil
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
