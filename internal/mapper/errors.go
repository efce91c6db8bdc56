package mapper

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/docmapper/internal/model"
)

var (
	// ErrQueryNotFound is returned when a field query matches nothing.
	ErrQueryNotFound = errors.New("query matched no data")

	// ErrQueryMultiple is returned when a singular field query matches more
	// than one node.
	ErrQueryMultiple = errors.New("query matched multiple nodes")
)

// sourceSnippetLen caps the source text carried by a QueryError.
const sourceSnippetLen = 120

// QueryError reports a field whose query did not match exactly one node.
type QueryError struct {
	Err        error
	EntityType string
	Field      string
	Query      string
	Count      int
	// Source is the text of the node the query ran against, truncated.
	Source string
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("%s.%s: %s: %v", e.EntityType, e.Field, e.Query, e.Err)
	if e.Count > 1 {
		msg += fmt.Sprintf(" (%d matches)", e.Count)
	}
	if e.Source != "" {
		msg += fmt.Sprintf(" in %q", e.Source)
	}
	return msg
}

func (e *QueryError) Unwrap() error { return e.Err }

// HookError reports a hook that rejected an extracted value.
type HookError struct {
	EntityType string
	Field      string
	Hook       string
	Value      any
	Err        error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s.%s: hook %q: %v", e.EntityType, e.Field, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err only invalidates the current node.
// Query mismatches, hook failures and values that do not fit an attribute
// are recoverable; store, backend and context errors abort the load.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQueryNotFound) || errors.Is(err, ErrQueryMultiple) {
		return true
	}
	var he *HookError
	if errors.As(err, &he) {
		return true
	}
	return errors.Is(err, model.ErrInvalidValue)
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= sourceSnippetLen {
		return s
	}
	n := sourceSnippetLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
