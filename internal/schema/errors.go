package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every *Error matches ErrSchema plus the sentinel of its
// kind.
var (
	ErrSchema          = errors.New("schema error")
	ErrMissingRequired = errors.New("missing required key")
	ErrDependency      = errors.New("broken dependency")
	ErrUnresolved      = errors.New("unresolved name")
	ErrInvalidValue    = errors.New("invalid value")
)

// ErrorKind classifies a schema error.
type ErrorKind string

const (
	KindMissingRequired ErrorKind = "missing-required-key"
	KindDependency      ErrorKind = "broken-dependency"
	KindUnresolvedHook  ErrorKind = "unresolved-hook"
	KindUnresolvedType  ErrorKind = "unresolved-entity-type"
	KindUnresolvedField ErrorKind = "unresolved-model-field"
	KindInvalidQuery    ErrorKind = "invalid-query"
	KindInvalidValue    ErrorKind = "invalid-value"
)

// Error is a fatal problem found while validating a schema.
type Error struct {
	Kind ErrorKind
	// Path locates the fragment, e.g. "News.fields.guid".
	Path string
	// Key is the offending key within the fragment.
	Key string
	// Requires lists the companions missing for a broken dependency.
	Requires []string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("schema")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")

	switch e.Kind {
	case KindMissingRequired:
		fmt.Fprintf(&b, "missing required key %q", e.Key)
	case KindDependency:
		fmt.Fprintf(&b, "key %q requires %s", e.Key, quoteAll(e.Requires))
	default:
		fmt.Fprintf(&b, "%s", e.Kind)
		if e.Key != "" {
			fmt.Fprintf(&b, " in %q", e.Key)
		}
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrSchema and the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSchema:
		return true
	case ErrMissingRequired:
		return e.Kind == KindMissingRequired
	case ErrDependency:
		return e.Kind == KindDependency
	case ErrUnresolved:
		return e.Kind == KindUnresolvedHook || e.Kind == KindUnresolvedType || e.Kind == KindUnresolvedField
	case ErrInvalidValue:
		return e.Kind == KindInvalidValue || e.Kind == KindInvalidQuery
	}
	return false
}

// Warning reports keys that were ignored because the rule set of their
// fragment does not declare them.
type Warning struct {
	Path string   `json:"path"`
	Keys []string `json:"keys"`
}

func (w Warning) String() string {
	return fmt.Sprintf("schema %s: unknown keys %s ignored", w.Path, quoteAll(w.Keys))
}

func quoteAll(keys []string) string {
	q := make([]string, len(keys))
	for i, k := range keys {
		q[i] = fmt.Sprintf("%q", k)
	}
	return strings.Join(q, ", ")
}
