package hook

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JonMunkholm/docmapper/internal/convert"
)

// Built-in hook names.
const (
	Identity = "identity"
	CapFirst = "capfirst"
	Lower    = "lower"
	Upper    = "upper"
	Title    = "title"
	Trim     = "trim"
	Clean    = "clean"
	Date     = "date"
	Numeric  = "numeric"
	Bool     = "bool"
)

func builtins() map[string]Func {
	return map[string]Func{
		Identity: func(v any) (any, error) { return v, nil },
		CapFirst: stringHook(capFirst),
		Lower:    caserHook(func() cases.Caser { return cases.Lower(language.Und) }),
		Upper:    caserHook(func() cases.Caser { return cases.Upper(language.Und) }),
		Title:    caserHook(func() cases.Caser { return cases.Title(language.Und) }),
		Trim:     stringHook(strings.TrimSpace),
		Clean:    stringHook(convert.CleanCell),
		Date:     parseDate,
		Numeric:  parseNumeric,
		Bool:     parseBool,
	}
}

func stringHook(fn func(string) string) Func {
	return func(v any) (any, error) {
		return fn(toString(v)), nil
	}
}

// caserHook builds a fresh Caser per call; Casers keep state and must not be
// shared between goroutines.
func caserHook(newCaser func() cases.Caser) Func {
	return stringHook(func(s string) string {
		return newCaser().String(s)
	})
}

// capFirst upper-cases the first letter and leaves the rest untouched.
func capFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return s
	}
	return cases.Upper(language.Und).String(string(r)) + s[size:]
}

func parseDate(v any) (any, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s := toString(v)
	t, ok := convert.ParseDate(s)
	if !ok {
		return nil, fmt.Errorf("invalid date: %q", s)
	}
	return t, nil
}

func parseNumeric(v any) (any, error) {
	if f, ok := v.(float64); ok {
		return f, nil
	}
	s := toString(v)
	f, ok := convert.ParseNumeric(s)
	if !ok {
		return nil, fmt.Errorf("invalid number: %q", s)
	}
	return f, nil
}

func parseBool(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	s := toString(v)
	b, ok := convert.ParseBool(s)
	if !ok {
		return nil, fmt.Errorf("invalid boolean: %q", s)
	}
	return b, nil
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
