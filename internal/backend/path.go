package backend

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Path is a parsed dot-path. Attr is set when the last segment selects an
// attribute ("link.@href").
type Path struct {
	Raw      string
	Segments []string
	Attr     string
}

// ParsePath parses a dot-separated path such as "channel.item" or
// "enclosure.@url". Only the last segment may start with '@'.
func ParsePath(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return Path{}, errors.New("empty path")
	}

	parts := strings.Split(path, ".")
	p := Path{Raw: path}

	for i, part := range parts {
		if part == "" {
			return Path{}, fmt.Errorf("invalid path %q: empty segment", path)
		}

		if strings.HasPrefix(part, "@") {
			if i != len(parts)-1 {
				return Path{}, fmt.Errorf("invalid path %q: attribute %q must be the last segment", path, part)
			}
			name := part[1:]
			if !isValidName(name) {
				return Path{}, fmt.Errorf("invalid path %q: invalid attribute name %q", path, name)
			}
			p.Attr = name
			continue
		}

		if part != "*" && !isValidName(part) {
			return Path{}, fmt.Errorf("invalid path %q: invalid name %q", path, part)
		}
		p.Segments = append(p.Segments, part)
	}

	return p, nil
}

// isValidName accepts element and key names: a letter or underscore followed
// by letters, digits, '_', '-' or ':'.
func isValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == ':'):
		default:
			return false
		}
	}
	return true
}
