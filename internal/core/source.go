package core

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// utf8BOM is the byte order mark some Windows tools prepend to UTF-8 files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readSource reads src fully, bounded by MaxSourceSize, and normalizes it
// with cleanSource. A nil src or one holding only whitespace yields nil.
func (s *Service) readSource(src io.Reader) ([]byte, error) {
	if src == nil {
		return nil, nil
	}

	r := src
	if s.cfg.MaxSourceSize > 0 {
		r = io.LimitReader(src, s.cfg.MaxSourceSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	if s.cfg.MaxSourceSize > 0 && int64(len(data)) > s.cfg.MaxSourceSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, s.cfg.MaxSourceSize)
	}

	data = cleanSource(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

// cleanSource drops a leading BOM and replaces invalid UTF-8 sequences with
// U+FFFD. Both backends reject either otherwise. XML that declares another
// encoding is left as is for the markup backend to decode.
func cleanSource(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	if enc := declaredEncoding(data); enc != "" && enc != "utf-8" {
		return data
	}
	return bytes.ToValidUTF8(data, []byte("\uFFFD"))
}

var xmlEncodingRe = regexp.MustCompile(`^\s*<\?xml[^>]*?\sencoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// declaredEncoding returns the canonical name of the encoding named by an
// XML declaration, or "" when there is none. Unknown labels are returned
// lowercased as written.
func declaredEncoding(data []byte) string {
	m := xmlEncodingRe.FindSubmatch(data[:min(len(data), 256)])
	if m == nil {
		return ""
	}
	label := string(bytes.ToLower(m[1]))
	if _, name := charset.Lookup(label); name != "" {
		return name
	}
	return label
}
