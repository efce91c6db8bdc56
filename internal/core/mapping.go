package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JonMunkholm/docmapper/internal/schema"
	"gopkg.in/yaml.v3"
)

// ErrMappingNotFound is returned when no mapping is registered under a name.
var ErrMappingNotFound = errors.New("mapping not found")

// ErrInvalidMapping is returned for a mapping file that cannot be used.
var ErrInvalidMapping = errors.New("invalid mapping")

// Mapping is a named schema bound to a backend. Mappings are read from YAML
// files in the mapping directory:
//
//	name: news
//	description: RSS news items
//	backend: xml
//	source: https://example.com/feed.xml
//	schema:
//	  News:
//	    query: channel.item
//	    fields:
//	      title: {query: title, hook: capfirst}
type Mapping struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Backend     string `json:"backend"`
	Source      string `json:"source,omitempty"`
	File        string `json:"file,omitempty"`

	Raw    *schema.Map    `json:"-"`
	Schema *schema.Schema `json:"-"`
}

type mappingFile struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Backend     string    `yaml:"backend"`
	Source      string    `yaml:"source"`
	Schema      yaml.Node `yaml:"schema"`
}

// Entities returns the entity names of the mapping in declaration order.
func (m *Mapping) Entities() []string {
	if m.Schema != nil {
		names := make([]string, len(m.Schema.Entities))
		for i, e := range m.Schema.Entities {
			names[i] = e.Name
		}
		return names
	}
	if m.Raw != nil {
		return m.Raw.Keys()
	}
	return nil
}

// ParseMapping decodes a mapping document. The schema is kept raw; it is
// validated when the mapping is registered with a Service.
func ParseMapping(data []byte) (*Mapping, error) {
	var f mappingFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	m := &Mapping{
		Name:        strings.TrimSpace(f.Name),
		Description: strings.TrimSpace(f.Description),
		Backend:     strings.ToLower(strings.TrimSpace(f.Backend)),
		Source:      strings.TrimSpace(f.Source),
	}
	if m.Backend == "" {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidMapping)
	}
	if f.Schema.Kind == 0 {
		return nil, fmt.Errorf("%w: schema is required", ErrInvalidMapping)
	}

	raw, err := schema.FromNode(&f.Schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	doc, ok := raw.(*schema.Map)
	if !ok {
		return nil, fmt.Errorf("%w: schema must be a mapping of entity types", ErrInvalidMapping)
	}
	m.Raw = doc
	return m, nil
}

// LoadMappingFile reads one mapping file. A mapping without a name is named
// after its file.
func LoadMappingFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file %s: %w", path, err)
	}

	m, err := ParseMapping(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Name == "" {
		base := filepath.Base(path)
		m.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	m.File = path
	return m, nil
}

// IsMappingFile reports whether path has a mapping file extension.
func IsMappingFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadMappingDir reads every mapping file in dir, sorted by file name.
// The catalog file is skipped when it lives in the same directory.
func LoadMappingDir(dir string, skip ...string) ([]*Mapping, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping directory %s: %w", dir, err)
	}

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		if abs, err := filepath.Abs(s); err == nil {
			skipped[abs] = true
		}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsMappingFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if abs, err := filepath.Abs(path); err == nil && skipped[abs] {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)

	var errs []error
	seen := make(map[string]string)
	mappings := make([]*Mapping, 0, len(files))
	for _, path := range files {
		m, err := LoadMappingFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, dup := seen[m.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: %w: name %q already used by %s", path, ErrInvalidMapping, m.Name, prev))
			continue
		}
		seen[m.Name] = path
		mappings = append(mappings, m)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return mappings, nil
}
