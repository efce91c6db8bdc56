package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup returns the raw value of a variable and whether it is set.
type Lookup func(name string) (string, bool)

// Load reads configuration from environment variables, applies defaults and
// validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an explicit variable source. Every unset required
// variable and every unparsable value is reported, not only the first.
func LoadFrom(lookup Lookup) (*Config, error) {
	cfg := &Config{}

	l := loader{lookup: lookup}
	l.fill(reflect.ValueOf(cfg).Elem())
	if err := errors.Join(l.errs...); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error. Only main should use it.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

type loader struct {
	lookup Lookup
	errs   []error
}

// get returns the first non-empty value among names.
func (l *loader) get(names ...string) string {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v, ok := l.lookup(n); ok && v != "" {
			return v
		}
	}
	return ""
}

// fill walks the struct tree and sets every field carrying an env tag.
func (l *loader) fill(v reflect.Value) {
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if f.Type.Kind() == reflect.Struct {
			l.fill(fv)
			continue
		}

		name := f.Tag.Get("env")
		if name == "" {
			continue
		}
		value := l.get(name, f.Tag.Get("envAlt"))
		if value == "" {
			if f.Tag.Get("required") == "true" {
				l.errs = append(l.errs, fmt.Errorf("required environment variable %s is not set", name))
				continue
			}
			value = f.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		parse, ok := parsers[f.Type]
		if !ok {
			l.errs = append(l.errs, fmt.Errorf("%s: unsupported field type %s", name, f.Type))
			continue
		}
		parsed, err := parse(value)
		if err != nil {
			l.errs = append(l.errs, fmt.Errorf("invalid value for %s=%q: %w", name, value, err))
			continue
		}
		fv.Set(reflect.ValueOf(parsed).Convert(f.Type))
	}
}

var parsers = map[reflect.Type]func(string) (any, error){
	reflect.TypeOf(""): func(s string) (any, error) { return s, nil },
	reflect.TypeOf(0): func(s string) (any, error) {
		return strconv.Atoi(strings.TrimSpace(s))
	},
	reflect.TypeOf(int64(0)): func(s string) (any, error) {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	},
	reflect.TypeOf(false): func(s string) (any, error) {
		return strconv.ParseBool(strings.TrimSpace(s))
	},
	reflect.TypeOf(time.Duration(0)): func(s string) (any, error) {
		return time.ParseDuration(strings.TrimSpace(s))
	},
	reflect.TypeOf([]string(nil)): func(s string) (any, error) {
		return splitList(s), nil
	},
}

// splitList splits a comma separated list, dropping blanks.
func splitList(s string) []string {
	out := make([]string, 0, strings.Count(s, ",")+1)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// problems collects validation failures.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is usable and reports every
// failure at once.
func (c *Config) Validate() error {
	var p problems

	db := c.Database
	p.check(db.URL != "", "DATABASE_URL is required")
	p.check(oneOf(db.Driver, "postgres", "sqlite"), "DB_DRIVER (%q) must be one of: postgres, sqlite", db.Driver)
	p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	p.check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	p.check(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	p.check(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	p.check(c.Mapping.Dir != "", "MAPPING_DIR is required")
	p.check(c.Mapping.Catalog != "", "MAPPING_CATALOG is required")

	ld := c.Load
	p.check(ld.MaxSourceSize > 0, "LOAD_MAX_SOURCE_SIZE must be positive")
	p.check(ld.MaxConcurrent > 0, "LOAD_MAX_CONCURRENT must be positive")
	p.check(ld.MaxWaitTime > 0, "LOAD_MAX_WAIT_TIME must be positive")
	p.check(ld.Timeout > 0, "LOAD_TIMEOUT must be positive")
	p.check(ld.ResultTTL > 0, "LOAD_RESULT_TTL must be positive")
	p.check(ld.MaxFailures >= 0, "LOAD_MAX_FAILURES must be non-negative")

	if c.Rate.Enabled {
		p.check(c.Rate.RequestsPerMinute > 0, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
		p.check(c.Rate.LoadLimit > 0, "RATE_LIMIT_LOAD must be positive when rate limiting is enabled")
	}

	p.check(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")

	p.check(oneOf(c.Logging.Level, "debug", "info", "warn", "error"),
		"LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	p.check(oneOf(c.Logging.Format, "text", "json"),
		"LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)

	p.check(!c.Metrics.Enabled || strings.HasPrefix(c.Metrics.Path, "/"),
		"METRICS_PATH (%q) must start with /", c.Metrics.Path)

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

// String renders the config for logging with the database URL and API keys
// masked.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config{Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {URL: [MASKED], Driver: %q, MaxConns: %d, MinConns: %d, AutoMigrate: %v}, ",
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns, c.Database.AutoMigrate)
	fmt.Fprintf(&b, "Mapping: {Dir: %q, Catalog: %q, Watch: %v}, ", c.Mapping.Dir, c.Mapping.Catalog, c.Mapping.Watch)
	fmt.Fprintf(&b, "Load: {MaxSourceSize: %d, MaxConcurrent: %d, Timeout: %s}, ",
		c.Load.MaxSourceSize, c.Load.MaxConcurrent, c.Load.Timeout)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ", c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {APIKeys: %d configured, RequireAPIKey: %v}, ", len(c.Security.APIKeys), c.Security.RequireAPIKey)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}, ", c.Logging.Level, c.Logging.Format)
	fmt.Fprintf(&b, "Metrics: {Enabled: %v, Path: %q}}", c.Metrics.Enabled, c.Metrics.Path)
	return b.String()
}
