// Package mapper loads source documents into entities as described by a
// validated schema.
//
// A load runs in two passes. Every entity type is materialized first, in
// schema order, so that relations can point at entities declared by any
// schema entry. Relations are wired in a second pass over the same nodes.
package mapper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/model"
	"github.com/JonMunkholm/docmapper/internal/schema"
)

// Option configures an Engine.
type Option func(*Engine)

// WithHooks sets the hook registry used to resolve hook names. The default
// is hook.Default().
func WithHooks(r *hook.Registry) Option {
	return func(e *Engine) { e.hooks = r }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMaxFailures caps the failure records kept per load. Zero keeps all.
func WithMaxFailures(n int) Option {
	return func(e *Engine) { e.maxFailures = n }
}

// Engine runs loads for one backend against one catalog and store. An
// Engine holds no per-load state; concurrent loads are safe when the store
// is.
type Engine struct {
	backend     backend.Backend
	catalog     *model.Catalog
	store       model.Store
	hooks       *hook.Registry
	log         *slog.Logger
	maxFailures int

	validator *schema.Validator
}

// New returns an Engine.
func New(b backend.Backend, catalog *model.Catalog, store model.Store, opts ...Option) *Engine {
	e := &Engine{
		backend:     b,
		catalog:     catalog,
		store:       store,
		hooks:       hook.Default(),
		log:         slog.Default(),
		maxFailures: DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.validator = schema.NewValidator(b, catalog, e.hooks)
	return e
}

// Backend returns the engine's backend.
func (e *Engine) Backend() backend.Backend { return e.backend }

// Compile validates a raw schema. Warnings are logged and kept on the
// returned schema.
func (e *Engine) Compile(raw any) (*schema.Schema, error) {
	s, err := e.validator.Validate(raw)
	if err != nil {
		return nil, err
	}
	for _, w := range s.Warnings {
		e.log.Warn("schema warning", "path", w.Path, "keys", w.Keys)
	}
	return s, nil
}

// Load reads the document at locator and loads it with raw.
func (e *Engine) Load(ctx context.Context, locator string, raw any) (*Stats, error) {
	stats := e.newStats(ctx)
	doc, err := backend.Open(ctx, e.backend, locator)
	if err != nil {
		stats.finish()
		return stats, err
	}
	return e.compileAndRun(ctx, doc, raw, stats)
}

// LoadReader loads the document read from r with raw.
func (e *Engine) LoadReader(ctx context.Context, r io.Reader, raw any) (*Stats, error) {
	stats := e.newStats(ctx)
	doc, err := backend.Load(e.backend, r, "")
	if err != nil {
		stats.finish()
		return stats, err
	}
	return e.compileAndRun(ctx, doc, raw, stats)
}

func (e *Engine) compileAndRun(ctx context.Context, doc backend.Node, raw any, stats *Stats) (*Stats, error) {
	s, err := e.Compile(raw)
	if err != nil {
		stats.finish()
		return stats, err
	}
	return e.run(ctx, doc, s, stats)
}

// Run loads an already parsed document with a compiled schema. The returned
// Stats reflect the progress made even when err is non-nil.
func (e *Engine) Run(ctx context.Context, doc backend.Node, s *schema.Schema) (*Stats, error) {
	return e.run(ctx, doc, s, e.newStats(ctx))
}

func (e *Engine) run(ctx context.Context, doc backend.Node, s *schema.Schema, stats *Stats) (*Stats, error) {
	defer stats.finish()
	stats.Warnings = s.Warnings

	log := e.log.With("load_id", stats.LoadID)
	log.Info("load started", "backend", e.backend.Name(), "entities", len(s.Entities))

	parsers := make([]*EntityParser, 0, len(s.Entities))
	for _, d := range s.Entities {
		parsers = append(parsers, NewEntityParser(d, e.store, log))
	}

	for _, p := range parsers {
		if err := p.Materialize(ctx, doc, stats); err != nil {
			log.Error("load aborted", "phase", PhaseMaterialize, "entity", p.Name(), "error", err)
			return stats, err
		}
	}
	for _, p := range parsers {
		if err := p.WireRelations(ctx, doc, stats); err != nil {
			log.Error("load aborted", "phase", PhaseWire, "entity", p.Name(), "error", err)
			return stats, err
		}
	}

	log.Info("load finished",
		"read", stats.Read,
		"loaded", stats.Loaded,
		"errors", stats.Errors,
		"duration_ms", time.Since(stats.Started).Milliseconds(),
	)
	return stats, nil
}

type loadIDKey struct{}

// ContextWithLoadID makes loads run with ctx report id instead of a fresh
// random one.
func ContextWithLoadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, loadIDKey{}, id)
}

func (e *Engine) newStats(ctx context.Context) *Stats {
	id, _ := ctx.Value(loadIDKey{}).(string)
	if id == "" {
		id = uuid.New().String()
	}
	return &Stats{
		LoadID:      id,
		Started:     time.Now(),
		maxFailures: e.maxFailures,
	}
}

// LoadDocument is a convenience for one-off loads with the default hooks.
func LoadDocument(ctx context.Context, b backend.Backend, catalog *model.Catalog, store model.Store, locator string, raw any) (*Stats, error) {
	stats, err := New(b, catalog, store).Load(ctx, locator, raw)
	if err != nil {
		return stats, fmt.Errorf("load %s: %w", locator, err)
	}
	return stats, nil
}
