package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/docmapper/internal/backend"
	"github.com/JonMunkholm/docmapper/internal/config"
	"github.com/JonMunkholm/docmapper/internal/hook"
	"github.com/JonMunkholm/docmapper/internal/logging"
	"github.com/JonMunkholm/docmapper/internal/mapper"
	"github.com/JonMunkholm/docmapper/internal/metrics"
	"github.com/JonMunkholm/docmapper/internal/model"
)

var (
	// ErrLoadNotFound is returned for an unknown or expired load id.
	ErrLoadNotFound = errors.New("load not found")

	// ErrSourceTooLarge is returned when a document exceeds MaxSourceSize.
	ErrSourceTooLarge = errors.New("source too large")

	// ErrEmptySource is returned when a load has no document and its
	// mapping has no default source.
	ErrEmptySource = errors.New("empty source")

	// ErrUnknownBackend is returned for a mapping whose backend is not
	// registered.
	ErrUnknownBackend = errors.New("unknown backend")
)

// LoadStatus is the lifecycle state of a load.
type LoadStatus string

const (
	LoadRunning LoadStatus = "running"
	LoadClean   LoadStatus = "clean"
	LoadPartial LoadStatus = "partial"
	LoadFailed  LoadStatus = "failed"
)

// Done reports whether the load has finished.
func (s LoadStatus) Done() bool {
	return s != LoadRunning
}

// LoadRecord describes one load. Stats is set once the load has run, even
// when it failed part way.
type LoadRecord struct {
	ID       string        `json:"id"`
	Mapping  string        `json:"mapping"`
	Status   LoadStatus    `json:"status"`
	Source   string        `json:"source,omitempty"`
	Client   Client        `json:"client"`
	Started  time.Time     `json:"started"`
	Finished *time.Time    `json:"finished,omitempty"`
	Stats    *mapper.Stats `json:"stats,omitempty"`
	Error    *UserMessage  `json:"error,omitempty"`

	err error
}

// Err returns the fatal error of a failed load.
func (r LoadRecord) Err() error {
	return r.err
}

type activeLoad struct {
	mu     sync.RWMutex
	record LoadRecord
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *activeLoad) snapshot() LoadRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.record
}

// Service runs loads of registered mappings against one catalog and store.
type Service struct {
	catalog *model.Catalog
	store   model.Store
	hooks   *hook.Registry
	metrics *metrics.Metrics
	cfg     config.LoadConfig
	limiter *LoadLimiter

	mu    sync.RWMutex
	loads map[string]*activeLoad
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithHookRegistry sets the hooks mappings may name. The default is
// hook.Default().
func WithHookRegistry(r *hook.Registry) ServiceOption {
	return func(s *Service) { s.hooks = r }
}

// WithMetrics records load metrics on m.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service. The catalog and store must be ready for use;
// the store is expected to be migrated already.
func NewService(catalog *model.Catalog, store model.Store, cfg config.LoadConfig, opts ...ServiceOption) *Service {
	s := &Service{
		catalog: catalog,
		store:   store,
		hooks:   hook.Default(),
		cfg:     cfg,
		limiter: NewLoadLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		loads:   make(map[string]*activeLoad),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the entity catalog loads write to.
func (s *Service) Catalog() *model.Catalog {
	return s.catalog
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the store when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Hooks returns the hook registry mappings are resolved against.
func (s *Service) Hooks() *hook.Registry {
	return s.hooks
}

func (s *Service) engine(ctx context.Context, m *Mapping) (*mapper.Engine, error) {
	b, err := backend.Get(m.Backend)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w: %q", m.Name, ErrUnknownBackend, m.Backend)
	}
	return mapper.New(b, s.catalog, s.store,
		mapper.WithHooks(s.hooks),
		mapper.WithLogger(logging.WithFields(ctx, "mapping", m.Name)),
		mapper.WithMaxFailures(s.cfg.MaxFailures),
	), nil
}

// Prepare validates the schema of m against the catalog and stores the
// compiled result on m.
func (s *Service) Prepare(m *Mapping) error {
	eng, err := s.engine(context.Background(), m)
	if err != nil {
		return err
	}
	compiled, err := eng.Compile(m.Raw)
	if err != nil {
		return fmt.Errorf("mapping %s: %w", m.Name, err)
	}
	m.Schema = compiled
	return nil
}

// RegisterMappings prepares every mapping and, if all are valid, replaces
// the registered set with them. On error the registry is left unchanged.
func (s *Service) RegisterMappings(mappings []*Mapping) error {
	var errs []error
	for _, m := range mappings {
		if err := s.Prepare(m); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := Replace(mappings); err != nil {
		return err
	}
	s.metrics.SetMappings(len(mappings))
	return nil
}

// ReloadMappings reads dir and registers its mappings. Files listed in skip
// are ignored.
func (s *Service) ReloadMappings(dir string, skip ...string) error {
	mappings, err := LoadMappingDir(dir, skip...)
	if err == nil {
		err = s.RegisterMappings(mappings)
	}
	s.metrics.MappingsReloaded(err)
	if err != nil {
		return err
	}

	slog.Info("mappings loaded", "dir", dir, "count", len(mappings))
	return nil
}

// ListMappings returns the registered mappings sorted by name.
func (s *Service) ListMappings() []*Mapping {
	return All()
}

// GetMapping returns the mapping registered under name.
func (s *Service) GetMapping(name string) (*Mapping, error) {
	m, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMappingNotFound, name)
	}
	return m, nil
}

// LoadTimeout returns the maximum duration of one load.
func (s *Service) LoadTimeout() time.Duration {
	if s.cfg.Timeout <= 0 {
		return 10 * time.Minute
	}
	return s.cfg.Timeout
}

func (s *Service) resultTTL() time.Duration {
	if s.cfg.ResultTTL <= 0 {
		return 30 * time.Minute
	}
	return s.cfg.ResultTTL
}

// StartLoad begins an asynchronous load of the document read from src with
// the mapping registered under name and returns the load id. A nil or empty
// src loads the mapping's default source instead.
//
// Returns ErrTooManyLoads if no load slot frees up in time.
func (s *Service) StartLoad(ctx context.Context, name string, src io.Reader) (string, error) {
	m, err := s.GetMapping(name)
	if err != nil {
		return "", err
	}

	data, err := s.readSource(src)
	if err != nil {
		return "", err
	}
	locator := "request"
	if data == nil {
		if m.Source == "" {
			return "", fmt.Errorf("mapping %s: %w", name, ErrEmptySource)
		}
		locator = m.Source
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ErrTooManyLoads) {
			s.metrics.LoadRejected(name)
		}
		return "", err
	}

	loadID := uuid.New().String()
	loadCtx, cancel := context.WithTimeout(context.Background(), s.LoadTimeout())
	loadCtx = mapper.ContextWithLoadID(loadCtx, loadID)

	l := &activeLoad{
		record: LoadRecord{
			ID:      loadID,
			Mapping: name,
			Status:  LoadRunning,
			Source:  locator,
			Client:  ClientFromContext(ctx),
			Started: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.loads[loadID] = l
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in load", "load_id", loadID, "mapping", name, "panic", r)
				s.finish(l, nil, fmt.Errorf("internal error: %v", r))
			}
		}()
		s.processLoad(loadCtx, l, m, data)
	}()

	return loadID, nil
}

func (s *Service) processLoad(ctx context.Context, l *activeLoad, m *Mapping, data []byte) {
	s.metrics.LoadStarted()

	eng, err := s.engine(ctx, m)
	if err != nil {
		s.finish(l, nil, err)
		return
	}

	var doc backend.Node
	if data != nil {
		doc, err = backend.Load(eng.Backend(), bytes.NewReader(data), l.record.Source)
	} else {
		doc, err = backend.Open(ctx, eng.Backend(), l.record.Source)
	}
	if err != nil {
		s.finish(l, nil, err)
		return
	}

	stats, err := eng.Run(ctx, doc, m.Schema)
	s.finish(l, stats, err)
}

// finish records the outcome of a load and schedules its removal.
func (s *Service) finish(l *activeLoad, stats *mapper.Stats, err error) {
	now := time.Now()

	l.mu.Lock()
	if l.record.Status.Done() {
		l.mu.Unlock()
		return
	}
	l.record.Finished = &now
	l.record.Stats = stats
	switch {
	case err != nil:
		l.record.Status = LoadFailed
		l.record.err = err
		msg := MapError(err)
		l.record.Error = &msg
	case stats.Clean():
		l.record.Status = LoadClean
	default:
		l.record.Status = LoadPartial
	}
	record := l.record
	l.mu.Unlock()

	var read, loaded, failed int
	if stats != nil {
		read, loaded, failed = stats.Read, stats.Loaded, stats.Errors
	}
	s.metrics.LoadFinished(record.Mapping, string(record.Status), read, loaded, failed, now.Sub(record.Started).Seconds())

	log := slog.With("load_id", record.ID, "mapping", record.Mapping)
	if err != nil {
		log.Error("load failed", "error", err, "code", record.Error.Code)
	} else {
		log.Info("load completed", "status", record.Status, "read", read, "loaded", loaded, "errors", failed)
	}

	close(l.done)
	s.cleanup(record.ID, s.resultTTL())
}

// cleanup forgets a finished load after delay.
func (s *Service) cleanup(loadID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.loads, loadID)
		s.mu.Unlock()
	})
}

func (s *Service) lookup(loadID string) (*activeLoad, error) {
	s.mu.RLock()
	l, ok := s.loads[loadID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoadNotFound, loadID)
	}
	return l, nil
}

// Result returns the current record of a load without waiting.
func (s *Service) Result(loadID string) (LoadRecord, error) {
	l, err := s.lookup(loadID)
	if err != nil {
		return LoadRecord{}, err
	}
	return l.snapshot(), nil
}

// Wait blocks until the load finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, loadID string) (LoadRecord, error) {
	l, err := s.lookup(loadID)
	if err != nil {
		return LoadRecord{}, err
	}

	select {
	case <-l.done:
		return l.snapshot(), nil
	case <-ctx.Done():
		return l.snapshot(), ctx.Err()
	}
}

// RunLoad loads synchronously and returns the finished record. The error is
// the load's fatal error, if any; a partial load is not an error.
func (s *Service) RunLoad(ctx context.Context, name string, src io.Reader) (LoadRecord, error) {
	id, err := s.StartLoad(ctx, name, src)
	if err != nil {
		return LoadRecord{}, err
	}

	record, err := s.Wait(ctx, id)
	if err != nil {
		return record, err
	}
	return record, record.err
}

// CancelLoad cancels a running load.
func (s *Service) CancelLoad(loadID string) error {
	l, err := s.lookup(loadID)
	if err != nil {
		return err
	}
	l.cancel()
	return nil
}

// ListLoads returns the known loads, newest first.
func (s *Service) ListLoads() []LoadRecord {
	s.mu.RLock()
	records := make([]LoadRecord, 0, len(s.loads))
	for _, l := range s.loads {
		records = append(records, l.snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Started.After(records[j].Started)
	})
	return records
}

// LimiterStatus returns the load limiter state.
func (s *Service) LimiterStatus() LoadLimiterStatus {
	return s.limiter.Status()
}

// WaitForLoads blocks until running loads finish or ctx is done.
func (s *Service) WaitForLoads(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
