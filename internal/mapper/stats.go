package mapper

import (
	"errors"
	"time"

	"github.com/JonMunkholm/docmapper/internal/schema"
)

// Phase names the pass a failure happened in.
type Phase string

const (
	PhaseMaterialize Phase = "materialize"
	PhaseWire        Phase = "wire"
)

// DefaultMaxFailures caps the failure records kept in Stats.
const DefaultMaxFailures = 100

// Failure records one node that could not be loaded.
type Failure struct {
	Entity  string `json:"entity"`
	Node    int    `json:"node"`
	Phase   Phase  `json:"phase"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Stats summarizes one load. Read counts visited nodes, Loaded counts
// entities created by the materialize pass and Errors counts nodes that
// failed in either pass.
type Stats struct {
	LoadID     string           `json:"load_id"`
	Read       int              `json:"read"`
	Loaded     int              `json:"loaded"`
	Errors     int              `json:"errors"`
	Failures   []Failure        `json:"failures,omitempty"`
	Truncated  bool             `json:"failures_truncated,omitempty"`
	Warnings   []schema.Warning `json:"warnings,omitempty"`
	Started    time.Time        `json:"started"`
	Duration   time.Duration    `json:"-"`
	DurationMS int64            `json:"duration_ms"`

	maxFailures int
}

// Clean reports whether every node was loaded.
func (s *Stats) Clean() bool {
	return s.Errors == 0
}

func (s *Stats) fail(entity string, node int, phase Phase, err error) {
	s.Errors++
	if s.maxFailures > 0 && len(s.Failures) >= s.maxFailures {
		s.Truncated = true
		return
	}

	f := Failure{Entity: entity, Node: node, Phase: phase, Message: err.Error()}
	var qe *QueryError
	var he *HookError
	switch {
	case errors.As(err, &qe):
		f.Field = qe.Field
	case errors.As(err, &he):
		f.Field = he.Field
	}
	s.Failures = append(s.Failures, f)
}

func (s *Stats) finish() {
	s.Duration = time.Since(s.Started)
	s.DurationMS = s.Duration.Milliseconds()
}
