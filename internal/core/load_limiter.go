package core

// load_limiter.go bounds the number of document loads running at once.
//
// A load holds one slot from Acquire until Release. When every slot is taken
// a new load waits up to maxWait and then fails with ErrTooManyLoads, so a
// burst of requests queues briefly instead of piling work onto the store.

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyLoads is returned when no load slot frees up within the wait
// window. Clients should retry after a short delay.
var ErrTooManyLoads = errors.New("too many concurrent loads, please try again later")

// DefaultMaxConcurrentLoads is the default number of parallel loads.
const DefaultMaxConcurrentLoads = 5

// DefaultMaxWaitTime is how long a load waits for a slot before rejection.
const DefaultMaxWaitTime = 30 * time.Second

// LoadLimiter is a weighted semaphore over load slots with counters for
// status reporting.
type LoadLimiter struct {
	sem     *semaphore.Weighted
	max     int
	maxWait time.Duration

	mu      sync.Mutex
	active  int
	waiting int
	drained chan struct{}
}

// NewLoadLimiter returns a limiter allowing maxConcurrent loads. Non-positive
// arguments select the defaults.
func NewLoadLimiter(maxConcurrent int, maxWait time.Duration) *LoadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentLoads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &LoadLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     maxConcurrent,
		maxWait: maxWait,
	}
}

// Acquire takes a slot, waiting at most the configured wait time.
// Every successful Acquire must be paired with one Release.
func (l *LoadLimiter) Acquire(ctx context.Context) error {
	if l.TryAcquire() {
		return nil
	}

	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeoutCause(ctx, l.maxWait, ErrTooManyLoads)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyLoads
	}
	l.taken()
	return nil
}

// TryAcquire takes a slot only if one is free right now.
func (l *LoadLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.taken()
	return true
}

func (l *LoadLimiter) taken() {
	l.mu.Lock()
	l.active++
	l.mu.Unlock()
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *LoadLimiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 && l.drained != nil {
		close(l.drained)
		l.drained = nil
	}
	l.mu.Unlock()

	l.sem.Release(1)
}

// ActiveCount returns the number of loads holding a slot.
func (l *LoadLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *LoadLimiter) MaxConcurrent() int {
	return l.max
}

// Available returns the number of free slots.
func (l *LoadLimiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max - l.active
}

// WaitForDrain blocks until no load holds a slot or ctx is done.
// It is used on shutdown to let running loads finish.
func (l *LoadLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	if l.active == 0 {
		l.mu.Unlock()
		return nil
	}
	if l.drained == nil {
		l.drained = make(chan struct{})
	}
	drained := l.drained
	l.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadLimiterStatus is a snapshot of the limiter.
type LoadLimiterStatus struct {
	Active        int `json:"active"`
	Waiting       int `json:"waiting"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *LoadLimiter) Status() LoadLimiterStatus {
	l.mu.Lock()
	active, waiting := l.active, l.waiting
	l.mu.Unlock()

	return LoadLimiterStatus{
		Active:        active,
		Waiting:       waiting,
		Available:     l.max - active,
		MaxConcurrent: l.max,
	}
}
