package tally

// limiter.go bounds concurrent ingest work.
//
// Staging is bounded by a semaphore of configurable size. Confirm takes an
// additional single-slot lock so two applies never interleave, even when the
// store would allow it. Waiters give up after maxWait with ErrTooManyIngests.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyIngests is returned when no slot frees up within the wait limit.
var ErrTooManyIngests = errors.New("too many uploads in progress, please try again later")

const (
	DefaultMaxConcurrentIngests = 4
	DefaultMaxWaitTime          = 30 * time.Second
)

// Limiter controls concurrent stage and confirm operations.
type Limiter struct {
	slots   chan struct{}
	apply   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	active int
}

// NewLimiter allows maxConcurrent stage operations and one apply at a time.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentIngests
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		apply:   make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire takes a stage slot. Call the returned release exactly once.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.wait(ctx, l.slots); err != nil {
		return nil, err
	}
	l.track(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			l.track(-1)
			<-l.slots
		})
	}, nil
}

// AcquireApply takes a stage slot and the apply slot.
func (l *Limiter) AcquireApply(ctx context.Context) (release func(), err error) {
	releaseSlot, err := l.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.wait(ctx, l.apply); err != nil {
		releaseSlot()
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.apply
			releaseSlot()
		})
	}, nil
}

func (l *Limiter) wait(ctx context.Context, sem chan struct{}) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case sem <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyIngests
	}
}

func (l *Limiter) track(delta int) {
	l.mu.Lock()
	l.active += delta
	l.mu.Unlock()
}

// ActiveCount returns the number of operations holding a slot.
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WaitForDrain blocks until no operation holds a slot or ctx ends.
// Used during graceful shutdown.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter for health endpoints.
type LimiterStatus struct {
	Active        int  `json:"active"`
	Available     int  `json:"available"`
	MaxConcurrent int  `json:"max_concurrent"`
	Applying      bool `json:"applying"`
}

// Status returns the current limiter state.
func (l *Limiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
		Applying:      len(l.apply) > 0,
	}
}
