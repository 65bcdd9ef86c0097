// Package snapshot holds the single published dashboard snapshot.
package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kubestellar/pgboard/pkg/models"
)

// Store publishes immutable CachedSnapshot values. Readers never block and always see a
// data/lastRefresh pair from the same publish.
type Store[T any] struct {
	current atomic.Pointer[models.CachedSnapshot[T]]
	mu      sync.Mutex
	now     func() time.Time
}

// Option configures a Store
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp publishes
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewStore creates a Store holding initial with a zero LastRefresh
func NewStore[T any](initial T, opts ...Option) *Store[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store[T]{now: o.now}
	s.current.Store(&models.CachedSnapshot[T]{Data: initial})
	return s
}

// Get returns the latest published snapshot. The value must be treated as read-only.
func (s *Store[T]) Get() models.CachedSnapshot[T] {
	return *s.current.Load()
}

// Ready reports whether at least one refresh has been published
func (s *Store[T]) Ready() bool {
	return !s.current.Load().LastRefresh.IsZero()
}

// Publish replaces the snapshot. LastRefresh strictly increases across publishes even if the clock does not.
func (s *Store[T]) Publish(data T) models.CachedSnapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	ts := s.now()
	if !ts.After(prev.LastRefresh) {
		ts = prev.LastRefresh.Add(time.Nanosecond)
	}

	next := &models.CachedSnapshot[T]{
		Data:        data,
		LastRefresh: ts,
		RefreshID:   uuid.NewString(),
	}
	s.current.Store(next)
	return *next
}
