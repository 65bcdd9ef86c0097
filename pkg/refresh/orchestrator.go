// Package refresh runs the snapshot refresh loop: an initial refresh, a fixed interval and
// debounced on-demand requests, all serialized through one consumer.
package refresh

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubestellar/pgboard/pkg/metrics"
	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/snapshot"
)

// BuildFunc builds a complete new snapshot in isolation
type BuildFunc[T any] func(ctx context.Context) (T, error)

// Options tunes refresh triggering
type Options struct {
	// Interval between unconditional refreshes; zero disables the ticker
	Interval time.Duration
	// Debounce is the quiet period after the last request before refreshing
	Debounce time.Duration
	// MaxWait caps how long the first pending request may wait; zero means Debounce
	MaxWait time.Duration
}

// Orchestrator owns the refresh loop for one snapshot store
type Orchestrator[T any] struct {
	store    *snapshot.Store[T]
	build    BuildFunc[T]
	opts     Options
	logger   *zap.Logger
	metrics  *metrics.Recorder
	requests chan struct{}

	mu        sync.Mutex // serializes refreshes
	listeners []func(models.CachedSnapshot[T])
}

// New creates an Orchestrator publishing into store
func New[T any](store *snapshot.Store[T], build BuildFunc[T], opts Options, logger *zap.Logger, recorder *metrics.Recorder) *Orchestrator[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxWait <= 0 || opts.MaxWait < opts.Debounce {
		opts.MaxWait = opts.Debounce
	}
	return &Orchestrator[T]{
		store:    store,
		build:    build,
		opts:     opts,
		logger:   logger.Named("refresh"),
		metrics:  recorder,
		requests: make(chan struct{}, 1),
	}
}

// OnPublish registers fn to be called after every successful publish. Register before Run.
func (o *Orchestrator[T]) OnPublish(fn func(models.CachedSnapshot[T])) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// Request schedules a debounced refresh. It never blocks; requests made while one is
// pending or while a refresh runs are coalesced.
func (o *Orchestrator[T]) Request() {
	select {
	case o.requests <- struct{}{}:
	default:
	}
}

// RefreshNow builds and publishes synchronously. On error the previous snapshot stays published.
func (o *Orchestrator[T]) RefreshNow(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	data, err := o.safeBuild(ctx)
	o.metrics.ObserveRefresh(time.Since(start), err)
	if err != nil {
		o.logger.Error("refresh failed, keeping previous snapshot", zap.Error(err))
		return err
	}

	published := o.store.Publish(data)
	o.metrics.SetLastRefresh(published.LastRefresh)
	o.logger.Debug("snapshot published",
		zap.String("refreshId", published.RefreshID),
		zap.Duration("took", time.Since(start)))

	for _, fn := range o.listeners {
		fn(published)
	}
	return nil
}

// Run refreshes once, then serves interval ticks and debounced requests until ctx is done
func (o *Orchestrator[T]) Run(ctx context.Context) error {
	_ = o.RefreshNow(ctx)

	var tick <-chan time.Time
	if o.opts.Interval > 0 {
		ticker := time.NewTicker(o.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var (
		pending      bool
		firstRequest time.Time
		fire         <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			_ = o.RefreshNow(ctx)
		case <-o.requests:
			now := time.Now()
			if !pending {
				pending = true
				firstRequest = now
			}
			deadline := now.Add(o.opts.Debounce)
			if maxDeadline := firstRequest.Add(o.opts.MaxWait); deadline.After(maxDeadline) {
				deadline = maxDeadline
			}
			if !timer.Stop() && fire != nil {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Until(deadline))
			fire = timer.C
		case <-fire:
			pending = false
			fire = nil
			_ = o.RefreshNow(ctx)
		}
	}
}

func (o *Orchestrator[T]) safeBuild(ctx context.Context) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("refresh panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()
	return o.build(ctx)
}
