package watch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/kubestellar/pgboard/pkg/k8s"
	"github.com/kubestellar/pgboard/pkg/metrics"
	"github.com/kubestellar/pgboard/pkg/models"
)

const defaultStableAfter = 10 * time.Second

var (
	errStreamClosed = errors.New("watch stream closed")
	errCRDMissing   = errors.New("crd not installed")
)

// Options tunes reconnects
type Options struct {
	// BackoffInitial is the delay before the second consecutive reconnect; the first is immediate
	BackoffInitial time.Duration
	// BackoffMax caps the reconnect delay
	BackoffMax time.Duration
	// StableAfter is how long a watch must stay open to count as healthy when it saw no events
	StableAfter time.Duration
}

// Router runs one list-then-watch stream per cluster and watched resource, applies the events
// to a Store and calls trigger after every change.
type Router struct {
	client  *k8s.MultiClusterClient
	fetcher *k8s.Fetcher
	store   *Store
	trigger func()
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Recorder

	mu       sync.Mutex
	parent   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	contexts []string
}

// NewRouter creates a Router. trigger may be nil.
func NewRouter(client *k8s.MultiClusterClient, fetcher *k8s.Fetcher, store *Store, trigger func(), opts Options, logger *zap.Logger, recorder *metrics.Recorder) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if trigger == nil {
		trigger = func() {}
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = time.Second
	}
	if opts.BackoffMax < opts.BackoffInitial {
		opts.BackoffMax = 30 * opts.BackoffInitial
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = defaultStableAfter
	}
	return &Router{
		client:  client,
		fetcher: fetcher,
		store:   store,
		trigger: trigger,
		opts:    opts,
		logger:  logger.Named("watch"),
		metrics: recorder,
	}
}

// Start launches the streams for contexts. They run until Stop or until ctx is cancelled.
func (r *Router) Start(ctx context.Context, contexts []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.parent = ctx
	r.startLocked(contexts)
}

// Resync restarts every stream for a new set of contexts, as after a kubeconfig reload.
// State of clusters that are no longer watched is dropped.
func (r *Router) Resync(contexts []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.parent == nil {
		return
	}
	r.stopLocked()

	keep := make(map[string]bool, len(contexts))
	for _, c := range contexts {
		keep[c] = true
	}
	for _, c := range r.store.Clusters() {
		if !keep[c] {
			r.store.Delete(c)
			r.metrics.WatchStoreSize(c, 0)
		}
	}

	r.logger.Info("resyncing watches", zap.Strings("contexts", contexts))
	r.startLocked(contexts)
	r.trigger()
}

// Stop ends every stream and waits for them to return
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Contexts returns the clusters currently watched
func (r *Router) Contexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.contexts...)
}

func (r *Router) startLocked(contexts []string) {
	ctx, cancel := context.WithCancel(r.parent)
	r.cancel = cancel
	r.contexts = append([]string(nil), contexts...)

	for _, cluster := range contexts {
		for _, rt := range k8s.WatchedResources {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.run(ctx, cluster, rt)
			}()
		}
	}
}

func (r *Router) stopLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.wg.Wait()
}

// run keeps one stream alive. The first reconnect after a healthy stream is immediate;
// consecutive failures back off exponentially up to BackoffMax.
func (r *Router) run(ctx context.Context, cluster string, rt k8s.ResourceType) {
	logger := r.logger.With(zap.String("cluster", cluster), zap.String("kind", rt.Kind))
	backoff := r.backoff()
	failures := 0

	for {
		healthy, err := r.stream(ctx, cluster, rt, logger)
		if ctx.Err() != nil {
			return
		}
		if healthy {
			backoff = r.backoff()
			failures = 0
		}

		var delay time.Duration
		if failures > 0 {
			delay = backoff.Step()
		}
		failures++

		if errors.Is(err, errCRDMissing) {
			logger.Debug("crd missing, probing again later", zap.Duration("delay", delay))
		} else {
			r.metrics.WatchReconnect(cluster, rt.Kind)
			logger.Info("watch ended, reconnecting", zap.Duration("delay", delay), zap.Error(err))
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

// stream lists rt, replaces its state in the store and then follows the watch from the
// listed resource version. It reports whether the watch was healthy: it delivered an event
// or stayed open for at least StableAfter.
func (r *Router) stream(ctx context.Context, cluster string, rt k8s.ResourceType, logger *zap.Logger) (bool, error) {
	if !r.fetcher.Available(ctx, cluster, rt) {
		if r.store.Len(cluster) > 0 {
			r.store.Replace(cluster, rt.Kind, nil)
		}
		return false, errCRDMissing
	}

	objs, resourceVersion, err := r.fetcher.List(ctx, cluster, rt)
	if err != nil {
		return false, err
	}
	r.store.Replace(cluster, rt.Kind, objs)
	r.metrics.WatchStoreSize(cluster, r.store.Len(cluster))
	r.trigger()

	dyn, err := r.client.GetDynamicClient(cluster)
	if err != nil {
		return false, k8s.NewAPIError(cluster, err)
	}
	w, err := dyn.Resource(rt.GVR).Namespace(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return false, k8s.NewAPIError(cluster, fmt.Errorf("watch %s: %w", rt.GVR.Resource, err))
	}
	defer w.Stop()
	logger.Debug("watch established", zap.String("resourceVersion", resourceVersion), zap.Int("listed", len(objs)))

	established := time.Now()
	delivered := false
	healthy := func() bool {
		return delivered || time.Since(established) >= r.opts.StableAfter
	}
	for {
		select {
		case <-ctx.Done():
			return healthy(), ctx.Err()
		case ev, ok := <-w.ResultChan():
			if !ok {
				return healthy(), errStreamClosed
			}
			switch ev.Type {
			case watch.Bookmark:
				continue
			case watch.Error:
				return healthy(), k8s.NewAPIError(cluster, apierrors.FromObject(ev.Object))
			}
			delivered = true
			r.handle(cluster, rt, ev, logger)
		}
	}
}

func (r *Router) handle(cluster string, rt k8s.ResourceType, ev watch.Event, logger *zap.Logger) {
	u, ok := ev.Object.(*unstructured.Unstructured)
	if !ok || u.GetKind() == "" || u.GetName() == "" {
		logger.Warn("dropping malformed watch event", zap.String("type", string(ev.Type)))
		r.metrics.InvalidObject(cluster, rt.Kind)
		return
	}

	obj, err := models.Decode(rt.Kind, u)
	if err != nil {
		logger.Warn("dropping invalid object", zap.String("type", string(ev.Type)), zap.Error(err))
		r.metrics.InvalidObject(cluster, rt.Kind)
		return
	}

	if !r.store.Apply(cluster, rt.Kind, ev.Type, obj) {
		return
	}
	r.metrics.WatchEvent(cluster, rt.Kind, string(ev.Type))
	r.metrics.WatchStoreSize(cluster, r.store.Len(cluster))
	r.trigger()
}

func (r *Router) backoff() wait.Backoff {
	return wait.Backoff{
		Duration: r.opts.BackoffInitial,
		Factor:   2,
		Jitter:   0.2,
		Steps:    math.MaxInt32,
		Cap:      r.opts.BackoffMax,
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
