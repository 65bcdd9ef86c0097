package k8s

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"

	"github.com/kubestellar/pgboard/pkg/metrics"
	"github.com/kubestellar/pgboard/pkg/models"
)

const listPageSize = 500

// Fetcher lists the watched resources of a cluster in one shot
type Fetcher struct {
	client  *MultiClusterClient
	logger  *zap.Logger
	metrics *metrics.Recorder
	timeout time.Duration

	mu         sync.Mutex
	missingCRD map[string]bool
}

// NewFetcher creates a Fetcher. timeout bounds each list call; zero means no bound.
func NewFetcher(client *MultiClusterClient, logger *zap.Logger, recorder *metrics.Recorder, timeout time.Duration) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:     client,
		logger:     logger.Named("fetch"),
		metrics:    recorder,
		timeout:    timeout,
		missingCRD: make(map[string]bool),
	}
}

// FetchAll lists every watched kind concurrently. A failing kind is logged and left empty;
// only a cluster whose client cannot be built returns an error.
func (f *Fetcher) FetchAll(ctx context.Context, cluster string) (*models.ResourceSet, error) {
	dyn, err := f.client.GetDynamicClient(cluster)
	if err != nil {
		return nil, NewAPIError(cluster, err)
	}

	results := make([][]metav1.Object, len(WatchedResources))
	var g errgroup.Group
	for i, rt := range WatchedResources {
		g.Go(func() error {
			if !f.Available(ctx, cluster, rt) {
				return nil
			}
			objs, _, err := f.list(ctx, dyn, cluster, rt)
			if err != nil {
				f.logger.Warn("list failed, kind left empty",
					zap.String("cluster", cluster),
					zap.String("kind", rt.Kind),
					zap.Error(err))
				f.metrics.FetchError(cluster, rt.Kind)
				return nil
			}
			results[i] = objs
			return nil
		})
	}
	_ = g.Wait()

	set := &models.ResourceSet{}
	for _, objs := range results {
		for _, obj := range objs {
			set.Add(obj)
		}
	}
	set.Sort()
	return set, nil
}

// List returns the valid objects of one kind and the resource version to start a watch from
func (f *Fetcher) List(ctx context.Context, cluster string, rt ResourceType) ([]metav1.Object, string, error) {
	dyn, err := f.client.GetDynamicClient(cluster)
	if err != nil {
		return nil, "", NewAPIError(cluster, err)
	}
	return f.list(ctx, dyn, cluster, rt)
}

// Available reports whether rt can be read from cluster. Resources backed by a missing CRD
// are skipped; a failed probe is treated as available and left to the list call.
func (f *Fetcher) Available(ctx context.Context, cluster string, rt ResourceType) bool {
	if rt.CRD == "" {
		return true
	}

	ok, err := f.client.HasCRD(ctx, cluster, rt.CRD)
	if err != nil {
		f.logger.Debug("crd probe failed", zap.String("cluster", cluster), zap.String("crd", rt.CRD), zap.Error(err))
		return true
	}

	key := cluster + "/" + rt.CRD
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		delete(f.missingCRD, key)
		return true
	}
	if !f.missingCRD[key] {
		f.missingCRD[key] = true
		f.logger.Info("crd not installed, skipping kind",
			zap.String("cluster", cluster), zap.String("kind", rt.Kind), zap.String("crd", rt.CRD))
	}
	return false
}

func (f *Fetcher) list(ctx context.Context, dyn dynamic.Interface, cluster string, rt ResourceType) ([]metav1.Object, string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var (
		out             []metav1.Object
		resourceVersion string
	)
	opts := metav1.ListOptions{Limit: listPageSize}
	for {
		list, err := dyn.Resource(rt.GVR).Namespace(metav1.NamespaceAll).List(ctx, opts)
		if err != nil {
			return nil, "", NewAPIError(cluster, fmt.Errorf("list %s: %w", rt.GVR.Resource, err))
		}
		if resourceVersion == "" {
			resourceVersion = list.GetResourceVersion()
		}
		for i := range list.Items {
			obj, err := models.Decode(rt.Kind, &list.Items[i])
			if err != nil {
				f.logger.Warn("rejecting invalid object",
					zap.String("cluster", cluster),
					zap.String("kind", rt.Kind),
					zap.Error(err))
				f.metrics.InvalidObject(cluster, rt.Kind)
				continue
			}
			out = append(out, obj)
		}
		if list.GetContinue() == "" {
			break
		}
		opts.Continue = list.GetContinue()
	}

	f.metrics.Fetched(cluster, rt.Kind, len(out))
	return out, resourceVersion, nil
}
