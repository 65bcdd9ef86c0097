// Package dashboard assembles one complete multi-cluster snapshot: raw resources per context,
// CNPG enrichment and namespace aggregation.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubestellar/pgboard/pkg/aggregate"
	"github.com/kubestellar/pgboard/pkg/k8s"
	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/watch"
)

// Source supplies the raw resources of one cluster context for a refresh
type Source interface {
	Resources(ctx context.Context, cluster string) (*models.ResourceSet, error)
}

// Enricher turns the CNPG clusters of one context into ClusterRecords
type Enricher interface {
	EnrichAll(ctx context.Context, contextName string, clusters []models.CNPGCluster) []models.ClusterRecord
}

// ContextsFunc returns the cluster contexts to include, in display order
type ContextsFunc func() ([]string, error)

// PollSource lists every resource on each refresh
type PollSource struct {
	Fetcher *k8s.Fetcher
}

// Resources lists all watched kinds of cluster
func (s PollSource) Resources(ctx context.Context, cluster string) (*models.ResourceSet, error) {
	return s.Fetcher.FetchAll(ctx, cluster)
}

// StoreSource reads the state kept by the watch router. It never mutates the store.
type StoreSource struct {
	Store *watch.Store
}

// Resources copies the cluster's current objects out of the store
func (s StoreSource) Resources(ctx context.Context, cluster string) (*models.ResourceSet, error) {
	return s.Store.Resources(cluster), nil
}

// Pipeline builds MultiClusterSnapshots
type Pipeline struct {
	source     Source
	enricher   Enricher
	aggregator *aggregate.Aggregator
	contexts   ContextsFunc
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline
func NewPipeline(source Source, enricher Enricher, aggregator *aggregate.Aggregator, contexts ContextsFunc, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source:     source,
		enricher:   enricher,
		aggregator: aggregator,
		contexts:   contexts,
		logger:     logger.Named("pipeline"),
	}
}

// Build produces a fresh snapshot for every context. A context whose resources cannot be
// read is published with no namespaces; the build fails only when no context could be read.
func (p *Pipeline) Build(ctx context.Context) (models.MultiClusterSnapshot, error) {
	contexts, err := p.contexts()
	if err != nil {
		return models.MultiClusterSnapshot{}, fmt.Errorf("failed to resolve contexts: %w", err)
	}

	start := time.Now()
	snapshots := make([]models.KubeSnapshot, len(contexts))
	errs := make([]error, len(contexts))

	var g errgroup.Group
	for i, cluster := range contexts {
		g.Go(func() error {
			snapshots[i], errs[i] = p.buildCluster(ctx, cluster)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return models.MultiClusterSnapshot{}, err
	}

	out := models.MultiClusterSnapshot{
		Contexts: append([]string{}, contexts...),
		Clusters: make(map[string]models.KubeSnapshot, len(contexts)),
	}
	failed := 0
	for i, cluster := range contexts {
		if errs[i] != nil {
			failed++
			p.logger.Warn("cluster unavailable, publishing it empty",
				zap.String("cluster", cluster), zap.Error(errs[i]))
		}
		out.Clusters[cluster] = snapshots[i]
	}
	if len(contexts) > 0 && failed == len(contexts) {
		return models.MultiClusterSnapshot{}, fmt.Errorf("no cluster could be read: %w", errors.Join(errs...))
	}

	p.logger.Debug("snapshot built",
		zap.Int("contexts", len(contexts)),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

func (p *Pipeline) buildCluster(ctx context.Context, cluster string) (models.KubeSnapshot, error) {
	empty := models.KubeSnapshot{Namespaces: []models.NamespaceSnapshot{}}

	set, err := p.source.Resources(ctx, cluster)
	if err != nil {
		return empty, err
	}

	records := []models.ClusterRecord{}
	if len(set.Clusters) > 0 {
		records = p.enricher.EnrichAll(ctx, cluster, set.Clusters)
	}
	return models.KubeSnapshot{Namespaces: p.aggregator.Aggregate(set, records)}, nil
}
