// Package enrich attaches best-effort storage, usage and dump information to CNPG clusters.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubestellar/pgboard/pkg/metrics"
	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/objectstore"
)

// Probe names used in logs and metrics
const (
	ProbeStorage = "storage"
	ProbePod     = "pod"
	ProbeDumps   = "dumps"
)

const (
	postgresContainer = "postgres"
	dataMountPath     = "/var/lib/postgresql/data"
)

var diskUsageCommand = []string{"df", "-h"}

// Prober runs the cluster-side probes
type Prober interface {
	Exec(ctx context.Context, contextName, namespace, pod, container string, command []string) (string, error)
	PodTop(ctx context.Context, contextName, namespace, pod string) (models.PodStats, error)
	SecretValue(ctx context.Context, contextName, namespace, name, key string) (string, error)
}

// DumpLister lists dump archives in an object store
type DumpLister interface {
	List(ctx context.Context, q objectstore.Query) ([]models.DumpFile, error)
}

// Options tunes the Enricher
type Options struct {
	DumpsEnabled bool
	// DumpMatch is the substring a key must contain to count as a dump
	DumpMatch string
	// DefaultEndpoint is used when a cluster declares no endpointURL
	DefaultEndpoint string
	// DefaultRegion is used when a cluster declares no region secret
	DefaultRegion string
	// Timeout bounds each probe; zero means no bound
	Timeout time.Duration
	// Parallelism bounds how many clusters are enriched at once; zero or less means unbounded
	Parallelism int
}

// Enricher turns CNPG clusters into ClusterRecords
type Enricher struct {
	probe   Prober
	dumps   DumpLister
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// New creates an Enricher. dumps may be nil when dump listing is disabled.
func New(probe Prober, dumps DumpLister, opts Options, logger *zap.Logger, recorder *metrics.Recorder) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		probe:   probe,
		dumps:   dumps,
		opts:    opts,
		logger:  logger.Named("enrich"),
		metrics: recorder,
	}
}

// EnrichAll enriches clusters concurrently and returns records in input order
func (e *Enricher) EnrichAll(ctx context.Context, contextName string, clusters []models.CNPGCluster) []models.ClusterRecord {
	records := make([]models.ClusterRecord, len(clusters))

	var g errgroup.Group
	if e.opts.Parallelism > 0 {
		g.SetLimit(e.opts.Parallelism)
	}
	for i := range clusters {
		g.Go(func() error {
			records[i] = e.Enrich(ctx, contextName, clusters[i])
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// Enrich runs the storage, usage and dump probes concurrently. Failures degrade the
// corresponding fields only; the record is always returned.
func (e *Enricher) Enrich(ctx context.Context, contextName string, c models.CNPGCluster) models.ClusterRecord {
	rec := models.ClusterRecord{
		CNPGCluster:  c,
		StorageStats: models.UnknownStorageStats,
	}
	log := e.logger.With(
		zap.String("cluster", contextName),
		zap.String("namespace", c.Namespace),
		zap.String("name", c.Name))

	var g errgroup.Group
	primary := c.Status.CurrentPrimary
	if primary != "" {
		g.Go(func() error {
			stats, err := e.storageStats(ctx, contextName, c.Namespace, primary)
			if err != nil {
				e.failed(log, ProbeStorage, err)
				return nil
			}
			rec.StorageStats = stats
			return nil
		})
		g.Go(func() error {
			pctx, cancel := e.probeContext(ctx)
			defer cancel()
			stats, err := e.probe.PodTop(pctx, contextName, c.Namespace, primary)
			if err != nil {
				e.failed(log, ProbePod, err)
				return nil
			}
			rec.PodStats = stats
			return nil
		})
	}
	if e.opts.DumpsEnabled && e.dumps != nil && hasObjectStore(&c) {
		rec.Dumps = []models.DumpFile{}
		g.Go(func() error {
			files, err := e.listDumps(ctx, contextName, &c)
			if err != nil {
				e.failed(log, ProbeDumps, err)
				return nil
			}
			rec.Dumps = files
			return nil
		})
	}
	_ = g.Wait()
	return rec
}

func (e *Enricher) storageStats(ctx context.Context, contextName, namespace, pod string) (models.StorageStats, error) {
	pctx, cancel := e.probeContext(ctx)
	defer cancel()

	out, err := e.probe.Exec(pctx, contextName, namespace, pod, postgresContainer, diskUsageCommand)
	if err != nil {
		return models.UnknownStorageStats, err
	}
	return ParseDiskUsage(out)
}

// ParseDiskUsage extracts the data volume line from df -h output.
// Columns are filesystem, size, used, available, use% and mount point.
func ParseDiskUsage(out string) (models.StorageStats, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, dataMountPath) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return models.UnknownStorageStats, fmt.Errorf("unexpected df line %q", line)
		}
		return models.StorageStats{
			Total:       fields[1],
			Used:        fields[2],
			PercentUsed: fields[4],
		}, nil
	}
	return models.UnknownStorageStats, fmt.Errorf("no %s mount in df output", dataMountPath)
}

func (e *Enricher) listDumps(ctx context.Context, contextName string, c *models.CNPGCluster) ([]models.DumpFile, error) {
	store := c.Spec.Backup.BarmanObjectStore
	bucket, path, err := objectstore.ParseDestination(store.DestinationPath)
	if err != nil {
		return nil, err
	}
	creds := store.S3Credentials
	if creds == nil || creds.AccessKeyID == nil || creds.SecretAccessKey == nil {
		return nil, errors.New("object store credentials not configured")
	}

	pctx, cancel := e.probeContext(ctx)
	defer cancel()

	accessKey, err := e.probe.SecretValue(pctx, contextName, c.Namespace, creds.AccessKeyID.Name, creds.AccessKeyID.Key)
	if err != nil {
		return nil, fmt.Errorf("access key: %w", err)
	}
	secretKey, err := e.probe.SecretValue(pctx, contextName, c.Namespace, creds.SecretAccessKey.Name, creds.SecretAccessKey.Key)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	region := e.opts.DefaultRegion
	if creds.Region != nil {
		region, err = e.probe.SecretValue(pctx, contextName, c.Namespace, creds.Region.Name, creds.Region.Key)
		if err != nil {
			return nil, fmt.Errorf("region: %w", err)
		}
	}
	endpoint := store.EndpointURL
	if endpoint == "" {
		endpoint = e.opts.DefaultEndpoint
	}

	files, err := e.dumps.List(pctx, objectstore.Query{
		Endpoint:        endpoint,
		Region:          region,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		Bucket:          bucket,
		Prefix:          objectstore.DumpPrefix(path, c.Name),
		Match:           e.opts.DumpMatch,
	})
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []models.DumpFile{}
	}
	return files, nil
}

func (e *Enricher) probeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout > 0 {
		return context.WithTimeout(ctx, e.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Enricher) failed(log *zap.Logger, probe string, err error) {
	log.Warn("enrichment probe failed", zap.String("probe", probe), zap.Error(err))
	e.metrics.EnrichFailure(probe)
}

func hasObjectStore(c *models.CNPGCluster) bool {
	return c.Spec.Backup != nil && c.Spec.Backup.BarmanObjectStore != nil
}
