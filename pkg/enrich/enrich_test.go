package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestellar/pgboard/pkg/models"
	"github.com/kubestellar/pgboard/pkg/objectstore"
)

const dfOutput = `Filesystem      Size  Used Avail Use% Mounted on
overlay          98G   41G   57G  42% /
/dev/nvme1n1     20G  7.5G   13G  38% /var/lib/postgresql/data
tmpfs            64M     0   64M   0% /dev
`

type fakeProber struct {
	mu       sync.Mutex
	execOut  string
	execErr  error
	top      models.PodStats
	topErr   error
	secrets  map[string]string
	execPods []string
}

func (f *fakeProber) Exec(ctx context.Context, contextName, namespace, pod, container string, command []string) (string, error) {
	f.mu.Lock()
	f.execPods = append(f.execPods, namespace+"/"+pod+"/"+container)
	f.mu.Unlock()
	return f.execOut, f.execErr
}

func (f *fakeProber) PodTop(ctx context.Context, contextName, namespace, pod string) (models.PodStats, error) {
	return f.top, f.topErr
}

func (f *fakeProber) SecretValue(ctx context.Context, contextName, namespace, name, key string) (string, error) {
	v, ok := f.secrets[namespace+"/"+name+"/"+key]
	if !ok {
		return "", fmt.Errorf("secret %s/%s not found", namespace, name)
	}
	return v, nil
}

type fakeDumps struct {
	mu      sync.Mutex
	files   []models.DumpFile
	err     error
	queries []objectstore.Query
}

func (f *fakeDumps) List(ctx context.Context, q objectstore.Query) ([]models.DumpFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.files, f.err
}

func cnpgCluster(name string) models.CNPGCluster {
	return models.CNPGCluster{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "shop"},
		Spec: models.CNPGClusterSpec{
			Instances: 2,
			Backup: &models.CNPGBackupConfiguration{
				BarmanObjectStore: &models.BarmanObjectStore{
					DestinationPath: "s3://backups/prod",
					S3Credentials: &models.S3Credentials{
						AccessKeyID:     &models.SecretKeySelector{Name: "s3", Key: "ACCESS_KEY_ID"},
						SecretAccessKey: &models.SecretKeySelector{Name: "s3", Key: "SECRET_ACCESS_KEY"},
					},
				},
			},
		},
		Status: models.CNPGClusterStatus{CurrentPrimary: name + "-1"},
	}
}

func healthyProber() *fakeProber {
	return &fakeProber{
		execOut: dfOutput,
		top:     models.PodStats{CPU: "12m", Memory: "180Mi"},
		secrets: map[string]string{
			"shop/s3/ACCESS_KEY_ID":     "AKIA",
			"shop/s3/SECRET_ACCESS_KEY": "shh",
		},
	}
}

func TestEnrich_AllProbesSucceed(t *testing.T) {
	dumps := &fakeDumps{files: []models.DumpFile{{Name: "prod/pg-main/dumps/app.dump", Size: 10}}}
	e := New(healthyProber(), dumps, Options{
		DumpsEnabled:    true,
		DumpMatch:       ".dump",
		DefaultEndpoint: "http://minio:9000",
		DefaultRegion:   "eu-west-1",
	}, zaptest.NewLogger(t), nil)

	rec := e.Enrich(context.Background(), "prod", cnpgCluster("pg-main"))

	assert.Equal(t, "pg-main", rec.Name)
	assert.Equal(t, models.StorageStats{Total: "20G", Used: "7.5G", PercentUsed: "38%"}, rec.StorageStats)
	assert.Equal(t, models.PodStats{CPU: "12m", Memory: "180Mi"}, rec.PodStats)
	require.Len(t, rec.Dumps, 1)

	require.Len(t, dumps.queries, 1)
	q := dumps.queries[0]
	assert.Equal(t, "backups", q.Bucket)
	assert.Equal(t, "prod/pg-main/dumps", q.Prefix)
	assert.Equal(t, ".dump", q.Match)
	assert.Equal(t, "http://minio:9000", q.Endpoint)
	assert.Equal(t, "eu-west-1", q.Region)
	assert.Equal(t, "AKIA", q.AccessKeyID)
	assert.Equal(t, "shh", q.SecretAccessKey)
}

func TestEnrich_FailingProbesKeepRecord(t *testing.T) {
	probe := &fakeProber{
		execErr: errors.New("exec failed"),
		topErr:  errors.New("metrics unavailable"),
		secrets: map[string]string{},
	}
	dumps := &fakeDumps{}
	e := New(probe, dumps, Options{DumpsEnabled: true}, zaptest.NewLogger(t), nil)

	rec := e.Enrich(context.Background(), "prod", cnpgCluster("pg-main"))

	assert.Equal(t, "pg-main", rec.Name)
	assert.Equal(t, models.UnknownStorageStats, rec.StorageStats)
	assert.Empty(t, rec.PodStats.CPU)
	assert.Empty(t, rec.PodStats.Memory)
	assert.NotNil(t, rec.Dumps)
	assert.Empty(t, rec.Dumps)
	assert.Empty(t, dumps.queries, "listing must not run without credentials")
}

func TestEnrich_ClusterSpecOverridesDefaults(t *testing.T) {
	probe := healthyProber()
	probe.secrets["shop/s3/REGION"] = "us-east-2"
	c := cnpgCluster("pg-main")
	c.Spec.Backup.BarmanObjectStore.EndpointURL = "https://s3.example.com"
	c.Spec.Backup.BarmanObjectStore.S3Credentials.Region = &models.SecretKeySelector{Name: "s3", Key: "REGION"}

	dumps := &fakeDumps{}
	e := New(probe, dumps, Options{DumpsEnabled: true, DefaultEndpoint: "http://minio:9000", DefaultRegion: "eu-west-1"}, zaptest.NewLogger(t), nil)
	rec := e.Enrich(context.Background(), "prod", c)

	require.Len(t, dumps.queries, 1)
	assert.Equal(t, "https://s3.example.com", dumps.queries[0].Endpoint)
	assert.Equal(t, "us-east-2", dumps.queries[0].Region)
	assert.NotNil(t, rec.Dumps)
}

func TestEnrich_DumpsSkippedWhenDisabledOrUnconfigured(t *testing.T) {
	dumps := &fakeDumps{}
	e := New(healthyProber(), dumps, Options{DumpsEnabled: false}, zaptest.NewLogger(t), nil)
	rec := e.Enrich(context.Background(), "prod", cnpgCluster("pg-main"))
	assert.Nil(t, rec.Dumps)

	e = New(healthyProber(), dumps, Options{DumpsEnabled: true}, zaptest.NewLogger(t), nil)
	c := cnpgCluster("pg-main")
	c.Spec.Backup = nil
	rec = e.Enrich(context.Background(), "prod", c)
	assert.Nil(t, rec.Dumps)
	assert.Empty(t, dumps.queries)
}

func TestEnrich_NoPrimaryKeepsPlaceholders(t *testing.T) {
	probe := healthyProber()
	e := New(probe, nil, Options{}, zaptest.NewLogger(t), nil)
	c := cnpgCluster("pg-new")
	c.Status.CurrentPrimary = ""

	rec := e.Enrich(context.Background(), "prod", c)
	assert.Equal(t, models.UnknownStorageStats, rec.StorageStats)
	assert.Empty(t, probe.execPods)
}

func TestEnrichAll_PreservesOrder(t *testing.T) {
	probe := healthyProber()
	e := New(probe, nil, Options{Parallelism: 2, Timeout: time.Second}, zaptest.NewLogger(t), nil)

	clusters := []models.CNPGCluster{cnpgCluster("a"), cnpgCluster("b"), cnpgCluster("c"), cnpgCluster("d")}
	records := e.EnrichAll(context.Background(), "prod", clusters)

	require.Len(t, records, 4)
	for i, c := range clusters {
		assert.Equal(t, c.Name, records[i].Name)
		assert.Equal(t, "20G", records[i].StorageStats.Total)
	}
	assert.Len(t, probe.execPods, 4)
	assert.Contains(t, probe.execPods, "shop/a-1/postgres")
}

func TestParseDiskUsage(t *testing.T) {
	stats, err := ParseDiskUsage(dfOutput)
	require.NoError(t, err)
	assert.Equal(t, "20G", stats.Total)

	stats, err = ParseDiskUsage("Filesystem Size Used Avail Use% Mounted on\noverlay 98G 41G 57G 42% /\n")
	assert.Error(t, err)
	assert.Equal(t, models.UnknownStorageStats, stats)

	_, err = ParseDiskUsage("broken /var/lib/postgresql/data")
	assert.Error(t, err)
}
