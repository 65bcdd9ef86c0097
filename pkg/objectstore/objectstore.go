// Package objectstore lists database dump archives stored in S3-compatible buckets.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestellar/pgboard/pkg/models"
)

const (
	breakerMaxRequests = 1
	breakerInterval    = time.Minute
	breakerTimeout     = 2 * time.Minute
	breakerTripAfter   = 3
)

// Query selects the objects to list
type Query struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	// Match keeps only keys containing this substring; empty keeps all
	Match string
}

// ClientFactory builds a listing client for a query
type ClientFactory func(ctx context.Context, q Query) (s3.ListObjectsV2APIClient, error)

// Lister lists objects through one circuit breaker per endpoint and bucket
type Lister struct {
	logger    *zap.Logger
	newClient ClientFactory

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewLister creates a Lister. A nil factory uses the AWS SDK.
func NewLister(logger *zap.Logger, factory ClientFactory) *Lister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = NewS3Client
	}
	return &Lister{
		logger:    logger.Named("objectstore"),
		newClient: factory,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// NewS3Client builds an S3 client with static credentials. A custom endpoint enables path-style addressing.
func NewS3Client(ctx context.Context, q Query) (s3.ListObjectsV2APIClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(q.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(q.AccessKeyID, q.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if q.Endpoint != "" {
			o.BaseEndpoint = aws.String(q.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// List returns the objects under q.Prefix whose key contains q.Match, oldest first
func (l *Lister) List(ctx context.Context, q Query) ([]models.DumpFile, error) {
	if q.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	cb := l.breaker(q.Endpoint + "/" + q.Bucket)
	result, err := cb.Execute(func() (interface{}, error) {
		return l.list(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.DumpFile), nil
}

func (l *Lister) list(ctx context.Context, q Query) ([]models.DumpFile, error) {
	client, err := l.newClient(ctx, q)
	if err != nil {
		return nil, err
	}

	var out []models.DumpFile
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(q.Bucket),
		Prefix: aws.String(q.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", q.Bucket, q.Prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if q.Match != "" && !strings.Contains(key, q.Match) {
				continue
			}
			f := models.DumpFile{
				Name: key,
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				f.LastModified = metav1.NewTime(*obj.LastModified)
			}
			out = append(out, f)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastModified.Before(&out[j].LastModified)
	})
	return out, nil
}

func (l *Lister) breaker(name string) *gobreaker.CircuitBreaker {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cb, ok := l.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Info("object store breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	l.breakers[name] = cb
	return cb
}

// ParseDestination splits an s3://bucket/path URL into bucket and path without surrounding slashes
func ParseDestination(destination string) (bucket, path string, err error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", "", fmt.Errorf("invalid destination %q: %w", destination, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid destination %q: expected s3://bucket/path", destination)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// DumpPrefix is the key prefix holding the logical dumps of a cluster
func DumpPrefix(path, clusterName string) string {
	if path == "" {
		return clusterName + "/dumps"
	}
	return path + "/" + clusterName + "/dumps"
}
