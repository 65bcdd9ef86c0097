package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeS3 struct {
	pages [][]types.Object
	err   error
	calls int
	input []*s3.ListObjectsV2Input
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.calls++
	f.input = append(f.input, in)
	if f.err != nil {
		return nil, f.err
	}

	page := 0
	if in.ContinuationToken != nil {
		page = int(aws.ToString(in.ContinuationToken)[0] - '0')
	}
	out := &s3.ListObjectsV2Output{Contents: f.pages[page]}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + page + 1)))
	}
	return out, nil
}

func factory(client *fakeS3) ClientFactory {
	return func(ctx context.Context, q Query) (s3.ListObjectsV2APIClient, error) {
		return client, nil
	}
}

func object(key string, size int64, modified time.Time) types.Object {
	return types.Object{Key: aws.String(key), Size: aws.Int64(size), LastModified: aws.Time(modified)}
}

func TestList_FiltersAndSorts(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeS3{pages: [][]types.Object{
		{
			object("backups/pg-main/dumps/app-2.dump", 200, base.Add(2*time.Hour)),
			object("backups/pg-main/dumps/README", 1, base),
		},
		{
			object("backups/pg-main/dumps/app-1.dump", 100, base.Add(time.Hour)),
		},
	}}

	l := NewLister(zaptest.NewLogger(t), factory(client))
	files, err := l.List(context.Background(), Query{Bucket: "backups", Prefix: "backups/pg-main/dumps", Match: ".dump"})
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, "backups/pg-main/dumps/app-1.dump", files[0].Name)
	assert.Equal(t, int64(100), files[0].Size)
	assert.Equal(t, "backups/pg-main/dumps/app-2.dump", files[1].Name)
	assert.True(t, files[1].LastModified.Time.Equal(base.Add(2*time.Hour)))

	assert.Equal(t, 2, client.calls)
	assert.Equal(t, "backups", aws.ToString(client.input[0].Bucket))
	assert.Equal(t, "backups/pg-main/dumps", aws.ToString(client.input[0].Prefix))
}

func TestList_RequiresBucket(t *testing.T) {
	l := NewLister(zaptest.NewLogger(t), factory(&fakeS3{}))
	_, err := l.List(context.Background(), Query{})
	assert.Error(t, err)
}

func TestList_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	client := &fakeS3{err: errors.New("connection refused")}
	l := NewLister(zaptest.NewLogger(t), factory(client))
	q := Query{Endpoint: "http://minio:9000", Bucket: "backups"}

	for i := 0; i < breakerTripAfter; i++ {
		_, err := l.List(context.Background(), q)
		require.Error(t, err)
	}
	calls := client.calls

	_, err := l.List(context.Background(), q)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, client.calls, "open breaker must not reach the store")

	// Other buckets have their own breaker
	client.err = nil
	client.pages = [][]types.Object{{}}
	_, err = l.List(context.Background(), Query{Endpoint: "http://minio:9000", Bucket: "other"})
	assert.NoError(t, err)
}

func TestParseDestination(t *testing.T) {
	bucket, path, err := ParseDestination("s3://backups/prod/shop/")
	require.NoError(t, err)
	assert.Equal(t, "backups", bucket)
	assert.Equal(t, "prod/shop", path)

	bucket, path, err = ParseDestination("s3://backups")
	require.NoError(t, err)
	assert.Equal(t, "backups", bucket)
	assert.Empty(t, path)

	_, _, err = ParseDestination("https://backups/x")
	assert.Error(t, err)
	_, _, err = ParseDestination("s3:///x")
	assert.Error(t, err)
}

func TestDumpPrefix(t *testing.T) {
	assert.Equal(t, "prod/pg-main/dumps", DumpPrefix("prod", "pg-main"))
	assert.Equal(t, "pg-main/dumps", DumpPrefix("", "pg-main"))
}
