package worker

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sovgate/sovgate/internal/backends"
	"github.com/sovgate/sovgate/internal/config"
	"github.com/sovgate/sovgate/internal/metadata"
)

type fakeObject struct {
	data        []byte
	contentType string
}

// fakeS3 is an in-memory S3API keyed by "bucket/key".
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) put(bucket, key string, data []byte, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = fakeObject{data: data, contentType: contentType}
}

func (f *fakeS3) get(bucket, key string) (fakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	return obj, ok
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	contentType := ""
	if params.ContentType != nil {
		contentType = *params.ContentType
	}
	f.put(*params.Bucket, *params.Key, data, contentType)
	return &s3.PutObjectOutput{ETag: aws.String(`"fake-etag"`)}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.get(*params.Bucket, *params.Key)
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(`"fake-etag"`),
	}
	if obj.contentType != "" {
		out.ContentType = aws.String(obj.contentType)
	}
	return out, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *params.Bucket+"/"+*params.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, ok := f.get(*params.Bucket, *params.Key)
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(`"fake-etag"`),
	}, nil
}

type fixture struct {
	store    *metadata.MemoryStore
	worker   *Worker
	sourceS3 *fakeS3
	targetS3 *fakeS3
}

// newFixture wires a memory store and a registry with two mock backends.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := metadata.NewMemoryStore("test-passphrase")

	registry := backends.NewRegistry(config.BackendsConfig{DefaultID: "cluster-a"})
	sourceS3 := newFakeS3()
	targetS3 := newFakeS3()
	registry.Put(backends.NewClientWithAPI("cluster-a", sourceS3))
	registry.Put(backends.NewClientWithAPI("cluster-b", targetS3))

	return &fixture{
		store:    store,
		sourceS3: sourceS3,
		targetS3: targetS3,
		worker: &Worker{
			Store:      store,
			Registry:   registry,
			Interval:   time.Millisecond,
			ClaimLimit: 10,
			JobTimeout: 5 * time.Second,
		},
	}
}

// seedJob creates source and optionally target mappings plus one pending job.
func (f *fixture) seedJob(t *testing.T, withTargetMapping bool) *metadata.ReplicationJob {
	t.Helper()
	ctx := context.Background()

	source := &metadata.BucketMapping{
		CustomerID: "tenant-1", RegionID: "fi", LogicalName: "docs",
		BackendID: "cluster-a", BackendBucket: "source-bucket",
	}
	if err := f.store.UpsertBucketMapping(ctx, source); err != nil {
		t.Fatalf("source mapping: %v", err)
	}
	if withTargetMapping {
		target := &metadata.BucketMapping{
			CustomerID: "tenant-1", RegionID: "fi", LogicalName: "docs",
			BackendID: "cluster-b", BackendBucket: "target-bucket",
		}
		if err := f.store.UpsertBucketMapping(ctx, target); err != nil {
			t.Fatalf("target mapping: %v", err)
		}
	}

	obj := &metadata.ObjectRecord{
		BucketMappingID: source.ID,
		ObjectKey:       "report.txt",
		Size:            5,
		ETag:            "etag",
	}
	if err := f.store.InsertObject(ctx, obj); err != nil {
		t.Fatalf("InsertObject: %v", err)
	}

	job, err := f.store.InsertReplicationJob(ctx, obj.ID, "cluster-b")
	if err != nil {
		t.Fatalf("InsertReplicationJob: %v", err)
	}
	return job
}

func TestProcessPendingJobsCopiesObject(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, true)
	f.sourceS3.put("source-bucket", "report.txt", []byte("hello"), "text/plain")

	n, err := f.worker.ProcessPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d jobs, want 1", n)
	}

	copied, ok := f.targetS3.get("target-bucket", "report.txt")
	if !ok {
		t.Fatal("object was not copied to the target backend")
	}
	if string(copied.data) != "hello" || copied.contentType != "text/plain" {
		t.Errorf("copied object = %q (%s)", copied.data, copied.contentType)
	}

	jobs, err := f.store.ListReplicationJobs(context.Background(), metadata.JobCompleted)
	if err != nil {
		t.Fatalf("ListReplicationJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("completed jobs = %d, want 1", len(jobs))
	}
}

func TestProcessPendingJobsMissingTargetMapping(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, false)
	f.sourceS3.put("source-bucket", "report.txt", []byte("hello"), "")

	if _, err := f.worker.ProcessPendingJobs(context.Background()); err != nil {
		t.Fatalf("ProcessPendingJobs: %v", err)
	}

	jobs, err := f.store.ListReplicationJobs(context.Background(), metadata.JobFailed)
	if err != nil {
		t.Fatalf("ListReplicationJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("failed jobs = %d, want 1", len(jobs))
	}
	if !strings.Contains(jobs[0].LastError, "no bucket mapping for cluster-b") {
		t.Errorf("last error = %q", jobs[0].LastError)
	}
	if _, ok := f.targetS3.get("target-bucket", "report.txt"); ok {
		t.Error("object copied despite missing target mapping")
	}
}

func TestProcessPendingJobsMissingSourceObject(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, true)
	// Nothing uploaded to the source backend.

	if _, err := f.worker.ProcessPendingJobs(context.Background()); err != nil {
		t.Fatalf("ProcessPendingJobs: %v", err)
	}

	jobs, err := f.store.ListReplicationJobs(context.Background(), metadata.JobFailed)
	if err != nil {
		t.Fatalf("ListReplicationJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("failed jobs = %d, want 1", len(jobs))
	}
	if !strings.Contains(jobs[0].LastError, "reading source object") {
		t.Errorf("last error = %q", jobs[0].LastError)
	}
}

func TestProcessPendingJobsSizeCap(t *testing.T) {
	f := newFixture(t)
	f.worker.MaxObjectBytes = 4
	f.seedJob(t, true)
	f.sourceS3.put("source-bucket", "report.txt", []byte("hello"), "")

	if _, err := f.worker.ProcessPendingJobs(context.Background()); err != nil {
		t.Fatalf("ProcessPendingJobs: %v", err)
	}

	jobs, err := f.store.ListReplicationJobs(context.Background(), metadata.JobFailed)
	if err != nil {
		t.Fatalf("ListReplicationJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("failed jobs = %d, want 1", len(jobs))
	}
	if !strings.Contains(jobs[0].LastError, "exceeds replication size limit") {
		t.Errorf("last error = %q", jobs[0].LastError)
	}
}

func TestProcessPendingJobsTerminalJobsNotReclaimed(t *testing.T) {
	f := newFixture(t)
	f.seedJob(t, true)
	f.sourceS3.put("source-bucket", "report.txt", []byte("hello"), "")

	if _, err := f.worker.ProcessPendingJobs(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	n, err := f.worker.ProcessPendingJobs(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass claimed %d jobs, want 0", n)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
