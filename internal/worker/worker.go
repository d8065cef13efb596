// Package worker drains the replication job queue, copying objects from
// their source backend to the requested target backend.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sovgate/sovgate/internal/backends"
	"github.com/sovgate/sovgate/internal/metadata"
	"github.com/sovgate/sovgate/internal/metrics"
)

// Worker polls for pending replication jobs and executes them one at a
// time. It is designed as a single-writer process: terminal status updates
// are compare-and-set in the store, so a second worker can never
// double-complete a job.
type Worker struct {
	Store    metadata.Store
	Registry *backends.Registry

	// Interval is the sleep between polls that find no pending jobs.
	Interval time.Duration
	// ClaimLimit is the maximum number of jobs taken per poll.
	ClaimLimit int
	// MaxObjectBytes caps the object size copied through memory. Larger
	// objects fail their job with a descriptive error.
	MaxObjectBytes int64
	// JobTimeout bounds one job's backend I/O.
	JobTimeout time.Duration
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("replication worker started",
		"interval", w.Interval, "claim_limit", w.ClaimLimit)

	for {
		n, err := w.ProcessPendingJobs(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("replication poll failed", "error", err)
		}

		if n > 0 {
			// More work may be queued; poll again immediately.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("replication worker stopped")
			return ctx.Err()
		case <-time.After(w.Interval):
		}
	}
}

// ProcessPendingJobs claims one batch of pending jobs and executes each,
// recording the terminal status. Returns the number of jobs claimed.
func (w *Worker) ProcessPendingJobs(ctx context.Context) (int, error) {
	jobs, err := w.Store.ClaimPendingJobs(ctx, w.ClaimLimit)
	if err != nil {
		return 0, fmt.Errorf("claiming pending jobs: %w", err)
	}

	for _, job := range jobs {
		if err := w.processJob(ctx, &job); err != nil {
			slog.Warn("replication job failed",
				"job", job.ID, "object", job.ObjectKey,
				"source", job.SourceBackendID, "target", job.TargetBackend,
				"error", err)
			if markErr := w.Store.MarkJobFailed(ctx, job.ID, err.Error()); markErr != nil {
				slog.Error("recording job failure", "job", job.ID, "error", markErr)
			}
			metrics.ReplicationJobsTotal.WithLabelValues(metadata.JobFailed).Inc()
			continue
		}

		if markErr := w.Store.MarkJobCompleted(ctx, job.ID); markErr != nil {
			slog.Error("recording job completion", "job", job.ID, "error", markErr)
			continue
		}
		metrics.ReplicationJobsTotal.WithLabelValues(metadata.JobCompleted).Inc()
		slog.Info("replication job completed",
			"job", job.ID, "object", job.ObjectKey,
			"source", job.SourceBackendID, "target", job.TargetBackend)
	}
	return len(jobs), nil
}

// processJob copies one object from its source backend to the target
// backend named by the job.
func (w *Worker) processJob(ctx context.Context, job *metadata.ReplicationJob) error {
	if w.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.JobTimeout)
		defer cancel()
	}

	// The target mapping is validated here, not at insert time.
	target, err := w.Store.GetBucketMapping(ctx, job.CustomerID, job.LogicalName, job.TargetBackend)
	if err != nil {
		return fmt.Errorf("resolving target mapping: %w", err)
	}
	if target == nil {
		return fmt.Errorf("no bucket mapping for %s", job.TargetBackend)
	}

	source, err := w.Registry.Get(ctx, job.SourceBackendID)
	if err != nil {
		return fmt.Errorf("source backend: %w", err)
	}
	dest, err := w.Registry.Get(ctx, job.TargetBackend)
	if err != nil {
		return fmt.Errorf("target backend: %w", err)
	}

	stream, err := source.GetObject(ctx, job.SourceBucket, job.ObjectKey)
	if err != nil {
		return fmt.Errorf("reading source object: %w", err)
	}
	defer stream.Body.Close()

	body := io.Reader(stream.Body)
	if w.MaxObjectBytes > 0 {
		body = io.LimitReader(stream.Body, w.MaxObjectBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading source object body: %w", err)
	}
	if w.MaxObjectBytes > 0 && int64(len(data)) > w.MaxObjectBytes {
		return fmt.Errorf("object %s exceeds replication size limit of %d bytes",
			job.ObjectKey, w.MaxObjectBytes)
	}

	if _, err := dest.PutObject(ctx, target.BackendBucket, job.ObjectKey, data, stream.ContentType); err != nil {
		return fmt.Errorf("writing target object: %w", err)
	}

	metrics.ReplicationBytesTotal.Add(float64(len(data)))
	return nil
}
