// Package queue defines the Backfill Queue contract: a durable
// FIFO-with-priority of backfill work items with leasing and retry. The
// concrete implementation lives in internal/store/postgres; this package
// holds the interface and the backoff policy shared by callers.
package queue

import (
	"context"
	"math"
	"math/rand"
	"time"

	"marketdata/internal/domain"
)

// Queue is the durable Backfill Queue contract.
type Queue interface {
	// Enqueue is idempotent over (symbol,tf,gap_start,gap_end,status≠terminal).
	// If an identical non-terminal job exists, it is merged by raising
	// priority and extending the time window rather than duplicated.
	Enqueue(ctx context.Context, job domain.BackfillJob) error
	// LeaseNext atomically selects the highest-priority ready pending job
	// (tie-break oldest created_at), marks it processing, and returns it.
	LeaseNext(ctx context.Context, workerID string, leaseTTL time.Duration) (*domain.BackfillJob, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, cause error) error
	// Reap returns leases whose leased_until has passed back to pending.
	Reap(ctx context.Context) (int, error)
}

// NextBackoff computes the exponential-backoff-with-full-jitter delay used
// by the queue's Fail re-schedule, capped at 60s. The Backfill Fetcher makes
// one attempt per call; its retries are these re-scheduled leases.
func NextBackoff(attempt int) time.Duration {
	const cap = 60 * time.Second
	base := time.Second
	exp := time.Duration(math.Min(float64(cap), float64(base)*math.Pow(2, float64(attempt))))
	return time.Duration(rand.Int63n(int64(exp) + 1))
}
