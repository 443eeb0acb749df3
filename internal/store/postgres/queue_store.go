package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketdata/internal/domain"
	"marketdata/internal/queue"
	"marketdata/pkg/log"
)

// QueueStore implements the Backfill Queue contract over PostgreSQL.
type QueueStore struct {
	db          *gorm.DB
	maxAttempts int
}

func NewQueueStore(db *gorm.DB, maxAttempts int) *QueueStore {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &QueueStore{db: db, maxAttempts: maxAttempts}
}

// Enqueue merges into an existing non-terminal job for the same key by
// raising priority and extending the time window, instead of duplicating
// rows.
func (s *QueueStore) Enqueue(ctx context.Context, job domain.BackfillJob) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.BackfillJob
		result := tx.Where(
			"symbol = ? AND timeframe = ? AND gap_start = ? AND gap_end = ? AND status NOT IN ?",
			job.Symbol, job.Timeframe, job.GapStart, job.GapEnd, []domain.JobStatus{domain.JobCompleted, domain.JobFailed},
		).Take(&existing)

		if result.Error == nil {
			updates := map[string]interface{}{}
			if job.Priority > existing.Priority {
				updates["priority"] = job.Priority
			}
			if job.GapStart.Before(existing.GapStart) {
				updates["gap_start"] = job.GapStart
			}
			if job.GapEnd.After(existing.GapEnd) {
				updates["gap_end"] = job.GapEnd
			}
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&domain.BackfillJob{}).Where("id = ?", existing.ID).Updates(updates).Error
		}
		if result.Error != gorm.ErrRecordNotFound {
			return fmt.Errorf("enqueue: %w", result.Error)
		}

		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if job.Status == "" {
			job.Status = domain.JobPending
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		log.QueueInfo("enqueue", "job enqueued", map[string]interface{}{"job_id": job.ID, "symbol": job.Symbol, "timeframe": job.Timeframe})
		return nil
	})
}

// LeaseNext selects the highest-priority ready pending job (tie-break:
// oldest created_at), locking the row with SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent workers never double-lease the same job.
func (s *QueueStore) LeaseNext(ctx context.Context, workerID string, leaseTTL time.Duration) (*domain.BackfillJob, error) {
	var job domain.BackfillJob
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND (not_before IS NULL OR not_before <= ?)", domain.JobPending, now).
			Order("priority DESC, created_at ASC").
			Limit(1).
			Take(&job)
		if result.Error != nil {
			return result.Error
		}

		leasedUntil := now.Add(leaseTTL)
		job.Status = domain.JobProcessing
		job.LeasedUntil = &leasedUntil
		job.Attempts++
		return tx.Model(&domain.BackfillJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":       job.Status,
			"leased_until": job.LeasedUntil,
			"attempts":     job.Attempts,
		}).Error
	})

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease next: %w", err)
	}
	log.QueueInfo("lease", "job leased", map[string]interface{}{"job_id": job.ID, "worker_id": workerID})
	return &job, nil
}

// Complete marks a job terminally successful.
func (s *QueueStore) Complete(ctx context.Context, jobID string) error {
	err := s.db.WithContext(ctx).Model(&domain.BackfillJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":       domain.JobCompleted,
		"leased_until": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	log.QueueInfo("complete", "job completed", map[string]interface{}{"job_id": jobID})
	return nil
}

// Fail re-queues with exponential backoff while attempts remain, otherwise
// marks the job terminally failed.
func (s *QueueStore) Fail(ctx context.Context, jobID string, cause error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.BackfillJob
		if err := tx.Where("id = ?", jobID).Take(&job).Error; err != nil {
			return fmt.Errorf("fail: %w", err)
		}

		errMsg := ""
		if cause != nil {
			errMsg = cause.Error()
		}

		if job.Attempts < s.maxAttempts {
			notBefore := time.Now().UTC().Add(queue.NextBackoff(job.Attempts))
			return tx.Model(&domain.BackfillJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
				"status":        domain.JobPending,
				"leased_until":  nil,
				"not_before":    notBefore,
				"error_message": errMsg,
			}).Error
		}

		log.BackfillError(jobID, "job exhausted retries, marking failed", cause, map[string]interface{}{"attempts": job.Attempts})
		return tx.Model(&domain.BackfillJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
			"status":        domain.JobFailed,
			"leased_until":  nil,
			"error_message": errMsg,
		}).Error
	})
}

// Reap returns leases whose leased_until has passed back to pending.
func (s *QueueStore) Reap(ctx context.Context) (int, error) {
	result := s.db.WithContext(ctx).Model(&domain.BackfillJob{}).
		Where("status = ? AND leased_until < ?", domain.JobProcessing, time.Now().UTC()).
		Updates(map[string]interface{}{"status": domain.JobPending, "leased_until": nil})
	if result.Error != nil {
		return 0, fmt.Errorf("reap: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.QueueInfo("reap", "reclaimed expired leases", map[string]interface{}{"count": result.RowsAffected})
	}
	return int(result.RowsAffected), nil
}

// PendingCount reports how many jobs are waiting to be leased, used by the
// Health Monitor's queue-status snapshot.
func (s *QueueStore) PendingCount(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.BackfillJob{}).Where("status = ?", domain.JobPending).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return int(count), nil
}

// FailedCount reports how many jobs exhausted their retries, used by the
// Health Monitor's queue-status snapshot.
func (s *QueueStore) FailedCount(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.BackfillJob{}).Where("status = ?", domain.JobFailed).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed count: %w", err)
	}
	return int(count), nil
}
