package domain

import "time"

// JobStatus is the lifecycle state of a BackfillJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// terminal statuses are excluded from the (instrument,tf,gap_start,gap_end)
// uniqueness constraint — a completed or failed job does not block a fresh
// enqueue for the same range.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// DefaultMaxAttempts is the attempt ceiling before a job is marked failed.
const DefaultMaxAttempts = 5

// BackfillJob describes a gap the system intends to fill.
type BackfillJob struct {
	ID           string     `json:"id" gorm:"column:id;primaryKey"`
	Symbol       string     `json:"symbol" gorm:"column:symbol"`
	Timeframe    Timeframe  `json:"timeframe" gorm:"column:timeframe"`
	GapStart     time.Time  `json:"gap_start" gorm:"column:gap_start"`
	GapEnd       time.Time  `json:"gap_end" gorm:"column:gap_end"`
	Priority     int        `json:"priority" gorm:"column:priority"`
	Status       JobStatus  `json:"status" gorm:"column:status"`
	Attempts     int        `json:"attempts" gorm:"column:attempts"`
	LastError    string     `json:"last_error" gorm:"column:error_message"`
	CreatedAt    time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	LeasedUntil  *time.Time `json:"leased_until,omitempty" gorm:"column:leased_until"`
	NotBefore    *time.Time `json:"not_before,omitempty" gorm:"column:not_before"`
	IncludeTicks bool       `json:"include_ticks" gorm:"column:include_ticks"`
}

// TableName returns the table name for the BackfillJob model.
func (BackfillJob) TableName() string {
	return "backfill_queue"
}
