package domain

import "time"

// HealthMetric is one point in the append-only health observability series.
type HealthMetric struct {
	ID         uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	MetricName string    `json:"metric_name" gorm:"column:metric_name"`
	Value      float64   `json:"metric_value" gorm:"column:metric_value"`
	Symbol     string    `json:"symbol,omitempty" gorm:"column:symbol"`
	Timeframe  Timeframe `json:"timeframe,omitempty" gorm:"column:timeframe"`
	RecordedAt time.Time `json:"recorded_at" gorm:"column:recorded_at"`
}

// TableName returns the table name for the HealthMetric model.
func (HealthMetric) TableName() string {
	return "health_metrics"
}

// Thresholds holds the configurable alert thresholds the Health Monitor
// checks each snapshot against.
type Thresholds struct {
	MaxDataAge           time.Duration
	MinTickRate          float64
	MaxGapsPerDay        int
	MaxIncompletePercent float64
	QueuePendingWarn     int
	QueueFailedWarn      int
}

// DefaultThresholds returns conservative production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDataAge:          5 * time.Minute,
		MinTickRate:         10,
		MaxGapsPerDay:       10,
		MaxIncompletePercent: 5,
		QueuePendingWarn:    50,
		QueueFailedWarn:     10,
	}
}
