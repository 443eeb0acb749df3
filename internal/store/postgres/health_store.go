package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"marketdata/internal/domain"
)

// HealthStore implements the health.MetricStore contract over PostgreSQL,
// a plain append-only insert into the health_metrics series.
type HealthStore struct {
	db *gorm.DB
}

func NewHealthStore(db *gorm.DB) *HealthStore {
	return &HealthStore{db: db}
}

func (s *HealthStore) Append(ctx context.Context, metric domain.HealthMetric) error {
	if err := s.db.WithContext(ctx).Create(&metric).Error; err != nil {
		return fmt.Errorf("append health metric: %w", err)
	}
	return nil
}
