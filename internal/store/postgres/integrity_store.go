package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketdata/internal/domain"
)

// IntegrityStore implements the gapdetector.IntegrityStore contract over
// PostgreSQL, one row per (symbol, timeframe, date) upserted on every
// fullIntegrityCheck run.
type IntegrityStore struct {
	db *gorm.DB
}

func NewIntegrityStore(db *gorm.DB) *IntegrityStore {
	return &IntegrityStore{db: db}
}

// Upsert replaces the day's rollup wholesale — unlike the Candle Store's
// merge-on-conflict rule, an integrity record has no partial-update meaning;
// each run recomputes the full picture for that day.
func (s *IntegrityStore) Upsert(ctx context.Context, record domain.IntegrityRecord) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"expected_candles", "actual_candles", "missing_candles",
				"incomplete_candles", "last_checked", "status",
			}),
		}).
		Create(&record)
	if result.Error != nil {
		return fmt.Errorf("upsert integrity record: %w", result.Error)
	}
	return nil
}
