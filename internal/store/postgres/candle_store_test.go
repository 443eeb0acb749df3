package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"marketdata/internal/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Skip("requires a local Postgres test database")
	return nil
}

func TestDegenerateCacheKey_DistinctPerSymbolTimeframeDay(t *testing.T) {
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	k1 := degenerateCacheKey("EURUSD", domain.M1, day)
	k2 := degenerateCacheKey("EURUSD", domain.M5, day)
	k3 := degenerateCacheKey("GBPUSD", domain.M1, day)
	k4 := degenerateCacheKey("EURUSD", domain.M1, day.AddDate(0, 0, 1))

	assert.NotEqual(t, string(k1), string(k2))
	assert.NotEqual(t, string(k1), string(k3))
	assert.NotEqual(t, string(k1), string(k4))
}

func TestDegenerateCacheKey_SameWithinDayRegardlessOfTimeOfDay(t *testing.T) {
	morning := time.Date(2026, 3, 5, 1, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 5, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, string(degenerateCacheKey("EURUSD", domain.M1, morning)), string(degenerateCacheKey("EURUSD", domain.M1, evening)))
}

func TestFreshnessCacheKey_DistinctPerSymbolAndTimeframe(t *testing.T) {
	k1 := freshnessCacheKey("EURUSD", domain.M1)
	k2 := freshnessCacheKey("EURUSD", domain.H1)
	k3 := freshnessCacheKey("GBPUSD", domain.M1)
	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestCandleStore_RequiresTestDatabase(t *testing.T) {
	db := setupTestDB(t)
	store := NewCandleStore(db)
	assert.NotNil(t, store)
}
