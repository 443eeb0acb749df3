// Package postgres implements the engine's storage contracts over
// PostgreSQL: a clause.OnConflict merge-upsert for externally-sourced
// candles and a separate full-replace upsert for builder-derived candles, a
// pq.CopyIn bulk-load path for ticks, and a fastcache-backed same-day cache
// in front of the degenerate-candle scan.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketdata/internal/domain"
	"marketdata/pkg/cache"
	"marketdata/pkg/log"
)

// degenerateCacheBytes bounds the fastcache instance backing FindDegenerate's
// same-trading-day result cache.
const degenerateCacheBytes = 8 * 1024 * 1024

// degenerate is a reusable SQL predicate testing whether the stored row
// (left side of the conflict) was a degenerate placeholder and the
// incoming row (EXCLUDED) is not — the sole condition under which
// upsertCandle fully replaces instead of merging.
const degenerate = "market_data.open = market_data.high AND market_data.high = market_data.low AND market_data.low = market_data.close" +
	" AND NOT (excluded.open = excluded.high AND excluded.high = excluded.low AND excluded.low = excluded.close)"

// CandleStore implements the Candle Store contract over PostgreSQL.
type CandleStore struct {
	db              *gorm.DB
	degenerateCache *fastcache.Cache
	freshness       cache.API // optional; nil disables latestTimestamp caching
}

func NewCandleStore(db *gorm.DB) *CandleStore {
	return &CandleStore{db: db, degenerateCache: fastcache.New(degenerateCacheBytes)}
}

// WithFreshnessCache layers cache.API (in-mem + Redis, mirroring
// pkg/cache.Manager) in front of LatestTimestamp, the lookup the Health
// Monitor's freshness computation calls most often. Every UpsertCandle and
// ReplaceCandle for the matching (symbol,tf) key advances the cached value
// when the written candle is newer; entries are not evicted on write and
// expire after freshnessCacheTTL.
func (s *CandleStore) WithFreshnessCache(c cache.API) *CandleStore {
	s.freshness = c
	return s
}

func freshnessCacheKey(symbol string, tf domain.Timeframe) string {
	return "latest_ts|" + string(tf) + "|" + symbol
}

// UpsertCandle writes a single candle, merging with any existing row at the
// same (symbol, timeframe, timestamp) key per the widen-high/narrow-low/
// keep-open/overwrite-close/sum-volume rule, except that a fully-formed
// incoming candle fully replaces a degenerate stored one.
func (s *CandleStore) UpsertCandle(ctx context.Context, candle domain.Candle) error {
	if err := candle.Validate(); err != nil {
		log.CandleError(candle.Symbol, string(candle.Timeframe), "dropping invalid candle", err, nil)
		return err
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"open":   gorm.Expr("CASE WHEN " + degenerate + " THEN excluded.open ELSE market_data.open END"),
				"high":   gorm.Expr("CASE WHEN " + degenerate + " THEN excluded.high ELSE GREATEST(market_data.high, excluded.high) END"),
				"low":    gorm.Expr("CASE WHEN " + degenerate + " THEN excluded.low ELSE LEAST(market_data.low, excluded.low) END"),
				"close":  gorm.Expr("excluded.close"),
				"volume": gorm.Expr("CASE WHEN " + degenerate + " THEN excluded.volume ELSE market_data.volume + excluded.volume END"),
				"spread": gorm.Expr("COALESCE(excluded.spread, market_data.spread)"),
			}),
		}).
		Create(&candle)

	if result.Error != nil {
		return fmt.Errorf("upsert candle: %w", result.Error)
	}
	s.degenerateCache.Del(degenerateCacheKey(candle.Symbol, candle.Timeframe, candle.Timestamp))
	s.refreshFreshnessCache(ctx, candle)
	return nil
}

// ReplaceCandle writes a single candle, fully overwriting any existing row
// at the same (symbol, timeframe, timestamp) key rather than merging. The
// Candle Builder uses this for every candle it derives from ticks or from a
// lower timeframe: each call already reaggregates the complete set of
// constituents for that bucket, so re-running it must reproduce the same
// row, not fold it into whatever was there before. UpsertCandle's widen/
// narrow/sum merge is reserved for candles assembled incrementally from
// partial external data (the Backfill Fetcher).
func (s *CandleStore) ReplaceCandle(ctx context.Context, candle domain.Candle) error {
	if err := candle.Validate(); err != nil {
		log.CandleError(candle.Symbol, string(candle.Timeframe), "dropping invalid candle", err, nil)
		return err
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "spread"}),
		}).
		Create(&candle)

	if result.Error != nil {
		return fmt.Errorf("replace candle: %w", result.Error)
	}
	s.degenerateCache.Del(degenerateCacheKey(candle.Symbol, candle.Timeframe, candle.Timestamp))
	s.refreshFreshnessCache(ctx, candle)
	return nil
}

// refreshFreshnessCache keeps the LatestTimestamp cache entry current rather
// than evicting it: it only advances the cached value, it never regresses
// it for an out-of-order or backfilled candle older than what's cached.
func (s *CandleStore) refreshFreshnessCache(ctx context.Context, candle domain.Candle) {
	if s.freshness == nil {
		return
	}
	key := freshnessCacheKey(candle.Symbol, candle.Timeframe)
	if cached, ok := s.freshness.Get(ctx, key); ok {
		if cachedTS, err := time.Parse(time.RFC3339Nano, cached); err == nil && !candle.Timestamp.After(cachedTS) {
			return
		}
	}
	s.freshness.SetWithDuration(ctx, key, candle.Timestamp.Format(time.RFC3339Nano), freshnessCacheTTL)
}

// freshnessCacheTTL bounds how long a LatestTimestamp cache entry survives
// without a corresponding UpsertCandle refreshing it.
const freshnessCacheTTL = 10 * time.Minute

// degenerateCacheKey identifies the findDegenerate result for one calendar
// day, the granularity the Gap Detector's daily rollup actually scans at.
func degenerateCacheKey(symbol string, tf domain.Timeframe, day time.Time) []byte {
	d := day.UTC().Format("2006-01-02")
	return []byte(string(tf) + "|" + symbol + "|" + d)
}

// UpsertCandles writes a batch, one row conflict-merged at a time inside a
// single transaction — writes for different keys may proceed concurrently,
// but each candle's merge must be atomic, so a blanket CreateInBatches with
// a single DoUpdates would silently drop the per-row merge semantics; this
// keeps them.
func (s *CandleStore) UpsertCandles(ctx context.Context, candles []domain.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			log.CandleError("", "", "panic in UpsertCandles", fmt.Errorf("%v", r), nil)
		}
	}()

	store := &CandleStore{db: tx, degenerateCache: s.degenerateCache}
	stored := 0
	for _, c := range candles {
		if err := store.UpsertCandle(ctx, c); err != nil {
			tx.Rollback()
			return stored, err
		}
		stored++
	}

	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return stored, nil
}

// ReadRange returns candles for (symbol, tf) in [from, to), ascending.
func (s *CandleStore) ReadRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	var candles []domain.Candle
	result := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?", symbol, tf, from, to).
		Order("timestamp").
		Find(&candles)
	if result.Error != nil {
		return nil, fmt.Errorf("read range: %w", result.Error)
	}
	return candles, nil
}

// LatestTimestamp returns the most recent stored timestamp for (symbol, tf),
// or the zero time and false if nothing is stored yet. Served from the
// freshness cache when one is configured via WithFreshnessCache.
func (s *CandleStore) LatestTimestamp(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error) {
	key := freshnessCacheKey(symbol, tf)
	if s.freshness != nil {
		if cached, ok := s.freshness.Get(ctx, key); ok {
			if ts, err := time.Parse(time.RFC3339Nano, cached); err == nil {
				return ts, true, nil
			}
		}
	}

	var candle domain.Candle
	result := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, tf).
		Order("timestamp DESC").
		Limit(1).
		Find(&candle)
	if result.Error != nil {
		return time.Time{}, false, fmt.Errorf("latest timestamp: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return time.Time{}, false, nil
	}

	if s.freshness != nil {
		s.freshness.SetWithDuration(ctx, key, candle.Timestamp.Format(time.RFC3339Nano), freshnessCacheTTL)
	}
	return candle.Timestamp, true, nil
}

// FindDegenerate returns stored candles in [from,to) whose OHLC are all
// equal. Whole single-day ranges are served from the fastcache-backed scan
// cache, invalidated per (symbol,tf,day) on every upsertCandle to that day;
// any other range bypasses the cache.
func (s *CandleStore) FindDegenerate(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	cacheable := to.Sub(from) == 24*time.Hour && from.Equal(from.Truncate(24*time.Hour))
	var key []byte
	if cacheable {
		key = degenerateCacheKey(symbol, tf, from)
		if cached, ok := s.degenerateCache.HasGet(nil, key); ok {
			var candles []domain.Candle
			if err := json.Unmarshal(cached, &candles); err == nil {
				return candles, nil
			}
		}
	}

	var candles []domain.Candle
	result := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ? AND open = high AND high = low AND low = close",
			symbol, tf, from, to).
		Order("timestamp").
		Find(&candles)
	if result.Error != nil {
		return nil, fmt.Errorf("find degenerate: %w", result.Error)
	}

	if cacheable {
		if encoded, err := json.Marshal(candles); err == nil {
			s.degenerateCache.Set(key, encoded)
		}
	}
	return candles, nil
}

// InsertTicks bulk-loads ticks via Postgres COPY; ticks are insert-only so
// there is no conflict merge to express, falling back to a batched
// upsert-ignore only on a duplicate-key error from COPY.
func (s *CandleStore) InsertTicks(ctx context.Context, ticks []domain.Tick) (int, error) {
	if len(ticks) == 0 {
		return 0, nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return 0, fmt.Errorf("get sql.DB: %w", err)
	}

	txn, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := txn.Prepare(pq.CopyIn("ticks", "symbol", "timestamp", "price", "volume"))
	if err != nil {
		txn.Rollback()
		return 0, fmt.Errorf("prepare copy statement: %w", err)
	}

	for _, tick := range ticks {
		if _, err := stmt.Exec(tick.Symbol, tick.Timestamp, tick.Price, tick.Volume); err != nil {
			stmt.Close()
			txn.Rollback()
			if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
				return s.insertTicksIgnoreDuplicates(ctx, ticks)
			}
			return 0, fmt.Errorf("exec copy statement: %w", err)
		}
	}

	if err := stmt.Close(); err != nil {
		txn.Rollback()
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return s.insertTicksIgnoreDuplicates(ctx, ticks)
		}
		return 0, fmt.Errorf("close copy statement: %w", err)
	}

	if err := txn.Commit(); err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return s.insertTicksIgnoreDuplicates(ctx, ticks)
		}
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return len(ticks), nil
}

func (s *CandleStore) insertTicksIgnoreDuplicates(ctx context.Context, ticks []domain.Tick) (int, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(ticks, 1000)
	if result.Error != nil {
		return 0, errors.New("insert ticks: " + result.Error.Error())
	}
	return int(result.RowsAffected), nil
}

// ReadTicks returns ticks for symbol in [from,to), ascending.
func (s *CandleStore) ReadTicks(ctx context.Context, symbol string, from, to time.Time) ([]domain.Tick, error) {
	var ticks []domain.Tick
	result := s.db.WithContext(ctx).
		Where("symbol = ? AND timestamp >= ? AND timestamp < ?", symbol, from, to).
		Order("timestamp").
		Find(&ticks)
	if result.Error != nil {
		return nil, fmt.Errorf("read ticks: %w", result.Error)
	}
	return ticks, nil
}

// DeleteTicksOlderThan prunes ticks per the retention policy.
func (s *CandleStore) DeleteTicksOlderThan(ctx context.Context, olderThan time.Time) (int, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", olderThan).Delete(&domain.Tick{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old ticks: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
