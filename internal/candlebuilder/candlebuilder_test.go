package candlebuilder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/domain"
)

type fakeTickSource struct {
	ticks []domain.Tick
}

func (f *fakeTickSource) ReadTicks(ctx context.Context, symbol string, from, to time.Time) ([]domain.Tick, error) {
	var out []domain.Tick
	for _, t := range f.ticks {
		if !t.Timestamp.Before(from) && t.Timestamp.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeCandleSource struct {
	candles []domain.Candle
}

func (f *fakeCandleSource) ReadRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range f.candles {
		if c.Timeframe == tf && !c.Timestamp.Before(from) && c.Timestamp.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ReplaceCandle mirrors postgres.CandleStore.ReplaceCandle: the incoming row
// fully overwrites whatever was stored at the same key.
func (f *fakeCandleSource) ReplaceCandle(ctx context.Context, candle domain.Candle) error {
	for i, c := range f.candles {
		if c.Symbol == candle.Symbol && c.Timeframe == candle.Timeframe && c.Timestamp.Equal(candle.Timestamp) {
			f.candles[i] = candle
			return nil
		}
	}
	f.candles = append(f.candles, candle)
	return nil
}

// UpsertCandle mirrors postgres.CandleStore.UpsertCandle's widen-high/
// narrow-low/keep-open/overwrite-close/sum-volume merge, except a
// degenerate stored row is fully replaced by a non-degenerate incoming one.
func (f *fakeCandleSource) UpsertCandle(ctx context.Context, candle domain.Candle) error {
	for i, c := range f.candles {
		if c.Symbol == candle.Symbol && c.Timeframe == candle.Timeframe && c.Timestamp.Equal(candle.Timestamp) {
			if isDegenerate(c) && !isDegenerate(candle) {
				f.candles[i] = candle
				return nil
			}
			merged := c
			if candle.High > merged.High {
				merged.High = candle.High
			}
			if candle.Low < merged.Low {
				merged.Low = candle.Low
			}
			merged.Close = candle.Close
			merged.Volume += candle.Volume
			f.candles[i] = merged
			return nil
		}
	}
	f.candles = append(f.candles, candle)
	return nil
}

func isDegenerate(c domain.Candle) bool {
	return c.Open == c.High && c.High == c.Low && c.Low == c.Close
}

func TestBuildM1FromTicks_Idempotent(t *testing.T) {
	minute := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	ticks := &fakeTickSource{ticks: []domain.Tick{
		{Symbol: "EURUSD", Timestamp: minute, Price: 1.10, Volume: 1},
		{Symbol: "EURUSD", Timestamp: minute.Add(20 * time.Second), Price: 1.12, Volume: 2},
		{Symbol: "EURUSD", Timestamp: minute.Add(40 * time.Second), Price: 1.08, Volume: 1},
		{Symbol: "EURUSD", Timestamp: minute.Add(59 * time.Second), Price: 1.11, Volume: 3},
	}}
	candles := &fakeCandleSource{}
	builder := New(ticks, candles)

	n, err := builder.BuildM1FromTicks(context.Background(), "EURUSD", minute, minute.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, candles.candles, 1)

	c := candles.candles[0]
	assert.Equal(t, 1.10, c.Open)
	assert.Equal(t, 1.11, c.Close)
	assert.Equal(t, 1.12, c.High)
	assert.Equal(t, 1.08, c.Low)
	assert.Equal(t, 7.0, c.Volume)

	// re-running over the same window must not change the aggregate.
	n2, err := builder.BuildM1FromTicks(context.Background(), "EURUSD", minute, minute.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n2)
	require.Len(t, candles.candles, 1)
	assert.Equal(t, c, candles.candles[0])
}

// UpsertBuilt is the Backfill Fetcher's write path, not the aggregation
// path: two fetches covering overlapping provider responses for the same
// key are expected to merge (sum volume, widen high, narrow low), unlike
// ReplaceCandle's full-overwrite semantics used by BuildM1FromTicks/
// BuildHigherFromM1 above.
func TestUpsertBuilt_MergesOnConflict(t *testing.T) {
	minute := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	candles := &fakeCandleSource{}
	builder := New(&fakeTickSource{}, candles)

	first := domain.Candle{Symbol: "EURUSD", Timeframe: domain.M1, Timestamp: minute, Open: 1.10, High: 1.12, Low: 1.09, Close: 1.11, Volume: 5}
	require.NoError(t, builder.UpsertBuilt(context.Background(), first))

	second := domain.Candle{Symbol: "EURUSD", Timeframe: domain.M1, Timestamp: minute, Open: 1.20, High: 1.15, Low: 1.07, Close: 1.13, Volume: 3}
	require.NoError(t, builder.UpsertBuilt(context.Background(), second))

	require.Len(t, candles.candles, 1)
	c := candles.candles[0]
	assert.Equal(t, 1.10, c.Open) // open is kept from the first write
	assert.Equal(t, 1.13, c.Close)
	assert.Equal(t, 1.15, c.High)
	assert.Equal(t, 1.07, c.Low)
	assert.Equal(t, 8.0, c.Volume) // summed, not replaced
}

func TestBuildM1FromTicks_EmptyMinuteProducesNoCandle(t *testing.T) {
	ticks := &fakeTickSource{}
	candles := &fakeCandleSource{}
	builder := New(ticks, candles)

	n, err := builder.BuildM1FromTicks(context.Background(), "EURUSD",
		time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 5, 10, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, candles.candles)
}

func TestBuildHigherFromM1_H1Aggregation(t *testing.T) {
	hour := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	m1 := []domain.Candle{
		{Symbol: "EURUSD", Timeframe: domain.M1, Timestamp: hour, Open: 1.10, High: 1.11, Low: 1.09, Close: 1.105, Volume: 1},
		{Symbol: "EURUSD", Timeframe: domain.M1, Timestamp: hour.Add(30 * time.Minute), Open: 1.105, High: 1.13, Low: 1.10, Close: 1.12, Volume: 2},
		{Symbol: "EURUSD", Timeframe: domain.M1, Timestamp: hour.Add(59 * time.Minute), Open: 1.12, High: 1.125, Low: 1.08, Close: 1.09, Volume: 3},
	}
	candles := &fakeCandleSource{candles: m1}
	builder := New(&fakeTickSource{}, candles)

	n, err := builder.BuildHigherFromM1(context.Background(), "EURUSD", domain.H1, hour, hour.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var h1 *domain.Candle
	for i := range candles.candles {
		if candles.candles[i].Timeframe == domain.H1 {
			h1 = &candles.candles[i]
		}
	}
	require.NotNil(t, h1)
	assert.Equal(t, 1.10, h1.Open)
	assert.Equal(t, 1.09, h1.Close)
	assert.Equal(t, 1.13, h1.High)
	assert.Equal(t, 1.08, h1.Low)
	assert.Equal(t, 6.0, h1.Volume)
}

func TestBuildHigherFromM1_NoConstituents(t *testing.T) {
	candles := &fakeCandleSource{}
	builder := New(&fakeTickSource{}, candles)

	n, err := builder.BuildHigherFromM1(context.Background(), "EURUSD", domain.H1,
		time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 5, 11, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRebuildHigherTimeframes(t *testing.T) {
	day := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	var m1 []domain.Candle
	for i := 0; i < 60; i++ {
		m1 = append(m1, domain.Candle{
			Symbol: "EURUSD", Timeframe: domain.M1, Timestamp: day.Add(time.Duration(i) * time.Minute),
			Open: 1.10, High: 1.11, Low: 1.09, Close: 1.105, Volume: 1,
		})
	}
	candles := &fakeCandleSource{candles: m1}
	builder := New(&fakeTickSource{}, candles)

	results, err := builder.RebuildHigherTimeframes(context.Background(), "EURUSD", day, day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 12, results[domain.M5])
	assert.Equal(t, 4, results[domain.M15])
	assert.Equal(t, 2, results[domain.M30])
	assert.Equal(t, 1, results[domain.H1])
}
