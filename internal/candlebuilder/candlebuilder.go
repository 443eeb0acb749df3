// Package candlebuilder aggregates raw ticks into M1 candles and rolls M1
// candles up into the higher timeframes, pure aggregation with no
// indicator computation.
package candlebuilder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketdata/internal/domain"
	"marketdata/pkg/log"
)

// TickSource is the subset of the Tick Store the builder reads from.
type TickSource interface {
	ReadTicks(ctx context.Context, symbol string, from, to time.Time) ([]domain.Tick, error)
}

// CandleSource is the subset of the Candle Store the builder reads/writes.
// ReplaceCandle and UpsertCandle are deliberately distinct: every candle the
// builder derives (from ticks or from a lower timeframe) is a complete
// reaggregation of its constituents, so writing it must fully replace
// whatever was previously stored at that key; UpsertCandle's widen/narrow/
// sum merge is reserved for externally-sourced candles assembled
// incrementally (the Backfill Fetcher), via UpsertBuilt below.
type CandleSource interface {
	ReadRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error)
	ReplaceCandle(ctx context.Context, candle domain.Candle) error
	UpsertCandle(ctx context.Context, candle domain.Candle) error
}

// Builder implements buildM1FromTicks and rebuildHigherTimeframes.
type Builder struct {
	ticks   TickSource
	candles CandleSource
}

// UpsertBuilt writes one externally-sourced candle (e.g. from the Backfill
// Fetcher) through the Candle Store's merging UpsertCandle path, not the
// ReplaceCandle path the builder uses for the candles it derives itself.
func (b *Builder) UpsertBuilt(ctx context.Context, candle domain.Candle) error {
	return b.candles.UpsertCandle(ctx, candle)
}

func New(ticks TickSource, candles CandleSource) *Builder {
	return &Builder{ticks: ticks, candles: candles}
}

// BuildM1FromTicks aggregates raw ticks in [from,to) into one M1 candle per
// minute that saw at least one tick; minutes with zero ticks produce no
// candle, matching the builder's "never synthesize data" rule. Returns the
// number of M1 candles written.
func (b *Builder) BuildM1FromTicks(ctx context.Context, symbol string, from, to time.Time) (int, error) {
	ticks, err := b.ticks.ReadTicks(ctx, symbol, from, to)
	if err != nil {
		return 0, fmt.Errorf("build m1 from ticks: %w", err)
	}
	if len(ticks) == 0 {
		return 0, nil
	}

	buckets := make(map[time.Time][]domain.Tick)
	for _, t := range ticks {
		minute := domain.Align(t.Timestamp, domain.M1)
		buckets[minute] = append(buckets[minute], t)
	}

	written := 0
	for minute, group := range buckets {
		candle := aggregateTicks(symbol, minute, group)
		if err := b.candles.ReplaceCandle(ctx, candle); err != nil {
			log.CandleError(symbol, string(domain.M1), "failed to write m1 candle built from ticks", err, nil)
			return written, err
		}
		written++
	}
	return written, nil
}

func aggregateTicks(symbol string, minute time.Time, ticks []domain.Tick) domain.Candle {
	open := ticks[0].Price
	close_ := ticks[len(ticks)-1].Price
	high, low := ticks[0].Price, ticks[0].Price
	var volume float64
	for _, t := range ticks {
		if t.Price > high {
			high = t.Price
		}
		if t.Price < low {
			low = t.Price
		}
		volume += t.Volume
	}
	return domain.Candle{
		Symbol:    symbol,
		Timeframe: domain.M1,
		Timestamp: minute,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close_,
		Volume:    volume,
	}
}

// BuildHigherFromM1 aggregates M1 candles in [from,to) into one candle per
// tf bucket that has at least one constituent M1 candle; a bucket with zero
// M1 candles produces no output. Returns the number of candles written.
func (b *Builder) BuildHigherFromM1(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) (int, error) {
	if tf == domain.M1 {
		return 0, fmt.Errorf("build higher from m1: %s is the base timeframe", tf)
	}

	m1, err := b.candles.ReadRange(ctx, symbol, domain.M1, from, to)
	if err != nil {
		return 0, fmt.Errorf("build higher from m1: %w", err)
	}
	if len(m1) == 0 {
		return 0, nil
	}

	buckets := make(map[time.Time][]domain.Candle)
	for _, c := range m1 {
		slot := domain.Align(c.Timestamp, tf)
		buckets[slot] = append(buckets[slot], c)
	}

	written := 0
	for slot, group := range buckets {
		candle := aggregateCandles(symbol, tf, slot, group)
		if err := b.candles.ReplaceCandle(ctx, candle); err != nil {
			log.CandleError(symbol, string(tf), "failed to write higher-timeframe candle", err, nil)
			return written, err
		}
		written++
	}
	return written, nil
}

func aggregateCandles(symbol string, tf domain.Timeframe, slot time.Time, group []domain.Candle) domain.Candle {
	// group arrives in map-iteration order; sort by timestamp so open/close
	// pick the true first/last constituent.
	sortCandlesByTimestamp(group)

	open := group[0].Open
	close_ := group[len(group)-1].Close
	high, low := group[0].High, group[0].Low
	var volume float64
	for _, c := range group {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
		volume += c.Volume
	}
	return domain.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: slot,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close_,
		Volume:    volume,
	}
}

func sortCandlesByTimestamp(candles []domain.Candle) {
	for i := 1; i < len(candles); i++ {
		for j := i; j > 0 && candles[j].Timestamp.Before(candles[j-1].Timestamp); j-- {
			candles[j], candles[j-1] = candles[j-1], candles[j]
		}
	}
}

// RebuildHigherTimeframes runs BuildHigherFromM1 across every derived
// timeframe for [from,to). Timeframes are independent of each other (all
// read from M1, none read from each other), so they rebuild concurrently;
// errgroup cancels the remaining rebuilds on the first failure.
func (b *Builder) RebuildHigherTimeframes(ctx context.Context, symbol string, from, to time.Time) (map[domain.Timeframe]int, error) {
	results := make(map[domain.Timeframe]int, len(domain.DerivedTimeframes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, tf := range domain.DerivedTimeframes {
		tf := tf
		g.Go(func() error {
			n, err := b.BuildHigherFromM1(gctx, symbol, tf, from, to)
			if err != nil {
				return fmt.Errorf("rebuild %s: %w", tf, err)
			}
			mu.Lock()
			results[tf] = n
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
