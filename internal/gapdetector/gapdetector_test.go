package gapdetector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/calendar"
	"marketdata/internal/domain"
)

type fakeCandleStore struct {
	candles    []domain.Candle
	degenerate []domain.Candle
}

func (f *fakeCandleStore) ReadRange(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range f.candles {
		if !c.Timestamp.Before(from) && c.Timestamp.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCandleStore) FindDegenerate(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	return f.degenerate, nil
}

type fakeIntegrityStore struct {
	records []domain.IntegrityRecord
}

func (f *fakeIntegrityStore) Upsert(ctx context.Context, record domain.IntegrityRecord) error {
	f.records = append(f.records, record)
	return nil
}

func classOfForex(symbol string) domain.InstrumentClass { return domain.ClassForex }

func candle(ts time.Time) domain.Candle {
	return domain.Candle{Symbol: "EURUSD", Timeframe: domain.M1, Timestamp: ts, Open: 1, High: 1.001, Low: 0.999, Close: 1.0005, Volume: 1}
}

// Scenario 1: Start gap — seed M1 candles at 10:05,10:06,10:07 on a Wednesday,
// request [10:00,10:10); expect one start_gap with missingCandles=5. The
// trailing window from the last candle's next expected slot (10:08) to the
// requested end (10:10) is only 2 minutes, which does not exceed the 2·dur
// threshold, so no end_gap is reported alongside it.
func TestDetectGaps_StartGap(t *testing.T) {
	wed := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC) // a Wednesday
	base := wed.Add(10 * time.Hour)

	store := &fakeCandleStore{candles: []domain.Candle{
		candle(base.Add(5 * time.Minute)),
		candle(base.Add(6 * time.Minute)),
		candle(base.Add(7 * time.Minute)),
	}}
	detector := New(store, &fakeIntegrityStore{}, calendar.NewForexMetalCalendar(nil), classOfForex)

	gaps, err := detector.DetectGaps(context.Background(), "EURUSD", domain.M1, base, base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, StartGap, gaps[0].Tag)
	assert.Equal(t, 5, gaps[0].MissingCandles)
	assert.True(t, gaps[0].From.Equal(base))
	assert.True(t, gaps[0].To.Equal(base.Add(5*time.Minute)))
}

// TestDetectGaps_EndGap confirms the symmetric end-gap case fires once the
// trailing window past the last candle's next expected slot genuinely
// exceeds the 2·dur threshold.
func TestDetectGaps_EndGap(t *testing.T) {
	wed := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeCandleStore{candles: []domain.Candle{
		candle(wed),
		candle(wed.Add(time.Minute)),
		candle(wed.Add(2 * time.Minute)),
	}}
	detector := New(store, &fakeIntegrityStore{}, calendar.NewForexMetalCalendar(nil), classOfForex)

	gaps, err := detector.DetectGaps(context.Background(), "EURUSD", domain.M1, wed, wed.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, EndGap, gaps[0].Tag)
	assert.True(t, gaps[0].From.Equal(wed.Add(3*time.Minute)))
	assert.True(t, gaps[0].To.Equal(wed.Add(10*time.Minute)))
	assert.Equal(t, 7, gaps[0].MissingCandles)
}

// Scenario 2: Weekend suppression — no data all of Saturday; detectGaps
// over the full day must return no gaps.
func TestDetectGaps_WeekendSuppression(t *testing.T) {
	sat := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	store := &fakeCandleStore{}
	detector := New(store, &fakeIntegrityStore{}, calendar.NewForexMetalCalendar(nil), classOfForex)

	gaps, err := detector.DetectGaps(context.Background(), "EURUSD", domain.M1, sat, sat.Add(23*time.Hour+59*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestDetectGaps_MidGap(t *testing.T) {
	wed := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeCandleStore{candles: []domain.Candle{
		candle(wed),
		candle(wed.Add(time.Minute)),
		candle(wed.Add(10 * time.Minute)),
		candle(wed.Add(11 * time.Minute)),
	}}
	detector := New(store, &fakeIntegrityStore{}, calendar.NewForexMetalCalendar(nil), classOfForex)

	gaps, err := detector.DetectGaps(context.Background(), "EURUSD", domain.M1, wed, wed.Add(12*time.Minute))
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, MidGap, gaps[0].Tag)
}
