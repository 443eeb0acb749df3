package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/domain"
	"marketdata/internal/gapdetector"
)

type fakeCandleStore struct {
	latest     time.Time
	hasLatest  bool
	degenerate []domain.Candle
}

func (f *fakeCandleStore) LatestTimestamp(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error) {
	return f.latest, f.hasLatest, nil
}

func (f *fakeCandleStore) FindDegenerate(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	return f.degenerate, nil
}

type fakeGapChecker struct {
	gaps []gapdetector.Gap
}

func (f *fakeGapChecker) DetectGaps(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]gapdetector.Gap, error) {
	return f.gaps, nil
}

type fakeQueueStatus struct {
	pending int
	failed  int
}

func (f *fakeQueueStatus) PendingCount(ctx context.Context) (int, error) { return f.pending, nil }
func (f *fakeQueueStatus) FailedCount(ctx context.Context) (int, error)  { return f.failed, nil }

type fakeMetricStore struct {
	appended []domain.HealthMetric
}

func (f *fakeMetricStore) Append(ctx context.Context, metric domain.HealthMetric) error {
	f.appended = append(f.appended, metric)
	return nil
}

func TestCheck_HealthyWithinThresholds(t *testing.T) {
	candles := &fakeCandleStore{latest: time.Now().UTC().Add(-30 * time.Second), hasLatest: true}
	gaps := &fakeGapChecker{}
	q := &fakeQueueStatus{pending: 1, failed: 0}
	metrics := &fakeMetricStore{}

	m := New(candles, gaps, q, metrics, domain.DefaultThresholds())
	snap, err := m.Check(context.Background(), "EURUSD", domain.M1)
	require.NoError(t, err)
	assert.Empty(t, snap.Alerts)
	assert.Equal(t, 0, snap.GapCount)
	assert.NotEmpty(t, metrics.appended)
}

func TestCheck_StaleDataRaisesAlert(t *testing.T) {
	candles := &fakeCandleStore{latest: time.Now().UTC().Add(-1 * time.Hour), hasLatest: true}
	gaps := &fakeGapChecker{}
	q := &fakeQueueStatus{}
	metrics := &fakeMetricStore{}

	m := New(candles, gaps, q, metrics, domain.DefaultThresholds())
	snap, err := m.Check(context.Background(), "EURUSD", domain.M1)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Alerts)
	assert.Contains(t, snap.Alerts[0], "data age")
}

func TestCheck_ExcessiveGapsAndQueueBacklogRaiseAlerts(t *testing.T) {
	candles := &fakeCandleStore{latest: time.Now().UTC(), hasLatest: true}
	var manyGaps []gapdetector.Gap
	for i := 0; i < 15; i++ {
		manyGaps = append(manyGaps, gapdetector.Gap{Symbol: "EURUSD", Timeframe: domain.M1})
	}
	gaps := &fakeGapChecker{gaps: manyGaps}
	q := &fakeQueueStatus{pending: 100, failed: 20}
	metrics := &fakeMetricStore{}

	m := New(candles, gaps, q, metrics, domain.DefaultThresholds())
	snap, err := m.Check(context.Background(), "EURUSD", domain.M1)
	require.NoError(t, err)
	assert.Equal(t, 15, snap.GapCount)
	assert.GreaterOrEqual(t, len(snap.Alerts), 3)
}

func TestRecordLatency_PercentilesComputedAndReset(t *testing.T) {
	candles := &fakeCandleStore{latest: time.Now().UTC(), hasLatest: true}
	gaps := &fakeGapChecker{}
	q := &fakeQueueStatus{}
	metrics := &fakeMetricStore{}

	m := New(candles, gaps, q, metrics, domain.DefaultThresholds())
	for i := 1; i <= 100; i++ {
		m.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	snap, err := m.Check(context.Background(), "EURUSD", domain.M1)
	require.NoError(t, err)
	assert.Greater(t, snap.StoreLatencyP95, snap.StoreLatencyP50)
	assert.Greater(t, snap.StoreLatencyP99, snap.StoreLatencyP95)

	snap2, err := m.Check(context.Background(), "EURUSD", domain.M1)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), snap2.StoreLatencyP50)
}
