// Package health implements the periodic Health Monitor snapshot: data
// freshness, gap/degenerate counts, store latency percentiles, and queue
// status, appended to the HealthMetric series. Percentiles are computed
// with gonum.org/v1/gonum/stat.
package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"marketdata/internal/domain"
	"marketdata/internal/gapdetector"
	"marketdata/pkg/log"
)

// CandleStore is the subset of the Candle Store the monitor reads.
type CandleStore interface {
	LatestTimestamp(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error)
	FindDegenerate(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error)
}

// GapChecker is the subset of the Gap Detector the monitor consults.
type GapChecker interface {
	DetectGaps(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]gapdetector.Gap, error)
}

// QueueStatus is the subset of Backfill Queue status the monitor reports.
type QueueStatus interface {
	PendingCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)
}

// MetricStore persists HealthMetric points.
type MetricStore interface {
	Append(ctx context.Context, metric domain.HealthMetric) error
}

// Monitor implements one health-check tick over a set of tracked symbols.
type Monitor struct {
	candles    CandleStore
	gaps       GapChecker
	queue      QueueStatus
	metrics    MetricStore
	thresholds domain.Thresholds

	latencies []float64 // rolling store-latency samples, seconds
}

func New(candles CandleStore, gaps GapChecker, queue QueueStatus, metrics MetricStore, thresholds domain.Thresholds) *Monitor {
	return &Monitor{candles: candles, gaps: gaps, queue: queue, metrics: metrics, thresholds: thresholds}
}

// RecordLatency appends one store-operation latency sample, consumed by the
// next Snapshot's percentile computation. Callers should bound how many
// samples accumulate between snapshots; this is a simple unbounded slice
// because a single health-check interval never sees enough store calls to
// matter.
func (m *Monitor) RecordLatency(d time.Duration) {
	m.latencies = append(m.latencies, d.Seconds())
}

// Snapshot is one health-check tick's observations.
type Snapshot struct {
	Symbol          string
	Timeframe       domain.Timeframe
	DataAge         time.Duration
	GapCount        int
	DegenerateCount int
	StoreLatencyP50 time.Duration
	StoreLatencyP95 time.Duration
	StoreLatencyP99 time.Duration
	QueuePending    int
	QueueFailed     int
	Alerts          []string
}

// Check runs one health-check tick for (symbol, tf), appends the resulting
// metrics (non-fatal on append failure), and returns the alerts raised
// against domain.Thresholds.
func (m *Monitor) Check(ctx context.Context, symbol string, tf domain.Timeframe) (Snapshot, error) {
	now := time.Now().UTC()
	snap := Snapshot{Symbol: symbol, Timeframe: tf}

	latest, ok, err := m.candles.LatestTimestamp(ctx, symbol, tf)
	if err != nil {
		return snap, fmt.Errorf("health check: %w", err)
	}
	if ok {
		snap.DataAge = now.Sub(latest)
	} else {
		snap.DataAge = time.Duration(1<<63 - 1)
	}

	window := now.Add(-24 * time.Hour)
	gaps, err := m.gaps.DetectGaps(ctx, symbol, tf, window, now)
	if err != nil {
		return snap, fmt.Errorf("health check: %w", err)
	}
	snap.GapCount = len(gaps)

	degenerate, err := m.candles.FindDegenerate(ctx, symbol, tf, window, now)
	if err != nil {
		return snap, fmt.Errorf("health check: %w", err)
	}
	snap.DegenerateCount = len(degenerate)

	p50, p95, p99 := percentiles(m.latencies)
	snap.StoreLatencyP50 = time.Duration(p50 * float64(time.Second))
	snap.StoreLatencyP95 = time.Duration(p95 * float64(time.Second))
	snap.StoreLatencyP99 = time.Duration(p99 * float64(time.Second))
	m.latencies = nil

	pending, err := m.queue.PendingCount(ctx)
	if err != nil {
		return snap, fmt.Errorf("health check: %w", err)
	}
	snap.QueuePending = pending

	failed, err := m.queue.FailedCount(ctx)
	if err != nil {
		return snap, fmt.Errorf("health check: %w", err)
	}
	snap.QueueFailed = failed

	snap.Alerts = m.alertsFor(snap)

	m.append(ctx, symbol, tf, "data_age_seconds", snap.DataAge.Seconds(), now)
	m.append(ctx, symbol, tf, "gap_count", float64(snap.GapCount), now)
	m.append(ctx, symbol, tf, "degenerate_count", float64(snap.DegenerateCount), now)
	m.append(ctx, symbol, tf, "store_latency_p95_seconds", p95, now)
	m.append(ctx, symbol, tf, "queue_pending", float64(snap.QueuePending), now)
	m.append(ctx, symbol, tf, "queue_failed", float64(snap.QueueFailed), now)

	if len(snap.Alerts) > 0 {
		log.HealthError("health check raised alerts", nil, map[string]interface{}{
			"symbol": symbol, "timeframe": tf, "alerts": snap.Alerts,
		})
	} else {
		log.HealthInfo("health check ok", map[string]interface{}{
			"symbol": symbol, "timeframe": tf, "data_age": snap.DataAge,
		})
	}

	return snap, nil
}

func (m *Monitor) append(ctx context.Context, symbol string, tf domain.Timeframe, name string, value float64, at time.Time) {
	err := m.metrics.Append(ctx, domain.HealthMetric{
		MetricName: name, Value: value, Symbol: symbol, Timeframe: tf, RecordedAt: at,
	})
	if err != nil {
		log.HealthError("failed to append health metric (non-fatal)", err, map[string]interface{}{
			"symbol": symbol, "timeframe": tf, "metric": name,
		})
	}
}

func (m *Monitor) alertsFor(snap Snapshot) []string {
	var alerts []string
	if snap.DataAge > m.thresholds.MaxDataAge {
		alerts = append(alerts, fmt.Sprintf("data age %s exceeds max %s", snap.DataAge, m.thresholds.MaxDataAge))
	}
	if snap.GapCount > m.thresholds.MaxGapsPerDay {
		alerts = append(alerts, fmt.Sprintf("gap count %d exceeds max %d", snap.GapCount, m.thresholds.MaxGapsPerDay))
	}
	if snap.QueuePending > m.thresholds.QueuePendingWarn {
		alerts = append(alerts, fmt.Sprintf("queue pending %d exceeds warn threshold %d", snap.QueuePending, m.thresholds.QueuePendingWarn))
	}
	if snap.QueueFailed > m.thresholds.QueueFailedWarn {
		alerts = append(alerts, fmt.Sprintf("queue failed %d exceeds warn threshold %d", snap.QueueFailed, m.thresholds.QueueFailedWarn))
	}
	return alerts
}

// percentiles returns p50/p95/p99 over samples, using gonum's empirical
// quantile (each result is one of the samples, no interpolation); an empty
// sample set yields all zeros.
func percentiles(samples []float64) (p50, p95, p99 float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return stat.Quantile(0.50, stat.Empirical, sorted, nil),
		stat.Quantile(0.95, stat.Empirical, sorted, nil),
		stat.Quantile(0.99, stat.Empirical, sorted, nil)
}
