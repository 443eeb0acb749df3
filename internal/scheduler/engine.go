package scheduler

import (
	"context"
	"sync"
	"time"

	"marketdata/internal/candlebuilder"
	"marketdata/internal/domain"
	"marketdata/internal/fetcher"
	"marketdata/internal/gapdetector"
	"marketdata/internal/health"
	"marketdata/internal/queue"
	"marketdata/pkg/apperrors"
	"marketdata/pkg/log"
)

// Config tunes the Engine's background loops.
type Config struct {
	IntegritySweepInterval time.Duration
	FullCheckInterval      time.Duration
	FullCheckLookbackDays  int
	BackfillWorkers        int
	QueueSize              int
	LeaseTTL               time.Duration
	ReapInterval           time.Duration
	HealthCheckInterval    time.Duration
	ShutdownGracePeriod    time.Duration
}

// TickWriter is the subset of the Tick Store the live-ingest path writes
// through before triggering an M1 rebuild for the tick's minute.
type TickWriter interface {
	InsertTicks(ctx context.Context, ticks []domain.Tick) (int, error)
}

// Engine starts and coordinates the integrity sweep, the backfill worker
// pool, the reaper, and the health-monitor tick. Ingest of live ticks is
// driven externally (internal/transport/tickfeed) and calls IngestTick.
type Engine struct {
	cfg Config

	detector *gapdetector.Detector
	builder  *candlebuilder.Builder
	fetcher  *fetcher.Fetcher
	ticks    TickWriter
	q        queue.Queue
	monitor  *health.Monitor
	pool     *WorkerPool

	instruments []domain.Instrument

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(
	cfg Config,
	detector *gapdetector.Detector,
	builder *candlebuilder.Builder,
	f *fetcher.Fetcher,
	ticks TickWriter,
	q queue.Queue,
	monitor *health.Monitor,
	instruments []domain.Instrument,
) *Engine {
	pool := NewWorkerPool(WorkerPoolConfig{
		MaxWorkers:      cfg.BackfillWorkers,
		QueueSize:       cfg.QueueSize,
		ShutdownTimeout: cfg.ShutdownGracePeriod,
	})

	return &Engine{
		cfg:         cfg,
		detector:    detector,
		builder:     builder,
		fetcher:     f,
		ticks:       ticks,
		q:           q,
		monitor:     monitor,
		pool:        pool,
		instruments: instruments,
	}
}

// Start launches every background loop. It returns immediately; call Stop
// to drain and shut down.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.pool.Start()

	e.runLoop(ctx, "integrity_sweep", e.cfg.IntegritySweepInterval, e.integritySweep)
	e.runLoop(ctx, "full_integrity_check", e.cfg.FullCheckInterval, e.fullCheck)
	e.runLoop(ctx, "reaper", e.cfg.ReapInterval, e.reap)
	e.runLoop(ctx, "health_check", e.cfg.HealthCheckInterval, e.healthCheck)
	e.runBackfillDispatch(ctx)
	e.runResultDrain(ctx)
}

// Stop cancels the engine's context, which ends every loop and also the
// context running backfill tasks execute under, waits up to the configured
// grace period for the loops to return, then shuts the worker pool down.
// In-flight tasks are cancelled at the first step, not drained before it.
func (e *Engine) Stop() error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownGracePeriod):
		log.Warn("engine shutdown grace period exceeded, cancelling in-flight work")
	}
	return e.pool.Shutdown()
}

// Metrics reports the backfill worker pool's current counters, consumed by
// the health HTTP surface's /metrics endpoint.
func (e *Engine) Metrics() WorkerPoolMetrics {
	return e.pool.Metrics()
}

// IngestTick writes one live tick to the Tick Store, then rebuilds the M1
// candle for its minute. Called by the tick-feed transport subscriber.
func (e *Engine) IngestTick(ctx context.Context, tick domain.Tick) {
	if _, err := e.ticks.InsertTicks(ctx, []domain.Tick{tick}); err != nil {
		log.CandleError(tick.Symbol, string(domain.M1), "failed to store live tick", err, nil)
		return
	}

	minute := domain.Align(tick.Timestamp, domain.M1)
	if _, err := e.builder.BuildM1FromTicks(ctx, tick.Symbol, minute, minute.Add(domain.M1.Duration())); err != nil {
		log.CandleError(tick.Symbol, string(domain.M1), "failed to build m1 candle from live tick", err, nil)
	}
}

func (e *Engine) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	log.Info("scheduler loop %q started, interval %s", name, interval)
}

func (e *Engine) integritySweep(ctx context.Context) {
	now := time.Now().UTC()
	from := now.Add(-e.cfg.IntegritySweepInterval)
	for _, inst := range e.instruments {
		gaps, err := e.detector.DetectGaps(ctx, inst.Symbol, domain.M1, from, now)
		if err != nil {
			log.GapWarn(inst.Symbol, string(domain.M1), "integrity sweep failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		for _, g := range gaps {
			e.enqueueGap(ctx, g)
		}
	}
}

func (e *Engine) fullCheck(ctx context.Context) {
	for _, inst := range e.instruments {
		report, err := e.detector.FullIntegrityCheck(ctx, inst.Symbol, domain.M1, e.cfg.FullCheckLookbackDays)
		if err != nil {
			log.GapWarn(inst.Symbol, string(domain.M1), "full integrity check failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		for _, g := range report.Gaps {
			e.enqueueGap(ctx, g)
		}
	}
}

func (e *Engine) enqueueGap(ctx context.Context, g gapdetector.Gap) {
	job := domain.BackfillJob{
		Symbol:    g.Symbol,
		Timeframe: g.Timeframe,
		GapStart:  g.From,
		GapEnd:    g.To,
		Priority:  priorityForTag(g.Tag),
	}
	if err := e.q.Enqueue(ctx, job); err != nil {
		log.BackfillError(job.ID, "failed to enqueue gap", err, map[string]interface{}{"symbol": g.Symbol})
	}
}

func priorityForTag(tag gapdetector.GapTag) int {
	if tag == gapdetector.FullGap {
		return 10
	}
	return 5
}

func (e *Engine) reap(ctx context.Context) {
	if _, err := e.q.Reap(ctx); err != nil {
		log.Warn("reap failed: %v", err)
	}
}

func (e *Engine) healthCheck(ctx context.Context) {
	for _, inst := range e.instruments {
		if _, err := e.monitor.Check(ctx, inst.Symbol, domain.M1); err != nil {
			log.Warn("health check failed for %s: %v", inst.Symbol, err)
		}
	}
}

// runBackfillDispatch continuously leases jobs off the queue and submits
// them to the worker pool, backing off briefly when the queue is empty.
func (e *Engine) runBackfillDispatch(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			job, err := e.q.LeaseNext(ctx, "engine", e.cfg.LeaseTTL)
			if err != nil {
				log.Warn("lease next failed: %v", err)
				time.Sleep(time.Second)
				continue
			}
			if job == nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			task := &backfillTask{engine: e, job: *job}
			if err := e.pool.Submit(ctx, task); err != nil {
				if failErr := e.q.Fail(ctx, job.ID, err); failErr != nil {
					log.BackfillError(job.ID, "failed to requeue after submit failure", failErr, nil)
				}
			}
		}
	}()
}

// runResultDrain reports completed/failed backfill jobs back to the queue.
func (e *Engine) runResultDrain(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case result := <-e.pool.Results():
				if result.Error != nil {
					if err := e.q.Fail(ctx, result.TaskID, result.Error); err != nil {
						log.BackfillError(result.TaskID, "failed to record job failure", err, nil)
					}
					continue
				}
				if err := e.q.Complete(ctx, result.TaskID); err != nil {
					log.BackfillError(result.TaskID, "failed to record job completion", err, nil)
				}
			}
		}
	}()
}

// backfillTask fetches and writes the candles for one BackfillJob's gap.
type backfillTask struct {
	engine *Engine
	job    domain.BackfillJob
}

func (t *backfillTask) ID() string    { return t.job.ID }
func (t *backfillTask) Priority() int { return t.job.Priority }

func (t *backfillTask) Execute(ctx context.Context) (interface{}, error) {
	candles, err := t.engine.fetcher.FetchCandles(ctx, t.job.Symbol, t.job.Timeframe, t.job.GapStart, t.job.GapEnd)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindCalendarClosed) {
			return nil, nil
		}
		return nil, err
	}

	written := 0
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			log.CandleError(c.Symbol, string(c.Timeframe), "dropping invalid candle from backfill fetch", err, nil)
			continue
		}
		if err := t.engine.builder.UpsertBuilt(ctx, c); err != nil {
			return nil, err
		}
		written++
	}

	if written > 0 && t.job.Timeframe == domain.M1 {
		if _, err := t.engine.builder.RebuildHigherTimeframes(ctx, t.job.Symbol, t.job.GapStart, t.job.GapEnd); err != nil {
			return written, err
		}
	}
	return written, nil
}
