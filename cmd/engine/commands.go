package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketdata/internal/domain"
	"marketdata/internal/transport/adminhttp"
	"marketdata/internal/transport/healthhttp"
	"marketdata/internal/transport/tickfeed"
	"marketdata/pkg/apperrors"
	"marketdata/pkg/log"
)

// cmdRebuild rebuilds M1 candles from ticks, then every higher timeframe,
// over [from,to) for one symbol.
func (a *app) cmdRebuild(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	from := fs.String("from", "", "range start, RFC3339")
	to := fs.String("to", "", "range end, RFC3339")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) == 0 || *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "usage: engine rebuild <symbol> --from RFC3339 --to RFC3339")
		return exitError
	}
	symbol := rest[0]

	fromT, err := time.Parse(time.RFC3339, *from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --from: %v\n", err)
		return exitError
	}
	toT, err := time.Parse(time.RFC3339, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --to: %v\n", err)
		return exitError
	}

	if _, err := a.builder.BuildM1FromTicks(ctx, symbol, fromT, toT); err != nil {
		log.Error("rebuild m1 failed: %v", err)
		return exitError
	}
	counts, err := a.builder.RebuildHigherTimeframes(ctx, symbol, fromT, toT)
	if err != nil {
		log.Error("rebuild higher timeframes failed: %v", err)
		return exitError
	}
	for tf, n := range counts {
		log.Info("rebuilt %d %s candles for %s", n, tf, symbol)
	}
	return exitOK
}

// cmdBackfill fetches candles for a trailing window directly from the
// provider and upserts them, the same path the engine's worker pool runs,
// but synchronous instead of leased off the Backfill Queue.
func (a *app) cmdBackfill(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	days := fs.Int("days", 7, "lookback window in days")
	tfFlag := fs.String("timeframe", "M1", "timeframe to backfill")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: engine backfill <symbol> --days N [--timeframe TF]")
		return exitError
	}
	symbol := rest[0]
	tf := parseTimeframe(*tfFlag)
	from, to := daysWindow(*days)

	candles, err := a.fetch.FetchCandles(ctx, symbol, tf, from, to)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindCalendarClosed) {
			log.Info("backfill window wholly closed-market for %s, nothing to do", symbol)
			return exitOK
		}
		log.Error("backfill fetch failed: %v", err)
		return exitError
	}

	written := 0
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			log.CandleError(symbol, string(tf), "dropping invalid backfilled candle", err, nil)
			continue
		}
		if err := a.builder.UpsertBuilt(ctx, c); err != nil {
			log.Error("upsert backfilled candle failed: %v", err)
			return exitError
		}
		written++
	}
	log.Info("backfill wrote %d %s candles for %s", written, tf, symbol)

	if tf == domain.M1 {
		if _, err := a.builder.RebuildHigherTimeframes(ctx, symbol, from, to); err != nil {
			log.Error("post-backfill rebuild failed: %v", err)
			return exitError
		}
	}
	return exitOK
}

// cmdVerify runs fullIntegrityCheck and reports coverage/health.
func (a *app) cmdVerify(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	days := fs.Int("days", 7, "lookback window in days")
	tfFlag := fs.String("timeframe", "M1", "timeframe to verify")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: engine verify <symbol> --days N [--timeframe TF]")
		return exitError
	}
	symbol := rest[0]
	tf := parseTimeframe(*tfFlag)

	report, err := a.detector.FullIntegrityCheck(ctx, symbol, tf, *days)
	if err != nil {
		log.Error("verify failed: %v", err)
		return exitError
	}
	log.Info("verify %s %s: coverage=%.4f healthy=%v gaps=%d degenerate=%d",
		symbol, tf, report.Coverage, report.Healthy, len(report.Gaps), len(report.Degenerate))
	if !report.Healthy {
		return exitIntegrity
	}
	return exitOK
}

// cmdGaps scans configured instruments for gaps and, with --fix, enqueues
// them onto the Backfill Queue for the running engine to pick up.
func (a *app) cmdGaps(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("gaps", flag.ExitOnError)
	symbolFlag := fs.String("symbol", "", "restrict to one symbol")
	days := fs.Int("days", 1, "lookback window in days")
	fix := fs.Bool("fix", false, "enqueue discovered gaps onto the backfill queue")
	fs.Parse(args)

	insts := a.instruments()
	if *symbolFlag != "" {
		insts = filterInstruments(insts, *symbolFlag)
	}

	from, to := daysWindow(*days)
	found := 0
	for _, inst := range insts {
		gaps, err := a.detector.DetectGaps(ctx, inst.Symbol, domain.M1, from, to)
		if err != nil {
			log.GapWarn(inst.Symbol, string(domain.M1), "gap scan failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		found += len(gaps)
		for _, g := range gaps {
			log.Info("gap %s %s %s..%s (%d missing)", g.Symbol, g.Timeframe, g.From, g.To, g.MissingCandles)
			if *fix {
				job := domain.BackfillJob{Symbol: g.Symbol, Timeframe: g.Timeframe, GapStart: g.From, GapEnd: g.To, Priority: 5}
				if err := a.queue.Enqueue(ctx, job); err != nil {
					log.BackfillError(job.ID, "enqueue failed", err, nil)
				}
			}
		}
	}
	if found > 0 && !*fix {
		return exitIntegrity
	}
	return exitOK
}

// cmdHealth runs one Health Monitor snapshot per configured instrument.
func (a *app) cmdHealth(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	symbolFlag := fs.String("symbol", "", "restrict to one symbol")
	fs.Parse(args)

	insts := a.instruments()
	if *symbolFlag != "" {
		insts = filterInstruments(insts, *symbolFlag)
	}

	alerted := false
	for _, inst := range insts {
		snap, err := a.monitor.Check(ctx, inst.Symbol, domain.M1)
		if err != nil {
			log.Error("health check failed for %s: %v", inst.Symbol, err)
			return exitError
		}
		log.Info("health %s: age=%s gaps=%d degenerate=%d queue_pending=%d queue_failed=%d alerts=%v",
			snap.Symbol, snap.DataAge, snap.GapCount, snap.DegenerateCount, snap.QueuePending, snap.QueueFailed, snap.Alerts)
		if len(snap.Alerts) > 0 {
			alerted = true
		}
	}
	if alerted {
		return exitIntegrity
	}
	return exitOK
}

// cmdFixIncomplete finds degenerate candles over the window and enqueues a
// backfill covering their union range.
func (a *app) cmdFixIncomplete(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("fix-incomplete", flag.ExitOnError)
	days := fs.Int("days", 1, "lookback window in days")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: engine fix-incomplete <symbol> --days N")
		return exitError
	}
	symbol := rest[0]
	from, to := daysWindow(*days)

	degenerate, err := a.candles.FindDegenerate(ctx, symbol, domain.M1, from, to)
	if err != nil {
		log.Error("find degenerate failed: %v", err)
		return exitError
	}
	if len(degenerate) == 0 {
		log.Info("no degenerate candles for %s in the last %d days", symbol, *days)
		return exitOK
	}

	unionFrom, unionTo := degenerate[0].Timestamp, degenerate[0].Timestamp
	for _, c := range degenerate {
		if c.Timestamp.Before(unionFrom) {
			unionFrom = c.Timestamp
		}
		if c.Timestamp.After(unionTo) {
			unionTo = c.Timestamp
		}
	}
	unionTo = unionTo.Add(domain.M1.Duration())

	job := domain.BackfillJob{Symbol: symbol, Timeframe: domain.M1, GapStart: unionFrom, GapEnd: unionTo, Priority: 10}
	if err := a.queue.Enqueue(ctx, job); err != nil {
		log.Error("enqueue degenerate-repair backfill failed: %v", err)
		return exitError
	}
	log.Info("enqueued degenerate-repair backfill for %s covering %s..%s", symbol, unionFrom, unionTo)
	return exitOK
}

// cmdServe starts the background engine loops, the health and admin HTTP
// surfaces, and the live tick feed, blocking until interrupted.
func (a *app) cmdServe(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eng := a.engine()
	eng.Start(ctx)

	feed := tickfeed.New(a.redis, a.instruments(), eng)
	go func() {
		if err := feed.Run(ctx); err != nil {
			log.Error("tick feed stopped: %v", err)
		}
	}()

	healthSrv := healthhttp.NewServer(a.monitor, a.instruments(), eng)
	go func() {
		addr := fmt.Sprintf(":%d", a.cfg.Server.HealthPort)
		if err := healthhttp.Run(ctx, addr, healthSrv); err != nil {
			log.Error("health server stopped: %v", err)
		}
	}()

	adminSrv := adminhttp.NewServer(a.builder, a.detector, a.queue)
	adminHTTPServer := &http.Server{Addr: fmt.Sprintf(":%d", a.cfg.Server.AdminPort), Handler: adminSrv.Handler()}
	go func() {
		if err := adminHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down engine")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	adminHTTPServer.Shutdown(shutdownCtx)

	if err := eng.Stop(); err != nil {
		log.Error("engine shutdown error: %v", err)
		return exitError
	}
	return exitOK
}

func filterInstruments(insts []domain.Instrument, symbol string) []domain.Instrument {
	for _, inst := range insts {
		if inst.Symbol == symbol {
			return []domain.Instrument{inst}
		}
	}
	return nil
}
