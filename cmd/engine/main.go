// Command engine is the operator CLI for the candle-data engine: it drives
// the same Gap Detector, Candle Builder, Backfill Fetcher and Health
// Monitor the background scheduler uses. Every subcommand except serve runs
// once and exits; serve runs the scheduler and its HTTP surfaces until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"marketdata/internal/domain"
	"marketdata/pkg/log"
)

const (
	exitOK        = 0
	exitError     = 1
	exitIntegrity = 2
)

func main() {
	logConfig := log.DefaultLogConfig()
	log.InitLoggerWithConfig(logConfig)

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitError)
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.cleanup()

	var code int
	switch os.Args[1] {
	case "rebuild":
		code = a.cmdRebuild(ctx, os.Args[2:])
	case "backfill":
		code = a.cmdBackfill(ctx, os.Args[2:])
	case "verify":
		code = a.cmdVerify(ctx, os.Args[2:])
	case "gaps":
		code = a.cmdGaps(ctx, os.Args[2:])
	case "health":
		code = a.cmdHealth(ctx, os.Args[2:])
	case "fix-incomplete":
		code = a.cmdFixIncomplete(ctx, os.Args[2:])
	case "serve":
		code = a.cmdServe(ctx)
	default:
		usage()
		code = exitError
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: engine <command> [flags]

commands:
  rebuild <symbol> --from RFC3339 --to RFC3339   (rebuilds M1 then every higher timeframe)
  backfill <symbol> --days N [--timeframe TF]
  verify <symbol> --days N [--timeframe TF]
  gaps [--symbol S] [--days N] [--fix]
  health [--symbol S]
  fix-incomplete <symbol> --days N
  serve`)
}

func parseTimeframe(s string) domain.Timeframe {
	if s == "" {
		return domain.M1
	}
	return domain.Timeframe(s)
}

func daysWindow(days int) (time.Time, time.Time) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	return from, to
}
