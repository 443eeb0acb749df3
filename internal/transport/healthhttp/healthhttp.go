// Package healthhttp exposes the Health Monitor over an always-on gin
// server: GET /health runs one snapshot per tracked instrument, GET
// /metrics reports the worker pool's own counters.
package healthhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marketdata/internal/domain"
	"marketdata/internal/health"
	"marketdata/internal/scheduler"
	"marketdata/pkg/log"
)

// MetricsSource is the subset of the Engine the /metrics endpoint reports.
type MetricsSource interface {
	Metrics() scheduler.WorkerPoolMetrics
}

// Server wraps a gin.Engine serving the Health Monitor's HTTP surface.
type Server struct {
	router      *gin.Engine
	monitor     *health.Monitor
	instruments []domain.Instrument
	metrics     MetricsSource
}

// NewServer builds the health HTTP surface on gin.New() with gin.Recovery()
// and a request-logging middleware (the admin surface is a separate
// gorilla/mux router).
func NewServer(monitor *health.Monitor, instruments []domain.Instrument, metrics MetricsSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLoggerMiddleware())

	s := &Server{router: router, monitor: monitor, instruments: instruments, metrics: metrics}
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type instrumentHealth struct {
	Symbol          string   `json:"symbol"`
	Timeframe       string   `json:"timeframe"`
	DataAgeSeconds  float64  `json:"data_age_seconds"`
	GapCount        int      `json:"gap_count"`
	DegenerateCount int      `json:"degenerate_count"`
	QueuePending    int      `json:"queue_pending"`
	QueueFailed     int      `json:"queue_failed"`
	Alerts          []string `json:"alerts"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	results := make([]instrumentHealth, 0, len(s.instruments))
	unhealthy := false

	for _, inst := range s.instruments {
		snap, err := s.monitor.Check(ctx, inst.Symbol, domain.M1)
		if err != nil {
			log.HealthError("health endpoint check failed", err, map[string]interface{}{"symbol": inst.Symbol})
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
			return
		}
		if len(snap.Alerts) > 0 {
			unhealthy = true
		}
		results = append(results, instrumentHealth{
			Symbol:          snap.Symbol,
			Timeframe:       string(snap.Timeframe),
			DataAgeSeconds:  snap.DataAge.Seconds(),
			GapCount:        snap.GapCount,
			DegenerateCount: snap.DegenerateCount,
			QueuePending:    snap.QueuePending,
			QueueFailed:     snap.QueueFailed,
			Alerts:          snap.Alerts,
		})
	}

	status := http.StatusOK
	if unhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": statusString(unhealthy), "instruments": results})
}

func statusString(unhealthy bool) string {
	if unhealthy {
		return "degraded"
	}
	return "ok"
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.metrics.Metrics())
}

func requestLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("request %s %s status=%d latency=%s", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Run starts the server and blocks until ctx is cancelled or the listener
// fails, with a graceful ListenAndServe/Shutdown pairing.
func Run(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
