// Package fetcher implements the Backfill Fetcher: a rate-limited HTTP
// client that pulls historical OHLCV data for a gap from the configured
// provider, tolerating a handful of response shapes since the provider's
// format can vary by endpoint version.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"marketdata/internal/domain"
	"marketdata/pkg/apperrors"
)

// Fetcher pulls historical candles from the upstream provider, rate
// limited. A transient failure is classified and returned to the caller
// rather than retried here: retry-with-backoff for a backfill job is the
// Backfill Queue's job (Fail/LeaseNext cycle through NextBackoff), so a job
// that fails three times then succeeds shows attempts=4 on completion
// instead of the retry being hidden inside a single lease.
type Fetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(baseURL, apiKey string, requestsPerMinute, burst int, timeout time.Duration) *Fetcher {
	return &Fetcher{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
	}
}

// rawResponse tolerates the handful of JSON shapes a historical-data
// endpoint tends to return: parallel OHLCV arrays keyed by letter, a
// candles array of objects, or an explicit "no data" status.
type rawResponse struct {
	Status string `json:"status"`

	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`

	Candles []rawCandle `json:"candles"`
}

type rawCandle struct {
	Timestamp interface{} `json:"timestamp"`
	Open      float64     `json:"open"`
	High      float64     `json:"high"`
	Low       float64     `json:"low"`
	Close     float64     `json:"close"`
	Volume    float64     `json:"volume"`
}

// FetchCandles retrieves candles for symbol/timeframe over [from,to) with a
// single HTTP round trip, classifying any error by apperrors.Kind so the
// caller (the worker pool, via the Backfill Queue's Fail/LeaseNext cycle)
// can decide whether to requeue with backoff or give up.
func (f *Fetcher) FetchCandles(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	return f.fetchOnce(ctx, symbol, tf, from, to)
}

func (f *Fetcher) fetchOnce(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := f.buildURL(symbol, tf, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperrors.NewPermanentUpstreamError("build request", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransientUpstreamError("http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientUpstreamError("read response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, apperrors.NewTransientUpstreamError("upstream returned "+resp.Status, fmt.Errorf("%s", body))
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.NewPermanentUpstreamError("upstream returned "+resp.Status, fmt.Errorf("%s", body))
	}

	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewPermanentUpstreamError("decode response", err)
	}
	if raw.Status == "no_data" || raw.Status == "no data" {
		return nil, nil
	}
	if raw.Status != "" && raw.Status != "ok" && raw.Status != "success" {
		return nil, apperrors.NewPermanentUpstreamError("upstream status "+raw.Status, nil)
	}

	return parseCandles(raw, symbol, tf)
}

func (f *Fetcher) buildURL(symbol string, tf domain.Timeframe, from, to time.Time) string {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(tf))
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))
	if f.apiKey != "" {
		q.Set("apikey", f.apiKey)
	}
	return f.baseURL + "?" + q.Encode()
}

// parseCandles tolerates both the parallel-array shape and the array-of-
// objects shape; an empty response of either shape is not an error — it
// means the provider genuinely has no data for the range.
func parseCandles(raw rawResponse, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	if len(raw.Candles) > 0 {
		out := make([]domain.Candle, 0, len(raw.Candles))
		for _, rc := range raw.Candles {
			ts, err := parseTimestamp(rc.Timestamp)
			if err != nil {
				continue
			}
			out = append(out, domain.Candle{
				Symbol: symbol, Timeframe: tf, Timestamp: domain.Align(ts, tf),
				Open: rc.Open, High: rc.High, Low: rc.Low, Close: rc.Close, Volume: rc.Volume,
			})
		}
		return out, nil
	}

	if len(raw.T) == 0 {
		return nil, nil
	}
	n := len(raw.T)
	if len(raw.O) < n || len(raw.H) < n || len(raw.L) < n || len(raw.C) < n {
		return nil, apperrors.NewPermanentUpstreamError("mismatched OHLCV array lengths", nil)
	}

	out := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		var vol float64
		if len(raw.V) > i {
			vol = raw.V[i]
		}
		ts := time.Unix(raw.T[i], 0).UTC()
		out = append(out, domain.Candle{
			Symbol: symbol, Timeframe: tf, Timestamp: domain.Align(ts, tf),
			Open: raw.O[i], High: raw.H[i], Low: raw.L[i], Close: raw.C[i], Volume: vol,
		})
	}
	return out, nil
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		if unix, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Unix(unix, 0).UTC(), nil
		}
		return time.Parse(time.RFC3339, t)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp shape %T", v)
	}
}
