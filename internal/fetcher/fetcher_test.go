package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/domain"
)

func TestFetchCandles_ParallelArrayShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","t":[1700000000,1700000060],"o":[1.10,1.11],"h":[1.12,1.13],"l":[1.09,1.10],"c":[1.11,1.105],"v":[10,20]}`))
	}))
	defer server.Close()

	f := New(server.URL, "", 600, 10, 5*time.Second)
	candles, err := f.FetchCandles(context.Background(), "EURUSD", domain.M1, time.Unix(1700000000, 0), time.Unix(1700000120, 0))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.10, candles[0].Open)
	assert.Equal(t, 10.0, candles[0].Volume)
}

func TestFetchCandles_EmptyIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","t":[]}`))
	}))
	defer server.Close()

	f := New(server.URL, "", 600, 10, 5*time.Second)
	candles, err := f.FetchCandles(context.Background(), "EURUSD", domain.M1, time.Unix(1700000000, 0), time.Unix(1700000060, 0))
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestFetchCandles_PermanentErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`bad request`))
	}))
	defer server.Close()

	f := New(server.URL, "", 600, 10, 5*time.Second)
	_, err := f.FetchCandles(context.Background(), "EURUSD", domain.M1, time.Unix(1700000000, 0), time.Unix(1700000060, 0))
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
