package polygon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
	"github.com/wonny/gapscan/pkg/redis"
)

func newTestClient(baseURL string) *Client {
	cfg := &config.Config{
		LogLevel:  "error",
		LogFormat: "json",
		Polygon: config.PolygonConfig{
			APIKey:     "test-key",
			BaseURL:    baseURL,
			TimeoutSec: 5,
			Retries:    1,
			RateLimit:  1000,
		},
	}
	return New(cfg, logger.New(cfg), nil, nil)
}

func TestSharedRateLimiterPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [{"T": "ABCD", "o": 1.0, "h": 1.1, "l": 0.9, "c": 1.0, "v": 250000}]}`)
	}))
	defer srv.Close()

	cfg := &config.Config{
		LogLevel:  "error",
		LogFormat: "json",
		Polygon: config.PolygonConfig{
			APIKey:     "test-key",
			BaseURL:    srv.URL,
			TimeoutSec: 5,
			Retries:    1,
			RateLimit:  1000,
		},
	}
	// Redis disabled: the shared window must admit every request.
	rc, err := redis.New(cfg)
	require.NoError(t, err)
	c := New(cfg, logger.New(cfg), nil, redis.NewRateLimiter(rc, "gapscan"))

	bars, err := c.GroupedDaily(context.Background(), "2025-01-02")
	require.NoError(t, err)
	assert.Len(t, bars, 1)
}

func TestNormalizeExchange(t *testing.T) {
	tests := []struct {
		mic  string
		want string
	}{
		{"XNYS", "NYSE"},
		{"XASE", "AMEX"},
		{"XNAS", "NASDAQ"},
		{"XNGS", "NASDAQ"},
		{"XNMS", "NASDAQ"},
		{"XNCM", "NASDAQ"},
		{"xnys", "NYSE"},
		{"BATS", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeExchange(tt.mic), "mic %q", tt.mic)
	}
}

func TestGroupedDaily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/aggs/grouped/locale/us/market/stocks/2025-01-02", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("adjusted"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apiKey"))
		fmt.Fprint(w, `{"results": [
			{"T": "ABCD", "o": 1.0, "h": 1.8, "l": 0.9, "c": 1.5, "v": 250000, "vw": 1.4},
			{"T": "OTCX", "o": 2.0, "h": 2.2, "l": 1.9, "c": 2.1, "v": 9000, "otc": true},
			{"T": "NOVW", "o": 3.0, "h": 3.3, "l": 2.9, "c": 3.1, "v": 120000}
		]}`)
	}))
	defer srv.Close()

	bars, err := newTestClient(srv.URL).GroupedDaily(context.Background(), "2025-01-02")
	require.NoError(t, err)
	require.Len(t, bars, 2, "OTC rows must be dropped")

	assert.Equal(t, "ABCD", bars[0].Symbol)
	assert.Equal(t, int64(250000), bars[0].Volume)
	assert.Equal(t, 1.4, bars[0].VWAP)

	// vwap falls back to close when absent
	assert.Equal(t, "NOVW", bars[1].Symbol)
	assert.Equal(t, 3.1, bars[1].VWAP)
}

func TestGroupedDailyEmptyDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": []}`)
	}))
	defer srv.Close()

	bars, err := newTestClient(srv.URL).GroupedDaily(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestPrevClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/aggs/ticker/ABCD/prev", r.URL.Path)
		fmt.Fprint(w, `{"results": [{"c": 4.56}]}`)
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL).PrevClose(context.Background(), "ABCD")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 4.56, *v)
}

func TestPrevCloseNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": []}`)
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL).PrevClose(context.Background(), "GONE")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPrevCloseBulk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [
			{"T": "AAA", "o": 1, "h": 1, "l": 1, "c": 2.5, "v": 100},
			{"T": "BBB", "o": 1, "h": 1, "l": 1, "c": 0, "v": 100}
		]}`)
	}))
	defer srv.Close()

	m, err := newTestClient(srv.URL).PrevCloseBulk(context.Background(), "2025-01-01")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AAA": 2.5}, m, "zero closes are unusable")
}

func TestSplits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/reference/splits", r.URL.Path)
		assert.Equal(t, "ABCD", r.URL.Query().Get("ticker"))
		assert.Equal(t, "2024-12-30", r.URL.Query().Get("execution_date.gte"))
		assert.Equal(t, "2025-01-05", r.URL.Query().Get("execution_date.lte"))
		fmt.Fprint(w, `{"results": [
			{"execution_date": "2025-01-02", "split_from": 10, "split_to": 1},
			{"execution_date": "2025-01-03", "split_from": 1, "split_to": 4}
		]}`)
	}))
	defer srv.Close()

	splits, err := newTestClient(srv.URL).Splits(context.Background(), "ABCD", "2024-12-30", "2025-01-05")
	require.NoError(t, err)
	require.Len(t, splits, 2)

	assert.True(t, splits[0].IsReverse)
	assert.Equal(t, 10.0, splits[0].Ratio)

	assert.False(t, splits[1].IsReverse)
	assert.Equal(t, 0.25, splits[1].Ratio)
}

func TestDailyRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/aggs/ticker/ABCD/range/1/day/2025-01-02/2025-01-03", r.URL.Path)
		// 2025-01-02T05:00:00Z in unix ms (midnight ET)
		fmt.Fprint(w, `{"results": [
			{"t": 1735794000000, "o": 2.0, "h": 2.5, "l": 1.9, "c": 2.4, "v": 150000}
		]}`)
	}))
	defer srv.Close()

	bars, err := newTestClient(srv.URL).DailyRange(context.Background(), "ABCD", "2025-01-02", "2025-01-03")
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "2025-01-02", bars[0].Date)
	assert.Equal(t, 2.5, bars[0].High)
	assert.Equal(t, int64(150000), bars[0].Volume)
}

func TestTickerMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/reference/tickers/ABCD", r.URL.Path)
		assert.Equal(t, "2025-01-02", r.URL.Query().Get("date"))
		fmt.Fprint(w, `{"results": {"ticker": "ABCD", "primary_exchange": "XNGS", "type": "CS"}}`)
	}))
	defer srv.Close()

	meta, err := newTestClient(srv.URL).TickerMeta(context.Background(), "ABCD", "2025-01-02")
	require.NoError(t, err)
	assert.Equal(t, "XNGS", meta.PrimaryExchange)
	assert.Equal(t, "NASDAQ", meta.Exchange)
	assert.Equal(t, "CS", meta.SecurityType)
}

func TestActiveRosterPaging(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.URL.Query().Get("apiKey"), "apiKey must survive cursor pages")
		if r.URL.Query().Get("cursor") == "page2" {
			fmt.Fprint(w, `{"results": [{"ticker": "BBB", "market": "stocks", "type": "CS", "active": true}]}`)
			return
		}
		fmt.Fprintf(w, `{"results": [
			{"ticker": "AAA", "market": "stocks", "type": "CS", "active": true, "primary_exchange": "XNYS"}
		], "next_url": %q}`, srv.URL+"/v3/reference/tickers?cursor=page2")
	}))
	defer srv.Close()

	roster, err := newTestClient(srv.URL).ActiveRoster(context.Background(), false, 10)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "AAA", roster[0].Symbol)
	assert.Equal(t, "XNYS", roster[0].PrimaryExchange)
	assert.Equal(t, "BBB", roster[1].Symbol)
}

func TestActiveRosterPageCap(t *testing.T) {
	var srv *httptest.Server
	pages := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		// always hand back another cursor; the cap must stop the loop
		fmt.Fprintf(w, `{"results": [{"ticker": "SYM", "market": "stocks"}], "next_url": %q}`,
			srv.URL+"/v3/reference/tickers?cursor=more&apiKey=test-key")
	}))
	defer srv.Close()

	roster, err := newTestClient(srv.URL).ActiveRoster(context.Background(), true, 3)
	require.NoError(t, err)
	assert.Len(t, roster, 3)
	assert.Equal(t, 3, pages)
}
