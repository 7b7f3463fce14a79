package theta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "json"})
}

func newTestClient(v3URL, v1URL string) *Client {
	cfg := config.ThetaConfig{
		V3URL:            v3URL,
		V1URL:            v1URL,
		TimeoutSec:       5,
		Retries:          3,
		BackoffBase:      time.Millisecond,
		V3MaxOutstanding: 2,
		V1MaxOutstanding: 2,
		PremarketStart:   "04:00:00",
		PremarketEnd:     "09:29:59",
	}
	c := New(cfg, testLogger())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func TestDetect(t *testing.T) {
	v3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer v3.Close()
	v1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer v1.Close()

	c := newTestClient(v3.URL, v1.URL)
	require.NoError(t, c.Detect(context.Background()))
	assert.True(t, c.OK())
}

func TestDetectUnreachable(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", "http://127.0.0.1:1")
	err := c.Detect(context.Background())
	assert.ErrorIs(t, err, ErrProviderUnreachable)
	assert.False(t, c.OK())

	// fetches short-circuit when no generation is up
	res := c.PremarketHigh(context.Background(), "AAPL", "2025-01-02")
	assert.Equal(t, StatusFatal, res.Status)
	assert.Nil(t, res.Value)
}

func TestPremarketHighV3FirstVenue(t *testing.T) {
	v3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/stock/history/trade", r.URL.Path)
		assert.Equal(t, "2025-01-02", r.URL.Query().Get("date"))
		w.Write([]byte(`[{"price": 7.25}, {"price": 7.80}]`))
	}))
	defer v3.Close()

	c := newTestClient(v3.URL, "http://127.0.0.1:1")
	c.v3OK = true

	res := c.PremarketHigh(context.Background(), "ABCD", "2025-01-02")
	require.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.Value)
	assert.Equal(t, 7.80, *res.Value)
	assert.Equal(t, SourceV3Trades, res.Source)
	assert.Equal(t, VenueUTPCTA, res.Venue)
}

func TestPremarketHighFallbackToV1(t *testing.T) {
	var v3Venues, v1Venues []string
	var mu sync.Mutex

	v3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		v3Venues = append(v3Venues, r.URL.Query().Get("venue"))
		mu.Unlock()
		w.WriteHeader(472)
	}))
	defer v3.Close()

	v1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ven := r.URL.Query().Get("venue")
		mu.Lock()
		v1Venues = append(v1Venues, ven)
		mu.Unlock()
		if ven == "nqb" {
			assert.Equal(t, "20250102", r.URL.Query().Get("start_date"))
			assert.Equal(t, "14400000", r.URL.Query().Get("start_time"))
			w.Write([]byte(`{"header": {}, "response": [[14400000,0,0,0,0,0,0,100,1,5.50,0,0,0,0,20250102]]}`))
			return
		}
		w.WriteHeader(472)
	}))
	defer v1.Close()

	c := newTestClient(v3.URL, v1.URL)
	c.v3OK = true
	c.v1OK = true

	res := c.PremarketHigh(context.Background(), "ABCD", "2025-01-02")
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 5.50, *res.Value)
	assert.Equal(t, SourceV1Trades, res.Source)
	assert.Equal(t, VenueNQB, res.Venue)

	// deterministic order: both v3 venues before any v1 venue
	assert.Equal(t, []string{"utp_cta", "nqb"}, v3Venues)
	assert.Equal(t, []string{"utp_cta", "nqb"}, v1Venues)
}

func TestPremarketHighMinuteBarFallback(t *testing.T) {
	v1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/hist/stock/ohlc" {
			assert.Equal(t, "60000", r.URL.Query().Get("ivl"))
			assert.Equal(t, "false", r.URL.Query().Get("rth"))
			w.Write([]byte(`{"response": [[14400000, 1.0, 2.40, 0.9, 1.1, 500, 5, 20250102]]}`))
			return
		}
		w.WriteHeader(472)
	}))
	defer v1.Close()

	c := newTestClient("http://127.0.0.1:1", v1.URL)
	c.v1OK = true

	res := c.PremarketHigh(context.Background(), "ABCD", "2025-01-02")
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 2.40, *res.Value)
	assert.Equal(t, SourceV1OHLC1m, res.Source)
	assert.Equal(t, VenueRTHFalse, res.Venue)
}

func TestNoDataReturnsAbsentWithoutRetry(t *testing.T) {
	var hits int
	var mu sync.Mutex
	v3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer v3.Close()

	c := newTestClient(v3.URL, "http://127.0.0.1:1")
	c.v3OK = true

	res := c.PremarketHigh(context.Background(), "THIN", "2025-01-02")
	assert.Equal(t, StatusNoData, res.Status)
	assert.Nil(t, res.Value)
	// one request per venue, no retries for a definitive no-data status
	assert.Equal(t, 2, hits)
}

func TestTransientStatusRetried(t *testing.T) {
	var hits int
	var mu sync.Mutex
	v3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		n := hits
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[{"price": 9.99}]`))
	}))
	defer v3.Close()

	c := newTestClient(v3.URL, "http://127.0.0.1:1")
	c.v3OK = true

	res := c.PremarketHigh(context.Background(), "ABCD", "2025-01-02")
	require.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 9.99, *res.Value)
	assert.Equal(t, 3, hits)
}

func TestTransientExhaustionReportsTransient(t *testing.T) {
	v3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(571) // server starting
	}))
	defer v3.Close()

	c := newTestClient(v3.URL, "http://127.0.0.1:1")
	c.v3OK = true

	res := c.PremarketHigh(context.Background(), "ABCD", "2025-01-02")
	assert.Equal(t, StatusTransient, res.Status)
	assert.Nil(t, res.Value)
}

func TestOutstandingRequestsNeverExceedCap(t *testing.T) {
	var mu sync.Mutex
	inflight, maxInflight := 0, 0

	v3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inflight++
		if inflight > maxInflight {
			maxInflight = inflight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inflight--
		mu.Unlock()
		w.Write([]byte(`[{"price": 1.00}]`))
	}))
	defer v3.Close()

	c := newTestClient(v3.URL, "http://127.0.0.1:1")
	c.v3OK = true

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.PremarketHigh(context.Background(), "ABCD", "2025-01-02")
			assert.Equal(t, StatusOK, res.Status)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxInflight, 2, "permit cap must bound concurrent requests")
	assert.Greater(t, maxInflight, 0)
}

func TestDailyRange(t *testing.T) {
	v1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("start_date") {
		case "20250106":
			w.Write([]byte(`{"response": [
				[34200000, 2.00, 2.50, 1.95, 2.45, 1000, 10, 20250106],
				[34260000, 2.45, 2.60, 2.40, 2.55, 2000, 20, 20250106]
			]}`))
		case "20250107":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Write([]byte(`{"response": [
				[34200000, 3.00, 3.10, 2.90, 3.05, 500, 5, 20250108]
			]}`))
		}
	}))
	defer v1.Close()

	c := newTestClient("http://127.0.0.1:1", v1.URL)
	c.v1OK = true

	bars, err := c.DailyRange(context.Background(), "ABCD", "2025-01-06", "2025-01-08")
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2025-01-06", bars[0].Date)
	assert.Equal(t, 2.60, bars[0].High)
	assert.Equal(t, int64(3000), bars[0].Volume)
	assert.Equal(t, "2025-01-08", bars[1].Date)
}

func TestDiagTally(t *testing.T) {
	d := NewDiagTally()
	d.Record("2025-01-02", "v3_utp_cta", 200)
	d.Record("2025-01-02", "v3_utp_cta", 204)
	d.Record("2025-01-02", "v3_utp_cta", 472)
	d.Record("2025-01-02", "v3_utp_cta", 429)
	d.Record("2025-01-02", "v3_utp_cta", 500)
	d.Record("2025-01-02", "v1_nqb", 200)

	snap := d.Snapshot("2025-01-02")
	require.NotNil(t, snap)
	assert.Equal(t, DiagCounts{OK: 1, NoData: 2, RateLimited: 1, Other: 1}, snap["v3_utp_cta"])
	assert.Equal(t, DiagCounts{OK: 1}, snap["v1_nqb"])

	assert.Nil(t, d.Snapshot("2025-01-03"))

	d.Reset("2025-01-02")
	assert.Nil(t, d.Snapshot("2025-01-02"))
}

func TestDiagTallyConcurrent(t *testing.T) {
	d := NewDiagTally()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Record("2025-01-02", "v3_utp_cta", 200)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, d.Snapshot("2025-01-02")["v3_utp_cta"].OK)
}
