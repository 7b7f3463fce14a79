// Package theta talks to a local ThetaData terminal. Two API generations
// are supported: v3 is primary, v1 is the fallback, and a v1 minute-bar
// endpoint is the last resort for premarket highs. Every request passes
// through a per-generation permit so we never exceed the terminal's
// outstanding-request cap for our subscription tier.
package theta

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
)

// StatusClass classifies the outcome of a provider query. "No data" is a
// normal outcome for thin symbols and never travels as an error.
type StatusClass string

const (
	StatusOK        StatusClass = "ok"
	StatusNoData    StatusClass = "no_data"
	StatusTransient StatusClass = "transient"
	StatusFatal     StatusClass = "fatal"
)

// Provenance tags recorded alongside every resolved premarket high.
const (
	SourceV3Trades = "v3_trades"
	SourceV1Trades = "v1_trades"
	SourceV1OHLC1m = "v1_ohlc_1m"

	VenueUTPCTA   = "utp_cta"
	VenueNQB      = "nqb"
	VenueRTHFalse = "rth_false"
)

// ErrProviderUnreachable is returned by Detect when neither generation
// answered the probe.
var ErrProviderUnreachable = errors.New("theta: no reachable terminal generation")

var errPermitTimeout = errors.New("theta: permit acquire timed out")

// QueryResult is the outcome of a single premarket-high lookup.
type QueryResult struct {
	Value  *float64
	Source string
	Venue  string
	Status StatusClass
}

// DailyBar is one trading day aggregated from minute bars.
type DailyBar struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// boundedTransport wraps an http.Client with a buffered-channel permit.
// The permit is held for the full request including the body read, so
// "outstanding" means what the terminal thinks it means. Acquire waits at
// most the request timeout; a timed-out acquire is a transient failure,
// not a deadlock.
type boundedTransport struct {
	base    string
	client  *http.Client
	sem     chan struct{}
	timeout time.Duration
}

func newBoundedTransport(base string, maxOutstanding int, timeout time.Duration) *boundedTransport {
	if maxOutstanding <= 0 {
		maxOutstanding = 1
	}
	return &boundedTransport{
		base: strings.TrimRight(base, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxOutstanding * 4,
				MaxIdleConnsPerHost: maxOutstanding * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sem:     make(chan struct{}, maxOutstanding),
		timeout: timeout,
	}
}

// get performs one GET and returns (status, body). The body is read in
// full before the permit is released.
func (t *boundedTransport) get(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	timer := time.NewTimer(t.timeout)
	select {
	case t.sem <- struct{}{}:
		timer.Stop()
	case <-timer.C:
		return 0, nil, errPermitTimeout
	case <-ctx.Done():
		timer.Stop()
		return 0, nil, ctx.Err()
	}
	defer func() { <-t.sem }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// Client is the tier-aware ThetaData client.
type Client struct {
	cfg  config.ThetaConfig
	log  *logger.Logger
	v3   *boundedTransport
	v1   *boundedTransport
	diag *DiagTally

	v3OK bool
	v1OK bool

	// sleep is replaceable in tests so backoff does not slow them down
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a client from config. Call Detect before fetching.
func New(cfg config.ThetaConfig, log *logger.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	return &Client{
		cfg:   cfg,
		log:   log.WithField("module", "theta"),
		v3:    newBoundedTransport(cfg.V3URL, cfg.V3MaxOutstanding, timeout),
		v1:    newBoundedTransport(cfg.V1URL, cfg.V1MaxOutstanding, timeout),
		diag:  NewDiagTally(),
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detect probes both generations with a throwaway SPY request. Any of
// 200/204/400/422 means the terminal is up; the probe's data is discarded.
func (c *Client) Detect(ctx context.Context) error {
	c.v3OK = c.probeV3(ctx)
	c.v1OK = c.probeV1(ctx)
	c.log.WithFields(map[string]interface{}{
		"v3_ok": c.v3OK,
		"v1_ok": c.v1OK,
	}).Info("theta terminal detection complete")
	if !c.v3OK && !c.v1OK {
		return ErrProviderUnreachable
	}
	return nil
}

// OK reports whether at least one generation answered the probe.
func (c *Client) OK() bool {
	return c.v3OK || c.v1OK
}

// Diag exposes the per-date diagnostics tally.
func (c *Client) Diag() *DiagTally {
	return c.diag
}

// DiagSnapshot returns a copy of one date's request tallies.
func (c *Client) DiagSnapshot(date string) map[string]DiagCounts {
	return c.diag.Snapshot(date)
}

func (c *Client) probeV3(ctx context.Context) bool {
	q := url.Values{}
	q.Set("symbol", "SPY")
	q.Set("date", "2025-01-02")
	q.Set("start_time", "09:30:00")
	q.Set("end_time", "09:30:01")
	q.Set("format", "json")
	status, _, err := c.v3.get(ctx, "/v3/stock/history/trade", q)
	if err != nil {
		return false
	}
	switch status {
	case 200, 204, 400, 422:
		return true
	}
	return false
}

func (c *Client) probeV1(ctx context.Context) bool {
	q := url.Values{}
	q.Set("root", "SPY")
	q.Set("start_date", "20250102")
	q.Set("end_date", "20250102")
	q.Set("start_time", "09:30:00")
	q.Set("end_time", "09:30:01")
	status, _, err := c.v1.get(ctx, "/v2/hist/stock/trade", q)
	if err != nil {
		return false
	}
	switch status {
	case 200, 204, 400, 422:
		return true
	}
	return false
}

// venuesToTry returns the venue order. A configured venue goes first,
// composite UTP/CTA otherwise, with nqb as the second try.
func venuesToTry(configured string) []string {
	order := []string{VenueUTPCTA, VenueNQB}
	v := strings.ToLower(strings.TrimSpace(configured))
	for i, cand := range order {
		if cand == v && i != 0 {
			return []string{order[i], order[0]}
		}
	}
	return order
}

// PremarketHigh resolves the highest premarket trade price for a symbol on
// an event date, trying v3 trades, then v1 trades (each across both
// venues), then v1 minute bars. The fallback order is deterministic so
// provenance tags stay comparable across runs.
func (c *Client) PremarketHigh(ctx context.Context, symbol, date string) QueryResult {
	if !c.OK() {
		return QueryResult{Status: StatusFatal}
	}

	sawTransient := false

	if c.v3OK {
		for _, ven := range venuesToTry(c.cfg.Venue) {
			res := c.premarketHighV3(ctx, symbol, date, ven)
			if res.Status == StatusOK {
				return res
			}
			if res.Status == StatusTransient {
				sawTransient = true
			}
		}
	}
	if c.v1OK {
		for _, ven := range venuesToTry(c.cfg.Venue) {
			res := c.premarketHighV1(ctx, symbol, date, ven)
			if res.Status == StatusOK {
				return res
			}
			if res.Status == StatusTransient {
				sawTransient = true
			}
		}
		if res := c.premarketHighV1OHLC(ctx, symbol, date); res.Status == StatusOK {
			return res
		}
	}

	if sawTransient {
		return QueryResult{Status: StatusTransient}
	}
	return QueryResult{Status: StatusNoData}
}

func (c *Client) premarketHighV3(ctx context.Context, symbol, date, venue string) QueryResult {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("date", date)
	q.Set("start_time", c.cfg.PremarketStart)
	q.Set("end_time", c.cfg.PremarketEnd)
	q.Set("format", "json")
	if venue != "" {
		q.Set("venue", venue)
	}
	val, status := c.tradeMaxPrice(ctx, c.v3, "/v3/stock/history/trade", q, date, "v3_"+venue)
	return QueryResult{Value: val, Source: SourceV3Trades, Venue: venue, Status: status}
}

func (c *Client) premarketHighV1(ctx context.Context, symbol, date, venue string) QueryResult {
	q := url.Values{}
	q.Set("root", symbol)
	q.Set("start_date", ymdNoDash(date))
	q.Set("end_date", ymdNoDash(date))
	q.Set("start_time", hmsToMs(c.cfg.PremarketStart))
	q.Set("end_time", hmsToMs(c.cfg.PremarketEnd))
	if venue != "" {
		q.Set("venue", venue)
	}
	val, status := c.tradeMaxPrice(ctx, c.v1, "/v2/hist/stock/trade", q, date, "v1_"+venue)
	return QueryResult{Value: val, Source: SourceV1Trades, Venue: venue, Status: status}
}

// premarketHighV1OHLC is the last resort: full-day minute bars with
// rth=false, filtered to the premarket window client-side.
func (c *Client) premarketHighV1OHLC(ctx context.Context, symbol, date string) QueryResult {
	q := url.Values{}
	q.Set("root", symbol)
	q.Set("start_date", ymdNoDash(date))
	q.Set("end_date", ymdNoDash(date))
	q.Set("ivl", "60000")
	q.Set("rth", "false")

	status, body, err := c.v1.get(ctx, "/v2/hist/stock/ohlc", q)
	if err != nil || status != http.StatusOK {
		return QueryResult{Status: StatusNoData}
	}
	high := premarketHighFromMinuteBars(body)
	if high == nil {
		return QueryResult{Status: StatusNoData}
	}
	return QueryResult{Value: high, Source: SourceV1OHLC1m, Venue: VenueRTHFalse, Status: StatusOK}
}

// tradeMaxPrice runs one trade query with retry/backoff and returns the
// max trade price. Transient terminal statuses (429 OS_LIMIT, 474
// DISCONNECTED, 570 LARGE_REQUEST, 571 SERVER_STARTING, plus 502/503/504)
// back off exponentially; 204 and 472 mean no data for the window and are
// final on first sight.
func (c *Client) tradeMaxPrice(ctx context.Context, t *boundedTransport, path string, q url.Values, date, label string) (*float64, StatusClass) {
	attempts := c.cfg.Retries
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.cfg.BackoffBase
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	for i := 0; i < attempts; i++ {
		status, body, err := t.get(ctx, path, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, StatusTransient
			}
			c.log.WithError(err).WithField("label", label).Debug("theta request failed")
			if sleepErr := c.sleep(ctx, delay<<i); sleepErr != nil {
				return nil, StatusTransient
			}
			continue
		}

		c.diag.Record(date, label, status)

		switch status {
		case 429, 474, 570, 571, 502, 503, 504:
			c.log.WithFields(map[string]interface{}{
				"label":   label,
				"status":  status,
				"attempt": i + 1,
			}).Debug("theta transient status, backing off")
			if sleepErr := c.sleep(ctx, delay<<i); sleepErr != nil {
				return nil, StatusTransient
			}
			continue
		case 204, 472:
			return nil, StatusNoData
		case 200:
			if v := maxTradePrice(body); v != nil {
				return v, StatusOK
			}
			return nil, StatusNoData
		default:
			c.log.WithFields(map[string]interface{}{
				"label":  label,
				"status": status,
			}).Warn("theta unexpected status")
			return nil, StatusFatal
		}
	}
	return nil, StatusTransient
}

// DailyRange aggregates v1 minute bars into daily OHLC over [from, to].
// Days the terminal has no data for are skipped, not zero-filled. This is
// the tertiary source for the 7-day surge lookback.
func (c *Client) DailyRange(ctx context.Context, symbol, from, to string) ([]DailyBar, error) {
	if !c.v1OK {
		return nil, nil
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return nil, fmt.Errorf("parse from date: %w", err)
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return nil, fmt.Errorf("parse to date: %w", err)
	}

	var out []DailyBar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		ymd := d.Format("2006-01-02")
		q := url.Values{}
		q.Set("root", symbol)
		q.Set("start_date", ymdNoDash(ymd))
		q.Set("end_date", ymdNoDash(ymd))
		q.Set("ivl", "60000")
		q.Set("rth", "false")

		status, body, err := c.v1.get(ctx, "/v2/hist/stock/ohlc", q)
		if err != nil || status != http.StatusOK {
			continue
		}
		if bar, ok := aggregateMinuteBars(body); ok {
			bar.Date = ymd
			out = append(out, bar)
		}
	}
	return out, nil
}

func ymdNoDash(date string) string {
	return strings.ReplaceAll(date, "-", "")
}

// hmsToMs converts "HH:MM:SS" to milliseconds since midnight, which is
// what the v1 endpoints expect for time windows.
func hmsToMs(hms string) string {
	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return "0"
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	s, _ := strconv.Atoi(parts[2])
	return strconv.Itoa(((h*3600 + m*60 + s) * 1000))
}
