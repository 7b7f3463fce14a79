// Package polygon wraps the Polygon.io REST API for the slices this
// pipeline needs: whole-market grouped daily bars, previous closes,
// corporate-action splits, per-symbol daily ranges, ticker metadata, and
// the reference-ticker roster pager.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/httputil"
	"github.com/wonny/gapscan/pkg/logger"
	"github.com/wonny/gapscan/pkg/redis"
)

// DailyBar is one symbol's end-of-day bar from the grouped-daily sweep.
type DailyBar struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	VWAP   float64
}

// Bar is a single day's OHLCV for one symbol over a requested range.
type Bar struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Split is one corporate action split. Ratio is From/To, so a 1-for-10
// reverse split carries Ratio 10.
type Split struct {
	ExecutionDate string
	From          float64
	To            float64
	IsReverse     bool
	Ratio         float64
}

// TickerMeta is reference metadata for one symbol as of a date.
type TickerMeta struct {
	Symbol          string `json:"symbol"`
	PrimaryExchange string `json:"primary_exchange"` // MIC, e.g. XNAS
	Exchange        string `json:"exchange"`         // normalized bucket or ""
	SecurityType    string `json:"security_type"`    // CS, ADRC, WARRANT, ...
}

// RosterEntry is one row from the reference-tickers pager.
type RosterEntry struct {
	Symbol          string
	Market          string
	Type            string
	Active          bool
	PrimaryExchange string
	DelistedUTC     string
}

// micToBucket collapses Polygon MIC codes into the three listing buckets
// the admission filter works with. Unknown MICs normalize to "".
var micToBucket = map[string]string{
	"XNYS": "NYSE",
	"XASE": "AMEX",   // NYSE American
	"XNAS": "NASDAQ", // all NASDAQ markets
	"XNGS": "NASDAQ", // Global Select
	"XNMS": "NASDAQ", // Global Market
	"XNCM": "NASDAQ", // Capital Market
}

// NormalizeExchange maps a primary-exchange MIC to NYSE/NASDAQ/AMEX, or
// "" when the MIC is missing or unrecognized.
func NormalizeExchange(mic string) string {
	return micToBucket[strings.ToUpper(strings.TrimSpace(mic))]
}

// Client is the Polygon API client. A local token bucket paces requests
// under the plan's rate limit; the redis-backed sliding window on the
// HTTP client coordinates processes sharing one key.
type Client struct {
	cfg     config.PolygonConfig
	http    *httputil.Client
	limiter *rate.Limiter
	cache   *redis.Cache
	log     *logger.Logger
}

// New builds a Polygon client. cache may be nil (metadata lookups then
// always hit the API). shared may be nil; when set, every request also
// takes a slot in the redis sliding window so concurrent processes on
// one API key stay under the vendor limit together.
func New(cfg *config.Config, log *logger.Logger, cache *redis.Cache, shared *redis.RateLimiter) *Client {
	rps := cfg.Polygon.RateLimit
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	h := httputil.NewWithTimeout(cfg, log, time.Duration(cfg.Polygon.TimeoutSec)*time.Second).
		WithRetry(cfg.Polygon.Retries, time.Second)
	if shared != nil {
		h = h.WithRateLimiter(shared, redis.PolygonRateLimit)
	}
	return &Client{
		cfg:     cfg.Polygon,
		http:    h,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cache:   cache,
		log:     log.WithField("module", "polygon"),
	}
}

// getJSON paces, fetches, and decodes one API response into dest.
func (c *Client) getJSON(ctx context.Context, rawURL string, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := c.http.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("polygon status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) buildURL(path string, q url.Values) string {
	q.Set("apiKey", c.cfg.APIKey)
	return strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + q.Encode()
}

type groupedDailyResponse struct {
	Results []struct {
		Ticker string  `json:"T"`
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
		VWAP   float64 `json:"vw"`
		OTC    bool    `json:"otc"`
	} `json:"results"`
}

// GroupedDaily fetches unadjusted end-of-day bars for the whole US equity
// market on one date. An empty slice is a valid outcome for holidays and
// weekends, not an error. OTC rows are dropped.
func (c *Client) GroupedDaily(ctx context.Context, date string) ([]DailyBar, error) {
	q := url.Values{}
	q.Set("adjusted", "false")
	q.Set("include_otc", "false")

	var body groupedDailyResponse
	if err := c.getJSON(ctx, c.buildURL("/v2/aggs/grouped/locale/us/market/stocks/"+date, q), &body); err != nil {
		return nil, fmt.Errorf("grouped daily %s: %w", date, err)
	}

	out := make([]DailyBar, 0, len(body.Results))
	for _, row := range body.Results {
		if row.Ticker == "" || row.OTC {
			continue
		}
		vwap := row.VWAP
		if vwap == 0 {
			vwap = row.Close
		}
		out = append(out, DailyBar{
			Symbol: row.Ticker,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: int64(row.Volume),
			VWAP:   vwap,
		})
	}
	return out, nil
}

type aggsResponse struct {
	Results []struct {
		Timestamp int64   `json:"t"`
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    float64 `json:"v"`
	} `json:"results"`
}

// PrevClose fetches the most recent prior close for one symbol. Absent
// data returns (nil, nil).
func (c *Client) PrevClose(ctx context.Context, symbol string) (*float64, error) {
	q := url.Values{}
	q.Set("adjusted", "false")

	var body aggsResponse
	if err := c.getJSON(ctx, c.buildURL("/v2/aggs/ticker/"+url.PathEscape(symbol)+"/prev", q), &body); err != nil {
		return nil, fmt.Errorf("prev close %s: %w", symbol, err)
	}
	if len(body.Results) == 0 {
		return nil, nil
	}
	v := body.Results[0].Close
	return &v, nil
}

// PrevCloseBulk builds a {symbol: close} map from the prior day's grouped
// sweep. One request covers the whole market.
func (c *Client) PrevCloseBulk(ctx context.Context, prevDate string) (map[string]float64, error) {
	bars, err := c.GroupedDaily(ctx, prevDate)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(bars))
	for _, b := range bars {
		if b.Close > 0 {
			out[b.Symbol] = b.Close
		}
	}
	return out, nil
}

type splitsResponse struct {
	Results []struct {
		ExecutionDate string  `json:"execution_date"`
		SplitFrom     float64 `json:"split_from"`
		SplitTo       float64 `json:"split_to"`
	} `json:"results"`
}

// Splits lists corporate-action splits for a symbol with optional
// execution-date bounds (inclusive, YYYY-MM-DD, empty string skips the
// bound).
func (c *Client) Splits(ctx context.Context, symbol, from, to string) ([]Split, error) {
	q := url.Values{}
	q.Set("ticker", symbol)
	if from != "" {
		q.Set("execution_date.gte", from)
	}
	if to != "" {
		q.Set("execution_date.lte", to)
	}

	var body splitsResponse
	if err := c.getJSON(ctx, c.buildURL("/v3/reference/splits", q), &body); err != nil {
		return nil, fmt.Errorf("splits %s: %w", symbol, err)
	}

	out := make([]Split, 0, len(body.Results))
	for _, row := range body.Results {
		s := Split{
			ExecutionDate: row.ExecutionDate,
			From:          row.SplitFrom,
			To:            row.SplitTo,
		}
		if row.SplitFrom > 0 && row.SplitTo > 0 {
			s.IsReverse = row.SplitFrom > row.SplitTo
			s.Ratio = row.SplitFrom / row.SplitTo
		}
		out = append(out, s)
	}
	return out, nil
}

// DailyRange fetches unadjusted daily bars for one symbol over
// [from, to]. This is the secondary source for the 7-day surge lookback.
func (c *Client) DailyRange(ctx context.Context, symbol, from, to string) ([]Bar, error) {
	q := url.Values{}
	q.Set("adjusted", "false")
	q.Set("sort", "asc")
	q.Set("limit", "5000")

	path := "/v2/aggs/ticker/" + url.PathEscape(symbol) + "/range/1/day/" + from + "/" + to
	var body aggsResponse
	if err := c.getJSON(ctx, c.buildURL(path, q), &body); err != nil {
		return nil, fmt.Errorf("daily range %s: %w", symbol, err)
	}

	out := make([]Bar, 0, len(body.Results))
	for _, row := range body.Results {
		out = append(out, Bar{
			Date:   time.UnixMilli(row.Timestamp).UTC().Format("2006-01-02"),
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: int64(row.Volume),
		})
	}
	return out, nil
}

type tickerDetailResponse struct {
	Results struct {
		Ticker          string `json:"ticker"`
		PrimaryExchange string `json:"primary_exchange"`
		Type            string `json:"type"`
	} `json:"results"`
}

// TickerMeta fetches exchange and security-type metadata for a symbol,
// as of a date when provided (handles historical listing transfers).
// Results are cached in redis when a cache is attached.
func (c *Client) TickerMeta(ctx context.Context, symbol, asOf string) (*TickerMeta, error) {
	cacheKey := redis.SymbolMetaKey(symbol)
	if asOf != "" {
		cacheKey = cacheKey + ":" + asOf
	}
	if c.cache != nil {
		var cached TickerMeta
		if hit, err := c.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	q := url.Values{}
	if asOf != "" {
		q.Set("date", asOf)
	}
	var body tickerDetailResponse
	if err := c.getJSON(ctx, c.buildURL("/v3/reference/tickers/"+url.PathEscape(symbol), q), &body); err != nil {
		return nil, fmt.Errorf("ticker meta %s: %w", symbol, err)
	}

	meta := &TickerMeta{
		Symbol:          symbol,
		PrimaryExchange: body.Results.PrimaryExchange,
		Exchange:        NormalizeExchange(body.Results.PrimaryExchange),
		SecurityType:    body.Results.Type,
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, cacheKey, meta, redis.TTLMeta); err != nil {
			c.log.WithError(err).Debug("meta cache write failed")
		}
	}
	return meta, nil
}

type tickersPageResponse struct {
	Results []struct {
		Ticker          string `json:"ticker"`
		Market          string `json:"market"`
		Type            string `json:"type"`
		Active          bool   `json:"active"`
		PrimaryExchange string `json:"primary_exchange"`
		DelistedUTC     string `json:"delisted_utc"`
	} `json:"results"`
	NextURL string `json:"next_url"`
}

// ActiveRoster pages through /v3/reference/tickers with a hard page cap
// so a bad cursor can never loop forever. The apiKey is re-attached to
// each next_url cursor.
func (c *Client) ActiveRoster(ctx context.Context, includeDelisted bool, maxPages int) ([]RosterEntry, error) {
	if maxPages <= 0 {
		maxPages = 40
	}

	q := url.Values{}
	q.Set("market", "stocks")
	q.Set("limit", "1000")
	q.Set("order", "asc")
	q.Set("sort", "ticker")
	if !includeDelisted {
		q.Set("active", "true")
	}

	next := c.buildURL("/v3/reference/tickers", q)
	var out []RosterEntry
	for page := 0; next != "" && page < maxPages; page++ {
		if !strings.Contains(next, "apiKey=") {
			sep := "?"
			if strings.Contains(next, "?") {
				sep = "&"
			}
			next = next + sep + "apiKey=" + url.QueryEscape(c.cfg.APIKey)
		}

		var body tickersPageResponse
		if err := c.getJSON(ctx, next, &body); err != nil {
			return nil, fmt.Errorf("roster page %d: %w", page, err)
		}
		for _, row := range body.Results {
			if row.Ticker == "" {
				continue
			}
			out = append(out, RosterEntry{
				Symbol:          row.Ticker,
				Market:          row.Market,
				Type:            row.Type,
				Active:          row.Active,
				PrimaryExchange: row.PrimaryExchange,
				DelistedUTC:     row.DelistedUTC,
			})
		}
		next = body.NextURL
	}
	return out, nil
}
