package theta

import (
	"bytes"
	"encoding/json"
)

// The terminal answers in several shapes depending on generation and
// format flag. maxTradePrice normalizes all of them to a single max price:
//
//	v3: [ {"price": 1.23, ...}, ... ]
//	v3: { "price": [1.23, 2.34, ...], "timestamp": [...] }
//	v3: { "response": [ {"price": 1.23}, ... ] }
//	v1: { "header": {...}, "response": [ [ms, seq, ..., price@9, ...], ... ] }
//
// plus an NDJSON fallback when the body is not a single JSON document.
func maxTradePrice(body []byte) *float64 {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	if body[0] == '[' {
		var rows []map[string]json.RawMessage
		if err := json.Unmarshal(body, &rows); err == nil {
			return maxPriceFromObjects(rows)
		}
	}

	if body[0] == '{' {
		var doc struct {
			Price    json.RawMessage `json:"price"`
			Header   json.RawMessage `json:"header"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(body, &doc); err == nil {
			if v := maxFromParallelPrices(doc.Price); v != nil {
				return v
			}
			if len(doc.Response) > 0 {
				var objRows []map[string]json.RawMessage
				if err := json.Unmarshal(doc.Response, &objRows); err == nil {
					if v := maxPriceFromObjects(objRows); v != nil {
						return v
					}
				}
				if len(doc.Header) > 0 {
					if v := maxFromV1Rows(doc.Response); v != nil {
						return v
					}
				}
			}
			// single valid JSON document with no recognizable price data
			return nil
		}
	}

	return maxTradePriceNDJSON(body)
}

// v1 trade rows are numeric arrays with price at a fixed column.
const v1TradePriceIndex = 9

func maxFromV1Rows(raw json.RawMessage) *float64 {
	var rows [][]*float64
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil
	}
	var max *float64
	for _, row := range rows {
		if len(row) <= v1TradePriceIndex || row[v1TradePriceIndex] == nil {
			continue
		}
		p := *row[v1TradePriceIndex]
		if max == nil || p > *max {
			v := p
			max = &v
		}
	}
	return max
}

func maxFromParallelPrices(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var prices []*float64
	if err := json.Unmarshal(raw, &prices); err != nil {
		return nil
	}
	var max *float64
	for _, p := range prices {
		if p == nil {
			continue
		}
		if max == nil || *p > *max {
			v := *p
			max = &v
		}
	}
	return max
}

func maxPriceFromObjects(rows []map[string]json.RawMessage) *float64 {
	var max *float64
	for _, row := range rows {
		raw, ok := row["price"]
		if !ok {
			continue
		}
		var p *float64
		if err := json.Unmarshal(raw, &p); err != nil || p == nil {
			continue
		}
		if max == nil || *p > *max {
			v := *p
			max = &v
		}
	}
	return max
}

// maxTradePriceNDJSON parses one JSON object per line, tolerating blank
// and malformed lines.
func maxTradePriceNDJSON(body []byte) *float64 {
	var max *float64
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var row struct {
			Price *float64 `json:"price"`
		}
		if err := json.Unmarshal(line, &row); err != nil || row.Price == nil {
			continue
		}
		if max == nil || *row.Price > *max {
			v := *row.Price
			max = &v
		}
	}
	return max
}

// Minute-bar rows: [ms_of_day, open, high, low, close, volume, count, date].
type minuteBarDoc struct {
	Response [][]*float64 `json:"response"`
}

const (
	barIdxMs     = 0
	barIdxOpen   = 1
	barIdxHigh   = 2
	barIdxLow    = 3
	barIdxClose  = 4
	barIdxVolume = 5
)

// premarketHighFromMinuteBars filters full-day minute bars to the
// 04:00:00-09:30:00 ET window and returns the max minute high.
func premarketHighFromMinuteBars(body []byte) *float64 {
	var doc minuteBarDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}
	const pmStartMs = 4 * 3600 * 1000
	const pmEndMs = (9*3600 + 30*60) * 1000

	var max *float64
	for _, row := range doc.Response {
		if len(row) <= barIdxHigh || row[barIdxMs] == nil || row[barIdxHigh] == nil {
			continue
		}
		ms := int(*row[barIdxMs])
		if ms < pmStartMs || ms > pmEndMs {
			continue
		}
		h := *row[barIdxHigh]
		if max == nil || h > *max {
			v := h
			max = &v
		}
	}
	return max
}

// aggregateMinuteBars rolls one day of minute bars into a daily OHLC bar.
// Reports ok=false when any of O/H/L/C could not be established.
func aggregateMinuteBars(body []byte) (DailyBar, bool) {
	var doc minuteBarDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return DailyBar{}, false
	}

	var bar DailyBar
	var haveOpen, haveClose, haveHigh, haveLow bool
	var volume float64
	for _, row := range doc.Response {
		if len(row) <= barIdxVolume {
			continue
		}
		if !haveOpen && row[barIdxOpen] != nil {
			bar.Open = *row[barIdxOpen]
			haveOpen = true
		}
		if row[barIdxClose] != nil {
			bar.Close = *row[barIdxClose]
			haveClose = true
		}
		if row[barIdxHigh] != nil {
			if !haveHigh || *row[barIdxHigh] > bar.High {
				bar.High = *row[barIdxHigh]
			}
			haveHigh = true
		}
		if row[barIdxLow] != nil {
			if !haveLow || *row[barIdxLow] < bar.Low {
				bar.Low = *row[barIdxLow]
			}
			haveLow = true
		}
		if row[barIdxVolume] != nil {
			volume += *row[barIdxVolume]
		}
	}
	if !haveOpen || !haveClose || !haveHigh || !haveLow {
		return DailyBar{}, false
	}
	bar.Volume = int64(volume)
	return bar, true
}
