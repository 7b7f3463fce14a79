package scan

import (
	"context"
	"sort"
	"time"

	"github.com/wonny/gapscan/internal/rules"
)

// lookbackBufferDays pads the 7-trading-day window for weekends and
// holidays when falling back to the range APIs.
const lookbackBufferDays = 14

// sevenDayRange resolves the (lowest low, highest high) over the last 7
// valid trading days ending at endDate, trying sources cheapest first:
// the local bar store, then the aggregates API, then minute-bar
// aggregation at the terminal. Each source must yield at least 7 valid
// days or the next one is consulted.
func (s *Scanner) sevenDayRange(ctx context.Context, symbol, endDate string) (lo, hi float64, ok bool) {
	if pairs, err := s.bars.Last7Range(ctx, symbol, endDate); err == nil {
		if lo, hi, ok = rules.SevenDayExtremes(pairs); ok {
			return lo, hi, true
		}
	} else {
		s.log.WithError(err).WithField("symbol", symbol).Debug("stored lookback failed")
	}

	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return 0, 0, false
	}
	from := end.AddDate(0, 0, -lookbackBufferDays).Format("2006-01-02")

	if bars, err := s.sweep.DailyRange(ctx, symbol, from, endDate); err == nil && len(bars) >= 7 {
		pairs := make([]rules.LowHigh, 0, len(bars))
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date > bars[j].Date })
		for _, b := range bars {
			pairs = append(pairs, rules.LowHigh{Low: b.Low, High: b.High})
		}
		if lo, hi, ok = rules.SevenDayExtremes(pairs); ok {
			return lo, hi, true
		}
	}

	if s.provider.OK() {
		if bars, err := s.provider.DailyRange(ctx, symbol, from, endDate); err == nil && len(bars) >= 7 {
			sort.Slice(bars, func(i, j int) bool { return bars[i].Date > bars[j].Date })
			pairs := make([]rules.LowHigh, 0, len(bars))
			for _, b := range bars {
				pairs = append(pairs, rules.LowHigh{Low: b.Low, High: b.High})
			}
			if lo, hi, ok = rules.SevenDayExtremes(pairs); ok {
				return lo, hi, true
			}
		}
	}

	return 0, 0, false
}
