// Package rules implements the four gap-qualification rules as pure
// functions. No state, no I/O; thresholds are passed in from config.
package rules

// Rule codes as persisted in discovery_hit_rules.
const (
	CodeR1 = "PM_GAP_50"
	CodeR2 = "OPEN_GAP_50"
	CodeR3 = "INTRADAY_PUSH_50"
	CodeR4 = "SURGE_7D_300"
)

// gainPct computes ((metric/base)-1)*100 and reports whether it clears the
// threshold. Non-positive inputs are not evaluable.
func gainPct(base, metric, threshold float64) (float64, bool) {
	if base <= 0 || metric <= 0 {
		return 0, false
	}
	pct := (metric/base - 1.0) * 100.0
	if pct < threshold {
		return 0, false
	}
	return pct, true
}

// R1PremarketGap evaluates ((premarket_high / prev_close) - 1) * 100
func R1PremarketGap(prevClose, premarketHigh, threshold float64) (float64, bool) {
	return gainPct(prevClose, premarketHigh, threshold)
}

// R2OpenGap evaluates ((open / prev_close) - 1) * 100
func R2OpenGap(prevClose, open, threshold float64) (float64, bool) {
	return gainPct(prevClose, open, threshold)
}

// R3IntradayPush evaluates ((high / open) - 1) * 100
func R3IntradayPush(open, high, threshold float64) (float64, bool) {
	return gainPct(open, high, threshold)
}

// R4Surge7 evaluates ((highest_high_7d / lowest_low_7d) - 1) * 100
func R4Surge7(lowestLow7d, highestHigh7d, threshold float64) (float64, bool) {
	return gainPct(lowestLow7d, highestHigh7d, threshold)
}

// LowHigh is one trading day's low/high pair for the R4 lookback
type LowHigh struct {
	Low  float64
	High float64
}

// SevenDayExtremes reduces a lookback window to (lowest low, highest high).
// It requires at least 7 valid pairs and uses the most recent 7; fewer than
// 7 means the window is not evaluable, not zero.
func SevenDayExtremes(pairs []LowHigh) (lo float64, hi float64, ok bool) {
	valid := make([]LowHigh, 0, len(pairs))
	for _, p := range pairs {
		if p.Low > 0 && p.High > 0 {
			valid = append(valid, p)
		}
	}
	if len(valid) < 7 {
		return 0, 0, false
	}

	// pairs arrive newest-first from the repositories
	use := valid[:7]
	lo, hi = use[0].Low, use[0].High
	for _, p := range use[1:] {
		if p.Low < lo {
			lo = p.Low
		}
		if p.High > hi {
			hi = p.High
		}
	}
	return lo, hi, true
}
