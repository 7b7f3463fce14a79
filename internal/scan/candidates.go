package scan

import (
	"sort"

	"github.com/wonny/gapscan/internal/audit"
	"github.com/wonny/gapscan/internal/polygon"
	"github.com/wonny/gapscan/internal/rules"
)

// candidateSet is the bounded symbol list queued for the expensive
// premarket fetch, with the audit-sample members tracked separately. A
// symbol can be both a rule candidate and a sampled symbol; membership
// is not exclusive.
type candidateSet struct {
	symbols []string
	sampled map[string]bool
}

// selectCandidates builds the premarket fetch list:
// rule-triggered symbols (R2 or R3 already fired), a cheap
// high/prev-close prefilter, and a small seeded random audit sample from
// everything else. The final list is sorted and capped so a heavy market
// day cannot run away.
func (s *Scanner) selectCandidates(bars []polygon.DailyBar, prevClose map[string]float64, r2, r3 map[string]float64) candidateSet {
	candidate := make(map[string]bool, len(r2)+len(r3))
	for sym := range r2 {
		candidate[sym] = true
	}
	for sym := range r3 {
		candidate[sym] = true
	}
	for _, b := range bars {
		pc, ok := prevClose[b.Symbol]
		if ok && pc > 0 && b.High/pc >= s.cfg.Discovery.PrefilterRatio {
			candidate[b.Symbol] = true
		}
	}

	var remainder []string
	for _, b := range bars {
		if !candidate[b.Symbol] {
			remainder = append(remainder, b.Symbol)
		}
	}
	sampler := audit.NewSampler(s.cfg.Audit.Seed)
	sample := sampler.Sample(remainder, s.cfg.Audit.InlineSample)

	sampled := make(map[string]bool, len(sample))
	union := make([]string, 0, len(candidate)+len(sample))
	for sym := range candidate {
		union = append(union, sym)
	}
	for _, sym := range sample {
		sampled[sym] = true
		if !candidate[sym] {
			union = append(union, sym)
		}
	}
	sort.Strings(union)

	if limit := s.cfg.Discovery.CandidateCap; limit > 0 && len(union) > limit {
		union = union[:limit]
	}
	return candidateSet{symbols: union, sampled: sampled}
}

// computeOpenRules evaluates R2 and R3 over the sweep. These need no
// provider calls, only the bar and the prev close.
func (s *Scanner) computeOpenRules(bars []polygon.DailyBar, prevClose map[string]float64) (r2, r3 map[string]float64) {
	r2 = make(map[string]float64)
	r3 = make(map[string]float64)
	for _, b := range bars {
		if pc, ok := prevClose[b.Symbol]; ok {
			if pct, hit := rules.R2OpenGap(pc, b.Open, s.cfg.Discovery.R2Threshold); hit {
				r2[b.Symbol] = pct
			}
		}
		if pct, hit := rules.R3IntradayPush(b.Open, b.High, s.cfg.Discovery.R3Threshold); hit {
			r3[b.Symbol] = pct
		}
	}
	return r2, r3
}
