package audit

import (
	"context"
	"sort"

	"github.com/wonny/gapscan/internal/admission"
	"github.com/wonny/gapscan/internal/polygon"
	"github.com/wonny/gapscan/internal/rules"
	"github.com/wonny/gapscan/internal/theta"
	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
)

// MetaSource resolves the exchange/security-type metadata the admission
// filter needs per symbol.
type MetaSource interface {
	SymbolMeta(ctx context.Context, symbol, asOf string) (admission.Meta, error)
}

// Audit types recorded per checked symbol.
const (
	AuditTypeR1    = "R1"
	AuditTypeR2    = "R2"
	AuditTypeClean = "CLEAN"
)

// MissRecord is one post-scan audit row, persisted to miss_audit.
type MissRecord struct {
	Symbol    string  `json:"symbol"`
	AuditType string  `json:"audit_type"`
	Missed    bool    `json:"missed_initially"`
	RuleCode  string  `json:"rule_triggered,omitempty"`
	Value     float64 `json:"rule_value,omitempty"`
}

// Day statuses derived from the post-scan audit.
const (
	DayStatusComplete    = "COMPLETE"
	DayStatusRetryNeeded = "RETRY_NEEDED"
)

// PostScanResult summarizes the top-gainer recheck. Any miss flips the
// day to retry regardless of the sampling bound.
type PostScanResult struct {
	Date              string           `json:"date"`
	TopGainersChecked int              `json:"top_gainers_checked"`
	MissesFound       int              `json:"misses_found"`
	DayStatus         string           `json:"day_status"`
	RetryNeeded       bool             `json:"retry_needed"`
	Filter            admission.Counts `json:"filter"`
	Records           []MissRecord     `json:"records"`
}

// PostScan re-checks the day's top gainers by (high / prev_close) for R1
// and R2 misses that stored hits do not cover. It runs the same admission
// filter as the discovery pass; a looser or stricter filter here would
// make the audit meaningless.
type PostScan struct {
	topN        int
	r1Threshold float64
	r2Threshold float64
	filter      *admission.Filter
	provider    PremarketSource
	meta        MetaSource
	log         *logger.Logger
}

func NewPostScan(auditCfg config.AuditConfig, discCfg config.DiscoveryConfig, filter *admission.Filter, provider PremarketSource, meta MetaSource, log *logger.Logger) *PostScan {
	return &PostScan{
		topN:        auditCfg.PostScanTopN,
		r1Threshold: discCfg.R1Threshold,
		r2Threshold: discCfg.R2Threshold,
		filter:      filter,
		provider:    provider,
		meta:        meta,
		log:         log.WithField("module", "miss_audit"),
	}
}

type gainer struct {
	bar       polygon.DailyBar
	prevClose float64
	gainRatio float64
}

// Run executes the post-scan audit. storedRules maps symbol to the rule
// codes already persisted for the date; providerUp gates the R1 recheck
// (a down terminal skips R1, it does not fail the audit).
func (p *PostScan) Run(ctx context.Context, date string, bars []polygon.DailyBar, prevClose map[string]float64, storedRules map[string][]string, providerUp bool) *PostScanResult {
	res := &PostScanResult{Date: date, DayStatus: DayStatusComplete}

	gainers := make([]gainer, 0, len(bars))
	for _, b := range bars {
		pc, ok := prevClose[b.Symbol]
		if !ok || pc <= 0 || b.High <= 0 {
			continue
		}
		gainers = append(gainers, gainer{bar: b, prevClose: pc, gainRatio: b.High/pc - 1.0})
	}
	sort.Slice(gainers, func(i, j int) bool { return gainers[i].gainRatio > gainers[j].gainRatio })
	if p.topN > 0 && len(gainers) > p.topN {
		gainers = gainers[:p.topN]
	}

	kept := gainers[:0]
	for _, g := range gainers {
		meta, err := p.meta.SymbolMeta(ctx, g.bar.Symbol, date)
		if err != nil {
			// unresolvable metadata rejects, same as the pipeline
			meta = admission.Meta{}
		}
		ok, reason := p.filter.Check(g.bar.Symbol, meta, g.bar.Volume)
		res.Filter.Add(ok, reason)
		if ok {
			kept = append(kept, g)
		}
	}
	res.TopGainersChecked = len(kept)

	if !providerUp {
		p.log.Warn("provider unavailable during miss audit, skipping premarket rechecks")
	}

	for _, g := range kept {
		if ctx.Err() != nil {
			break
		}
		sym := g.bar.Symbol
		existing := storedRules[sym]
		var misses []MissRecord

		if pct, hit := rules.R2OpenGap(g.prevClose, g.bar.Open, p.r2Threshold); hit && !containsRule(existing, rules.CodeR2) {
			misses = append(misses, MissRecord{
				Symbol: sym, AuditType: AuditTypeR2, Missed: true,
				RuleCode: rules.CodeR2, Value: pct,
			})
		}

		if providerUp {
			qr := p.provider.PremarketHigh(ctx, sym, date)
			if qr.Status == theta.StatusOK && qr.Value != nil {
				if pct, hit := rules.R1PremarketGap(g.prevClose, *qr.Value, p.r1Threshold); hit && !containsRule(existing, rules.CodeR1) {
					misses = append(misses, MissRecord{
						Symbol: sym, AuditType: AuditTypeR1, Missed: true,
						RuleCode: rules.CodeR1, Value: pct,
					})
				}
			}
		}

		if len(misses) == 0 {
			res.Records = append(res.Records, MissRecord{Symbol: sym, AuditType: AuditTypeClean})
			continue
		}
		for _, m := range misses {
			res.MissesFound++
			res.Records = append(res.Records, m)
			p.log.WithFields(map[string]interface{}{
				"symbol": m.Symbol,
				"rule":   m.RuleCode,
				"pct":    m.Value,
			}).Warn("miss audit found an undiscovered hit")
		}
	}

	if res.MissesFound > 0 {
		res.RetryNeeded = true
		res.DayStatus = DayStatusRetryNeeded
	}
	return res
}

func containsRule(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
