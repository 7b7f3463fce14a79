package audit

import (
	"context"

	"github.com/wonny/gapscan/internal/admission"
	"github.com/wonny/gapscan/internal/rules"
	"github.com/wonny/gapscan/internal/theta"
	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
)

// PremarketSource is the slice of the provider client the audit re-runs
// R1 checks through.
type PremarketSource interface {
	PremarketHigh(ctx context.Context, symbol, date string) theta.QueryResult
}

// MissedSymbol is one sampled symbol that should have been discovered.
type MissedSymbol struct {
	Symbol        string  `json:"symbol"`
	RuleCode      string  `json:"rule_code"`
	Value         float64 `json:"value"`
	PremarketHigh float64 `json:"premarket_high"`
	PrevClose     float64 `json:"prev_close"`
}

// Result is the outcome of one sampling audit. It is immutable once
// computed and persisted with the day's completeness record.
type Result struct {
	Date            string         `json:"date"`
	Passed          bool           `json:"passed"`
	Reason          string         `json:"reason"`
	RosterSize      int            `json:"roster_size"`
	UndiscoveredN   int            `json:"undiscovered_count"`
	RequiredN       int            `json:"required_sample_size"`
	SampleSize      int            `json:"sample_size"`
	SamplesChecked  int            `json:"samples_checked"`
	Ineligible      int            `json:"ineligible_skipped"`
	ObservedMisses  int            `json:"observed_misses"`
	MissRateBound   float64        `json:"miss_rate_bound"`
	TargetMissRate  float64        `json:"target_miss_rate"`
	ConfidenceLevel float64        `json:"confidence_level"`
	Errors          int            `json:"audit_errors"`
	Missed          []MissedSymbol `json:"missed,omitempty"`
}

// Auditor runs the sampling completeness audit. It shares the pipeline's
// admission filter so the audited population is exactly the population
// the scan could have discovered.
type Auditor struct {
	cfg         config.AuditConfig
	r1Threshold float64
	provider    PremarketSource
	filter      *admission.Filter
	meta        MetaSource
	sampler     *Sampler
	log         *logger.Logger
}

func New(cfg config.AuditConfig, r1Threshold float64, provider PremarketSource, filter *admission.Filter, meta MetaSource, log *logger.Logger) *Auditor {
	return &Auditor{
		cfg:         cfg,
		r1Threshold: r1Threshold,
		provider:    provider,
		filter:      filter,
		meta:        meta,
		sampler:     NewSampler(cfg.Seed),
		log:         log.WithField("module", "audit"),
	}
}

// Run samples the undiscovered population and independently re-runs the
// R1 check on each sampled symbol. Symbols the admission filter would
// reject (derivatives, off-exchange listings, thin volume) are skipped
// and never counted as misses; they could not have been stored hits.
// volumes carries the day's traded volume per symbol, zero when the
// symbol did not appear in the sweep. A failed audit is an operational
// signal ("day needs retry"), never an error.
func (a *Auditor) Run(ctx context.Context, date string, roster []string, discovered map[string]bool, prevClose map[string]float64, volumes map[string]int64) *Result {
	res := &Result{
		Date:            date,
		TargetMissRate:  a.cfg.TargetMissRate,
		ConfidenceLevel: a.cfg.Confidence,
		RosterSize:      len(roster),
	}

	undiscovered := make([]string, 0, len(roster))
	for _, sym := range roster {
		if !discovered[sym] {
			undiscovered = append(undiscovered, sym)
		}
	}
	res.UndiscoveredN = len(undiscovered)

	if len(undiscovered) == 0 {
		res.Passed = true
		res.Reason = "complete_coverage"
		res.MissRateBound = 0.0
		return res
	}

	res.RequiredN = RequiredSampleSize(a.cfg.TargetMissRate, a.cfg.Confidence)
	target := res.RequiredN
	if a.cfg.MaxSampleSize > 0 && target > a.cfg.MaxSampleSize {
		target = a.cfg.MaxSampleSize
	}

	// Walk the whole shuffled population and draw until the target is
	// met; ineligible symbols are skipped without consuming the sample.
	order := a.sampler.Sample(undiscovered, len(undiscovered))

	a.log.WithFields(map[string]interface{}{
		"date":         date,
		"undiscovered": len(undiscovered),
		"required_n":   res.RequiredN,
		"target":       target,
	}).Info("sampling audit started")

	for _, sym := range order {
		if ctx.Err() != nil {
			break
		}
		if res.SampleSize >= target {
			break
		}
		meta, err := a.meta.SymbolMeta(ctx, sym, date)
		if err != nil {
			meta = admission.Meta{}
		}
		if ok, _ := a.filter.Check(sym, meta, volumes[sym]); !ok {
			res.Ineligible++
			continue
		}
		res.SampleSize++

		qr := a.provider.PremarketHigh(ctx, sym, date)
		switch qr.Status {
		case theta.StatusTransient, theta.StatusFatal:
			res.Errors++
			continue
		}
		res.SamplesChecked++

		if qr.Value == nil {
			continue
		}
		pc, ok := prevClose[sym]
		if !ok || pc <= 0 {
			continue
		}
		if pct, hit := rules.R1PremarketGap(pc, *qr.Value, a.r1Threshold); hit {
			res.ObservedMisses++
			res.Missed = append(res.Missed, MissedSymbol{
				Symbol:        sym,
				RuleCode:      rules.CodeR1,
				Value:         pct,
				PremarketHigh: *qr.Value,
				PrevClose:     pc,
			})
			a.log.WithFields(map[string]interface{}{
				"symbol": sym,
				"pct":    pct,
			}).Warn("audit found a missed premarket gap")
		}
	}

	if res.SampleSize == 0 {
		// nothing admissible went undiscovered, so nothing was missable
		res.Passed = true
		res.Reason = "complete_coverage"
		res.MissRateBound = 0.0
		return res
	}

	res.MissRateBound = MissRateBound(res.SamplesChecked, res.ObservedMisses, a.cfg.Confidence)
	res.Passed = res.ObservedMisses == 0 && res.MissRateBound <= a.cfg.TargetMissRate
	if res.Passed {
		res.Reason = "statistical_audit_complete"
	} else if res.ObservedMisses > 0 {
		res.Reason = "misses_observed"
	} else {
		res.Reason = "insufficient_sample_for_bound"
	}

	a.log.WithFields(map[string]interface{}{
		"date":            date,
		"samples_checked": res.SamplesChecked,
		"misses":          res.ObservedMisses,
		"bound":           res.MissRateBound,
		"passed":          res.Passed,
	}).Info("sampling audit finished")
	return res
}
