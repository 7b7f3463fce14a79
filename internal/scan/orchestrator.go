// Package scan sequences one trading day's discovery pass: pin the
// universe, ingest the market sweep, select candidates, fan out the
// bounded premarket fetch, resolve 7-day ranges, gate and filter, persist
// idempotently, and run both completeness audits. Phases only move
// forward; a failed day is re-run from the top, never resumed.
package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wonny/gapscan/internal/admission"
	"github.com/wonny/gapscan/internal/audit"
	"github.com/wonny/gapscan/internal/polygon"
	"github.com/wonny/gapscan/internal/rules"
	"github.com/wonny/gapscan/internal/splitgate"
	"github.com/wonny/gapscan/internal/store"
	"github.com/wonny/gapscan/internal/theta"
	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
)

// SweepSource is the market-data surface the scanner consumes: the
// whole-market sweep, prev closes, per-symbol ranges, reference
// metadata, the roster pager, and corporate actions.
type SweepSource interface {
	GroupedDaily(ctx context.Context, date string) ([]polygon.DailyBar, error)
	PrevCloseBulk(ctx context.Context, prevDate string) (map[string]float64, error)
	PrevClose(ctx context.Context, symbol string) (*float64, error)
	DailyRange(ctx context.Context, symbol, from, to string) ([]polygon.Bar, error)
	TickerMeta(ctx context.Context, symbol, asOf string) (*polygon.TickerMeta, error)
	ActiveRoster(ctx context.Context, includeDelisted bool, maxPages int) ([]polygon.RosterEntry, error)
	Splits(ctx context.Context, symbol, from, to string) ([]polygon.Split, error)
}

// Provider is the premarket/minute-bar surface of the terminal client.
type Provider interface {
	OK() bool
	PremarketHigh(ctx context.Context, symbol, date string) theta.QueryResult
	DailyRange(ctx context.Context, symbol, from, to string) ([]theta.DailyBar, error)
	DiagSnapshot(date string) map[string]theta.DiagCounts
}

// HitStore is the hit persistence contract.
type HitStore interface {
	UpsertHit(ctx context.Context, h *store.Hit) (int64, error)
	InsertRules(ctx context.Context, hitID int64, ruleRows []store.RuleValue) error
	DeleteDate(ctx context.Context, date string) error
	GetRuleCodesByDate(ctx context.Context, date string) (map[string][]string, error)
	DiscoveredSymbols(ctx context.Context, date string) (map[string]bool, error)
}

// BarStore persists the sweep and serves the stored lookback.
type BarStore interface {
	SaveDailyBars(ctx context.Context, date string, bars []polygon.DailyBar) error
	PrevCloseMap(ctx context.Context, date string) (map[string]float64, error)
	DailyVolumes(ctx context.Context, date string) (map[string]int64, error)
	Last7Range(ctx context.Context, symbol, endDate string) ([]rules.LowHigh, error)
}

// UniverseStore pins and serves the per-date roster plus the symbol
// metadata cache.
type UniverseStore interface {
	PinUniverse(ctx context.Context, date string, roster []polygon.RosterEntry, force bool) (int, error)
	GetUniverse(ctx context.Context, date string) ([]string, error)
	Stats(ctx context.Context, date string) (int, error)
	UpsertSymbolMeta(ctx context.Context, m *store.SymbolMeta) error
	GetSymbolMeta(ctx context.Context, symbol string) (*store.SymbolMeta, error)
}

// CompletenessStore persists the day's audit artifacts.
type CompletenessStore interface {
	SaveDayCompleteness(ctx context.Context, c *store.DayCompleteness) error
	SaveAuditResult(ctx context.Context, res *audit.Result) error
	SaveMissAudit(ctx context.Context, date string, records []audit.MissRecord) error
	SaveProviderDiag(ctx context.Context, date string, diag map[string]theta.DiagCounts) error
}

// Deps bundles the scanner's collaborators.
type Deps struct {
	Sweep        SweepSource
	Provider     Provider
	Hits         HitStore
	Bars         BarStore
	Universe     UniverseStore
	Completeness CompletenessStore
}

// Scanner runs the day pipeline.
type Scanner struct {
	cfg      *config.Config
	log      *logger.Logger
	sweep    SweepSource
	provider Provider
	hits     HitStore
	bars     BarStore
	universe UniverseStore
	compl    CompletenessStore

	filter   *admission.Filter
	gate     *splitgate.Gate
	auditor  *audit.Auditor
	postScan *audit.PostScan
}

func New(cfg *config.Config, log *logger.Logger, d Deps) *Scanner {
	s := &Scanner{
		cfg:      cfg,
		log:      log.WithField("module", "scan"),
		sweep:    d.Sweep,
		provider: d.Provider,
		hits:     d.Hits,
		bars:     d.Bars,
		universe: d.Universe,
		compl:    d.Completeness,
		filter:   admission.New(cfg.Discovery),
	}
	s.gate = splitgate.New(d.Sweep, cfg.Discovery, log)
	s.auditor = audit.New(cfg.Audit, cfg.Discovery.R1Threshold, d.Provider, s.filter, metaResolver{s}, log)
	s.postScan = audit.NewPostScan(cfg.Audit, cfg.Discovery, s.filter, d.Provider, metaResolver{s}, log)
	return s
}

// premarketOutcome is one resolved premarket high with its provenance.
type premarketOutcome struct {
	pct    float64
	source string
	venue  string
}

// ScanDay runs the full pipeline for one date. Infra failures (store,
// persist) surface as errors; everything operational, including failed
// audits and an empty sweep, is report data.
func (s *Scanner) ScanDay(ctx context.Context, date string, force bool) (*Report, error) {
	start := time.Now()
	report := &Report{Status: StatusOK, Date: date}

	// 0) pin the deterministic universe (idempotent unless forced)
	universeCount, err := s.pinUniverse(ctx, date, force)
	if err != nil {
		return nil, err
	}
	universeSyms, err := s.universe.GetUniverse(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}
	report.UniverseSymbols = universeCount

	// 1) whole-market sweep; a failed or empty sweep is not a scan error
	bars, err := s.sweep.GroupedDaily(ctx, date)
	if err != nil {
		s.log.WithError(err).WithField("date", date).Warn("grouped daily unavailable")
		report.Status = StatusNoGroupedDaily
		report.Error = err.Error()
		return report, nil
	}
	if len(bars) == 0 {
		s.log.WithField("date", date).Info("empty sweep, treating as non-trading day")
		report.Status = StatusNoGroupedDaily
		return report, nil
	}
	report.DailySymbols = len(bars)

	if err := s.bars.SaveDailyBars(ctx, date, bars); err != nil {
		return nil, fmt.Errorf("persist sweep: %w", err)
	}
	report.CoveragePct = coveragePct(bars, universeSyms)

	// 2) prev-close map, layered
	prevDate, err := priorCalendarDay(date)
	if err != nil {
		return nil, err
	}
	prevClose := s.resolvePrevClose(ctx, prevDate, bars)

	// 3) cheap rules and the bounded candidate list
	r2, r3 := s.computeOpenRules(bars, prevClose)
	cands := s.selectCandidates(bars, prevClose, r2, r3)
	s.log.WithFields(map[string]interface{}{
		"date":       date,
		"r2":         len(r2),
		"r3":         len(r3),
		"candidates": len(cands.symbols),
		"sampled":    len(cands.sampled),
	}).Info("candidates selected")

	// 4) bounded premarket fan-out
	r1, r1Checked, inlineAuditHits := s.fetchPremarket(ctx, date, cands, prevClose)
	inlineAuditFailed := inlineAuditHits > 0

	// 5) 7-day surge over the interesting set, split-gated
	r4, gateDecisions := s.computeSurge(ctx, date, bars, prevClose, r1, r2, r3)

	// 6) assemble, gate, filter, persist
	discoveries, ruleRows := s.assembleHits(ctx, date, bars, r1, r2, r3, r4, gateDecisions)
	if err := s.persist(ctx, date, discoveries, ruleRows); err != nil {
		return nil, err
	}
	report.Discoveries = len(discoveries)
	report.R1Checked = r1Checked

	discovered := make(map[string]bool, len(discoveries))
	for _, h := range discoveries {
		discovered[h.Symbol] = true
	}

	// 7) audits; failures are report data, not errors
	volumes := make(map[string]int64, len(bars))
	for _, b := range bars {
		volumes[b.Symbol] = b.Volume
	}
	report.Audit = s.auditor.Run(ctx, date, universeSyms, discovered, prevClose, volumes)
	if err := s.compl.SaveAuditResult(ctx, report.Audit); err != nil {
		s.log.WithError(err).Warn("audit result persist failed")
	}

	storedRules, err := s.hits.GetRuleCodesByDate(ctx, date)
	if err != nil {
		s.log.WithError(err).Warn("stored rule lookup failed, miss audit sees no coverage")
		storedRules = map[string][]string{}
	}
	report.MissAudit = s.postScan.Run(ctx, date, bars, prevClose, storedRules, s.provider.OK())
	if err := s.compl.SaveMissAudit(ctx, date, report.MissAudit.Records); err != nil {
		s.log.WithError(err).Warn("miss audit persist failed")
	}

	report.AuditFailed = inlineAuditFailed || !report.Audit.Passed || report.MissAudit.RetryNeeded

	// 8) completeness row + provider diagnostics
	r2r3 := make(map[string]bool, len(r2)+len(r3))
	for sym := range r2 {
		r2r3[sym] = true
	}
	for sym := range r3 {
		r2r3[sym] = true
	}
	dayStatus := report.MissAudit.DayStatus
	if err := s.compl.SaveDayCompleteness(ctx, &store.DayCompleteness{
		Date:            date,
		DailySymbols:    len(bars),
		UniverseSymbols: universeCount,
		R2R3Candidates:  len(r2r3),
		R1Checked:       r1Checked,
		R1Hits:          len(r1),
		AuditSample:     len(cands.sampled),
		AuditHits:       inlineAuditHits,
		AuditFailed:     report.AuditFailed,
		Status:          dayStatus,
	}); err != nil {
		return nil, fmt.Errorf("persist day completeness: %w", err)
	}
	if diag := s.provider.DiagSnapshot(date); len(diag) > 0 {
		if err := s.compl.SaveProviderDiag(ctx, date, diag); err != nil {
			s.log.WithError(err).Warn("provider diag persist failed")
		}
	}

	s.log.WithFields(map[string]interface{}{
		"date":        date,
		"discoveries": report.Discoveries,
		"audit_ok":    !report.AuditFailed,
		"elapsed":     time.Since(start).String(),
	}).Info("scan complete")
	return report, nil
}

// AuditDay re-runs the sampling completeness audit for an already
// scanned date from stored state. The discovery pipeline is untouched;
// only the audit verdict is recomputed and re-persisted.
func (s *Scanner) AuditDay(ctx context.Context, date string) (*audit.Result, error) {
	universeSyms, err := s.universe.GetUniverse(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load universe: %w", err)
	}
	if len(universeSyms) == 0 {
		return nil, fmt.Errorf("no universe pinned for %s, scan the day first", date)
	}
	discovered, err := s.hits.DiscoveredSymbols(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load discoveries: %w", err)
	}
	volumes, err := s.bars.DailyVolumes(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load day volumes: %w", err)
	}
	prevDate, err := priorCalendarDay(date)
	if err != nil {
		return nil, err
	}
	prevClose := s.resolvePrevClose(ctx, prevDate, nil)

	res := s.auditor.Run(ctx, date, universeSyms, discovered, prevClose, volumes)
	if err := s.compl.SaveAuditResult(ctx, res); err != nil {
		s.log.WithError(err).Warn("audit result persist failed")
	}
	return res, nil
}

func (s *Scanner) pinUniverse(ctx context.Context, date string, force bool) (int, error) {
	if !force {
		if n, err := s.universe.Stats(ctx, date); err == nil && n > 0 {
			return n, nil
		}
	}
	roster, err := s.sweep.ActiveRoster(ctx, false, 0)
	if err != nil {
		return 0, fmt.Errorf("fetch roster: %w", err)
	}
	n, err := s.universe.PinUniverse(ctx, date, roster, force)
	if err != nil {
		return 0, fmt.Errorf("pin universe: %w", err)
	}
	s.log.WithFields(map[string]interface{}{"date": date, "symbols": n}).Info("universe pinned")
	return n, nil
}

// perSymbolPrevCloseCap bounds the slow one-by-one fallback.
const perSymbolPrevCloseCap = 25

// resolvePrevClose merges three prev-close sources: the stored prior-day
// sweep, one bulk grouped-daily call, and a capped per-symbol fallback
// for whatever is still unresolved.
func (s *Scanner) resolvePrevClose(ctx context.Context, prevDate string, bars []polygon.DailyBar) map[string]float64 {
	out, err := s.bars.PrevCloseMap(ctx, prevDate)
	if err != nil {
		s.log.WithError(err).Warn("stored prev close unavailable")
		out = map[string]float64{}
	}

	if bulk, err := s.sweep.PrevCloseBulk(ctx, prevDate); err == nil {
		for sym, close := range bulk {
			if _, ok := out[sym]; !ok {
				out[sym] = close
			}
		}
	} else {
		s.log.WithError(err).Warn("bulk prev close unavailable")
	}

	var missing []string
	for _, b := range bars {
		if _, ok := out[b.Symbol]; !ok {
			missing = append(missing, b.Symbol)
		}
	}
	if len(missing) > perSymbolPrevCloseCap {
		missing = missing[:perSymbolPrevCloseCap]
	}
	for _, sym := range missing {
		if ctx.Err() != nil {
			break
		}
		pc, err := s.sweep.PrevClose(ctx, sym)
		if err == nil && pc != nil && *pc > 0 {
			out[sym] = *pc
		}
	}
	return out
}

// fetchPremarket fans the candidate list out over a bounded worker pool.
// Dispatch stops when the phase deadline passes; symbols never reached
// are simply not evaluated for R1. Returns the premarket outcomes, the
// number of symbols actually checked, and how many audit-sample symbols
// turned out to be hits (the inline audit signal).
func (s *Scanner) fetchPremarket(ctx context.Context, date string, cands candidateSet, prevClose map[string]float64) (map[string]premarketOutcome, int, int) {
	r1 := make(map[string]premarketOutcome)
	if !s.provider.OK() {
		s.log.Warn("provider unavailable, skipping premarket phase")
		return r1, 0, 0
	}

	workers := s.cfg.Discovery.PremarketWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > 8 {
		workers = 8
	}

	type outcome struct {
		sym string
		qr  theta.QueryResult
	}
	jobs := make(chan string)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				results <- outcome{sym: sym, qr: s.provider.PremarketHigh(ctx, sym, date)}
			}
		}()
	}
	go func() {
		deadline := time.Now().Add(s.cfg.Discovery.PremarketDeadline)
		dispatched := 0
		for _, sym := range cands.symbols {
			if ctx.Err() != nil || time.Now().After(deadline) {
				s.log.WithFields(map[string]interface{}{
					"dispatched": dispatched,
					"total":      len(cands.symbols),
				}).Warn("premarket phase budget exhausted, stopping dispatch")
				break
			}
			jobs <- sym
			dispatched++
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	checked := 0
	auditHits := 0
	for res := range results {
		checked++
		if res.qr.Status != theta.StatusOK || res.qr.Value == nil {
			continue
		}
		pc, ok := prevClose[res.sym]
		if !ok || pc <= 0 {
			continue
		}
		pct, hit := rules.R1PremarketGap(pc, *res.qr.Value, s.cfg.Discovery.R1Threshold)
		if !hit {
			continue
		}
		r1[res.sym] = premarketOutcome{pct: pct, source: res.qr.Source, venue: res.qr.Venue}
		if cands.sampled[res.sym] {
			// a randomly sampled symbol qualified: the candidate
			// selection itself is leaking hits
			auditHits++
			s.log.WithField("symbol", res.sym).Warn("audit-sample symbol qualified for premarket gap")
		}
	}
	return r1, checked, auditHits
}

// surgeMoverPct adds big daily movers to the surge lookback set even
// when no rule has fired yet.
const surgeMoverPct = 20.0

// computeSurge evaluates the 7-day surge over every symbol with
// interesting action. A surge over a fresh reverse split is an artifact
// and is suppressed unless the heavy-runner override holds.
func (s *Scanner) computeSurge(ctx context.Context, date string, bars []polygon.DailyBar, prevClose map[string]float64, r1 map[string]premarketOutcome, r2, r3 map[string]float64) (map[string]float64, map[string]splitgate.Decision) {
	interesting := make(map[string]bool)
	for sym := range r1 {
		interesting[sym] = true
	}
	for sym := range r2 {
		interesting[sym] = true
	}
	for sym := range r3 {
		interesting[sym] = true
	}

	barBySym := make(map[string]polygon.DailyBar, len(bars))
	for _, b := range bars {
		barBySym[b.Symbol] = b
		if interesting[b.Symbol] {
			continue
		}
		if pc, ok := prevClose[b.Symbol]; ok && pc > 0 {
			if (b.High/pc-1.0)*100.0 >= surgeMoverPct {
				interesting[b.Symbol] = true
			}
		}
	}

	symbols := make([]string, 0, len(interesting))
	for sym := range interesting {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	r4 := make(map[string]float64)
	decisions := make(map[string]splitgate.Decision)
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		lo, hi, ok := s.sevenDayRange(ctx, sym, date)
		if !ok {
			continue
		}
		pct, hit := rules.R4Surge7(lo, hi, s.cfg.Discovery.R4Threshold)
		if !hit {
			continue
		}

		b := barBySym[sym]
		decision := s.gate.Check(ctx, sym, date, dollarVolume(b), pushPct(b))
		decisions[sym] = decision
		if decision.NearSplit && !decision.Override {
			s.log.WithFields(map[string]interface{}{
				"symbol": sym,
				"reason": decision.Reason,
			}).Info("surge suppressed as split artifact")
			continue
		}
		r4[sym] = pct
	}
	return r4, decisions
}

// assembleHits builds the final hit set: every symbol with at least one
// surviving rule, split-gated and admission-filtered.
func (s *Scanner) assembleHits(ctx context.Context, date string, bars []polygon.DailyBar, r1 map[string]premarketOutcome, r2, r3, r4 map[string]float64, gateDecisions map[string]splitgate.Decision) ([]*store.Hit, map[string][]store.RuleValue) {
	var hits []*store.Hit
	ruleRows := make(map[string][]store.RuleValue)
	var counts admission.Counts

	for _, b := range bars {
		if ctx.Err() != nil {
			break
		}
		sym := b.Symbol

		var rows []store.RuleValue
		if out, ok := r1[sym]; ok {
			rows = append(rows, store.RuleValue{Code: rules.CodeR1, Value: out.pct})
		}
		if v, ok := r2[sym]; ok {
			rows = append(rows, store.RuleValue{Code: rules.CodeR2, Value: v})
		}
		if v, ok := r3[sym]; ok {
			rows = append(rows, store.RuleValue{Code: rules.CodeR3, Value: v})
		}
		if v, ok := r4[sym]; ok {
			rows = append(rows, store.RuleValue{Code: rules.CodeR4, Value: v})
		}
		if len(rows) == 0 {
			continue
		}

		decision, ok := gateDecisions[sym]
		if !ok {
			decision = s.gate.Check(ctx, sym, date, dollarVolume(b), pushPct(b))
		}
		nearSplit := decision.NearSplit && !decision.Override
		if nearSplit && s.degenerateUnderSplit(rows, r2, sym, decision) {
			s.log.WithField("symbol", sym).Info("hit suppressed, open gap fully explained by reverse split")
			continue
		}

		meta, err := metaResolver{s}.SymbolMeta(ctx, sym, date)
		if err != nil {
			meta = admission.Meta{}
		}
		admitted, reason := s.filter.Check(sym, meta, b.Volume)
		counts.Add(admitted, reason)
		if !admitted {
			continue
		}

		h := &store.Hit{
			Symbol:           sym,
			EventDate:        date,
			Volume:           b.Volume,
			NearReverseSplit: nearSplit,
			Exchange:         meta.Exchange,
		}
		if b.Open > 0 {
			p := pushPct(b)
			h.PushPct = &p
		}
		if decision.Context != nil {
			execDate := decision.Context.ExecutionDate
			h.RSExecDate = &execDate
			if days, err := signedDaysAfter(date, execDate); err == nil {
				h.RSDaysAfter = &days
			}
		}
		if out, ok := r1[sym]; ok {
			src, ven := out.source, out.venue
			h.PMSource = &src
			h.PMVenue = &ven
		}

		hits = append(hits, h)
		ruleRows[sym] = rows
	}

	s.log.WithFields(map[string]interface{}{
		"date":     date,
		"hits":     len(hits),
		"filtered": counts.FilteredTotal(),
	}).Info("hits assembled")
	return hits, ruleRows
}

// degenerateUnderSplit reports whether the only surviving rule is the
// open gap and the gap is fully explained by the split ratio. Such a set
// is a pure artifact; storing it would be a false positive.
func (s *Scanner) degenerateUnderSplit(rows []store.RuleValue, r2 map[string]float64, sym string, decision splitgate.Decision) bool {
	if len(rows) != 1 || rows[0].Code != rules.CodeR2 {
		return false
	}
	if decision.Context == nil || decision.Context.Ratio <= 1 {
		return false
	}
	gapRatio := 1.0 + r2[sym]/100.0
	// within 10% of the split multiple counts as explained by it
	return gapRatio <= decision.Context.Ratio*1.1
}

// persist rewrites the date atomically from the scan's point of view:
// delete everything for the date, then upsert each hit and its rules.
func (s *Scanner) persist(ctx context.Context, date string, hits []*store.Hit, ruleRows map[string][]store.RuleValue) error {
	if err := s.hits.DeleteDate(ctx, date); err != nil {
		return fmt.Errorf("clear date %s: %w", date, err)
	}
	for _, h := range hits {
		hitID, err := s.hits.UpsertHit(ctx, h)
		if err != nil {
			return err
		}
		if err := s.hits.InsertRules(ctx, hitID, ruleRows[h.Symbol]); err != nil {
			return err
		}
	}
	return nil
}

func coveragePct(bars []polygon.DailyBar, universe []string) float64 {
	if len(universe) == 0 {
		return 0
	}
	daily := make(map[string]bool, len(bars))
	for _, b := range bars {
		daily[b.Symbol] = true
	}
	covered := 0
	for _, sym := range universe {
		if daily[sym] {
			covered++
		}
	}
	return float64(covered) / float64(len(universe)) * 100.0
}

func dollarVolume(b polygon.DailyBar) float64 {
	price := b.VWAP
	if price == 0 {
		price = b.Close
	}
	return price * float64(b.Volume)
}

func pushPct(b polygon.DailyBar) float64 {
	if b.Open <= 0 {
		return 0
	}
	return (b.High/b.Open - 1.0) * 100.0
}

func priorCalendarDay(date string) (string, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("parse scan date: %w", err)
	}
	return d.AddDate(0, 0, -1).Format("2006-01-02"), nil
}

func signedDaysAfter(eventDate, execDate string) (int, error) {
	ev, err := time.Parse("2006-01-02", eventDate)
	if err != nil {
		return 0, err
	}
	ex, err := time.Parse("2006-01-02", execDate)
	if err != nil {
		return 0, err
	}
	return int(ev.Sub(ex).Hours() / 24), nil
}
