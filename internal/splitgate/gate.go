// Package splitgate decides whether a large price move is an organic gap
// event or a reverse-split artifact. A 1-for-N reverse split multiplies
// the quote overnight and would otherwise show up as a huge open gap.
package splitgate

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/gapscan/internal/polygon"
	"github.com/wonny/gapscan/pkg/config"
	"github.com/wonny/gapscan/pkg/logger"
)

// SplitLister is the slice of the corporate-actions API the gate needs.
type SplitLister interface {
	Splits(ctx context.Context, symbol, from, to string) ([]polygon.Split, error)
}

// SplitContext describes the reverse split nearest to the event date.
type SplitContext struct {
	ExecutionDate string  `json:"execution_date"`
	From          float64 `json:"split_from"`
	To            float64 `json:"split_to"`
	Ratio         float64 `json:"split_ratio"`
	DaysFromEvent int     `json:"days_from_event"`
}

// Decision is the gate's verdict for one (symbol, event date).
type Decision struct {
	// NearSplit is true when a reverse split executed within the window.
	NearSplit bool
	Context   *SplitContext
	// Override is true when the move is too large and too liquid to be a
	// split artifact; the hit stands but keeps its split context.
	Override bool
	Reason   string
}

// windowDays covers one trading day either side of the event with buffer
// for weekends.
const windowDays = 3

// Gate looks up split events around an event date and classifies the hit.
type Gate struct {
	splits          SplitLister
	log             *logger.Logger
	heavyRunnerDV   float64
	heavyRunnerPush float64
}

func New(splits SplitLister, cfg config.DiscoveryConfig, log *logger.Logger) *Gate {
	return &Gate{
		splits:          splits,
		log:             log.WithField("module", "splitgate"),
		heavyRunnerDV:   cfg.HeavyRunnerDollarVolume,
		heavyRunnerPush: cfg.HeavyRunnerPushMin,
	}
}

// Check classifies one hit. dollarVolume is the day's vwap (or close)
// times volume; pushPct is the intraday push percentage. A lookup error
// degrades to "no gate" so a flaky corporate-actions API cannot suppress
// real discoveries.
func (g *Gate) Check(ctx context.Context, symbol, eventDate string, dollarVolume, pushPct float64) Decision {
	event, err := time.Parse("2006-01-02", eventDate)
	if err != nil {
		g.log.WithError(err).WithField("symbol", symbol).Warn("bad event date, skipping split gate")
		return Decision{}
	}

	from := event.AddDate(0, 0, -windowDays).Format("2006-01-02")
	to := event.AddDate(0, 0, windowDays).Format("2006-01-02")

	events, err := g.splits.Splits(ctx, symbol, from, to)
	if err != nil {
		g.log.WithError(err).WithField("symbol", symbol).Warn("split lookup failed, not gating")
		return Decision{}
	}

	// closest reverse split in-window wins
	var closest *polygon.Split
	closestDays := windowDays + 1
	for i := range events {
		s := events[i]
		if !s.IsReverse || s.ExecutionDate == "" {
			continue
		}
		exec, err := time.Parse("2006-01-02", s.ExecutionDate)
		if err != nil {
			continue
		}
		days := int(exec.Sub(event).Hours() / 24)
		if days < 0 {
			days = -days
		}
		if days <= windowDays && days < closestDays {
			closest = &events[i]
			closestDays = days
		}
	}
	if closest == nil {
		return Decision{}
	}

	sc := &SplitContext{
		ExecutionDate: closest.ExecutionDate,
		From:          closest.From,
		To:            closest.To,
		Ratio:         closest.Ratio,
		DaysFromEvent: closestDays,
	}

	if dollarVolume >= g.heavyRunnerDV && pushPct >= g.heavyRunnerPush {
		return Decision{
			NearSplit: true,
			Context:   sc,
			Override:  true,
			Reason:    fmt.Sprintf("heavy_runner_override_split_%dd", closestDays),
		}
	}
	return Decision{
		NearSplit: true,
		Context:   sc,
		Reason:    fmt.Sprintf("split_artifact_%dd", closestDays),
	}
}
