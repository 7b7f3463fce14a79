// Package admission holds the eligibility filter shared by the discovery
// pipeline and both audits. Keeping it in one place matters: if the audit
// filtered a different universe than the pipeline, its completeness bound
// would be meaningless.
package admission

import (
	"regexp"
	"strings"

	"github.com/wonny/gapscan/pkg/config"
)

// Reject reasons, reported in filter diagnostics.
const (
	RejectDerivative      = "derivative"
	RejectUnknownExchange = "unknown_exchange"
	RejectExchange        = "exchange_not_allowed"
	RejectSecurityType    = "security_type"
	RejectMinVolume       = "min_volume"
)

// derivativePattern matches warrant/unit/rights suffixes that slip
// through security-type metadata (e.g. "ABC.WS", "ABC-WT", "ABC U").
var derivativePattern = regexp.MustCompile(`(?i)([.\- ]W[ST]?$|[.\- ]UN?$|RIGHTS?$)`)

// Meta is the metadata the filter needs per symbol. Exchange is the
// normalized bucket (NYSE/NASDAQ/AMEX), empty when unknown.
type Meta struct {
	Exchange     string
	SecurityType string
}

// Filter applies the exchange, security-type, derivative, and volume
// gates.
type Filter struct {
	allowedExchanges   map[string]bool
	allowedTypes       map[string]bool
	excludeDerivatives bool
	minVolume          int64
}

func New(cfg config.DiscoveryConfig) *Filter {
	f := &Filter{
		allowedExchanges:   make(map[string]bool, len(cfg.AllowedExchanges)),
		allowedTypes:       make(map[string]bool, len(cfg.AllowedSecurityTypes)),
		excludeDerivatives: cfg.ExcludeDerivatives,
		minVolume:          cfg.MinVolume,
	}
	for _, ex := range cfg.AllowedExchanges {
		f.allowedExchanges[strings.ToUpper(strings.TrimSpace(ex))] = true
	}
	for _, t := range cfg.AllowedSecurityTypes {
		f.allowedTypes[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	return f
}

// IsDerivative reports whether the ticker itself looks like a warrant,
// unit, or rights listing.
func (f *Filter) IsDerivative(symbol string) bool {
	if !f.excludeDerivatives {
		return false
	}
	return derivativePattern.MatchString(strings.ToUpper(symbol))
}

// Check returns (true, "") for an admissible symbol, or (false, reason).
// Unknown exchange and, when derivatives are excluded, unknown security
// type both reject: a symbol we cannot classify cannot be trusted.
func (f *Filter) Check(symbol string, meta Meta, volume int64) (bool, string) {
	if f.IsDerivative(symbol) {
		return false, RejectDerivative
	}
	if meta.Exchange == "" {
		return false, RejectUnknownExchange
	}
	if !f.allowedExchanges[strings.ToUpper(meta.Exchange)] {
		return false, RejectExchange
	}
	if f.excludeDerivatives {
		if meta.SecurityType == "" {
			return false, RejectSecurityType
		}
		if !f.allowedTypes[strings.ToUpper(meta.SecurityType)] {
			return false, RejectSecurityType
		}
	}
	if volume < f.minVolume {
		return false, RejectMinVolume
	}
	return true, ""
}

// Counts tallies rejects by reason for filter diagnostics.
type Counts struct {
	Kept            int `json:"kept"`
	Derivative      int `json:"filtered_derivative"`
	UnknownExchange int `json:"filtered_unknown_exchange"`
	Exchange        int `json:"filtered_exchange_not_allowed"`
	SecurityType    int `json:"filtered_security_type"`
	MinVolume       int `json:"filtered_min_volume"`
}

// Add records one Check outcome.
func (c *Counts) Add(ok bool, reason string) {
	if ok {
		c.Kept++
		return
	}
	switch reason {
	case RejectDerivative:
		c.Derivative++
	case RejectUnknownExchange:
		c.UnknownExchange++
	case RejectExchange:
		c.Exchange++
	case RejectSecurityType:
		c.SecurityType++
	case RejectMinVolume:
		c.MinVolume++
	}
}

// FilteredTotal is the number of rejected symbols.
func (c *Counts) FilteredTotal() int {
	return c.Derivative + c.UnknownExchange + c.Exchange + c.SecurityType + c.MinVolume
}
