package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wonny/gapscan/pkg/config"
)

func defaultCfg() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		AllowedExchanges:     []string{"NYSE", "NASDAQ", "AMEX"},
		AllowedSecurityTypes: []string{"CS", "ADRC", "ADRP", "ADRR", "ADRW", "GDR"},
		ExcludeDerivatives:   true,
		MinVolume:            100_000,
	}
}

func TestIsDerivative(t *testing.T) {
	f := New(defaultCfg())

	derivatives := []string{"ABC.WS", "ABC.WT", "ABC.W", "ABC-WS", "ABC-W", "ABC U", "ABC.U", "ABC.UN", "XYZRIGHT", "XYZRIGHTS", "abc.ws"}
	for _, sym := range derivatives {
		assert.True(t, f.IsDerivative(sym), "%s should be a derivative", sym)
	}

	common := []string{"ABC", "WULF", "UWMC", "W", "U"}
	for _, sym := range common {
		assert.False(t, f.IsDerivative(sym), "%s should not be a derivative", sym)
	}
}

func TestIsDerivativeDisabled(t *testing.T) {
	cfg := defaultCfg()
	cfg.ExcludeDerivatives = false
	f := New(cfg)
	assert.False(t, f.IsDerivative("ABC.WS"))
}

func TestCheck(t *testing.T) {
	f := New(defaultCfg())

	tests := []struct {
		name   string
		symbol string
		meta   Meta
		volume int64
		wantOK bool
		reason string
	}{
		{"eligible common stock", "ABCD", Meta{"NASDAQ", "CS"}, 500_000, true, ""},
		{"eligible ADR", "ABCD", Meta{"NYSE", "ADRC"}, 500_000, true, ""},
		{"warrant suffix", "ABCD.WS", Meta{"NASDAQ", "CS"}, 500_000, false, RejectDerivative},
		{"unknown exchange", "ABCD", Meta{"", "CS"}, 500_000, false, RejectUnknownExchange},
		{"OTC exchange", "ABCD", Meta{"OTC", "CS"}, 500_000, false, RejectExchange},
		{"warrant type", "ABCD", Meta{"NASDAQ", "WARRANT"}, 500_000, false, RejectSecurityType},
		{"unknown type", "ABCD", Meta{"NASDAQ", ""}, 500_000, false, RejectSecurityType},
		{"thin volume", "ABCD", Meta{"NASDAQ", "CS"}, 99_999, false, RejectMinVolume},
		{"volume at threshold", "ABCD", Meta{"NASDAQ", "CS"}, 100_000, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := f.Check(tt.symbol, tt.meta, tt.volume)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestCheckDerivativesAllowed(t *testing.T) {
	cfg := defaultCfg()
	cfg.ExcludeDerivatives = false
	f := New(cfg)

	// with derivatives allowed, an unknown security type passes
	ok, _ := f.Check("ABCD", Meta{"NASDAQ", ""}, 500_000)
	assert.True(t, ok)
}

func TestCounts(t *testing.T) {
	f := New(defaultCfg())
	var c Counts

	c.Add(f.Check("ABCD", Meta{"NASDAQ", "CS"}, 500_000))
	c.Add(f.Check("ABCD.WS", Meta{"NASDAQ", "CS"}, 500_000))
	c.Add(f.Check("EFGH", Meta{"OTC", "CS"}, 500_000))
	c.Add(f.Check("IJKL", Meta{"NYSE", "CS"}, 10))

	assert.Equal(t, 1, c.Kept)
	assert.Equal(t, 1, c.Derivative)
	assert.Equal(t, 1, c.Exchange)
	assert.Equal(t, 1, c.MinVolume)
	assert.Equal(t, 3, c.FilteredTotal())
}
