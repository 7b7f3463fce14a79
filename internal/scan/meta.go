package scan

import (
	"context"

	"github.com/wonny/gapscan/internal/admission"
	"github.com/wonny/gapscan/internal/store"
)

// metaResolver resolves exchange/security-type metadata through the
// durable store cache first, the reference API second. Resolved symbols
// are written back so subsequent scans and audits stay off the API. It
// implements audit.MetaSource, which keeps the pipeline and the
// post-scan audit on one metadata path.
type metaResolver struct {
	s *Scanner
}

func (m metaResolver) SymbolMeta(ctx context.Context, symbol, asOf string) (admission.Meta, error) {
	if cached, err := m.s.universe.GetSymbolMeta(ctx, symbol); err == nil && cached != nil && cached.Exchange != "" {
		return admission.Meta{Exchange: cached.Exchange, SecurityType: cached.SecurityType}, nil
	}

	meta, err := m.s.sweep.TickerMeta(ctx, symbol, asOf)
	if err != nil || meta == nil {
		return admission.Meta{}, err
	}
	if upErr := m.s.universe.UpsertSymbolMeta(ctx, &store.SymbolMeta{
		Symbol:          symbol,
		PrimaryExchange: meta.PrimaryExchange,
		Exchange:        meta.Exchange,
		SecurityType:    meta.SecurityType,
	}); upErr != nil {
		m.s.log.WithError(upErr).WithField("symbol", symbol).Debug("symbol meta cache write failed")
	}
	return admission.Meta{Exchange: meta.Exchange, SecurityType: meta.SecurityType}, nil
}
