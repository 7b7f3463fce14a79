package handlers

import (
	"context"
	"net/http"

	"github.com/wonny/gapscan/internal/theta"
	"github.com/wonny/gapscan/pkg/logger"
)

// ProviderStatus is the live view of the terminal client.
type ProviderStatus interface {
	OK() bool
	DiagSnapshot(date string) map[string]theta.DiagCounts
}

// DiagReader serves persisted per-date provider tallies.
type DiagReader interface {
	GetProviderDiag(ctx context.Context, date string) (map[string]theta.DiagCounts, error)
}

// ProviderHandler reports terminal reachability and request diagnostics.
type ProviderHandler struct {
	provider ProviderStatus
	diag     DiagReader
	logger   *logger.Logger
}

func NewProviderHandler(provider ProviderStatus, diag DiagReader, log *logger.Logger) *ProviderHandler {
	return &ProviderHandler{provider: provider, diag: diag, logger: log}
}

// GetHealth returns reachability plus the request tallies for a date.
// Live in-process tallies win; the store covers past dates.
// GET /api/provider/health?date=YYYY-MM-DD
func (h *ProviderHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" && !validDate(date) {
		respondError(w, http.StatusBadRequest, "Invalid 'date' (expected YYYY-MM-DD)")
		return
	}

	resp := map[string]interface{}{
		"reachable": h.provider.OK(),
	}
	if date != "" {
		tallies := h.provider.DiagSnapshot(date)
		if tallies == nil {
			stored, err := h.diag.GetProviderDiag(r.Context(), date)
			if err != nil {
				h.logger.WithError(err).Error("Failed to load provider diag")
				respondError(w, http.StatusInternalServerError, "Failed to retrieve provider diagnostics")
				return
			}
			tallies = stored
		}
		resp["date"] = date
		resp["requests"] = tallies
	}

	respondJSON(w, http.StatusOK, resp)
}
