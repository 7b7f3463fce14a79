package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wonny/gapscan/internal/store"
	"github.com/wonny/gapscan/pkg/logger"
)

// HitReader serves persisted discoveries for a date.
type HitReader interface {
	GetHitsByDate(ctx context.Context, date string) ([]*store.Hit, error)
	GetRuleCodesByDate(ctx context.Context, date string) (map[string][]string, error)
}

// CompletenessReader serves the day's audit verdicts.
type CompletenessReader interface {
	GetDayStatus(ctx context.Context, date string) (string, error)
	RetryDates(ctx context.Context, limit int) ([]string, error)
}

// ScanHandler handles scan-report API endpoints.
type ScanHandler struct {
	hits   HitReader
	compl  CompletenessReader
	logger *logger.Logger
}

func NewScanHandler(hits HitReader, compl CompletenessReader, log *logger.Logger) *ScanHandler {
	return &ScanHandler{hits: hits, compl: compl, logger: log}
}

// hitView is the wire shape for one discovery.
type hitView struct {
	Symbol           string   `json:"symbol"`
	Rules            []string `json:"rules"`
	Volume           int64    `json:"volume"`
	PushPct          *float64 `json:"push_pct,omitempty"`
	NearReverseSplit bool     `json:"near_reverse_split"`
	RSExecDate       *string  `json:"rs_exec_date,omitempty"`
	RSDaysAfter      *int     `json:"rs_days_after,omitempty"`
	Exchange         string   `json:"exchange,omitempty"`
	PMSource         *string  `json:"pm_source,omitempty"`
	PMVenue          *string  `json:"pm_venue,omitempty"`
}

// GetReport returns the persisted scan result for one date
// GET /api/scan/report?date=YYYY-MM-DD
func (h *ScanHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	date := r.URL.Query().Get("date")
	if !validDate(date) {
		respondError(w, http.StatusBadRequest, "Invalid or missing 'date' (expected YYYY-MM-DD)")
		return
	}

	hits, err := h.hits.GetHitsByDate(ctx, date)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load hits")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve scan report")
		return
	}
	ruleCodes, err := h.hits.GetRuleCodesByDate(ctx, date)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load rule codes")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve scan report")
		return
	}
	dayStatus, err := h.compl.GetDayStatus(ctx, date)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load day status")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve scan report")
		return
	}

	views := make([]hitView, 0, len(hits))
	for _, hit := range hits {
		views = append(views, hitView{
			Symbol:           hit.Symbol,
			Rules:            ruleCodes[hit.Symbol],
			Volume:           hit.Volume,
			PushPct:          hit.PushPct,
			NearReverseSplit: hit.NearReverseSplit,
			RSExecDate:       hit.RSExecDate,
			RSDaysAfter:      hit.RSDaysAfter,
			Exchange:         hit.Exchange,
			PMSource:         hit.PMSource,
			PMVenue:          hit.PMVenue,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"date":        date,
		"day_status":  dayStatus,
		"discoveries": len(views),
		"hits":        views,
	})
}

// GetRetryQueue lists days still flagged for a re-scan
// GET /api/scan/retry-queue
func (h *ScanHandler) GetRetryQueue(w http.ResponseWriter, r *http.Request) {
	dates, err := h.compl.RetryDates(r.Context(), 50)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load retry queue")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve retry queue")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(dates),
		"dates": dates,
	})
}

func validDate(date string) bool {
	if date == "" {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
