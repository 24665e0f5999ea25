package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/macropool/internal/domain"
)

// EventAdmin defines the lifecycle operations the admin handler requires.
type EventAdmin interface {
	CreateEvent(ctx context.Context, name string, typ domain.EventType, releaseTime time.Time, consensus, tolerance float64) (domain.Event, error)
	MaterializeRanges(ctx context.Context, eventID string, centerPrice, rangeWidth float64) error
	OpenBetting(ctx context.Context, eventID string) error
	Lock(ctx context.Context, eventID string) error
	PublishOutcome(ctx context.Context, eventID string, value float64) error
}

// Settler defines the settlement operations the admin handler requires.
type Settler interface {
	Settle(ctx context.Context, eventID string, inputs domain.SettlementInputs) (domain.SettlementReport, error)
	SettlePending(ctx context.Context) (int, error)
}

// AdminHandler serves the operator endpoints behind the admin credential.
type AdminHandler struct {
	events     EventAdmin
	settlement Settler
	audit      domain.AuditStore
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given services.
func NewAdminHandler(events EventAdmin, settlement Settler, audit domain.AuditStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		events:     events,
		settlement: settlement,
		audit:      audit,
		logger:     logger,
	}
}

// createEventRequest is the JSON body for event creation.
type createEventRequest struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	ReleaseTime    string  `json:"release_time"` // RFC 3339
	ConsensusValue float64 `json:"consensus_value"`
	Tolerance      float64 `json:"tolerance"`
}

// CreateEvent registers a scheduled data release with its three pools.
// POST /api/admin/events
func (h *AdminHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "name and type are required")
		return
	}

	releaseTime, err := time.Parse(time.RFC3339, req.ReleaseTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "release_time must be RFC 3339")
		return
	}
	if !releaseTime.After(time.Now()) {
		writeError(w, http.StatusBadRequest, "release_time must be in the future")
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req.Name, domain.EventType(req.Type),
		releaseTime, req.ConsensusValue, req.Tolerance)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create event failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// materializeRangesRequest is the JSON body for jackpot range setup.
type materializeRangesRequest struct {
	CenterPrice float64 `json:"center_price"`
	RangeWidth  float64 `json:"range_width"`
}

// MaterializeRanges freezes the jackpot pool's price ranges.
// POST /api/admin/events/{id}/ranges
func (h *AdminHandler) MaterializeRanges(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req materializeRangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.events.MaterializeRanges(r.Context(), id, req.CenterPrice, req.RangeWidth); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ranges set", "event_id": id})
}

// OpenBetting transitions an event from OPEN to BETTING.
// POST /api/admin/events/{id}/open
func (h *AdminHandler) OpenBetting(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.events.OpenBetting(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "betting open", "event_id": id})
}

// LockEvent closes an event's betting window ahead of the sweeper.
// POST /api/admin/events/{id}/lock
func (h *AdminHandler) LockEvent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.events.Lock(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked", "event_id": id})
}

// publishOutcomeRequest is the JSON body for outcome publication.
type publishOutcomeRequest struct {
	Value float64 `json:"value"`
}

// PublishOutcome records the released value for an event.
// POST /api/admin/events/{id}/outcome
func (h *AdminHandler) PublishOutcome(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req publishOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.events.PublishOutcome(r.Context(), id, req.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "outcome published", "event_id": id, "value": req.Value})
}

// settleRequest is the JSON body for manual settlement, carrying the
// external observations when the oracle is not configured.
type settleRequest struct {
	VolatilityPct *float64 `json:"volatility_pct"`
	SamplePrice   *float64 `json:"sample_price"`
}

// SettleEvent settles one event with operator-supplied observations.
// POST /api/admin/events/{id}/settle
func (h *AdminHandler) SettleEvent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := h.settlement.Settle(r.Context(), id, domain.SettlementInputs{
		VolatilityPct: req.VolatilityPct,
		SamplePrice:   req.SamplePrice,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: settle failed",
			slog.String("event_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SettlePending runs a settlement sweep over every settleable event.
// POST /api/admin/settle-pending
func (h *AdminHandler) SettlePending(w http.ResponseWriter, r *http.Request) {
	settled, err := h.settlement.SettlePending(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: settle pending failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": settled})
}

// auditResponse wraps the audit-log response.
type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListAudit returns the audit log, newest first.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
