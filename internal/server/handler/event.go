package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/service"
)

// EventReader defines the read operations the event handler requires from
// the service layer.
type EventReader interface {
	Upcoming(ctx context.Context, opts domain.ListOpts) ([]service.EventView, error)
	Detail(ctx context.Context, eventID string) (service.EventView, error)
	CanBet(ctx context.Context, eventID string) (bool, error)
}

// EventHandler serves the public event read endpoints.
type EventHandler struct {
	events EventReader
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler with the given service and logger.
func NewEventHandler(events EventReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// listEventsResponse wraps the upcoming-events response.
type listEventsResponse struct {
	Events []service.EventView `json:"events"`
}

// ListEvents returns upcoming events with live odds and countdowns.
// GET /api/events?limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	views, err := h.events.Upcoming(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if views == nil {
		views = []service.EventView{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: views})
}

// GetEvent returns a single event's view.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	view, err := h.events.Detail(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CanBet reports whether an event currently accepts stakes.
// GET /api/events/{id}/can-bet
func (h *EventHandler) CanBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	ok, err := h.events.CanBet(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"can_bet": ok})
}
