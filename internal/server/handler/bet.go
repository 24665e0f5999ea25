package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/service"
)

// BetService defines the order-lifecycle operations the bet handler requires
// from the service layer.
type BetService interface {
	PlaceStake(ctx context.Context, userID, eventID, optionID string, amount float64) (domain.Order, error)
	ConfirmStake(ctx context.Context, orderID, userID, txHash string) (domain.Order, error)
	CancelStake(ctx context.Context, orderID, userID string) error
	OrderDetail(ctx context.Context, orderID, userID string) (service.OrderView, error)
	UserOrders(ctx context.Context, userID string, status *domain.OrderStatus, opts domain.ListOpts) ([]service.OrderView, int64, error)
}

// BetHandler serves the stake endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler with the given service and logger.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger}
}

// placeStakeRequest is the JSON body for stake placement.
type placeStakeRequest struct {
	EventID  string  `json:"event_id"`
	OptionID string  `json:"option_id"`
	Amount   float64 `json:"amount"`
}

// PlaceStake creates a PENDING order for the caller.
// POST /api/bets
func (h *BetHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req placeStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.EventID == "" || req.OptionID == "" {
		writeError(w, http.StatusBadRequest, "event_id and option_id are required")
		return
	}

	order, err := h.bets.PlaceStake(r.Context(), uid, req.EventID, req.OptionID, req.Amount)
	if err != nil {
		h.logger.InfoContext(r.Context(), "handler: place stake rejected",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// confirmStakeRequest is the JSON body for stake confirmation.
type confirmStakeRequest struct {
	TxHash string `json:"tx_hash"`
}

// ConfirmStake attaches the on-chain token to a PENDING order.
// POST /api/bets/{id}/confirm
func (h *BetHandler) ConfirmStake(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req confirmStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TxHash == "" {
		writeError(w, http.StatusBadRequest, "tx_hash is required")
		return
	}

	order, err := h.bets.ConfirmStake(r.Context(), id, uid, req.TxHash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelStake voids a PENDING order.
// DELETE /api/bets/{id}
func (h *BetHandler) CancelStake(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	if err := h.bets.CancelStake(r.Context(), id, uid); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "cancelled",
		"order_id": id,
	})
}

// GetBet returns one of the caller's orders with live odds.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	view, err := h.bets.OrderDetail(r.Context(), id, uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// listBetsResponse wraps the order-list response with the pagination total.
type listBetsResponse struct {
	Orders []service.OrderView `json:"orders"`
	Total  int64               `json:"total"`
}

// ListBets returns the caller's orders, newest first.
// GET /api/bets?status=CONFIRMED&limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var status *domain.OrderStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := domain.OrderStatus(v)
		status = &st
	}

	views, total, err := h.bets.UserOrders(r.Context(), uid, status, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bets failed",
			slog.String("user_id", uid),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if views == nil {
		views = []service.OrderView{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Orders: views, Total: total})
}
