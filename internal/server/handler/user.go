package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/service"
)

// UserService defines the account operations the user handler requires from
// the service layer.
type UserService interface {
	GetOrCreate(ctx context.Context, address, username, avatar string) (domain.User, error)
	Profile(ctx context.Context, userID string) (domain.User, error)
	UpdateProfile(ctx context.Context, userID, username, avatar string) (domain.User, error)
	Stats(ctx context.Context, userID string) (domain.UserStats, error)
	Portfolio(ctx context.Context, userID string) (service.PortfolioView, error)
	Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error)
}

// UserHandler serves the account endpoints.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler with the given service and logger.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// connectRequest is the JSON body for wallet connection.
type connectRequest struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Connect resolves the account for a wallet address, creating it on first
// contact.
// POST /api/users
func (h *UserHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	user, err := h.users.GetOrCreate(r.Context(), req.Address, req.Username, req.Avatar)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: connect user failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetProfile returns the caller's profile.
// GET /api/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	user, err := h.users.Profile(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// updateProfileRequest is the JSON body for profile updates.
type updateProfileRequest struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// UpdateProfile rewrites the caller's mutable profile fields.
// PUT /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), uid, req.Username, req.Avatar)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GetStats returns the caller's running aggregates.
// GET /api/users/me/stats
func (h *UserHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	stats, err := h.users.Stats(r.Context(), uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetPortfolio returns the caller's active positions grouped by event.
// GET /api/users/me/portfolio
func (h *UserHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	portfolio, err := h.users.Portfolio(r.Context(), uid)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: portfolio failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// leaderboardResponse wraps the leaderboard response.
type leaderboardResponse struct {
	Entries []domain.LeaderboardEntry `json:"entries"`
}

// Leaderboard returns the top users by total winnings.
// GET /api/leaderboard
func (h *UserHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.users.Leaderboard(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: leaderboard failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Entries: entries})
}
