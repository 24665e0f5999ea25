package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/quantfold/macropool/internal/domain"
	"github.com/quantfold/macropool/internal/odds"
)

const (
	statsTTL       = 60 * time.Second
	leaderboardTTL = 60 * time.Second
	portfolioTTL   = 10 * time.Second

	leaderboardSize   = 50
	portfolioPageSize = 500
)

// UserService serves profiles, running stats, the portfolio view and the
// winnings leaderboard.
type UserService struct {
	users  domain.UserStore
	orders domain.OrderStore
	events domain.EventStore
	cache  domain.ReadCache
	calc   odds.Calculator
	logger *slog.Logger
}

func NewUserService(
	users domain.UserStore,
	orders domain.OrderStore,
	events domain.EventStore,
	cache domain.ReadCache,
	calc odds.Calculator,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:  users,
		orders: orders,
		events: events,
		cache:  cache,
		calc:   calc,
		logger: logger,
	}
}

// GetOrCreate resolves a user by wallet address, creating the account on
// first contact.
func (s *UserService) GetOrCreate(ctx context.Context, address, username, avatar string) (domain.User, error) {
	return s.users.GetOrCreate(ctx, address, username, avatar)
}

// Profile returns a user by id.
func (s *UserService) Profile(ctx context.Context, userID string) (domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile rewrites the mutable profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, userID, username, avatar string) (domain.User, error) {
	return s.users.UpdateProfile(ctx, userID, username, avatar)
}

// Stats returns the user's running aggregates, read through the view cache.
func (s *UserService) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	key := domain.KeyUserStats(userID)
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var stats domain.UserStats
		if err := json.Unmarshal(payload, &stats); err == nil {
			return stats, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("stats cache read", slog.String("error", err.Error()))
	}

	stats, err := s.users.GetStats(ctx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}

	if payload, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(ctx, key, payload, statsTTL); err != nil {
			s.logger.Warn("stats cache write", slog.String("error", err.Error()))
		}
	}
	return stats, nil
}

// PortfolioPosition is one confirmed stake with its payout estimate at
// current pool totals.
type PortfolioPosition struct {
	OrderID           string          `json:"order_id"`
	GameMode          domain.GameMode `json:"game_mode"`
	OptionName        string          `json:"option_name"`
	Amount            float64         `json:"amount"`
	CurrentOdds       float64         `json:"current_odds"`
	EstimatedWinnings float64         `json:"estimated_winnings"`
}

// PortfolioEvent groups a user's positions on one event.
type PortfolioEvent struct {
	EventID       string              `json:"event_id"`
	EventName     string              `json:"event_name"`
	EventType     domain.EventType    `json:"event_type"`
	ReleaseTime   time.Time           `json:"release_time"`
	Status        domain.EventStatus  `json:"status"`
	TotalInvested float64             `json:"total_invested"`
	Positions     []PortfolioPosition `json:"positions"`
}

// PortfolioView summarizes the capital a user has at work: every CONFIRMED
// stake grouped by event, soonest release first.
type PortfolioView struct {
	ActiveEvents  int              `json:"active_events"`
	TotalInvested float64          `json:"total_invested"`
	Events        []PortfolioEvent `json:"events"`
}

// Portfolio returns the user's active positions, read through the view
// cache. Confirmed orders only; pending stakes carry no pool money yet and
// settled ones live in the order history.
func (s *UserService) Portfolio(ctx context.Context, userID string) (PortfolioView, error) {
	key := domain.KeyUserPortfolio(userID)
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var view PortfolioView
		if err := json.Unmarshal(payload, &view); err == nil {
			return view, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("portfolio cache read", slog.String("error", err.Error()))
	}

	view, err := s.buildPortfolio(ctx, userID)
	if err != nil {
		return PortfolioView{}, err
	}

	if payload, err := json.Marshal(view); err == nil {
		if err := s.cache.Set(ctx, key, payload, portfolioTTL); err != nil {
			s.logger.Warn("portfolio cache write", slog.String("error", err.Error()))
		}
	}
	return view, nil
}

func (s *UserService) buildPortfolio(ctx context.Context, userID string) (PortfolioView, error) {
	confirmed := domain.OrderStatusConfirmed
	var orders []domain.Order
	for offset := 0; ; offset += portfolioPageSize {
		page, total, err := s.orders.ListByUser(ctx, userID, &confirmed,
			domain.ListOpts{Limit: portfolioPageSize, Offset: offset})
		if err != nil {
			return PortfolioView{}, err
		}
		orders = append(orders, page...)
		if len(page) == 0 || int64(len(orders)) >= total {
			break
		}
	}

	view := PortfolioView{Events: []PortfolioEvent{}}
	byEvent := make(map[string]*PortfolioEvent)

	for _, order := range orders {
		entry, ok := byEvent[order.EventID]
		if !ok {
			event, err := s.events.GetByID(ctx, order.EventID)
			if err != nil {
				return PortfolioView{}, err
			}
			entry = &PortfolioEvent{
				EventID:     event.ID,
				EventName:   event.Name,
				EventType:   event.Type,
				ReleaseTime: event.ReleaseTime,
				Status:      event.Status,
			}
			byEvent[order.EventID] = entry
		}

		position := PortfolioPosition{
			OrderID:  order.ID,
			GameMode: order.GameMode,
			Amount:   order.Amount,
		}
		if option, pool, err := s.events.GetOption(ctx, order.OptionID); err == nil {
			position.OptionName = option.Name
			position.CurrentOdds = s.calc.Odds(pool.TotalAmount, option.TotalAmount)
			position.EstimatedWinnings = order.Amount * position.CurrentOdds
		}

		entry.Positions = append(entry.Positions, position)
		entry.TotalInvested += order.Amount
		view.TotalInvested += order.Amount
	}

	for _, entry := range byEvent {
		view.Events = append(view.Events, *entry)
	}
	sort.Slice(view.Events, func(i, j int) bool {
		return view.Events[i].ReleaseTime.Before(view.Events[j].ReleaseTime)
	})
	view.ActiveEvents = len(view.Events)
	return view, nil
}

// Leaderboard returns the top users by total winnings, read through the view
// cache.
func (s *UserService) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	key := domain.KeyLeaderboard()
	if payload, err := s.cache.Get(ctx, key); err == nil {
		var entries []domain.LeaderboardEntry
		if err := json.Unmarshal(payload, &entries); err == nil {
			return entries, nil
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("leaderboard cache read", slog.String("error", err.Error()))
	}

	entries, err := s.users.Leaderboard(ctx, leaderboardSize)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(entries); err == nil {
		if err := s.cache.Set(ctx, key, payload, leaderboardTTL); err != nil {
			s.logger.Warn("leaderboard cache write", slog.String("error", err.Error()))
		}
	}
	return entries, nil
}
