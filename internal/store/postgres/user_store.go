package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/macropool/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, address, username, avatar, created_at`

func scanUser(scanner interface{ Scan(dest ...any) error }) (domain.User, error) {
	var u domain.User
	err := scanner.Scan(&u.ID, &u.Address, &u.Username, &u.Avatar, &u.CreatedAt)
	return u, err
}

// GetOrCreate looks a user up by wallet address, creating the user and an
// empty stats row on first sight. Concurrent first-sight calls race on the
// address unique constraint; the loser reads the winner's row.
func (s *UserStore) GetOrCreate(ctx context.Context, address, username, avatar string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE address = $1`, address)
	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("postgres: get user by address: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: begin create user: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, address, username, avatar, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO NOTHING`,
		id, address, username, avatar, now,
	); err != nil {
		return domain.User{}, fmt.Errorf("postgres: create user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_stats (user_id, updated_at)
		SELECT id, $2 FROM users WHERE address = $1
		ON CONFLICT (user_id) DO NOTHING`,
		address, now,
	); err != nil {
		return domain.User{}, fmt.Errorf("postgres: create user stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.User{}, fmt.Errorf("postgres: commit create user: %w", err)
	}

	row = s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE address = $1`, address)
	u, err = scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: reload user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user.
func (s *UserStore) GetByID(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// UpdateProfile updates the mutable profile fields.
func (s *UserStore) UpdateProfile(ctx context.Context, id, username, avatar string) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET username = $1, avatar = $2
		WHERE id = $3
		RETURNING `+userSelectCols, username, avatar, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: update user %s: %w", id, err)
	}
	return u, nil
}

// GetStats returns the user's running aggregates. A user who has never
// confirmed a stake gets zeroed stats rather than an error.
func (s *UserStore) GetStats(ctx context.Context, userID string) (domain.UserStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, total_bets, total_wins, total_losses,
		       total_amount, total_winnings, win_rate, updated_at
		FROM user_stats WHERE user_id = $1`, userID)

	var st domain.UserStats
	err := row.Scan(&st.UserID, &st.TotalBets, &st.TotalWins, &st.TotalLosses,
		&st.TotalAmount, &st.TotalWinnings, &st.WinRate, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserStats{UserID: userID}, nil
		}
		return domain.UserStats{}, fmt.Errorf("postgres: get stats for %s: %w", userID, err)
	}
	return st, nil
}

// Leaderboard returns the top users by total winnings.
func (s *UserStore) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.address, u.username,
		       st.total_bets, st.total_winnings, st.win_rate
		FROM user_stats st
		JOIN users u ON u.id = st.user_id
		ORDER BY st.total_winnings DESC, u.created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Address, &e.Username,
			&e.TotalBets, &e.TotalWinnings, &e.WinRate); err != nil {
			return nil, fmt.Errorf("postgres: scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compile-time interface check.
var _ domain.UserStore = (*UserStore)(nil)
