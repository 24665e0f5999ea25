package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/macropool/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique-constraint violations.
const pgUniqueViolation = "23505"

// OrderStore implements domain.OrderStore using PostgreSQL. Confirm and
// ApplySettlement are the two money-mutating transactions; each runs as a
// single pgx.Tx so no partial state is ever observable.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new PENDING order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, user_id, event_id, option_id, game_mode,
			amount, status, winnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.UserID, o.EventID, o.OptionID, string(o.GameMode),
		o.Amount, string(o.Status), o.Winnings, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, user_id, event_id, option_id, game_mode,
	amount, status, COALESCE(tx_hash, ''), winnings,
	created_at, confirmed_at, settled_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var mode, status string

	err := scanner.Scan(
		&o.ID, &o.UserID, &o.EventID, &o.OptionID, &mode,
		&o.Amount, &status, &o.TxHash, &o.Winnings,
		&o.CreatedAt, &o.ConfirmedAt, &o.SettledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.GameMode = domain.GameMode(mode)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// GetByID retrieves a single order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// SumActiveByUserEvent returns the PENDING+CONFIRMED stake total for a user
// on an event.
func (s *OrderStore) SumActiveByUserEvent(ctx context.Context, userID, eventID string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM orders
		WHERE user_id = $1 AND event_id = $2
		  AND status IN ('PENDING', 'CONFIRMED')`,
		userID, eventID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum active orders: %w", err)
	}
	return total, nil
}

// Confirm atomically moves a PENDING order to CONFIRMED, attaches the
// confirmation token, increments the owning option and pool totals, and
// upserts the user's stats. The partial unique index on tx_hash turns a
// concurrent reuse of the token into ErrDuplicateConfirmation; the status
// guard on the first UPDATE turns a concurrent double-confirm of the same
// order into ErrInvalidState.
func (s *OrderStore) Confirm(ctx context.Context, orderID, txHash string, at time.Time) (domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE orders
		SET status = 'CONFIRMED', tx_hash = $1, confirmed_at = $2
		WHERE id = $3 AND status = 'PENDING'
		RETURNING `+orderSelectCols, txHash, at, orderID)

	o, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
			return domain.Order{}, domain.ErrDuplicateConfirmation
		case errors.Is(err, pgx.ErrNoRows):
			return domain.Order{}, s.classifyMissingPending(ctx, orderID)
		default:
			return domain.Order{}, fmt.Errorf("postgres: confirm order %s: %w", orderID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE options SET total_amount = total_amount + $1 WHERE id = $2`,
		o.Amount, o.OptionID,
	); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: confirm order %s: bump option: %w", orderID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pools SET total_amount = total_amount + $1
		WHERE id = (SELECT pool_id FROM options WHERE id = $2)`,
		o.Amount, o.OptionID,
	); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: confirm order %s: bump pool: %w", orderID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_stats (user_id, total_bets, total_amount, updated_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			total_bets   = user_stats.total_bets + 1,
			total_amount = user_stats.total_amount + EXCLUDED.total_amount,
			updated_at   = EXCLUDED.updated_at`,
		o.UserID, o.Amount, at,
	); err != nil {
		return domain.Order{}, fmt.Errorf("postgres: confirm order %s: upsert stats: %w", orderID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.Order{}, domain.ErrDuplicateConfirmation
		}
		return domain.Order{}, fmt.Errorf("postgres: commit confirm %s: %w", orderID, err)
	}
	return o, nil
}

// classifyMissingPending explains why the PENDING-guarded update matched
// nothing: the order is gone or it is in the wrong state.
func (s *OrderStore) classifyMissingPending(ctx context.Context, orderID string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: check order %s: %w", orderID, err)
	}
	return fmt.Errorf("order %s is %s, not PENDING: %w", orderID, status, domain.ErrInvalidState)
}

// Cancel voids a PENDING order. PENDING orders never touched pool totals, so
// there is nothing to compensate.
func (s *OrderStore) Cancel(ctx context.Context, orderID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = 'CANCELLED', settled_at = $1
		WHERE id = $2 AND status = 'PENDING'`, at, orderID)
	if err != nil {
		return fmt.Errorf("postgres: cancel order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissingPending(ctx, orderID)
	}
	return nil
}

// ListConfirmedByPool returns the CONFIRMED orders under a pool's options.
func (s *OrderStore) ListConfirmedByPool(ctx context.Context, poolID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderSelectCols+` FROM orders
		WHERE status = 'CONFIRMED'
		  AND option_id IN (SELECT id FROM options WHERE pool_id = $1)
		ORDER BY created_at`, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list confirmed orders for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ListSettledByPool returns the terminally settled orders under a pool's
// options.
func (s *OrderStore) ListSettledByPool(ctx context.Context, poolID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderSelectCols+` FROM orders
		WHERE status IN ('WON', 'LOST', 'REFUNDED')
		  AND option_id IN (SELECT id FROM options WHERE pool_id = $1)
		ORDER BY created_at`, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled orders for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// ApplySettlement applies the computed outcomes for one pool in a single
// transaction. Each order update is guarded on CONFIRMED, so an order already
// settled by a previous attempt is skipped along with its stats propagation;
// retries are therefore idempotent. Returns how many orders transitioned.
func (s *OrderStore) ApplySettlement(ctx context.Context, poolID string, settlements []domain.OrderSettlement, at time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin settlement for pool %s: %w", poolID, err)
	}
	defer tx.Rollback(ctx)

	var applied int64
	for _, st := range settlements {
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET status = $1, winnings = $2, settled_at = $3
			WHERE id = $4 AND status = 'CONFIRMED'`,
			string(st.Status), st.Winnings, at, st.OrderID)
		if err != nil {
			return 0, fmt.Errorf("postgres: settle order %s: %w", st.OrderID, err)
		}
		if tag.RowsAffected() == 0 {
			// Already terminal from a previous attempt.
			continue
		}
		applied++

		if err := applyStats(ctx, tx, st, at); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit settlement for pool %s: %w", poolID, err)
	}
	return applied, nil
}

// applyStats propagates one settled order into user_stats. Refunds leave the
// win/loss counters untouched.
func applyStats(ctx context.Context, tx pgx.Tx, st domain.OrderSettlement, at time.Time) error {
	var err error
	switch st.Status {
	case domain.OrderStatusWon:
		_, err = tx.Exec(ctx, `
			UPDATE user_stats SET
				total_wins     = total_wins + 1,
				total_winnings = total_winnings + $1,
				win_rate       = (total_wins + 1)::double precision / GREATEST(total_bets, 1) * 100,
				updated_at     = $2
			WHERE user_id = $3`, st.Winnings, at, st.UserID)
	case domain.OrderStatusLost:
		_, err = tx.Exec(ctx, `
			UPDATE user_stats SET
				total_losses = total_losses + 1,
				win_rate     = total_wins::double precision / GREATEST(total_bets, 1) * 100,
				updated_at   = $1
			WHERE user_id = $2`, at, st.UserID)
	case domain.OrderStatusRefunded:
		// No win/loss counters touched on refund.
	default:
		return fmt.Errorf("settlement status %s for order %s: %w",
			st.Status, st.OrderID, domain.ErrInvalidState)
	}
	if err != nil {
		return fmt.Errorf("postgres: stats for order %s: %w", st.OrderID, err)
	}
	return nil
}

// ListByUser returns the user's orders, newest first, with the total count.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, status *domain.OrderStatus, opts domain.ListOpts) ([]domain.Order, int64, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	where := `WHERE user_id = $1`
	args := []any{userID}
	if status != nil {
		where += ` AND status = $2`
		args = append(args, string(*status))
	}

	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count user orders: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderSelectCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list user orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
