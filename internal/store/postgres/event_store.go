package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/macropool/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Create inserts the event together with its pools and options in one
// transaction.
func (s *EventStore) Create(ctx context.Context, e domain.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create event: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, name, type, release_time, consensus_value,
			published_value, tolerance, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Name, string(e.Type), e.ReleaseTime, e.ConsensusValue,
		e.PublishedValue, e.Tolerance, string(e.Status), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create event %s: %w", e.ID, err)
	}

	for _, p := range e.Pools {
		_, err = tx.Exec(ctx, `
			INSERT INTO pools (id, event_id, game_mode, total_amount, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			p.ID, e.ID, string(p.GameMode), p.TotalAmount, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
		}

		for _, o := range p.Options {
			_, err = tx.Exec(ctx, `
				INSERT INTO options (id, pool_id, name, type, total_amount, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				o.ID, p.ID, o.Name, o.Type, o.TotalAmount, o.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("postgres: create option %s: %w", o.ID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create event %s: %w", e.ID, err)
	}
	return nil
}

const eventSelectCols = `id, name, type, release_time, consensus_value,
	published_value, tolerance, status, settled_at, created_at`

func scanEvent(scanner interface{ Scan(dest ...any) error }) (domain.Event, error) {
	var e domain.Event
	var typ, status string

	err := scanner.Scan(
		&e.ID, &e.Name, &typ, &e.ReleaseTime, &e.ConsensusValue,
		&e.PublishedValue, &e.Tolerance, &status, &e.SettledAt, &e.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}

	e.Type = domain.EventType(typ)
	e.Status = domain.EventStatus(status)
	return e, nil
}

// GetByID loads the event with its full pool/option tree.
func (s *EventStore) GetByID(ctx context.Context, id string) (domain.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventSelectCols+` FROM events WHERE id = $1`, id)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrNotFound
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}

	if err := s.loadPools(ctx, []*domain.Event{&e}); err != nil {
		return domain.Event{}, err
	}
	return e, nil
}

// loadPools attaches pools and options to the given events.
func (s *EventStore) loadPools(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, len(events))
	byID := make(map[string]*domain.Event, len(events))
	for i, e := range events {
		ids[i] = e.ID
		byID[e.ID] = e
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_id, game_mode, total_amount, created_at
		FROM pools WHERE event_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load pools: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Pool
		var mode string
		if err := rows.Scan(&p.ID, &p.EventID, &mode, &p.TotalAmount, &p.CreatedAt); err != nil {
			return fmt.Errorf("postgres: scan pool: %w", err)
		}
		p.GameMode = domain.GameMode(mode)

		e := byID[p.EventID]
		e.Pools = append(e.Pools, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: iterate pools: %w", err)
	}

	// Index pools only once every slice has its final backing array.
	poolIndex := make(map[string]*domain.Pool)
	for _, e := range byID {
		for i := range e.Pools {
			poolIndex[e.Pools[i].ID] = &e.Pools[i]
		}
	}

	optRows, err := s.pool.Query(ctx, `
		SELECT o.id, o.pool_id, o.name, o.type, o.total_amount, o.created_at
		FROM options o
		JOIN pools p ON p.id = o.pool_id
		WHERE p.event_id = ANY($1)
		ORDER BY o.created_at`, ids)
	if err != nil {
		return fmt.Errorf("postgres: load options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var o domain.Option
		if err := optRows.Scan(&o.ID, &o.PoolID, &o.Name, &o.Type, &o.TotalAmount, &o.CreatedAt); err != nil {
			return fmt.Errorf("postgres: scan option: %w", err)
		}
		if p, ok := poolIndex[o.PoolID]; ok {
			p.Options = append(p.Options, o)
		}
	}
	if err := optRows.Err(); err != nil {
		return fmt.Errorf("postgres: iterate options: %w", err)
	}
	return nil
}

// GetOption resolves an option and its owning pool.
func (s *EventStore) GetOption(ctx context.Context, optionID string) (domain.Option, domain.Pool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT o.id, o.pool_id, o.name, o.type, o.total_amount, o.created_at,
		       p.id, p.event_id, p.game_mode, p.total_amount, p.created_at
		FROM options o
		JOIN pools p ON p.id = o.pool_id
		WHERE o.id = $1`, optionID)

	var o domain.Option
	var p domain.Pool
	var mode string
	err := row.Scan(
		&o.ID, &o.PoolID, &o.Name, &o.Type, &o.TotalAmount, &o.CreatedAt,
		&p.ID, &p.EventID, &mode, &p.TotalAmount, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Option{}, domain.Pool{}, domain.ErrNotFound
		}
		return domain.Option{}, domain.Pool{}, fmt.Errorf("postgres: get option %s: %w", optionID, err)
	}
	p.GameMode = domain.GameMode(mode)
	return o, p, nil
}

// ListUpcoming returns OPEN/BETTING events releasing at or after now.
func (s *EventStore) ListUpcoming(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+eventSelectCols+` FROM events
		WHERE release_time >= $1 AND status IN ('OPEN', 'BETTING')
		ORDER BY release_time ASC
		LIMIT $2 OFFSET $3`, now, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list upcoming events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	refs := make([]*domain.Event, len(events))
	for i := range events {
		refs[i] = &events[i]
	}
	if err := s.loadPools(ctx, refs); err != nil {
		return nil, err
	}
	return events, nil
}

// ListSettleable returns LOCKED events whose release time has passed and
// whose published value is set, with their full pool/option tree.
func (s *EventStore) ListSettleable(ctx context.Context, now time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventSelectCols+` FROM events
		WHERE status = 'LOCKED' AND release_time <= $1 AND published_value IS NOT NULL
		ORDER BY release_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settleable events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	refs := make([]*domain.Event, len(events))
	for i := range events {
		refs[i] = &events[i]
	}
	if err := s.loadPools(ctx, refs); err != nil {
		return nil, err
	}
	return events, nil
}

// ListAwaitingOutcome returns LOCKED events whose release time has passed
// but whose published value is not recorded yet. Pools are not loaded;
// callers only need the event head to resolve the outcome.
func (s *EventStore) ListAwaitingOutcome(ctx context.Context, now time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventSelectCols+` FROM events
		WHERE status = 'LOCKED' AND release_time <= $1 AND published_value IS NULL
		ORDER BY release_time ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events awaiting outcome: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// TransitionStatus moves the event between statuses with a conditional
// update, so concurrent callers cannot both pass the same precondition.
func (s *EventStore) TransitionStatus(ctx context.Context, id string, from, to domain.EventStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("postgres: transition event %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM events WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check event %s: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("event %s is not %s: %w", id, from, domain.ErrInvalidState)
	}
	return nil
}

// LockDue moves every BETTING event whose lock time has passed to LOCKED.
// lockBefore should be now plus the lock offset.
func (s *EventStore) LockDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = 'LOCKED'
		 WHERE status = 'BETTING' AND release_time <= $1`,
		now.Add(domain.LockOffset))
	if err != nil {
		return 0, fmt.Errorf("postgres: lock due events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetPublishedValue records the released outcome value.
func (s *EventStore) SetPublishedValue(ctx context.Context, id string, value float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET published_value = $1 WHERE id = $2`, value, id)
	if err != nil {
		return fmt.Errorf("postgres: publish value for event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSettled finalizes a SETTLING event with its settlement timestamp.
func (s *EventStore) MarkSettled(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = 'SETTLED', settled_at = $1
		 WHERE id = $2 AND status = 'SETTLING'`, at, id)
	if err != nil {
		return fmt.Errorf("postgres: mark event %s settled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s is not SETTLING: %w", id, domain.ErrInvalidState)
	}
	return nil
}

// UpdateOptionBucket rewrites an option's display name and type tag.
func (s *EventStore) UpdateOptionBucket(ctx context.Context, optionID, name, typeTag string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE options SET name = $1, type = $2 WHERE id = $3`,
		name, typeTag, optionID)
	if err != nil {
		return fmt.Errorf("postgres: update option %s: %w", optionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
