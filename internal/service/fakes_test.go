package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantfold/macropool/internal/domain"
)

// memEventStore is an in-memory domain.EventStore for service tests.
type memEventStore struct {
	mu     sync.Mutex
	events map[string]*domain.Event
}

func newMemEventStore() *memEventStore {
	return &memEventStore{events: map[string]*domain.Event{}}
}

func (s *memEventStore) Create(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := event
	s.events[event.ID] = &cp
	return nil
}

func (s *memEventStore) GetByID(_ context.Context, id string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return *e, nil
}

func (s *memEventStore) GetOption(_ context.Context, optionID string) (domain.Option, domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		for _, p := range e.Pools {
			for _, o := range p.Options {
				if o.ID == optionID {
					return o, p, nil
				}
			}
		}
	}
	return domain.Option{}, domain.Pool{}, domain.ErrNotFound
}

func (s *memEventStore) ListUpcoming(_ context.Context, now time.Time, _ domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if (e.Status == domain.EventStatusOpen || e.Status == domain.EventStatusBetting) &&
			!e.ReleaseTime.Before(now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReleaseTime.Before(out[j].ReleaseTime) })
	return out, nil
}

func (s *memEventStore) ListSettleable(_ context.Context, now time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Status == domain.EventStatusLocked && !e.ReleaseTime.After(now) && e.PublishedValue != nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memEventStore) ListAwaitingOutcome(_ context.Context, now time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Status == domain.EventStatusLocked && !e.ReleaseTime.After(now) && e.PublishedValue == nil {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memEventStore) TransitionStatus(_ context.Context, id string, from, to domain.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Status != from {
		return fmt.Errorf("event %s is %s, not %s: %w", id, e.Status, from, domain.ErrInvalidState)
	}
	e.Status = to
	return nil
}

func (s *memEventStore) LockDue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.events {
		if e.Status == domain.EventStatusBetting && !now.Before(e.LockTime()) {
			e.Status = domain.EventStatusLocked
			n++
		}
	}
	return n, nil
}

func (s *memEventStore) SetPublishedValue(_ context.Context, id string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	v := value
	e.PublishedValue = &v
	return nil
}

func (s *memEventStore) MarkSettled(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Status != domain.EventStatusSettling {
		return fmt.Errorf("event %s is %s: %w", id, e.Status, domain.ErrInvalidState)
	}
	e.Status = domain.EventStatusSettled
	t := at
	e.SettledAt = &t
	return nil
}

func (s *memEventStore) UpdateOptionBucket(_ context.Context, optionID, name, typeTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		for pi := range e.Pools {
			for oi := range e.Pools[pi].Options {
				if e.Pools[pi].Options[oi].ID == optionID {
					e.Pools[pi].Options[oi].Name = name
					e.Pools[pi].Options[oi].Type = typeTag
					return nil
				}
			}
		}
	}
	return domain.ErrNotFound
}

// addConfirmedAmount mirrors what the SQL confirm transaction does to the
// aggregates.
func (s *memEventStore) addConfirmedAmount(optionID string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		for pi := range e.Pools {
			for oi := range e.Pools[pi].Options {
				if e.Pools[pi].Options[oi].ID == optionID {
					e.Pools[pi].Options[oi].TotalAmount += amount
					e.Pools[pi].TotalAmount += amount
					return
				}
			}
		}
	}
}

// memOrderStore is an in-memory domain.OrderStore. Confirm updates the event
// store's aggregates the way the SQL transaction does.
type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	hashes map[string]bool
	events *memEventStore
	users  *memUserStore
}

func newMemOrderStore(events *memEventStore, users *memUserStore) *memOrderStore {
	return &memOrderStore{
		orders: map[string]*domain.Order{},
		hashes: map[string]bool{},
		events: events,
		users:  users,
	}
}

func (s *memOrderStore) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := order
	s.orders[order.ID] = &cp
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return *o, nil
}

func (s *memOrderStore) SumActiveByUserEvent(_ context.Context, userID, eventID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, o := range s.orders {
		if o.UserID == userID && o.EventID == eventID &&
			(o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusConfirmed) {
			sum += o.Amount
		}
	}
	return sum, nil
}

func (s *memOrderStore) Confirm(_ context.Context, orderID, txHash string, at time.Time) (domain.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return domain.Order{}, domain.ErrNotFound
	}
	if s.hashes[txHash] {
		s.mu.Unlock()
		return domain.Order{}, domain.ErrDuplicateConfirmation
	}
	if o.Status != domain.OrderStatusPending {
		s.mu.Unlock()
		return domain.Order{}, fmt.Errorf("order %s is %s: %w", orderID, o.Status, domain.ErrInvalidState)
	}
	o.Status = domain.OrderStatusConfirmed
	o.TxHash = txHash
	t := at
	o.ConfirmedAt = &t
	s.hashes[txHash] = true
	confirmed := *o
	s.mu.Unlock()

	s.events.addConfirmedAmount(confirmed.OptionID, confirmed.Amount)
	s.users.recordBet(confirmed.UserID, confirmed.Amount)
	return confirmed, nil
}

func (s *memOrderStore) Cancel(_ context.Context, orderID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return fmt.Errorf("order %s is %s: %w", orderID, o.Status, domain.ErrInvalidState)
	}
	o.Status = domain.OrderStatusCancelled
	return nil
}

func (s *memOrderStore) ListConfirmedByPool(_ context.Context, poolID string) ([]domain.Order, error) {
	optionIDs := map[string]bool{}
	s.events.mu.Lock()
	for _, e := range s.events.events {
		for _, p := range e.Pools {
			if p.ID == poolID {
				for _, o := range p.Options {
					optionIDs[o.ID] = true
				}
			}
		}
	}
	s.events.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if optionIDs[o.OptionID] && o.Status == domain.OrderStatusConfirmed {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memOrderStore) ListSettledByPool(_ context.Context, poolID string) ([]domain.Order, error) {
	optionIDs := map[string]bool{}
	s.events.mu.Lock()
	for _, e := range s.events.events {
		for _, p := range e.Pools {
			if p.ID == poolID {
				for _, o := range p.Options {
					optionIDs[o.ID] = true
				}
			}
		}
	}
	s.events.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if !optionIDs[o.OptionID] {
			continue
		}
		switch o.Status {
		case domain.OrderStatusWon, domain.OrderStatusLost, domain.OrderStatusRefunded:
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memOrderStore) ApplySettlement(_ context.Context, _ string, settlements []domain.OrderSettlement, at time.Time) (int64, error) {
	s.mu.Lock()
	var applied int64
	var wins []domain.OrderSettlement
	for _, st := range settlements {
		o, ok := s.orders[st.OrderID]
		if !ok || o.Status != domain.OrderStatusConfirmed {
			continue
		}
		o.Status = st.Status
		o.Winnings = st.Winnings
		t := at
		o.SettledAt = &t
		applied++
		wins = append(wins, st)
	}
	s.mu.Unlock()

	for _, st := range wins {
		s.users.recordOutcome(st.UserID, st.Status, st.Winnings)
	}
	return applied, nil
}

func (s *memOrderStore) ListByUser(_ context.Context, userID string, status *domain.OrderStatus, opts domain.ListOpts) ([]domain.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Order
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		if status != nil && o.Status != *status {
			continue
		}
		all = append(all, *o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, total, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, total, nil
}

// memUserStore is an in-memory domain.UserStore.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*domain.User
	stats map[string]*domain.UserStats
	seq   int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users: map[string]*domain.User{},
		stats: map[string]*domain.UserStats{},
	}
}

func (s *memUserStore) GetOrCreate(_ context.Context, address, username, avatar string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Address == address {
			return *u, nil
		}
	}
	s.seq++
	u := &domain.User{
		ID:        fmt.Sprintf("user-%d", s.seq),
		Address:   address,
		Username:  username,
		Avatar:    avatar,
		CreatedAt: time.Now().UTC(),
	}
	s.users[u.ID] = u
	s.stats[u.ID] = &domain.UserStats{UserID: u.ID}
	return *u, nil
}

func (s *memUserStore) GetByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return *u, nil
}

func (s *memUserStore) UpdateProfile(_ context.Context, id, username, avatar string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	u.Username = username
	u.Avatar = avatar
	return *u, nil
}

func (s *memUserStore) GetStats(_ context.Context, userID string) (domain.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		return domain.UserStats{UserID: userID}, nil
	}
	return *st, nil
}

func (s *memUserStore) Leaderboard(_ context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LeaderboardEntry
	for id, st := range s.stats {
		u := s.users[id]
		if u == nil {
			continue
		}
		out = append(out, domain.LeaderboardEntry{
			UserID:        id,
			Address:       u.Address,
			Username:      u.Username,
			TotalBets:     st.TotalBets,
			TotalWinnings: st.TotalWinnings,
			WinRate:       st.WinRate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalWinnings > out[j].TotalWinnings })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memUserStore) recordBet(userID string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		st = &domain.UserStats{UserID: userID}
		s.stats[userID] = st
	}
	st.TotalBets++
	st.TotalAmount += amount
}

func (s *memUserStore) recordOutcome(userID string, status domain.OrderStatus, winnings float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[userID]
	if !ok {
		st = &domain.UserStats{UserID: userID}
		s.stats[userID] = st
	}
	switch status {
	case domain.OrderStatusWon:
		st.TotalWins++
		st.TotalWinnings += winnings
	case domain.OrderStatusLost:
		st.TotalLosses++
	}
	if st.TotalBets > 0 {
		st.WinRate = float64(st.TotalWins) / float64(st.TotalBets) * 100
	}
}

// memAuditStore records audit entries in memory.
type memAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries...), nil
}

// memCache is an in-memory domain.ReadCache and domain.Invalidator.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return payload, nil
}

func (c *memCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}

func (c *memCache) drop(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *memCache) InvalidateEventList(_ context.Context) error {
	c.drop(domain.KeyEventList())
	return nil
}

func (c *memCache) InvalidateEvent(ctx context.Context, eventID string) error {
	c.drop(domain.KeyEvent(eventID))
	return c.InvalidateEventList(ctx)
}

func (c *memCache) InvalidateUser(_ context.Context, userID string) error {
	c.drop("user:" + userID)
	return nil
}

func (c *memCache) InvalidateLeaderboard(_ context.Context) error {
	c.drop(domain.KeyLeaderboard())
	return nil
}

// memLimiter allows everything unless a key is explicitly exhausted.
type memLimiter struct {
	mu     sync.Mutex
	denied map[string]bool
}

func newMemLimiter() *memLimiter {
	return &memLimiter{denied: map[string]bool{}}
}

func (l *memLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.denied[key], nil
}

func (l *memLimiter) deny(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.denied[key] = true
}

// memLocks is an in-memory domain.LockManager.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: map[string]bool{}}
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// memBus records published messages per channel.
type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

var (
	_ domain.EventStore  = (*memEventStore)(nil)
	_ domain.OrderStore  = (*memOrderStore)(nil)
	_ domain.UserStore   = (*memUserStore)(nil)
	_ domain.AuditStore  = (*memAuditStore)(nil)
	_ domain.ReadCache   = (*memCache)(nil)
	_ domain.Invalidator = (*memCache)(nil)
	_ domain.RateLimiter = (*memLimiter)(nil)
	_ domain.LockManager = (*memLocks)(nil)
	_ domain.SignalBus   = (*memBus)(nil)
)
