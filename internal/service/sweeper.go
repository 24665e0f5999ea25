package service

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically advances the lifecycle without operator input: it
// locks events whose betting window has passed and settles events whose
// outcome has been published.
type Sweeper struct {
	events     *EventService
	settlement *SettlementService
	interval   time.Duration
	logger     *slog.Logger
}

func NewSweeper(events *EventService, settlement *SettlementService, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		events:     events,
		settlement: settlement,
		interval:   interval,
		logger:     logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	locked, err := s.events.LockDue(ctx)
	if err != nil {
		s.logger.Error("lock due events", slog.String("error", err.Error()))
	} else if locked > 0 {
		s.logger.Info("events locked", slog.Int64("count", locked))
	}

	settled, err := s.settlement.SettlePending(ctx)
	if err != nil {
		s.logger.Error("settle pending", slog.String("error", err.Error()))
	} else if settled > 0 {
		s.logger.Info("events settled", slog.Int("count", settled))
	}
}
