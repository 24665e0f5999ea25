// Package notify announces settlement results to operators over Telegram and
// Discord. Delivery is best effort; failures never affect settlement itself.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quantfold/macropool/internal/domain"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches settlement announcements to one or more Senders.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. With no
// senders configured every call is a no-op.
func NewNotifier(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether at least one sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// SettlementCompleted announces a settled event with its per-pool outcome
// counts.
func (n *Notifier) SettlementCompleted(ctx context.Context, report domain.SettlementReport) error {
	title := fmt.Sprintf("Settled: %s", report.EventName)

	var b strings.Builder
	fmt.Fprintf(&b, "Published %.4f (consensus %.4f)\n", report.PublishedValue, report.ConsensusValue)
	for _, p := range report.Pools {
		fmt.Fprintf(&b, "%s: pool %.2f, %d won / %d lost / %d refunded\n",
			p.GameMode, p.TotalAmount, p.Won, p.Lost, p.Refunded)
	}

	return n.dispatch(ctx, title, b.String())
}

// dispatch sends to every sender; one sender's failure does not prevent
// delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
