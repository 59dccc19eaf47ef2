// Package notify alerts operators about market lifecycle events. Alerts
// fan out to every configured channel (Telegram, Discord); delivery is
// best-effort and never blocks settlement.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// Event types operators can subscribe to.
const (
	EventMarketResolved  = "market.resolved"
	EventMarketCancelled = "market.cancelled"
	EventMarketSettled   = "market.settled"
	EventInsolvency      = "market.insolvency"
)

// Sender is one delivery channel for operator alerts.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender, e.g. "telegram".
	Name() string
}

// Notifier dispatches alerts to its senders, filtered by event type. An
// empty event list means every event type is delivered.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over the given senders, forwarding only
// the listed event types (all of them when events is empty).
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// MarketResolved alerts that the oracle resolved a market.
func (n *Notifier) MarketResolved(ctx context.Context, m *domain.Market) {
	n.notify(ctx, EventMarketResolved,
		fmt.Sprintf("Market %d resolved: %s", m.ID, m.Outcome),
		fmt.Sprintf("%s\nyes pool %d, no pool %d", m.Question, m.YesPool, m.NoPool))
}

// MarketCancelled alerts that a market was cancelled and refunds opened.
func (n *Notifier) MarketCancelled(ctx context.Context, m *domain.Market) {
	n.notify(ctx, EventMarketCancelled,
		fmt.Sprintf("Market %d cancelled", m.ID),
		fmt.Sprintf("%s\nall deposits refundable", m.Question))
}

// MarketSettled alerts that every winning claim on a market has paid out.
func (n *Notifier) MarketSettled(ctx context.Context, m *domain.Market) {
	n.notify(ctx, EventMarketSettled,
		fmt.Sprintf("Market %d fully settled", m.ID),
		fmt.Sprintf("%d settlements, %d paid out", m.SettlementsCount, m.SettledAmount))
}

// Insolvency alerts that a market resolved with a vault shortfall and
// winners will be paid at a reduced ratio.
func (n *Notifier) Insolvency(ctx context.Context, m *domain.Market, vaultBalance uint64) {
	n.notify(ctx, EventInsolvency,
		fmt.Sprintf("Market %d resolved insolvent", m.ID),
		fmt.Sprintf("vault %d covers claims at %d bps", vaultBalance, m.HRatioBps))
}

// notify forwards the alert to every sender if the event type passes the
// filter. Individual sender failures are logged, never returned: alerts
// must not fail the operation that raised them.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}
