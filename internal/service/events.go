package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/percmarket/percolator-markets/internal/domain"
)

// Pub/sub channels carrying lifecycle events. Each channel doubles as a
// durable stream of the same name.
const (
	ChannelMarkets     = "markets"
	ChannelBets        = "bets"
	ChannelSettlements = "settlements"
)

// Event types carried on the bus.
const (
	EventMarketCreated   = "market.created"
	EventMarketClosed    = "market.closed"
	EventMarketResolved  = "market.resolved"
	EventMarketCancelled = "market.cancelled"
	EventMarketSettled   = "market.settled"
	EventBetPlaced       = "bet.placed"
	EventPositionSettled = "position.settled"
	EventPositionRefund  = "position.refunded"
)

// Event is the wire format for bus messages.
type Event struct {
	Type        string         `json:"type"`
	MarketID    uint64         `json:"market_id"`
	Participant string         `json:"participant,omitempty"`
	At          time.Time      `json:"at"`
	Data        map[string]any `json:"data,omitempty"`
}

// publishEvent sends the event over pub/sub and appends it to the durable
// stream of the same name. Event delivery is best-effort: a bus outage is
// logged and never fails the ledger operation that raised the event.
func publishEvent(ctx context.Context, bus domain.EventBus, logger *slog.Logger, channel string, ev Event) {
	if bus == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.ErrorContext(ctx, "marshal event", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}

	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "publish event",
			slog.String("channel", channel),
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.StreamAppend(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "append event to stream",
			slog.String("channel", channel),
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}
