package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/percmarket/percolator-markets/internal/domain"
	"github.com/percmarket/percolator-markets/internal/service"
)

// StreamReader reads the durable event stream backing a pub/sub channel.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves event-stream replay so consumers that missed live
// pub/sub delivery can catch up.
type EventsHandler struct {
	reader StreamReader
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(reader StreamReader, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		reader: reader,
		logger: logHandler(logger, "events"),
	}
}

type streamEventResponse struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Replay returns events from a channel's durable stream after the given
// stream id ("0" reads from the beginning).
// GET /api/events?channel=markets&after=0&limit=100
func (h *EventsHandler) Replay(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	switch channel {
	case service.ChannelMarkets, service.ChannelBets, service.ChannelSettlements:
	default:
		writeError(w, http.StatusBadRequest, "unknown channel")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	messages, err := h.reader.StreamRead(r.Context(), channel, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stream read failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read event stream")
		return
	}

	events := make([]streamEventResponse, 0, len(messages))
	for _, msg := range messages {
		events = append(events, streamEventResponse{
			ID:    msg.ID,
			Event: json.RawMessage(msg.Payload),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"events":  events,
	})
}
