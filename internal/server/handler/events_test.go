package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/percmarket/percolator-markets/internal/domain"
)

type stubStreamReader struct {
	messages []domain.StreamMessage
	stream   string
	lastID   string
	count    int
	err      error
}

func (s *stubStreamReader) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	s.stream = stream
	s.lastID = lastID
	s.count = count
	return s.messages, s.err
}

func TestEventsReplay(t *testing.T) {
	reader := &stubStreamReader{
		messages: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"type":"market.created","market_id":1}`)},
			{ID: "2-0", Payload: []byte(`{"type":"bet.placed","market_id":1}`)},
		},
	}
	h := NewEventsHandler(reader, discard)

	req := httptest.NewRequest(http.MethodGet, "/api/events?channel=markets&after=1-0&limit=10", nil)
	rec := httptest.NewRecorder()
	h.Replay(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "markets", reader.stream)
	assert.Equal(t, "1-0", reader.lastID)
	assert.Equal(t, 10, reader.count)

	var resp struct {
		Channel string `json:"channel"`
		Events  []struct {
			ID    string          `json:"id"`
			Event json.RawMessage `json:"event"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "1-0", resp.Events[0].ID)
	assert.JSONEq(t, `{"type":"bet.placed","market_id":1}`, string(resp.Events[1].Event))
}

func TestEventsReplay_Validation(t *testing.T) {
	h := NewEventsHandler(&stubStreamReader{}, discard)

	tests := []struct {
		name   string
		target string
	}{
		{"unknown channel", "/api/events?channel=orders"},
		{"missing channel", "/api/events"},
		{"bad limit", "/api/events?channel=markets&limit=nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			h.Replay(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
