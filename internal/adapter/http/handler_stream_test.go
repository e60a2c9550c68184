package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource replays fixed payloads then ends the feed
type staticSource struct {
	payloads []string
	err      error
}

func (s staticSource) Subscribe(context.Context) (<-chan []byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan []byte, len(s.payloads))
	for _, p := range s.payloads {
		out <- []byte(p)
	}
	close(out)
	return out, nil
}

func streamRouter(t *testing.T, source EventSource) (http.Handler, string) {
	t.Helper()
	tokens, err := NewTokenService("s", "sqlaudit", time.Hour)
	require.NoError(t, err)
	token, err := tokens.Generate("dashboard")
	require.NoError(t, err)

	handler := NewAuditHandler(&MockStatsService{}, &MockHistoryService{}).WithEventSource(source, time.Hour)
	return NewRouter(handler, tokens, nil, nil, nil), token
}

func TestStreamActions(t *testing.T) {
	router, token := streamRouter(t, staticSource{payloads: []string{
		`{"id":"e1","type":"action_recorded","aggregate_id":"a1"}`,
		`not json`,
		`{"id":"e2","type":"run_completed","aggregate_id":"3"}`,
	}})

	rr := serve(router, "/api/v1/actions/stream", token)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t,
		"event: action_recorded\ndata: {\"id\":\"e1\",\"type\":\"action_recorded\",\"aggregate_id\":\"a1\"}\n\n"+
			"event: run_completed\ndata: {\"id\":\"e2\",\"type\":\"run_completed\",\"aggregate_id\":\"3\"}\n\n",
		rr.Body.String())
}

func TestStreamActions_FeedDown(t *testing.T) {
	router, token := streamRouter(t, staticSource{err: assert.AnError})

	rr := serve(router, "/api/v1/actions/stream", token)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStreamActions_NotRegisteredWithoutSource(t *testing.T) {
	router, token := newTestRouter(t, &MockStatsService{}, &MockHistoryService{})

	rr := serve(router, "/api/v1/actions/stream", token)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
