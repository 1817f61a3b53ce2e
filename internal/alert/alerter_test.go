package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingAlerter records delivered alerts.
type countingAlerter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (c *countingAlerter) Send(_ context.Context, _ Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.count++
	return nil
}

func (c *countingAlerter) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func flapAlert(clientID string) Alert {
	return Alert{
		Type:     AlertTypeSessionFlap,
		ClientID: clientID,
		Title:    "session tier is flapping",
		Message:  "tier changed repeatedly",
	}
}

func TestMultiAlerter_FansOut(t *testing.T) {
	a := &countingAlerter{}
	b := &countingAlerter{}
	m := NewMultiAlerter(time.Minute, testLogger(), a, b)

	require.NoError(t, m.Send(context.Background(), flapAlert("client-1")))
	assert.Equal(t, 1, a.sent())
	assert.Equal(t, 1, b.sent())
}

func TestMultiAlerter_CooldownSuppressesDuplicates(t *testing.T) {
	a := &countingAlerter{}
	m := NewMultiAlerter(time.Minute, testLogger(), a)
	ctx := context.Background()

	require.NoError(t, m.Send(ctx, flapAlert("client-1")))
	require.NoError(t, m.Send(ctx, flapAlert("client-1")))
	assert.Equal(t, 1, a.sent(), "duplicate within cooldown is suppressed")

	// A different client is a different cooldown key.
	require.NoError(t, m.Send(ctx, flapAlert("client-2")))
	assert.Equal(t, 2, a.sent())

	// A different alert type for the same client is also separate.
	require.NoError(t, m.Send(ctx, Alert{Type: AlertTypeFleetDegraded}))
	assert.Equal(t, 3, a.sent())
}

func TestMultiAlerter_ReturnsFirstErrorButTriesAll(t *testing.T) {
	failed := &countingAlerter{err: errors.New("channel down")}
	ok := &countingAlerter{}
	m := NewMultiAlerter(0, testLogger(), failed, ok)

	err := m.Send(context.Background(), flapAlert("client-1"))
	assert.ErrorContains(t, err, "channel down")
	assert.Equal(t, 1, ok.sent(), "healthy channel still receives the alert")
}

func TestSlackAlerter_Send(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackAlerter(srv.URL)
	a := flapAlert("client-1")
	a.Fields = map[string]string{"changes": "4"}

	require.NoError(t, s.Send(context.Background(), a))
	assert.Contains(t, payload["text"], "SESSION_FLAP")
	assert.Contains(t, payload["text"], "client-1")
	assert.Contains(t, payload["text"], "changes")
}

func TestSlackAlerter_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSlackAlerter(srv.URL).Send(context.Background(), flapAlert("client-1"))
	assert.ErrorContains(t, err, "502")
}

func TestWebhookAlerter_Send(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh := NewWebhookAlerter(srv.URL)
	require.NoError(t, wh.Send(context.Background(), flapAlert("client-1")))

	assert.Equal(t, string(AlertTypeSessionFlap), payload["type"])
	assert.Equal(t, "client-1", payload["client_id"])
}

func TestNoopAlerter(t *testing.T) {
	var n NoopAlerter
	assert.NoError(t, n.Send(context.Background(), flapAlert("client-1")))
}
