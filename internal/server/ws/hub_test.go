package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/domain"
)

type chanBus struct {
	mu      sync.Mutex
	ch      chan []byte
	history []domain.StreamMessage
	after   string
	count   int
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(_ context.Context, _ string, after string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.after, b.count = after, count
	return b.history, nil
}

func (b *chanBus) lastRead() (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.after, b.count
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestHubRelaysBusMessages(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub := NewHub(bus, Config{Channels: []string{"events"}, ReplicaID: "r1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dial(t, srv)

	_, hello, err := conn.ReadMessage()
	require.NoError(t, err)
	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(hello, &env))
	assert.Equal(t, "hello", env.Type)
	assert.Equal(t, "r1", env.Payload["replica_id"])

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	bus.ch <- []byte(`{"type":"market_settled"}`)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"market_settled"}`, string(msg))
}

func TestHubReplaysStreamHistory(t *testing.T) {
	bus := &chanBus{
		ch: make(chan []byte),
		history: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"type":"markets_created"}`)},
			{ID: "2-0", Payload: []byte(`not json`)},
			{ID: "3-0", Payload: []byte(`{"type":"sessions_finalized"}`)},
		},
	}
	hub := NewHub(bus, Config{Stream: "pipeline_events", ReplayLimit: 10}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv)

	_, _, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"replay","count":500}`)))

	var got []frame
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(msg, &f))
		if f.Type == "replay_done" {
			break
		}
		got = append(got, f)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "1-0", got[0].ID)
	assert.JSONEq(t, `{"type":"sessions_finalized"}`, string(got[1].Payload))
	after, count := bus.lastRead()
	assert.Equal(t, "0", after)
	assert.Equal(t, 10, count)
}

func TestHubReplayDisabledWithoutStream(t *testing.T) {
	hub := NewHub(&chanBus{ch: make(chan []byte)}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv)

	_, _, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"replay"}`)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","payload":"replay disabled"}`, string(msg))
}

func TestHubRejectsClientsAfterShutdown(t *testing.T) {
	hub := NewHub(&chanBus{ch: make(chan []byte)}, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	conn := dial(t, srv)

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Zero(t, hub.ClientCount())
}

func TestConnWantsWildcard(t *testing.T) {
	c := &conn{subs: map[string]bool{"events:*": true, "audit": true}}
	assert.True(t, c.wants("events:settlement"))
	assert.True(t, c.wants("audit"))
	assert.False(t, c.wants("other"))

	c.handle(command{Action: "unsubscribe", Channels: []string{"audit"}})
	assert.False(t, c.wants("audit"))
}
