package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/retropick/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	got    chan struct{}
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	r.titles = append(r.titles, title)
	r.mu.Unlock()
	if r.got != nil {
		r.got <- struct{}{}
	}
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifyFiltersAndIsolatesSenders(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, []string{domain.EventMarketSettled}, nil)

	require.NoError(t, n.Notify(context.Background(), domain.EventRunCompleted, "t", "m"))
	assert.Empty(t, good.titles)

	err := n.Notify(context.Background(), domain.EventMarketSettled, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestEmitDeliversThroughRun(t *testing.T) {
	s := &recordingSender{name: "s", got: make(chan struct{}, 1)}
	n := NewNotifier([]Sender{s}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()

	n.Emit(ctx, domain.PipelineEvent{Type: domain.EventMarketCreated, TriggerID: "cron:create:1"})
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	cancel()
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, []string{"Market created"}, s.titles)
}

func TestEmitDropsWhenQueueFull(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := NewNotifier([]Sender{s}, nil, nil)
	for range defaultQueue + 5 {
		n.Emit(context.Background(), domain.PipelineEvent{Type: domain.EventRunCompleted})
	}
	assert.Len(t, n.queue, defaultQueue)
}

func TestFlushDrainsQueue(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := NewNotifier([]Sender{s}, nil, nil)
	n.Emit(context.Background(), domain.PipelineEvent{Type: domain.EventMarketCreated})
	n.Emit(context.Background(), domain.PipelineEvent{Type: domain.EventMarketSettled})

	n.Flush(context.Background())
	assert.Len(t, s.titles, 2)
	assert.Empty(t, n.queue)
}

func TestMessageSkipsEmptyFields(t *testing.T) {
	msg := Message(domain.PipelineEvent{TriggerID: "log:0x1:0", Status: "success", TxHash: "0xabc"})
	assert.Equal(t, "trigger: log:0x1:0\nstatus: success\ntx: 0xabc", msg)
}

func TestTelegramAndDiscordPayloads(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]string
		_ = json.Unmarshal(raw, &m)
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, m)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42")
	tg.apiBase = srv.URL
	require.NoError(t, tg.Send(context.Background(), "Title", "body"))

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(context.Background(), "Title", "body"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Equal(t, "/botTOKEN/sendMessage", paths[0])
	assert.Equal(t, "42", bodies[0]["chat_id"])
	assert.Equal(t, "*Title*\nbody", bodies[0]["text"])
	assert.Equal(t, "**Title**\nbody", bodies[1]["content"])
}

func TestSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	closed        bool
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisherRoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	p := newAMQPPublisher(ch, AMQPConfig{Exchange: "pipeline"}, nil)
	at := time.Unix(1_700_000_000, 0).UTC()

	p.Emit(context.Background(), domain.PipelineEvent{
		Type: domain.EventMarketSettled, TriggerID: "log:0x1:2", Key: "7", Status: "success", At: at,
	})
	assert.Equal(t, "pipeline", ch.exchange)
	assert.Equal(t, "retropick.market_settled", ch.key)
	assert.Equal(t, "log:0x1:2/market_settled/7", ch.msg.MessageId)
	assert.Equal(t, uint8(amqp.Persistent), ch.msg.DeliveryMode)

	var ev domain.PipelineEvent
	require.NoError(t, json.Unmarshal(ch.msg.Body, &ev))
	assert.Equal(t, "7", ev.Key)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
