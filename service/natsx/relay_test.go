package natsx

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/logger"
	"quizlink/service/conn"
	"quizlink/tools/decode"
	"quizlink/tools/errs"
)

type published struct {
	subject string
	data    []byte
	hdr     map[string]string
}

type fakeBus struct {
	mu       sync.Mutex
	pubs     []published
	handlers map[string]NatsxHandler
}

func newFakeBus() *fakeBus { return &fakeBus{handlers: map[string]NatsxHandler{}} }

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte, hdr map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{subject, data, hdr})
	return nil
}

func (b *fakeBus) Subscribe(subject, _ string, h NatsxHandler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = h
	return func() error {
		b.mu.Lock()
		delete(b.handlers, subject)
		b.mu.Unlock()
		return nil
	}, nil
}

func (b *fakeBus) deliver(subject string, data []byte, hdr map[string]string) error {
	b.mu.Lock()
	h := b.handlers[subject]
	b.mu.Unlock()
	return h(context.Background(), NatsxMessage{Subject: subject, Data: data, Header: hdr})
}

func (b *fakeBus) published() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.pubs...)
}

type sendRecorder struct {
	mu   sync.Mutex
	sent []decode.Envelope
	err  error
}

func (s *sendRecorder) Send(env decode.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return s.err
}

func TestInboundSubject(t *testing.T) {
	r := NewRelay(newFakeBus(), RelayConf{Log: logger.Nop()})
	assert.Equal(t, "quizlink.in.matchmaking.found", r.InboundSubject("matchmaking.found"))
	assert.Equal(t, "quizlink.in.chat.global.message", r.InboundSubject("chat:global:message"))
	assert.Equal(t, "quizlink.in.unknown", r.InboundSubject(""))
	assert.Equal(t, "quizlink.state", r.StateSubject())

	custom := NewRelay(newFakeBus(), RelayConf{Prefix: "dev.q", Log: logger.Nop()})
	assert.Equal(t, "dev.q.out", custom.CommandSubject())
}

func TestMirrorPublishesEnvelopes(t *testing.T) {
	bus := newFakeBus()
	r := NewRelay(bus, RelayConf{Log: logger.Nop()})
	in := make(chan decode.Envelope, 2)
	in <- decode.NewEnvelope("game.over", map[string]any{"matchId": "m1"})
	in <- decode.NewEnvelope("chat:typing:indicator", nil)
	close(in)

	r.Mirror(context.Background(), in)

	pubs := bus.published()
	require.Len(t, pubs, 2)
	assert.Equal(t, "quizlink.in.game.over", pubs[0].subject)
	assert.Equal(t, "game.over", pubs[0].hdr["Type"])
	assert.NotEmpty(t, pubs[0].hdr[HeaderMsgID])
	assert.NotEqual(t, pubs[0].hdr[HeaderMsgID], pubs[1].hdr[HeaderMsgID])
	env, err := decode.Parse(pubs[0].data)
	require.NoError(t, err)
	assert.Equal(t, "m1", env.Payload["matchId"])
}

func TestPublishState(t *testing.T) {
	bus := newFakeBus()
	r := NewRelay(bus, RelayConf{Log: logger.Nop()})
	r.PublishState(conn.Authenticated)
	pubs := bus.published()
	require.Len(t, pubs, 1)
	assert.Equal(t, "quizlink.state", pubs[0].subject)
	assert.Contains(t, string(pubs[0].data), `"state":"authenticated"`)
}

func TestCommandsForwardedOnce(t *testing.T) {
	bus := newFakeBus()
	r := NewRelay(bus, RelayConf{Log: logger.Nop()})
	rec := &sendRecorder{}
	require.NoError(t, r.ServeCommands(rec))

	body := []byte(`{"type":"matchmaking.cancel","payload":{"userId":"u1"}}`)
	hdr := map[string]string{HeaderMsgID: "c-1"}
	require.NoError(t, bus.deliver("quizlink.out", body, hdr))
	require.NoError(t, bus.deliver("quizlink.out", body, hdr))

	require.Len(t, rec.sent, 1)
	assert.Equal(t, "matchmaking.cancel", rec.sent[0].Type)
	assert.Equal(t, "u1", rec.sent[0].Payload["userId"])

	err := bus.deliver("quizlink.out", []byte(`{"payload":{}}`), map[string]string{HeaderMsgID: "c-2"})
	assert.True(t, errors.Is(err, errs.ErrInvalidState))
	assert.Error(t, bus.deliver("quizlink.out", []byte(`not json`), nil))

	require.NoError(t, r.Close())
	bus.mu.Lock()
	assert.Empty(t, bus.handlers)
	bus.mu.Unlock()
}

func TestCommandQueuedOfflinePassesThrough(t *testing.T) {
	bus := newFakeBus()
	r := NewRelay(bus, RelayConf{Log: logger.Nop()})
	rec := &sendRecorder{err: errs.ErrQueuedOffline.WrapMsg("")}
	require.NoError(t, r.ServeCommands(rec))
	err := bus.deliver("quizlink.out", []byte(`{"type":"lobby.leave","payload":{}}`), nil)
	assert.True(t, errors.Is(err, errs.ErrQueuedOffline))
}

func TestMemIdemExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	mi := &memIdem{m: map[string]time.Time{}, ttl: time.Minute, now: func() time.Time { return now }}

	seen, _ := mi.SeenOnce("a", 0)
	assert.False(t, seen)
	seen, _ = mi.SeenOnce("a", 0)
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = mi.SeenOnce("a", 0)
	assert.False(t, seen)
	assert.Len(t, mi.m, 1)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) NatsxMiddleware {
		return func(next NatsxHandler) NatsxHandler {
			return func(ctx context.Context, msg NatsxMessage) error {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		order = append(order, "h")
		return nil
	}, mw("a"), mw("b"))
	require.NoError(t, h(context.Background(), NatsxMessage{}))
	assert.Equal(t, []string{"a", "b", "h"}, order)
}

// Runs against a real server when QUIZLINK_TEST_NATS is set, e.g. nats://127.0.0.1:4222.
func TestClientRoundTrip(t *testing.T) {
	url := os.Getenv("QUIZLINK_TEST_NATS")
	if url == "" {
		t.Skip("QUIZLINK_TEST_NATS not set")
	}
	c, err := NewNatsxClient(NatsxConfig{Servers: []string{url}})
	require.NoError(t, err)
	defer c.Close()

	got := make(chan NatsxMessage, 1)
	_, err = c.Subscribe("quizlink.test.rt", "", func(_ context.Context, m NatsxMessage) error {
		got <- m
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, c.Publish(context.Background(), "quizlink.test.rt", []byte("hi"), map[string]string{"K": "v"}))

	select {
	case m := <-got:
		assert.Equal(t, "hi", string(m.Data))
		assert.Equal(t, "v", m.Header["K"])
	case <-time.After(3 * time.Second):
		t.Fatal("no message")
	}
}
