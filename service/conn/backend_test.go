package conn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizlink/service/events"
	"quizlink/tools/decode"
)

// fakeBackend is a minimal game server: it answers auth:connect and records
// every envelope it receives.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	dials    atomic.Int32
	refuse   atomic.Bool // answer upgrades with 503
	rejectAs atomic.Value
	mute     atomic.Bool // after auth, stop reading so pings go unanswered

	mu    sync.Mutex
	conns []*backendConn

	received chan decode.Envelope
	quit     chan struct{}
}

type backendConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *backendConn) write(env decode.Envelope) error {
	b, _ := env.Marshal()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:        t,
		received: make(chan decode.Envelope, 256),
		quit:     make(chan struct{}),
	}
	b.rejectAs.Store("")
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.refuse.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.dials.Add(1)
		c := &backendConn{ws: ws}
		b.mu.Lock()
		b.conns = append(b.conns, c)
		b.mu.Unlock()
		b.serve(c)
	}))
	t.Cleanup(func() {
		close(b.quit)
		b.dropAll()
		b.srv.Close()
	})
	return b
}

func (b *fakeBackend) url() string { return "ws" + strings.TrimPrefix(b.srv.URL, "http") }

func (b *fakeBackend) serve(c *backendConn) {
	defer c.ws.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := decode.Parse(data)
		if err != nil {
			continue
		}
		if env.Type == events.TypeAuthConnect {
			if reason := b.rejectAs.Load().(string); reason != "" {
				_ = c.write(decode.NewEnvelope(events.TypeAuthError, map[string]any{"message": reason}))
				continue
			}
			_ = c.write(decode.NewEnvelope(events.TypeAuthSuccess, map[string]any{"userId": decode.String(env.Payload, "userId", "")}))
			if b.mute.Load() {
				<-b.quit
				return
			}
		}
		if env.Type == events.TypeConnectionPing {
			_ = c.write(decode.NewEnvelope(events.TypeConnectionPong, nil))
		}
		select {
		case b.received <- env:
		default:
		}
	}
}

// push writes env to the most recent connection.
func (b *fakeBackend) push(env decode.Envelope) error {
	b.mu.Lock()
	c := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	return c.write(env)
}

func (b *fakeBackend) dropAll() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// next waits for the next received envelope of type typ.
func (b *fakeBackend) next(t *testing.T, typ string, within time.Duration) decode.Envelope {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env := <-b.received:
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("backend never received %s", typ)
			return decode.Envelope{}
		}
	}
}
