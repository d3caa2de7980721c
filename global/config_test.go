package global

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/global/config"
	"quizlink/service/conn"
	"quizlink/service/events"
	"quizlink/service/offline"
	"quizlink/tools/decode"
	"quizlink/tools/errs"
)

// backend answers auth:connect with success, or with auth:error when reject is set.
func backend(t *testing.T, reject string) string {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := decode.Parse(data)
			if err != nil {
				continue
			}
			var reply decode.Envelope
			switch {
			case env.Type == events.TypeAuthConnect && reject != "":
				reply = decode.NewEnvelope(events.TypeAuthError, map[string]any{"message": reject})
			case env.Type == events.TypeAuthConnect:
				reply = decode.NewEnvelope(events.TypeAuthSuccess, map[string]any{"userId": env.Payload["userId"]})
			case env.Type == events.TypeConnectionPing:
				reply = decode.NewEnvelope(events.TypeConnectionPong, nil)
			default:
				continue
			}
			b, _ := reply.Marshal()
			if ws.WriteMessage(websocket.TextMessage, b) != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) config.AppConfig {
	cfg := config.Global
	cfg.Server.URL = url
	cfg.Identity.UserID = "u1"
	cfg.Identity.Token = "opaque-token"
	cfg.Offline.Store = config.StoreMemory
	cfg.Nats.Enabled = false
	cfg.Debug.Addr = ""
	cfg.Log.Level = "error"
	return cfg
}

func TestRunConnectsUntilCancelled(t *testing.T) {
	app, err := ConfigAll(context.Background(), testConfig(backend(t, "")))
	require.NoError(t, err)
	defer app.Close()
	assert.NotEmpty(t, app.Identity().DeviceID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Conn.State() == conn.Authenticated }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, app.Conn.Subscribers(), 3, "matchmaking, battle and the event log subscribe")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsOnAuthRejection(t *testing.T) {
	app, err := ConfigAll(context.Background(), testConfig(backend(t, "bad token")))
	require.NoError(t, err)
	defer app.Close()

	err = app.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrAuth))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	c := config.Global.Offline
	c.Store = config.StoreFile
	c.Path = t.TempDir()
	q, closeStore, err := OpenQueue(ctx, c)
	require.NoError(t, err)
	defer closeStore()
	_, err = q.QueueAction(ctx, offline.ActionSendEnvelope, map[string]any{"type": "matchmaking:find"})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Size())

	c.Store = "s3"
	_, _, err = OpenStore(ctx, c)
	assert.True(t, errors.Is(err, errs.ErrInvalidState))
}

func TestCloseWithoutRun(t *testing.T) {
	app, err := ConfigAll(context.Background(), testConfig("ws://127.0.0.1:1"))
	require.NoError(t, err)
	assert.NoError(t, app.Close())
}
