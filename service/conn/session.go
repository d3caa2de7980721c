package conn

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quizlink/service/events"
	"quizlink/tools/decode"
)

var errHeartbeatTimeout = errors.New("heartbeat timeout")

type authReply struct {
	ok  bool
	msg string
}

// session is one socket: a reader, a single writer and a heartbeat, all torn down
// together when any of them fails.
type session struct {
	ws     *websocket.Conn
	userID string
	send   chan []byte
	authCh chan authReply
	authed atomic.Bool
	seen   atomic.Int64 // unix nanos of the last inbound frame or pong

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (m *Manager) startSession(parent context.Context, ws *websocket.Conn, userID string) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		ws:     ws,
		userID: userID,
		send:   make(chan []byte, m.conf.SendBuffer),
		authCh: make(chan authReply, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.touch(m.conf.Clock())
	ws.SetPongHandler(func(string) error {
		s.touch(m.conf.Clock())
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.readLoop(s) })
	g.Go(func() error { return m.writeLoop(gctx, s) })
	g.Go(func() error { return m.heartbeat(gctx, s) })
	g.Go(func() error {
		<-gctx.Done()
		// 解除 ReadMessage 阻塞
		_ = ws.Close()
		return nil
	})
	go func() {
		s.err = g.Wait()
		cancel()
		close(s.done)
	}()
	return s
}

func (s *session) touch(now time.Time) { s.seen.Store(now.UnixNano()) }

func (s *session) lastSeen() time.Time { return time.Unix(0, s.seen.Load()) }

// enqueue hands a frame to the writer; false when the session is gone or the
// writer buffer is full.
func (s *session) enqueue(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

func (s *session) close() {
	s.cancel()
	<-s.done
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (m *Manager) readLoop(s *session) error {
	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			m.logReadErr(s, err)
			return err
		}
		s.touch(m.conf.Clock())
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		env, err := decode.Parse(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			m.log.Debug("drop unparseable frame", zap.ByteString("sample", sample), zap.Error(err))
			continue
		}
		if env.Type == events.TypeConnectionPong {
			continue
		}
		if isReply, ok := events.IsAuthReply(env.Type); isReply {
			if ok {
				s.authed.Store(true)
			}
			select {
			case s.authCh <- authReply{ok: ok, msg: events.AuthErrorMessage(env)}:
			default:
			}
			continue
		}
		// 重连时 auth:success 之前的帧不投递
		if !s.authed.Load() {
			continue
		}
		m.conf.Observer.Received(env.Type)
		m.hub.publish(env)
	}
}

func (m *Manager) logReadErr(s *session, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		m.log.Info("peer closed", zap.String("user", s.userID), zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		m.log.Warn("read timeout", zap.String("user", s.userID), zap.Error(err))
	default:
		m.log.Debug("read error", zap.String("user", s.userID), zap.Error(err))
	}
}

func (m *Manager) writeLoop(ctx context.Context, s *session) error {
	for {
		select {
		case <-ctx.Done():
			_ = s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case b := <-s.send:
			_ = s.ws.SetWriteDeadline(time.Now().Add(m.conf.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				m.log.Debug("write error", zap.String("user", s.userID), zap.Error(err))
				return err
			}
		}
	}
}

// heartbeat sends connection.ping plus a control ping every PingEvery and fails
// the session once nothing was heard for HeartbeatTimeout.
func (m *Manager) heartbeat(ctx context.Context, s *session) error {
	ping := time.NewTicker(m.conf.PingEvery)
	defer ping.Stop()
	checkEvery := m.conf.HeartbeatTimeout / 4
	if checkEvery < 10*time.Millisecond {
		checkEvery = 10 * time.Millisecond
	}
	check := time.NewTicker(checkEvery)
	defer check.Stop()

	pingFrame, _ := events.Ping(s.userID).Marshal()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if !s.authed.Load() {
				continue
			}
			if s.enqueue(pingFrame) {
				m.conf.Observer.Sent(events.TypeConnectionPing)
			}
			_ = s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.conf.WriteTimeout))
		case <-check.C:
			if idle := m.conf.Clock().Sub(s.lastSeen()); idle > m.conf.HeartbeatTimeout {
				m.log.Warn("heartbeat timeout, forcing reconnect", zap.String("user", s.userID), zap.Duration("idle", idle))
				return errHeartbeatTimeout
			}
		}
	}
}
