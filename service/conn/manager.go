// Package conn owns the single websocket to the game backend: dialing, the
// auth:connect handshake, heartbeats, reconnection and fan-out of inbound
// envelopes to subscribers.
package conn

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizlink/service/events"
	"quizlink/service/offline"
	"quizlink/tools/decode"
	"quizlink/tools/errs"
	"quizlink/tools/safe"
	"quizlink/tools/security"
)

const handoffTimeout = 3 * time.Second

// Manager is created once per process and shared by handle. Only the owner
// calls Close.
type Manager struct {
	conf ManagerConf
	log  *zap.Logger
	hub  *hub

	ctx    context.Context
	cancel context.CancelFunc

	connectMu sync.Mutex // 串行化 Connect
	drainMu   sync.Mutex

	mu        sync.Mutex
	state     State
	id        Identity
	sess      *session
	supCancel context.CancelFunc
	supDone   chan struct{}
	listeners []func(State)
	closed    bool

	errCh     chan error
	closeOnce sync.Once
}

func New(conf ManagerConf) *Manager {
	conf.norm()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		conf:   conf,
		log:    conf.Log,
		ctx:    ctx,
		cancel: cancel,
		errCh:  make(chan error, 8),
	}
	m.hub = newHub(conf.Observer.SubscriberDropped, m.log)
	return m
}

// Connect authenticates id, dialing when needed. It is a no-op when already
// authenticated with the same identity. Auth failures match errs.ErrAuth and are
// not retried; after a successful Connect the manager reconnects on its own.
func (m *Manager) Connect(ctx context.Context, id Identity) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.ErrClosed
	}
	if m.state == Authenticated && m.id == id && m.sess != nil && m.sess.alive() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := security.CheckExpiry(id.Token, m.conf.Clock()); err != nil {
		return errs.ErrAuth.WrapMsg(err.Error(), "user", id.UserID)
	}

	m.stopSupervisor()

	m.mu.Lock()
	m.id = id
	m.mu.Unlock()

	m.setState(Connecting)
	s, err := m.dialAndAuth(ctx, id)
	if err != nil {
		m.setState(Disconnected)
		return err
	}
	m.attach(s)

	supCtx, supCancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.supCancel, m.supDone = supCancel, done
	m.mu.Unlock()
	go m.supervise(supCtx, s, id, done)
	return nil
}

// dialAndAuth opens a socket and completes the auth:connect exchange on it.
func (m *Manager) dialAndAuth(ctx context.Context, id Identity) (*session, error) {
	dctx, cancel := context.WithTimeout(ctx, m.conf.HandshakeTimeout)
	ws, _, err := m.conf.Dialer.DialContext(dctx, m.conf.URL, m.conf.Header)
	cancel()
	if err != nil {
		return nil, errs.ErrNotConnected.WrapMsg("dial", "url", m.conf.URL, "err", err)
	}
	s := m.startSession(m.ctx, ws, id.UserID)

	hello, _ := events.AuthConnect(id.UserID, id.Token, id.DisplayName, id.DeviceID).Marshal()
	if !s.enqueue(hello) {
		s.close()
		return nil, errs.ErrNotConnected.WrapMsg("send auth:connect")
	}
	m.conf.Observer.Sent(events.TypeAuthConnect)

	timer := time.NewTimer(m.conf.AuthTimeout)
	defer timer.Stop()
	select {
	case r := <-s.authCh:
		if !r.ok {
			s.close()
			return nil, errs.ErrAuth.WrapMsg(r.msg, "user", id.UserID)
		}
		return s, nil
	case <-s.done:
		return nil, errs.ErrNotConnected.WrapMsg("socket closed during auth", "err", s.err)
	case <-timer.C:
		s.close()
		return nil, errs.ErrNotConnected.WrapMsg("auth timeout", "after", m.conf.AuthTimeout)
	case <-ctx.Done():
		s.close()
		return nil, errs.Wrap(ctx.Err())
	}
}

func (m *Manager) attach(s *session) {
	m.mu.Lock()
	m.sess = s
	m.mu.Unlock()
	m.setState(Authenticated)
	m.log.Info("authenticated", zap.String("user", s.userID))
	go m.drainOffline(s)
}

// supervise waits for the live session to end and reconnects until the context
// is cancelled or the backend rejects the identity.
func (m *Manager) supervise(ctx context.Context, s *session, id Identity, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			s.close()
			return
		case <-s.done:
		}
		m.mu.Lock()
		if m.sess == s {
			m.sess = nil
		}
		m.mu.Unlock()
		m.setState(Disconnected)
		m.log.Info("connection lost, reconnecting", zap.String("user", id.UserID), zap.Error(s.err))

		s = m.reconnect(ctx, id)
		if s == nil {
			return
		}
		if ctx.Err() != nil {
			s.close()
			return
		}
		m.attach(s)
	}
}

func (m *Manager) reconnect(ctx context.Context, id Identity) *session {
	bo := newReconnectBackoff(m.conf.BackoffBase, m.conf.BackoffMax, m.conf.Jitter)
	started := m.conf.Clock()
	reported := false
	for attempt := 1; ; attempt++ {
		wait := bo.Next()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		m.conf.Observer.Reconnecting(attempt)
		m.setState(Connecting)
		s, err := m.dialAndAuth(ctx, id)
		if err == nil {
			return s
		}
		m.setState(Disconnected)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errs.ErrAuth) {
			m.log.Warn("re-auth rejected, giving up", zap.String("user", id.UserID), zap.Error(err))
			m.emit(err)
			return nil
		}
		m.log.Debug("reconnect failed", zap.Int("attempt", attempt), zap.Duration("waited", wait), zap.Error(err))
		if !reported && m.conf.Clock().Sub(started) >= m.conf.OutageBudget {
			reported = true
			m.log.Warn("connection outage", zap.Duration("budget", m.conf.OutageBudget), zap.Int("attempts", attempt))
			m.emit(errs.ErrOutage.WrapMsg("reconnect failing", "since", started.Format(time.RFC3339)))
		}
	}
}

// Send queues env to the writer when authenticated. Otherwise best-effort types
// are dropped (ErrDropped) and the rest go to the offline queue (ErrQueuedOffline).
func (m *Manager) Send(env decode.Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return errs.WrapMsg(err, "marshal envelope", "type", env.Type)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.ErrClosed
	}
	s, st := m.sess, m.state
	m.mu.Unlock()

	if st == Authenticated && s != nil && s.enqueue(b) {
		m.conf.Observer.Sent(env.Type)
		return nil
	}
	return m.handoff(env)
}

func (m *Manager) handoff(env decode.Envelope) error {
	if m.conf.BestEffort(env.Type) {
		m.conf.Observer.Handoff(env.Type, false)
		return errs.ErrDropped.WrapMsg("", "type", env.Type)
	}
	if m.conf.Queue == nil {
		return errs.ErrNotConnected.WrapMsg("", "type", env.Type)
	}
	ctx, cancel := context.WithTimeout(m.ctx, handoffTimeout)
	defer cancel()
	a, err := m.conf.Queue.QueueAction(ctx, offline.ActionSendEnvelope, map[string]any{
		"type":    env.Type,
		"payload": env.Payload,
	})
	if err != nil {
		m.log.Warn("offline hand-off not persisted", zap.String("type", env.Type), zap.Error(err))
	}
	m.conf.Observer.Handoff(env.Type, true)
	return errs.ErrQueuedOffline.WrapMsg("", "type", env.Type, "action", a.ID)
}

// DrainOffline replays queued envelopes on the live session.
func (m *Manager) DrainOffline(ctx context.Context) offline.Result {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil || m.conf.Replay == nil {
		return offline.Result{}
	}
	return m.drain(ctx, s)
}

func (m *Manager) drainOffline(s *session) {
	if m.conf.Replay == nil {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	m.drain(ctx, s)
}

func (m *Manager) drain(ctx context.Context, s *session) offline.Result {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()
	return m.conf.Replay.ProcessActionType(ctx, offline.ActionSendEnvelope, func(_ context.Context, a offline.Action) error {
		typ := decode.String(a.Payload, "type", "")
		if typ == "" {
			m.log.Warn("discard malformed offline envelope", zap.String("id", a.ID))
			return nil
		}
		b, err := decode.NewEnvelope(typ, decode.Map(a.Payload, "payload")).Marshal()
		if err != nil {
			return err
		}
		if !s.enqueue(b) {
			return errs.ErrNotConnected.WrapMsg("replay", "type", typ)
		}
		m.conf.Observer.Sent(typ)
		return nil
	})
}

// Subscribe registers a consumer of inbound envelopes; buffer <= 0 means
// DefaultSubscriberBuffer. Subscriptions outlive reconnects.
func (m *Manager) Subscribe(buffer int) *Subscription {
	return m.hub.subscribe(buffer)
}

func (m *Manager) Subscribers() int { return m.hub.size() }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the identity of the last Connect.
func (m *Manager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// OnState registers fn for state transitions. fn runs on the transitioning
// goroutine and must not block.
func (m *Manager) OnState(fn func(State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Errors surfaces auth rejections on re-auth and outages. Never closed.
func (m *Manager) Errors() <-chan error { return m.errCh }

func (m *Manager) emit(err error) {
	select {
	case m.errCh <- err:
	default:
		m.log.Warn("error channel full, dropping", zap.Error(err))
	}
}

func (m *Manager) setState(st State) {
	m.mu.Lock()
	if m.state == st {
		m.mu.Unlock()
		return
	}
	m.state = st
	ls := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.conf.Observer.StateChanged(st)
	for _, fn := range ls {
		_ = safe.Call(m.log, "state listener", func() { fn(st) })
	}
}

func (m *Manager) stopSupervisor() {
	m.mu.Lock()
	cancel, done, s := m.supCancel, m.supDone, m.sess
	m.supCancel, m.supDone, m.sess = nil, nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	if s != nil {
		s.close()
	}
}

// Close tears the connection down and closes every subscription. Idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		m.cancel()
		m.connectMu.Lock()
		m.stopSupervisor()
		m.connectMu.Unlock()
		m.setState(Disconnected)
		m.hub.closeAll()
		m.log.Info("connection manager closed")
	})
	return nil
}
