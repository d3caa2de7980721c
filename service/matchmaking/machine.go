// Package matchmaking drives the find → found → confirm flow for one user.
package matchmaking

import (
	"errors"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizlink/logger"
	"quizlink/service/conn"
	"quizlink/service/events"
	"quizlink/tools/decode"
	"quizlink/tools/errs"
	"quizlink/tools/safe"
)

type Phase int

const (
	Idle Phase = iota
	Searching
	MatchFoundPendingConfirm
	Confirmed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case MatchFoundPendingConfirm:
		return "match_found_pending_confirm"
	case Confirmed:
		return "confirmed"
	}
	return "unknown"
}

const MatchRejected = "Match was rejected"

// State is a copy; the machine never hands out its own.
type State struct {
	Phase                Phase
	IsSearching          bool
	QueuePosition        int
	EstimatedWaitSeconds int
	SearchStartedAt      time.Time
	ConfirmRequest       *events.ConfirmRequest
	ConfirmStatus        *events.ConfirmStatus
	MatchFound           *events.MatchFound
	Err                  string
}

func (s State) clone() State {
	out := s
	if s.ConfirmRequest != nil {
		v := *s.ConfirmRequest
		out.ConfirmRequest = &v
	}
	if s.ConfirmStatus != nil {
		v := *s.ConfirmStatus
		out.ConfirmStatus = &v
	}
	if s.MatchFound != nil {
		v := *s.MatchFound
		out.MatchFound = &v
	}
	return out
}

// Notifications on Events().
type (
	Navigate            struct{ MatchID string }
	ConfirmationExpired struct{ MatchID string }
)

// Sender is the slice of *conn.Manager the machine writes through.
type Sender interface {
	Send(env decode.Envelope) error
}

type Conf struct {
	UserID         string
	GameMode       string        // "" => casual
	ConfirmTimeout time.Duration // 无 confirm.request 时的确认时限，默认 30s
	ResendAfter    time.Duration // 重连后补发 matchmaking.find 的延迟，默认 500ms
	Clock          func() time.Time
	Log            *zap.Logger
	OnChange       func(State) // called on the loop goroutine, must not block
	EventsBuffer   int
}

func (c *Conf) norm() {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.ResendAfter <= 0 {
		c.ResendAfter = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Log == nil {
		c.Log = logger.Named("matchmaking")
	}
	if c.EventsBuffer <= 0 {
		c.EventsBuffer = 16
	}
}

type intent struct {
	fn    func() error
	reply chan error
}

type timerFired struct {
	kind string
	gen  uint64
}

const (
	timerConfirm = "confirm"
	timerResend  = "resend"
)

// Machine serializes every mutation on one loop goroutine fed by inbound
// envelopes, intents, timer firings and connection state changes.
type Machine struct {
	conf   Conf
	sender Sender
	log    *zap.Logger

	intents chan intent
	timers  chan timerFired
	states  chan conn.State
	out     chan any
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	// loop-owned
	st         State
	navigated  bool
	difficulty string
	category   string
	confirmGen uint64
	confirmT   *time.Timer
	resendGen  uint64
	resendT    *time.Timer
	lastConn   conn.State

	snapMu sync.RWMutex
	snap   State
}

func New(sender Sender, conf Conf) *Machine {
	conf.norm()
	return &Machine{
		conf:    conf,
		sender:  sender,
		log:     conf.Log,
		intents: make(chan intent),
		timers:  make(chan timerFired, 4),
		states:  make(chan conn.State, 8),
		out:     make(chan any, conf.EventsBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the loop until Stop or until in is closed.
func (m *Machine) Start(in <-chan decode.Envelope) {
	go m.loop(in)
}

// Attach subscribes to mgr and starts the loop; reconnects re-send a pending find.
func (m *Machine) Attach(mgr *conn.Manager) {
	sub := mgr.Subscribe(conn.StateMachineBuffer)
	mgr.OnState(m.ConnectionState)
	m.Start(sub.Events())
	go func() {
		<-m.done
		sub.Close()
	}()
}

// ConnectionState feeds connection transitions; safe from any goroutine.
func (m *Machine) ConnectionState(s conn.State) {
	select {
	case m.states <- s:
	default:
	}
}

// Stop is idempotent and waits for the loop to exit.
func (m *Machine) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Machine) Events() <-chan any { return m.out }

func (m *Machine) State() State {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap.clone()
}

func (m *Machine) loop(in <-chan decode.Envelope) {
	defer close(m.done)
	defer m.stopTimers()
	for {
		select {
		case <-m.stop:
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if decode.Namespace(env.Type) != events.NSMatchmaking {
				continue
			}
			m.handle(events.DecodeMatchmaking(env))
		case it := <-m.intents:
			err := it.fn()
			m.publish()
			it.reply <- err
			continue
		case tf := <-m.timers:
			m.onTimer(tf)
		case s := <-m.states:
			m.onConnState(s)
		}
		m.publish()
	}
}

func (m *Machine) do(fn func() error) error {
	it := intent{fn: fn, reply: make(chan error, 1)}
	select {
	case m.intents <- it:
	case <-m.done:
		return errs.ErrClosed
	}
	select {
	case err := <-it.reply:
		return err
	case <-m.done:
		return errs.ErrClosed
	}
}

// FindMatch starts a search; only from Idle or Confirmed.
func (m *Machine) FindMatch(difficulty, category string) error {
	return m.do(func() error {
		switch m.st.Phase {
		case Idle, Confirmed:
		default:
			return errs.ErrInvalidState.WrapMsg("find match", "phase", m.st.Phase)
		}
		if err := m.send(events.FindMatch(m.conf.UserID, m.conf.GameMode, difficulty, category)); err != nil {
			return err
		}
		m.cancelConfirmTimer()
		m.difficulty, m.category = difficulty, category
		m.navigated = false
		m.st = State{
			Phase:           Searching,
			IsSearching:     true,
			SearchStartedAt: m.conf.Clock(),
		}
		m.log.Info("searching", zap.String("difficulty", difficulty), zap.String("category", category))
		return nil
	})
}

// ConfirmMatch answers the confirmation request. Declining goes back to Idle.
func (m *Machine) ConfirmMatch(matchID string, accept bool) error {
	return m.do(func() error {
		if m.st.Phase != MatchFoundPendingConfirm {
			return errs.ErrInvalidState.WrapMsg("confirm match", "phase", m.st.Phase)
		}
		if err := m.send(events.ConfirmMatch(m.conf.UserID, matchID, accept)); err != nil {
			return err
		}
		if !accept {
			m.cancelConfirmTimer()
			m.st.ConfirmRequest = nil
			m.toIdle("")
		}
		return nil
	})
}

// Cancel is optimistic: the machine is Idle before the server answers.
func (m *Machine) Cancel() error {
	return m.do(func() error {
		switch m.st.Phase {
		case Searching, MatchFoundPendingConfirm:
		default:
			return errs.ErrInvalidState.WrapMsg("cancel", "phase", m.st.Phase)
		}
		if err := m.send(events.CancelMatchmaking(m.conf.UserID)); err != nil {
			return err
		}
		m.cancelConfirmTimer()
		m.toIdle("")
		return nil
	})
}

// send treats a hand-off to the offline queue as sent: it is replayed on reconnect.
func (m *Machine) send(env decode.Envelope) error {
	err := m.sender.Send(env)
	if err == nil || errors.Is(err, errs.ErrQueuedOffline) {
		return nil
	}
	return err
}

func (m *Machine) handle(ev events.MatchmakingEvent) {
	switch e := ev.(type) {
	case events.MatchmakingSearching:
		if m.st.Phase != Searching {
			return
		}
		m.st.QueuePosition = e.QueuePosition
		m.st.EstimatedWaitSeconds = e.EstimatedWaitTime
	case events.MatchFound:
		if m.st.Phase != Searching {
			m.log.Debug("ignore match found", zap.String("match", e.MatchID), zap.Stringer("phase", m.st.Phase))
			return
		}
		found := e
		m.st.MatchFound = &found
		m.st.Phase = MatchFoundPendingConfirm
		m.st.IsSearching = false
		m.st.Err = ""
		m.armConfirmTimer(m.conf.ConfirmTimeout)
		if !m.navigated {
			m.navigated = true
			m.emit(Navigate{MatchID: e.MatchID})
		}
		m.log.Info("match found", zap.String("match", e.MatchID), zap.String("opponent", e.Opponent.Username))
	case events.ConfirmRequest:
		if m.st.Phase != MatchFoundPendingConfirm {
			return
		}
		req := e
		m.st.ConfirmRequest = &req
		m.armConfirmTimer(time.Duration(e.ExpiresInMs) * time.Millisecond)
	case events.ConfirmStatus:
		if m.st.Phase != MatchFoundPendingConfirm {
			return
		}
		status := e
		m.st.ConfirmStatus = &status
		switch e.Status {
		case events.ConfirmBothConfirmed:
			m.cancelConfirmTimer()
			m.st.Phase = Confirmed
			m.st.Err = ""
		case events.ConfirmRejected:
			m.cancelConfirmTimer()
			m.toIdle(MatchRejected)
		case events.ConfirmTimeout:
			m.expire()
		}
	case events.MatchmakingCancelled:
		if m.st.Phase == Searching || m.st.Phase == MatchFoundPendingConfirm {
			m.cancelConfirmTimer()
			m.toIdle("")
		}
	case events.MatchmakingError:
		m.cancelConfirmTimer()
		m.toIdle(e.Message)
	}
}

func (m *Machine) toIdle(errMsg string) {
	m.cancelResend()
	m.st = State{Phase: Idle, Err: errMsg}
}

func (m *Machine) expire() {
	matchID := ""
	if m.st.MatchFound != nil {
		matchID = m.st.MatchFound.MatchID
	}
	m.cancelConfirmTimer()
	m.toIdle("")
	m.emit(ConfirmationExpired{MatchID: matchID})
}

func (m *Machine) onTimer(tf timerFired) {
	switch tf.kind {
	case timerConfirm:
		if tf.gen != m.confirmGen || m.st.Phase != MatchFoundPendingConfirm {
			return
		}
		m.log.Info("confirmation expired")
		m.expire()
	case timerResend:
		if tf.gen != m.resendGen || m.st.Phase != Searching {
			return
		}
		if err := m.send(events.FindMatch(m.conf.UserID, m.conf.GameMode, m.difficulty, m.category)); err != nil {
			m.log.Warn("re-send find after reconnect", zap.Error(err))
		}
	}
}

func (m *Machine) onConnState(s conn.State) {
	prev := m.lastConn
	m.lastConn = s
	if s == conn.Authenticated && prev != conn.Authenticated && m.st.Phase == Searching {
		m.resendGen++
		gen := m.resendGen
		m.resendT = time.AfterFunc(m.conf.ResendAfter, func() { m.fire(timerResend, gen) })
	}
}

func (m *Machine) armConfirmTimer(d time.Duration) {
	m.cancelConfirmTimer()
	if d <= 0 {
		d = m.conf.ConfirmTimeout
	}
	gen := m.confirmGen
	m.confirmT = time.AfterFunc(d, func() { m.fire(timerConfirm, gen) })
}

func (m *Machine) cancelConfirmTimer() {
	m.confirmGen++
	if m.confirmT != nil {
		m.confirmT.Stop()
		m.confirmT = nil
	}
}

func (m *Machine) cancelResend() {
	m.resendGen++
	if m.resendT != nil {
		m.resendT.Stop()
		m.resendT = nil
	}
}

func (m *Machine) stopTimers() {
	m.cancelConfirmTimer()
	m.cancelResend()
}

func (m *Machine) fire(kind string, gen uint64) {
	select {
	case m.timers <- timerFired{kind: kind, gen: gen}:
	case <-m.done:
	}
}

func (m *Machine) emit(v any) {
	select {
	case m.out <- v:
	default:
		m.log.Warn("events buffer full, dropping notification")
	}
}

func (m *Machine) publish() {
	m.snapMu.Lock()
	changed := !reflect.DeepEqual(m.snap, m.st)
	m.snap = m.st.clone()
	m.snapMu.Unlock()
	if changed && m.conf.OnChange != nil {
		st := m.st.clone()
		_ = safe.Call(m.log, "matchmaking OnChange", func() { m.conf.OnChange(st) })
	}
}
