// Package battle follows one live match: questions, countdown, answers, health
// and the final result.
package battle

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
	Connecting
	Presenting
	Answered
	Finished
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Presenting:
		return "presenting"
	case Answered:
		return "answered"
	case Finished:
		return "finished"
	}
	return "unknown"
}

const (
	positionLeft         = "left"
	OpponentDisconnected = "Opponent disconnected"
	DefaultHealth        = 100
	NoAnswer             = -1
	defaultTimeLimit     = 30
)

type State struct {
	Phase             Phase
	MatchID           string
	Players           []events.GamePlayer
	Questions         []events.Question
	CurrentIndex      int
	Question          events.Question
	TotalQuestions    int
	TimePerQuestion   int
	TimeRemaining     int
	PlayerScore       int
	OpponentScore     int
	PlayerCorrect     int
	OpponentCorrect   int
	PlayerHealth      int
	OpponentHealth    int
	IsAnswered        bool
	OpponentAnswered  bool
	LastAnswerCorrect bool
	CorrectIndex      int
	IsFinished        bool
	IsVictory         bool
	IsPlayer1         bool
	Rewards           events.Rewards
	Err               string
}

func newState(matchID string) State {
	return State{
		MatchID:        matchID,
		PlayerHealth:   DefaultHealth,
		OpponentHealth: DefaultHealth,
		CorrectIndex:   NoAnswer,
	}
}

func (s State) clone() State {
	out := s
	out.Players = append([]events.GamePlayer(nil), s.Players...)
	out.Questions = append([]events.Question(nil), s.Questions...)
	return out
}

// Notifications on Events().
type (
	Expired struct {
		MatchID       string
		QuestionIndex int
	}
	Result struct {
		MatchID       string
		QuestionIndex int
		Correct       bool
	}
	Over struct {
		MatchID string
		Victory bool
		Reason  string
	}
)

type Sender interface {
	Send(env decode.Envelope) error
}

type Conf struct {
	UserID       string
	TickEvery    time.Duration // 倒计时步长，默认 1s
	AdvanceDelay time.Duration // 答题结果后自动切到下一题的延迟，默认 500ms
	Clock        func() time.Time
	Log          *zap.Logger
	OnChange     func(State) // called on the loop goroutine, must not block
	EventsBuffer int
}

func (c *Conf) norm() {
	if c.TickEvery <= 0 {
		c.TickEvery = time.Second
	}
	if c.AdvanceDelay <= 0 {
		c.AdvanceDelay = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Log == nil {
		c.Log = logger.Named("battle")
	}
	if c.EventsBuffer <= 0 {
		c.EventsBuffer = 16
	}
}

type intent struct {
	fn    func() error
	reply chan error
}

type timerKind int

const (
	tick timerKind = iota
	advance
)

type timerFired struct {
	kind timerKind
	gen  uint64
}

// Session owns the battle state; one goroutine applies events, intents and
// timer firings in arrival order.
type Session struct {
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
	answered   map[int]bool
	resulted   map[int]bool // 已收到 answer result 的题号
	expired    bool
	curLimit   int
	lastConn   conn.State
	countGen   uint64
	countStop  chan struct{}
	advanceGen uint64
	advanceT   *time.Timer

	snapMu sync.RWMutex
	snap   State
}

func New(sender Sender, conf Conf) *Session {
	conf.norm()
	s := &Session{
		conf:     conf,
		sender:   sender,
		log:      conf.Log,
		intents:  make(chan intent),
		timers:   make(chan timerFired, 8),
		states:   make(chan conn.State, 8),
		out:      make(chan any, conf.EventsBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		st:       newState(""),
		answered: map[int]bool{},
		resulted: map[int]bool{},
	}
	s.snap = s.st.clone()
	return s
}

func (s *Session) Start(in <-chan decode.Envelope) { go s.loop(in) }

// Attach subscribes to mgr and starts the loop; a re-authenticated
// connection rejoins the running match.
func (s *Session) Attach(mgr *conn.Manager) {
	sub := mgr.Subscribe(conn.StateMachineBuffer)
	mgr.OnState(s.ConnectionState)
	s.Start(sub.Events())
	go func() {
		<-s.done
		sub.Close()
	}()
}

func (s *Session) ConnectionState(st conn.State) {
	select {
	case s.states <- st:
	default:
	}
}

func (s *Session) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Session) Events() <-chan any { return s.out }

func (s *Session) State() State {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap.clone()
}

func (s *Session) loop(in <-chan decode.Envelope) {
	defer close(s.done)
	defer s.stopTimers()
	for {
		select {
		case <-s.stop:
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if decode.Namespace(env.Type) != events.NSGame {
				continue
			}
			s.handle(events.DecodeGame(env))
		case it := <-s.intents:
			err := it.fn()
			s.publish()
			it.reply <- err
			continue
		case tf := <-s.timers:
			s.onTimer(tf)
		case st := <-s.states:
			s.onConnState(st)
		}
		s.publish()
	}
}

func (s *Session) do(fn func() error) error {
	it := intent{fn: fn, reply: make(chan error, 1)}
	select {
	case s.intents <- it:
	case <-s.done:
		return errs.ErrClosed
	}
	select {
	case err := <-it.reply:
		return err
	case <-s.done:
		return errs.ErrClosed
	}
}

// ConnectToMatch resets the session and joins matchID.
func (s *Session) ConnectToMatch(matchID string) error {
	return s.do(func() error {
		s.stopTimers()
		s.st = newState(matchID)
		s.answered = map[int]bool{}
		s.resulted = map[int]bool{}
		s.expired = false
		if err := s.send(events.GameConnect(matchID)); err != nil {
			s.st.Err = err.Error()
			return err
		}
		s.st.Phase = Connecting
		s.log.Info("connecting to match", zap.String("match", matchID))
		return nil
	})
}

// SubmitAnswer answers the current question once, before its time runs out.
// questionID "" means the current question's id.
func (s *Session) SubmitAnswer(questionID string, answerIndex int, elapsedMs int64) error {
	return s.do(func() error {
		idx := s.st.CurrentIndex
		switch {
		case s.st.Phase == Finished:
			return errs.ErrInvalidState.WrapMsg("submit", "phase", s.st.Phase)
		case s.answered[idx]:
			return errs.ErrAlreadyAnswered.WrapMsg("", "question", idx)
		case s.expired:
			return errs.ErrTimeExpired.WrapMsg("", "question", idx)
		case s.st.Phase != Presenting:
			return errs.ErrInvalidState.WrapMsg("submit", "phase", s.st.Phase)
		case elapsedMs > int64(s.limit())*1000:
			return errs.ErrTimeExpired.WrapMsg("", "question", idx, "elapsedMs", elapsedMs)
		}
		if questionID == "" {
			questionID = s.st.Question.QuestionID
		}
		err := s.send(events.SubmitAnswer(events.AnswerSubmission{
			UserID:        s.conf.UserID,
			MatchID:       s.st.MatchID,
			QuestionID:    questionID,
			QuestionIndex: idx,
			AnswerIndex:   answerIndex,
			AnswerTimeMs:  elapsedMs,
			Timestamp:     s.conf.Clock().UnixMilli(),
		}))
		if err != nil {
			return err
		}
		s.answered[idx] = true
		s.stopCountdown()
		s.st.Phase = Answered
		s.st.IsAnswered = true
		return nil
	})
}

func (s *Session) limit() int {
	if s.curLimit > 0 {
		return s.curLimit
	}
	return defaultTimeLimit
}

func (s *Session) send(env decode.Envelope) error {
	err := s.sender.Send(env)
	if err == nil || errors.Is(err, errs.ErrQueuedOffline) {
		return nil
	}
	return err
}

func (s *Session) handle(ev events.GameEvent) {
	if s.st.Phase == Idle || s.st.Phase == Finished {
		return
	}
	if id := ev.Match(); id != "" && id != s.st.MatchID {
		s.log.Debug("ignore event for other match", zap.String("match", id))
		return
	}
	switch e := ev.(type) {
	case events.GameStarted:
		s.st.TotalQuestions = e.TotalQuestions
		s.st.TimePerQuestion = e.TimePerQuestion
		s.st.Players = e.Players
		for _, p := range e.Players {
			if p.UserID == s.conf.UserID {
				s.st.IsPlayer1 = p.Position == positionLeft
			}
		}
		if s.st.Phase == Connecting {
			s.present(0, e.TimePerQuestion)
		}
	case events.GameAllQuestions:
		s.st.Questions = e.Questions
		if len(e.Questions) > 0 {
			s.st.TotalQuestions = len(e.Questions)
		}
		switch {
		case s.st.Phase == Connecting:
			s.present(0, s.st.TimePerQuestion)
		case s.st.Question.QuestionID == "" && s.st.CurrentIndex < len(e.Questions):
			// 题目晚于 game.started 到达，补上内容，不重置倒计时
			s.st.Question = e.Questions[s.st.CurrentIndex]
		}
	case events.GameQuestionNew:
		s.store(e.QuestionIndex, e.Question)
		// 当前题未作答时，后续题目只预加载
		if s.st.Phase == Presenting && e.QuestionIndex > s.st.CurrentIndex {
			return
		}
		if e.QuestionIndex < s.st.CurrentIndex {
			return
		}
		s.present(e.QuestionIndex, e.TimeLimit)
	case events.AnswerResult:
		s.onAnswerResult(e)
	case events.OpponentAnswered:
		s.st.OpponentAnswered = true
	case events.BattleUpdate:
		mine, theirs := e.PlayerHealth, e.OpponentHealth
		if !s.st.IsPlayer1 {
			mine, theirs = theirs, mine
		}
		if mine != events.NotReported {
			s.st.PlayerHealth = mine
		}
		if theirs != events.NotReported {
			s.st.OpponentHealth = theirs
		}
		if e.PlayerScore != events.NotReported && e.OpponentScore != events.NotReported {
			if s.st.IsPlayer1 {
				s.st.PlayerScore, s.st.OpponentScore = e.PlayerScore, e.OpponentScore
			} else {
				s.st.PlayerScore, s.st.OpponentScore = e.OpponentScore, e.PlayerScore
			}
		}
	case events.PlayerDisconnected:
		s.finish(true, OpponentDisconnected)
		s.emit(Over{MatchID: s.st.MatchID, Victory: true, Reason: OpponentDisconnected})
	case events.GameOver:
		victory := e.WinnerID != "" && e.WinnerID == s.conf.UserID
		if e.HasStats {
			s.st.PlayerScore, s.st.PlayerCorrect = e.PlayerScore, e.PlayerCorrect
			s.st.OpponentScore, s.st.OpponentCorrect = e.OpponentScore, e.OpponentCorrect
		}
		if victory {
			s.st.Rewards = e.WinnerRewards
		} else {
			s.st.Rewards = e.LoserRewards
		}
		s.finish(victory, "")
		s.emit(Over{MatchID: s.st.MatchID, Victory: victory})
		s.log.Info("match over", zap.String("match", s.st.MatchID), zap.Bool("victory", victory))
	}
}

func (s *Session) onAnswerResult(e events.AnswerResult) {
	if e.QuestionIndex != events.NotReported && e.QuestionIndex != s.st.CurrentIndex {
		s.log.Debug("stale answer result", zap.Int("index", e.QuestionIndex))
		return
	}
	if e.PlayerHealth != events.NotReported {
		s.st.PlayerHealth = e.PlayerHealth
	}
	if e.OpponentHealth != events.NotReported {
		s.st.OpponentHealth = e.OpponentHealth
	}
	// 重复的结果只覆盖服务端给出的绝对值，不再累加
	if s.resulted[s.st.CurrentIndex] {
		if e.PlayerScore != events.NotReported {
			s.st.PlayerScore = e.PlayerScore
		}
		s.log.Debug("duplicate answer result", zap.Int("index", s.st.CurrentIndex))
		return
	}
	s.resulted[s.st.CurrentIndex] = true
	if e.PlayerScore != events.NotReported {
		s.st.PlayerScore = e.PlayerScore
	} else {
		s.st.PlayerScore += e.Points
	}
	if e.IsCorrect {
		s.st.PlayerCorrect++
	}
	s.st.LastAnswerCorrect = e.IsCorrect
	s.st.CorrectIndex = e.CorrectIndex
	s.answered[s.st.CurrentIndex] = true
	s.stopCountdown()
	s.st.Phase = Answered
	s.st.IsAnswered = true
	s.emit(Result{MatchID: s.st.MatchID, QuestionIndex: s.st.CurrentIndex, Correct: e.IsCorrect})

	s.advanceGen++
	gen := s.advanceGen
	s.advanceT = time.AfterFunc(s.conf.AdvanceDelay, func() { s.fire(advance, gen) })
}

func (s *Session) store(idx int, q events.Question) {
	if idx < 0 {
		return
	}
	for len(s.st.Questions) <= idx {
		s.st.Questions = append(s.st.Questions, events.Question{})
	}
	s.st.Questions[idx] = q
}

// present shows question idx and restarts the countdown at limit seconds.
func (s *Session) present(idx, limit int) {
	if limit <= 0 {
		limit = s.st.TimePerQuestion
	}
	if limit <= 0 {
		limit = defaultTimeLimit
	}
	s.cancelAdvance()
	s.st.CurrentIndex = idx
	if idx < len(s.st.Questions) {
		s.st.Question = s.st.Questions[idx]
	} else {
		s.st.Question = events.Question{}
	}
	s.st.Phase = Presenting
	s.st.IsAnswered = s.answered[idx]
	s.st.OpponentAnswered = false
	s.st.LastAnswerCorrect = false
	s.st.CorrectIndex = NoAnswer
	s.st.TimeRemaining = limit
	s.curLimit = limit
	s.expired = false
	if s.answered[idx] {
		s.st.Phase = Answered
		s.stopCountdown()
		return
	}
	s.startCountdown()
}

func (s *Session) onTimer(tf timerFired) {
	switch tf.kind {
	case tick:
		if tf.gen != s.countGen || s.st.Phase != Presenting {
			return
		}
		s.st.TimeRemaining--
		if s.st.TimeRemaining > 0 {
			return
		}
		s.st.TimeRemaining = 0
		s.stopCountdown()
		s.expired = true
		s.st.Phase = Answered
		s.emit(Expired{MatchID: s.st.MatchID, QuestionIndex: s.st.CurrentIndex})
		s.log.Debug("question expired", zap.Int("index", s.st.CurrentIndex))
	case advance:
		if tf.gen != s.advanceGen || s.st.IsFinished {
			return
		}
		next := s.st.CurrentIndex + 1
		if next < len(s.st.Questions) && s.st.Questions[next].QuestionID != "" {
			s.present(next, s.st.TimePerQuestion)
		}
	}
}

func (s *Session) onConnState(st conn.State) {
	prev := s.lastConn
	s.lastConn = st
	if st != conn.Authenticated || prev == conn.Authenticated {
		return
	}
	if s.st.Phase == Idle || s.st.Phase == Finished {
		return
	}
	if err := s.send(events.GameConnect(s.st.MatchID)); err != nil {
		s.log.Warn("rejoin match", zap.String("match", s.st.MatchID), zap.Error(err))
	}
}

func (s *Session) startCountdown() {
	s.stopCountdown()
	gen := s.countGen
	stop := make(chan struct{})
	s.countStop = stop
	every := s.conf.TickEvery
	safe.Go(s.log, "battle countdown", func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.fire(tick, gen)
			}
		}
	})
}

func (s *Session) stopCountdown() {
	s.countGen++
	if s.countStop != nil {
		close(s.countStop)
		s.countStop = nil
	}
}

func (s *Session) cancelAdvance() {
	s.advanceGen++
	if s.advanceT != nil {
		s.advanceT.Stop()
		s.advanceT = nil
	}
}

func (s *Session) stopTimers() {
	s.stopCountdown()
	s.cancelAdvance()
}

func (s *Session) finish(victory bool, errMsg string) {
	s.stopTimers()
	s.st.Phase = Finished
	s.st.IsFinished = true
	s.st.IsVictory = victory
	s.st.Err = errMsg
}

func (s *Session) fire(kind timerKind, gen uint64) {
	select {
	case s.timers <- timerFired{kind: kind, gen: gen}:
	case <-s.done:
	}
}

func (s *Session) emit(v any) {
	select {
	case s.out <- v:
	default:
		s.log.Warn("events buffer full, dropping notification")
	}
}

func (s *Session) publish() {
	s.snapMu.Lock()
	changed := !reflect.DeepEqual(s.snap, s.st)
	s.snap = s.st.clone()
	s.snapMu.Unlock()
	if changed && s.conf.OnChange != nil {
		st := s.st.clone()
		_ = safe.Call(s.log, "battle OnChange", func() { s.conf.OnChange(st) })
	}
}
