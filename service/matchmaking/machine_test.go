package matchmaking

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlink/logger"
	"quizlink/service/conn"
	"quizlink/service/events"
	"quizlink/tools/decode"
	"quizlink/tools/errs"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []decode.Envelope
	err  error
}

func (s *recordingSender) Send(env decode.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && !errors.Is(s.err, errs.ErrQueuedOffline) {
		return s.err
	}
	s.sent = append(s.sent, env)
	return s.err
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, e := range s.sent {
		out = append(out, e.Type)
	}
	return out
}

func (s *recordingSender) last() decode.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type harness struct {
	m      *Machine
	sender *recordingSender
	in     chan decode.Envelope
}

func newHarness(t *testing.T, conf Conf) *harness {
	t.Helper()
	conf.UserID = "self"
	conf.Log = logger.Nop()
	h := &harness{sender: &recordingSender{}, in: make(chan decode.Envelope, 16)}
	h.m = New(h.sender, conf)
	h.m.Start(h.in)
	t.Cleanup(h.m.Stop)
	return h
}

func (h *harness) push(typ string, payload map[string]any) {
	h.in <- decode.NewEnvelope(typ, payload)
}

func (h *harness) waitPhase(t *testing.T, p Phase) State {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State().Phase == p }, time.Second, 5*time.Millisecond,
		"want phase %s, have %s", p, h.m.State().Phase)
	return h.m.State()
}

func TestFindMatchToMatchFound(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("medium", "general"))

	st := h.m.State()
	assert.Equal(t, Searching, st.Phase)
	assert.True(t, st.IsSearching)
	assert.False(t, st.SearchStartedAt.IsZero())
	find := h.sender.last()
	assert.Equal(t, events.TypeMatchmakingFind, find.Type)
	assert.Equal(t, "self", find.Payload["userId"])
	assert.Equal(t, "casual", find.Payload["gameMode"])
	assert.Equal(t, "medium", find.Payload["difficulty"])

	h.push("matchmaking.searching", map[string]any{"queuePosition": 4.0, "estimatedWaitTime": 20.0})
	require.Eventually(t, func() bool { return h.m.State().QueuePosition == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 20, h.m.State().EstimatedWaitSeconds)

	h.push("matchmaking.found", map[string]any{
		"matchId":  "m1",
		"opponent": map[string]any{"userId": "u2", "username": "Bob", "points": 250.0},
	})
	st = h.waitPhase(t, MatchFoundPendingConfirm)
	require.NotNil(t, st.MatchFound)
	assert.Equal(t, "m1", st.MatchFound.MatchID)
	assert.Equal(t, "Bob", st.MatchFound.Opponent.Username)
	assert.Equal(t, 3, st.MatchFound.Opponent.Level)
	assert.False(t, st.IsSearching)

	select {
	case ev := <-h.m.Events():
		assert.Equal(t, Navigate{MatchID: "m1"}, ev)
	case <-time.After(time.Second):
		t.Fatal("no navigation")
	}
}

func TestDuplicateMatchFoundNavigatesOnce(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	found := map[string]any{"matchId": "m1"}
	h.push("matchmaking.found", found)
	h.push("matchmaking.found", found)
	h.push("matchmaking.found", map[string]any{"matchId": "m2"})
	h.waitPhase(t, MatchFoundPendingConfirm)
	time.Sleep(50 * time.Millisecond)

	navs := 0
	for len(h.m.Events()) > 0 {
		if _, ok := (<-h.m.Events()).(Navigate); ok {
			navs++
		}
	}
	assert.Equal(t, 1, navs)
	assert.Equal(t, "m1", h.m.State().MatchFound.MatchID)
}

func TestFindMatchRejectedWhileSearching(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	err := h.m.FindMatch("", "")
	assert.True(t, errors.Is(err, errs.ErrInvalidState))
	assert.Equal(t, []string{events.TypeMatchmakingFind}, h.sender.types())
}

func TestMatchFoundIgnoredAfterLocalCancel(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	require.NoError(t, h.m.Cancel())

	st := h.m.State()
	assert.Equal(t, Idle, st.Phase)
	assert.False(t, st.IsSearching)
	assert.Equal(t, events.TypeMatchmakingCancel, h.sender.last().Type)

	h.push("matchmaking.found", map[string]any{"matchId": "late"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Idle, h.m.State().Phase)
	assert.Nil(t, h.m.State().MatchFound)
	assert.Len(t, h.m.Events(), 0)

	require.NoError(t, h.m.FindMatch("", ""), "cancel allows a new search")
}

func TestCancelInvalidFromIdle(t *testing.T) {
	h := newHarness(t, Conf{})
	assert.True(t, errors.Is(h.m.Cancel(), errs.ErrInvalidState))
	assert.Empty(t, h.sender.types())
}

func TestConfirmFlowBothConfirmed(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	h.push("matchmaking.found", map[string]any{"matchId": "m1"})
	h.push("matchmaking.confirm.request", map[string]any{"matchId": "m1", "timeToConfirm": 10.0})
	require.Eventually(t, func() bool { return h.m.State().ConfirmRequest != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(10000), h.m.State().ConfirmRequest.ExpiresInMs)

	require.NoError(t, h.m.ConfirmMatch("m1", true))
	confirm := h.sender.last()
	assert.Equal(t, events.TypeMatchmakingConfirm, confirm.Type)
	assert.Equal(t, true, confirm.Payload["confirmed"])
	assert.Equal(t, MatchFoundPendingConfirm, h.m.State().Phase)

	h.push("matchmaking.confirm.status", map[string]any{"matchId": "m1", "status": "both_confirmed"})
	st := h.waitPhase(t, Confirmed)
	require.NotNil(t, st.ConfirmStatus)
	assert.Equal(t, events.ConfirmBothConfirmed, st.ConfirmStatus.Status)

	require.NoError(t, h.m.FindMatch("", ""), "confirmed allows a new search")
}

func TestConfirmRejectedByOpponent(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	h.push("matchmaking.found", map[string]any{"matchId": "m1"})
	h.waitPhase(t, MatchFoundPendingConfirm)
	h.push("matchmaking.confirm.status", map[string]any{"status": "rejected"})
	st := h.waitPhase(t, Idle)
	assert.Equal(t, MatchRejected, st.Err)
}

func TestDeclineGoesIdle(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	h.push("matchmaking.found", map[string]any{"matchId": "m1"})
	h.waitPhase(t, MatchFoundPendingConfirm)
	require.NoError(t, h.m.ConfirmMatch("m1", false))
	st := h.m.State()
	assert.Equal(t, Idle, st.Phase)
	assert.Nil(t, st.ConfirmRequest)
	assert.Equal(t, false, h.sender.last().Payload["confirmed"])
}

func TestConfirmationTimerExpires(t *testing.T) {
	h := newHarness(t, Conf{ConfirmTimeout: 40 * time.Millisecond})
	require.NoError(t, h.m.FindMatch("", ""))
	h.push("matchmaking.found", map[string]any{"matchId": "m1"})
	<-h.m.Events() // navigate

	select {
	case ev := <-h.m.Events():
		assert.Equal(t, ConfirmationExpired{MatchID: "m1"}, ev)
	case <-time.After(time.Second):
		t.Fatal("confirmation never expired")
	}
	assert.Equal(t, Idle, h.m.State().Phase)
}

func TestServerTimeoutStatusExpires(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	h.push("matchmaking.found", map[string]any{"matchId": "m1"})
	h.push("matchmaking.confirm.status", map[string]any{"status": "timeout"})
	h.waitPhase(t, Idle)
	<-h.m.Events() // navigate
	select {
	case ev := <-h.m.Events():
		assert.IsType(t, ConfirmationExpired{}, ev)
	case <-time.After(time.Second):
		t.Fatal("no expiry event")
	}
}

func TestServerErrorAndCancelled(t *testing.T) {
	h := newHarness(t, Conf{})
	require.NoError(t, h.m.FindMatch("", ""))
	h.push("matchmaking.error", map[string]any{"message": "queue closed"})
	st := h.waitPhase(t, Idle)
	assert.Equal(t, "queue closed", st.Err)

	require.NoError(t, h.m.FindMatch("", ""))
	assert.Empty(t, h.m.State().Err)
	h.push("matchmaking.cancelled", map[string]any{"reason": "server"})
	h.waitPhase(t, Idle)
}

func TestReconnectResendsFind(t *testing.T) {
	h := newHarness(t, Conf{ResendAfter: 20 * time.Millisecond})
	require.NoError(t, h.m.FindMatch("hard", "science"))

	h.m.ConnectionState(conn.Disconnected)
	h.m.ConnectionState(conn.Connecting)
	h.m.ConnectionState(conn.Authenticated)
	require.Eventually(t, func() bool { return len(h.sender.types()) == 2 }, time.Second, 5*time.Millisecond)
	resent := h.sender.last()
	assert.Equal(t, events.TypeMatchmakingFind, resent.Type)
	assert.Equal(t, "science", resent.Payload["category"])
}

func TestReconnectWhileIdleSendsNothing(t *testing.T) {
	h := newHarness(t, Conf{ResendAfter: 10 * time.Millisecond})
	h.m.ConnectionState(conn.Authenticated)
	h.m.ConnectionState(conn.Disconnected)
	h.m.ConnectionState(conn.Authenticated)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.sender.types())
}

func TestQueuedOfflineCountsAsSent(t *testing.T) {
	h := newHarness(t, Conf{})
	h.sender.err = errs.ErrQueuedOffline
	require.NoError(t, h.m.FindMatch("", ""))
	assert.Equal(t, Searching, h.m.State().Phase)

	h2 := newHarness(t, Conf{})
	h2.sender.err = errs.ErrNotConnected
	err := h2.m.FindMatch("", "")
	assert.True(t, errors.Is(err, errs.ErrNotConnected))
	assert.Equal(t, Idle, h2.m.State().Phase)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, Conf{})
	h.m.Stop()
	h.m.Stop()
	assert.True(t, errors.Is(h.m.FindMatch("", ""), errs.ErrClosed))
}
