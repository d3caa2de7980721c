package conn

import (
	"context"

	"quizlink/service/offline"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// Identity is what auth:connect carries.
type Identity struct {
	UserID      string
	Token       string
	DisplayName string
	DeviceID    string
}

// OfflineQueue takes envelopes the manager could not send.
type OfflineQueue interface {
	QueueAction(ctx context.Context, typ offline.ActionType, payload map[string]any) (offline.Action, error)
}

// Replayer drains queued actions once the connection is authenticated again.
type Replayer interface {
	ProcessActionType(ctx context.Context, typ offline.ActionType, exec offline.Executor) offline.Result
}

// Observer receives connection telemetry. Calls are synchronous and must not block.
type Observer interface {
	StateChanged(s State)
	Reconnecting(attempt int)
	Sent(typ string)
	Received(typ string)
	SubscriberDropped()
	Handoff(typ string, queued bool)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)   {}
func (nopObserver) Reconnecting(int)     {}
func (nopObserver) Sent(string)          {}
func (nopObserver) Received(string)      {}
func (nopObserver) SubscriberDropped()   {}
func (nopObserver) Handoff(string, bool) {}
