// Package offline keeps user actions that could not be delivered while the
// connection was down, persists them across restarts and replays them later.
package offline

import (
	"context"
	"time"
)

type ActionType string

const (
	ActionSendMessage         ActionType = "SEND_MESSAGE"
	ActionUpdateProfile       ActionType = "UPDATE_PROFILE"
	ActionCreatePost          ActionType = "CREATE_POST"
	ActionLikePost            ActionType = "LIKE_POST"
	ActionAddComment          ActionType = "ADD_COMMENT"
	ActionSendFriendRequest   ActionType = "SEND_FRIEND_REQUEST"
	ActionAcceptFriendRequest ActionType = "ACCEPT_FRIEND_REQUEST"
	ActionSubmitAnswer        ActionType = "SUBMIT_ANSWER"
	ActionUpdateSettings      ActionType = "UPDATE_SETTINGS"
	// ActionSendEnvelope carries {type, payload} of a websocket envelope handed over
	// by the connection while it was not authenticated.
	ActionSendEnvelope ActionType = "SEND_ENVELOPE"
)

// Action 一条待补发的离线操作
type Action struct {
	ID         string         `json:"id"`
	Type       ActionType     `json:"type"`
	Payload    map[string]any `json:"payload"`
	Timestamp  int64          `json:"timestamp"` // unix ms
	RetryCount int            `json:"retryCount"`
}

// Age of the action at now.
func (a Action) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(a.Timestamp))
}

// Executor delivers one action; a nil return removes it from the queue.
type Executor func(ctx context.Context, a Action) error
