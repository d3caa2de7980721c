package events

import "quizlink/tools/decode"

const (
	TypeMatchmakingFind      = "matchmaking.find"
	TypeMatchmakingConfirm   = "matchmaking.confirm"
	TypeMatchmakingCancel    = "matchmaking.cancel"
	TypeMatchmakingSearching = "matchmaking.searching"
	TypeMatchmakingFound     = "matchmaking.found"
	TypeMatchmakingConfirmRq = "matchmaking.confirm.request"
	TypeMatchmakingConfirmSt = "matchmaking.confirm.status"
	TypeMatchmakingCancelled = "matchmaking.cancelled"
	TypeMatchmakingError     = "matchmaking.error"
)

// Confirm statuses carried by matchmaking.confirm.status.
const (
	ConfirmWaiting       = "waiting"
	ConfirmBothConfirmed = "both_confirmed"
	ConfirmRejected      = "rejected"
	ConfirmTimeout       = "timeout"
)

type MatchmakingEvent interface{ isMatchmaking() }

type MatchmakingSearching struct {
	QueuePosition     int `json:"queuePosition"`
	EstimatedWaitTime int `json:"estimatedWaitTime"`
}

type Opponent struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Points    int    `json:"points"`
	Level     int    `json:"level"`
	AvatarURL string `json:"avatarUrl"`
}

type GameSettings struct {
	Difficulty      string `json:"difficulty"`
	Category        string `json:"category"`
	TotalQuestions  int    `json:"totalQuestions"`
	TimePerQuestion int    `json:"timePerQuestion"`
}

// DefaultGameSettings is what the backend assumes when a settings block is absent.
func DefaultGameSettings() GameSettings {
	return GameSettings{Difficulty: "medium", Category: "general", TotalQuestions: 10, TimePerQuestion: 30}
}

func (s GameSettings) wire() map[string]any {
	return map[string]any{
		"difficulty":      s.Difficulty,
		"category":        s.Category,
		"totalQuestions":  s.TotalQuestions,
		"timePerQuestion": s.TimePerQuestion,
	}
}

type MatchFound struct {
	MatchID  string       `json:"matchId"`
	Opponent Opponent     `json:"opponent"`
	Settings GameSettings `json:"gameSettings"`
}

type ConfirmRequest struct {
	MatchID       string `json:"matchId"`
	TimeToConfirm int    `json:"timeToConfirm"` // seconds
	ExpiresInMs   int64  `json:"-"`
}

type ConfirmStatus struct {
	MatchID           string `json:"matchId"`
	PlayerConfirmed   bool   `json:"playerConfirmed"`
	OpponentConfirmed bool   `json:"opponentConfirmed"`
	ConfirmedCount    int    `json:"confirmedCount"`
	TotalPlayers      int    `json:"totalPlayers"`
	Status            string `json:"status"`
}

type MatchmakingCancelled struct {
	Reason string `json:"reason"`
}

type MatchmakingError struct {
	Message string `json:"message"`
}

type MatchmakingUnknown struct{ Type string }

func (MatchmakingSearching) isMatchmaking() {}
func (MatchFound) isMatchmaking()           {}
func (ConfirmRequest) isMatchmaking()       {}
func (ConfirmStatus) isMatchmaking()        {}
func (MatchmakingCancelled) isMatchmaking() {}
func (MatchmakingError) isMatchmaking()     {}
func (MatchmakingUnknown) isMatchmaking()   {}

func DecodeMatchmaking(env decode.Envelope) MatchmakingEvent {
	p := env.Payload
	switch env.Type {
	case TypeMatchmakingSearching:
		return decode.Into(p, MatchmakingSearching{})
	case TypeMatchmakingFound:
		ev := MatchFound{
			MatchID:  decode.String(p, "matchId", ""),
			Opponent: decodeOpponent(decode.Map(p, "opponent")),
			Settings: decode.Into(decode.Map(p, "gameSettings"), DefaultGameSettings()),
		}
		return ev
	case TypeMatchmakingConfirmRq:
		ev := decode.Into(p, ConfirmRequest{TimeToConfirm: 30})
		ev.ExpiresInMs = int64(ev.TimeToConfirm) * 1000
		return ev
	case TypeMatchmakingConfirmSt:
		ev := decode.Into(p, ConfirmStatus{TotalPlayers: 2, Status: ConfirmWaiting})
		if _, ok := p["confirmedCount"]; !ok {
			ev.ConfirmedCount = btoi(ev.PlayerConfirmed) + btoi(ev.OpponentConfirmed)
		}
		return ev
	case TypeMatchmakingCancelled:
		return decode.Into(p, MatchmakingCancelled{})
	case TypeMatchmakingError:
		return MatchmakingError{Message: decode.String(p, "message", decode.String(p, "error", "matchmaking error"))}
	}
	return MatchmakingUnknown{Type: env.Type}
}

func decodeOpponent(m map[string]any) Opponent {
	o := decode.Into(m, Opponent{Username: "Opponent"})
	o.Level = levelFromPoints(o.Points)
	return o
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FindMatch builds matchmaking.find; empty difficulty/category are left out.
func FindMatch(userID, gameMode, difficulty, category string) decode.Envelope {
	if gameMode == "" {
		gameMode = "casual"
	}
	p := map[string]any{"userId": userID, "gameMode": gameMode}
	if difficulty != "" {
		p["difficulty"] = difficulty
	}
	if category != "" {
		p["category"] = category
	}
	return decode.NewEnvelope(TypeMatchmakingFind, p)
}

func ConfirmMatch(userID, matchID string, accept bool) decode.Envelope {
	return decode.NewEnvelope(TypeMatchmakingConfirm, map[string]any{
		"userId":    userID,
		"matchId":   matchID,
		"confirmed": accept,
	})
}

func CancelMatchmaking(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeMatchmakingCancel, map[string]any{"userId": userID})
}
