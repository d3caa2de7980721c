// Package events turns raw envelopes into typed, per-namespace event values and
// builds the outbound envelopes each namespace sends.
//
// Every DecodeX function is total: unknown or malformed input yields that
// namespace's Unknown variant, never an error.
package events

import (
	"strings"

	"quizlink/tools/decode"
)

// Namespace names as they appear on the wire (prefix before the first '.' or ':').
const (
	NSAuth         = "auth"
	NSConnection   = "connection"
	NSMatchmaking  = "matchmaking"
	NSLobby        = "lobby"
	NSGame         = "game"
	NSFriend       = "friend"
	NSMatchInvite  = "match"
	NSNotification = "notification"
	NSDaily        = "daily"
	NSAchievement  = "achievement"
	NSLeaderboard  = "leaderboard"
	NSRanked       = "ranked"
	NSChat         = "chat"
)

// Namespace of a wire type, see decode.Namespace.
func Namespace(t string) string { return decode.Namespace(t) }

// Route decodes env with the decoder owning its prefix. Types no decoder claims come
// back as Unrouted.
func Route(env decode.Envelope) any {
	t := env.Type
	switch {
	case strings.HasPrefix(t, "matchmaking."):
		return DecodeMatchmaking(env)
	case strings.HasPrefix(t, "lobby."):
		return DecodeLobby(env)
	case strings.HasPrefix(t, "game."):
		return DecodeGame(env)
	case strings.HasPrefix(t, "friend."), strings.HasPrefix(t, "match.invite."):
		return DecodeFriend(env)
	case strings.HasPrefix(t, "notification."):
		return DecodeNotification(env)
	case strings.HasPrefix(t, "daily.mission."), strings.HasPrefix(t, "achievement."):
		return DecodeMission(env)
	case strings.HasPrefix(t, "leaderboard."):
		return DecodeLeaderboard(env)
	case strings.HasPrefix(t, "ranked."):
		return DecodeRanked(env)
	case strings.HasPrefix(t, "chat:"):
		return DecodeChat(env)
	}
	return Unrouted{Type: t}
}

// Unrouted is what Route returns for envelopes outside every namespace
// (auth replies, pongs, anything new on the backend).
type Unrouted struct{ Type string }

// levelFromPoints: 100 points per level, starting at 1.
func levelFromPoints(points int) int {
	if points < 0 {
		return 1
	}
	return points/100 + 1
}
