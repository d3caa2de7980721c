package events

import "quizlink/tools/decode"

const (
	TypeLeaderboardGlobalSync  = "leaderboard.global.sync"
	TypeLeaderboardFriendsSync = "leaderboard.friends.sync"
	TypeLeaderboardGlobalData  = "leaderboard.global.data"
	TypeLeaderboardFriendsData = "leaderboard.friends.data"
	TypeRankedStatsSync        = "ranked.stats.sync"
	TypeRankedLeaderboardSync  = "ranked.leaderboard.sync"
	TypeRankedStatsData        = "ranked.stats.data"
	TypeRankedLeaderboardData  = "ranked.leaderboard.data"
)

type LeaderboardEvent interface{ isLeaderboard() }

type LeaderboardEntry struct {
	Rank     int
	UserID   string
	Username string
	Score    int
	Wins     int
	Losses   int
	MMR      int
}

type LeaderboardGlobal struct {
	Entries      []LeaderboardEntry
	UserRank     int
	TotalPlayers int
}

type LeaderboardFriends struct {
	Entries      []LeaderboardEntry
	UserRank     int
	TotalFriends int
}

type LeaderboardUnknown struct{ Type string }

func (LeaderboardGlobal) isLeaderboard()  {}
func (LeaderboardFriends) isLeaderboard() {}
func (LeaderboardUnknown) isLeaderboard() {}

func DecodeLeaderboard(env decode.Envelope) LeaderboardEvent {
	p := env.Payload
	switch env.Type {
	case TypeLeaderboardGlobalData:
		entries := decodeEntries(decode.Maps(p, "leaderboard"))
		return LeaderboardGlobal{
			Entries:      entries,
			UserRank:     decode.Int(p, "userRank", 0),
			TotalPlayers: decode.Int(p, "totalPlayers", len(entries)),
		}
	case TypeLeaderboardFriendsData:
		entries := decodeEntries(decode.Maps(p, "leaderboard"))
		return LeaderboardFriends{
			Entries:      entries,
			UserRank:     decode.Int(p, "userRank", 0),
			TotalFriends: decode.Int(p, "totalFriends", len(entries)),
		}
	}
	return LeaderboardUnknown{Type: env.Type}
}

// Rows without a rank are ranked by position.
func decodeEntries(rows []map[string]any) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, LeaderboardEntry{
			Rank:     decode.Int(r, "rank", i+1),
			UserID:   decode.String(r, "userId", ""),
			Username: decode.String(r, "username", ""),
			Score:    decode.Int(r, "points", 0),
			Wins:     decode.Int(r, "wins", 0),
			Losses:   decode.Int(r, "losses", 0),
			MMR:      decode.Int(r, "mmr", 0),
		})
	}
	return out
}

func LeaderboardGlobalSync(userID string, limit int) decode.Envelope {
	if limit <= 0 {
		limit = 100
	}
	return decode.NewEnvelope(TypeLeaderboardGlobalSync, map[string]any{"userId": userID, "limit": limit})
}

func LeaderboardFriendsSync(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeLeaderboardFriendsSync, map[string]any{"userId": userID})
}
