package events

import "quizlink/tools/decode"

type RankedEvent interface{ isRanked() }

type RankedStats struct {
	UserID        string
	Tier          string
	Division      int
	MMR           int
	RankedPoints  int
	Wins          int
	Losses        int
	WinRate       float64
	Rank          int
	TopPercentage float64
}

type RankedEntry struct {
	Rank         int
	UserID       string
	Username     string
	Tier         string
	Division     int
	MMR          int
	RankedPoints int
	Wins         int
	Losses       int
	WinRate      float64
}

type RankedLeaderboard struct {
	Entries      []RankedEntry
	UserRank     int
	TotalPlayers int
}

type RankedUnknown struct{ Type string }

func (RankedStats) isRanked()       {}
func (RankedLeaderboard) isRanked() {}
func (RankedUnknown) isRanked()     {}

func DecodeRanked(env decode.Envelope) RankedEvent {
	p := env.Payload
	switch env.Type {
	case TypeRankedStatsData:
		return RankedStats{
			UserID:        decode.String(p, "userId", ""),
			Tier:          decode.String(p, "tier", "bronze"),
			Division:      decode.Int(p, "division", 1),
			MMR:           decode.Int(p, "mmr", 0),
			RankedPoints:  decode.Int(p, "rankedPoints", 0),
			Wins:          decode.Int(p, "wins", 0),
			Losses:        decode.Int(p, "losses", 0),
			WinRate:       decode.Float(p, "winRate", 0),
			Rank:          decode.Int(p, "rank", 0),
			TopPercentage: decode.Float(p, "topPercentage", 0),
		}
	case TypeRankedLeaderboardData:
		rows := decode.Maps(p, "leaderboard")
		entries := make([]RankedEntry, 0, len(rows))
		for i, r := range rows {
			entries = append(entries, RankedEntry{
				Rank:         decode.Int(r, "rank", i+1),
				UserID:       decode.String(r, "userId", ""),
				Username:     decode.String(r, "username", ""),
				Tier:         decode.String(r, "tier", "bronze"),
				Division:     decode.Int(r, "division", 1),
				MMR:          decode.Int(r, "mmr", 0),
				RankedPoints: decode.Int(r, "rankedPoints", 0),
				Wins:         decode.Int(r, "wins", 0),
				Losses:       decode.Int(r, "losses", 0),
				WinRate:      decode.Float(r, "winRate", 0),
			})
		}
		return RankedLeaderboard{
			Entries:      entries,
			UserRank:     decode.Int(p, "userRank", 0),
			TotalPlayers: decode.Int(p, "totalPlayers", len(entries)),
		}
	}
	return RankedUnknown{Type: env.Type}
}

func RankedStatsSync(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeRankedStatsSync, map[string]any{"userId": userID})
}

// RankedLeaderboardSync: an empty tier asks for all tiers.
func RankedLeaderboardSync(userID string, limit int, tier string) decode.Envelope {
	if limit <= 0 {
		limit = 100
	}
	p := map[string]any{"userId": userID, "limit": limit}
	if tier != "" {
		p["tier"] = tier
	}
	return decode.NewEnvelope(TypeRankedLeaderboardSync, p)
}
