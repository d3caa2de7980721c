package events

import "quizlink/tools/decode"

const (
	TypeMissionListSync     = "daily.mission.list.sync"
	TypeMissionClaim        = "daily.mission.claim"
	TypeAchievementListSync = "achievement.list.sync"
	TypeAchievementClaim    = "achievement.claim"
	TypeMissionListData     = "daily.mission.list.data"
	TypeMissionClaimed      = "daily.mission.claimed"
	TypeAchievementListData = "achievement.list.data"
	TypeAchievementUnlocked = "achievement.unlocked"
)

// MissionEvent covers daily.mission.* and achievement.*.
type MissionEvent interface{ isMission() }

type Mission struct {
	MissionID        string
	Name             string
	Description      string
	Type             string
	Target           int
	Progress         int
	RewardCoins      int
	RewardExperience int
	IsCompleted      bool
	IsClaimed        bool
	ExpiresAt        int64
}

type MissionList struct {
	Missions       []Mission
	CompletedToday int
	TotalMissions  int
}

type MissionClaimed struct {
	MissionID        string
	RewardCoins      int
	RewardExperience int
	NewCoins         int
	NewExperience    int
	NewLevel         int
}

type Achievement struct {
	AchievementID string
	Name          string
	Description   string
	Rarity        string
	RewardPoints  int
	RewardCoins   int
	IsUnlocked    bool
	UnlockedAt    int64 // 0 while locked
}

type AchievementList struct {
	Achievements      []Achievement
	TotalAchievements int
	UnlockedCount     int
}

type AchievementUnlocked struct{ Achievement Achievement }

type MissionUnknown struct{ Type string }

func (MissionList) isMission()         {}
func (MissionClaimed) isMission()      {}
func (AchievementList) isMission()     {}
func (AchievementUnlocked) isMission() {}
func (MissionUnknown) isMission()      {}

func DecodeMission(env decode.Envelope) MissionEvent {
	p := env.Payload
	switch env.Type {
	case TypeMissionListData:
		rows := decode.Maps(p, "missions")
		missions := make([]Mission, 0, len(rows))
		for _, r := range rows {
			req, rw := decode.Map(r, "requirement"), decode.Map(r, "reward")
			missions = append(missions, Mission{
				MissionID:        decode.String(r, "missionId", ""),
				Name:             decode.String(r, "name", ""),
				Description:      decode.String(r, "description", ""),
				Type:             decode.String(r, "type", ""),
				Target:           decode.Int(req, "target", 0),
				Progress:         decode.Int(r, "progress", 0),
				RewardCoins:      decode.Int(rw, "coins", 0),
				RewardExperience: decode.Int(rw, "experience", 0),
				IsCompleted:      decode.Bool(r, "isCompleted", false),
				IsClaimed:        decode.Bool(r, "isClaimed", false),
				ExpiresAt:        decode.Int64(r, "expiresAt", 0),
			})
		}
		return MissionList{
			Missions:       missions,
			CompletedToday: decode.Int(p, "completedToday", 0),
			TotalMissions:  decode.Int(p, "totalMissions", len(missions)),
		}
	case TypeMissionClaimed:
		rw, st := decode.Map(p, "rewards"), decode.Map(p, "newStats")
		return MissionClaimed{
			MissionID:        decode.String(p, "missionId", ""),
			RewardCoins:      decode.Int(rw, "coins", 0),
			RewardExperience: decode.Int(rw, "experience", 0),
			NewCoins:         decode.Int(st, "coins", 0),
			NewExperience:    decode.Int(st, "experience", 0),
			NewLevel:         decode.Int(st, "level", 0),
		}
	case TypeAchievementListData:
		rows := decode.Maps(p, "achievements")
		list := make([]Achievement, 0, len(rows))
		unlocked := 0
		for _, r := range rows {
			a := decodeAchievement(r)
			if a.IsUnlocked {
				unlocked++
			}
			list = append(list, a)
		}
		return AchievementList{
			Achievements:      list,
			TotalAchievements: decode.Int(p, "totalAchievements", len(list)),
			UnlockedCount:     decode.Int(p, "unlockedCount", unlocked),
		}
	case TypeAchievementUnlocked:
		a := decodeAchievement(p)
		a.IsUnlocked = true
		return AchievementUnlocked{Achievement: a}
	}
	return MissionUnknown{Type: env.Type}
}

func decodeAchievement(m map[string]any) Achievement {
	return Achievement{
		AchievementID: decode.String(m, "achievementId", ""),
		Name:          decode.String(m, "name", ""),
		Description:   decode.String(m, "description", ""),
		Rarity:        decode.String(m, "rarity", "common"),
		RewardPoints:  decode.Int(m, "rewardPoints", 0),
		RewardCoins:   decode.Int(m, "rewardCoins", 0),
		IsUnlocked:    decode.Bool(m, "isUnlocked", false),
		UnlockedAt:    decode.Int64(m, "unlockedAt", 0),
	}
}

func MissionListSync(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeMissionListSync, map[string]any{"userId": userID})
}

func MissionClaim(userID, missionID string) decode.Envelope {
	return decode.NewEnvelope(TypeMissionClaim, map[string]any{"userId": userID, "missionId": missionID})
}

func AchievementListSync(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeAchievementListSync, map[string]any{"userId": userID})
}

func AchievementClaim(userID, achievementID string) decode.Envelope {
	return decode.NewEnvelope(TypeAchievementClaim, map[string]any{"userId": userID, "achievementId": achievementID})
}
