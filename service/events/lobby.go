package events

import "quizlink/tools/decode"

const (
	TypeLobbyCreate       = "lobby.create"
	TypeLobbyJoin         = "lobby.join"
	TypeLobbyReady        = "lobby.ready"
	TypeLobbyStart        = "lobby.start"
	TypeLobbyLeave        = "lobby.leave"
	TypeLobbyKick         = "lobby.kick"
	TypeLobbyListSync     = "lobby.list.sync"
	TypeLobbyCreated      = "lobby.created"
	TypeLobbyPlayerJoined = "lobby.player.joined"
	TypeLobbyPlayerReady  = "lobby.player.ready"
	TypeLobbyGameStarting = "lobby.game.starting"
	TypeLobbyListData     = "lobby.list.data"
	TypeLobbyPlayerLeft   = "lobby.player.left"
	TypeLobbyKicked       = "lobby.kicked"
)

type LobbyEvent interface{ isLobby() }

type LobbyCreated struct {
	LobbyID    string
	LobbyCode  string
	HostID     string
	MaxPlayers int
	Difficulty string
	Category   string
}

type LobbyPlayer struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Level    int    `json:"level"`
	IsReady  bool   `json:"isReady"`
	IsHost   bool   `json:"isHost"`
}

type LobbyPlayerJoined struct {
	LobbyID string
	Players []LobbyPlayer
}

type LobbyPlayerReady struct {
	UserID          string `json:"userId"`
	IsReady         bool   `json:"isReady"`
	AllPlayersReady bool   `json:"allPlayersReady"`
}

type LobbyGameStarting struct {
	LobbyID   string `json:"lobbyId"`
	Countdown int    `json:"countdown"`
}

type LobbySummary struct {
	LobbyID        string `json:"lobbyId"`
	LobbyName      string `json:"lobbyName"`
	HostID         string `json:"hostId"`
	HostName       string `json:"hostName"`
	CurrentPlayers int    `json:"currentPlayers"`
	MaxPlayers     int    `json:"maxPlayers"`
	IsPrivate      bool   `json:"isPrivate"`
	Status         string `json:"status"`
}

type LobbyListData struct{ Lobbies []LobbySummary }

type LobbyPlayerLeft struct {
	LobbyID string `json:"lobbyId"`
	UserID  string `json:"userId"`
}

type LobbyKicked struct {
	LobbyID string `json:"lobbyId"`
	UserID  string `json:"userId"`
}

type LobbyUnknown struct{ Type string }

func (LobbyCreated) isLobby()      {}
func (LobbyPlayerJoined) isLobby() {}
func (LobbyPlayerReady) isLobby()  {}
func (LobbyGameStarting) isLobby() {}
func (LobbyListData) isLobby()     {}
func (LobbyPlayerLeft) isLobby()   {}
func (LobbyKicked) isLobby()       {}
func (LobbyUnknown) isLobby()      {}

func DecodeLobby(env decode.Envelope) LobbyEvent {
	p := env.Payload
	switch env.Type {
	case TypeLobbyCreated:
		settings := decode.Map(p, "gameSettings")
		return LobbyCreated{
			LobbyID:    decode.String(p, "lobbyId", ""),
			LobbyCode:  decode.String(p, "lobbyCode", ""),
			HostID:     decode.String(p, "hostId", ""),
			MaxPlayers: decode.Int(p, "maxPlayers", 4),
			Difficulty: decode.String(settings, "difficulty", "medium"),
			Category:   decode.String(settings, "category", "general"),
		}
	case TypeLobbyPlayerJoined:
		rows := decode.Maps(p, "players")
		players := make([]LobbyPlayer, 0, len(rows))
		for _, r := range rows {
			players = append(players, decode.Into(r, LobbyPlayer{Level: 1}))
		}
		return LobbyPlayerJoined{LobbyID: decode.String(p, "lobbyId", ""), Players: players}
	case TypeLobbyPlayerReady:
		return decode.Into(p, LobbyPlayerReady{})
	case TypeLobbyGameStarting:
		return decode.Into(p, LobbyGameStarting{Countdown: 3})
	case TypeLobbyListData:
		rows := decode.Maps(p, "lobbies")
		lobbies := make([]LobbySummary, 0, len(rows))
		for _, r := range rows {
			lobbies = append(lobbies, decode.Into(r, LobbySummary{MaxPlayers: 4, Status: "waiting"}))
		}
		return LobbyListData{Lobbies: lobbies}
	case TypeLobbyPlayerLeft:
		return decode.Into(p, LobbyPlayerLeft{})
	case TypeLobbyKicked:
		return decode.Into(p, LobbyKicked{})
	}
	return LobbyUnknown{Type: env.Type}
}

func LobbyCreate(hostID string, maxPlayers int, isPrivate bool, s GameSettings) decode.Envelope {
	return decode.NewEnvelope(TypeLobbyCreate, map[string]any{
		"hostId":       hostID,
		"maxPlayers":   maxPlayers,
		"isPrivate":    isPrivate,
		"gameSettings": s.wire(),
	})
}

func LobbyJoin(userID, lobbyCode string) decode.Envelope {
	return decode.NewEnvelope(TypeLobbyJoin, map[string]any{"userId": userID, "lobbyCode": lobbyCode})
}

func LobbyReady(userID, lobbyID string, ready bool) decode.Envelope {
	return decode.NewEnvelope(TypeLobbyReady, map[string]any{"userId": userID, "lobbyId": lobbyID, "isReady": ready})
}

func LobbyStart(hostID, lobbyID string) decode.Envelope {
	return decode.NewEnvelope(TypeLobbyStart, map[string]any{"hostId": hostID, "lobbyId": lobbyID})
}

func LobbyLeave(userID, lobbyID string) decode.Envelope {
	return decode.NewEnvelope(TypeLobbyLeave, map[string]any{"userId": userID, "lobbyId": lobbyID})
}

func LobbyKick(hostID, lobbyID, targetUserID string) decode.Envelope {
	return decode.NewEnvelope(TypeLobbyKick, map[string]any{
		"hostId":       hostID,
		"lobbyId":      lobbyID,
		"targetUserId": targetUserID,
	})
}

func LobbyListSync(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeLobbyListSync, map[string]any{"userId": userID})
}
