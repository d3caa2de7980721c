package events

import "quizlink/tools/decode"

const (
	TypeFriendRequestSend     = "friend.request.send"
	TypeFriendRequestAccept   = "friend.request.accept"
	TypeFriendRequestReject   = "friend.request.reject"
	TypeFriendRemove          = "friend.remove"
	TypeFriendListRequest     = "friend.list.request"
	TypeFriendChallenge       = "friend.challenge"
	TypeFriendRequestReceived = "friend.request.received"
	TypeFriendRequestSent     = "friend.request.sent"
	TypeFriendRequestAccepted = "friend.request.accepted"
	TypeFriendRequestRejected = "friend.request.rejected"
	TypeFriendRequestResponse = "friend.request.response"
	TypeFriendRemoved         = "friend.removed"
	TypeFriendListData        = "friend.list.data"
	TypeFriendChallengeSent   = "friend.challenge.sent"
	TypeMatchInviteReceived   = "match.invite.received"
	TypeMatchInviteAccepted   = "match.invite.accepted"
	TypeMatchInviteRejected   = "match.invite.rejected"
	TypeMatchInviteExpired    = "match.invite.expired"
)

// FriendEvent covers friend.* and the match.invite.* family, which the backend sends
// for friend challenges.
type FriendEvent interface{ isFriend() }

type FriendRequestReceived struct {
	RequestID       string
	SenderID        string
	SenderName      string
	SenderPoints    int
	SenderAvatarURL string
	Message         string
}

type FriendRequestSent struct {
	RequestID      string
	TargetUserID   string
	TargetUsername string
}

type FriendRequestAccepted struct {
	RequestID  string
	FriendID   string
	FriendName string
}

type FriendRequestRejected struct{ RequestID string }

type FriendRemoved struct {
	FriendID  string
	RemovedBy string
}

type FriendInfo struct {
	UserID    string
	Username  string
	Points    int
	Level     int
	AvatarURL string
	Status    string
	Wins      int
}

type FriendListData struct {
	Friends         []FriendInfo
	TotalFriends    int
	PendingRequests int
}

type FriendChallengeSent struct{ ChallengeID string }

type MatchInviteReceived struct {
	InviteID     string
	SenderID     string
	SenderName   string
	SenderPoints int
	SenderWins   int
	Settings     GameSettings
	Message      string
	ExpiresInMs  int64
}

type MatchInviteAccepted struct {
	InviteID     string
	MatchID      string
	OpponentID   string
	OpponentName string
	StartIn      int
}

type MatchInviteRejected struct {
	InviteID   string
	RejectedBy string
}

type MatchInviteExpired struct{ InviteID string }

type FriendUnknown struct{ Type string }

func (FriendRequestReceived) isFriend() {}
func (FriendRequestSent) isFriend()     {}
func (FriendRequestAccepted) isFriend() {}
func (FriendRequestRejected) isFriend() {}
func (FriendRemoved) isFriend()         {}
func (FriendListData) isFriend()        {}
func (FriendChallengeSent) isFriend()   {}
func (MatchInviteReceived) isFriend()   {}
func (MatchInviteAccepted) isFriend()   {}
func (MatchInviteRejected) isFriend()   {}
func (MatchInviteExpired) isFriend()    {}
func (FriendUnknown) isFriend()         {}

func DecodeFriend(env decode.Envelope) FriendEvent {
	p := env.Payload
	switch env.Type {
	case TypeFriendRequestReceived:
		s := decode.Map(p, "sender")
		return FriendRequestReceived{
			RequestID:       decode.String(p, "requestId", ""),
			SenderID:        decode.String(s, "userId", ""),
			SenderName:      decode.String(s, "username", ""),
			SenderPoints:    decode.Int(s, "points", 0),
			SenderAvatarURL: decode.String(s, "avatarUrl", ""),
			Message:         decode.String(p, "message", ""),
		}
	case TypeFriendRequestSent:
		tu := decode.Map(p, "targetUser")
		return FriendRequestSent{
			RequestID:      decode.String(p, "requestId", ""),
			TargetUserID:   decode.String(tu, "id", decode.String(tu, "userId", "")),
			TargetUsername: decode.String(tu, "name", decode.String(tu, "username", "")),
		}
	case TypeFriendRequestAccepted:
		return decodeAccepted(p)
	case TypeFriendRequestRejected:
		return FriendRequestRejected{RequestID: decode.String(p, "requestId", "")}
	case TypeFriendRequestResponse:
		if decode.String(p, "status", "") == "accepted" {
			return decodeAccepted(p)
		}
		return FriendRequestRejected{RequestID: decode.String(p, "requestId", "")}
	case TypeFriendRemoved:
		return FriendRemoved{
			FriendID:  decode.String(p, "removedFriendId", decode.String(p, "friendId", "")),
			RemovedBy: decode.String(p, "removedBy", ""),
		}
	case TypeFriendListData:
		rows := decode.Maps(p, "friends")
		friends := make([]FriendInfo, 0, len(rows))
		for _, r := range rows {
			points := decode.Int(r, "points", 0)
			friends = append(friends, FriendInfo{
				UserID:    decode.String(r, "userId", ""),
				Username:  decode.String(r, "username", ""),
				Points:    points,
				Level:     levelFromPoints(points),
				AvatarURL: decode.String(r, "avatarUrl", ""),
				Status:    decode.String(r, "status", "offline"),
				Wins:      decode.Int(r, "wins", 0),
			})
		}
		return FriendListData{
			Friends:         friends,
			TotalFriends:    decode.Int(p, "totalFriends", len(friends)),
			PendingRequests: decode.Int(p, "pendingRequests", 0),
		}
	case TypeFriendChallengeSent:
		return FriendChallengeSent{ChallengeID: decode.String(p, "challengeId", "")}
	case TypeMatchInviteReceived:
		s := decode.Map(p, "sender")
		return MatchInviteReceived{
			InviteID:     decode.String(p, "inviteId", ""),
			SenderID:     decode.String(s, "userId", ""),
			SenderName:   decode.String(s, "username", ""),
			SenderPoints: decode.Int(s, "points", 0),
			SenderWins:   decode.Int(s, "wins", 0),
			Settings:     decode.Into(decode.Map(p, "gameSettings"), DefaultGameSettings()),
			Message:      decode.String(p, "message", ""),
			ExpiresInMs:  decode.Int64(p, "expiresIn", 60000),
		}
	case TypeMatchInviteAccepted:
		o := decode.Map(p, "opponent")
		return MatchInviteAccepted{
			InviteID:     decode.String(p, "inviteId", ""),
			MatchID:      decode.String(p, "matchId", ""),
			OpponentID:   decode.String(o, "userId", ""),
			OpponentName: decode.String(o, "username", ""),
			StartIn:      decode.Int(p, "startIn", 5),
		}
	case TypeMatchInviteRejected:
		return MatchInviteRejected{
			InviteID:   decode.String(p, "inviteId", ""),
			RejectedBy: decode.String(p, "rejectedBy", ""),
		}
	case TypeMatchInviteExpired:
		return MatchInviteExpired{InviteID: decode.String(p, "inviteId", "")}
	}
	return FriendUnknown{Type: env.Type}
}

func decodeAccepted(p map[string]any) FriendRequestAccepted {
	f := decode.Map(p, "friend")
	id := decode.String(p, "requestId", "")
	if id == "" {
		id = decode.String(decode.Map(p, "friendship"), "friendshipId", "")
	}
	return FriendRequestAccepted{
		RequestID:  id,
		FriendID:   decode.String(f, "userId", ""),
		FriendName: decode.String(f, "username", ""),
	}
}

func FriendRequest(senderID, targetUsername string) decode.Envelope {
	return decode.NewEnvelope(TypeFriendRequestSend, map[string]any{
		"senderId":       senderID,
		"targetUsername": targetUsername,
	})
}

func FriendAccept(userID, requestID string) decode.Envelope {
	return decode.NewEnvelope(TypeFriendRequestAccept, map[string]any{"userId": userID, "requestId": requestID})
}

func FriendReject(userID, requestID string) decode.Envelope {
	return decode.NewEnvelope(TypeFriendRequestReject, map[string]any{"userId": userID, "requestId": requestID})
}

func FriendRemove(userID, friendID string) decode.Envelope {
	return decode.NewEnvelope(TypeFriendRemove, map[string]any{"userId": userID, "friendId": friendID})
}

func FriendListRequest(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeFriendListRequest, map[string]any{"userId": userID})
}

func FriendChallenge(challengerID, targetFriendID string, s GameSettings) decode.Envelope {
	return decode.NewEnvelope(TypeFriendChallenge, map[string]any{
		"challengerId":   challengerID,
		"targetFriendId": targetFriendID,
		"gameSettings":   s.wire(),
	})
}
