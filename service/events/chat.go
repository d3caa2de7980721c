package events

import (
	"time"

	"quizlink/tools/decode"
)

const (
	TypeChatGlobalSend     = "chat:global:send"
	TypeChatPrivateSend    = "chat:private:send"
	TypeChatTyping         = "chat:typing"
	TypeChatMarkRead       = "chat:mark:read"
	TypeChatGlobalMessage  = "chat:global:message"
	TypeChatPrivateMessage = "chat:private:message"
	TypeChatTypingIndic    = "chat:typing:indicator"
)

type ChatEvent interface{ isChat() }

type ChatGlobalMessage struct {
	MessageID  string
	SenderID   string
	SenderName string
	Message    string
	Timestamp  int64
}

type ChatPrivateMessage struct {
	MessageID      string
	ConversationID string
	SenderID       string
	SenderName     string
	Message        string
	Timestamp      int64
	IsRead         bool
}

type ChatTyping struct {
	UserID   string
	Username string
	IsTyping bool
}

type ChatUnknown struct{ Type string }

func (ChatGlobalMessage) isChat()  {}
func (ChatPrivateMessage) isChat() {}
func (ChatTyping) isChat()         {}
func (ChatUnknown) isChat()        {}

func DecodeChat(env decode.Envelope) ChatEvent {
	p := env.Payload
	switch env.Type {
	case TypeChatGlobalMessage:
		s := decode.Map(p, "sender")
		return ChatGlobalMessage{
			MessageID:  decode.String(p, "messageId", ""),
			SenderID:   decode.String(s, "userId", ""),
			SenderName: decode.String(s, "username", ""),
			Message:    decode.String(p, "message", ""),
			Timestamp:  decode.Int64(p, "timestamp", 0),
		}
	case TypeChatPrivateMessage:
		s := decode.Map(p, "sender")
		return ChatPrivateMessage{
			MessageID:      decode.String(p, "messageId", ""),
			ConversationID: decode.String(p, "conversationId", ""),
			SenderID:       decode.String(s, "userId", ""),
			SenderName:     decode.String(s, "username", ""),
			Message:        decode.String(p, "message", ""),
			Timestamp:      decode.Int64(p, "timestamp", 0),
			IsRead:         decode.Bool(p, "isRead", false),
		}
	case TypeChatTypingIndic:
		return ChatTyping{
			UserID:   decode.String(p, "userId", ""),
			Username: decode.String(p, "username", ""),
			IsTyping: decode.Bool(p, "isTyping", false),
		}
	}
	return ChatUnknown{Type: env.Type}
}

func ChatGlobalSend(userID, message string) decode.Envelope {
	return decode.NewEnvelope(TypeChatGlobalSend, map[string]any{"userId": userID, "message": message})
}

func ChatPrivateSend(senderID, receiverID, message string, at time.Time) decode.Envelope {
	return decode.NewEnvelope(TypeChatPrivateSend, map[string]any{
		"senderId":   senderID,
		"receiverId": receiverID,
		"message":    message,
		"timestamp":  at.UnixMilli(),
	})
}

// ChatTypingIndicator: an empty target means the global room.
func ChatTypingIndicator(userID, targetUserID string, typing bool) decode.Envelope {
	p := map[string]any{"userId": userID, "isTyping": typing}
	if targetUserID != "" {
		p["targetUserId"] = targetUserID
	}
	return decode.NewEnvelope(TypeChatTyping, p)
}

func ChatMarkRead(userID, targetUserID string) decode.Envelope {
	return decode.NewEnvelope(TypeChatMarkRead, map[string]any{"userId": userID, "targetUserId": targetUserID})
}
