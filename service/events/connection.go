package events

import (
	"strings"

	"quizlink/tools/decode"
)

const (
	TypeAuthConnect    = "auth:connect"
	TypeAuthSuccess    = "auth:success"
	TypeAuthError      = "auth:error"
	TypeAuthFailed     = "auth:failed"
	TypeConnectionPing = "connection.ping"
	TypeConnectionPong = "connection.pong"
)

func AuthConnect(userID, token, username, deviceID string) decode.Envelope {
	return decode.NewEnvelope(TypeAuthConnect, map[string]any{
		"userId":   userID,
		"token":    token,
		"username": username,
		"deviceId": deviceID,
	})
}

func Ping(userID string) decode.Envelope {
	return decode.NewEnvelope(TypeConnectionPing, map[string]any{"userId": userID})
}

// IsAuthReply reports whether t answers auth:connect, and whether it is a success.
func IsAuthReply(t string) (reply, ok bool) {
	switch t {
	case TypeAuthSuccess:
		return true, true
	case TypeAuthError, TypeAuthFailed:
		return true, false
	}
	return false, false
}

// AuthErrorMessage pulls the server's reason out of an auth failure payload.
func AuthErrorMessage(env decode.Envelope) string {
	return decode.String(env.Payload, "message", decode.String(env.Payload, "error", "authentication rejected"))
}

// IsBestEffort is the default policy for sends made while offline: telemetry,
// typing and read-only sync requests are dropped, everything else is queued.
func IsBestEffort(t string) bool {
	switch t {
	case TypeChatTyping, TypeConnectionPing, TypeAuthConnect:
		return true
	}
	return strings.HasSuffix(t, ".sync") || strings.HasSuffix(t, ".list.request")
}
