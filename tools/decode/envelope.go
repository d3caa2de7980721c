package decode

import (
	"encoding/json"
	"strings"
)

// Envelope is the {type, payload} unit carried over the socket.
type Envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// NewEnvelope builds an envelope; a nil payload is sent as {}.
func NewEnvelope(typ string, payload map[string]any) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{Type: typ, Payload: payload}
}

// Parse decodes a raw frame. Only invalid JSON is an error: an object without a
// string type or with a non-object payload yields an envelope with the zero values.
func Parse(raw []byte) (Envelope, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Envelope{}, err
	}
	return FromMap(m), nil
}

// FromMap lifts an already-decoded JSON object into an envelope.
func FromMap(m map[string]any) Envelope {
	env := Envelope{
		Type:    String(m, "type", ""),
		Payload: Map(m, "payload"),
	}
	return env
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	return json.Marshal(e)
}

// Namespace returns the prefix of t up to the first '.' or ':'.
// "game.question.new" -> "game", "chat:global:send" -> "chat".
func Namespace(t string) string {
	if i := strings.IndexAny(t, ".:"); i >= 0 {
		return t[:i]
	}
	return t
}

// Namespace of the envelope's type.
func (e Envelope) Namespace() string { return Namespace(e.Type) }
