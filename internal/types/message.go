package types

import (
	"encoding/json"
	"time"
)

// MessageType tags a WebSocket message.
type MessageType string

// Client -> server message types.
const (
	MsgPing     MessageType = "ping"
	MsgRegister MessageType = "register"
)

// Server -> client message types.
const (
	MsgConnected   MessageType = "connected"
	MsgRegistered  MessageType = "registered"
	MsgPong        MessageType = "pong"
	MsgSkillUpdate MessageType = "skill_update"
	MsgError       MessageType = "error"
)

// Message is the wire envelope for the notification channel. Payload is
// kept raw so that unknown message kinds round-trip losslessly.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Sender    string          `json:"sender"`
}

// NewMessage builds a server-sent message, marshaling the typed payload.
// A payload that cannot be marshaled degrades to an empty object rather
// than dropping the message.
func NewMessage(msgType MessageType, payload interface{}) Message {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Message{
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Sender:    "server",
	}
}

// DecodePayload unmarshals the payload into the typed form for the
// message's kind.
func (m Message) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ConnectedPayload greets a new connection.
type ConnectedPayload struct {
	ConnectionID string    `json:"connection_id"`
	ServerTime   time.Time `json:"server_time"`
	Message      string    `json:"message"`
}

// RegisterPayload is the client handshake binding a connection to an agent.
type RegisterPayload struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}

// RegisteredPayload acknowledges a register handshake.
type RegisteredPayload struct {
	ConnectionID string `json:"connection_id"`
	AgentID      string `json:"agent_id"`
	AgentName    string `json:"agent_name"`
}

// PongPayload answers a ping.
type PongPayload struct {
	Time time.Time `json:"time"`
}

// SkillUpdatePayload announces a skill change to connected agents.
type SkillUpdatePayload struct {
	Action  string `json:"action"` // "created", "updated" or "deleted"
	SkillID string `json:"skill_id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author"`
}

// ErrorPayload reports a protocol-level error to a client.
type ErrorPayload struct {
	Message string `json:"message"`
}
