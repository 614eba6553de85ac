// Package events defines the frames exchanged over a realtime connection:
// a named envelope with a JSON payload, the server-to-client event names,
// and the tagged set of client-to-server commands.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gkkary3/Netless/internal/data"
)

// Server-to-client event names.
const (
	OnlineUsersList  = "online_users_list"
	UserOnline       = "user_online"
	UserOffline      = "user_offline"
	MessageSent      = "message_sent"
	ReceiveMessage   = "receive_message"
	MessageError     = "message_error"
	ConversationRead = "conversation_read"
)

// Client-to-server event names.
const (
	SendMessageEvent            = "send_message"
	MarkAsReadEvent             = "mark_as_read"
	MarkConversationAsReadEvent = "mark_conversation_as_read"
	HeartbeatEvent              = "heartbeat"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OnlineUsersPayload answers "who is online" on connect.
type OnlineUsersPayload struct {
	OnlineUsers []string `json:"onlineUsers"`
}

// UserPayload carries a presence transition.
type UserPayload struct {
	UserID string `json:"userId"`
}

// ConversationReadPayload tells a sender their messages were read.
type ConversationReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
}

// ErrorPayload reports a failed command to the connection that sent it.
type ErrorPayload struct {
	Event string `json:"event,omitempty"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
	// Ref echoes the client's reference so it can match the failure to a
	// pending send.
	Ref string `json:"ref,omitempty"`
}

// MessagePayload is a persisted, populated message with the sender's
// optional client reference.
type MessagePayload struct {
	*data.PopulatedMessage
	Ref string `json:"ref,omitempty"`
}

// New builds an envelope with payload marshalled as JSON.
func New(event string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return &Envelope{Event: event, Data: raw}, nil
}

// Must is New for payloads that cannot fail to marshal (plain structs of
// strings, bools and times).
func Must(event string, payload any) *Envelope {
	env, err := New(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// Command is a decoded client-to-server event. The concrete types below are
// the complete set; dispatch with a type switch.
type Command interface {
	command() string
}

// SendMessage asks the server to persist and relay a message.
type SendMessage struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	// ConversationID is informational; the server derives the real id.
	ConversationID string `json:"conversationId,omitempty"`
	Ref            string `json:"ref,omitempty"`
}

// MarkAsRead marks one message read.
type MarkAsRead struct {
	MessageID string `json:"messageId"`
}

// MarkConversationAsRead marks everything SenderID sent the caller in the
// conversation as read.
type MarkConversationAsRead struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// Heartbeat refreshes the caller's last-seen time.
type Heartbeat struct {
	At time.Time `json:"at,omitempty"`
}

func (SendMessage) command() string            { return SendMessageEvent }
func (MarkAsRead) command() string             { return MarkAsReadEvent }
func (MarkConversationAsRead) command() string { return MarkConversationAsReadEvent }
func (Heartbeat) command() string              { return HeartbeatEvent }

// Name returns the wire event name of c.
func Name(c Command) string { return c.command() }

// ParseCommand decodes an inbound envelope into its Command.
func ParseCommand(e *Envelope) (Command, error) {
	switch e.Event {
	case SendMessageEvent:
		var c SendMessage
		if err := e.Decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case MarkAsReadEvent:
		var c MarkAsRead
		if err := e.Decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case MarkConversationAsReadEvent:
		var c MarkConversationAsRead
		if err := e.Decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case HeartbeatEvent:
		var c Heartbeat
		if len(e.Data) > 0 {
			if err := e.Decode(&c); err != nil {
				return nil, err
			}
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown event %q", e.Event)
}

// Encode wraps a Command in an envelope, as a client would send it.
func Encode(c Command) (*Envelope, error) {
	return New(Name(c), c)
}
