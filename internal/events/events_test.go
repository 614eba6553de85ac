package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gkkary3/Netless/internal/data"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		raw  string
		want Command
	}{
		{`{"event":"send_message","data":{"receiverId":"b","content":"hi","conversationId":"a_b"}}`,
			SendMessage{ReceiverID: "b", Content: "hi", ConversationID: "a_b"}},
		{`{"event":"mark_as_read","data":{"messageId":"m1"}}`, MarkAsRead{MessageID: "m1"}},
		{`{"event":"mark_conversation_as_read","data":{"conversationId":"a_b","senderId":"a"}}`,
			MarkConversationAsRead{ConversationID: "a_b", SenderID: "a"}},
		{`{"event":"heartbeat"}`, Heartbeat{}},
	}
	for _, c := range cases {
		var env Envelope
		if err := json.Unmarshal([]byte(c.raw), &env); err != nil {
			t.Fatalf("unmarshal %s: %v", c.raw, err)
		}
		got, err := ParseCommand(&env)
		if err != nil {
			t.Fatalf("ParseCommand(%s) failed: %v", c.raw, err)
		}
		if got != c.want {
			t.Fatalf("ParseCommand(%s) = %#v, want %#v", c.raw, got, c.want)
		}
	}
}

func TestParseCommandRejects(t *testing.T) {
	for _, raw := range []string{
		`{"event":"join_room","data":{}}`,
		`{"event":"send_message"}`,
		`{"event":"send_message","data":"not an object"}`,
	} {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if _, err := ParseCommand(&env); err == nil {
			t.Fatalf("ParseCommand(%s) should fail", raw)
		}
	}
}

func TestEncodeUsesEventName(t *testing.T) {
	env, err := Encode(MarkConversationAsRead{ConversationID: "a_b", SenderID: "a"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if env.Event != MarkConversationAsReadEvent {
		t.Fatalf("unexpected event %q", env.Event)
	}
	if !strings.Contains(string(env.Data), `"senderId":"a"`) {
		t.Fatalf("unexpected payload %s", env.Data)
	}
}

func TestMessagePayloadFlattensMessage(t *testing.T) {
	msg := &data.PopulatedMessage{
		ID:             "m1",
		Sender:         data.Participant{ID: "a", Username: "alice"},
		Receiver:       data.Participant{ID: "b", Username: "bob"},
		Content:        "hello",
		ConversationID: "a_b",
		CreatedAt:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	env := Must(MessageSent, MessagePayload{PopulatedMessage: msg, Ref: "r1"})

	var decoded map[string]any
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded["id"] != "m1" || decoded["ref"] != "r1" || decoded["conversationId"] != "a_b" {
		t.Fatalf("unexpected payload %v", decoded)
	}
	sender, ok := decoded["sender"].(map[string]any)
	if !ok || sender["username"] != "alice" {
		t.Fatalf("sender not populated: %v", decoded["sender"])
	}
}
