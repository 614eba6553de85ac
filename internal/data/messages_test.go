package data

import (
	"context"
	"errors"
	"testing"

	"github.com/gkkary3/Netless/internal/apperr"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMessagesAppendAndListInOrder(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	alice, bob := bson.NewObjectID(), bson.NewObjectID()

	first, err := msgs.Append(ctx, alice, bob, "one")
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := msgs.Append(ctx, bob, alice, "two"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := msgs.Append(ctx, alice, bob, "three"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if first.ConversationID != ConversationID(bob.Hex(), alice.Hex()) {
		t.Fatalf("unexpected conversation id %s", first.ConversationID)
	}

	history, err := msgs.ListConversation(ctx, first.ConversationID)
	if err != nil {
		t.Fatalf("ListConversation failed: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(history) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(history))
	}
	for i, m := range history {
		if m.Content != want[i] {
			t.Fatalf("history[%d] = %q, want %q", i, m.Content, want[i])
		}
		if m.Read {
			t.Fatalf("history[%d] should be unread", i)
		}
	}
}

func TestMessagesMarkConversationReadIsIdempotent(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	alice, bob := bson.NewObjectID(), bson.NewObjectID()
	convID := ConversationID(alice.Hex(), bob.Hex())

	_, _ = msgs.Append(ctx, alice, bob, "a1")
	_, _ = msgs.Append(ctx, alice, bob, "a2")
	_, _ = msgs.Append(ctx, bob, alice, "b1")

	n, err := msgs.MarkConversationRead(ctx, convID, alice, bob)
	if err != nil || n != 2 {
		t.Fatalf("first MarkConversationRead = %d, %v; want 2", n, err)
	}
	n, err = msgs.MarkConversationRead(ctx, convID, alice, bob)
	if err != nil || n != 0 {
		t.Fatalf("second MarkConversationRead = %d, %v; want 0", n, err)
	}

	history, _ := msgs.ListConversation(ctx, convID)
	for _, m := range history {
		wantRead := m.Sender == alice
		if m.Read != wantRead {
			t.Fatalf("message %q read=%v, want %v", m.Content, m.Read, wantRead)
		}
	}
}

func TestMessagesConversationsForAndDelete(t *testing.T) {
	c := setupDB(t)
	msgs := NewMessagesStore(c.MessagesCollection())
	ctx := context.Background()

	me, bob, carol := bson.NewObjectID(), bson.NewObjectID(), bson.NewObjectID()

	_, _ = msgs.Append(ctx, bob, me, "from bob 1")
	_, _ = msgs.Append(ctx, bob, me, "from bob 2")
	_, _ = msgs.Append(ctx, me, carol, "to carol")
	last, _ := msgs.Append(ctx, me, bob, "to bob")

	summaries, err := msgs.ListConversationsFor(ctx, me)
	if err != nil {
		t.Fatalf("ListConversationsFor failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(summaries))
	}
	top := summaries[0]
	if top.ConversationID != last.ConversationID || top.LastMessage != "to bob" {
		t.Fatalf("unexpected newest conversation %+v", top)
	}
	if top.OtherParty != bob || top.UnreadCount != 2 {
		t.Fatalf("unexpected other party/unread: %+v", top)
	}
	if summaries[1].OtherParty != carol || summaries[1].UnreadCount != 0 {
		t.Fatalf("unexpected second conversation %+v", summaries[1])
	}

	if _, err := msgs.MarkMessageRead(ctx, last.ID, me); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("sender must not mark own message read, got %v", err)
	}
	read, err := msgs.MarkMessageRead(ctx, last.ID, bob)
	if err != nil || !read.Read {
		t.Fatalf("MarkMessageRead = %+v, %v", read, err)
	}

	deleted, err := msgs.DeleteConversation(ctx, last.ConversationID)
	if err != nil || deleted != 3 {
		t.Fatalf("DeleteConversation = %d, %v; want 3", deleted, err)
	}
	rest, _ := msgs.ListConversationsFor(ctx, me)
	if len(rest) != 1 {
		t.Fatalf("expected 1 conversation after delete, got %d", len(rest))
	}
}
