package chat

import (
	"context"

	"github.com/gkkary3/Netless/internal/apperr"
	"github.com/gkkary3/Netless/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// ReadNotifier tells a message sender that the receiver read their
// messages. Implementations deliver only to live connections.
type ReadNotifier interface {
	ConversationRead(senderID, conversationID, readBy string)
}

type nopNotifier struct{}

func (nopNotifier) ConversationRead(string, string, string) {}

// MarkConversationRead marks every unread message senderID sent to reader
// in the conversation as read, in one batch. REST fetches and realtime
// mark events both land here, so they always agree on the conversation id.
// An empty conversationID is derived from the two participants; a
// non-empty one must match. Repeating the call is a no-op. When anything
// changed, the sender is notified.
func (s *Service) MarkConversationRead(ctx context.Context, reader bson.ObjectID, conversationID, senderID string) (int64, error) {
	sender, err := ParseUserID(senderID)
	if err != nil {
		return 0, err
	}
	if sender == reader {
		return 0, apperr.Validation("cannot mark your own messages as read")
	}

	derived := data.ConversationID(reader.Hex(), sender.Hex())
	if conversationID == "" {
		conversationID = derived
	}
	if conversationID != derived {
		return 0, apperr.Validation("conversation id does not match participants")
	}

	n, err := s.messages.MarkConversationRead(ctx, conversationID, sender, reader)
	if err != nil {
		return 0, storeErr("mark conversation read", err)
	}
	if n > 0 {
		s.notifier.ConversationRead(sender.Hex(), conversationID, reader.Hex())
		s.log.Debug("conversation_read",
			zap.String("conversation_id", conversationID),
			zap.String("reader_id", reader.Hex()),
			zap.Int64("marked", n),
		)
	}
	return n, nil
}
