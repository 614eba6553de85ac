package data

import (
	"context"
	"errors"
	"time"

	"github.com/gkkary3/Netless/internal/apperr"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Append inserts a new unread message between sender and receiver. The
// conversation id and creation time are assigned here; callers validate.
func (m *MessagesStore) Append(ctx context.Context, sender, receiver bson.ObjectID, content string) (*Message, error) {
	msg := &Message{
		ID:             bson.NewObjectID(),
		Sender:         sender,
		Receiver:       receiver,
		Content:        content,
		Read:           false,
		ConversationID: ConversationID(sender.Hex(), receiver.Hex()),
		// millisecond precision, as stored by BSON dates
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if _, err := m.coll.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage finds a message by id.
func (m *MessagesStore) GetMessage(ctx context.Context, id bson.ObjectID) (*Message, error) {
	var msg Message
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, err
	}
	return &msg, nil
}

// ListConversation returns every message of a conversation, oldest first.
// Ties on created_at fall back to _id, which follows insertion order.
func (m *MessagesStore) ListConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []*Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkConversationRead flips read=true on every unread message that sender
// addressed to receiver in the conversation, in one UpdateMany. Running it
// again is a no-op. It returns how many messages changed.
func (m *MessagesStore) MarkConversationRead(ctx context.Context, conversationID string, sender, receiver bson.ObjectID) (int64, error) {
	res, err := m.coll.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"sender":          sender,
			"receiver":        receiver,
			"read":            false,
		},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkMessageRead marks a single message read. Only the receiver may do
// so; any other caller gets NotFound.
func (m *MessagesStore) MarkMessageRead(ctx context.Context, id, receiver bson.ObjectID) (*Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg Message
	err := m.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "receiver": receiver},
		bson.M{"$set": bson.M{"read": true}},
		opts,
	).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("message not found")
		}
		return nil, err
	}
	return &msg, nil
}

// ListConversationsFor groups every message touching user by conversation,
// keeping the newest message of each group and the number of unread
// messages addressed to user. Rows are ordered newest conversation first.
// OtherUser is left empty; callers populate it from OtherParty.
func (m *MessagesStore) ListConversationsFor(ctx context.Context, user bson.ObjectID) ([]*ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "sender", Value: user}},
				bson.D{{Key: "receiver", Value: user}},
			}},
		}}},

		// newest first so $first picks the latest message of each group
		bson.D{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},

		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$conversation_id"},
			{Key: "other_party", Value: bson.D{{Key: "$first", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$sender", user}}},
					"$receiver",
					"$sender",
				}},
			}}}},
			{Key: "last_message", Value: bson.D{{Key: "$first", Value: "$content"}}},
			{Key: "last_message_at", Value: bson.D{{Key: "$first", Value: "$created_at"}}},
			{Key: "unread_count", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$and", Value: bson.A{
						bson.D{{Key: "$eq", Value: bson.A{"$receiver", user}}},
						bson.D{{Key: "$eq", Value: bson.A{"$read", false}}},
					}}},
					1,
					0,
				}},
			}}}},
		}}},

		bson.D{{Key: "$sort", Value: bson.D{{Key: "last_message_at", Value: -1}}}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	summaries := []*ConversationSummary{}
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// DeleteConversation removes every message of the conversation. There is
// no soft delete.
func (m *MessagesStore) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
