// Package chat implements message persistence rules on top of the stores:
// validation, conversation id derivation, profile population, and the
// read tracking shared by the REST and realtime entry points.
package chat

import (
	"context"
	"errors"

	"github.com/gkkary3/Netless/internal/apperr"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// SearchLimit caps user search results.
const SearchLimit = 10

// MessageRepository is the durable message store.
type MessageRepository interface {
	Append(ctx context.Context, sender, receiver bson.ObjectID, content string) (*data.Message, error)
	ListConversation(ctx context.Context, conversationID string) ([]*data.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string, sender, receiver bson.ObjectID) (int64, error)
	MarkMessageRead(ctx context.Context, id, receiver bson.ObjectID) (*data.Message, error)
	ListConversationsFor(ctx context.Context, user bson.ObjectID) ([]*data.ConversationSummary, error)
	DeleteConversation(ctx context.Context, conversationID string) (int64, error)
}

// UserDirectory is the read side of the users collection.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	UserExists(ctx context.Context, id bson.ObjectID) (bool, error)
	Profiles(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]*data.User, error)
	SearchUsers(ctx context.Context, exclude bson.ObjectID, query string, restrictTo []bson.ObjectID, limit int64) ([]*data.User, error)
	GetPresence(ctx context.Context, id bson.ObjectID) (*data.Presence, error)
}

// Service is the message store as seen by the transports.
type Service struct {
	messages MessageRepository
	users    UserDirectory
	notifier ReadNotifier
	log      *zap.Logger
}

// NewService returns a Service. A nil notifier disables read receipts.
func NewService(messages MessageRepository, users UserDirectory, notifier ReadNotifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{messages: messages, users: users, notifier: notifier, log: log}
}

// SearchResult is one row of a user search.
type SearchResult struct {
	data.Participant
	Email    string `json:"email"`
	IsFriend bool   `json:"isFriend"`
}

// Send validates and stores a message from sender to receiverID and returns
// it populated. Empty content and self-addressed messages are rejected
// before anything is written.
func (s *Service) Send(ctx context.Context, sender bson.ObjectID, receiverID, content string) (*data.PopulatedMessage, error) {
	content = normalize.Content(content)
	if content == "" {
		return nil, apperr.Validation("message content is required")
	}
	receiver, err := ParseUserID(receiverID)
	if err != nil {
		return nil, err
	}
	if receiver == sender {
		return nil, apperr.Validation("cannot send a message to yourself")
	}
	if err := s.requireUser(ctx, receiver); err != nil {
		return nil, err
	}

	msg, err := s.messages.Append(ctx, sender, receiver, content)
	if err != nil {
		return nil, storeErr("save message", err)
	}

	out, err := s.populate(ctx, []*data.Message{msg})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Conversation returns the messages between me and peerID, oldest first.
func (s *Service) Conversation(ctx context.Context, me bson.ObjectID, peerID string) ([]*data.PopulatedMessage, error) {
	peer, err := ParseUserID(peerID)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, peer); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListConversation(ctx, data.ConversationID(me.Hex(), peer.Hex()))
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	return s.populate(ctx, msgs)
}

// FetchConversation is Conversation followed by marking peer's messages to
// me as read. The returned messages carry their state from before the mark.
func (s *Service) FetchConversation(ctx context.Context, me bson.ObjectID, peerID string) ([]*data.PopulatedMessage, error) {
	msgs, err := s.Conversation(ctx, me, peerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.MarkConversationRead(ctx, me, "", peerID); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkMessageRead marks one message read. Only its receiver may do so.
func (s *Service) MarkMessageRead(ctx context.Context, reader bson.ObjectID, messageID string) (*data.PopulatedMessage, error) {
	id, err := bson.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, apperr.Validation("invalid message id")
	}
	msg, err := s.messages.MarkMessageRead(ctx, id, reader)
	if err != nil {
		return nil, storeErr("mark message read", err)
	}
	out, err := s.populate(ctx, []*data.Message{msg})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ListConversations returns me's conversations, newest first, with the
// other party's profile filled in.
func (s *Service) ListConversations(ctx context.Context, me bson.ObjectID) ([]*data.ConversationSummary, error) {
	rows, err := s.messages.ListConversationsFor(ctx, me)
	if err != nil {
		return nil, storeErr("list conversations", err)
	}

	ids := make([]bson.ObjectID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.OtherParty)
	}
	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		return nil, storeErr("load profiles", err)
	}
	for _, row := range rows {
		row.OtherUser = participant(profiles, row.OtherParty)
	}
	return rows, nil
}

// DeleteConversation removes every message of conversationID. me must be
// one of its participants.
func (s *Service) DeleteConversation(ctx context.Context, me bson.ObjectID, conversationID string) (int64, error) {
	if _, err := data.OtherParticipant(conversationID, me.Hex()); err != nil {
		return 0, apperr.NotFound("conversation not found")
	}
	n, err := s.messages.DeleteConversation(ctx, conversationID)
	if err != nil {
		return 0, storeErr("delete conversation", err)
	}
	s.log.Info("conversation_deleted", zap.String("conversation_id", conversationID), zap.String("user_id", me.Hex()), zap.Int64("deleted", n))
	return n, nil
}

// SearchUsers finds users matching query, excluding me. With onlyFriends
// the search is restricted to me's friends.
func (s *Service) SearchUsers(ctx context.Context, me bson.ObjectID, query string, onlyFriends bool) ([]SearchResult, error) {
	query = normalize.Query(query)
	if query == "" {
		return nil, apperr.Validation("search query is required")
	}

	self, err := s.users.GetUserByID(ctx, me)
	if err != nil {
		return nil, storeErr("load user", err)
	}
	friends := make(map[bson.ObjectID]bool, len(self.Friends))
	friendIDs := make([]bson.ObjectID, 0, len(self.Friends))
	for _, f := range self.Friends {
		id, err := bson.ObjectIDFromHex(f)
		if err != nil {
			continue
		}
		friends[id] = true
		friendIDs = append(friendIDs, id)
	}

	var restrictTo []bson.ObjectID
	if onlyFriends {
		restrictTo = friendIDs
	}
	users, err := s.users.SearchUsers(ctx, me, query, restrictTo, SearchLimit)
	if err != nil {
		return nil, storeErr("search users", err)
	}

	out := make([]SearchResult, 0, len(users))
	for _, u := range users {
		out = append(out, SearchResult{Participant: u.Participant(), Email: u.Email, IsFriend: friends[u.ID]})
	}
	return out, nil
}

// Presence returns the persisted presence of userID.
func (s *Service) Presence(ctx context.Context, userID string) (*data.Presence, error) {
	id, err := ParseUserID(userID)
	if err != nil {
		return nil, err
	}
	p, err := s.users.GetPresence(ctx, id)
	if err != nil {
		return nil, storeErr("load presence", err)
	}
	return p, nil
}

// ParseUserID parses a hex user id, failing with a validation error.
func ParseUserID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.NilObjectID, apperr.Validation("invalid user id")
	}
	return oid, nil
}

func (s *Service) requireUser(ctx context.Context, id bson.ObjectID) error {
	ok, err := s.users.UserExists(ctx, id)
	if err != nil {
		return storeErr("load user", err)
	}
	if !ok {
		return apperr.NotFound("user not found")
	}
	return nil
}

func (s *Service) populate(ctx context.Context, msgs []*data.Message) ([]*data.PopulatedMessage, error) {
	seen := make(map[bson.ObjectID]bool)
	var ids []bson.ObjectID
	for _, m := range msgs {
		for _, id := range []bson.ObjectID{m.Sender, m.Receiver} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	profiles, err := s.users.Profiles(ctx, ids)
	if err != nil {
		return nil, storeErr("load profiles", err)
	}

	out := make([]*data.PopulatedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &data.PopulatedMessage{
			ID:             m.ID.Hex(),
			Sender:         participant(profiles, m.Sender),
			Receiver:       participant(profiles, m.Receiver),
			Content:        m.Content,
			Read:           m.Read,
			ConversationID: m.ConversationID,
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}

// participant falls back to a bare id for users that no longer exist.
func participant(profiles map[bson.ObjectID]*data.User, id bson.ObjectID) data.Participant {
	if u, ok := profiles[id]; ok {
		return u.Participant()
	}
	return data.Participant{ID: id.Hex()}
}

// storeErr keeps classified errors and wraps everything else as a store
// failure.
func storeErr(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Store(op, err)
}
