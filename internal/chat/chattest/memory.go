// Package chattest provides in-memory stores with the same semantics as the
// Mongo stores, for tests of the layers above them.
package chattest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gkkary3/Netless/internal/apperr"
	"github.com/gkkary3/Netless/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Messages is an in-memory message store. Set Err to make every call fail.
type Messages struct {
	mu   sync.Mutex
	rows []*data.Message
	// Err, when set, is returned by every method.
	Err error
	now func() time.Time
}

// NewMessages returns an empty store whose clock advances one millisecond
// per append so ordering is deterministic.
func NewMessages() *Messages {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	return &Messages{now: func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}}
}

func (m *Messages) Append(ctx context.Context, sender, receiver bson.ObjectID, content string) (*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	msg := &data.Message{
		ID:             bson.NewObjectID(),
		Sender:         sender,
		Receiver:       receiver,
		Content:        content,
		ConversationID: data.ConversationID(sender.Hex(), receiver.Hex()),
		CreatedAt:      m.now(),
	}
	m.rows = append(m.rows, msg)
	cp := *msg
	return &cp, nil
}

func (m *Messages) ListConversation(ctx context.Context, conversationID string) ([]*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := []*data.Message{}
	for _, r := range m.rows {
		if r.ConversationID == conversationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Messages) MarkConversationRead(ctx context.Context, conversationID string, sender, receiver bson.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for _, r := range m.rows {
		if r.ConversationID == conversationID && r.Sender == sender && r.Receiver == receiver && !r.Read {
			r.Read = true
			n++
		}
	}
	return n, nil
}

func (m *Messages) MarkMessageRead(ctx context.Context, id, receiver bson.ObjectID) (*data.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, r := range m.rows {
		if r.ID == id && r.Receiver == receiver {
			r.Read = true
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("message not found")
}

func (m *Messages) ListConversationsFor(ctx context.Context, user bson.ObjectID) ([]*data.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	byConv := make(map[string]*data.ConversationSummary)
	for _, r := range m.rows {
		if r.Sender != user && r.Receiver != user {
			continue
		}
		row, ok := byConv[r.ConversationID]
		if !ok {
			other := r.Receiver
			if other == user {
				other = r.Sender
			}
			row = &data.ConversationSummary{ConversationID: r.ConversationID, OtherParty: other}
			byConv[r.ConversationID] = row
		}
		if !r.CreatedAt.Before(row.LastMessageAt) {
			row.LastMessage = r.Content
			row.LastMessageAt = r.CreatedAt
		}
		if r.Receiver == user && !r.Read {
			row.UnreadCount++
		}
	}
	out := make([]*data.ConversationSummary, 0, len(byConv))
	for _, row := range byConv {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (m *Messages) DeleteConversation(ctx context.Context, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if r.ConversationID == conversationID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

// Fail makes every later call return err; nil restores normal behavior.
func (m *Messages) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Len returns the number of stored messages.
func (m *Messages) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Users is an in-memory user directory.
type Users struct {
	mu    sync.Mutex
	users map[bson.ObjectID]*data.User
	// Err, when set, is returned by every method.
	Err error
}

// NewUsers returns an empty directory.
func NewUsers() *Users {
	return &Users{users: make(map[bson.ObjectID]*data.User)}
}

// Add inserts a user with the given username and returns it.
func (u *Users) Add(username string, friends ...bson.ObjectID) *data.User {
	u.mu.Lock()
	defer u.mu.Unlock()
	user := &data.User{
		ID:       bson.NewObjectID(),
		Email:    strings.ToLower(username) + "@example.com",
		Username: username,
	}
	for _, f := range friends {
		user.Friends = append(user.Friends, f.Hex())
	}
	u.users[user.ID] = user
	return user
}

// Fail makes every later call return err; nil restores normal behavior.
func (u *Users) Fail(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Err = err
}

func (u *Users) CreateUser(ctx context.Context, email, hashedPassword, username string) (*data.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	for _, existing := range u.users {
		if existing.Email == email {
			return nil, data.ErrUserExists
		}
	}
	user := &data.User{ID: bson.NewObjectID(), Email: email, Password: hashedPassword, Username: username}
	u.users[user.ID] = user
	cp := *user
	return &cp, nil
}

func (u *Users) GetUserByEmail(ctx context.Context, email string) (*data.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	for _, user := range u.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (u *Users) GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	user, ok := u.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *user
	return &cp, nil
}

func (u *Users) UserExists(ctx context.Context, id bson.ObjectID) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return false, u.Err
	}
	_, ok := u.users[id]
	return ok, nil
}

func (u *Users) Profiles(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]*data.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	out := make(map[bson.ObjectID]*data.User, len(ids))
	for _, id := range ids {
		if user, ok := u.users[id]; ok {
			cp := *user
			out[id] = &cp
		}
	}
	return out, nil
}

func (u *Users) SearchUsers(ctx context.Context, exclude bson.ObjectID, query string, restrictTo []bson.ObjectID, limit int64) ([]*data.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	allowed := map[bson.ObjectID]bool{}
	for _, id := range restrictTo {
		allowed[id] = true
	}
	q := strings.ToLower(query)
	var out []*data.User
	for _, user := range u.users {
		if user.ID == exclude || (restrictTo != nil && !allowed[user.ID]) {
			continue
		}
		if strings.Contains(strings.ToLower(user.Username), q) || strings.Contains(strings.ToLower(user.Email), q) {
			cp := *user
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (u *Users) SetPresence(ctx context.Context, id bson.ObjectID, online bool, at time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return u.Err
	}
	user, ok := u.users[id]
	if !ok {
		return apperr.NotFound("user not found")
	}
	user.IsOnline = online
	user.LastSeen = at
	return nil
}

func (u *Users) GetPresence(ctx context.Context, id bson.ObjectID) (*data.Presence, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	user, ok := u.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return &data.Presence{UserID: id.Hex(), IsOnline: user.IsOnline, LastSeen: user.LastSeen}, nil
}
