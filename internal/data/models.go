package data

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User maps to the users collection. Only the identity, profile and presence
// fields are read or written here; the rest of the profile belongs to other
// services.
type User struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Email        string        `bson:"email"`
	Password     string        `bson:"password,omitempty"`
	Username     string        `bson:"username"`
	ProfileImage string        `bson:"profile_image,omitempty"`
	Friends      []string      `bson:"friends,omitempty"`
	IsOnline     bool          `bson:"is_online"`
	LastSeen     time.Time     `bson:"last_seen"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
}

// Participant is the public view of a user embedded in message payloads.
type Participant struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// Participant returns the public view of u.
func (u *User) Participant() Participant {
	return Participant{ID: u.ID.Hex(), Username: u.Username, ProfileImage: u.ProfileImage}
}

// Presence is the persisted presence state of a user.
type Presence struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Message maps to the messages collection. Everything except Read is
// immutable after insert.
type Message struct {
	ID             bson.ObjectID `bson:"_id"`
	Sender         bson.ObjectID `bson:"sender"`
	Receiver       bson.ObjectID `bson:"receiver"`
	Content        string        `bson:"content"`
	Read           bool          `bson:"read"`
	ConversationID string        `bson:"conversation_id"`
	CreatedAt      time.Time     `bson:"created_at"`
}

// PopulatedMessage is a Message with both parties resolved to profiles; it
// is the shape sent to clients over REST and the gateway.
type PopulatedMessage struct {
	ID             string      `json:"id"`
	Sender         Participant `json:"sender"`
	Receiver       Participant `json:"receiver"`
	Content        string      `json:"content"`
	Read           bool        `json:"read"`
	ConversationID string      `json:"conversationId"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID string        `bson:"_id" json:"conversationId"`
	OtherParty     bson.ObjectID `bson:"other_party" json:"-"`
	OtherUser      Participant   `bson:"-" json:"otherUser"`
	LastMessage    string        `bson:"last_message" json:"lastMessage"`
	LastMessageAt  time.Time     `bson:"last_message_at" json:"lastMessageAt"`
	UnreadCount    int           `bson:"unread_count" json:"unreadCount"`
}
