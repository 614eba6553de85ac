package data

import (
	"fmt"
	"strings"
)

// ConversationSeparator joins the two participant ids of a conversation.
// Hex object ids never contain it.
const ConversationSeparator = "_"

// ConversationID returns the identifier of the conversation between a and
// b. It is the lexicographically sorted join of the two ids, so it does not
// depend on which side is the sender.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ConversationSeparator + b
}

// Participants splits a conversation id into its two user ids.
func Participants(conversationID string) (string, string, error) {
	parts := strings.Split(conversationID, ConversationSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed conversation id %q", conversationID)
	}
	return parts[0], parts[1], nil
}

// OtherParticipant returns the participant of conversationID that is not me.
func OtherParticipant(conversationID, me string) (string, error) {
	a, b, err := Participants(conversationID)
	if err != nil {
		return "", err
	}
	switch me {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", fmt.Errorf("user %s is not part of conversation %s", me, conversationID)
}
