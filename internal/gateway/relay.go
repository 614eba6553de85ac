package gateway

import (
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/events"
	"github.com/gkkary3/Netless/internal/metrics"
	"github.com/gkkary3/Netless/internal/presence"
	"go.uber.org/zap"
)

// Relay pushes server-initiated events to whichever connections of a user
// are live. Offline users are skipped; they see the change on next fetch.
type Relay struct {
	reg     *presence.Registry
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewRelay returns a Relay over reg.
func NewRelay(reg *presence.Registry, m *metrics.Metrics, log *zap.Logger) *Relay {
	return &Relay{reg: reg, metrics: m, log: log}
}

// Message delivers msg to its receiver as receive_message and returns the
// relay outcome.
func (r *Relay) Message(msg *data.PopulatedMessage) string {
	env := events.Must(events.ReceiveMessage, events.MessagePayload{PopulatedMessage: msg})
	n, err := r.reg.SendTo(msg.Receiver.ID, env)

	outcome := metrics.RelayLive
	switch {
	case n == 0 && err != nil:
		outcome = metrics.RelayFailed
		r.log.Warn("message_relay_failed", zap.String("message_id", msg.ID), zap.String("receiver_id", msg.Receiver.ID), zap.Error(err))
	case n == 0:
		outcome = metrics.RelayOffline
	}
	r.metrics.Relays.WithLabelValues(outcome).Inc()
	return outcome
}

// ConversationRead tells senderID that readBy read the conversation.
func (r *Relay) ConversationRead(senderID, conversationID, readBy string) {
	env := events.Must(events.ConversationRead, events.ConversationReadPayload{
		ConversationID: conversationID,
		ReadBy:         readBy,
	})
	if _, err := r.reg.SendTo(senderID, env); err != nil {
		r.log.Debug("conversation_read_relay_failed", zap.String("sender_id", senderID), zap.Error(err))
	}
}
