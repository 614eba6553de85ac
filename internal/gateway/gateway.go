// Package gateway terminates realtime client streams: it authenticates the
// caller, keeps the presence registry current for the life of the stream,
// and dispatches inbound events to the message store.
package gateway

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gkkary3/Netless/internal/apperr"
	"github.com/gkkary3/Netless/internal/auth"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/events"
	"github.com/gkkary3/Netless/internal/metrics"
	"github.com/gkkary3/Netless/internal/presence"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// disconnectTimeout bounds the presence write made after a stream ends.
const disconnectTimeout = 5 * time.Second

// Messenger is the message store operations reachable from a stream.
type Messenger interface {
	Send(ctx context.Context, sender bson.ObjectID, receiverID, content string) (*data.PopulatedMessage, error)
	MarkConversationRead(ctx context.Context, reader bson.ObjectID, conversationID, senderID string) (int64, error)
	MarkMessageRead(ctx context.Context, reader bson.ObjectID, messageID string) (*data.PopulatedMessage, error)
}

// Limiter decides whether key may act now.
type Limiter interface {
	Allow(key string) bool
}

// Config tunes a Gateway.
type Config struct {
	// HeartbeatInterval is how often an open stream refreshes last_seen.
	HeartbeatInterval time.Duration
	// OutboundBuffer is the per-connection queue length.
	OutboundBuffer int
}

// Gateway implements StreamServer.
type Gateway struct {
	cfg     Config
	tracker *presence.Tracker
	msgs    Messenger
	relay   *Relay
	sends   Limiter
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New returns a Gateway. sends limits send_message per user.
func New(cfg Config, tracker *presence.Tracker, msgs Messenger, relay *Relay, sends Limiter, m *metrics.Metrics, log *zap.Logger) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Gateway{
		cfg:     cfg,
		tracker: tracker,
		msgs:    msgs,
		relay:   relay,
		sends:   sends,
		metrics: m,
		log:     log,
	}
}

// Connect serves one stream from open to close.
func (g *Gateway) Connect(stream Stream) error {
	claims, ok := auth.FromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "unauthenticated")
	}
	user := claims.Subject()

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	c := newConn(user, g.cfg.OutboundBuffer, cancel)
	defer c.close()

	g.tracker.Connect(ctx, user, c)
	defer func() {
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer dcancel()
		g.tracker.Disconnect(dctx, user, c)
	}()

	log := g.log.With(zap.String("user_id", user.Hex()), zap.String("conn_id", c.ID()))
	log.Info("gateway_connected")

	// snapshot is taken after registration, so it includes the caller
	online := g.tracker.Registry().Snapshot()
	_ = c.Send(events.Must(events.OnlineUsersList, events.OnlineUsersPayload{OnlineUsers: online}))

	errc := make(chan error, 2)
	go func() { errc <- c.writeLoop(stream) }()
	go func() { errc <- g.readLoop(ctx, c, stream) }()

	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := g.tracker.Heartbeat(ctx, user); err != nil {
				log.Warn("heartbeat_persist_failed", zap.Error(err))
			}
		case err := <-errc:
			return g.closed(log, c, err)
		case <-ctx.Done():
			return g.closed(log, c, nil)
		}
	}
}

// closed maps the reason a stream ended to the status returned to the
// client.
func (g *Gateway) closed(log *zap.Logger, c *conn, err error) error {
	if c.overflowed.Load() {
		log.Warn("gateway_slow_consumer_closed", zap.Int("buffer", cap(c.out)))
		return status.Error(codes.ResourceExhausted, "outbound queue overflow")
	}
	if err == nil || errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		log.Info("gateway_disconnected")
		return nil
	}
	log.Info("gateway_disconnected", zap.Error(err))
	return err
}

// readLoop dispatches inbound events until the client half-closes or the
// stream fails. A client half-close ends the session.
func (g *Gateway) readLoop(ctx context.Context, c *conn, stream Stream) error {
	for {
		env, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		g.handle(ctx, c, env)
	}
}

// handle runs one inbound event. Failures are reported to c only.
func (g *Gateway) handle(ctx context.Context, c *conn, env *events.Envelope) {
	cmd, err := events.ParseCommand(env)
	if err != nil {
		g.metrics.Events.WithLabelValues("invalid").Inc()
		g.sendError(c, env.Event, apperr.Validation(err.Error()), "")
		return
	}
	g.metrics.Events.WithLabelValues(events.Name(cmd)).Inc()

	switch cmd := cmd.(type) {
	case events.SendMessage:
		g.sendMessage(ctx, c, cmd)

	case events.MarkConversationAsRead:
		if _, err := g.msgs.MarkConversationRead(ctx, c.user, cmd.ConversationID, cmd.SenderID); err != nil {
			g.sendError(c, events.MarkConversationAsReadEvent, err, "")
		}

	case events.MarkAsRead:
		if _, err := g.msgs.MarkMessageRead(ctx, c.user, cmd.MessageID); err != nil {
			g.sendError(c, events.MarkAsReadEvent, err, "")
		}

	case events.Heartbeat:
		if err := g.tracker.Heartbeat(ctx, c.user); err != nil {
			g.sendError(c, events.HeartbeatEvent, apperr.Store("heartbeat", err), "")
		}
	}
}

func (g *Gateway) sendMessage(ctx context.Context, c *conn, cmd events.SendMessage) {
	if g.sends != nil && !g.sends.Allow(c.user.Hex()) {
		g.sendError(c, events.SendMessageEvent, apperr.RateLimited("sending too fast"), cmd.Ref)
		return
	}

	msg, err := g.msgs.Send(ctx, c.user, cmd.ReceiverID, cmd.Content)
	if err != nil {
		g.sendError(c, events.SendMessageEvent, err, cmd.Ref)
		return
	}

	_ = c.Send(events.Must(events.MessageSent, events.MessagePayload{PopulatedMessage: msg, Ref: cmd.Ref}))
	outcome := g.relay.Message(msg)

	g.log.Debug("message_sent",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
		zap.String("relay", outcome),
	)
}

func (g *Gateway) sendError(c *conn, event string, err error, ref string) {
	if errors.Is(err, apperr.ErrStore) {
		g.log.Error("gateway_event_failed", zap.String("event", event), zap.String("user_id", c.user.Hex()), zap.Error(err))
	}
	_ = c.Send(events.Must(events.MessageError, events.ErrorPayload{
		Event: event,
		Kind:  apperr.Code(err),
		Error: apperr.Message(err),
		Ref:   ref,
	}))
}
