package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/gkkary3/Netless/internal/events"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestConn_OverflowClosesConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := newConn(bson.NewObjectID(), 1, cancel)

	env := events.Must(events.UserOnline, events.UserPayload{UserID: "x"})
	if err := c.Send(env); err != nil {
		t.Fatalf("first send should queue: %v", err)
	}
	if err := c.Send(env); !errors.Is(err, errSlowConsumer) {
		t.Fatalf("second send = %v, want slow consumer", err)
	}
	if !c.overflowed.Load() {
		t.Fatal("overflow flag not set")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("overflow must cancel the stream context")
	}
	if err := c.Send(env); !errors.Is(err, errConnClosed) {
		t.Fatalf("send after close = %v, want closed", err)
	}
}

type recordingStream struct {
	ctx  context.Context
	sent chan *events.Envelope
	fail error
}

func (s *recordingStream) Send(env *events.Envelope) error {
	if s.fail != nil {
		return s.fail
	}
	s.sent <- env
	return nil
}

func (s *recordingStream) Recv() (*events.Envelope, error) { select {} }

func (s *recordingStream) Context() context.Context { return s.ctx }

func TestConn_WriteLoopDrainsInOrder(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	c := newConn(bson.NewObjectID(), 8, cancel)
	s := &recordingStream{ctx: context.Background(), sent: make(chan *events.Envelope, 8)}

	done := make(chan error, 1)
	go func() { done <- c.writeLoop(s) }()

	for _, name := range []string{events.UserOnline, events.MessageSent, events.UserOffline} {
		if err := c.Send(events.Must(name, struct{}{})); err != nil {
			t.Fatalf("Send(%s) failed: %v", name, err)
		}
	}
	for _, want := range []string{events.UserOnline, events.MessageSent, events.UserOffline} {
		if got := (<-s.sent).Event; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}

	c.close()
	if err := <-done; err != nil {
		t.Fatalf("writeLoop returned %v after close", err)
	}
}

func TestConn_WriteFailureCloses(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	c := newConn(bson.NewObjectID(), 2, cancel)
	boom := errors.New("transport closed")
	s := &recordingStream{ctx: context.Background(), fail: boom}

	_ = c.Send(events.Must(events.UserOnline, struct{}{}))
	if err := c.writeLoop(s); !errors.Is(err, boom) {
		t.Fatalf("writeLoop = %v, want %v", err, boom)
	}
	if err := c.Send(events.Must(events.UserOnline, struct{}{})); !errors.Is(err, errConnClosed) {
		t.Fatalf("send after failure = %v, want closed", err)
	}
}
