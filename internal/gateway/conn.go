package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gkkary3/Netless/internal/events"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("outbound queue full")
)

// conn is the presence.Handle of one gateway stream. Send only enqueues;
// a single writer drains the queue into the stream.
type conn struct {
	id     string
	user   bson.ObjectID
	out    chan *events.Envelope
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	overflowed atomic.Bool
}

func newConn(user bson.ObjectID, buffer int, cancel context.CancelFunc) *conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &conn{
		id:     uuid.NewString(),
		user:   user,
		out:    make(chan *events.Envelope, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (c *conn) ID() string { return c.id }

// Send queues env. When the queue is full the connection is closed rather
// than blocking the caller.
func (c *conn) Send(env *events.Envelope) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- env:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		c.overflowed.Store(true)
		c.close()
		return errSlowConsumer
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// writeLoop sends queued envelopes until the connection closes or a send
// fails.
func (c *conn) writeLoop(s Stream) error {
	for {
		select {
		case env := <-c.out:
			if err := s.Send(env); err != nil {
				c.close()
				return err
			}
		case <-c.done:
			return nil
		}
	}
}
