package presence

import (
	"context"
	"sync"
	"time"

	"github.com/gkkary3/Netless/internal/events"
	"github.com/gkkary3/Netless/internal/metrics"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Directory persists presence fields of the user entity.
type Directory interface {
	SetPresence(ctx context.Context, id bson.ObjectID, online bool, at time.Time) error
}

// Tracker drives presence transitions: it mutates the Registry, persists
// is_online/last_seen, and broadcasts user_online/user_offline. Transitions
// of one user are serialized so a reconnect racing a disconnect cannot
// persist its state out of order.
type Tracker struct {
	reg     *Registry
	dir     Directory
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	locks   keyedMutex
}

// NewTracker returns a Tracker over reg and dir.
func NewTracker(reg *Registry, dir Directory, m *metrics.Metrics, log *zap.Logger) *Tracker {
	return &Tracker{
		reg:     reg,
		dir:     dir,
		log:     log,
		metrics: m,
		now:     time.Now,
		locks:   keyedMutex{locks: make(map[string]*refLock)},
	}
}

// Registry returns the registry the tracker mutates.
func (t *Tracker) Registry() *Registry { return t.reg }

// Connect registers h for user. On the user's first handle the user is
// persisted online and every other connected user is told; later handles
// only refresh last_seen. It reports whether this was the first handle.
func (t *Tracker) Connect(ctx context.Context, user bson.ObjectID, h Handle) bool {
	id := user.Hex()
	unlock := t.locks.Lock(id)
	defer unlock()

	first := t.reg.Register(id, h)
	t.metrics.Connections.Inc()

	if err := t.dir.SetPresence(ctx, user, true, t.now()); err != nil {
		// the registry stays authoritative; the next heartbeat retries
		t.log.Warn("presence_persist_failed", zap.String("user_id", id), zap.Bool("online", true), zap.Error(err))
	}

	if first {
		t.metrics.OnlineUsers.Inc()
		n := t.reg.Broadcast(id, events.Must(events.UserOnline, events.UserPayload{UserID: id}))
		t.log.Info("user_online", zap.String("user_id", id), zap.String("conn_id", h.ID()), zap.Int("notified", n))
	}
	return first
}

// Disconnect removes h. On the user's last handle the user is persisted
// offline and every other connected user is told; otherwise last_seen is
// refreshed. It reports whether this was the last handle.
func (t *Tracker) Disconnect(ctx context.Context, user bson.ObjectID, h Handle) bool {
	id := user.Hex()
	unlock := t.locks.Lock(id)
	defer unlock()

	removed, last := t.reg.Unregister(id, h)
	if !removed {
		return false
	}
	t.metrics.Connections.Dec()

	if err := t.dir.SetPresence(ctx, user, !last, t.now()); err != nil {
		// the reconciler demotes the user if this was the last handle
		t.log.Warn("presence_persist_failed", zap.String("user_id", id), zap.Bool("online", !last), zap.Error(err))
	}

	if last {
		t.metrics.OnlineUsers.Dec()
		n := t.reg.Broadcast(id, events.Must(events.UserOffline, events.UserPayload{UserID: id}))
		t.log.Info("user_offline", zap.String("user_id", id), zap.String("conn_id", h.ID()), zap.Int("notified", n))
	}
	return last
}

// Heartbeat refreshes last_seen for a user that is still registered. It is
// a no-op once the user's last handle is gone, so a late heartbeat cannot
// resurrect an offline user.
func (t *Tracker) Heartbeat(ctx context.Context, user bson.ObjectID) error {
	id := user.Hex()
	unlock := t.locks.Lock(id)
	defer unlock()

	if !t.reg.IsOnline(id) {
		return nil
	}
	return t.dir.SetPresence(ctx, user, true, t.now())
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
