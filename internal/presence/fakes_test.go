package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gkkary3/Netless/internal/events"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type fakeHandle struct {
	id   string
	fail bool

	mu  sync.Mutex
	got []*events.Envelope
}

func newHandle(id string) *fakeHandle { return &fakeHandle{id: id} }

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(env *events.Envelope) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, env)
	return nil
}

func (f *fakeHandle) events(name string) []*events.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*events.Envelope
	for _, e := range f.got {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

type presenceRow struct {
	online   bool
	lastSeen time.Time
}

// fakeDirectory keeps persisted presence in memory with the same semantics
// as the users store.
type fakeDirectory struct {
	mu     sync.Mutex
	rows   map[bson.ObjectID]*presenceRow
	writes int
	fail   error
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{rows: make(map[bson.ObjectID]*presenceRow)}
}

func (d *fakeDirectory) SetPresence(ctx context.Context, id bson.ObjectID, online bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.writes++
	d.rows[id] = &presenceRow{online: online, lastSeen: at}
	return nil
}

func (d *fakeDirectory) DemoteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return 0, d.fail
	}
	var n int64
	for _, row := range d.rows {
		if row.online && row.lastSeen.Before(cutoff) {
			row.online = false
			n++
		}
	}
	return n, nil
}

func (d *fakeDirectory) row(id bson.ObjectID) presenceRow {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rows[id]; ok {
		return *r
	}
	return presenceRow{}
}
