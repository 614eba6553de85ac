package gateway

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gkkary3/Netless/internal/auth"
	"github.com/gkkary3/Netless/internal/chat"
	"github.com/gkkary3/Netless/internal/chat/chattest"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/events"
	"github.com/gkkary3/Netless/internal/metrics"
	"github.com/gkkary3/Netless/internal/middleware"
	"github.com/gkkary3/Netless/internal/presence"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const (
	bufSize = 1024 * 1024
	waitFor = 2 * time.Second
)

type harness struct {
	t        *testing.T
	users    *chattest.Users
	messages *chattest.Messages
	svc      *chat.Service
	reg      *presence.Registry
	metrics  *metrics.Metrics
	jwt      *auth.JWTManager
	conn     *grpc.ClientConn
}

type harnessOpts struct {
	cfg       Config
	sendRPM   int
	sendBurst int
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.sendRPM == 0 {
		opts.sendRPM, opts.sendBurst = 600, 100
	}

	log := zap.NewNop()
	h := &harness{
		t:        t,
		users:    chattest.NewUsers(),
		messages: chattest.NewMessages(),
		reg:      presence.NewRegistry(),
		metrics:  metrics.New(),
		jwt:      auth.NewJWTManager("test-secret", time.Hour),
	}

	tracker := presence.NewTracker(h.reg, h.users, h.metrics, log)
	relay := NewRelay(h.reg, h.metrics, log)
	h.svc = chat.NewService(h.messages, h.users, relay, log)

	limiter := middleware.NewLimiterStore(opts.sendRPM, opts.sendBurst, time.Minute)
	t.Cleanup(limiter.Stop)

	gw := New(opts.cfg, tracker, h.svc, relay, limiter, h.metrics, log)

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(grpc.ChainStreamInterceptor(middleware.AuthStreamInterceptor(h.jwt, nil)))
	Register(s, gw)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	h.conn = conn
	return h
}

type testClient struct {
	*Client
	in   chan *events.Envelope
	errc chan error
}

func (h *harness) dialToken(token string) *testClient {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(cancel)

	c, err := Dial(ctx, h.conn, token)
	if err != nil {
		h.t.Fatalf("Dial failed: %v", err)
	}
	tc := &testClient{Client: c, in: make(chan *events.Envelope, 128), errc: make(chan error, 1)}
	go func() {
		for {
			env, err := c.Recv()
			if err != nil {
				tc.errc <- err
				close(tc.in)
				return
			}
			tc.in <- env
		}
	}()
	return tc
}

// connect opens a stream for u and waits until the server has registered it.
func (h *harness) connect(u *data.User) *testClient {
	h.t.Helper()
	token, _, err := h.jwt.GenerateToken(u.ID, u.Email)
	if err != nil {
		h.t.Fatalf("GenerateToken failed: %v", err)
	}
	tc := h.dialToken(token)
	tc.expect(h.t, events.OnlineUsersList)
	return tc
}

// expect skips events until one named name arrives.
func (tc *testClient) expect(t *testing.T, name string) *events.Envelope {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case env, ok := <-tc.in:
			if !ok {
				t.Fatalf("stream closed while waiting for %s", name)
			}
			if env.Event == name {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

// expectNone fails if an event named name arrives within d.
func (tc *testClient) expectNone(t *testing.T, name string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case env, ok := <-tc.in:
			if !ok {
				return
			}
			if env.Event == name {
				t.Fatalf("unexpected %s event: %s", name, env.Data)
			}
		case <-deadline:
			return
		}
	}
}

func (tc *testClient) closeErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-tc.errc:
		return err
	case <-time.After(waitFor):
		t.Fatal("stream did not close")
		return nil
	}
}

func decode[T any](t *testing.T, env *events.Envelope) T {
	t.Helper()
	var v T
	if err := env.Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", env.Event, err)
	}
	return v
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	tc := h.dialToken("not-a-token")

	err := tc.closeErr(t)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	if users, _ := h.reg.Counts(); users != 0 {
		t.Fatal("rejected connection must not be registered")
	}
}

func TestGateway_SnapshotAndPresenceBroadcast(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	alice, bob := h.users.Add("alice"), h.users.Add("bob")

	a := h.connect(alice)

	token, _, _ := h.jwt.GenerateToken(bob.ID, bob.Email)
	b := h.dialToken(token)
	snap := decode[events.OnlineUsersPayload](t, b.expect(t, events.OnlineUsersList))
	if len(snap.OnlineUsers) != 2 {
		t.Fatalf("bob's snapshot should list alice and bob, got %v", snap.OnlineUsers)
	}

	on := decode[events.UserPayload](t, a.expect(t, events.UserOnline))
	if on.UserID != bob.ID.Hex() {
		t.Fatalf("user_online for %s, want bob", on.UserID)
	}
	if p, _ := h.users.GetPresence(context.Background(), bob.ID); !p.IsOnline {
		t.Fatal("bob should be persisted online")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	off := decode[events.UserPayload](t, a.expect(t, events.UserOffline))
	if off.UserID != bob.ID.Hex() {
		t.Fatalf("user_offline for %s, want bob", off.UserID)
	}
	if p, _ := h.users.GetPresence(context.Background(), bob.ID); p.IsOnline {
		t.Fatal("bob should be persisted offline")
	}
}

func TestGateway_MultipleTabs(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	alice, bob := h.users.Add("alice"), h.users.Add("bob")

	b := h.connect(bob)
	a1 := h.connect(alice)
	b.expect(t, events.UserOnline)
	a2 := h.connect(alice)
	b.expectNone(t, events.UserOnline, 100*time.Millisecond)

	_ = a1.Close()
	b.expectNone(t, events.UserOffline, 150*time.Millisecond)
	if !h.reg.IsOnline(alice.ID.Hex()) {
		t.Fatal("alice should still be online with one tab open")
	}

	_ = a2.Close()
	b.expect(t, events.UserOffline)
}

func TestGateway_SendToOfflineReceiver(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	alice, bob := h.users.Add("alice"), h.users.Add("bob")
	a := h.connect(alice)

	if err := a.Send(events.SendMessage{ReceiverID: bob.ID.Hex(), Content: "hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sent := decode[events.MessagePayload](t, a.expect(t, events.MessageSent))
	if sent.Content != "hi" || sent.Sender.ID != alice.ID.Hex() || sent.Read {
		t.Fatalf("unexpected message_sent payload %+v", sent.PopulatedMessage)
	}
	if got := testutil.ToFloat64(h.metrics.Relays.WithLabelValues(metrics.RelayOffline)); got != 1 {
		t.Fatalf("offline relays = %v, want 1", got)
	}

	// bob picks it up later over the fetch path
	msgs, err := h.svc.Conversation(context.Background(), bob.ID, alice.ID.Hex())
	if err != nil {
		t.Fatalf("Conversation failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" || msgs[0].Read {
		t.Fatalf("bob should see one unread message, got %+v", msgs)
	}
}

func TestGateway_LiveRelayAndReadReceipt(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	alice, bob := h.users.Add("alice"), h.users.Add("bob")
	a := h.connect(alice)
	b := h.connect(bob)

	if err := a.Send(events.SendMessage{ReceiverID: bob.ID.Hex(), Content: "hello", Ref: "r1"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sent := decode[events.MessagePayload](t, a.expect(t, events.MessageSent))
	if sent.Ref != "r1" {
		t.Fatalf("ref not echoed: %q", sent.Ref)
	}
	got := decode[events.MessagePayload](t, b.expect(t, events.ReceiveMessage))
	if got.ID != sent.ID || got.Content != "hello" || got.Receiver.Username != "bob" {
		t.Fatalf("unexpected receive_message %+v", got.PopulatedMessage)
	}
	if got.Ref != "" {
		t.Fatal("the sender's ref must not leak to the receiver")
	}

	conv := data.ConversationID(alice.ID.Hex(), bob.ID.Hex())
	if err := b.Send(events.MarkConversationAsRead{ConversationID: conv, SenderID: alice.ID.Hex()}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	read := decode[events.ConversationReadPayload](t, a.expect(t, events.ConversationRead))
	if read.ConversationID != conv || read.ReadBy != bob.ID.Hex() {
		t.Fatalf("unexpected conversation_read %+v", read)
	}

	msgs, _ := h.svc.Conversation(context.Background(), alice.ID, bob.ID.Hex())
	if !msgs[0].Read {
		t.Fatal("message should be read")
	}
}

func TestGateway_EmptyContentRejected(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	alice, bob := h.users.Add("alice"), h.users.Add("bob")
	a := h.connect(alice)
	b := h.connect(bob)

	if err := a.Send(events.SendMessage{ReceiverID: bob.ID.Hex(), Content: "   ", Ref: "r9"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	perr := decode[events.ErrorPayload](t, a.expect(t, events.MessageError))
	if perr.Kind != "validation" || perr.Event != events.SendMessageEvent || perr.Ref != "r9" {
		t.Fatalf("unexpected error payload %+v", perr)
	}
	if h.messages.Len() != 0 {
		t.Fatal("no message may be stored")
	}
	b.expectNone(t, events.MessageError, 100*time.Millisecond)

	// the stream survives the failed event
	if err := a.Send(events.SendMessage{ReceiverID: bob.ID.Hex(), Content: "ok"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	a.expect(t, events.MessageSent)
}

func TestGateway_EventErrors(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	alice, bob := h.users.Add("alice"), h.users.Add("bob")
	a := h.connect(alice)

	msg, err := h.svc.Send(context.Background(), alice.ID, bob.ID.Hex(), "mine")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// only the receiver may mark a message read
	_ = a.Send(events.MarkAsRead{MessageID: msg.ID})
	if perr := decode[events.ErrorPayload](t, a.expect(t, events.MessageError)); perr.Kind != "not_found" {
		t.Fatalf("mark_as_read by sender: %+v", perr)
	}

	_ = a.Send(events.SendMessage{ReceiverID: alice.ID.Hex(), Content: "me"})
	if perr := decode[events.ErrorPayload](t, a.expect(t, events.MessageError)); perr.Kind != "validation" {
		t.Fatalf("self message: %+v", perr)
	}

	if err := a.stream.SendMsg(&events.Envelope{Event: "shout"}); err != nil {
		t.Fatalf("SendMsg failed: %v", err)
	}
	if perr := decode[events.ErrorPayload](t, a.expect(t, events.MessageError)); perr.Event != "shout" || perr.Kind != "validation" {
		t.Fatalf("unknown event: %+v", perr)
	}

	h.messages.Fail(context.DeadlineExceeded)
	_ = a.Send(events.SendMessage{ReceiverID: bob.ID.Hex(), Content: "lost"})
	perr := decode[events.ErrorPayload](t, a.expect(t, events.MessageError))
	if perr.Kind != "store" || perr.Error != "save message failed" {
		t.Fatalf("store failure: %+v", perr)
	}
}

func TestGateway_SendRateLimit(t *testing.T) {
	h := newHarness(t, harnessOpts{sendRPM: 1, sendBurst: 2})
	alice, bob := h.users.Add("alice"), h.users.Add("bob")
	a := h.connect(alice)

	for i := 0; i < 2; i++ {
		_ = a.Send(events.SendMessage{ReceiverID: bob.ID.Hex(), Content: "x"})
		a.expect(t, events.MessageSent)
	}
	_ = a.Send(events.SendMessage{ReceiverID: bob.ID.Hex(), Content: "x", Ref: "r3"})
	perr := decode[events.ErrorPayload](t, a.expect(t, events.MessageError))
	if perr.Kind != "rate_limited" || perr.Ref != "r3" {
		t.Fatalf("unexpected error payload %+v", perr)
	}
	if h.messages.Len() != 2 {
		t.Fatalf("stored %d messages, want 2", h.messages.Len())
	}
}

func TestGateway_HeartbeatRefreshesLastSeen(t *testing.T) {
	h := newHarness(t, harnessOpts{cfg: Config{HeartbeatInterval: 20 * time.Millisecond, OutboundBuffer: 16}})
	alice := h.users.Add("alice")
	h.connect(alice)

	first, _ := h.users.GetPresence(context.Background(), alice.ID)
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		p, _ := h.users.GetPresence(context.Background(), alice.ID)
		if p.LastSeen.After(first.LastSeen) && p.IsOnline {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("heartbeat never refreshed last_seen")
}
