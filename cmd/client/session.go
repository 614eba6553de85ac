package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/events"
	"github.com/gkkary3/Netless/internal/gateway"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// session holds the credentials and live gateway stream of the logged in
// user.
type session struct {
	apiURL string
	conn   *grpc.ClientConn
	http   *http.Client
	print  func(string)

	mu     sync.Mutex
	token  string
	me     data.Participant
	gw     *gateway.Client
	cancel context.CancelFunc
	online map[string]bool
}

type sessionResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      data.Participant `json:"user"`
}

// newSession returns a logged out session. print receives a rendered line
// for every inbound gateway event.
func newSession(apiURL string, conn *grpc.ClientConn, print func(string)) *session {
	return &session{
		apiURL: apiURL,
		conn:   conn,
		print:  print,
		http:   &http.Client{Timeout: 10 * time.Second},
		online: map[string]bool{},
	}
}

func (s *session) loggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// do sends a JSON request to the REST API and decodes a 2xx body into out.
func (s *session) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.apiURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.mu.Lock()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	s.mu.Unlock()

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// authenticate stores the session from a register or login response and
// opens the gateway stream.
func (s *session) authenticate(path string, creds map[string]string) error {
	var res sessionResponse
	if err := s.do(http.MethodPost, path, creds, &res); err != nil {
		return err
	}
	s.close()

	ctx, cancel := context.WithCancel(context.Background())
	gw, err := gateway.Dial(ctx, s.conn, res.Token)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.token, s.me, s.gw, s.cancel = res.Token, res.User, gw, cancel
	s.online = map[string]bool{}
	s.mu.Unlock()

	go s.receive(gw)
	return nil
}

func (s *session) receive(gw *gateway.Client) {
	for {
		env, err := gw.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				s.print(fmt.Sprintf("gateway closed: %v", err))
			}
			return
		}
		if line := s.apply(env); line != "" {
			s.print(line)
		}
	}
}

// apply updates the online set and renders env for the terminal.
func (s *session) apply(env *events.Envelope) string {
	switch env.Event {
	case events.OnlineUsersList:
		var p events.OnlineUsersPayload
		if err := env.Decode(&p); err != nil {
			return err.Error()
		}
		s.mu.Lock()
		s.online = map[string]bool{}
		for _, id := range p.OnlineUsers {
			s.online[id] = true
		}
		s.mu.Unlock()
		return fmt.Sprintf("%d user(s) online", len(p.OnlineUsers))
	case events.UserOnline, events.UserOffline:
		var p events.UserPayload
		if err := env.Decode(&p); err != nil {
			return err.Error()
		}
		s.mu.Lock()
		if env.Event == events.UserOnline {
			s.online[p.UserID] = true
		} else {
			delete(s.online, p.UserID)
		}
		s.mu.Unlock()
		return fmt.Sprintf("* %s %s", p.UserID, env.Event)
	case events.ReceiveMessage:
		var p events.MessagePayload
		if err := env.Decode(&p); err != nil || p.PopulatedMessage == nil {
			return "malformed receive_message"
		}
		return fmt.Sprintf("[%s] %s (%s): %s", p.CreatedAt.Local().Format(time.Kitchen), p.Sender.Username, p.Sender.ID, p.Content)
	case events.MessageSent:
		var p events.MessagePayload
		if err := env.Decode(&p); err != nil || p.PopulatedMessage == nil {
			return "malformed message_sent"
		}
		return fmt.Sprintf("sent %s to %s", p.ID, p.Receiver.Username)
	case events.ConversationRead:
		var p events.ConversationReadPayload
		if err := env.Decode(&p); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("%s read conversation %s", p.ReadBy, p.ConversationID)
	case events.MessageError:
		var p events.ErrorPayload
		if err := env.Decode(&p); err != nil {
			return err.Error()
		}
		return fmt.Sprintf("error (%s %s): %s", p.Event, p.Kind, p.Error)
	}
	return fmt.Sprintf("%s %s", env.Event, env.Data)
}

func (s *session) onlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *session) send(cmd events.Command) error {
	s.mu.Lock()
	gw := s.gw
	s.mu.Unlock()
	if gw == nil {
		return errors.New("not logged in")
	}
	return gw.Send(cmd)
}

func (s *session) self() data.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.me
}

// close ends the gateway stream, which takes the user offline.
func (s *session) close() {
	s.mu.Lock()
	gw, cancel := s.gw, s.cancel
	s.token, s.me, s.gw, s.cancel = "", data.Participant{}, nil, nil
	s.mu.Unlock()
	if gw != nil {
		_ = gw.Close()
	}
	if cancel != nil {
		cancel()
	}
}
