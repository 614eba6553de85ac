package main

import (
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/events"
)

func getSession(ctx *ishell.Context) *session {
	s, ok := ctx.Get("session").(*session)
	if !ok {
		log.Panic("no session exists")
	}
	return s
}

// requireLogin reports whether the shell has a live session, telling the
// user otherwise.
func requireLogin(ctx *ishell.Context, s *session) bool {
	if !s.loggedIn() {
		ctx.Println("log in first")
		return false
	}
	return true
}

func register(ctx *ishell.Context) {
	s := getSession(ctx)

	ctx.Print("email: ")
	email := ctx.ReadLine()
	ctx.Print("username: ")
	username := ctx.ReadLine()
	ctx.Print("password: ")
	password := ctx.ReadPassword()

	creds := map[string]string{"email": email, "username": username, "password": password}
	if err := s.authenticate("/auth/register", creds); err != nil {
		ctx.Println(err)
		return
	}
	ctx.Printf("registered as %s (%s)\n", s.self().Username, s.self().ID)
}

func login(ctx *ishell.Context) {
	s := getSession(ctx)

	ctx.Print("email: ")
	email := ctx.ReadLine()
	ctx.Print("password: ")
	password := ctx.ReadPassword()

	creds := map[string]string{"email": email, "password": password}
	if err := s.authenticate("/auth/login", creds); err != nil {
		ctx.Println(err)
		return
	}
	ctx.Printf("logged in as %s (%s)\n", s.self().Username, s.self().ID)
}

func logout(ctx *ishell.Context) {
	getSession(ctx).close()
	ctx.Println("logged out")
}

func online(ctx *ishell.Context) {
	s := getSession(ctx)
	if !requireLogin(ctx, s) {
		return
	}
	ids := s.onlineUsers()
	if len(ids) == 0 {
		ctx.Println("nobody is online")
		return
	}
	for _, id := range ids {
		if id == s.self().ID {
			ctx.Println(id, "(you)")
			continue
		}
		ctx.Println(id)
	}
}

func send(ctx *ishell.Context) {
	s := getSession(ctx)
	if !requireLogin(ctx, s) {
		return
	}
	if len(ctx.Args) < 2 {
		ctx.Println("usage: send <userId> <message>")
		return
	}
	cmd := events.SendMessage{
		ReceiverID: ctx.Args[0],
		Content:    strings.Join(ctx.Args[1:], " "),
		Ref:        time.Now().Format("150405.000"),
	}
	if err := s.send(cmd); err != nil {
		ctx.Println(err)
	}
}

func markRead(ctx *ishell.Context) {
	s := getSession(ctx)
	if !requireLogin(ctx, s) {
		return
	}
	if len(ctx.Args) != 1 {
		ctx.Println("usage: read <userId>")
		return
	}
	peer := ctx.Args[0]
	cmd := events.MarkConversationAsRead{
		ConversationID: data.ConversationID(s.self().ID, peer),
		SenderID:       peer,
	}
	if err := s.send(cmd); err != nil {
		ctx.Println(err)
	}
}

func history(ctx *ishell.Context) {
	s := getSession(ctx)
	if !requireLogin(ctx, s) {
		return
	}
	if len(ctx.Args) != 1 {
		ctx.Println("usage: history <userId>")
		return
	}

	var msgs []*data.PopulatedMessage
	if err := s.do(http.MethodGet, "/messages/"+url.PathEscape(ctx.Args[0]), nil, &msgs); err != nil {
		ctx.Println(err)
		return
	}
	for _, m := range msgs {
		mark := " "
		if m.Read {
			mark = "✓"
		}
		ctx.Printf("%s [%s] %s: %s\n", mark, m.CreatedAt.Local().Format(time.Stamp), m.Sender.Username, m.Content)
	}
}

func conversations(ctx *ishell.Context) {
	s := getSession(ctx)
	if !requireLogin(ctx, s) {
		return
	}

	var rows []*data.ConversationSummary
	if err := s.do(http.MethodGet, "/messages/conversations", nil, &rows); err != nil {
		ctx.Println(err)
		return
	}
	for _, c := range rows {
		ctx.Printf("%s (%s) unread=%d: %s\n", c.OtherUser.Username, c.OtherUser.ID, c.UnreadCount, c.LastMessage)
	}
}

func search(ctx *ishell.Context) {
	s := getSession(ctx)
	if !requireLogin(ctx, s) {
		return
	}
	if len(ctx.Args) == 0 {
		ctx.Println("usage: search <query>")
		return
	}

	var users []struct {
		data.Participant
		Email    string `json:"email"`
		IsFriend bool   `json:"isFriend"`
	}
	q := url.Values{"q": {strings.Join(ctx.Args, " ")}}
	if err := s.do(http.MethodGet, "/messages/users/search?"+q.Encode(), nil, &users); err != nil {
		ctx.Println(err)
		return
	}
	for _, u := range users {
		ctx.Printf("%s %s <%s> friend=%t\n", u.ID, u.Username, u.Email, u.IsFriend)
	}
}

func presence(ctx *ishell.Context) {
	s := getSession(ctx)
	if !requireLogin(ctx, s) {
		return
	}
	if len(ctx.Args) != 1 {
		ctx.Println("usage: presence <userId>")
		return
	}

	var p struct {
		data.Presence
		Live bool `json:"live"`
	}
	if err := s.do(http.MethodGet, "/users/"+url.PathEscape(ctx.Args[0])+"/presence", nil, &p); err != nil {
		ctx.Println(err)
		return
	}
	ctx.Printf("online=%t live=%t last seen %s\n", p.IsOnline, p.Live, p.LastSeen.Local().Format(time.Stamp))
}
