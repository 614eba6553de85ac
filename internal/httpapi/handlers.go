package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gkkary3/Netless/internal/apperr"
	"github.com/gkkary3/Netless/internal/auth"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/normalize"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const minPasswordLen = 6

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

type sessionResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expiresAt"`
	User      data.Participant `json:"user"`
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.deps.Health != nil {
		if err := a.deps.Health(r.Context()); err != nil {
			a.log.Warn("healthz_failed", zap.Error(err))
			a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	email := normalize.Email(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		a.writeError(w, r, apperr.Validation("a valid email is required"))
		return
	}
	if len(req.Password) < minPasswordLen {
		a.writeError(w, r, apperr.Validation("password must be at least 6 characters"))
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = email[:strings.Index(email, "@")]
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		a.writeError(w, r, apperr.Store("hash password", err))
		return
	}
	user, err := a.deps.Accounts.CreateUser(r.Context(), email, hashed, username)
	if err != nil {
		if errors.Is(err, data.ErrUserExists) {
			a.writeError(w, r, apperr.Validation("user already exists"))
			return
		}
		a.writeError(w, r, apperr.Store("create user", err))
		return
	}
	a.log.Info("user_registered", zap.String("user_id", user.ID.Hex()))
	a.issueSession(w, r, http.StatusCreated, user)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	user, err := a.deps.Accounts.GetUserByEmail(r.Context(), normalize.Email(req.Email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			a.writeError(w, r, apperr.Authentication("invalid credentials"))
			return
		}
		a.writeError(w, r, apperr.Store("load user", err))
		return
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		a.writeError(w, r, apperr.Authentication("invalid credentials"))
		return
	}
	a.issueSession(w, r, http.StatusOK, user)
}

func (a *API) issueSession(w http.ResponseWriter, r *http.Request, code int, user *data.User) {
	token, expiresAt, err := a.deps.Sessions.GenerateToken(user.ID, user.Email)
	if err != nil {
		a.writeError(w, r, apperr.Store("issue token", err))
		return
	}
	a.writeJSON(w, code, sessionResponse{Token: token, ExpiresAt: expiresAt, User: user.Participant()})
}

func (a *API) listConversations(w http.ResponseWriter, r *http.Request) {
	rows, err := a.deps.Messages.ListConversations(r.Context(), caller(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rows)
}

func (a *API) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	onlyFriends := q.Get("onlyFriends") == "true"
	users, err := a.deps.Messages.SearchUsers(r.Context(), caller(r), q.Get("q"), onlyFriends)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, users)
}

// getConversation returns the history with a peer and marks the peer's
// messages to the caller as read.
func (a *API) getConversation(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.deps.Messages.FetchConversation(r.Context(), caller(r), chi.URLParam(r, "userId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, msgs)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	me := caller(r)
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.deps.SendLimiter != nil && !a.deps.SendLimiter.Allow(me.Hex()) {
		a.writeError(w, r, apperr.RateLimited("sending too fast"))
		return
	}

	msg, err := a.deps.Messages.Send(r.Context(), me, chi.URLParam(r, "userId"), req.Content)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if a.deps.Relay != nil {
		a.deps.Relay.Message(msg)
	}
	a.writeJSON(w, http.StatusCreated, msg)
}

func (a *API) deleteConversation(w http.ResponseWriter, r *http.Request) {
	n, err := a.deps.Messages.DeleteConversation(r.Context(), caller(r), chi.URLParam(r, "conversationId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

type presenceResponse struct {
	*data.Presence
	Live bool `json:"live"`
}

func (a *API) presence(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Messages.Presence(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	live := a.deps.Live != nil && a.deps.Live.IsOnline(p.UserID)
	a.writeJSON(w, http.StatusOK, presenceResponse{Presence: p, Live: live})
}
