// Package httpapi exposes the message store, accounts and persisted
// presence over REST. Handlers are thin: validation and persistence rules
// live in the chat service.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gkkary3/Netless/internal/auth"
	"github.com/gkkary3/Netless/internal/chat"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Accounts stores credentials.
type Accounts interface {
	CreateUser(ctx context.Context, email, hashedPassword, username string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
}

// Sessions issues and verifies bearer tokens.
type Sessions interface {
	middleware.Authenticator
	GenerateToken(userID bson.ObjectID, email string) (string, time.Time, error)
}

// Messages is the message store as used by the REST endpoints.
type Messages interface {
	Send(ctx context.Context, sender bson.ObjectID, receiverID, content string) (*data.PopulatedMessage, error)
	FetchConversation(ctx context.Context, me bson.ObjectID, peerID string) ([]*data.PopulatedMessage, error)
	ListConversations(ctx context.Context, me bson.ObjectID) ([]*data.ConversationSummary, error)
	DeleteConversation(ctx context.Context, me bson.ObjectID, conversationID string) (int64, error)
	SearchUsers(ctx context.Context, me bson.ObjectID, query string, onlyFriends bool) ([]chat.SearchResult, error)
	Presence(ctx context.Context, userID string) (*data.Presence, error)
}

// Relay pushes a stored message to its receiver's live connections.
type Relay interface {
	Message(msg *data.PopulatedMessage) string
}

// Liveness reports whether a user has a live realtime connection.
type Liveness interface {
	IsOnline(userID string) bool
}

// Limiter decides whether key may act now.
type Limiter interface {
	Allow(key string) bool
}

// Deps wires an API.
type Deps struct {
	Accounts Accounts
	Sessions Sessions
	Messages Messages
	Relay    Relay
	Live     Liveness
	// AuthLimiter guards /auth per client address.
	AuthLimiter *middleware.LimiterStore
	// SendLimiter guards message sends per user; shared with the gateway.
	SendLimiter Limiter
	// Health reports backing store health for /healthz.
	Health  func(context.Context) error
	Metrics http.Handler
	Log     *zap.Logger
}

// API is the REST surface.
type API struct {
	deps Deps
	log  *zap.Logger
}

// New returns an API.
func New(deps Deps) *API {
	return &API{deps: deps, log: deps.Log}
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(a.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.healthz)
	if a.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.deps.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		if a.deps.AuthLimiter != nil {
			r.Use(middleware.RateLimitHTTP(a.deps.AuthLimiter))
		}
		r.Post("/register", a.register)
		r.Post("/login", a.login)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(a.deps.Sessions))

		r.Route("/messages", func(r chi.Router) {
			r.Get("/conversations", a.listConversations)
			r.Delete("/conversations/{conversationId}", a.deleteConversation)
			r.Get("/users/search", a.searchUsers)
			r.Get("/{userId}", a.getConversation)
			r.Post("/{userId}", a.sendMessage)
		})
		r.Get("/users/{userId}/presence", a.presence)
	})
	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// caller returns the authenticated user; RequireAuth guarantees presence.
func caller(r *http.Request) bson.ObjectID {
	claims, _ := auth.FromContext(r.Context())
	return claims.Subject()
}
