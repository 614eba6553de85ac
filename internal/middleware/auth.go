// Package middleware holds the transport-level guards shared by the gRPC
// gateway and the REST API: bearer authentication and per-key rate limits.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gkkary3/Netless/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Authenticator resolves a bearer credential to its claims.
type Authenticator interface {
	Authenticate(credential string) (*auth.Claims, error)
}

// AuthStreamInterceptor enforces bearer authentication on every stream
// except the allowed ones. Claims are attached to the stream context.
func AuthStreamInterceptor(a Authenticator, allowed map[string]bool) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if allowed[info.FullMethod] {
			return handler(srv, ss)
		}

		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Errorf(codes.Unauthenticated, "missing metadata")
		}
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			return status.Errorf(codes.Unauthenticated, "missing authorization header")
		}

		claims, err := a.Authenticate(authHeaders[0])
		if err != nil {
			return status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
		}

		wrapped := authedServerStream{ServerStream: ss, ctx: auth.NewContext(ss.Context(), claims)}
		return handler(srv, wrapped)
	}
}

// authedServerStream wraps grpc.ServerStream to override Context()
type authedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context (with claims)
func (s authedServerStream) Context() context.Context { return s.ctx }

// RequireAuth rejects HTTP requests without a valid bearer token with 401
// and attaches the claims to the request context otherwise.
func RequireAuth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			claims, err := a.Authenticate(header)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), claims)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
