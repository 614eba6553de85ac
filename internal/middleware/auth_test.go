package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gkkary3/Netless/internal/auth"
	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestAuthStreamInterceptor(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	uid := bson.NewObjectID()
	token, _, err := jwtMgr.GenerateToken(uid, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	const method = "/presence.v1.Gateway/Connect"
	icpt := AuthStreamInterceptor(jwtMgr, nil)
	info := &grpc.StreamServerInfo{FullMethod: method}

	var seen *auth.Claims
	handler := func(srv interface{}, ss grpc.ServerStream) error {
		seen, _ = auth.FromContext(ss.Context())
		return nil
	}

	cases := []struct {
		name string
		md   metadata.MD
		code codes.Code
	}{
		{"no metadata", nil, codes.Unauthenticated},
		{"no header", metadata.Pairs("x-other", "1"), codes.Unauthenticated},
		{"bad token", metadata.Pairs("authorization", "Bearer nope"), codes.Unauthenticated},
		{"valid", metadata.Pairs("authorization", "Bearer "+token), codes.OK},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ctx := context.Background()
			if c.md != nil {
				ctx = metadata.NewIncomingContext(ctx, c.md)
			}
			err := icpt(nil, fakeStream{ctx: ctx}, info, handler)
			if status.Code(err) != c.code {
				t.Fatalf("code = %v, want %v (%v)", status.Code(err), c.code, err)
			}
		})
	}
	if seen == nil || seen.UserID != uid.Hex() {
		t.Fatalf("claims not attached to stream context: %+v", seen)
	}
}

func TestRequireAuth(t *testing.T) {
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)
	uid := bson.NewObjectID()
	token, _, _ := jwtMgr.GenerateToken(uid, "a@example.com")

	h := RequireAuth(jwtMgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := auth.FromContext(r.Context())
		if !ok || c.Subject() != uid {
			t.Errorf("claims missing from request context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, c := range []struct {
		header string
		code   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer garbage", http.StatusUnauthorized},
		{"Bearer " + token, http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodGet, "/messages/conversations", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.code {
			t.Fatalf("header %q: status %d, want %d", c.header, rec.Code, c.code)
		}
	}
}
