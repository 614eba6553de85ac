package main

import (
	"testing"
	"time"

	"github.com/gkkary3/Netless/internal/config"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func mustID(t *testing.T, hex string) bson.ObjectID {
	t.Helper()
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		t.Fatalf("bad id %q: %v", hex, err)
	}
	return id
}

func TestNewJWTManager_Rotation(t *testing.T) {
	uid := bson.NewObjectID()

	old, err := newJWTManager(config.AuthConfig{Keys: "k1:old-secret", ActiveKid: "k1", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("newJWTManager(k1): %v", err)
	}
	token, _, err := old.GenerateToken(uid, "a@example.com")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	rotated, err := newJWTManager(config.AuthConfig{Keys: "k1:old-secret,k2:new-secret", ActiveKid: "k2", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("newJWTManager(k2): %v", err)
	}
	if _, err := rotated.VerifyToken(token); err != nil {
		t.Fatalf("token signed before rotation should verify: %v", err)
	}

	if _, err := newJWTManager(config.AuthConfig{Keys: "k1:x", ActiveKid: "k9", TokenTTL: time.Hour}); err == nil {
		t.Fatal("an active kid missing from the key set must be rejected")
	}

	single, err := newJWTManager(config.AuthConfig{Secret: "s", TokenTTL: time.Hour})
	if err != nil || single == nil {
		t.Fatalf("single secret manager: %v", err)
	}
}

func TestGRPCServerOptions_TLS(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RequireTLS = true
	if _, err := grpcServerOptions(cfg); err == nil {
		t.Fatal("REQUIRE_TLS without certs must fail")
	}

	cfg.Server.RequireTLS = false
	opts, err := grpcServerOptions(cfg)
	if err != nil {
		t.Fatalf("grpcServerOptions: %v", err)
	}
	if len(opts) != 2 {
		t.Fatalf("expected keepalive options only, got %d", len(opts))
	}

	cfg.Server.TLSCert, cfg.Server.TLSKey = "/nonexistent/cert.pem", "/nonexistent/key.pem"
	if _, err := grpcServerOptions(cfg); err == nil {
		t.Fatal("unreadable certs must fail")
	}
}
