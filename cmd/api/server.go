package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gkkary3/Netless/internal/auth"
	"github.com/gkkary3/Netless/internal/chat"
	"github.com/gkkary3/Netless/internal/config"
	"github.com/gkkary3/Netless/internal/data"
	"github.com/gkkary3/Netless/internal/gateway"
	"github.com/gkkary3/Netless/internal/httpapi"
	"github.com/gkkary3/Netless/internal/metrics"
	"github.com/gkkary3/Netless/internal/middleware"
	"github.com/gkkary3/Netless/internal/presence"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

const (
	// connections per client address per minute
	connectRatePerMinute = 30
	connectBurst         = 10
	sendBurst            = 10
	authBurst            = 3
	keepaliveTimeout     = 10 * time.Second
)

// Server owns both listeners and everything they share.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	grpc       *grpc.Server
	http       *http.Server
	registry   *presence.Registry
	reconciler *presence.Reconciler
	limiters   []*middleware.LimiterStore
}

// newServer wires the presence, chat and transport layers over the stores.
// health backs /healthz.
func newServer(cfg *config.Config, users *data.UsersStore, msgs *data.MessagesStore, authMgr *auth.JWTManager, health func(context.Context) error, m *metrics.Metrics, log *zap.Logger) (*Server, error) {
	registry := presence.NewRegistry()
	tracker := presence.NewTracker(registry, users, m, log)
	relay := gateway.NewRelay(registry, m, log)
	svc := chat.NewService(msgs, users, relay, log)

	reconciler, err := presence.NewReconciler(users, cfg.Presence.StaleAfter, cfg.Presence.ReconcileCron, m, log)
	if err != nil {
		return nil, err
	}

	sendLimiter := middleware.NewLimiterStore(cfg.Gateway.SendRatePerMinute, sendBurst, time.Minute)
	connLimiter := middleware.NewLimiterStore(connectRatePerMinute, connectBurst, time.Minute)
	authLimiter := middleware.NewLimiterStore(cfg.Auth.RateLimitRPM, authBurst, time.Minute)

	opts, err := grpcServerOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, grpc.ChainStreamInterceptor(
		middleware.RateLimitStreamInterceptor(connLimiter, map[string]bool{gateway.ConnectMethod: true}),
		middleware.AuthStreamInterceptor(authMgr, nil),
	))
	grpcServer := grpc.NewServer(opts...)

	gw := gateway.New(gateway.Config{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		OutboundBuffer:    cfg.Gateway.OutboundBuffer,
	}, tracker, svc, relay, sendLimiter, m, log)
	gateway.Register(grpcServer, gw)

	api := httpapi.New(httpapi.Deps{
		Accounts:    users,
		Sessions:    authMgr,
		Messages:    svc,
		Relay:       relay,
		Live:        registry,
		AuthLimiter: authLimiter,
		SendLimiter: sendLimiter,
		Health:      health,
		Metrics:     m.Handler(),
		Log:         log,
	})

	return &Server{
		cfg:        cfg,
		log:        log,
		grpc:       grpcServer,
		registry:   registry,
		reconciler: reconciler,
		limiters:   []*middleware.LimiterStore{sendLimiter, connLimiter, authLimiter},
		http: &http.Server{
			Addr:              ":" + cfg.Server.HTTPPort,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// grpcServerOptions returns TLS credentials (if configured) and keepalive
// settings. Keepalive pings detect dead peers so their streams end and the
// disconnect path runs.
func grpcServerOptions(cfg *config.Config) ([]grpc.ServerOption, error) {
	var serverOpts []grpc.ServerOption

	// If TLS certs are configured, create server credentials and require TLS
	if cfg.Server.TLSCert != "" && cfg.Server.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	} else if cfg.Server.RequireTLS {
		return nil, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}

	serverOpts = append(serverOpts,
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.Presence.HeartbeatInterval,
			Timeout: keepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	return serverOpts, nil
}

// newJWTManager builds the session manager. With JWT_KEYS, tokens are signed
// with the active kid and any listed kid verifies, so keys can rotate.
func newJWTManager(cfg config.AuthConfig) (*auth.JWTManager, error) {
	if cfg.Keys != "" {
		keys, err := auth.ParseKeys(cfg.Keys)
		if err != nil {
			return nil, err
		}
		if _, ok := keys[cfg.ActiveKid]; !ok {
			return nil, fmt.Errorf("JWT_ACTIVE_KID %q is not in JWT_KEYS", cfg.ActiveKid)
		}
		return auth.NewJWTManagerFromKeys(keys, cfg.ActiveKid, cfg.TokenTTL), nil
	}
	return auth.NewJWTManager(cfg.Secret, cfg.TokenTTL), nil
}

// serveGRPC blocks serving the gateway on lis.
func (s *Server) serveGRPC(lis net.Listener) error {
	s.log.Info("grpc_listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// serveHTTP blocks serving the REST API. A clean shutdown returns nil.
func (s *Server) serveHTTP() error {
	s.log.Info("http_listening", zap.String("addr", s.http.Addr))
	var err error
	if s.cfg.Server.TLSCert != "" && s.cfg.Server.TLSKey != "" {
		err = s.http.ListenAndServeTLS(s.cfg.Server.TLSCert, s.cfg.Server.TLSKey)
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// shutdown stops both listeners. Gateway streams are long-lived, so a
// graceful stop that outlasts timeout is cut short; ending the streams
// still runs each user's disconnect.
func (s *Server) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn("http_shutdown_failed", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("grpc_graceful_stop_timeout")
		s.grpc.Stop()
		<-done
	}

	for _, l := range s.limiters {
		l.Stop()
	}
}
