// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
)

// MongoConfig locates the document store.
type MongoConfig struct {
	URI      string
	Database string
}

// AuthConfig configures session tokens and the auth endpoint limiter.
type AuthConfig struct {
	Secret       string
	Keys         string // kid:secret,kid2:secret2
	ActiveKid    string
	TokenTTL     time.Duration
	RateLimitRPM int
}

// ServerConfig configures the two listeners.
type ServerConfig struct {
	GRPCPort   string
	HTTPPort   string
	TLSCert    string
	TLSKey     string
	RequireTLS bool
}

// PresenceConfig controls heartbeat and reconciliation timing.
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	ReconcileCron     string
	ResetOnStart      bool
}

// GatewayConfig tunes per-connection behaviour.
type GatewayConfig struct {
	SendRatePerMinute int
	OutboundBuffer    int
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level       string
	Development bool
}

// Config is the complete server configuration.
type Config struct {
	Mongo    MongoConfig
	Auth     AuthConfig
	Server   ServerConfig
	Presence PresenceConfig
	Gateway  GatewayConfig
	Log      LogConfig
}

// Default returns the configuration used when no variable overrides a field.
func Default() *Config {
	return &Config{
		Mongo: MongoConfig{Database: "chat_db"},
		Auth: AuthConfig{
			TokenTTL:     24 * time.Hour,
			RateLimitRPM: 10,
		},
		Server: ServerConfig{GRPCPort: "50051", HTTPPort: "8080"},
		Presence: PresenceConfig{
			HeartbeatInterval: 30 * time.Second,
			StaleAfter:        5 * time.Minute,
			ReconcileCron:     "* * * * *",
			ResetOnStart:      true,
		},
		Gateway: GatewayConfig{SendRatePerMinute: 120, OutboundBuffer: 64},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// LoadStore is Load for tools that only talk to Mongo: auth, TLS and
// presence settings are parsed but not validated.
func LoadStore() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := parse(os.Getenv)
	if err != nil {
		return nil, err
	}
	if cfg.Mongo.URI == "" {
		return nil, errors.New("MONGODB_URI must be set")
	}
	return cfg, nil
}

// FromEnv builds a Config using getenv for lookups and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg, err := parse(getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(getenv func(string) string) (*Config, error) {
	cfg := Default()
	p := parser{getenv: getenv}

	cfg.Mongo.URI = getenv("MONGODB_URI")
	p.str("MONGODB_DATABASE", &cfg.Mongo.Database)

	cfg.Auth.Secret = getenv("JWT_SECRET")
	cfg.Auth.Keys = getenv("JWT_KEYS")
	cfg.Auth.ActiveKid = getenv("JWT_ACTIVE_KID")
	p.duration("TOKEN_TTL", &cfg.Auth.TokenTTL)
	p.positiveInt("RATE_LIMIT_RPM", &cfg.Auth.RateLimitRPM)

	p.str("GRPC_PORT", &cfg.Server.GRPCPort)
	p.str("HTTP_PORT", &cfg.Server.HTTPPort)
	cfg.Server.TLSCert = getenv("TLS_CERT")
	cfg.Server.TLSKey = getenv("TLS_KEY")
	p.boolean("REQUIRE_TLS", &cfg.Server.RequireTLS)

	p.duration("HEARTBEAT_INTERVAL", &cfg.Presence.HeartbeatInterval)
	p.duration("PRESENCE_STALE_AFTER", &cfg.Presence.StaleAfter)
	p.str("RECONCILE_CRON", &cfg.Presence.ReconcileCron)
	p.boolean("RESET_PRESENCE_ON_START", &cfg.Presence.ResetOnStart)

	p.positiveInt("SEND_RATE_PER_MINUTE", &cfg.Gateway.SendRatePerMinute)
	p.positiveInt("OUTBOUND_BUFFER", &cfg.Gateway.OutboundBuffer)

	p.str("LOG_LEVEL", &cfg.Log.Level)
	p.boolean("LOG_DEVELOPMENT", &cfg.Log.Development)

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return errors.New("MONGODB_URI must be set")
	}
	if c.Auth.Keys == "" && c.Auth.Secret == "" {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if c.Auth.Keys != "" && c.Auth.ActiveKid == "" {
		return errors.New("JWT_ACTIVE_KID must be set when JWT_KEYS is used")
	}
	if c.Server.RequireTLS && (c.Server.TLSCert == "" || c.Server.TLSKey == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.Presence.HeartbeatInterval <= 0 || c.Presence.StaleAfter <= 0 {
		return errors.New("heartbeat interval and stale threshold must be positive")
	}
	// a heartbeat slower than the threshold would demote healthy users
	if c.Presence.HeartbeatInterval >= c.Presence.StaleAfter {
		return fmt.Errorf("HEARTBEAT_INTERVAL (%s) must be shorter than PRESENCE_STALE_AFTER (%s)",
			c.Presence.HeartbeatInterval, c.Presence.StaleAfter)
	}
	if !gronx.IsValid(c.Presence.ReconcileCron) {
		return fmt.Errorf("invalid RECONCILE_CRON expression %q", c.Presence.ReconcileCron)
	}
	return nil
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key string, dst *string) {
	if v := p.getenv(key); v != "" {
		*dst = v
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}

func (p *parser) positiveInt(key string, dst *int) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.err = fmt.Errorf("%s: expected a positive integer, got %q", key, v)
		return
	}
	*dst = n
}

func (p *parser) boolean(key string, dst *bool) {
	v := p.getenv(key)
	if v == "" || p.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = b
}
