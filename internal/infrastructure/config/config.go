// Package config loads process configuration from the environment using
// go-envconfig, per spec §6's configuration table.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the complete process configuration.
type Config struct {
	Port      string `env:"PORT,           default=8080"`
	Host      string `env:"HOST,           default=0.0.0.0"`
	Env       string `env:"ENV,            default=development"`
	LogLevel  string `env:"LOG_LEVEL,      default=info"`
	LogPretty bool   `env:"LOG_PRETTY,     default=false"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	Mongo MongoConfig
	Redis RedisConfig
	JWT   JWTConfig
	WS    WSConfig
	TURN  TURNConfig
}

// MongoConfig is the persistence gateway's connection (spec §4.A).
// URI is read from the spec's generic DATABASE_URL; no other variable
// name is consulted for it.
type MongoConfig struct {
	URI      string `env:"DATABASE_URL"`
	Database string `env:"MONGO_DB,     default=rendez"`
}

// RedisConfig configures the optional cross-instance presence relay
// (§ AMBIENT/DOMAIN STACK). Addr empty means single-instance mode: the
// hub runs with a no-op relay and never dials Redis.
type RedisConfig struct {
	Addr string `env:"REDIS_ADDR"`
	DB   int    `env:"REDIS_DB, default=0"`
}

// JWTConfig configures the identity service's bearer tokens (spec §4.B).
type JWTConfig struct {
	Secret    string        `env:"JWT_SECRET,      required"`
	ExpiresIn time.Duration `env:"JWT_EXPIRES_IN,  default=168h"`
}

// WSConfig configures the control-channel hub's timing (spec §5).
type WSConfig struct {
	HeartbeatInterval time.Duration `env:"WS_HEARTBEAT_INTERVAL, default=30s"`
	HeartbeatTimeout  time.Duration `env:"WS_HEARTBEAT_TIMEOUT,  default=90s"`
}

// TURNConfig configures the /ice-servers response (spec §6).
type TURNConfig struct {
	STUNServers  []string `env:"STUN_SERVERS"`
	TURNURL      string   `env:"TURN_URL"`
	TURNTCPURL   string   `env:"TURN_TCP_URL"`
	TURNSURL     string   `env:"TURNS_URL"`
	TURNUsername string   `env:"TURN_USERNAME"`
	TURNCred     string   `env:"TURN_CREDENTIAL"`
}

// Load reads Config from the environment. A missing required variable
// (JWT_SECRET) or a malformed duration produces an error — the caller
// treats this as a fatal startup error per spec §6's exit code table.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	for i, o := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(o)
	}
	return &cfg, nil
}
