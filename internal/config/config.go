package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port           int           `envconfig:"PORT" default:"8080"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	JWTSecret      string        `envconfig:"JWT_SECRET" default:"dev-secret-change-in-production"`
	TokenTTL       time.Duration `envconfig:"TOKEN_TTL" default:"1h"`
	AllowedOrigins string        `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,https://localhost:5173"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`

	// Presence
	SpawnX            float64       `envconfig:"SPAWN_X" default:"50"`
	SpawnY            float64       `envconfig:"SPAWN_Y" default:"50"`
	ReapInterval      time.Duration `envconfig:"REAP_INTERVAL" default:"1m"`
	InactivityTimeout time.Duration `envconfig:"INACTIVITY_TIMEOUT" default:"5m"`
	ShutdownGrace     time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
	SendBuffer        int           `envconfig:"SEND_BUFFER" default:"256"`

	// Snapshot mirroring, disabled when NATSURL is empty
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"campus.presence"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ReapInterval <= 0 {
		return fmt.Errorf("REAP_INTERVAL must be positive, got %s", c.ReapInterval)
	}
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("INACTIVITY_TIMEOUT must be positive, got %s", c.InactivityTimeout)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("SEND_BUFFER must be at least 1, got %d", c.SendBuffer)
	}
	return nil
}

// Origins returns the allowed origins with surrounding whitespace removed.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// OriginHosts strips the scheme from each origin, the form websocket.AcceptOptions expects.
func (c *Config) OriginHosts() []string {
	origins := c.Origins()
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		hosts = append(hosts, o)
	}
	return hosts
}

func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
