package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds quest service configuration.
type Config struct {
	Content     ContentConfig     `yaml:"content" envPrefix:"CONTENT_"`
	Store       StoreConfig       `yaml:"store" envPrefix:"STORE_"`
	Retry       RetryConfig       `yaml:"retry" envPrefix:"RETRY_"`
	WebSocket   WebSocketConfig   `yaml:"websocket" envPrefix:"WS_"`
	Connections ConnectionsConfig `yaml:"connections" envPrefix:"CONN_"`
	Auth        AuthConfig        `yaml:"auth" envPrefix:"AUTH_"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" envPrefix:"RATELIMIT_"`
	Throttle    ThrottleConfig    `yaml:"throttle" envPrefix:"THROTTLE_"`
	Broker      BrokerConfig      `yaml:"broker" envPrefix:"BROKER_"`
	Rewards     RewardsConfig     `yaml:"rewards" envPrefix:"REWARDS_"`
	Daily       DailyConfig       `yaml:"daily" envPrefix:"DAILY_"`
}

// ContentConfig locates quest definitions and text catalogs.
type ContentConfig struct {
	QuestsDir     string `yaml:"quests_dir" env:"QUESTS_DIR"`
	TextDir       string `yaml:"text_dir" env:"TEXT_DIR"`
	DefaultLocale string `yaml:"default_locale" env:"DEFAULT_LOCALE"`
}

// StoreConfig selects the progress store backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "postgres" or "redis".
	Driver     string         `yaml:"driver" env:"DRIVER"`
	SQLitePath string         `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Postgres   PostgresConfig `yaml:"postgres" envPrefix:"PG_"`
	RedisURL   string         `yaml:"redis_url" env:"REDIS_URL"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE"`
	SSLMode         string        `yaml:"sslmode" env:"SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RetryConfig is the backoff policy for store writes and reward grants.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
	Multiplier      float64       `yaml:"multiplier" env:"MULTIPLIER"`
	MaxTries        uint          `yaml:"max_tries" env:"MAX_TRIES"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" env:"MAX_ELAPSED"`
}

// WebSocketConfig holds gateway settings.
type WebSocketConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`

	// AllowedOrigins is a list of origins allowed to connect via WebSocket.
	// Empty list enforces same-origin policy. "*" allows all origins.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`

	// MaxMessageSize is the maximum inbound message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
}

// ConnectionsConfig holds connection limit settings. Zero means unlimited.
type ConnectionsConfig struct {
	MaxPerIP     int `yaml:"max_per_ip" env:"MAX_PER_IP"`
	MaxPerPlayer int `yaml:"max_per_player" env:"MAX_PER_PLAYER"`
	MaxTotal     int `yaml:"max_total" env:"MAX_TOTAL"`
}

// AuthConfig controls how gateway clients identify their player.
type AuthConfig struct {
	// JWTSecret signs HS256 player tokens. When empty, clients name their
	// player with the "player" query parameter (development only).
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// RateLimitConfig locks out addresses that repeatedly fail authentication.
type RateLimitConfig struct {
	MaxFailures int           `yaml:"max_failures" env:"MAX_FAILURES"`
	Lockout     time.Duration `yaml:"lockout" env:"LOCKOUT"`
	MaxLockout  time.Duration `yaml:"max_lockout" env:"MAX_LOCKOUT"`
}

// ThrottleConfig caps the requests a single connection may send.
type ThrottleConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	MaxRequests int           `yaml:"max_requests" env:"MAX_REQUESTS"`
	Window      time.Duration `yaml:"window" env:"WINDOW"`
}

// BrokerConfig enables publishing notifications to AMQP.
type BrokerConfig struct {
	URL      string `yaml:"url" env:"URL"`
	Exchange string `yaml:"exchange" env:"EXCHANGE"`
}

// RewardsConfig controls reward delivery.
type RewardsConfig struct {
	// MailInterval is how often undelivered rewards are retried.
	MailInterval time.Duration `yaml:"mail_interval" env:"MAIL_INTERVAL"`

	// InventorySlots is the slot capacity of a new player's inventory.
	InventorySlots int `yaml:"inventory_slots" env:"INVENTORY_SLOTS"`
}

// DailyConfig controls the rollover of repeatable quests.
type DailyConfig struct {
	Enabled      bool `yaml:"enabled" env:"ENABLED"`
	RolloverHour int  `yaml:"rollover_hour" env:"ROLLOVER_HOUR"`
}

// DefaultConfig returns a Config with development-friendly defaults.
func DefaultConfig() *Config {
	return &Config{
		Content: ContentConfig{
			QuestsDir:     "data/quests",
			TextDir:       "data/text",
			DefaultLocale: "en",
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/questd.db",
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				SSLMode:         "disable",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Retry: RetryConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			MaxTries:        5,
			MaxElapsed:      30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{}, // Same-origin only by default
			MaxMessageSize: 4096,
		},
		Connections: ConnectionsConfig{
			MaxPerIP:     3,
			MaxPerPlayer: 2,
			MaxTotal:     100,
		},
		RateLimit: RateLimitConfig{
			MaxFailures: 5,
			Lockout:     30 * time.Second,
			MaxLockout:  5 * time.Minute,
		},
		Throttle: ThrottleConfig{
			Enabled:     true,
			MaxRequests: 30,
			Window:      5 * time.Second,
		},
		Rewards: RewardsConfig{
			MailInterval:   time.Minute,
			InventorySlots: 20,
		},
		Daily: DailyConfig{
			Enabled:      true,
			RolloverHour: 4,
		},
	}
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadConfig loads configuration from a YAML file over the defaults, then
// applies QUEST_* environment overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(config, env.Options{Prefix: "QUEST_"}); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "redis" && c.Store.RedisURL == "" {
		return errors.New("redis store requires redis_url")
	}
	if c.Daily.RolloverHour < 0 || c.Daily.RolloverHour > 23 {
		return fmt.Errorf("rollover hour %d out of range", c.Daily.RolloverHour)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier %v must be at least 1", c.Retry.Multiplier)
	}
	if c.Throttle.Enabled && (c.Throttle.MaxRequests <= 0 || c.Throttle.Window <= 0) {
		return errors.New("throttle needs positive max_requests and window")
	}
	if c.Rewards.MailInterval <= 0 {
		return errors.New("rewards mail interval must be positive")
	}
	return nil
}

// IsOriginAllowed checks if the given origin is allowed based on the config.
// Returns true if:
// - AllowedOrigins contains "*" (allow all)
// - AllowedOrigins contains the exact origin
// - AllowedOrigins is empty and origin matches the request host (same-origin)
func (c *WebSocketConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// isSameOrigin checks if the origin matches the request host.
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // Non-browser clients send no Origin
	}

	originHost := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		originHost = origin[idx+3:]
	}
	originHost = strings.TrimSuffix(originHost, "/")

	return originHost == requestHost
}
