package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHATCORE_"

type Config struct {
	Server struct {
		Addr string `koanf:"addr"`
	} `koanf:"server"`

	Database struct {
		DSN string `koanf:"dsn"`
	} `koanf:"database"`

	Redis      RedisConfig      `koanf:"redis"`
	Neo4j      Neo4jConfig      `koanf:"neo4j"`
	Cache      CacheConfig      `koanf:"cache"`
	Presence   PresenceConfig   `koanf:"presence"`
	Events     EventsConfig     `koanf:"events"`
	AutoAssign AutoAssignConfig `koanf:"autoassign"`
}

type RedisConfig struct {
	URL             string        `koanf:"url"`
	Addr            string        `koanf:"addr"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	DB              int           `koanf:"db"`
	DialTimeout     time.Duration `koanf:"dial_timeout"`
	OpTimeout       time.Duration `koanf:"op_timeout"`
	MaxRetries      int           `koanf:"max_retries"`
	MinRetryBackoff time.Duration `koanf:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `koanf:"max_retry_backoff"`
	HealthInterval  time.Duration `koanf:"health_interval"`
}

type Neo4jConfig struct {
	URI            string        `koanf:"uri"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	Database       string        `koanf:"database"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

type CacheConfig struct {
	LocalMaxEntries int           `koanf:"local_max_entries"`
	QueryTTL        time.Duration `koanf:"query_ttl"`
	MessageTTL      time.Duration `koanf:"message_ttl"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
}

type PresenceConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

type EventsConfig struct {
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`
}

type AutoAssignConfig struct {
	MaxDepth      int           `koanf:"max_depth"`
	MaxThreads    int           `koanf:"max_threads"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":                "localhost:8000",
		"redis.addr":                 "localhost:6379",
		"redis.db":                   0,
		"redis.dial_timeout":         "5s",
		"redis.op_timeout":           "2s",
		"redis.max_retries":          3,
		"redis.min_retry_backoff":    "50ms",
		"redis.max_retry_backoff":    "3s",
		"redis.health_interval":      "5s",
		"neo4j.database":             "neo4j",
		"neo4j.connect_timeout":      "5s",
		"cache.local_max_entries":    1000,
		"cache.query_ttl":            "5m",
		"cache.message_ttl":          "1m",
		"cache.session_ttl":          "24h",
		"presence.ttl":               "90s",
		"presence.refresh_interval":  "30s",
		"events.workers":             8,
		"events.queue_size":          256,
		"autoassign.max_depth":       3,
		"autoassign.max_threads":     50,
		"autoassign.rate_per_second": 10.0,
		"autoassign.burst":           10,
		"autoassign.lock_ttl":        "30s",
	}
}

// LoadConfig reads defaults, then the optional TOML file at path, then
// CHATCORE_ environment variables. A .env file in the working directory is
// loaded into the environment first when present.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// CHATCORE_REDIS_OP_TIMEOUT -> redis.op_timeout
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.Redis.OpTimeout <= 0 {
		return fmt.Errorf("redis op timeout must be positive")
	}
	if c.Cache.LocalMaxEntries <= 0 {
		return fmt.Errorf("cache local max entries must be positive")
	}
	if c.Presence.RefreshInterval >= c.Presence.TTL {
		return fmt.Errorf("presence refresh interval must be shorter than presence ttl")
	}
	if c.Events.Workers <= 0 {
		return fmt.Errorf("events workers must be positive")
	}
	return nil
}

var incompleteURL = regexp.MustCompile(`^rediss?://$`)

// EffectiveURL returns the redis URL to dial, or "" when the client should
// be built from the individual address fields. Template placeholders and
// scheme-only URLs are ignored.
func (r RedisConfig) EffectiveURL() string {
	u := strings.TrimSpace(r.URL)
	if u == "" || strings.Contains(u, "${{") || incompleteURL.MatchString(u) {
		return ""
	}
	return u
}

// Configured reports whether any redis endpoint was provided.
func (r RedisConfig) Configured() bool {
	return r.EffectiveURL() != "" || r.Addr != ""
}
