package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	SLA          SLAConfig
	Routing      RoutingConfig
	Lock         LockConfig
	Events       EventsConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines service-token parameters.
type AuthConfig struct {
	JWTSecret             string
	Issuer                string
	AccessTokenTTLMinutes int
}

// TierBudget overrides the SLA minutes of one plan tier.
type TierBudget struct {
	FirstResponseMinutes int
	ResolutionMinutes    int
}

// SLAConfig controls the breach sweep and the default budgets.
type SLAConfig struct {
	SweepSchedule  string
	SweepBatchSize int
	SweepEnabled   bool
	Budgets        map[string]TierBudget
}

// RoutingConfig holds the routing thresholds.
type RoutingConfig struct {
	ReviewThreshold      float64
	SelfServiceThreshold float64
}

// LockConfig selects the per-entity lock backend.
type LockConfig struct {
	Backend string
	TTL     time.Duration
	MaxWait time.Duration
	Prefix  string
}

// EventsConfig configures fan-out of committed events.
type EventsConfig struct {
	RedisChannel string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Lock backends.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

var tierNames = []string{"tier0", "tier1", "tier2"}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	budgets := make(map[string]TierBudget)
	for _, tier := range tierNames {
		prefix := "SLA_" + strings.ToUpper(tier)
		fr := getEnvAsInt(prefix+"_FIRST_RESPONSE_MINUTES", 0)
		res := getEnvAsInt(prefix+"_RESOLUTION_MINUTES", 0)
		if fr == 0 && res == 0 {
			continue
		}
		budgets[tier] = TierBudget{FirstResponseMinutes: fr, ResolutionMinutes: res}
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-core"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:                getEnv("AUTH_ISSUER", "support-core"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		SLA: SLAConfig{
			SweepSchedule:  getEnv("SLA_SWEEP_SCHEDULE", "@every 1m"),
			SweepBatchSize: getEnvAsInt("SLA_SWEEP_BATCH_SIZE", 200),
			SweepEnabled:   getEnvAsBool("SLA_SWEEP_ENABLED", true),
			Budgets:        budgets,
		},
		Routing: RoutingConfig{
			ReviewThreshold:      getEnvAsFloat("ROUTING_REVIEW_THRESHOLD", 0.5),
			SelfServiceThreshold: getEnvAsFloat("ROUTING_SELF_SERVICE_THRESHOLD", 0.8),
		},
		Lock: LockConfig{
			Backend: strings.ToLower(getEnv("LOCK_BACKEND", LockBackendMemory)),
			TTL:     getEnvAsDuration("LOCK_TTL", 10*time.Second),
			MaxWait: getEnvAsDuration("LOCK_MAX_WAIT", 5*time.Second),
			Prefix:  getEnv("LOCK_PREFIX", "support-core:lock:"),
		},
		Events: EventsConfig{
			RedisChannel: os.Getenv("EVENTS_REDIS_CHANNEL"),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("invalid LOCK_BACKEND %q", c.Lock.Backend)
	}
	if c.Events.RedisChannel != "" && !c.Redis.Enabled {
		return fmt.Errorf("EVENTS_REDIS_CHANNEL requires REDIS_ENABLED=true")
	}
	r := c.Routing
	if r.ReviewThreshold < 0 || r.ReviewThreshold > 1 || r.SelfServiceThreshold < 0 || r.SelfServiceThreshold > 1 {
		return fmt.Errorf("routing thresholds must be within [0,1]")
	}
	if r.SelfServiceThreshold < r.ReviewThreshold {
		return fmt.Errorf("ROUTING_SELF_SERVICE_THRESHOLD must not be below ROUTING_REVIEW_THRESHOLD")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
