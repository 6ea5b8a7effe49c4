package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SLA clock start modes.
const (
	SLAStartOnCreated    = "created"
	SLAStartOnInProgress = "in_progress"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	SLA          SLAConfig
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
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// SLAConfig tunes the SLA engine and the breach worker.
type SLAConfig struct {
	StartOn                 string
	ResponseLeadPercent     float64
	ResolutionLeadPercent   float64
	ReminderMinutes         []int
	EvaluationSchedule      string
	EvaluationBatchSize     int
	ClassificationTTLHours  int
	UpdateRetries           int
	EvaluationTimeoutSecond int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	reminders, err := getEnvAsIntList("SLA_REMINDER_MINUTES", []int{60, 30, 7, 1})
	if err != nil {
		return nil, fmt.Errorf("invalid SLA_REMINDER_MINUTES: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "idesk-sla-service"),
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
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		SLA: SLAConfig{
			StartOn:                 strings.ToLower(getEnv("SLA_START_ON", SLAStartOnCreated)),
			ResponseLeadPercent:     getEnvAsFloat("SLA_RESPONSE_LEAD_PERCENT", 20),
			ResolutionLeadPercent:   getEnvAsFloat("SLA_RESOLUTION_LEAD_PERCENT", 20),
			ReminderMinutes:         reminders,
			EvaluationSchedule:      getEnv("SLA_EVALUATION_SCHEDULE", "@every 1m"),
			EvaluationBatchSize:     getEnvAsInt("SLA_EVALUATION_BATCH_SIZE", 200),
			ClassificationTTLHours:  getEnvAsInt("SLA_CLASSIFICATION_TTL_HOURS", 168),
			UpdateRetries:           getEnvAsInt("SLA_UPDATE_RETRIES", 3),
			EvaluationTimeoutSecond: getEnvAsInt("SLA_EVALUATION_TIMEOUT_SECONDS", 50),
		},
	}

	if err := cfg.SLA.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
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

// Validate rejects SLA settings the engine cannot run with.
func (s SLAConfig) Validate() error {
	if s.StartOn != SLAStartOnCreated && s.StartOn != SLAStartOnInProgress {
		return fmt.Errorf("invalid SLA_START_ON %q", s.StartOn)
	}
	if s.ResponseLeadPercent < 0 || s.ResponseLeadPercent >= 100 {
		return fmt.Errorf("invalid SLA_RESPONSE_LEAD_PERCENT %v", s.ResponseLeadPercent)
	}
	if s.ResolutionLeadPercent < 0 || s.ResolutionLeadPercent >= 100 {
		return fmt.Errorf("invalid SLA_RESOLUTION_LEAD_PERCENT %v", s.ResolutionLeadPercent)
	}
	for _, m := range s.ReminderMinutes {
		if m <= 0 {
			return fmt.Errorf("invalid SLA_REMINDER_MINUTES entry %d", m)
		}
	}
	if s.EvaluationBatchSize <= 0 {
		return fmt.Errorf("invalid SLA_EVALUATION_BATCH_SIZE %d", s.EvaluationBatchSize)
	}
	if s.UpdateRetries < 1 {
		return fmt.Errorf("invalid SLA_UPDATE_RETRIES %d", s.UpdateRetries)
	}
	return nil
}

// Reminders returns the reminder lead times as durations.
func (s SLAConfig) Reminders() []time.Duration {
	out := make([]time.Duration, 0, len(s.ReminderMinutes))
	for _, m := range s.ReminderMinutes {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

// ClassificationTTL is how long the last known classification is kept per ticket.
func (s SLAConfig) ClassificationTTL() time.Duration {
	if s.ClassificationTTLHours <= 0 {
		return 0
	}
	return time.Duration(s.ClassificationTTLHours) * time.Hour
}

// EvaluationTimeout bounds one scheduled evaluation pass.
func (s SLAConfig) EvaluationTimeout() time.Duration {
	if s.EvaluationTimeoutSecond <= 0 {
		return time.Minute
	}
	return time.Duration(s.EvaluationTimeoutSecond) * time.Second
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

func getEnvAsIntList(key string, fallback []int) ([]int, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	var out []int
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
