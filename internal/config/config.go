package config

import (
	"errors"
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
	Kafka        KafkaConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Classifier   ClassifierConfig
	Breaker      BreakerConfig
	Lock         LockConfig
	Dedup        DedupConfig
	Assignment   AssignmentConfig
	Worker       WorkerConfig
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
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the event forwarder settings. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Format  string
	Service string
}

// AuthConfig defines operator authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	OperatorEmail         string
	OperatorPasswordHash  string
}

// NotificationConfig holds alert delivery settings.
type NotificationConfig struct {
	WebhookURL       string
	UrgencyThreshold float64
	TimeoutSeconds   int
}

// ClassifierConfig points at the primary classification collaborator.
type ClassifierConfig struct {
	URL          string
	EmbeddingDim int
}

// BreakerConfig tunes the classifier circuit breaker.
type BreakerConfig struct {
	LatencyThreshold time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// LockConfig tunes the idempotency lock.
type LockConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

// DedupConfig tunes storm detection.
type DedupConfig struct {
	Window              time.Duration
	SimilarityThreshold float64
	StormThreshold      int
	IncidentIdle        time.Duration
}

// AssignmentConfig tunes agent selection.
type AssignmentConfig struct {
	Epsilon float64
}

// WorkerConfig sizes the processing pool.
type WorkerConfig struct {
	Processors   int
	Dispatchers  int
	IntakeBuffer int
	ResultTTL    time.Duration
}

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

	window := getEnvAsSeconds("DEDUP_WINDOW_SECONDS", 300)

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-orchestrator"),
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
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "ticket-orchestrator.events"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			OperatorEmail:         getEnv("AUTH_OPERATOR_EMAIL", "ops@example.com"),
			OperatorPasswordHash:  os.Getenv("AUTH_OPERATOR_PASSWORD_HASH"),
		},
		Notification: NotificationConfig{
			WebhookURL:       getEnv("NOTIFY_WEBHOOK_URL", ""),
			UrgencyThreshold: getEnvAsFloat("NOTIFY_URGENCY_THRESHOLD", 0.8),
			TimeoutSeconds:   getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 3),
		},
		Classifier: ClassifierConfig{
			URL:          getEnv("CLASSIFIER_URL", ""),
			EmbeddingDim: getEnvAsInt("CLASSIFIER_EMBEDDING_DIM", 256),
		},
		Breaker: BreakerConfig{
			LatencyThreshold: time.Duration(getEnvAsInt("BREAKER_LATENCY_THRESHOLD_MS", 500)) * time.Millisecond,
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			Cooldown:         getEnvAsSeconds("BREAKER_COOLDOWN_SECONDS", 30),
		},
		Lock: LockConfig{
			TTL:       getEnvAsSeconds("LOCK_TTL_SECONDS", 60),
			KeyPrefix: getEnv("LOCK_KEY_PREFIX", "lock:"),
		},
		Dedup: DedupConfig{
			Window:              window,
			SimilarityThreshold: getEnvAsFloat("DEDUP_SIMILARITY_THRESHOLD", 0.9),
			StormThreshold:      getEnvAsInt("DEDUP_STORM_THRESHOLD", 10),
			IncidentIdle:        getEnvAsSeconds("DEDUP_INCIDENT_IDLE_SECONDS", int(window/time.Second)),
		},
		Assignment: AssignmentConfig{
			Epsilon: getEnvAsFloat("ASSIGNMENT_EPSILON", 0.01),
		},
		Worker: WorkerConfig{
			Processors:   getEnvAsInt("WORKER_PROCESSORS", 4),
			Dispatchers:  getEnvAsInt("WORKER_DISPATCHERS", 4),
			IntakeBuffer: getEnvAsInt("WORKER_INTAKE_BUFFER", 1024),
			ResultTTL:    getEnvAsSeconds("WORKER_RESULT_TTL_SECONDS", 3600),
		},
	}
	cfg.Logger.Service = cfg.App.Name

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Breaker.LatencyThreshold <= 0 {
		errs = append(errs, errors.New("BREAKER_LATENCY_THRESHOLD_MS must be positive"))
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, errors.New("BREAKER_FAILURE_THRESHOLD must be at least 1"))
	}
	if c.Breaker.Cooldown <= 0 {
		errs = append(errs, errors.New("BREAKER_COOLDOWN_SECONDS must be positive"))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL_SECONDS must be positive"))
	}
	if c.Dedup.Window <= 0 {
		errs = append(errs, errors.New("DEDUP_WINDOW_SECONDS must be positive"))
	}
	if c.Dedup.SimilarityThreshold < -1 || c.Dedup.SimilarityThreshold > 1 {
		errs = append(errs, errors.New("DEDUP_SIMILARITY_THRESHOLD must be within [-1, 1]"))
	}
	if c.Dedup.StormThreshold < 1 {
		errs = append(errs, errors.New("DEDUP_STORM_THRESHOLD must be at least 1"))
	}
	if c.Assignment.Epsilon < 0 {
		errs = append(errs, errors.New("ASSIGNMENT_EPSILON must not be negative"))
	}
	if c.Notification.UrgencyThreshold < 0 || c.Notification.UrgencyThreshold > 1 {
		errs = append(errs, errors.New("NOTIFY_URGENCY_THRESHOLD must be within [0, 1]"))
	}
	if c.Worker.Processors < 1 || c.Worker.Dispatchers < 1 {
		errs = append(errs, errors.New("WORKER_PROCESSORS and WORKER_DISPATCHERS must be at least 1"))
	}
	return errors.Join(errs...)
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

// Timeout returns the webhook delivery timeout.
func (n NotificationConfig) Timeout() time.Duration {
	if n.TimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(n.TimeoutSeconds) * time.Second
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

func getEnvAsSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Second
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

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
