package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	ConnectTimeout     time.Duration
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	PresignTTL   time.Duration
	BucketRegion string
}

// AuthConfig points at the identity service used to resolve bearer tokens.
type AuthConfig struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	JWTPrecheck bool
}

// EmbeddingPolicy decides what happens to an upload when the embedding stage fails.
type EmbeddingPolicy string

const (
	// EmbeddingPolicyDegrade records the document without an embedding.
	EmbeddingPolicyDegrade EmbeddingPolicy = "degrade"
	// EmbeddingPolicyFail aborts the upload before any metadata is written.
	EmbeddingPolicyFail EmbeddingPolicy = "fail"
)

// EmbeddingConfig holds the OpenAI-compatible embedding endpoint settings.
type EmbeddingConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Dimensions    int
	Timeout       time.Duration
	MaxInputBytes int
	RetryBudget   time.Duration
	Policy        EmbeddingPolicy
}

// IngestConfig bounds the upload pipeline.
type IngestConfig struct {
	MaxUploadBytes  int
	StorageTimeout  time.Duration
	MetadataTimeout time.Duration
	RetryOnConflict bool
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

// ReconcileConfig is used by the orphan sweep command.
type ReconcileConfig struct {
	GracePeriod time.Duration
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost   string
	Port      string
	Database  DatabaseConfig
	MinIO     MinIOConfig
	Auth      AuthConfig
	Embedding EmbeddingConfig
	Ingest    IngestConfig
	Kafka     KafkaConfig
	Log       LogConfig
	Reconcile ReconcileConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			ConnectTimeout:     getEnvDuration("DB_CONNECT_TIMEOUT", 30*time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:     getEnv("MINIO_ENDPOINT", ""),
			AccessKey:    getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey:    getEnv("MINIO_SECRET_KEY", ""),
			Bucket:       getEnv("MINIO_BUCKET", "documents"),
			UseSSL:       getEnvBool("MINIO_USE_SSL", false),
			PresignTTL:   getEnvDuration("MINIO_PRESIGN_TTL", 15*time.Minute),
			BucketRegion: getEnv("MINIO_REGION", ""),
		},
		Auth: AuthConfig{
			URL:         strings.TrimRight(getEnv("AUTH_URL", ""), "/"),
			APIKey:      getEnv("AUTH_API_KEY", ""),
			Timeout:     getEnvDuration("AUTH_TIMEOUT", 5*time.Second),
			JWTPrecheck: getEnvBool("AUTH_JWT_PRECHECK", true),
		},
		Embedding: EmbeddingConfig{
			BaseURL:       getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
			APIKey:        getEnv("EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY")),
			Model:         getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions:    getEnvInt("EMBEDDING_DIMENSIONS", 1536),
			Timeout:       getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			MaxInputBytes: getEnvInt("EMBEDDING_MAX_INPUT_BYTES", 24*1024),
			RetryBudget:   getEnvDuration("EMBEDDING_RETRY_BUDGET", 20*time.Second),
			Policy:        EmbeddingPolicy(strings.ToLower(getEnv("EMBEDDING_POLICY", string(EmbeddingPolicyDegrade)))),
		},
		Ingest: IngestConfig{
			MaxUploadBytes:  getEnvInt("INGEST_MAX_UPLOAD_BYTES", 50*1024*1024),
			StorageTimeout:  getEnvDuration("INGEST_STORAGE_TIMEOUT", 60*time.Second),
			MetadataTimeout: getEnvDuration("INGEST_METADATA_TIMEOUT", 5*time.Second),
			RetryOnConflict: getEnvBool("INGEST_RETRY_ON_CONFLICT", true),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "documents.events"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Reconcile: ReconcileConfig{
			GracePeriod: getEnvDuration("RECONCILE_GRACE_PERIOD", time.Hour),
		},
	}
}

// Validate reports settings the API server cannot start without.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Auth.URL == "" {
		errs = append(errs, errors.New("AUTH_URL is required"))
	}
	if c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("EMBEDDING_API_KEY (or OPENAI_API_KEY) is required"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.Embedding.Dimensions))
	}
	switch c.Embedding.Policy {
	case EmbeddingPolicyDegrade, EmbeddingPolicyFail:
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_POLICY must be %q or %q, got %q",
			EmbeddingPolicyDegrade, EmbeddingPolicyFail, c.Embedding.Policy))
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("INGEST_MAX_UPLOAD_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
