package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names
const (
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
	BackendLocal     = "local"
	BackendNone      = "none"
	BackendCassandra = "cassandra"
	BackendS3        = "s3"
)

type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Database
	DatabaseURL       string
	MigrateOnStart    bool
	MigrationsPath    string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime time.Duration

	// Redis
	RedisURL      string
	RedisPoolSize int

	// Server
	Port           string
	FrontendURL    string
	RequestTimeout time.Duration

	// Backends
	StoreBackend   string
	QueueBackend   string
	RealtimeFanout string

	// Matchmaking
	QueueExpiryMinutes    int
	MatchmakerPollSeconds int

	// Ledger reconciliation
	ReconcileIntervalSeconds int
	ReconcileWindowHours     int

	// Session archive
	ArchiveBackend string
	Cassandra      CassandraConfig
	ArchiveS3      S3Config
}

// CassandraConfig holds the settled-session archive cluster settings
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

// S3Config holds the settled-session archive bucket settings
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:       getEnv("DATABASE_URL", "postgres://localhost:5432/ful2win?sslmode=disable"),
		MigrateOnStart:    getEnvBool("MIGRATE_ON_START", false),
		MigrationsPath:    getEnv("MIGRATIONS_PATH", "migrations"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: time.Duration(getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 5)) * time.Minute,

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 0),

		// Server
		Port:           getEnv("APP_PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:5173"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,

		// Backends
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		QueueBackend:   strings.ToLower(getEnv("QUEUE_BACKEND", BackendPostgres)),
		RealtimeFanout: strings.ToLower(getEnv("REALTIME_FANOUT", BackendRedis)),

		// Matchmaking
		QueueExpiryMinutes:    getEnvInt("QUEUE_EXPIRY_MINUTES", 10),
		MatchmakerPollSeconds: getEnvInt("MATCHMAKER_POLL_SECONDS", 2),

		// Ledger reconciliation
		ReconcileIntervalSeconds: getEnvInt("RECONCILE_INTERVAL_SECONDS", 60),
		ReconcileWindowHours:     getEnvInt("RECONCILE_WINDOW_HOURS", 24),

		// Session archive
		ArchiveBackend: strings.ToLower(getEnv("ARCHIVE_BACKEND", BackendNone)),
		Cassandra: CassandraConfig{
			Hosts:       splitList(getEnv("CASSANDRA_HOSTS", "localhost:9042")),
			Keyspace:    getEnv("CASSANDRA_KEYSPACE", "ful2win_archive"),
			Username:    getEnv("CASSANDRA_USERNAME", ""),
			Password:    getEnv("CASSANDRA_PASSWORD", ""),
			Consistency: getEnv("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     time.Duration(getEnvInt("CASSANDRA_TIMEOUT_SECONDS", 5)) * time.Second,
		},
		ArchiveS3: S3Config{
			Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
			Region:          getEnv("ARCHIVE_S3_REGION", "auto"),
			Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("ARCHIVE_S3_PREFIX", "sessions"),
		},
	}
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
