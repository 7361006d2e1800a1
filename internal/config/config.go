package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	AuthJWTSecret string
	AuthTokenTTL  time.Duration

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	Storage StorageConfig
	Redis   RedisConfig
	Cache   CacheConfig
	Pool    PoolConfig
	Queue   QueueConfig
}

// StorageConfig describes the Postgres cluster that hosts per-tenant databases.
type StorageConfig struct {
	AdminHost     string
	AdminPort     string
	AdminUser     string
	AdminPassword string
	AdminDatabase string
	SSLMode       string

	TenantDBPrefix string
	// SourceDatabase is the canonical schema source replayed into new tenant
	// databases when the dump-based schema provisioner is selected.
	SourceDatabase  string
	SchemaInstaller string
	MinSchemaTables int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	TTL time.Duration
}

type PoolConfig struct {
	PerTenantMax   int
	GlobalMax      int
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	ConnectTimeout time.Duration
}

type QueueConfig struct {
	Workers      int
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "tenantplane"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AuthTokenTTL:  getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "tenantplane"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		Storage: StorageConfig{
			AdminHost:       getenv("STORAGE_ADMIN_HOST", getenv("DATABASE_HOST", "localhost")),
			AdminPort:       getenv("STORAGE_ADMIN_PORT", getenv("DATABASE_PORT", "5432")),
			AdminUser:       getenv("STORAGE_ADMIN_USER", getenv("DATABASE_USER", "postgres")),
			AdminPassword:   getenv("STORAGE_ADMIN_PASSWORD", getenv("DATABASE_PASSWORD", "")),
			AdminDatabase:   getenv("STORAGE_ADMIN_DATABASE", "postgres"),
			SSLMode:         getenv("STORAGE_SSLMODE", "disable"),
			TenantDBPrefix:  getenv("TENANT_DB_PREFIX", "tenant_"),
			SourceDatabase:  getenv("SOURCE_DATABASE_NAME", ""),
			SchemaInstaller: getenv("SCHEMA_INSTALLER", "ddl"),
			MinSchemaTables: getenvInt("MIN_SCHEMA_TABLES", 3),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			TTL: getenvDuration("CACHE_TTL", 5*time.Minute),
		},
		Pool: PoolConfig{
			PerTenantMax:   getenvInt("MAX_CONNECTIONS_PER_TENANT", 10),
			GlobalMax:      getenvInt("MAX_TOTAL_CONNECTIONS", 10000),
			IdleTimeout:    getenvDuration("POOL_IDLE_TIMEOUT", 30*time.Minute),
			SweepInterval:  getenvDuration("POOL_SWEEP_INTERVAL", 5*time.Minute),
			ConnectTimeout: getenvDuration("POOL_CONNECT_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			Workers:      getenvInt("PROVISIONING_WORKERS", 2),
			MaxAttempts:  getenvInt("PROVISIONING_MAX_ATTEMPTS", 3),
			BackoffBase:  getenvDuration("PROVISIONING_BACKOFF", 5*time.Second),
			PollInterval: getenvDuration("PROVISIONING_POLL_INTERVAL", time.Second),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
