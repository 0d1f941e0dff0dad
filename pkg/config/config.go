package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Authentication modes.
const (
	AuthModeGateway = "gateway"
	AuthModeJWT     = "jwt"
	AuthModeNone    = "none"
)

// Consistency modes for the coordinator.
const (
	ConsistencyStrict = "strict"
	ConsistencyParity = "parity"
)

type Config struct {
	Env             string
	Port            int
	APIPrefix       string
	ShutdownTimeout time.Duration

	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	CORS         CORSConfig
	Log          LogConfig
	Catalog      RemoteServiceConfig
	Identity     RemoteServiceConfig
	Consistency  ConsistencyConfig
	CapacitySync CapacitySyncConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode      string
	JWTSecret string
}

// CORSConfig lists browser origins allowed to call the service directly.
// Empty means CORS is left to the gateway.
type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RemoteServiceConfig describes a downstream service and its breaker.
type RemoteServiceConfig struct {
	BaseURL          string
	PathTemplate     string
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// ConsistencyConfig controls how enrollments and the remote counter are kept in step.
type ConsistencyConfig struct {
	Mode     string
	LockTTL  time.Duration
	LockWait time.Duration
}

// Strict reports whether course-level serialisation is enabled.
func (c ConsistencyConfig) Strict() bool {
	return c.Mode != ConsistencyParity
}

// CapacitySyncConfig sizes the capacity write-back worker pool.
type CapacitySyncConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.ShutdownTimeout = parseDuration(v.GetString("SHUTDOWN_TIMEOUT"), 15*time.Second)

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Auth = AuthConfig{
		Mode:      strings.ToLower(v.GetString("AUTH_MODE")),
		JWTSecret: v.GetString("JWT_SECRET"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	breakerCooldown := parseDuration(v.GetString("BREAKER_COOLDOWN"), 30*time.Second)
	cfg.Catalog = RemoteServiceConfig{
		BaseURL:          strings.TrimRight(v.GetString("CATALOG_SERVICE_URL"), "/"),
		PathTemplate:     v.GetString("CATALOG_COURSE_PATH"),
		Timeout:          parseDuration(v.GetString("CATALOG_TIMEOUT"), 3*time.Second),
		FailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
		SuccessThreshold: v.GetInt("BREAKER_SUCCESS_THRESHOLD"),
		Cooldown:         breakerCooldown,
	}
	cfg.Identity = RemoteServiceConfig{
		BaseURL:          strings.TrimRight(v.GetString("IDENTITY_SERVICE_URL"), "/"),
		PathTemplate:     v.GetString("IDENTITY_USER_PATH"),
		Timeout:          parseDuration(v.GetString("IDENTITY_TIMEOUT"), 3*time.Second),
		FailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
		SuccessThreshold: v.GetInt("BREAKER_SUCCESS_THRESHOLD"),
		Cooldown:         breakerCooldown,
	}

	cfg.Consistency = ConsistencyConfig{
		Mode:     strings.ToLower(v.GetString("CONSISTENCY_MODE")),
		LockTTL:  parseDuration(v.GetString("COURSE_LOCK_TTL"), 10*time.Second),
		LockWait: parseDuration(v.GetString("COURSE_LOCK_WAIT"), 5*time.Second),
	}

	cfg.CapacitySync = CapacitySyncConfig{
		Workers:    v.GetInt("CAPACITY_SYNC_WORKERS"),
		QueueSize:  v.GetInt("CAPACITY_SYNC_QUEUE_SIZE"),
		MaxRetries: v.GetInt("CAPACITY_SYNC_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("CAPACITY_SYNC_RETRY_DELAY"), 500*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects unknown modes and unusable sizes.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Auth.Mode {
	case AuthModeGateway, AuthModeNone:
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return errors.New("config: JWT_SECRET is required when AUTH_MODE=jwt")
		}
	default:
		return fmt.Errorf("config: unsupported AUTH_MODE %q", c.Auth.Mode)
	}
	switch c.Consistency.Mode {
	case ConsistencyStrict, ConsistencyParity:
	default:
		return fmt.Errorf("config: unsupported CONSISTENCY_MODE %q", c.Consistency.Mode)
	}
	if c.CapacitySync.Workers <= 0 {
		return errors.New("config: CAPACITY_SYNC_WORKERS must be positive")
	}
	if c.Catalog.BaseURL == "" || c.Identity.BaseURL == "" {
		return errors.New("config: CATALOG_SERVICE_URL and IDENTITY_SERVICE_URL are required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8083)
	v.SetDefault("API_PREFIX", "/api")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "enrollment_service")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("AUTH_MODE", AuthModeGateway)
	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("ALLOWED_ORIGINS", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CATALOG_SERVICE_URL", "http://localhost:8082/api")
	v.SetDefault("CATALOG_COURSE_PATH", "/courses/%s")
	v.SetDefault("CATALOG_TIMEOUT", "3s")
	v.SetDefault("IDENTITY_SERVICE_URL", "http://localhost:8081/api")
	v.SetDefault("IDENTITY_USER_PATH", "/users/%s")
	v.SetDefault("IDENTITY_TIMEOUT", "3s")
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_SUCCESS_THRESHOLD", 1)
	v.SetDefault("BREAKER_COOLDOWN", "30s")

	v.SetDefault("CONSISTENCY_MODE", ConsistencyStrict)
	v.SetDefault("COURSE_LOCK_TTL", "10s")
	v.SetDefault("COURSE_LOCK_WAIT", "5s")

	v.SetDefault("CAPACITY_SYNC_WORKERS", 4)
	v.SetDefault("CAPACITY_SYNC_QUEUE_SIZE", 64)
	v.SetDefault("CAPACITY_SYNC_MAX_RETRIES", 3)
	v.SetDefault("CAPACITY_SYNC_RETRY_DELAY", "500ms")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
