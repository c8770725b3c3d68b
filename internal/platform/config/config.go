package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "lagerkoll/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string
	LogFormat   string

	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	Realtime  RealtimeConfig
	Bootstrap BootstrapConfig
}

// DatabaseConfig selects the persistent store. An empty URL runs the
// in-memory store, which is what tests and local demos use.
type DatabaseConfig struct {
	URL             string
	Driver          string // "postgres" (lib/pq) or "pgx"
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

// RedisConfig configures the Redis client used by the event relay.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Channel      string
}

// KafkaConfig configures the Kafka event relay.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AuthConfig configures access tokens.
type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
	TokenTTL      time.Duration
	AdminToken    string
}

// RealtimeConfig configures the change-event fan-out.
type RealtimeConfig struct {
	// Relay is "none", "redis" or "kafka". Anything but "none" lets several
	// server instances share one event stream.
	Relay          string
	QueueSize      int
	Overflow       string // "drop-oldest" or "disconnect"
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	RequireAuth    bool
	AllowedOrigins []string
	MaxSessions    int
}

// BootstrapConfig seeds the first admin account when the user table is empty.
type BootstrapConfig struct {
	AdminUsername string
	AdminPassword string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default; production deployments must override it.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:        envString("LAGERKOLL_ADDR", ":8080"),
		Environment: envString("LAGERKOLL_ENV", "development"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		LogFormat:   envString("LOG_FORMAT", "json"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Driver:          envString("DATABASE_DRIVER", "postgres"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			RunMigrations:   envBool("DATABASE_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			Channel:      envString("REDIS_EVENTS_CHANNEL", "lagerkoll:events"),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_EVENTS_TOPIC", "lagerkoll.events"),
		},
		Auth: AuthConfig{
			JWTSigningKey: jwtSigningKey,
			Issuer:        envString("JWT_ISSUER", "lagerkoll"),
			TokenTTL:      envDuration("TOKEN_TTL", 12*time.Hour),
			AdminToken:    os.Getenv("ADMIN_API_TOKEN"),
		},
		Realtime: RealtimeConfig{
			Relay:          envString("REALTIME_RELAY", "none"),
			QueueSize:      envInt("WS_QUEUE_SIZE", 64),
			Overflow:       envString("WS_OVERFLOW", "drop-oldest"),
			PingInterval:   envDuration("WS_PING_INTERVAL", 30*time.Second),
			WriteTimeout:   envDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			RequireAuth:    envBool("WS_REQUIRE_AUTH", true),
			AllowedOrigins: envList("WS_ALLOWED_ORIGINS"),
			MaxSessions:    envInt("WS_MAX_SESSIONS", 0),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: envString("BOOTSTRAP_ADMIN_USERNAME", "admin"),
			AdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		},
	}
}

// IsProduction reports whether development defaults must be rejected.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(raw, ","))
}
