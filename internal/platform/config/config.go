package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "conubium/pkg/platform/strings"
)

// Config aggregates service configuration. Defaults favor development:
// in-memory stores, no cache, no relay.
type Config struct {
	Server   ServerConfig
	Registry RegistryConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr                  string
	LogLevel              string
	LogFormat             string
	AdminToken            string
	AttestationSigningKey string
}

// RegistryConfig selects the identity binding variant and its startup inputs.
type RegistryConfig struct {
	BindingMode      string // "address" or "nullifier"
	ConsumedPolicy   string // "monotonic", "release", or empty for the mode default
	RosterRoot       string // hex membership root, address mode
	VerifierURL      string // external verifier endpoint, nullifier mode
	VerifyingKeyPath string // local groth16 verifying key, optional
}

// DatabaseConfig points at Postgres; empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL string
}

// RedisConfig configures the status cache client; empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the ledger relay; no brokers disables it.
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ClientID      string
	RelayInterval time.Duration
	RelayBatch    int
}

// StatusCacheTTL enforces retention for cached identity status lookups.
var StatusCacheTTL = 5 * time.Minute

// FromEnv builds the full config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:       getEnv("CONUBIUM_ADDR", ":8080"),
			LogLevel:   getEnv("CONUBIUM_LOG_LEVEL", "info"),
			LogFormat:  getEnv("CONUBIUM_LOG_FORMAT", "json"),
			AdminToken: os.Getenv("CONUBIUM_ADMIN_TOKEN"),
			// Dev default, must be overridden in production.
			AttestationSigningKey: getEnv("CONUBIUM_ATTESTATION_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Registry: RegistryConfig{
			BindingMode:      getEnv("CONUBIUM_BINDING_MODE", "nullifier"),
			ConsumedPolicy:   os.Getenv("CONUBIUM_CONSUMED_POLICY"),
			RosterRoot:       os.Getenv("CONUBIUM_ROSTER_ROOT"),
			VerifierURL:      os.Getenv("CONUBIUM_VERIFIER_URL"),
			VerifyingKeyPath: os.Getenv("CONUBIUM_VERIFYING_KEY_PATH"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("CONUBIUM_POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("CONUBIUM_REDIS_URL"),
			PoolSize:     getInt("CONUBIUM_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("CONUBIUM_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("CONUBIUM_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("CONUBIUM_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("CONUBIUM_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(os.Getenv("CONUBIUM_KAFKA_BROKERS")),
			Topic:         getEnv("CONUBIUM_KAFKA_TOPIC", "conubium.registry.events"),
			ClientID:      getEnv("CONUBIUM_KAFKA_CLIENT_ID", "conubium-registry"),
			RelayInterval: getDuration("CONUBIUM_RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    getInt("CONUBIUM_RELAY_BATCH", 100),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// splitList parses a comma-separated env value; repeated entries collapse so
// a doubled broker does not double-publish.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	out := platformstrings.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
