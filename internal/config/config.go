package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers accepted by DB_DRIVER and LEDGER_STORE.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; the sub-configs group the settings of one
// component each.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	JWTSecret string // secret used to verify JWTs

	DBDriver    string // booking records store: mysql, postgres or memory
	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name
	LedgerStore string // seat map store: mysql, redis or memory

	Ledger    LedgerConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// QueueConfig configures the RabbitMQ publisher and consumers.  An empty
// URL disables messaging; events are then only logged.
type QueueConfig struct {
	URL                    string
	PaymentConsumerEnabled bool
	AuditLogPath           string
}

// Load reads an optional .env file and then the environment.  Every
// missing required variable is reported in one error instead of failing
// on the first.
func Load() (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:         envStr("APP_ENV", "prod"),
		Port:        envStr("APP_PORT", "8080"),
		JWTSecret:   must("JWT_SECRET"),
		DBDriver:    strings.ToLower(envStr("DB_DRIVER", DriverMySQL)),
		LedgerStore: strings.ToLower(envStr("LEDGER_STORE", DriverMySQL)),
		Ledger:      LoadLedgerConfig(),
		RateLimit:   LoadRateLimitConfig(),
		Cache:       LoadCacheConfig(),
		Queue: QueueConfig{
			URL:                    firstEnv("RABBITMQ_URL", "AMQP_URL"),
			PaymentConsumerEnabled: envBool("PAYMENT_CONSUMER_ENABLED", true),
			AuditLogPath:           os.Getenv("AUDIT_LOG_PATH"),
		},
	}
	if cfg.DBDriver != DriverMemory {
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case DriverMySQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER %q: want mysql, postgres or memory", c.DBDriver)
	}
	switch c.LedgerStore {
	case DriverMySQL:
		if c.DBDriver != DriverMySQL {
			return errors.New("LEDGER_STORE=mysql requires DB_DRIVER=mysql")
		}
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("LEDGER_STORE %q: want mysql, redis or memory", c.LedgerStore)
	}
	return c.Ledger.validate()
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
