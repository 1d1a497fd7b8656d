package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Auth      AuthConfig
	Frontend  FrontendConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Scenario  ScenarioConfig
	Metrics   MetricsConfig
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	URL      string `env:"REDIS_URL"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type ServerConfig struct {
	Port         string        `env:"SERVER_PORT" envDefault:"8080"`
	URL          string        `env:"SERVER_URL" envDefault:"http://localhost:8080"`
	Environment  string        `env:"ENVIRONMENT" envDefault:"development"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
}

type DatabaseConfig struct {
	// Driver selects the durable store dialect: "postgres" or "sqlite".
	Driver          string        `env:"DB_DRIVER" envDefault:"postgres"`
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            string        `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"postgres"`
	Password        string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Name            string        `env:"DB_NAME" envDefault:"hegemony"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath      string        `env:"DB_SQLITE_PATH" envDefault:"hegemony.db"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type CacheConfig struct {
	KeyPrefix        string        `env:"CACHE_KEY_PREFIX" envDefault:"hegemony:"`
	LocalSize        int           `env:"CACHE_LOCAL_SIZE" envDefault:"10000"`
	LocalTTL         time.Duration `env:"CACHE_LOCAL_TTL" envDefault:"2s"`
	DirtyMarkerTTL   time.Duration `env:"CACHE_DIRTY_MARKER_TTL" envDefault:"5m"`
	FlushInterval    time.Duration `env:"CACHE_FLUSH_INTERVAL" envDefault:"30s"`
	FlushConcurrency int           `env:"CACHE_FLUSH_CONCURRENCY" envDefault:"8"`
}

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

type FrontendConfig struct {
	URL       string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	CORSDebug bool   `env:"CORS_DEBUG" envDefault:"false"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"debug"`
	JSONFormat bool   `env:"LOG_JSON" envDefault:"false"`
}

type RateLimitConfig struct {
	Enabled           bool    `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerSecond float64 `env:"RATE_LIMIT_REQUESTS_PER_SECOND" envDefault:"10"`
	BurstSize         int     `env:"RATE_LIMIT_BURST_SIZE" envDefault:"20"`
	TrustProxy        bool    `env:"RATE_LIMIT_TRUST_PROXY" envDefault:"false"`
}

type ScenarioConfig struct {
	// Dir holds one YAML document per scenario. When empty the built-in
	// scenarios compiled into the binary are loaded.
	Dir           string        `env:"SCENARIO_DIR"`
	WatchInterval time.Duration `env:"SCENARIO_WATCH_INTERVAL" envDefault:"0s"`
	SeedOnStart   bool          `env:"SEED_ON_START" envDefault:"false"`
	WarmOnStart   bool          `env:"WARM_ON_START" envDefault:"true"`
}

type MetricsConfig struct {
	Enabled     bool   `env:"METRICS_ENABLED" envDefault:"true"`
	ServiceName string `env:"METRICS_SERVICE_NAME" envDefault:"hegemony-server"`
}

// Load reads an optional .env file, parses the environment into a Config and
// validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Production always logs JSON.
	if cfg.Server.Environment == "production" {
		cfg.Logging.JSONFormat = true
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("DB_SQLITE_PATH is required")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}

	if c.Cache.FlushConcurrency <= 0 {
		return fmt.Errorf("CACHE_FLUSH_CONCURRENCY must be positive")
	}

	if c.Cache.LocalSize <= 0 {
		return fmt.Errorf("CACHE_LOCAL_SIZE must be positive")
	}

	return nil
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
