package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTP        HTTP
	API         API
	Gateway     Gateway
	Cache       Cache
	Redis       Redis
	Portfolio   Portfolio
	Risk        Risk
	Jobs        Jobs
	GoogleDrive GoogleDrive
}

type HTTP struct {
	Port         int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
}

type API struct {
	Debug    bool `env:"API_DEBUG" envDefault:"false"`
	YahooApi YahooApi
}

type YahooApi struct {
	Url string `env:"YAHOO_API_URL" envDefault:"https://query1.finance.yahoo.com"`
}

type Gateway struct {
	MaxConcurrentRequests int           `env:"GATEWAY_MAX_CONCURRENT_REQUESTS" envDefault:"10"`
	RequestTimeout        time.Duration `env:"GATEWAY_REQUEST_TIMEOUT" envDefault:"30s"`
	LookbackDays          int           `env:"GATEWAY_LOOKBACK_DAYS" envDefault:"365"`
}

type Cache struct {
	// Backend selects the market-data cache implementation: "memory" or "redis".
	Backend        string        `env:"CACHE_BACKEND" envDefault:"memory"`
	Expiration     time.Duration `env:"CACHE_EXPIRATION" envDefault:"1h"`
	StaleRetention time.Duration `env:"CACHE_STALE_RETENTION" envDefault:"24h"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type Portfolio struct {
	BaseCurrency string   `env:"BASE_CURRENCY" envDefault:"JPY"`
	Watchlist    []string `env:"WATCHLIST" envSeparator:"," envDefault:""`
}

type Risk struct {
	MinHistoryLength    int       `env:"RISK_MIN_HISTORY_LENGTH" envDefault:"30"`
	MinTailObservations int       `env:"RISK_MIN_TAIL_OBSERVATIONS" envDefault:"2"`
	ConfidenceLevels    []float64 `env:"RISK_CONFIDENCE_LEVELS" envSeparator:"," envDefault:"0.95,0.99"`
}

type Jobs struct {
	WarmCacheInterval time.Duration `env:"WARM_CACHE_JOB_INTERVAL" envDefault:"30m"`
}

type GoogleDrive struct {
	Enabled         bool          `env:"GOOGLE_DRIVE_ENABLED" envDefault:"false"`
	CredentialsFile string        `env:"GOOGLE_DRIVE_CREDENTIALS_FILE" envDefault:""`
	FileTTL         time.Duration `env:"GOOGLE_DRIVE_FILE_TTL" envDefault:"720h"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	if err := cfg.validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	return cfg
}

func (c *Config) validate() error {
	if c.Gateway.MaxConcurrentRequests < 1 {
		return fmt.Errorf("GATEWAY_MAX_CONCURRENT_REQUESTS must be >= 1, got %d", c.Gateway.MaxConcurrentRequests)
	}
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("GATEWAY_REQUEST_TIMEOUT must be positive, got %s", c.Gateway.RequestTimeout)
	}
	if c.Gateway.LookbackDays < 1 {
		return fmt.Errorf("GATEWAY_LOOKBACK_DAYS must be >= 1, got %d", c.Gateway.LookbackDays)
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Expiration <= 0 {
		return fmt.Errorf("CACHE_EXPIRATION must be positive, got %s", c.Cache.Expiration)
	}
	if c.Portfolio.BaseCurrency == "" {
		return fmt.Errorf("BASE_CURRENCY must not be empty")
	}
	if c.Risk.MinHistoryLength < 2 {
		return fmt.Errorf("RISK_MIN_HISTORY_LENGTH must be >= 2, got %d", c.Risk.MinHistoryLength)
	}
	if len(c.Risk.ConfidenceLevels) == 0 {
		return fmt.Errorf("RISK_CONFIDENCE_LEVELS must not be empty")
	}
	for _, lvl := range c.Risk.ConfidenceLevels {
		if lvl <= 0 || lvl >= 1 {
			return fmt.Errorf("confidence level must be in (0,1), got %f", lvl)
		}
	}
	if c.GoogleDrive.Enabled && c.GoogleDrive.CredentialsFile == "" {
		return fmt.Errorf("GOOGLE_DRIVE_CREDENTIALS_FILE required when GOOGLE_DRIVE_ENABLED")
	}
	return nil
}
