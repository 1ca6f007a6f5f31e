package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries every tunable policy of the auth core. It is parsed once at
// startup and handed to constructors; components never read the environment
// themselves, so tests can vary policy per case.
type Config struct {
	Addr  string `env:"GATEHOUSE_ADDR" envDefault:":8080"`
	PGDSN string `env:"GATEHOUSE_PG_DSN"`

	TokenSecret string        `env:"GATEHOUSE_AUTH_SECRET"`
	TokenIssuer string        `env:"GATEHOUSE_TOKEN_ISSUER" envDefault:"gatehouse"`
	AccessTTL   time.Duration `env:"GATEHOUSE_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL  time.Duration `env:"GATEHOUSE_REFRESH_TTL" envDefault:"336h"`
	ClockSkew   time.Duration `env:"GATEHOUSE_CLOCK_SKEW" envDefault:"5s"`

	LockoutThreshold int           `env:"GATEHOUSE_LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration  time.Duration `env:"GATEHOUSE_LOCKOUT_DURATION" envDefault:"15m"`

	BcryptCost          int   `env:"GATEHOUSE_BCRYPT_COST" envDefault:"12"`
	MaxConcurrentHashes int64 `env:"GATEHOUSE_MAX_CONCURRENT_HASHES" envDefault:"8"`

	GrantCacheTTL time.Duration `env:"GATEHOUSE_GRANT_CACHE_TTL" envDefault:"30s"`
	StoreTimeout  time.Duration `env:"GATEHOUSE_STORE_TIMEOUT" envDefault:"5s"`

	RateLimitBurst     int `env:"GATEHOUSE_RATE_BURST" envDefault:"20"`
	RateLimitPerSecond int `env:"GATEHOUSE_RATE_PER_SECOND" envDefault:"10"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would silently weaken the core.
func (c Config) Validate() error {
	if c.TokenSecret == "" {
		return errors.New("config: GATEHOUSE_AUTH_SECRET must be set")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.LockoutThreshold <= 0 {
		return errors.New("config: lockout threshold must be positive")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("config: lockout duration must be positive")
	}
	return nil
}
