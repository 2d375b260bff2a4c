package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, parsed from environment
// variables. DATABASE_URL and REDIS_URL are required; everything else
// has a default.
type Config struct {
	Addr        string `env:"STASH_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int32  `env:"STASH_DB_MAX_CONNS" envDefault:"10"`
	RedisURL    string `env:"REDIS_URL,required"`

	// AdminToken, when set, gates every API route behind a bearer token.
	AdminToken string `env:"STASH_ADMIN_TOKEN"`

	DefaultBalance int64 `env:"STASH_DEFAULT_BALANCE" envDefault:"0"`
	MinBalance     int64 `env:"STASH_MIN_BALANCE" envDefault:"0"`

	BankMaxFloor      int64 `env:"STASH_BANK_MAX_FLOOR" envDefault:"100"`
	BankMinIncrease   int64 `env:"STASH_BANK_MIN_INCREASE" envDefault:"50"`
	BankGrowthBps     int64 `env:"STASH_BANK_GROWTH_BPS" envDefault:"1000"`
	BankPerLevelBonus int64 `env:"STASH_BANK_PER_LEVEL_BONUS" envDefault:"25"`

	NearDueWindow time.Duration `env:"STASH_LOAN_NEAR_DUE_WINDOW" envDefault:"6h"`
	CacheTTL      time.Duration `env:"STASH_BALANCE_CACHE_TTL" envDefault:"5s"`

	TransferMaxAmount int64 `env:"STASH_TRANSFER_MAX_AMOUNT" envDefault:"0"`
	TransferMaxPerDay int64 `env:"STASH_TRANSFER_MAX_PER_DAY" envDefault:"0"`

	StartupLockTTL time.Duration `env:"STASH_STARTUP_LOCK_TTL" envDefault:"30s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
