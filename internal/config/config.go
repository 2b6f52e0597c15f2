package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

const EnvPrefix = "CAMPAIGN"

const (
	EnvEnvironment = "ENVIRONMENT"
	EnvPort        = "SERVER_PORT"
	EnvStoreDriver = "STORE_DRIVER"
	EnvDBSource    = "DB_SOURCE"
	EnvRedisURL    = "REDIS_URL"
	EnvPriceETH    = "PRICE_ETH_USD"
	EnvPriceWBTC   = "PRICE_WBTC_USD"
	EnvRPCURL      = "CHAIN_RPC_URL"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverLevelDB  = "leveldb"
)

type Config struct {
	App       AppConfig
	Store     StoreConfig
	Redis     RedisConfig
	Pricing   PricingConfig
	Chain     ChainConfig
	Scheduler SchedulerConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Pricing.Rates(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ENVIRONMENT" default:"development"`
	Port         string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "development")
}

type StoreConfig struct {
	Driver      string `envconfig:"STORE_DRIVER" default:"memory"`
	DBSource    string `envconfig:"DB_SOURCE"`
	MaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"20"`
	LevelDBPath string `envconfig:"LEVELDB_PATH" default:"data/campaigns"`
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case DriverMemory, DriverLevelDB:
		return nil
	case DriverPostgres:
		if s.DBSource == "" {
			return fmt.Errorf("%s environment variable is required for the postgres store", EnvDBSource)
		}
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", s.Driver)
	}
}

// RedisConfig is optional: with no URL or address, campaign locks stay
// in-process and price pinning is disabled.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	Address      string        `envconfig:"REDIS_ADDR"`
	Password     string        `envconfig:"REDIS_PASSWORD"`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"5s"`
	LockTTL      time.Duration `envconfig:"REDIS_LOCK_TTL" default:"15s"`
}

func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type PricingConfig struct {
	ETHRate   string        `envconfig:"PRICE_ETH_USD" default:"2300"`
	WBTCRate  string        `envconfig:"PRICE_WBTC_USD" default:"45000"`
	PinBucket time.Duration `envconfig:"PRICE_PIN_BUCKET" default:"1m"`
	PinTTL    time.Duration `envconfig:"PRICE_PIN_TTL" default:"720h"`
}

// Rates parses the configured per-unit USD rates.
func (p PricingConfig) Rates() (map[domain.Asset]decimal.Decimal, error) {
	raw := map[domain.Asset]string{
		domain.AssetETH:  p.ETHRate,
		domain.AssetWBTC: p.WBTCRate,
	}
	rates := make(map[domain.Asset]decimal.Decimal, len(raw))
	for asset, value := range raw {
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("parsing %s rate %q: %w", asset, value, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("%s rate must be positive, got %s", asset, rate)
		}
		rates[asset] = rate
	}
	return rates, nil
}

type ChainConfig struct {
	Network   string `envconfig:"CHAIN_NETWORK" default:"sepolia"`
	RPCURL    string `envconfig:"CHAIN_RPC_URL"`
	WBTCToken string `envconfig:"CHAIN_WBTC_TOKEN"`
}

type SchedulerConfig struct {
	FinalizeInterval  time.Duration `envconfig:"FINALIZE_INTERVAL" default:"1m"`
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"30s"`
}
