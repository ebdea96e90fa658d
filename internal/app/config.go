package app

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/stalltally/internal/catalog"
	"github.com/odyssey-erp/stalltally/internal/ledger"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"development"`

	LogFormat  string `envconfig:"LOG_FORMAT" default:"pretty" validate:"oneof=pretty json"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFile    string `envconfig:"LOG_FILE"`
	LogJournal bool   `envconfig:"LOG_JOURNAL" default:"false"`

	Catalog       []string `envconfig:"CATALOG" default:"プレーン,チョコ,いちご,はちみつ,シナモン" validate:"min=1,dive,required"`
	OrderQuantity uint     `envconfig:"ORDER_QUANTITY" default:"3"`

	StoreDriver     string `envconfig:"STORE_DRIVER" default:"file" validate:"oneof=file sqlite postgres redis"`
	ActiveUnitsPath string `envconfig:"ACTIVE_UNITS_PATH" default:"sold_food.json" validate:"required_if=StoreDriver file"`
	EventLogPath    string `envconfig:"EVENT_LOG_PATH" default:"history.json" validate:"required_if=StoreDriver file"`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"stalltally.db" validate:"required_if=StoreDriver sqlite"`
	PGDSN           string `envconfig:"PG_DSN" validate:"required_if=StoreDriver postgres"`
	RedisAddr       string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379" validate:"required_if=StoreDriver redis"`
	RedisKeyPrefix  string `envconfig:"REDIS_KEY_PREFIX" default:"stalltally"`

	FlushMode string `envconfig:"FLUSH_MODE" default:"sync" validate:"oneof=sync async"`

	MetricsTextfile string        `envconfig:"METRICS_TEXTFILE"`
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s" validate:"gt=0"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := cfg.ItemCatalog(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// ItemCatalog builds the catalog from CATALOG.
func (c *Config) ItemCatalog() (catalog.Catalog, error) {
	return catalog.New(c.Catalog...)
}

// LedgerOptions translates the ledger related settings.
func (c *Config) LedgerOptions() []ledger.Option {
	return []ledger.Option{ledger.WithOrderQuantity(c.OrderQuantity)}
}

// AsyncFlush reports whether persistence runs on a background goroutine.
func (c *Config) AsyncFlush() bool {
	return c.FlushMode == "async"
}
