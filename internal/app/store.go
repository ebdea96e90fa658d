package app

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/stalltally/internal/ledger"
	"github.com/odyssey-erp/stalltally/internal/ledger/filestore"
	"github.com/odyssey-erp/stalltally/internal/ledger/pgstore"
	"github.com/odyssey-erp/stalltally/internal/ledger/redisstore"
	"github.com/odyssey-erp/stalltally/internal/ledger/sqlitestore"
)

// OpenStore opens the store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *Config) (ledger.Store, error) {
	switch cfg.StoreDriver {
	case DriverFile, "":
		return filestore.New(cfg.ActiveUnitsPath, cfg.EventLogPath), nil
	case DriverSQLite:
		return sqlitestore.Open(cfg.SQLitePath)
	case DriverPostgres:
		return pgstore.Open(ctx, cfg.PGDSN)
	case DriverRedis:
		return redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisKeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
