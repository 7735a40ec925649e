package modules

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/catalog"
	"stockpulse.io/stockpulse/internal/config"
	"stockpulse.io/stockpulse/internal/infrastructure"
	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/pkg/worker"
	"stockpulse.io/stockpulse/internal/reorder"
	"stockpulse.io/stockpulse/internal/storage"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil with the memory driver.
	DB        *infrastructure.DatabaseClients
	Storage   storage.UnitOfWork
	Pools     *worker.Pools
	Rules     reorder.Source
	Refresher *reorder.Refresher
}

// NewInfrastructure opens storage, worker pools and the reorder rules.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{Config: cfg}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		infra.Storage = storage.NewMemory(time.Now)
	default:
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		pg, err := storage.NewPostgres(db.Pool, CatalogTables(cfg.Catalog), time.Now)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init postgres storage: %w", err)
		}
		infra.DB = db
		infra.Storage = pg
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		RulesPoolSize:   cfg.Worker.RulesPoolSize,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	infra.Pools = pools

	rules, err := loadRules(cfg.Reorder)
	if err != nil {
		infra.Close()
		return nil, err
	}
	infra.Rules = rules
	infra.Refresher = &reorder.Refresher{
		Engine:  reorder.NewFormulaEngine(),
		Pool:    pools.Rules,
		Timeout: cfg.Processor.RuleTimeout,
	}

	logger.Info("Infrastructure initialized",
		zap.String("storage", infra.Storage.Driver()),
		zap.String("rules_file", cfg.Reorder.RulesFile),
	)
	return infra, nil
}

// CatalogTables maps the catalog configuration; empty fields keep defaults.
func CatalogTables(c config.CatalogConfig) catalog.Tables {
	t := catalog.DefaultTables()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&t.ProductTable, c.ProductTable)
	set(&t.ProductIDColumn, c.ProductIDColumn)
	set(&t.ProductActiveCol, c.ProductActiveCol)
	set(&t.WarehouseTable, c.WarehouseTable)
	set(&t.WarehouseIDColumn, c.WarehouseIDColumn)
	set(&t.LocationColumn, c.LocationColumn)
	return t
}

func loadRules(cfg config.ReorderConfig) (reorder.Source, error) {
	if cfg.RulesFile == "" {
		return reorder.NewStaticSource(nil), nil
	}
	src, err := reorder.NewFileSource(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load reorder rules: %w", err)
	}
	return src, nil
}

// WatchRules starts hot reload of a file-backed rules snapshot on the
// general pool. It is a no-op for static rules or when watching is off.
func (i *Infrastructure) WatchRules() error {
	src, ok := i.Rules.(*reorder.FileSource)
	if !ok || !i.Config.Reorder.Watch {
		return nil
	}
	return i.Pools.SubmitDetached("general", func(ctx context.Context) {
		if err := src.Watch(ctx); err != nil {
			logger.Error("Reorder rules watcher stopped", zap.Error(err))
		}
	})
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
