package main

import (
	"context"
	"fmt"

	"github.com/pillara/pillara/internal/config"
	"github.com/pillara/pillara/internal/domain/doselog"
	"github.com/pillara/pillara/internal/domain/medication"
	"github.com/pillara/pillara/internal/platform/db"
	"github.com/pillara/pillara/internal/platform/sqlitedb"
)

// store bundles the repositories of one driver with its transactor and
// health check.
type store struct {
	meds   medication.Repository
	doses  doselog.Repository
	tx     doselog.Transactor
	health db.Check
	close  func()
}

func (s *store) Close() {
	if s.close != nil {
		s.close()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{
			meds:   medication.NewRepoPG(pool),
			doses:  doselog.NewRepoPG(pool),
			tx:     db.NewPoolTransactor(pool),
			health: db.PoolCheck(pool),
			close:  pool.Close,
		}, nil

	case config.DriverSQLite:
		sqlDB, err := sqlitedb.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &store{
			meds:   medication.NewRepoSQLite(sqlDB),
			doses:  doselog.NewRepoSQLite(sqlDB),
			tx:     sqlitedb.NewTransactor(sqlDB),
			health: db.Check{Driver: config.DriverSQLite, Ping: sqlDB.PingContext},
			close:  func() { _ = sqlDB.Close() },
		}, nil

	case config.DriverMemory:
		return &store{
			meds:   medication.NewMemoryRepo(),
			doses:  doselog.NewMemoryRepo(),
			tx:     doselog.NoTx{},
			health: db.Check{Driver: config.DriverMemory},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
