package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"void/internal/config"
)

// Rows is the cursor returned by Query. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Backend is the storage surface used by the archive. Statements use ?
// placeholders.
type Backend interface {
	Execute(ctx context.Context, stmt string, args ...any) error
	Query(ctx context.Context, stmt string, args ...any) (Rows, error)
}

// DB is a PostGIS connection pool.
type DB struct {
	gorm *gorm.DB
	sql  *sql.DB
	log  *slog.Logger
}

// Options tune the connection pool.
type Options struct {
	LogSQL          bool
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the archive database and verifies the connection.
func Open(ctx context.Context, cfg config.Database, log *slog.Logger, opts Options) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	level := logger.Silent
	if opts.LogSQL {
		level = logger.Info
	}
	lg := logger.New(slogWriter{log: log}, logger.Config{
		SlowThreshold:             100 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	gdb, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: lg})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.DatabaseName(), err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 20
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.DatabaseName(), err)
	}
	log.Debug("connected to database", "database", cfg.DatabaseName())
	return &DB{gorm: gdb, sql: sqlDB, log: log}, nil
}

// Execute runs a statement that returns no rows. Each call commits on its own.
func (d *DB) Execute(ctx context.Context, stmt string, args ...any) error {
	return d.gorm.WithContext(ctx).Exec(stmt, args...).Error
}

// Query runs a statement and returns its rows. The caller closes them.
func (d *DB) Query(ctx context.Context, stmt string, args ...any) (Rows, error) {
	return d.gorm.WithContext(ctx).Raw(stmt, args...).Rows()
}

// Ping checks that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Close releases the pool.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// slogWriter feeds gorm's SQL log into slog at debug level.
type slogWriter struct {
	log *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.log.Debug(fmt.Sprintf(format, args...), "component", "sql")
}
