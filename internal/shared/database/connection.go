package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hegemony-server/internal/shared/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL flavour behind a DB. Both dialects store documents as
// JSON and share the same schema shape.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

type DB struct {
	*sqlx.DB
	Dialect Dialect
}

type Tx struct {
	*sqlx.Tx
}

// Executor is satisfied by both *DB and *Tx so repositories can run the same
// query inside or outside a transaction.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Executor returns tx when it is set and the pool otherwise.
func (db *DB) Executor(tx *Tx) Executor {
	if tx != nil && tx.Tx != nil {
		return tx
	}
	return db
}

func (db *DB) BeginTxContext(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx}, nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	logger := slog.With("component", "database", "operation", "with_tx")

	tx, err := db.BeginTxContext(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func Connect(cfg *config.Config) (*DB, error) {
	switch cfg.Database.Driver {
	case string(DialectSQLite):
		return OpenSQLite(cfg.Database.SQLitePath)
	default:
		return connectPostgres(cfg)
	}
}

func connectPostgres(cfg *config.Config) (*DB, error) {
	logger := slog.With("component", "database", "operation", "connect")
	logger.Debug("Initializing database connection")

	logger.Info("Connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
		"database", cfg.Database.Name,
		"sslmode", cfg.Database.SSLMode,
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	sqlDB, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		logger.Error("Failed to open database connection",
			"error", err, "host", cfg.Database.Host, "database", cfg.Database.Name)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	logger.Debug("Testing database connection with ping")
	if err := sqlDB.Ping(); err != nil {
		logger.Error("Failed to ping database",
			"error", err, "host", cfg.Database.Host, "database", cfg.Database.Name)
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Error("Failed to close database after ping failure", "close_error", closeErr, "ping_error", err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established successfully",
		"host", cfg.Database.Host, "database", cfg.Database.Name)

	return &DB{DB: sqlDB, Dialect: DialectPostgres}, nil
}

// OpenSQLite opens an embedded database at path. ":memory:" gives a private
// in-process database, which is what the repository tests use.
func OpenSQLite(path string) (*DB, error) {
	logger := slog.With("component", "database", "operation", "open_sqlite", "path", path)
	logger.Debug("Opening SQLite database")

	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	sqlDB, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		logger.Error("Failed to open SQLite database", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases from splitting into several independent copies.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		logger.Error("Failed to ping SQLite database", "error", err)
		if closeErr := sqlDB.Close(); closeErr != nil {
			logger.Error("Failed to close database after ping failure", "close_error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	logger.Info("SQLite database opened")
	return &DB{DB: sqlDB, Dialect: DialectSQLite}, nil
}
