package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/vdavid/mailsync/internal/config"
	_ "modernc.org/sqlite"
)

// Supported values for config.Config.DBDriver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB is the cache database handle. database/sql pooling gives every call its own
// connection, so DB is safe for concurrent use by the poller and request handlers.
type DB struct {
	*sqlx.DB
	dialect *dialect
}

// NewConnection opens the database described by the config and applies migrations.
func NewConnection(ctx context.Context, cfg *config.Config) (*DB, error) {
	dsn := cfg.GetDatabaseURL()
	if cfg.DBDriver == DriverSQLite {
		dsn = SQLiteDSN(cfg.DBPath)
	}
	return Open(ctx, cfg.DBDriver, dsn)
}

// Open connects with the given driver ("sqlite" or "postgres"), pings, and migrates.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if d.name == DriverPostgres {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
		conn.SetConnMaxIdleTime(30 * time.Minute)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{DB: conn, dialect: d}
	if err := Migrate(ctx, database); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return database, nil
}

// SQLiteDSN builds a modernc DSN with WAL, foreign keys and a busy timeout applied
// to every pooled connection. Transactions begin IMMEDIATE: a deferred transaction
// that reads first fails with SQLITE_BUSY when it later upgrades to a write lock held
// by another connection, and busy_timeout does not retry that upgrade.
func SQLiteDSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_txlock=immediate" +
		"&_time_format=sqlite"
}

// CloseConnection closes the given database handle.
func CloseConnection(database *DB) {
	if database != nil {
		_ = database.Close()
	}
}

// Driver returns "sqlite" or "postgres".
func (d *DB) Driver() string {
	return d.dialect.name
}
