package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Driver names registered by the imports above.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// OpenDB opens the primary MySQL pool. The DSN comes from DB_DSN_PRIMARY
// and must carry parseTime=true.
func OpenDB(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database: DB_DSN_PRIMARY is empty")
	}
	return OpenDBWithDSN(ctx, DriverMySQL, dsn, logger)
}

// OpenSQLite opens a single-file SQLite database. SQLite allows one writer,
// so the pool is held to a single connection.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := OpenDBWithDSN(ctx, DriverSQLite, dsn, logger)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// OpenDBWithDSN is a generic function to create and configure a DB connection pool
// for any registered driver.
func OpenDBWithDSN(ctx context.Context, driver, dsn string, logger *zap.Logger) (*sql.DB, error) {
	// 1. Open a new connection pool.
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	// 2. Configure the connection pool settings.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 3. Ping the database to verify the connection.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		logger.Error("Error connecting to database", zap.String("driver", driver), zap.Error(err))
		return nil, err
	}

	logger.Info("Database connection pool established", zap.String("driver", driver))
	return db, nil
}
