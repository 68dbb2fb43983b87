package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (uses modernc.org/sqlite)
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/liveforge-dev/liveforge/internal/model"
)

// DB wraps the GORM DB connection with additional context.
// For SQLite, separate read and write pools are used to avoid contention:
// the write pool has a single connection (SQLite only supports one writer),
// while the read pool has multiple connections for concurrent reads via WAL mode.
type DB struct {
	*gorm.DB // write pool (also used for Migrate)
	ReadDB   *gorm.DB
	Driver   string
}

// New creates a new database connection for the given driver and DSN.
// For SQLite, it creates separate read and write connection pools.
func New(driver, dsn string) (*DB, error) {
	// Configure logger to only log slow queries (>1 second)
	slowLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	switch driver {
	case "postgres":
		gormCfg := &gorm.Config{Logger: slowLogger}
		db, err := gorm.Open(postgres.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		return &DB{DB: db, Driver: driver}, nil

	case "sqlite":
		return newSQLite(dsn, slowLogger)

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// newSQLite creates a DB with separate read and write connection pools.
// The write pool has a single connection (SQLite only supports one writer)
// with _txlock=immediate to acquire the write lock at BEGIN, preventing
// the classic deadlock where two deferred transactions both try to upgrade.
// The read pool has multiple connections for concurrent reads in WAL mode,
// opened with mode=ro and query_only(1) as defense against accidental
// writes.
//
// File-based DSNs use the file: URI format so SQLite interprets URI
// parameters like mode=rwc (write pool) and mode=ro (read pool).
func newSQLite(dsn string, dbLogger logger.Interface) (*DB, error) {
	// Normalize: strip file: prefix so we can work with the raw path,
	// then re-add it for file-based databases before opening.
	rawPath := strings.TrimPrefix(dsn, "file:")

	isMemory := rawPath == ":memory:" || strings.HasPrefix(rawPath, ":memory:")

	// Ensure parent directory exists for file-based databases
	if !isMemory {
		dir := filepath.Dir(rawPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// Base DSN: file: URI for file-based, plain for :memory:
	baseDSN := rawPath
	if !isMemory {
		baseDSN = "file:" + rawPath
	}

	// Pragmas applied to every connection in both pools via the DSN.
	// Setting them per-DSN ensures every connection opened by the pool
	// gets the same configuration, unlike db.Exec which only affects
	// a single connection.
	basePragmas := []string{
		"_pragma=journal_mode(WAL)",   // concurrent readers + single writer
		"_pragma=busy_timeout(5000)",  // wait up to 5s instead of SQLITE_BUSY
		"_pragma=foreign_keys(1)",     // enforce FK constraints
		"_pragma=synchronous(NORMAL)", // safe with WAL, much faster than FULL
	}

	appendParams := func(base string, params []string) string {
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + strings.Join(params, "&")
	}

	// --- Write pool: single connection, read-write-create, immediate tx lock ---
	writeParams := append(basePragmas, "_txlock=immediate")
	if !isMemory {
		writeParams = append(writeParams, "mode=rwc")
	}
	writeDSN := appendParams(baseDSN, writeParams)
	writeDB, err := gorm.Open(sqlite.Open(writeDSN), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite write pool: %w", err)
	}
	writeSQLDB, err := writeDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get write pool sql.DB: %w", err)
	}
	writeSQLDB.SetMaxOpenConns(1)
	writeSQLDB.SetMaxIdleConns(1)

	// --- Read pool: multiple connections, read-only ---
	// For in-memory databases, a second Open creates a separate database,
	// so skip the read pool and reuse the write pool.
	if isMemory {
		return &DB{DB: writeDB, Driver: "sqlite"}, nil
	}

	// mode=ro: SQLite opens the connection read-only at the VFS level.
	// query_only(1): additional PRAGMA-level guard that errors on writes.
	readParams := append(basePragmas, "mode=ro", "_pragma=query_only(1)")
	readDSN := appendParams(baseDSN, readParams)
	readDB, err := gorm.Open(sqlite.Open(readDSN), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite read pool: %w", err)
	}
	readSQLDB, err := readDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get read pool sql.DB: %w", err)
	}
	readSQLDB.SetMaxOpenConns(4)
	readSQLDB.SetMaxIdleConns(4)

	return &DB{DB: writeDB, ReadDB: readDB, Driver: "sqlite"}, nil
}

// Reader returns the pool for read-only queries, falling back to the
// write pool when no separate read pool exists.
func (db *DB) Reader() *gorm.DB {
	if db.ReadDB != nil {
		return db.ReadDB
	}
	return db.DB
}

// Migrate runs database migrations using GORM's AutoMigrate
func (db *DB) Migrate() error {
	return db.AutoMigrate(model.AllModels()...)
}

// IsPostgres returns true if using PostgreSQL
func (db *DB) IsPostgres() bool {
	return db.Driver == "postgres"
}

// IsSQLite returns true if using SQLite
func (db *DB) IsSQLite() bool {
	return db.Driver == "sqlite"
}

// Close closes both the write and read database connections.
func (db *DB) Close() error {
	writeSQLDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	if err := writeSQLDB.Close(); err != nil {
		return err
	}
	if db.ReadDB != nil {
		readSQLDB, err := db.ReadDB.DB()
		if err != nil {
			return err
		}
		return readSQLDB.Close()
	}
	return nil
}
