// Package db wires SQLite connections for the per-chain persisted
// singletons (§3): FirstBlock, LastProcessedBlock, PendingChainBlocks,
// PendingChainReorgs, and IngressionQueue.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gateway-validator/ingestion-core/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

const dbFolderPerm = 0755

// ensureDBFolder ensures the directory that contains dbPath exists.
func ensureDBFolder(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dbPath)
	return os.MkdirAll(dir, dbFolderPerm)
}

// NewSQLiteDB opens a SQLite database at dbPath with sane defaults, used by
// tests and by migration bootstrapping where a full DatabaseConfig isn't
// available yet.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	return NewSQLiteDBFromConfig(config.DatabaseConfig{
		Path:        dbPath,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
		CacheSize:   10000,
	})
}

// NewSQLiteDBFromConfig creates a new SQLite DB with the given configuration.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	if err := ensureDBFolder(cfg.Path); err != nil {
		return nil, fmt.Errorf("failed to ensure DB folder: %w", err)
	}

	foreignKeys := "off"
	if cfg.EnableForeignKeys {
		foreignKeys = "on"
	}

	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=%s&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		foreignKeys,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	database, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConnections > 0 {
		database.SetMaxOpenConns(cfg.MaxOpenConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		database.SetMaxIdleConns(cfg.MaxIdleConnections)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", orDefault(cfg.Synchronous, "NORMAL")),
	}
	if cfg.CacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize))
	}

	for _, pragma := range pragmas {
		if _, err := database.Exec(pragma); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return database, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// DBTotalSize returns the combined size of the SQLite main file + WAL + SHM.
func DBTotalSize(dbPath string) (int64, error) {
	total := int64(0)

	if info, err := os.Stat(dbPath); err == nil {
		total += info.Size()
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	for _, ext := range []string{"-wal", "-shm"} {
		p := dbPath + ext
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		} else if !os.IsNotExist(err) {
			return 0, err
		}
	}

	return total, nil
}

func isWALMode(database *sql.DB) (bool, error) {
	var mode string
	if err := database.QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil {
		return false, err
	}
	return strings.EqualFold(mode, "wal"), nil
}

// Vacuum reclaims disk space, using a WAL checkpoint when in WAL mode since
// a full VACUUM requires exclusive access that concurrent store connections
// would otherwise contend for.
func Vacuum(database *sql.DB) error {
	walMode, err := isWALMode(database)
	if err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	if walMode {
		if _, err := database.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`); err != nil {
			return fmt.Errorf("failed to checkpoint WAL: %w", err)
		}
		return nil
	}

	if _, err := database.Exec(`VACUUM;`); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("cannot vacuum: database is locked by other connections: %w", err)
		}
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}
