package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/hyperknow/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file created under the base directory.
const FileName = "hyperknow.db"

// Init initializes the SQLite knowledge store at baseDir/hyperknow.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.hyperknow.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: knowledge levels and the document index
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS knowledge_levels (
		  category_norm TEXT PRIMARY KEY,
		  category      TEXT NOT NULL,
		  level         TEXT NOT NULL,
		  description   TEXT,
		  updated_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS documents (
		  seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		  id            TEXT NOT NULL UNIQUE,
		  title         TEXT NOT NULL UNIQUE,
		  content       TEXT NOT NULL,
		  content_chars INTEGER NOT NULL,
		  created_at    INTEGER NOT NULL,
		  updated_at    INTEGER NOT NULL
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		  title,
		  content,
		  content='documents',
		  content_rowid='seq'
		);

		CREATE TRIGGER IF NOT EXISTS documents_fts_insert AFTER INSERT ON documents BEGIN
		  INSERT INTO documents_fts(rowid, title, content) VALUES (new.seq, new.title, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS documents_fts_delete AFTER DELETE ON documents BEGIN
		  INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES ('delete', old.seq, old.title, old.content);
		END;

		CREATE TRIGGER IF NOT EXISTS documents_fts_update AFTER UPDATE ON documents BEGIN
		  INSERT INTO documents_fts(documents_fts, rowid, title, content) VALUES ('delete', old.seq, old.title, old.content);
		  INSERT INTO documents_fts(rowid, title, content) VALUES (new.seq, new.title, new.content);
		END;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
