package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
	_ "modernc.org/sqlite"
)

const sqliteInsertEvent = "INSERT OR IGNORE INTO events (" + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	sqlStore
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{sqlStore{
		config:      config,
		logger:      utils.ComponentLogger("storage").WithField("driver", "sqlite"),
		migrations:  GetSQLiteMigrations(),
		insertEvent: sqliteInsertEvent,
	}}
}

// Connect opens the database file, creating its directory if needed
func (s *SQLiteStorage) Connect() error {
	path := s.config.ConnectionString
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return utils.WrapError(utils.ErrCodeDatabase, "Failed to create database directory", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to open SQLite database", err)
	}

	// single writer
	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err)
	}

	s.db = db
	s.logger.WithFields(logrus.Fields{"path": path}).Info("SQLite database connected")
	return nil
}

// sqliteDSN stores times in a sortable text format and waits on locks
// instead of failing.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_time_format=sqlite&_pragma=busy_timeout(5000)"
}
