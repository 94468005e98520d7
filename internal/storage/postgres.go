package storage

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

const postgresInsertEvent = "INSERT INTO events (" + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12)
	ON CONFLICT DO NOTHING`

// PostgreSQLStorage implements Storage using PostgreSQL
type PostgreSQLStorage struct {
	sqlStore
}

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{sqlStore{
		config:      config,
		logger:      utils.ComponentLogger("storage").WithField("driver", "postgres"),
		migrations:  GetPostgresMigrations(),
		postgres:    true,
		insertEvent: postgresInsertEvent,
	}}
}

// Connect establishes database connection
func (p *PostgreSQLStorage) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err)
	}

	// Configure connection pool
	if p.config.MaxConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxConnections)
		db.SetMaxIdleConns(p.config.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err)
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected")
	return nil
}
