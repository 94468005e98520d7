package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/vault-event-scanner/internal/models"
	"github.com/smartdevs17/vault-event-scanner/pkg/utils"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with $n placeholders and rebound per driver.
type sqlStore struct {
	db          *sql.DB
	config      *StorageConfig
	logger      *logrus.Entry
	migrations  []*Migration
	postgres    bool
	insertEvent string
}

const eventColumns = `id, scan_id, block_number, block_hash, tx_hash, tx_index, log_index,
	address, event_name, event_signature, data, created_at`

const scanRunColumns = `id, contract, from_block, to_block, ranges, requests, events_found,
	outcome, error, started_at, completed_at`

// rebind converts numbered parameters to ? for SQLite
func (s *sqlStore) rebind(query string) string {
	if s.postgres {
		return query
	}
	for i := strings.Count(query, "$"); i >= 1; i-- {
		query = strings.ReplaceAll(query, fmt.Sprintf("$%d", i), "?")
	}
	return query
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("Database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs pending database migrations
func (s *sqlStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	applied, err := applyMigrations(context.Background(), s.db, s.migrations, s.rebind)
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Database migration failed", err)
	}

	s.logger.WithField("applied", applied).Info("Database migrations completed")
	return nil
}

// SaveEvents stores events in one transaction and returns how many were
// new. Events already stored are left untouched.
func (s *sqlStore) SaveEvents(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeDatabase, "Failed to begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(s.insertEvent))
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeDatabase, "Failed to prepare statement", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, event := range events {
		dataJSON, err := json.Marshal(event.Data)
		if err != nil {
			return 0, utils.WrapError(utils.ErrCodeDatabase, "Failed to marshal event data", err)
		}

		res, err := stmt.ExecContext(ctx,
			event.ID, event.ScanID, event.BlockNumber, event.BlockHash, event.TxHash,
			event.TxIndex, event.LogIndex, event.Address, event.EventName,
			event.EventSig, string(dataJSON), event.CreatedAt)
		if err != nil {
			return 0, utils.WrapError(utils.ErrCodeDatabase, "Failed to save event in batch", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.WrapError(utils.ErrCodeDatabase, "Failed to commit transaction", err)
	}

	s.logger.WithFields(logrus.Fields{
		"events":   len(events),
		"inserted": inserted,
	}).Debug("Saved events")
	return inserted, nil
}

// GetEvents retrieves events based on filter, in chain order
func (s *sqlStore) GetEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	where, args := s.eventWhere(filter)
	query := "SELECT " + eventColumns + " FROM events" + where +
		" ORDER BY block_number ASC, tx_index ASC, log_index ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 && !s.postgres {
			// SQLite only accepts OFFSET after a LIMIT
			query += " LIMIT -1"
		}
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query events", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var event models.Event
		var dataJSON []byte

		err := rows.Scan(&event.ID, &event.ScanID, &event.BlockNumber, &event.BlockHash, &event.TxHash,
			&event.TxIndex, &event.LogIndex, &event.Address, &event.EventName,
			&event.EventSig, &dataJSON, &event.CreatedAt)
		if err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan event", err)
		}

		if err := json.Unmarshal(dataJSON, &event.Data); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to unmarshal event data", err)
		}

		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to read events", err)
	}

	return events, nil
}

// GetEventCount returns the count of events matching filter
func (s *sqlStore) GetEventCount(ctx context.Context, filter models.EventFilter) (int64, error) {
	where, args := s.eventWhere(filter)

	var count int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM events"+where), args...).Scan(&count)
	if err != nil {
		return 0, utils.WrapError(utils.ErrCodeDatabase, "Failed to count events", err)
	}
	return count, nil
}

func (s *sqlStore) eventWhere(filter models.EventFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ContractAddress != nil {
		add("address = $%d", filter.ContractAddress.Hex())
	}
	if len(filter.EventNames) > 0 {
		if s.postgres {
			add("event_name = ANY($%d)", pq.Array(filter.EventNames))
		} else {
			marks := make([]string, len(filter.EventNames))
			for i, name := range filter.EventNames {
				args = append(args, name)
				marks[i] = fmt.Sprintf("$%d", len(args))
			}
			conds = append(conds, "event_name IN ("+strings.Join(marks, ", ")+")")
		}
	}
	if filter.FromBlock != nil {
		add("block_number >= $%d", *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		add("block_number <= $%d", *filter.ToBlock)
	}
	if filter.ScanID != nil {
		add("scan_id = $%d", *filter.ScanID)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SaveScanRun records a scan in the history table
func (s *sqlStore) SaveScanRun(ctx context.Context, run *models.ScanRun) error {
	query := "INSERT INTO scan_runs (" + scanRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		run.ID, run.Contract, run.FromBlock, run.ToBlock, run.Ranges, run.Requests,
		run.EventsFound, run.Outcome, run.Error, run.StartedAt.UTC(), run.CompletedAt.UTC())
	if err != nil {
		return utils.WrapError(utils.ErrCodeDatabase, "Failed to save scan run", err)
	}
	return nil
}

// GetScanRun returns one scan run by ID
func (s *sqlStore) GetScanRun(ctx context.Context, id string) (*models.ScanRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+scanRunColumns+" FROM scan_runs WHERE id = $1"), id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Scan run not found", id)
	}
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to get scan run", err)
	}
	return run, nil
}

// GetScanRuns returns the most recent scan runs, newest first
func (s *sqlStore) GetScanRuns(ctx context.Context, limit int) ([]*models.ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+scanRunColumns+" FROM scan_runs ORDER BY started_at DESC LIMIT $1"), limit)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to query scan runs", err)
	}
	defer rows.Close()

	var runs []*models.ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan scan run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to read scan runs", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.ScanRun, error) {
	var run models.ScanRun
	err := row.Scan(&run.ID, &run.Contract, &run.FromBlock, &run.ToBlock, &run.Ranges,
		&run.Requests, &run.EventsFound, &run.Outcome, &run.Error, &run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// GetStats returns storage statistics
func (s *sqlStore) GetStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{EventsByType: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MAX(block_number), 0) FROM events").Scan(&stats.TotalEvents, &stats.LatestBlock)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to count events", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT event_name, COUNT(*) FROM events GROUP BY event_name")
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to count events by type", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to scan event count", err)
		}
		stats.EventsByType[name] = count
	}
	if err := rows.Err(); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to read event counts", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scan_runs").Scan(&stats.TotalScans); err != nil {
		return nil, utils.WrapError(utils.ErrCodeDatabase, "Failed to count scan runs", err)
	}
	if stats.TotalScans > 0 {
		var last time.Time
		err := s.db.QueryRowContext(ctx, "SELECT started_at FROM scan_runs ORDER BY started_at DESC LIMIT 1").Scan(&last)
		if err == nil {
			stats.LastScanAt = &last
		}
	}

	return stats, nil
}
