// Package sqlite provides a SQLite-backed session store for installs that
// outgrow the single-file JSON backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/louisbranch/riftmeter/internal/platform/id"
	sqlitemigrate "github.com/louisbranch/riftmeter/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/riftmeter/internal/stats"
	"github.com/louisbranch/riftmeter/internal/storage"
	"github.com/louisbranch/riftmeter/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists session records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// List returns all records newest-first with snapshots stripped.
func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, name, started_at, ended_at, duration_ms, reason_start,
		       reason_end, sequence, instance_id, from_instance, party_size,
		       snapshot
		  FROM sessions
		 ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.PartySize = rec.DerivedPartySize()
		rec.Snapshot = nil
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

// Get returns the full record including its snapshot.
func (s *Store) Get(ctx context.Context, recordID string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
		SELECT id, name, started_at, ended_at, duration_ms, reason_start,
		       reason_end, sequence, instance_id, from_instance, party_size,
		       snapshot
		  FROM sessions
		 WHERE id = ?`, recordID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, err
	}
	return rec, nil
}

// Add inserts a record, assigning an id when the record carries none.
func (s *Store) Add(ctx context.Context, rec storage.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rec.ID == "" {
		generated, err := id.NewID()
		if err != nil {
			return "", fmt.Errorf("generate record id: %w", err)
		}
		rec.ID = generated
	}
	var snapshotJSON any
	if rec.Snapshot != nil {
		data, err := json.Marshal(rec.Snapshot)
		if err != nil {
			return "", fmt.Errorf("encode snapshot: %w", err)
		}
		snapshotJSON = string(data)
	}
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO sessions (
		  id, name, started_at, ended_at, duration_ms, reason_start,
		  reason_end, sequence, instance_id, from_instance, party_size,
		  snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Name,
		rec.StartedAt,
		rec.EndedAt,
		rec.DurationMs,
		rec.ReasonStart,
		rec.ReasonEnd,
		rec.Sequence,
		rec.InstanceID,
		rec.FromInstance,
		rec.PartySize,
		snapshotJSON,
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return rec.ID, nil
}

// Delete removes a record if present.
func (s *Store) Delete(ctx context.Context, recordID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", recordID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Clear empties the store.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (storage.Record, error) {
	var (
		rec          storage.Record
		instanceID   sql.NullInt64
		fromInstance sql.NullInt64
		snapshotJSON sql.NullString
	)
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.DurationMs,
		&rec.ReasonStart,
		&rec.ReasonEnd,
		&rec.Sequence,
		&instanceID,
		&fromInstance,
		&rec.PartySize,
		&snapshotJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, err
		}
		return storage.Record{}, fmt.Errorf("scan session: %w", err)
	}
	if instanceID.Valid {
		rec.InstanceID = &instanceID.Int64
	}
	if fromInstance.Valid {
		rec.FromInstance = &fromInstance.Int64
	}
	if snapshotJSON.Valid && snapshotJSON.String != "" {
		var snap stats.Snapshot
		if err := json.Unmarshal([]byte(snapshotJSON.String), &snap); err != nil {
			return storage.Record{}, fmt.Errorf("decode snapshot: %w", err)
		}
		rec.Snapshot = &snap
	}
	return rec, nil
}
