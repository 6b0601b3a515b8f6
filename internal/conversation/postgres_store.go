package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists conversation records in PostgreSQL. Writes use a
// version column as an optimistic lock so concurrent dispatches for the same
// key surface ErrConflict instead of silently clobbering each other.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a conversation store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{db: db}
}

// Read returns the record for key, or nil when none exists.
func (s *PostgresStore) Read(ctx context.Context, key Key) (*Record, error) {
	if key.IsZero() {
		return nil, errors.New("conversation: key required")
	}

	query := `
		SELECT stage, conv_last, conv_current, human_mode, detail, version, updated_at
		FROM conversations
		WHERE device_id = $1 AND phone = $2
	`
	rec := Record{Key: key}
	err := s.db.QueryRowContext(ctx, query, key.DeviceID, key.Phone).Scan(
		&rec.Stage,
		&rec.ConvLast,
		&rec.ConvCurrent,
		&rec.HumanMode,
		&rec.Detail,
		&rec.Version,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation: read record: %w", err)
	}
	return &rec, nil
}

// Write upserts the record. A record with Version 0 is inserted; an existing
// record is updated only when the stored version still matches, bumping the
// version on success. The record's Version is updated in place.
func (s *PostgresStore) Write(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("conversation: record required")
	}
	if record.Key.IsZero() {
		return errors.New("conversation: key required")
	}

	now := time.Now().UTC()

	if record.Version == 0 {
		query := `
			INSERT INTO conversations (device_id, phone, stage, conv_last, conv_current, human_mode, detail, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
			ON CONFLICT (device_id, phone) DO NOTHING
		`
		res, err := s.db.ExecContext(ctx, query,
			record.Key.DeviceID, record.Key.Phone,
			record.Stage, record.ConvLast, record.ConvCurrent,
			record.HumanMode, record.Detail, now,
		)
		if err != nil {
			return fmt.Errorf("conversation: insert record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("conversation: insert record: %w", err)
		}
		if affected == 0 {
			return ErrConflict
		}
		record.Version = 1
		record.UpdatedAt = now
		return nil
	}

	query := `
		UPDATE conversations
		SET stage = $3, conv_last = $4, conv_current = $5, human_mode = $6, detail = $7,
		    version = version + 1, updated_at = $8
		WHERE device_id = $1 AND phone = $2 AND version = $9
	`
	res, err := s.db.ExecContext(ctx, query,
		record.Key.DeviceID, record.Key.Phone,
		record.Stage, record.ConvLast, record.ConvCurrent,
		record.HumanMode, record.Detail, now,
		record.Version,
	)
	if err != nil {
		return fmt.Errorf("conversation: update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conversation: update record: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	record.Version++
	record.UpdatedAt = now
	return nil
}

// Delete removes the record for key. Deleting a missing record is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	if key.IsZero() {
		return errors.New("conversation: key required")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE device_id = $1 AND phone = $2`, key.DeviceID, key.Phone)
	if err != nil {
		return fmt.Errorf("conversation: delete record: %w", err)
	}
	return nil
}
