package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SnapshotRecord is one serialized directory state.
type SnapshotRecord struct {
	Key     string
	Payload []byte
	SavedAt time.Time
}

type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save writes payload under key, replacing any previous snapshot.
func (s *SnapshotStore) Save(ctx context.Context, key string, payload []byte, savedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state_snapshots (key, payload, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
	`, key, string(payload), savedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot stored under key, or nil when there is none.
func (s *SnapshotStore) Load(ctx context.Context, key string) (*SnapshotRecord, error) {
	rec := &SnapshotRecord{Key: key}
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, saved_at FROM state_snapshots WHERE key = ?
	`, key).Scan(&payload, &rec.SavedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	rec.Payload = []byte(payload)
	return rec, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM state_snapshots WHERE key = ?
	`, key)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("snapshot not found")
	}

	return nil
}
