package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MissingTile is a tile that was requested but not available locally.
type MissingTile struct {
	Layer     string
	Z, X, Y   int
	FirstSeen time.Time
}

type MissingTileStore struct {
	db *sql.DB
}

func NewMissingTileStore(db *sql.DB) *MissingTileStore {
	return &MissingTileStore{db: db}
}

// Add records a missing tile. Recording the same tile again keeps the first
// sighting.
func (s *MissingTileStore) Add(ctx context.Context, layer string, z, x, y int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO missing_tiles (layer, z, x, y, first_seen) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(layer, z, x, y) DO NOTHING
	`, layer, z, x, y, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add missing tile: %w", err)
	}
	return nil
}

func (s *MissingTileStore) Remove(ctx context.Context, layer string, z, x, y int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM missing_tiles WHERE layer = ? AND z = ? AND x = ? AND y = ?
	`, layer, z, x, y)
	if err != nil {
		return fmt.Errorf("failed to remove missing tile: %w", err)
	}
	return nil
}

// List returns every missing tile ordered by layer, zoom, x and y.
func (s *MissingTileStore) List(ctx context.Context) ([]*MissingTile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT layer, z, x, y, first_seen FROM missing_tiles ORDER BY layer, z, x, y
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing tiles: %w", err)
	}
	defer rows.Close()

	var tiles []*MissingTile
	for rows.Next() {
		t := &MissingTile{}
		if err := rows.Scan(&t.Layer, &t.Z, &t.X, &t.Y, &t.FirstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan missing tile: %w", err)
		}
		tiles = append(tiles, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating missing tiles: %w", err)
	}

	return tiles, nil
}

// Clear deletes the missing tiles of one layer, or of every layer when layer
// is empty. It returns the number of rows removed.
func (s *MissingTileStore) Clear(ctx context.Context, layer string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if layer == "" {
		result, err = s.db.ExecContext(ctx, `DELETE FROM missing_tiles`)
	} else {
		result, err = s.db.ExecContext(ctx, `DELETE FROM missing_tiles WHERE layer = ?`, layer)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear missing tiles: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
