package tilestore

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("tile not found")

// TileStore holds tile images under slash-separated keys such as
// "osm/12/830/1530.png".
type TileStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Put(ctx context.Context, key string, r io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
