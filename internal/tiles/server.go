package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/metrics"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore"
)

var (
	// ErrTileMissing means the tile is neither stored locally nor
	// retrievable online. It has been recorded for later download.
	ErrTileMissing  = errors.New("tile missing")
	ErrUnknownLayer = errors.New("unknown tile layer")
	ErrInvalidTile  = errors.New("invalid tile coordinates")
)

// tileFetcher is the subset of Fetcher that Server requires.
type tileFetcher interface {
	Fetch(ctx context.Context, layer Layer, c Coord) ([]byte, error)
}

// Tile is a served tile image.
type Tile struct {
	Data     []byte
	MimeType string
	// Source is "local" or "online".
	Source string
}

// Server resolves tile requests against the local store, falling back to
// the upstream server when online fallback is enabled.
type Server struct {
	layers  map[string]Layer
	order   []string
	store   tilestore.TileStore
	fetcher tileFetcher
	tracker *Tracker
	logger  *slog.Logger
}

// NewServer builds a tile server. A nil fetcher disables online fallback.
func NewServer(layers []Layer, store tilestore.TileStore, fetcher tileFetcher, tracker *Tracker, logger *slog.Logger) *Server {
	s := &Server{
		layers:  make(map[string]Layer, len(layers)),
		store:   store,
		fetcher: fetcher,
		tracker: tracker,
		logger:  logger,
	}
	for _, l := range layers {
		s.layers[l.Name] = l
		s.order = append(s.order, l.Name)
	}
	return s
}

// Layers returns the configured layers in configuration order.
func (s *Server) Layers() []Layer {
	out := make([]Layer, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.layers[name])
	}
	return out
}

func (s *Server) Layer(name string) (Layer, error) {
	l, ok := s.layers[name]
	if !ok {
		return Layer{}, fmt.Errorf("%w: %s", ErrUnknownLayer, name)
	}
	return l, nil
}

func (s *Server) Online() bool { return s.fetcher != nil }

func (s *Server) Tracker() *Tracker { return s.tracker }

func (s *Server) Store() tilestore.TileStore { return s.store }

// Tile returns the tile at c for the named layer.
func (s *Server) Tile(ctx context.Context, layerName string, c Coord) (*Tile, error) {
	layer, err := s.Layer(layerName)
	if err != nil {
		return nil, err
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTile, c.Key())
	}
	key := layer.StorageKey(c)

	rc, mimeType, err := s.store.Get(ctx, key)
	switch {
	case err == nil:
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read tile %s: %w", key, err)
		}
		metrics.TileRequestsTotal.WithLabelValues(layer.Name, "local").Inc()
		return &Tile{Data: data, MimeType: mimeType, Source: "local"}, nil
	case !errors.Is(err, tilestore.ErrNotFound):
		return nil, fmt.Errorf("failed to get tile %s: %w", key, err)
	}

	if s.fetcher != nil && layer.URL != "" {
		data, err := s.fetcher.Fetch(ctx, layer, c)
		if err == nil {
			if err := s.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
				s.logger.Warn("failed to cache fetched tile", "key", key, "error", err)
			}
			if err := s.tracker.MarkFound(ctx, layer.Name, c); err != nil {
				s.logger.Warn("failed to clear missing tile", "key", key, "error", err)
			}
			metrics.TileRequestsTotal.WithLabelValues(layer.Name, "online").Inc()
			return &Tile{Data: data, MimeType: mimeTypeFor(layer.Format), Source: "online"}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Debug("online tile fallback failed", "key", key, "error", err)
	}

	if err := s.tracker.MarkMissing(ctx, layer.Name, c); err != nil {
		s.logger.Error("failed to record missing tile", "key", key, "error", err)
	}
	metrics.TileRequestsTotal.WithLabelValues(layer.Name, "missing").Inc()
	return nil, fmt.Errorf("%w: %s", ErrTileMissing, key)
}

// Exists reports whether the tile is stored locally.
func (s *Server) Exists(ctx context.Context, layerName string, c Coord) (bool, error) {
	layer, err := s.Layer(layerName)
	if err != nil {
		return false, err
	}
	return s.store.Exists(ctx, layer.StorageKey(c))
}

// Revalidate forgets missing tiles that have since appeared in the local
// store, for example after an offline download. It returns how many were
// cleared.
func (s *Server) Revalidate(ctx context.Context) (int, error) {
	cleared := 0
	for _, name := range s.order {
		layer := s.layers[name]
		for _, c := range s.tracker.Missing(name) {
			ok, err := s.store.Exists(ctx, layer.StorageKey(c))
			if err != nil {
				return cleared, err
			}
			if !ok {
				continue
			}
			if err := s.tracker.MarkFound(ctx, name, c); err != nil {
				return cleared, err
			}
			cleared++
		}
	}
	if cleared > 0 {
		s.logger.Info("missing tiles revalidated", "cleared", cleared, "remaining", s.tracker.Count())
	}
	return cleared, nil
}

func mimeTypeFor(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
