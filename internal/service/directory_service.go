package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/csvio"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/metrics"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/state"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/store"
)

// SnapshotKey is the row under which the directory state is persisted.
const SnapshotKey = "directory"

// snapshotRepository is the subset of store.SnapshotStore that
// DirectoryService requires.
type snapshotRepository interface {
	Save(ctx context.Context, key string, payload []byte, savedAt time.Time) error
	Load(ctx context.Context, key string) (*store.SnapshotRecord, error)
}

// Buffers are the boundary padding distances, in degrees.
type Buffers struct {
	Cluster float64
	Region  float64
}

func DefaultBuffers() Buffers {
	return Buffers{Cluster: geometry.DefaultClusterBuffer, Region: geometry.DefaultRegionBuffer}
}

// DirectoryService ties the in-memory directory to CSV files, the snapshot
// table and the map layers derived from it.
type DirectoryService struct {
	store     *state.Store
	snapshots snapshotRepository
	buffers   Buffers
	logger    *slog.Logger

	mu         sync.Mutex
	dirty      bool
	boundaries []Boundary
	stale      bool
	generation int

	unsubscribe func()
}

func NewDirectoryService(st *state.Store, snapshots snapshotRepository, buffers Buffers, logger *slog.Logger) *DirectoryService {
	s := &DirectoryService{
		store:     st,
		snapshots: snapshots,
		buffers:   buffers,
		logger:    logger,
		stale:     true,
	}
	s.unsubscribe = st.Subscribe(state.EventAll, s.onEvent)
	metrics.Households.Set(float64(len(st.Households())))
	return s
}

func (s *DirectoryService) onEvent(ev state.Event) error {
	metrics.StoreEventsTotal.WithLabelValues(ev.Name).Inc()
	switch ev.Name {
	case state.EventFiltersChanged, state.EventHighlightChanged:
		return nil
	case state.EventHouseholdAdded, state.EventHouseholdDeleted, state.EventHouseholdsLoaded, state.EventChangeUndone:
		metrics.Households.Set(float64(s.store.Stats().Total))
	}

	s.mu.Lock()
	s.dirty = true
	s.stale = true
	s.generation++
	s.mu.Unlock()
	return nil
}

// Close detaches the service from the store.
func (s *DirectoryService) Close() {
	s.unsubscribe()
}

func (s *DirectoryService) Store() *state.Store {
	return s.store
}

// Dirty reports whether the directory changed since it was last saved or
// loaded.
func (s *DirectoryService) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// ImportResult summarises a CSV import.
type ImportResult struct {
	Loaded   int      `json:"loaded"`
	Rejected []string `json:"rejected"`
}

// ImportCSV replaces the directory with the households in r and persists
// the result. Rows that fail to parse or validate are reported, not fatal.
func (s *DirectoryService) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	households, rowErrs, err := csvio.Read(r)
	if err != nil {
		return nil, &domain.ValidationError{Messages: []string{err.Error()}}
	}

	res := &ImportResult{Rejected: []string{}}
	for _, re := range rowErrs {
		res.Rejected = append(res.Rejected, re.Error())
	}
	loaded, loadErrs := s.store.LoadHouseholds(households)
	for _, le := range loadErrs {
		res.Rejected = append(res.Rejected, le.Error())
	}
	res.Loaded = loaded

	s.logger.Info("csv imported", "loaded", loaded, "rejected", len(res.Rejected))
	if err := s.Save(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// ExportCSV writes the live directory, including unsaved assignment changes.
func (s *DirectoryService) ExportCSV(w io.Writer) error {
	return csvio.Write(w, s.store.Households())
}

// Save persists a snapshot of the directory.
func (s *DirectoryService) Save(ctx context.Context) error {
	snap := s.store.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()

	if err := s.snapshots.Save(ctx, SnapshotKey, payload, snap.SavedAt); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		metrics.SnapshotSavesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	metrics.SnapshotSavesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("directory saved", "households", len(snap.Households), "bytes", len(payload))
	return nil
}

// SaveIfDirty saves only when something changed. It reports whether a save
// happened.
func (s *DirectoryService) SaveIfDirty(ctx context.Context) (bool, error) {
	if !s.Dirty() {
		return false, nil
	}
	if err := s.Save(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Load restores the last saved snapshot. It reports false when nothing has
// been saved yet.
func (s *DirectoryService) Load(ctx context.Context) (bool, error) {
	rec, err := s.snapshots.Load(ctx, SnapshotKey)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	var snap state.Snapshot
	if err := json.Unmarshal(rec.Payload, &snap); err != nil {
		return false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := s.store.Restore(&snap); err != nil {
		return false, fmt.Errorf("failed to restore snapshot: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	s.logger.Info("directory loaded", "households", len(snap.Households), "saved_at", rec.SavedAt)
	return true, nil
}
