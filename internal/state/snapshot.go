package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

// Pair serializes as a two element JSON array, the shape of a map entry.
type Pair[K, V any] struct {
	Key   K
	Value V
}

func (p Pair[K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Value})
}

func (p *Pair[K, V]) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("expected [key, value], got %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return fmt.Errorf("failed to decode key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Value); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}

// Snapshot is the persisted form of a Store.
type Snapshot struct {
	Households      []Pair[string, *domain.Household]    `json:"households"`
	Regions         []Pair[string, *domain.Region]       `json:"regions"`
	ClusterGroups   []Pair[string, *domain.ClusterGroup] `json:"clusterGroups"`
	Changes         []domain.ChangeEntry                 `json:"changes"`
	NextRegionIndex int                                  `json:"nextRegionIndex"`
	SavedAt         time.Time                            `json:"savedAt"`
}

// Snapshot captures the full store state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Households:      make([]Pair[string, *domain.Household], 0, len(s.order)),
		Regions:         []Pair[string, *domain.Region]{},
		ClusterGroups:   []Pair[string, *domain.ClusterGroup]{},
		Changes:         append([]domain.ChangeEntry{}, s.changes...),
		NextRegionIndex: s.agg.NextRegionIndex(),
		SavedAt:         s.now(),
	}
	for _, h := range s.list() {
		snap.Households = append(snap.Households, Pair[string, *domain.Household]{Key: h.ID, Value: h.Clone()})
	}
	for _, r := range s.agg.Regions() {
		snap.Regions = append(snap.Regions, Pair[string, *domain.Region]{Key: r.Name, Value: r})
	}
	for _, g := range s.agg.ClusterGroups() {
		snap.ClusterGroups = append(snap.ClusterGroups, Pair[string, *domain.ClusterGroup]{Key: g.Key().String(), Value: g})
	}
	return snap
}

// Restore replaces the store state with snap. Region identities are taken
// from the snapshot; statistics are rebuilt from the households.
func (s *Store) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	for _, p := range snap.Households {
		if p.Value == nil {
			return fmt.Errorf("household %s has no data", p.Key)
		}
		if p.Value.ID != p.Key {
			return fmt.Errorf("household key %s does not match id %s", p.Key, p.Value.ID)
		}
		if err := p.Value.Validate(); err != nil {
			return fmt.Errorf("household %s: %w", p.Key, err)
		}
	}

	s.mu.Lock()
	s.households = make(map[string]*domain.Household, len(snap.Households))
	s.order = nil
	s.highlighted = make(map[string]struct{})
	s.reserved = make(map[reservation]struct{})
	for _, p := range snap.Households {
		s.insert(p.Value.Clone())
	}

	s.agg.Reset()
	for _, p := range snap.Regions {
		if p.Value == nil {
			continue
		}
		if err := s.agg.RegisterRegion(p.Value.Identity()); err != nil {
			s.logger.Warn("duplicate region in snapshot", "region", p.Key, "error", err)
		}
	}
	s.agg.SetNextRegionIndex(snap.NextRegionIndex)
	s.agg.RecomputeAll(s.list())

	s.changes = append([]domain.ChangeEntry{}, snap.Changes...)
	if len(s.changes) > MaxChanges {
		s.changes = s.changes[len(s.changes)-MaxChanges:]
	}
	s.refreshResources()
	count := len(s.order)

	s.enqueue(
		Event{Name: EventHouseholdsLoaded, Count: count},
		Event{Name: EventResourcesUpdated},
		Event{Name: EventRegionsChanged},
	)
	s.unlockAndNotify()

	s.logger.Info("state restored", "households", count, "regions", len(snap.Regions), "changes", len(snap.Changes))
	return nil
}
