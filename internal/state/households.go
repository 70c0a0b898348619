package state

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

// AddHousehold validates and inserts a household. An id is generated when
// none is given; the current assignment becomes the original one.
func (s *Store) AddHousehold(in domain.Household) (*domain.Household, error) {
	h := in.Clone()
	h.Name = strings.TrimSpace(h.Name)
	h.RegionName = strings.TrimSpace(h.RegionName)
	if err := h.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	} else if _, exists := s.households[h.ID]; exists {
		s.mu.Unlock()
		return nil, &domain.ConflictError{Kind: "household", ID: h.ID}
	}
	now := s.now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.ModifiedAt = now
	h.OriginalRegionName = h.RegionName
	h.OriginalClusterID = h.ClusterID

	mark := s.markRegions()
	s.insert(h)
	s.beginChange(h.ID, []domain.ChangeEntry{{Type: domain.ChangeAdd, ID: h.ID, NewValue: h.Clone()}})
	s.agg.OnHouseholdAdded(h)
	entry := s.endChange(mark)

	s.enqueue(Event{Name: EventHouseholdAdded, Household: h.Clone()})
	s.enqueueRecorded(entry)
	if hasResources(h) && s.refreshResources() {
		s.enqueue(Event{Name: EventResourcesUpdated})
	}
	out := h.Clone()
	s.unlockAndNotify()

	s.logger.Debug("household added", "household_id", out.ID)
	return out, nil
}

// UpdateHousehold merges patch into the household with the given id. An
// update entry is recorded even when no field changes.
func (s *Store) UpdateHousehold(id string, patch domain.HouseholdPatch) (*domain.Household, error) {
	s.mu.Lock()
	cur, ok := s.households[id]
	if !ok {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "household", ID: id}
	}

	next := cur.Clone()
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if patch.RegionName != nil {
		trimmed := strings.TrimSpace(*patch.RegionName)
		patch.RegionName = &trimmed
	}
	eff := patch.Apply(next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	next.ModifiedAt = s.now()

	mark := s.markRegions()
	s.households[id] = next
	s.beginChange(id, []domain.ChangeEntry{{Type: domain.ChangeUpdate, ID: id, OldValue: cur.Clone(), NewValue: next.Clone()}})
	s.applyAggregate(cur, next)
	if eff.Assignment {
		s.releaseReservation(next.RegionName, next.ClusterID)
	}
	entry := s.endChange(mark)

	s.enqueue(Event{Name: EventHouseholdUpdated, Household: next.Clone(), Previous: cur.Clone()})
	s.enqueueRecorded(entry)
	if eff.Resources && s.refreshResources() {
		s.enqueue(Event{Name: EventResourcesUpdated})
	}
	out := next.Clone()
	s.unlockAndNotify()
	return out, nil
}

// DeleteHousehold removes a household and returns its last state.
func (s *Store) DeleteHousehold(id string) (*domain.Household, error) {
	s.mu.Lock()
	h, ok := s.households[id]
	if !ok {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "household", ID: id}
	}

	mark := s.markRegions()
	pos := slices.Index(s.order, id)
	s.remove(id)
	s.beginChange(id, []domain.ChangeEntry{{Type: domain.ChangeDelete, ID: id, OldValue: h.Clone(), Position: pos}})
	s.agg.OnHouseholdRemoved(h)
	entry := s.endChange(mark)

	s.enqueue(Event{Name: EventHouseholdDeleted, Household: h.Clone()})
	s.enqueueRecorded(entry)
	if hasResources(h) && s.refreshResources() {
		s.enqueue(Event{Name: EventResourcesUpdated})
	}
	s.unlockAndNotify()

	s.logger.Debug("household deleted", "household_id", id)
	return h.Clone(), nil
}

// LoadHouseholds replaces the whole directory, as on CSV import. Invalid
// records are skipped and reported. The undo log is cleared.
func (s *Store) LoadHouseholds(in []domain.Household) (int, []error) {
	var errs []error
	now := s.now()

	s.mu.Lock()
	s.households = make(map[string]*domain.Household, len(in))
	s.order = nil
	s.changes = nil
	s.highlighted = make(map[string]struct{})
	s.reserved = make(map[reservation]struct{})
	s.agg.Reset()

	for i := range in {
		h := in[i].Clone()
		h.Name = strings.TrimSpace(h.Name)
		h.RegionName = strings.TrimSpace(h.RegionName)
		if err := h.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("record %d (%s): %w", i+1, h.Name, err))
			continue
		}
		if h.ID == "" {
			h.ID = uuid.NewString()
		} else if _, exists := s.households[h.ID]; exists {
			errs = append(errs, fmt.Errorf("record %d (%s): %w", i+1, h.Name, &domain.ConflictError{Kind: "household", ID: h.ID}))
			continue
		}
		if h.CreatedAt.IsZero() {
			h.CreatedAt = now
		}
		h.ModifiedAt = now
		h.OriginalRegionName = h.RegionName
		h.OriginalClusterID = h.ClusterID
		s.insert(h)
	}

	s.agg.RecomputeAll(s.list())
	s.refreshResources()
	loaded := len(s.order)

	s.enqueue(
		Event{Name: EventHouseholdsLoaded, Count: loaded},
		Event{Name: EventResourcesUpdated},
		Event{Name: EventRegionsChanged},
	)
	s.unlockAndNotify()

	s.logger.Info("households loaded", "loaded", loaded, "rejected", len(errs))
	return loaded, errs
}

// applyAggregate routes a household change to the aggregator.
func (s *Store) applyAggregate(prev, next *domain.Household) {
	switch {
	case prev.RegionName != next.RegionName || prev.ClusterID != next.ClusterID:
		s.agg.OnHouseholdAssignmentChanged(next, prev.RegionName, prev.ClusterID, next.RegionName, next.ClusterID)
	case prev.Lat != next.Lat || prev.Lon != next.Lon:
		s.agg.OnHouseholdMoved(next)
	}
}

func hasResources(h *domain.Household) bool {
	for _, c := range domain.ResourceCategories {
		if strings.TrimSpace(h.Resource(c)) != "" {
			return true
		}
	}
	return false
}

// Household returns a copy of the household, or nil.
func (s *Store) Household(id string) *domain.Household {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.households[id].Clone()
}

// Households returns copies in insertion order.
func (s *Store) Households() []*domain.Household {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.list())
}

// HouseholdsIn returns the members of a region and cluster. A zero clusterID
// matches every member of the region; an empty region matches independents.
func (s *Store) HouseholdsIn(regionName string, clusterID int) []*domain.Household {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.members(regionName, clusterID))
}

func (s *Store) members(regionName string, clusterID int) []*domain.Household {
	var out []*domain.Household
	for _, h := range s.list() {
		if h.RegionName != regionName {
			continue
		}
		if clusterID > 0 && h.ClusterID != clusterID {
			continue
		}
		if regionName == "" && clusterID <= 0 {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (s *Store) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := domain.Stats{
		Total:             len(s.order),
		Regions:           len(s.agg.Regions()),
		ClusterGroups:     len(s.agg.ClusterGroups()),
		TotalChanges:      len(s.changes),
		ChangedHouseholds: s.changedCount(),
	}
	for _, h := range s.list() {
		switch {
		case h.IsIsolated():
			st.Isolated++
		case h.HasRegion():
			st.InRegions++
		default:
			st.Independent++
		}
		if h.HasSpecialNeeds() {
			st.WithSpecialNeeds++
		}
	}
	return st
}

func cloneAll(hs []*domain.Household) []*domain.Household {
	out := make([]*domain.Household, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Clone())
	}
	return out
}
