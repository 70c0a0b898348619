package state

import (
	"maps"
	"slices"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

// Resources returns the discovered resource index.
func (s *Store) Resources() domain.ResourceIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.ResourceIndex, len(s.resources))
	for c, tags := range s.resources {
		out[c] = slices.Clone(tags)
	}
	return out
}

func (s *Store) SetFilters(f domain.Filters) {
	s.mu.Lock()
	s.filters = f
	s.enqueue(Event{Name: EventFiltersChanged})
	s.unlockAndNotify()
}

func (s *Store) Filters() domain.Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// FilterHouseholds returns the households matching f in insertion order.
func (s *Store) FilterHouseholds(f domain.Filters) []*domain.Household {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Household
	for _, h := range s.list() {
		if f.Match(h) {
			out = append(out, h.Clone())
		}
	}
	return out
}

// SetHighlighted replaces the highlighted set. Unknown ids are dropped.
func (s *Store) SetHighlighted(ids []string) {
	s.mu.Lock()
	s.highlighted = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.households[id]; ok {
			s.highlighted[id] = struct{}{}
		}
	}
	s.enqueue(Event{Name: EventHighlightChanged, Count: len(s.highlighted)})
	s.unlockAndNotify()
}

// Highlighted returns the highlighted ids in sorted order.
func (s *Store) Highlighted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.highlighted))
}
