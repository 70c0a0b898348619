package state

import (
	"slices"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

type regionMark struct {
	identities []domain.RegionIdentity
	nextIndex  int
}

// markRegions snapshots the region set before an operation.
func (s *Store) markRegions() regionMark {
	return regionMark{identities: s.agg.Identities(), nextIndex: s.agg.NextRegionIndex()}
}

// beginChange appends the entries of one operation to the log before the
// aggregates are touched. A single household entry is logged as is; anything
// else is wrapped in a batch labelled label.
func (s *Store) beginChange(label string, entries []domain.ChangeEntry) {
	var e domain.ChangeEntry
	if len(entries) == 1 {
		e = entries[0]
	} else {
		e = domain.ChangeEntry{Type: domain.ChangeBatch, ID: label, Entries: entries}
	}
	e.Timestamp = s.now()
	s.changes = append(s.changes, e)
}

// endChange completes the entry opened by beginChange with the region
// identities that appeared or disappeared since mark. An operation that
// changed nothing is dropped and nil returned.
func (s *Store) endChange(mark regionMark, extra ...domain.RegionChange) *domain.ChangeEntry {
	e := &s.changes[len(s.changes)-1]
	e.Regions = append(regionDiff(mark.identities, s.agg.Identities()), extra...)
	if e.Type == domain.ChangeBatch && len(e.Entries) == 0 && len(e.Regions) == 0 {
		s.changes = s.changes[:len(s.changes)-1]
		return nil
	}
	for _, rc := range e.Regions {
		if rc.Kind == domain.RegionCreated {
			e.RegionIndex = mark.nextIndex
			break
		}
	}

	out := *e
	if len(s.changes) > MaxChanges {
		s.changes = slices.Clone(s.changes[len(s.changes)-MaxChanges:])
	}
	return &out
}

// discardChange drops the entry opened by beginChange when the operation
// fails before mutating anything.
func (s *Store) discardChange() {
	s.changes = s.changes[:len(s.changes)-1]
}

func (s *Store) enqueueRecorded(e *domain.ChangeEntry) {
	if e == nil {
		return
	}
	s.enqueue(Event{Name: EventChangeRecorded, Change: e})
	if len(e.Regions) > 0 {
		s.enqueue(Event{Name: EventRegionsChanged})
	}
}

func regionDiff(before, after []domain.RegionIdentity) []domain.RegionChange {
	had := make(map[string]bool, len(before))
	for _, r := range before {
		had[r.ID] = true
	}
	has := make(map[string]bool, len(after))
	for _, r := range after {
		has[r.ID] = true
	}

	var out []domain.RegionChange
	for _, r := range before {
		if !has[r.ID] {
			out = append(out, domain.RegionChange{Kind: domain.RegionRemoved, Region: r})
		}
	}
	for _, r := range after {
		if !had[r.ID] {
			out = append(out, domain.RegionChange{Kind: domain.RegionCreated, Region: r})
		}
	}
	return out
}

// UndoLastChange reverts the newest log entry and returns it, or nil when the
// log is empty. Undo is not itself logged.
func (s *Store) UndoLastChange() *domain.ChangeEntry {
	s.mu.Lock()
	if len(s.changes) == 0 {
		s.mu.Unlock()
		return nil
	}
	e := s.changes[len(s.changes)-1]
	s.changes = s.changes[:len(s.changes)-1]

	s.revert(e)

	s.enqueue(Event{Name: EventChangeUndone, Change: &e})
	if e.Type == domain.ChangeBatch || len(e.Regions) > 0 {
		s.enqueue(Event{Name: EventRegionsChanged})
	}
	if s.refreshResources() {
		s.enqueue(Event{Name: EventResourcesUpdated})
	}
	s.unlockAndNotify()

	s.logger.Info("change undone", "type", e.Type, "id", e.ID)
	return &e
}

func (s *Store) revert(e domain.ChangeEntry) {
	if e.Type != domain.ChangeBatch && len(e.Regions) == 0 {
		s.revertIncremental(e)
		return
	}

	entries := e.Entries
	if e.Type != domain.ChangeBatch {
		entries = []domain.ChangeEntry{e}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		s.restore(entries[i])
	}
	for i := len(e.Regions) - 1; i >= 0; i-- {
		rc := e.Regions[i]
		if err := s.revertRegion(rc); err != nil {
			s.logger.Warn("region undo skipped", "kind", rc.Kind, "region", rc.Region.Name, "error", err)
		}
	}
	s.agg.RecomputeAll(s.list())
	if e.RegionIndex > 0 {
		s.agg.RewindRegionIndex(e.RegionIndex)
	}
}

// revertRegion finds regions by id, since a later rename may have changed the
// name recorded in the entry.
func (s *Store) revertRegion(rc domain.RegionChange) error {
	if rc.Kind == domain.RegionRemoved {
		return s.agg.RegisterRegion(rc.Region)
	}
	r := s.agg.RegionByID(rc.Region.ID)
	if r == nil {
		return &domain.NotFoundError{Kind: "region", ID: rc.Region.Name}
	}
	switch rc.Kind {
	case domain.RegionCreated:
		_, err := s.agg.RemoveRegion(r.Name)
		return err
	case domain.RegionRenamed:
		return s.agg.RenameRegion(r.Name, rc.OldName)
	}
	return nil
}

func (s *Store) revertIncremental(e domain.ChangeEntry) {
	switch e.Type {
	case domain.ChangeAdd:
		if h, ok := s.households[e.ID]; ok {
			s.remove(e.ID)
			s.agg.OnHouseholdRemoved(h)
		}
	case domain.ChangeDelete:
		h := e.OldValue.Clone()
		s.insertAt(h, e.Position)
		s.agg.OnHouseholdAdded(h)
	case domain.ChangeUpdate:
		prev := e.OldValue.Clone()
		cur, ok := s.households[e.ID]
		if !ok {
			s.insert(prev)
			s.agg.OnHouseholdAdded(prev)
			return
		}
		s.households[e.ID] = prev
		s.applyAggregate(cur, prev)
	}
}

// restore puts a household back to its state before e without touching the
// aggregates.
func (s *Store) restore(e domain.ChangeEntry) {
	switch e.Type {
	case domain.ChangeAdd:
		s.remove(e.ID)
	case domain.ChangeDelete:
		s.insertAt(e.OldValue.Clone(), e.Position)
	case domain.ChangeUpdate:
		if _, ok := s.households[e.ID]; ok {
			s.households[e.ID] = e.OldValue.Clone()
		} else {
			s.insert(e.OldValue.Clone())
		}
	}
}

// Changes returns the undo log, oldest first.
func (s *Store) Changes() []domain.ChangeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.changes)
}

// ChangedHouseholdCount is the number of distinct households in the log.
func (s *Store) ChangedHouseholdCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changedCount()
}

func (s *Store) changedCount() int {
	seen := make(map[string]struct{})
	for i := range s.changes {
		for _, id := range s.changes[i].HouseholdIDs() {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// IsModified reports whether a household was moved away from its original
// assignment or has an update in the log.
func (s *Store) IsModified(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.households[id]
	if !ok {
		return false
	}
	if h.AssignmentChanged() {
		return true
	}
	for i := range s.changes {
		e := &s.changes[i]
		if e.Type == domain.ChangeUpdate && e.ID == id {
			return true
		}
		for j := range e.Entries {
			if e.Entries[j].Type == domain.ChangeUpdate && e.Entries[j].ID == id {
				return true
			}
		}
	}
	return false
}

// ClearChanges empties the undo log, as after an export.
func (s *Store) ClearChanges() {
	s.mu.Lock()
	s.changes = nil
	s.unlockAndNotify()
}
