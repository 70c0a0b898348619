package state

import (
	"fmt"
	"strings"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

// CreateRegion registers an empty region. A blank name becomes "Region N".
func (s *Store) CreateRegion(name string) (*domain.Region, error) {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	if name == "" {
		name = s.agg.NextRegionName()
	}
	if s.agg.Region(name) != nil {
		s.mu.Unlock()
		return nil, &domain.ConflictError{Kind: "region", ID: name}
	}

	mark := s.markRegions()
	s.beginChange("createRegion:"+name, nil)
	r, err := s.agg.CreateRegion(name)
	if err != nil {
		s.discardChange()
		s.mu.Unlock()
		return nil, err
	}
	entry := s.endChange(mark)
	s.enqueueRecorded(entry)
	s.unlockAndNotify()

	s.logger.Info("region created", "region", name, "color", r.Color)
	return r, nil
}

// AssignNewRegion creates a region and moves the given households into its
// first cluster as one undoable operation. A blank name becomes "Region N".
// It returns the new cluster group and the number of households moved.
func (s *Store) AssignNewRegion(name string, ids []string) (*domain.ClusterGroup, int, error) {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	if name == "" {
		name = s.agg.NextRegionName()
	}
	if s.agg.Region(name) != nil {
		s.mu.Unlock()
		return nil, 0, &domain.ConflictError{Kind: "region", ID: name}
	}
	clusterID := s.nextClusterID(name)
	targets, err := s.targets(ids, name, clusterID)
	if err != nil {
		s.mu.Unlock()
		return nil, 0, err
	}

	mark := s.markRegions()
	entries := s.planReassign(targets, func(h *domain.Household) {
		h.RegionName = name
		h.ClusterID = clusterID
	})
	s.beginChange("createRegion:"+name, entries)
	r, err := s.agg.CreateRegion(name)
	if err != nil {
		s.discardChange()
		s.mu.Unlock()
		return nil, 0, err
	}
	s.applyEntries(entries, true)
	s.releaseReservation(name, clusterID)
	entry := s.endChange(mark)

	g := s.agg.ClusterGroup(name, clusterID)
	if g == nil {
		g = &domain.ClusterGroup{RegionName: name, RegionID: r.ID, ClusterID: clusterID, Color: r.Color}
	}
	s.enqueueUpdates(entries)
	s.enqueueRecorded(entry)
	s.unlockAndNotify()

	s.logger.Info("region created from selection", "region", name, "cluster_id", clusterID, "count", len(entries))
	return g, len(entries), nil
}

// CreateCluster allocates the next cluster id in a region, or the next global
// id for an independent cluster when regionName is empty. The returned group
// is empty; it materializes, along with its region, on first assignment. The
// id stays reserved until then.
func (s *Store) CreateCluster(regionName string) (*domain.ClusterGroup, error) {
	regionName = strings.TrimSpace(regionName)

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextClusterID(regionName)
	s.reserved[reservation{region: regionName, clusterID: id}] = struct{}{}

	g := &domain.ClusterGroup{RegionName: regionName, ClusterID: id, Color: domain.IndependentColor}
	if regionName != "" {
		if r := s.agg.Region(regionName); r != nil {
			g.RegionID = r.ID
			g.Color = r.Color
		} else {
			g.Color = s.agg.PreviewColor()
		}
	}
	s.logger.Debug("cluster reserved", "region", regionName, "cluster_id", id)
	return g, nil
}

func (s *Store) nextClusterID(regionName string) int {
	next := s.agg.NextClusterID(regionName)
	for r := range s.reserved {
		if regionName == "" || r.region == regionName {
			next = max(next, r.clusterID+1)
		}
	}
	return next
}

func (s *Store) releaseReservation(regionName string, clusterID int) {
	delete(s.reserved, reservation{region: regionName, clusterID: clusterID})
}

// DeleteRegion clears the region from its households, keeping their cluster
// ids, so they become independent cluster members (or isolated when they had
// no cluster). The region entity is removed and all aggregates are rebuilt.
func (s *Store) DeleteRegion(regionName string) error {
	s.mu.Lock()
	if s.agg.Region(regionName) == nil {
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "region", ID: regionName}
	}

	mark := s.markRegions()
	entries := s.planReassign(s.members(regionName, 0), func(h *domain.Household) {
		h.RegionName = ""
	})
	s.beginChange("deleteRegion:"+regionName, entries)
	s.applyEntries(entries, false)
	if _, err := s.agg.RemoveRegion(regionName); err != nil {
		s.logger.Error("failed to remove region", "region", regionName, "error", err)
	}
	s.agg.RecomputeAll(s.list())
	for r := range s.reserved {
		if r.region == regionName {
			delete(s.reserved, r)
		}
	}
	entry := s.endChange(mark)

	s.enqueueUpdates(entries)
	s.enqueueRecorded(entry)
	s.unlockAndNotify()

	s.logger.Info("region deleted", "region", regionName, "households", len(entries))
	return nil
}

// DeleteCluster clears the cluster id from its households, keeping their
// region.
func (s *Store) DeleteCluster(regionName string, clusterID int) error {
	s.mu.Lock()
	key := reservation{region: regionName, clusterID: clusterID}
	if s.agg.ClusterGroup(regionName, clusterID) == nil {
		_, reserved := s.reserved[key]
		delete(s.reserved, key)
		s.mu.Unlock()
		if reserved {
			return nil
		}
		return &domain.NotFoundError{Kind: "cluster", ID: clusterLabel(regionName, clusterID)}
	}

	mark := s.markRegions()
	entries := s.planReassign(s.members(regionName, clusterID), func(h *domain.Household) {
		h.ClusterID = 0
	})
	s.beginChange("deleteCluster:"+clusterLabel(regionName, clusterID), entries)
	s.applyEntries(entries, true)
	delete(s.reserved, key)
	entry := s.endChange(mark)

	s.enqueueUpdates(entries)
	s.enqueueRecorded(entry)
	s.unlockAndNotify()

	s.logger.Info("cluster deleted", "region", regionName, "cluster_id", clusterID, "households", len(entries))
	return nil
}

// ReassignClusterToRegion moves every member of a cluster into newRegion under
// a freshly allocated cluster id, so it never merges with an existing cluster
// there. The region is created if needed.
func (s *Store) ReassignClusterToRegion(oldRegion string, clusterID int, newRegion string) (*domain.ClusterGroup, error) {
	newRegion = strings.TrimSpace(newRegion)

	s.mu.Lock()
	if s.agg.ClusterGroup(oldRegion, clusterID) == nil {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{Kind: "cluster", ID: clusterLabel(oldRegion, clusterID)}
	}
	if oldRegion == newRegion {
		g := s.agg.ClusterGroup(oldRegion, clusterID)
		s.mu.Unlock()
		return g, nil
	}

	newID := s.nextClusterID(newRegion)
	mark := s.markRegions()
	entries := s.planReassign(s.members(oldRegion, clusterID), func(h *domain.Household) {
		h.RegionName = newRegion
		h.ClusterID = newID
	})
	s.beginChange(fmt.Sprintf("reassignCluster:%s->%s", clusterLabel(oldRegion, clusterID), newRegion), entries)
	s.applyEntries(entries, true)
	entry := s.endChange(mark)
	g := s.agg.ClusterGroup(newRegion, newID)

	s.enqueueUpdates(entries)
	s.enqueueRecorded(entry)
	s.unlockAndNotify()

	s.logger.Info("cluster reassigned",
		"from_region", oldRegion,
		"from_cluster", clusterID,
		"to_region", newRegion,
		"to_cluster", newID,
	)
	return g, nil
}

// BulkAssign moves the given households to a region and cluster as one
// operation. Every id must exist. Households already there are skipped. It
// returns the number of households moved.
func (s *Store) BulkAssign(ids []string, regionName string, clusterID int) (int, error) {
	if clusterID < 0 {
		return 0, &domain.ValidationError{Messages: []string{"cluster id must not be negative"}}
	}
	regionName = strings.TrimSpace(regionName)

	s.mu.Lock()
	targets, err := s.targets(ids, regionName, clusterID)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	mark := s.markRegions()
	entries := s.planReassign(targets, func(h *domain.Household) {
		h.RegionName = regionName
		h.ClusterID = clusterID
	})
	s.beginChange("bulkAssign", entries)
	s.applyEntries(entries, true)
	s.releaseReservation(regionName, clusterID)
	entry := s.endChange(mark)

	s.enqueueUpdates(entries)
	s.enqueueRecorded(entry)
	s.unlockAndNotify()

	s.logger.Info("households assigned", "region", regionName, "cluster_id", clusterID, "count", len(entries))
	return len(entries), nil
}

// RenameRegion changes a region's name on the region and all its members.
// The region keeps its id and color.
func (s *Store) RenameRegion(oldName, newName string) error {
	newName = strings.TrimSpace(newName)

	s.mu.Lock()
	switch {
	case s.agg.Region(oldName) == nil:
		s.mu.Unlock()
		return &domain.NotFoundError{Kind: "region", ID: oldName}
	case newName == "":
		s.mu.Unlock()
		return &domain.ValidationError{Messages: []string{"region name is required"}}
	case oldName == newName:
		s.mu.Unlock()
		return nil
	case s.agg.Region(newName) != nil:
		s.mu.Unlock()
		return &domain.ConflictError{Kind: "region", ID: newName}
	}

	mark := s.markRegions()
	entries := s.planReassign(s.members(oldName, 0), func(h *domain.Household) {
		h.RegionName = newName
	})
	s.beginChange("renameRegion:"+oldName, entries)
	s.applyEntries(entries, false)
	if err := s.agg.RenameRegion(oldName, newName); err != nil {
		s.logger.Error("failed to rename region", "region", oldName, "error", err)
	}
	for r := range s.reserved {
		if r.region == oldName {
			delete(s.reserved, r)
			s.reserved[reservation{region: newName, clusterID: r.clusterID}] = struct{}{}
		}
	}
	renamed := domain.RegionChange{Kind: domain.RegionRenamed, Region: s.agg.Region(newName).Identity(), OldName: oldName}
	entry := s.endChange(mark, renamed)

	s.enqueueUpdates(entries)
	s.enqueueRecorded(entry)
	s.unlockAndNotify()

	s.logger.Info("region renamed", "from", oldName, "to", newName, "households", len(entries))
	return nil
}

// targets resolves ids for an assignment, dropping duplicates and households
// already at regionName and clusterID. Every id must exist.
func (s *Store) targets(ids []string, regionName string, clusterID int) ([]*domain.Household, error) {
	seen := make(map[string]bool, len(ids))
	var out []*domain.Household
	for _, id := range ids {
		h, ok := s.households[id]
		if !ok {
			return nil, &domain.NotFoundError{Kind: "household", ID: id}
		}
		if seen[id] || (h.RegionName == regionName && h.ClusterID == clusterID) {
			continue
		}
		seen[id] = true
		out = append(out, h)
	}
	return out, nil
}

// planReassign builds update entries for change applied to copies of targets.
// Nothing is stored.
func (s *Store) planReassign(targets []*domain.Household, change func(*domain.Household)) []domain.ChangeEntry {
	now := s.now()
	entries := make([]domain.ChangeEntry, 0, len(targets))
	for _, cur := range targets {
		next := cur.Clone()
		change(next)
		next.ModifiedAt = now
		entries = append(entries, domain.ChangeEntry{
			Type:     domain.ChangeUpdate,
			ID:       next.ID,
			OldValue: cur.Clone(),
			NewValue: next.Clone(),
		})
	}
	return entries
}

// applyEntries stores the new values of entries. With incremental set the
// aggregator is updated per household; otherwise the caller rebuilds it.
func (s *Store) applyEntries(entries []domain.ChangeEntry, incremental bool) {
	for i := range entries {
		prev := s.households[entries[i].ID]
		next := entries[i].NewValue.Clone()
		s.households[next.ID] = next
		if incremental {
			s.applyAggregate(prev, next)
		}
	}
}

func (s *Store) enqueueUpdates(entries []domain.ChangeEntry) {
	for i := range entries {
		s.enqueue(Event{
			Name:      EventHouseholdUpdated,
			Household: entries[i].NewValue.Clone(),
			Previous:  entries[i].OldValue.Clone(),
		})
	}
}

func clusterLabel(regionName string, clusterID int) string {
	if regionName == "" {
		return fmt.Sprintf("independent-%d", clusterID)
	}
	return fmt.Sprintf("%s-%d", regionName, clusterID)
}

func (s *Store) Regions() []*domain.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agg.Regions()
}

// Region returns the region with the given name, or nil.
func (s *Store) Region(name string) *domain.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agg.Region(name)
}

func (s *Store) ClusterGroups() []*domain.ClusterGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agg.ClusterGroups()
}

// ClusterGroup returns a group by region name and cluster id, or nil.
func (s *Store) ClusterGroup(regionName string, clusterID int) *domain.ClusterGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agg.ClusterGroup(regionName, clusterID)
}
