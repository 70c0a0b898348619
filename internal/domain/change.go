package domain

import "time"

type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
	// ChangeBatch groups the per-household entries of one operation so undo
	// reverses them together.
	ChangeBatch ChangeType = "batch"
)

type RegionChangeKind string

const (
	RegionCreated RegionChangeKind = "created"
	RegionRemoved RegionChangeKind = "removed"
	RegionRenamed RegionChangeKind = "renamed"
)

type RegionChange struct {
	Kind    RegionChangeKind `json:"kind"`
	Region  RegionIdentity   `json:"region"`
	OldName string           `json:"oldName,omitempty"`
}

type ChangeEntry struct {
	Type ChangeType `json:"type"`
	// ID is the household id, or an operation label for batches.
	ID        string         `json:"id"`
	OldValue  *Household     `json:"oldValue,omitempty"`
	NewValue  *Household     `json:"newValue,omitempty"`
	Entries   []ChangeEntry  `json:"entries,omitempty"`
	Regions   []RegionChange `json:"regions,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Position is where a deleted household sat in the directory order.
	// RegionIndex is the region index counter before an operation that
	// created a region.
	Position    int `json:"position,omitempty"`
	RegionIndex int `json:"regionIndex,omitempty"`
}

// HouseholdIDs lists the households an entry touches.
func (e *ChangeEntry) HouseholdIDs() []string {
	if e.Type != ChangeBatch {
		return []string{e.ID}
	}
	ids := make([]string, 0, len(e.Entries))
	for i := range e.Entries {
		ids = append(ids, e.Entries[i].ID)
	}
	return ids
}
