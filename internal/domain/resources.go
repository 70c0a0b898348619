package domain

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type ResourceCategory string

const (
	ResourceMedicalSkills     ResourceCategory = "medicalSkills"
	ResourceRecoverySkills    ResourceCategory = "recoverySkills"
	ResourceRecoveryEquipment ResourceCategory = "recoveryEquipment"
	ResourceCommunication     ResourceCategory = "communicationSkillsAndEquipment"
)

// ResourceCategories is the fixed order used for indexes and filters.
var ResourceCategories = []ResourceCategory{
	ResourceMedicalSkills,
	ResourceRecoverySkills,
	ResourceRecoveryEquipment,
	ResourceCommunication,
}

// Resource returns the raw tag string for a category.
func (h *Household) Resource(c ResourceCategory) string {
	switch c {
	case ResourceMedicalSkills:
		return h.MedicalSkills
	case ResourceRecoverySkills:
		return h.RecoverySkills
	case ResourceRecoveryEquipment:
		return h.RecoveryEquipment
	case ResourceCommunication:
		return h.CommunicationSkillsAndEquipment
	}
	return ""
}

// Resources returns the tags of a category, split and trimmed.
func (h *Household) Resources(c ResourceCategory) []string {
	return SplitTags(h.Resource(c))
}

// SplitTags splits a comma-delimited field into trimmed, non-empty tags.
func SplitTags(s string) []string {
	var tags []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func NormalizeTag(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}

// ResourceIndex maps each category to its sorted, distinct, lowercase tags.
type ResourceIndex map[ResourceCategory][]string

// BuildResourceIndex scans every household once.
func BuildResourceIndex(households []*Household) ResourceIndex {
	seen := make(map[ResourceCategory]map[string]struct{}, len(ResourceCategories))
	for _, c := range ResourceCategories {
		seen[c] = make(map[string]struct{})
	}
	for _, h := range households {
		for _, c := range ResourceCategories {
			for _, tag := range h.Resources(c) {
				seen[c][NormalizeTag(tag)] = struct{}{}
			}
		}
	}

	idx := make(ResourceIndex, len(ResourceCategories))
	for c, set := range seen {
		tags := make([]string, 0, len(set))
		for t := range set {
			tags = append(tags, t)
		}
		slices.Sort(tags)
		idx[c] = tags
	}
	return idx
}

func (idx ResourceIndex) Equal(other ResourceIndex) bool {
	if len(idx) != len(other) {
		return false
	}
	for c, tags := range idx {
		if !slices.Equal(tags, other[c]) {
			return false
		}
	}
	return true
}

// Filters selects households by resource tags. Categories are combined with
// AND, tags within a category with OR. Tag comparison ignores case.
type Filters struct {
	SpecialNeeds bool                          `json:"specialNeeds,omitempty"`
	Tags         map[ResourceCategory][]string `json:"tags,omitempty"`
}

func (f Filters) Empty() bool {
	if f.SpecialNeeds {
		return false
	}
	for _, tags := range f.Tags {
		if len(tags) > 0 {
			return false
		}
	}
	return true
}

func (f Filters) Match(h *Household) bool {
	if f.SpecialNeeds && !h.HasSpecialNeeds() {
		return false
	}
	for c, wanted := range f.Tags {
		if len(wanted) == 0 {
			continue
		}
		if !hasAnyTag(h.Resources(c), wanted) {
			return false
		}
	}
	return true
}

func hasAnyTag(tags, wanted []string) bool {
	for _, tag := range tags {
		tag = NormalizeTag(tag)
		for _, w := range wanted {
			if tag == NormalizeTag(w) {
				return true
			}
		}
	}
	return false
}
