package domain

import (
	"fmt"
	"time"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
)

type Household struct {
	ID                              string    `json:"id"`
	Name                            string    `json:"name"`
	Lat                             float64   `json:"lat"`
	Lon                             float64   `json:"lon"`
	Address                         string    `json:"address,omitempty"`
	SpecialNeeds                    string    `json:"specialNeeds,omitempty"`
	MedicalSkills                   string    `json:"medicalSkills,omitempty"`
	RecoverySkills                  string    `json:"recoverySkills,omitempty"`
	RecoveryEquipment               string    `json:"recoveryEquipment,omitempty"`
	CommunicationSkillsAndEquipment string    `json:"communicationSkillsAndEquipment,omitempty"`
	RegionName                      string    `json:"regionName,omitempty"`
	ClusterID                       int       `json:"clusterId,omitempty"`
	OriginalRegionName              string    `json:"originalRegionName,omitempty"`
	OriginalClusterID               int       `json:"originalClusterId,omitempty"`
	CreatedAt                       time.Time `json:"createdAt"`
	ModifiedAt                      time.Time `json:"modifiedAt"`
}

// IsIsolated reports whether the household has neither a region nor a cluster.
func (h *Household) IsIsolated() bool {
	return !h.HasRegion() && !h.HasCluster()
}

func (h *Household) HasRegion() bool {
	return h.RegionName != ""
}

func (h *Household) HasCluster() bool {
	return h.ClusterID > 0
}

// IsIndependent reports whether the household belongs to a cluster with no region.
func (h *Household) IsIndependent() bool {
	return !h.HasRegion() && h.HasCluster()
}

// AssignmentChanged compares the live assignment with the one first loaded.
func (h *Household) AssignmentChanged() bool {
	return h.RegionName != h.OriginalRegionName || max(h.ClusterID, 0) != max(h.OriginalClusterID, 0)
}

func (h *Household) Point() geometry.Point {
	return geometry.Point{Lat: h.Lat, Lon: h.Lon}
}

func (h *Household) HasSpecialNeeds() bool {
	return len(SplitTags(h.SpecialNeeds)) > 0
}

func (h *Household) Clone() *Household {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

func (h *Household) String() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.ID)
}

// HouseholdPatch carries a partial update; nil fields are left unchanged.
type HouseholdPatch struct {
	Name                            *string  `json:"name,omitempty"`
	Lat                             *float64 `json:"lat,omitempty"`
	Lon                             *float64 `json:"lon,omitempty"`
	Address                         *string  `json:"address,omitempty"`
	SpecialNeeds                    *string  `json:"specialNeeds,omitempty"`
	MedicalSkills                   *string  `json:"medicalSkills,omitempty"`
	RecoverySkills                  *string  `json:"recoverySkills,omitempty"`
	RecoveryEquipment               *string  `json:"recoveryEquipment,omitempty"`
	CommunicationSkillsAndEquipment *string  `json:"communicationSkillsAndEquipment,omitempty"`
	RegionName                      *string  `json:"regionName,omitempty"`
	ClusterID                       *int     `json:"clusterId,omitempty"`
}

// PatchEffect describes which derived state a patch touched.
type PatchEffect struct {
	Assignment bool
	Location   bool
	Resources  bool
}

// Apply merges p into h and reports what changed.
func (p HouseholdPatch) Apply(h *Household) PatchEffect {
	var eff PatchEffect
	setString := func(dst *string, src *string, flag *bool) {
		if src != nil && *dst != *src {
			*dst = *src
			if flag != nil {
				*flag = true
			}
		}
	}

	setString(&h.Name, p.Name, nil)
	setString(&h.Address, p.Address, nil)
	setString(&h.SpecialNeeds, p.SpecialNeeds, &eff.Resources)
	setString(&h.MedicalSkills, p.MedicalSkills, &eff.Resources)
	setString(&h.RecoverySkills, p.RecoverySkills, &eff.Resources)
	setString(&h.RecoveryEquipment, p.RecoveryEquipment, &eff.Resources)
	setString(&h.CommunicationSkillsAndEquipment, p.CommunicationSkillsAndEquipment, &eff.Resources)
	setString(&h.RegionName, p.RegionName, &eff.Assignment)

	if p.ClusterID != nil && h.ClusterID != *p.ClusterID {
		h.ClusterID = *p.ClusterID
		eff.Assignment = true
	}
	if p.Lat != nil && h.Lat != *p.Lat {
		h.Lat = *p.Lat
		eff.Location = true
	}
	if p.Lon != nil && h.Lon != *p.Lon {
		h.Lon = *p.Lon
		eff.Location = true
	}
	return eff
}

// AssignmentPatch builds a patch that only moves a household.
func AssignmentPatch(regionName string, clusterID int) HouseholdPatch {
	return HouseholdPatch{RegionName: &regionName, ClusterID: &clusterID}
}

type Region struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Index      int              `json:"index"`
	Color      string           `json:"color"`
	Explicit   bool             `json:"explicit,omitempty"`
	ClusterIDs []int            `json:"clusters"`
	Count      int              `json:"count"`
	Points     []geometry.Point `json:"bounds"`
}

// RegionIdentity is the part of a region that survives recomputation.
type RegionIdentity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Index    int    `json:"index"`
	Color    string `json:"color"`
	Explicit bool   `json:"explicit,omitempty"`
}

func (r *Region) Identity() RegionIdentity {
	return RegionIdentity{ID: r.ID, Name: r.Name, Index: r.Index, Color: r.Color, Explicit: r.Explicit}
}

// ClusterKey identifies a cluster group. An empty RegionID means independent.
type ClusterKey struct {
	RegionID  string
	ClusterID int
}

func (k ClusterKey) Independent() bool {
	return k.RegionID == ""
}

func (k ClusterKey) String() string {
	if k.Independent() {
		return fmt.Sprintf("independent-%d", k.ClusterID)
	}
	return fmt.Sprintf("%s-%d", k.RegionID, k.ClusterID)
}

type ClusterGroup struct {
	RegionID   string           `json:"regionId,omitempty"`
	RegionName string           `json:"regionName,omitempty"`
	ClusterID  int              `json:"clusterId"`
	Color      string           `json:"color"`
	Count      int              `json:"count"`
	Points     []geometry.Point `json:"bounds"`
}

func (g *ClusterGroup) Key() ClusterKey {
	return ClusterKey{RegionID: g.RegionID, ClusterID: g.ClusterID}
}

func (g *ClusterGroup) Independent() bool {
	return g.RegionID == ""
}

type Stats struct {
	Total             int `json:"total"`
	Isolated          int `json:"isolated"`
	InRegions         int `json:"inRegions"`
	Independent       int `json:"independent"`
	WithSpecialNeeds  int `json:"withSpecialNeeds"`
	Regions           int `json:"regions"`
	ClusterGroups     int `json:"clusterGroups"`
	TotalChanges      int `json:"totalChanges"`
	ChangedHouseholds int `json:"changedHouseholds"`
}
