// Package aggregate maintains per-region and per-cluster statistics for a
// household set. Updates are incremental; RecomputeAll rebuilds the same state
// from scratch.
package aggregate

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
)

var regionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("wardmap.region"))

type regionState struct {
	domain.RegionIdentity
	members  map[string]geometry.Point
	clusters map[int]int
}

type clusterState struct {
	key     domain.ClusterKey
	color   string
	members map[string]geometry.Point
}

// Aggregator is not safe for concurrent use; the state store serializes access.
type Aggregator struct {
	regions   map[string]*regionState
	byName    map[string]string
	clusters  map[domain.ClusterKey]*clusterState
	nextIndex int
}

func New() *Aggregator {
	return &Aggregator{
		regions:   make(map[string]*regionState),
		byName:    make(map[string]string),
		clusters:  make(map[domain.ClusterKey]*clusterState),
		nextIndex: 1,
	}
}

func (a *Aggregator) OnHouseholdAdded(h *domain.Household) {
	a.add(h.ID, h.Point(), h.RegionName, h.ClusterID)
}

func (a *Aggregator) OnHouseholdRemoved(h *domain.Household) {
	a.remove(h.ID, h.RegionName, h.ClusterID)
	a.prune(h.RegionName, h.ClusterID)
}

// OnHouseholdAssignmentChanged moves h from its old region and cluster to the
// new ones. h must already carry the new location.
func (a *Aggregator) OnHouseholdAssignmentChanged(h *domain.Household, oldRegion string, oldCluster int, newRegion string, newCluster int) {
	a.remove(h.ID, oldRegion, oldCluster)
	a.add(h.ID, h.Point(), newRegion, newCluster)
	a.prune(oldRegion, oldCluster)
}

// OnHouseholdMoved refreshes the stored point of a household whose
// coordinates changed without an assignment change.
func (a *Aggregator) OnHouseholdMoved(h *domain.Household) {
	p := h.Point()
	var regionID string
	if r := a.regionByName(h.RegionName); r != nil {
		if _, ok := r.members[h.ID]; ok {
			r.members[h.ID] = p
		}
		regionID = r.ID
	}
	if c := a.clusters[domain.ClusterKey{RegionID: regionID, ClusterID: h.ClusterID}]; c != nil {
		if _, ok := c.members[h.ID]; ok {
			c.members[h.ID] = p
		}
	}
}

// RecomputeAll rebuilds every statistic from households. Region identities
// (id, index, color) are kept for regions that are still referenced or were
// created explicitly.
func (a *Aggregator) RecomputeAll(households []*domain.Household) {
	for _, r := range a.regions {
		r.members = make(map[string]geometry.Point)
		r.clusters = make(map[int]int)
	}
	a.clusters = make(map[domain.ClusterKey]*clusterState)

	for _, h := range households {
		a.OnHouseholdAdded(h)
	}

	for _, r := range a.regions {
		if len(r.members) == 0 && !r.Explicit {
			a.drop(r)
		}
	}
}

// Reset forgets all regions, including explicit ones.
func (a *Aggregator) Reset() {
	a.regions = make(map[string]*regionState)
	a.byName = make(map[string]string)
	a.clusters = make(map[domain.ClusterKey]*clusterState)
	a.nextIndex = 1
}

func (a *Aggregator) add(id string, p geometry.Point, regionName string, clusterID int) {
	var regionID string
	if regionName != "" {
		r := a.ensureRegion(regionName, false)
		r.members[id] = p
		if clusterID > 0 {
			r.clusters[clusterID]++
		}
		regionID = r.ID
	}
	if clusterID > 0 {
		key := domain.ClusterKey{RegionID: regionID, ClusterID: clusterID}
		c := a.clusters[key]
		if c == nil {
			c = &clusterState{key: key, color: a.clusterColor(regionID), members: make(map[string]geometry.Point)}
			a.clusters[key] = c
		}
		c.members[id] = p
	}
}

func (a *Aggregator) remove(id, regionName string, clusterID int) {
	var regionID string
	if regionName != "" {
		r := a.regionByName(regionName)
		if r == nil {
			return
		}
		if _, ok := r.members[id]; ok {
			delete(r.members, id)
			if clusterID > 0 {
				r.clusters[clusterID]--
				if r.clusters[clusterID] <= 0 {
					delete(r.clusters, clusterID)
				}
			}
		}
		regionID = r.ID
	}
	if clusterID > 0 {
		if c := a.clusters[domain.ClusterKey{RegionID: regionID, ClusterID: clusterID}]; c != nil {
			delete(c.members, id)
		}
	}
}

// prune deletes the cluster group and implicit region that lost their last member.
func (a *Aggregator) prune(regionName string, clusterID int) {
	var regionID string
	r := a.regionByName(regionName)
	if r != nil {
		regionID = r.ID
	} else if regionName != "" {
		return
	}
	if clusterID > 0 {
		key := domain.ClusterKey{RegionID: regionID, ClusterID: clusterID}
		if c := a.clusters[key]; c != nil && len(c.members) == 0 {
			delete(a.clusters, key)
		}
	}
	if r != nil && len(r.members) == 0 && !r.Explicit {
		a.drop(r)
	}
}

func (a *Aggregator) drop(r *regionState) {
	delete(a.regions, r.ID)
	delete(a.byName, r.Name)
	for key := range a.clusters {
		if key.RegionID == r.ID {
			delete(a.clusters, key)
		}
	}
}

func (a *Aggregator) regionByName(name string) *regionState {
	if name == "" {
		return nil
	}
	id, ok := a.byName[name]
	if !ok {
		return nil
	}
	return a.regions[id]
}

func (a *Aggregator) ensureRegion(name string, explicit bool) *regionState {
	if r := a.regionByName(name); r != nil {
		return r
	}
	index := a.nextIndex
	a.nextIndex++
	return a.register(domain.RegionIdentity{
		ID:       uuid.NewSHA1(regionNamespace, []byte(fmt.Sprintf("%d/%s", index, name))).String(),
		Name:     name,
		Index:    index,
		Color:    a.pickColor(index),
		Explicit: explicit,
	})
}

func (a *Aggregator) register(id domain.RegionIdentity) *regionState {
	r := &regionState{
		RegionIdentity: id,
		members:        make(map[string]geometry.Point),
		clusters:       make(map[int]int),
	}
	a.regions[id.ID] = r
	a.byName[id.Name] = id.ID
	if id.Index >= a.nextIndex {
		a.nextIndex = id.Index + 1
	}
	return r
}

// pickColor starts at the palette slot for index and skips colors already
// used by live regions. When every color is taken the slot color is reused.
func (a *Aggregator) pickColor(index int) string {
	used := make(map[string]bool, len(a.regions))
	for _, r := range a.regions {
		used[r.Color] = true
	}
	n := len(domain.RegionPalette)
	base := (index - 1) % n
	for i := range n {
		if c := domain.RegionPalette[(base+i)%n]; !used[c] {
			return c
		}
	}
	return domain.RegionPalette[base]
}

func (a *Aggregator) clusterColor(regionID string) string {
	if r := a.regions[regionID]; r != nil {
		return r.Color
	}
	return domain.IndependentColor
}

// CreateRegion registers an explicit region that persists while empty.
func (a *Aggregator) CreateRegion(name string) (*domain.Region, error) {
	if name == "" {
		return nil, &domain.ValidationError{Messages: []string{"region name is required"}}
	}
	if a.regionByName(name) != nil {
		return nil, &domain.ConflictError{Kind: "region", ID: name}
	}
	return a.regionView(a.ensureRegion(name, true)), nil
}

// RegisterRegion restores a previously removed region identity.
func (a *Aggregator) RegisterRegion(id domain.RegionIdentity) error {
	if a.regionByName(id.Name) != nil {
		return &domain.ConflictError{Kind: "region", ID: id.Name}
	}
	a.register(id)
	return nil
}

// RemoveRegion forgets a region and its cluster groups. Callers recompute
// afterwards so the former members land in independent clusters.
func (a *Aggregator) RemoveRegion(name string) (domain.RegionIdentity, error) {
	r := a.regionByName(name)
	if r == nil {
		return domain.RegionIdentity{}, &domain.NotFoundError{Kind: "region", ID: name}
	}
	a.drop(r)
	return r.RegionIdentity, nil
}

// RenameRegion changes the display name while keeping id and color.
func (a *Aggregator) RenameRegion(oldName, newName string) error {
	r := a.regionByName(oldName)
	if r == nil {
		return &domain.NotFoundError{Kind: "region", ID: oldName}
	}
	if newName == "" {
		return &domain.ValidationError{Messages: []string{"region name is required"}}
	}
	if oldName == newName {
		return nil
	}
	if a.regionByName(newName) != nil {
		return &domain.ConflictError{Kind: "region", ID: newName}
	}
	delete(a.byName, oldName)
	r.Name = newName
	a.byName[newName] = r.ID
	return nil
}

// NextRegionName returns "Region N" with N above every index and numbered
// name in use.
func (a *Aggregator) NextRegionName() string {
	n := 0
	for _, r := range a.regions {
		n = max(n, r.Index)
		if suffix, ok := strings.CutPrefix(r.Name, "Region "); ok {
			if v, err := strconv.Atoi(suffix); err == nil {
				n = max(n, v)
			}
		}
	}
	for {
		n++
		name := fmt.Sprintf("Region %d", n)
		if a.regionByName(name) == nil {
			return name
		}
	}
}

// NextClusterID returns one more than the highest cluster id in the region,
// or across all clusters when regionName is empty.
func (a *Aggregator) NextClusterID(regionName string) int {
	if regionName == "" {
		return a.MaxClusterID() + 1
	}
	r := a.regionByName(regionName)
	if r == nil || len(r.clusters) == 0 {
		return 1
	}
	return slices.Max(slices.Collect(maps.Keys(r.clusters))) + 1
}

func (a *Aggregator) MaxClusterID() int {
	m := 0
	for key := range a.clusters {
		m = max(m, key.ClusterID)
	}
	return m
}

func (a *Aggregator) NextRegionIndex() int {
	return a.nextIndex
}

func (a *Aggregator) SetNextRegionIndex(n int) {
	a.nextIndex = max(a.nextIndex, n)
}

// RewindRegionIndex lowers the index counter to n, as when a region creation
// is undone. It never drops below an index still in use.
func (a *Aggregator) RewindRegionIndex(n int) {
	for _, r := range a.regions {
		n = max(n, r.Index+1)
	}
	a.nextIndex = max(n, 1)
}

// PreviewColor is the color the next new region would receive.
func (a *Aggregator) PreviewColor() string {
	return a.pickColor(a.nextIndex)
}

func (a *Aggregator) Region(name string) *domain.Region {
	r := a.regionByName(name)
	if r == nil {
		return nil
	}
	return a.regionView(r)
}

func (a *Aggregator) RegionByID(id string) *domain.Region {
	r := a.regions[id]
	if r == nil {
		return nil
	}
	return a.regionView(r)
}

// Regions lists regions in insertion order.
func (a *Aggregator) Regions() []*domain.Region {
	out := make([]*domain.Region, 0, len(a.regions))
	for _, r := range a.sortedRegions() {
		out = append(out, a.regionView(r))
	}
	return out
}

// Identities lists region identities in insertion order.
func (a *Aggregator) Identities() []domain.RegionIdentity {
	out := make([]domain.RegionIdentity, 0, len(a.regions))
	for _, r := range a.sortedRegions() {
		out = append(out, r.RegionIdentity)
	}
	return out
}

func (a *Aggregator) sortedRegions() []*regionState {
	rs := slices.Collect(maps.Values(a.regions))
	slices.SortFunc(rs, func(x, y *regionState) int { return cmp.Compare(x.Index, y.Index) })
	return rs
}

func (a *Aggregator) ClusterGroup(regionName string, clusterID int) *domain.ClusterGroup {
	var regionID string
	if regionName != "" {
		r := a.regionByName(regionName)
		if r == nil {
			return nil
		}
		regionID = r.ID
	}
	c := a.clusters[domain.ClusterKey{RegionID: regionID, ClusterID: clusterID}]
	if c == nil {
		return nil
	}
	return a.clusterView(c)
}

// ClusterGroups lists groups by region order then cluster id, independent
// clusters last.
func (a *Aggregator) ClusterGroups() []*domain.ClusterGroup {
	cs := slices.Collect(maps.Values(a.clusters))
	rank := func(c *clusterState) int {
		if r := a.regions[c.key.RegionID]; r != nil {
			return r.Index
		}
		return int(^uint(0) >> 1)
	}
	slices.SortFunc(cs, func(x, y *clusterState) int {
		if c := cmp.Compare(rank(x), rank(y)); c != 0 {
			return c
		}
		return cmp.Compare(x.key.ClusterID, y.key.ClusterID)
	})

	out := make([]*domain.ClusterGroup, 0, len(cs))
	for _, c := range cs {
		out = append(out, a.clusterView(c))
	}
	return out
}

func (a *Aggregator) regionView(r *regionState) *domain.Region {
	ids := slices.Sorted(maps.Keys(r.clusters))
	if ids == nil {
		ids = []int{}
	}
	return &domain.Region{
		ID:         r.ID,
		Name:       r.Name,
		Index:      r.Index,
		Color:      r.Color,
		Explicit:   r.Explicit,
		ClusterIDs: ids,
		Count:      len(r.members),
		Points:     sortedPoints(r.members),
	}
}

func (a *Aggregator) clusterView(c *clusterState) *domain.ClusterGroup {
	g := &domain.ClusterGroup{
		RegionID:  c.key.RegionID,
		ClusterID: c.key.ClusterID,
		Color:     c.color,
		Count:     len(c.members),
		Points:    sortedPoints(c.members),
	}
	if r := a.regions[c.key.RegionID]; r != nil {
		g.RegionName = r.Name
	}
	return g
}

// sortedPoints orders points by household id so output is independent of
// update history.
func sortedPoints(members map[string]geometry.Point) []geometry.Point {
	ids := slices.Sorted(maps.Keys(members))
	out := make([]geometry.Point, 0, len(ids))
	for _, id := range ids {
		out = append(out, members[id])
	}
	return out
}
