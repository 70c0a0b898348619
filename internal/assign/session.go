// Package assign implements the interactive assignment workflow: a selection
// mode is entered, households or clusters are picked, and Apply turns the
// selection into store operations.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
)

type Mode int

const (
	ModeIdle Mode = iota
	ModeCreatingRegion
	ModeCreatingCluster
	ModeSelectingHouseholds
	ModeSelectingClusters
)

func (m Mode) String() string {
	switch m {
	case ModeCreatingRegion:
		return "creating-region"
	case ModeCreatingCluster:
		return "creating-cluster"
	case ModeSelectingHouseholds:
		return "selecting-households"
	case ModeSelectingClusters:
		return "selecting-clusters"
	}
	return "idle"
}

var (
	ErrNoActiveMode    = errors.New("no selection mode active")
	ErrNothingSelected = errors.New("no households selected")
)

// directory is the subset of state.Store a Session requires.
type directory interface {
	AssignNewRegion(name string, ids []string) (*domain.ClusterGroup, int, error)
	CreateCluster(regionName string) (*domain.ClusterGroup, error)
	BulkAssign(ids []string, regionName string, clusterID int) (int, error)
	ReassignClusterToRegion(oldRegion string, clusterID int, newRegion string) (*domain.ClusterGroup, error)
	Household(id string) *domain.Household
	Households() []*domain.Household
	ClusterGroups() []*domain.ClusterGroup
}

// Committer is notified after a selection has been applied.
type Committer interface {
	RefreshBoundaries()
	Save(ctx context.Context) error
}

// Result describes what Apply changed.
type Result struct {
	Mode       Mode                   `json:"-"`
	RegionName string                 `json:"regionName,omitempty"`
	ClusterID  int                    `json:"clusterId,omitempty"`
	Assigned   int                    `json:"assigned"`
	Clusters   []*domain.ClusterGroup `json:"clusters,omitempty"`
}

type Session struct {
	mu        sync.Mutex
	dir       directory
	committer Committer
	logger    *slog.Logger

	mode       Mode
	regionName string
	clusterID  int
	selected   map[string]struct{}
}

func NewSession(dir directory, committer Committer, logger *slog.Logger) *Session {
	return &Session{
		dir:       dir,
		committer: committer,
		logger:    logger,
		selected:  make(map[string]struct{}),
	}
}

// StartCreateRegion selects households for a new region. A blank name lets
// the store pick "Region N".
func (s *Session) StartCreateRegion(name string) {
	s.enter(ModeCreatingRegion, strings.TrimSpace(name), 0)
}

// StartCreateCluster selects households for a new cluster in regionName, or
// a new independent cluster when regionName is empty.
func (s *Session) StartCreateCluster(regionName string) {
	s.enter(ModeCreatingCluster, strings.TrimSpace(regionName), 0)
}

// StartSelectHouseholds selects households to move into an existing region
// and cluster.
func (s *Session) StartSelectHouseholds(regionName string, clusterID int) {
	s.enter(ModeSelectingHouseholds, strings.TrimSpace(regionName), clusterID)
}

// StartSelectClusters selects whole clusters to move into targetRegion.
func (s *Session) StartSelectClusters(targetRegion string) {
	s.enter(ModeSelectingClusters, strings.TrimSpace(targetRegion), 0)
}

func (s *Session) enter(mode Mode, regionName string, clusterID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.regionName = regionName
	s.clusterID = clusterID
	s.selected = make(map[string]struct{})
	s.logger.Debug("selection mode entered", "mode", mode, "region", regionName, "cluster_id", clusterID)
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Selection returns the selected household ids, or cluster keys when
// selecting clusters, in sorted order.
func (s *Session) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.selected))
}

// Toggle flips one household id, or one cluster key in cluster mode, and
// reports whether it is now selected.
func (s *Session) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeIdle {
		return false, ErrNoActiveMode
	}
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		return false, nil
	}

	if s.mode == ModeSelectingClusters {
		if s.groupByKey(id) == nil {
			return false, &domain.NotFoundError{Kind: "cluster", ID: id}
		}
	} else if s.dir.Household(id) == nil {
		return false, &domain.NotFoundError{Kind: "household", ID: id}
	}
	s.selected[id] = struct{}{}
	return true, nil
}

// SelectWithin adds everything inside bound to the selection and returns the
// number of new entries. In cluster mode a cluster is added when any of its
// members falls inside.
func (s *Session) SelectWithin(bound orb.Bound) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	add := func(id string) {
		if _, ok := s.selected[id]; !ok {
			s.selected[id] = struct{}{}
			added++
		}
	}

	switch s.mode {
	case ModeIdle:
		return 0, ErrNoActiveMode
	case ModeSelectingClusters:
		for _, g := range s.dir.ClusterGroups() {
			if slices.ContainsFunc(g.Points, func(p geometry.Point) bool { return bound.Contains(p.Orb()) }) {
				add(g.Key().String())
			}
		}
	default:
		for _, h := range s.dir.Households() {
			if bound.Contains(h.Point().Orb()) {
				add(h.ID)
			}
		}
	}
	return added, nil
}

// Cancel discards the selection and returns to idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeIdle {
		s.logger.Debug("selection cancelled", "mode", s.mode, "selected", len(s.selected))
	}
	s.reset()
}

func (s *Session) reset() {
	s.mode = ModeIdle
	s.regionName = ""
	s.clusterID = 0
	s.selected = make(map[string]struct{})
}

// Apply commits the selection. On error the mode and selection are kept so
// the user can adjust and retry.
func (s *Session) Apply(ctx context.Context) (*Result, error) {
	s.mu.Lock()

	if s.mode == ModeIdle {
		s.mu.Unlock()
		return nil, ErrNoActiveMode
	}
	if len(s.selected) == 0 {
		s.mu.Unlock()
		return nil, ErrNothingSelected
	}

	ids := slices.Sorted(maps.Keys(s.selected))
	var (
		res *Result
		err error
	)
	switch s.mode {
	case ModeCreatingRegion:
		res, err = s.applyCreateRegion(ids)
	case ModeCreatingCluster:
		res, err = s.applyCreateCluster(ids)
	case ModeSelectingHouseholds:
		res, err = s.applyAssign(ids, s.regionName, s.clusterID)
	case ModeSelectingClusters:
		res, err = s.applyReassign(ids)
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("apply selection failed", "mode", s.mode, "error", err)
		return nil, err
	}
	res.Mode = s.mode
	s.reset()
	s.mu.Unlock()

	s.logger.Info("selection applied",
		"mode", res.Mode,
		"region", res.RegionName,
		"cluster_id", res.ClusterID,
		"assigned", res.Assigned,
	)

	if s.committer != nil {
		s.committer.RefreshBoundaries()
		if err := s.committer.Save(ctx); err != nil {
			s.logger.Error("failed to save after apply", "error", err)
		}
	}
	return res, nil
}

func (s *Session) applyCreateRegion(ids []string) (*Result, error) {
	g, n, err := s.dir.AssignNewRegion(s.regionName, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create region: %w", err)
	}
	return &Result{RegionName: g.RegionName, ClusterID: g.ClusterID, Assigned: n}, nil
}

func (s *Session) applyCreateCluster(ids []string) (*Result, error) {
	if s.clusterID == 0 {
		g, err := s.dir.CreateCluster(s.regionName)
		if err != nil {
			return nil, fmt.Errorf("failed to create cluster: %w", err)
		}
		s.clusterID = g.ClusterID
	}
	return s.applyAssign(ids, s.regionName, s.clusterID)
}

func (s *Session) applyAssign(ids []string, regionName string, clusterID int) (*Result, error) {
	n, err := s.dir.BulkAssign(ids, regionName, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign households: %w", err)
	}
	return &Result{RegionName: regionName, ClusterID: clusterID, Assigned: n}, nil
}

func (s *Session) applyReassign(keys []string) (*Result, error) {
	groups := make([]*domain.ClusterGroup, 0, len(keys))
	for _, key := range keys {
		g := s.groupByKey(key)
		if g == nil {
			return nil, &domain.NotFoundError{Kind: "cluster", ID: key}
		}
		groups = append(groups, g)
	}

	res := &Result{RegionName: s.regionName}
	for _, g := range groups {
		moved, err := s.dir.ReassignClusterToRegion(g.RegionName, g.ClusterID, s.regionName)
		if err != nil {
			return nil, fmt.Errorf("failed to reassign cluster %s: %w", g.Key(), err)
		}
		// Clusters already moved stay moved; drop them so a retry skips them.
		delete(s.selected, g.Key().String())
		res.Assigned += g.Count
		res.Clusters = append(res.Clusters, moved)
	}
	return res, nil
}

func (s *Session) groupByKey(key string) *domain.ClusterGroup {
	for _, g := range s.dir.ClusterGroups() {
		if g.Key().String() == key {
			return g
		}
	}
	return nil
}
