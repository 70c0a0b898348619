package aggregate

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

func household(id, region string, cluster int) *domain.Household {
	return &domain.Household{
		ID:         id,
		Name:       "Household " + id,
		Lat:        40.3 + float64(len(id))*0.001,
		Lon:        -111.7 - float64(cluster)*0.001,
		RegionName: region,
		ClusterID:  cluster,
	}
}

func TestScenarioImportFiveHouseholds(t *testing.T) {
	a := New()
	for _, h := range []*domain.Household{
		household("h1", "Alpha", 1),
		household("h2", "Alpha", 1),
		household("h3", "Alpha", 1),
		household("h4", "", 1),
		household("h5", "", 0),
	} {
		a.OnHouseholdAdded(h)
	}

	regions := a.Regions()
	require.Len(t, regions, 1)
	assert.Equal(t, "Alpha", regions[0].Name)
	assert.Equal(t, 3, regions[0].Count)
	assert.Equal(t, []int{1}, regions[0].ClusterIDs)
	assert.Len(t, regions[0].Points, 3)

	groups := a.ClusterGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "Alpha", groups[0].RegionName)
	assert.Equal(t, 3, groups[0].Count)
	assert.Equal(t, regions[0].Color, groups[0].Color)

	independent := a.ClusterGroup("", 1)
	require.NotNil(t, independent)
	assert.True(t, independent.Independent())
	assert.Equal(t, 1, independent.Count)
	assert.Equal(t, domain.IndependentColor, independent.Color)
}

func TestRegionColorsFollowPalette(t *testing.T) {
	a := New()
	for i := range 12 {
		a.OnHouseholdAdded(household(fmt.Sprintf("h%d", i), fmt.Sprintf("R%02d", i), 1))
	}

	regions := a.Regions()
	require.Len(t, regions, 12)
	for i := range 10 {
		assert.Equal(t, domain.RegionPalette[i], regions[i].Color, "region %d", i)
		assert.Equal(t, i+1, regions[i].Index)
	}
	// All colors in use: fall back to the round-robin slot.
	assert.Equal(t, domain.RegionPalette[0], regions[10].Color)
	assert.Equal(t, domain.RegionPalette[1], regions[11].Color)
	for _, r := range regions {
		assert.NotEqual(t, domain.IndependentColor, r.Color)
	}
}

func TestRegionColorAvoidsCollision(t *testing.T) {
	a := New()
	var members []*domain.Household
	for i := range 10 {
		h := household(fmt.Sprintf("h%d", i), fmt.Sprintf("R%02d", i), 1)
		members = append(members, h)
		a.OnHouseholdAdded(h)
	}
	a.OnHouseholdRemoved(members[1])
	require.Nil(t, a.Region("R01"))

	// Index 11 starts at red, which R00 still holds; blue is free again.
	a.OnHouseholdAdded(household("h11", "Late", 1))
	late := a.Region("Late")
	assert.Equal(t, 11, late.Index)
	assert.Equal(t, domain.RegionPalette[1], late.Color)
}

func TestAssignmentChangeMaintainsClusterSet(t *testing.T) {
	a := New()
	h1 := household("h1", "Alpha", 1)
	h2 := household("h2", "Alpha", 2)
	a.OnHouseholdAdded(h1)
	a.OnHouseholdAdded(h2)
	assert.Equal(t, []int{1, 2}, a.Region("Alpha").ClusterIDs)

	h2.ClusterID = 1
	a.OnHouseholdAssignmentChanged(h2, "Alpha", 2, "Alpha", 1)
	assert.Equal(t, []int{1}, a.Region("Alpha").ClusterIDs)
	assert.Nil(t, a.ClusterGroup("Alpha", 2))
	assert.Equal(t, 2, a.ClusterGroup("Alpha", 1).Count)

	h1.RegionName, h1.ClusterID = "Beta", 1
	a.OnHouseholdAssignmentChanged(h1, "Alpha", 1, "Beta", 1)
	assert.Equal(t, 1, a.Region("Alpha").Count)
	assert.Equal(t, 1, a.Region("Beta").Count)
	assert.Equal(t, 1, a.ClusterGroup("Alpha", 1).Count)
}

func TestImplicitRegionDroppedWhenEmpty(t *testing.T) {
	a := New()
	h := household("h1", "Alpha", 1)
	a.OnHouseholdAdded(h)
	a.OnHouseholdRemoved(h)

	assert.Nil(t, a.Region("Alpha"))
	assert.Empty(t, a.ClusterGroups())
}

func TestExplicitRegionSurvivesEmpty(t *testing.T) {
	a := New()
	r, err := a.CreateRegion("Alpha")
	require.NoError(t, err)
	assert.True(t, r.Explicit)
	assert.Equal(t, 0, r.Count)
	assert.Equal(t, []int{}, r.ClusterIDs)

	_, err = a.CreateRegion("Alpha")
	assert.True(t, domain.IsConflict(err))

	h := household("h1", "Alpha", 1)
	a.OnHouseholdAdded(h)
	a.OnHouseholdRemoved(h)
	require.NotNil(t, a.Region("Alpha"))
	assert.Equal(t, 0, a.Region("Alpha").Count)

	a.RecomputeAll(nil)
	assert.NotNil(t, a.Region("Alpha"))
}

func TestOnHouseholdMoved(t *testing.T) {
	a := New()
	h := household("h1", "Alpha", 1)
	a.OnHouseholdAdded(h)

	h.Lat, h.Lon = 41, -112
	a.OnHouseholdMoved(h)

	assert.Equal(t, h.Point(), a.Region("Alpha").Points[0])
	assert.Equal(t, h.Point(), a.ClusterGroup("Alpha", 1).Points[0])
}

func TestNextIDs(t *testing.T) {
	a := New()
	assert.Equal(t, 1, a.NextClusterID("Alpha"))
	assert.Equal(t, 1, a.NextClusterID(""))
	assert.Equal(t, "Region 1", a.NextRegionName())

	a.OnHouseholdAdded(household("h1", "Alpha", 3))
	a.OnHouseholdAdded(household("h2", "Alpha", 1))
	a.OnHouseholdAdded(household("h3", "", 7))
	a.OnHouseholdAdded(household("h4", "Region 5", 1))

	assert.Equal(t, 4, a.NextClusterID("Alpha"))
	assert.Equal(t, 1, a.NextClusterID("Unknown"))
	assert.Equal(t, 8, a.NextClusterID(""))
	assert.Equal(t, "Region 6", a.NextRegionName())
}

func TestRenameRegionKeepsIdentity(t *testing.T) {
	a := New()
	a.OnHouseholdAdded(household("h1", "Alpha", 1))
	before := a.Region("Alpha")

	require.NoError(t, a.RenameRegion("Alpha", "Delta"))
	after := a.Region("Delta")
	require.NotNil(t, after)
	assert.Nil(t, a.Region("Alpha"))
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Color, after.Color)
	assert.Equal(t, "Delta", a.ClusterGroup("Delta", 1).RegionName)

	a.OnHouseholdAdded(household("h2", "Other", 1))
	assert.True(t, domain.IsConflict(a.RenameRegion("Delta", "Other")))
	assert.True(t, domain.IsNotFound(a.RenameRegion("Missing", "X")))

	byID := a.RegionByID(before.ID)
	require.NotNil(t, byID)
	assert.Equal(t, "Delta", byID.Name)
	assert.Nil(t, a.RegionByID("missing"))
}

func TestRewindRegionIndex(t *testing.T) {
	a := New()
	a.OnHouseholdAdded(household("h1", "Alpha", 1))
	mark := a.NextRegionIndex()
	first, err := a.CreateRegion("Beta")
	require.NoError(t, err)

	_, err = a.RemoveRegion("Beta")
	require.NoError(t, err)
	a.RewindRegionIndex(mark)
	assert.Equal(t, mark, a.NextRegionIndex())

	second, err := a.CreateRegion("Beta")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Color, second.Color)

	a.RewindRegionIndex(1)
	assert.Equal(t, second.Index+1, a.NextRegionIndex(), "never below a live index")
}

func TestRemoveAndRegisterRegion(t *testing.T) {
	a := New()
	h := household("h1", "Alpha", 1)
	a.OnHouseholdAdded(h)
	id, err := a.RemoveRegion("Alpha")
	require.NoError(t, err)
	assert.Empty(t, a.ClusterGroups())

	h.RegionName = ""
	a.RecomputeAll([]*domain.Household{h})
	assert.NotNil(t, a.ClusterGroup("", 1))

	h.RegionName = "Alpha"
	require.NoError(t, a.RegisterRegion(id))
	a.RecomputeAll([]*domain.Household{h})
	assert.Equal(t, id, a.Region("Alpha").Identity())
	assert.Nil(t, a.ClusterGroup("", 1))

	_, err = a.RemoveRegion("Missing")
	assert.True(t, domain.IsNotFound(err))
}

// TestRecomputeMatchesIncremental drives a random edit sequence and checks
// that a full rebuild reproduces the incremental state exactly.
func TestRecomputeMatchesIncremental(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*31))
			regions := []string{"", "Alpha", "Beta", "Gamma"}
			a := New()
			var live []*domain.Household

			for step := range 200 {
				switch op := rng.IntN(10); {
				case op < 4 || len(live) == 0:
					h := &domain.Household{
						ID:         fmt.Sprintf("h%03d", step),
						Lat:        40 + rng.Float64()*0.1,
						Lon:        -111 - rng.Float64()*0.1,
						RegionName: regions[rng.IntN(len(regions))],
						ClusterID:  rng.IntN(4),
					}
					live = append(live, h)
					a.OnHouseholdAdded(h)
				case op < 7:
					h := live[rng.IntN(len(live))]
					oldRegion, oldCluster := h.RegionName, h.ClusterID
					h.RegionName = regions[rng.IntN(len(regions))]
					h.ClusterID = rng.IntN(4)
					a.OnHouseholdAssignmentChanged(h, oldRegion, oldCluster, h.RegionName, h.ClusterID)
				case op < 8:
					h := live[rng.IntN(len(live))]
					h.Lat += 0.001
					a.OnHouseholdMoved(h)
				default:
					i := rng.IntN(len(live))
					a.OnHouseholdRemoved(live[i])
					live = append(live[:i], live[i+1:]...)
				}
			}

			wantRegions := a.Regions()
			wantGroups := a.ClusterGroups()
			a.RecomputeAll(live)
			assert.Equal(t, wantRegions, a.Regions())
			assert.Equal(t, wantGroups, a.ClusterGroups())

			a.RecomputeAll(live)
			assert.Equal(t, wantRegions, a.Regions(), "recompute is not idempotent")

			fresh := New()
			for _, h := range live {
				fresh.OnHouseholdAdded(h)
			}
			rebuilt := New()
			rebuilt.RecomputeAll(live)
			assert.Equal(t, fresh.Regions(), rebuilt.Regions())
			assert.Equal(t, fresh.ClusterGroups(), rebuilt.ClusterGroups())

			for _, r := range a.Regions() {
				want := map[int]bool{}
				for _, h := range live {
					if h.RegionName == r.Name && h.ClusterID > 0 {
						want[h.ClusterID] = true
					}
				}
				assert.Len(t, r.ClusterIDs, len(want), "cluster set of %s", r.Name)
				for _, id := range r.ClusterIDs {
					assert.True(t, want[id])
				}
			}
		})
	}
}
