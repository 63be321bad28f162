package hlod

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "release", StateRelease.String())
	assert.Equal(t, "low", StateLow.String())
	assert.Equal(t, "high", StateHigh.String())
	assert.Equal(t, "unknown", State(7).String())
}

func TestFarRootSettlesLow(t *testing.T) {
	f := newChainFixture(t, nil, newFakeSpace())
	f.frame()

	root := f.root()
	assert.Equal(t, StateLow, root.State())
	assert.Equal(t, StateLow, root.TargetState())
	assert.Equal(t, 1, root.ActiveLowCount())
	assert.Zero(t, root.ActiveHighCount())
	assert.True(t, f.ctrl.low[0].active)
	assert.True(t, f.tree.IsLoadDone())
	assert.NoError(t, f.tree.Validate())
}

func TestNearRootWithoutChildrenSettlesHigh(t *testing.T) {
	f := newChainFixture(t, nil, newFakeSpace(0))
	f.frame()

	root := f.root()
	assert.Equal(t, StateHigh, root.State())
	assert.Equal(t, 1, root.ActiveHighCount())
	assert.Zero(t, root.ActiveLowCount())
	assert.True(t, f.ctrl.high[0].active)
	assert.False(t, f.ctrl.low[0].active)
	assert.Equal(t, []int{0}, f.ctrl.releasedLow)
	assert.True(t, f.tree.IsLoadDone())
}

func TestParentWaitsForChildLowBeforeHigh(t *testing.T) {
	ctrl := newFakeController(2, 2)
	ctrl.deferred = true
	f := newChainFixture(t, ctrl, newFakeSpace(0), 1)
	root, child := f.nodes[0], f.nodes[1]

	f.frame()
	assert.Equal(t, StateRelease, root.State())
	assert.Equal(t, StateLow, root.TargetState())
	assert.Equal(t, StateRelease, child.State())

	f.frame()
	assert.Equal(t, StateLow, root.State())
	assert.Equal(t, StateHigh, root.TargetState())
	assert.Equal(t, StateLow, child.TargetState(), "child is driven to low first")
	assert.False(t, child.IsVisible())

	// Child low arrives this frame; the root was updated before the child
	// committed, so it keeps showing low detail for one more frame.
	f.frame()
	assert.Equal(t, StateLow, child.State())
	assert.Equal(t, StateLow, root.State())
	assert.True(t, ctrl.low[0].active)
	assert.False(t, ctrl.low[1].active, "child stays hidden until the parent commits high")

	f.frame()
	assert.Equal(t, StateHigh, root.State())
	assert.Equal(t, StateLow, child.State())
	assert.True(t, child.IsVisible())
	assert.True(t, ctrl.high[0].active)
	assert.True(t, ctrl.low[1].active)
	assert.False(t, ctrl.low[0].active)
	assert.True(t, f.tree.IsLoadDone())
	assert.NoError(t, f.tree.Validate())
}

func TestCulledRootReleasesSubtreeInSamePass(t *testing.T) {
	space := newFakeSpace(0)
	f := newChainFixture(t, nil, space, 1)
	root, child := f.nodes[0], f.nodes[1]

	f.frames(3)
	require.Equal(t, StateHigh, root.State())
	require.Equal(t, StateLow, child.State())

	space.cull = true
	f.frame()

	assert.Equal(t, StateRelease, root.State())
	assert.Equal(t, StateRelease, child.State())
	assert.Zero(t, root.ActiveHighCount())
	assert.Zero(t, child.ActiveLowCount())
	assert.Contains(t, f.ctrl.releasedHigh, 0)
	assert.Contains(t, f.ctrl.releasedLow, 1)
	for _, o := range append(f.ctrl.high, f.ctrl.low...) {
		assert.False(t, o.active, "%s %d still shown", o.kind, o.id)
	}
	assert.False(t, f.tree.IsLoadDone(), "a released root is never done")
	assert.NoError(t, f.tree.Validate())

	space.cull = false
	f.frames(3)
	assert.Equal(t, StateHigh, root.State())
	assert.Equal(t, StateLow, child.State())
}

func TestCollapsingParentReleasesDescendants(t *testing.T) {
	space := newFakeSpace(0, 1)
	f := newChainFixture(t, nil, space, 1, 1)
	root, child, grandchild := f.nodes[0], f.nodes[1], f.nodes[2]

	f.frames(5)
	require.Equal(t, StateHigh, root.State())
	require.Equal(t, StateHigh, child.State())
	require.Equal(t, StateLow, grandchild.State())

	delete(space.highLevels, 0)
	f.frame()

	assert.Equal(t, StateLow, root.State())
	assert.Equal(t, StateRelease, child.State())
	assert.Equal(t, StateRelease, grandchild.State())
	assert.Equal(t, 1, root.ActiveLowCount())
	assert.True(t, f.ctrl.low[0].active)
	assert.False(t, f.ctrl.high[1].active)
	assert.False(t, f.ctrl.low[2].active)
	assert.NoError(t, f.tree.Validate())
}

func TestLateLowCompletionAfterReleaseIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	ctrl := newFakeController(1, 1)
	ctrl.deferred = true
	ctrl.manual = true
	space := newFakeSpace()
	c := NewContainer()
	rootID := c.Add(NewNode(0, levelBounds(0), []int{0}, []int{0}))
	tree, err := NewTree(c, rootID, ctrl, space, TreeOptions{Name: "late", Metrics: metrics})
	require.NoError(t, err)
	tree.Start()
	root := tree.Root()

	tree.UpdateCull(testView())
	require.Len(t, ctrl.queue, 1)
	ctx := ctrl.queue[0].ctx

	space.cull = true
	tree.UpdateCull(testView())
	require.Equal(t, StateRelease, root.State())
	assert.Error(t, ctx.Err(), "abandoned batch is cancelled")

	ctrl.deliver()
	assert.Zero(t, root.ActiveLowCount(), "late handle must not reach the active set")
	assert.Equal(t, []int{0}, ctrl.releasedLow)
	assert.False(t, ctrl.low[0].active)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.stale.WithLabelValues("late", "low")))

	tree.UpdateCull(testView())
	assert.Zero(t, root.ActiveLowCount())
}

func TestStaleCompletionLeavesReRequestedObjectAlone(t *testing.T) {
	ctrl := newFakeController(1, 1)
	ctrl.deferred = true
	ctrl.manual = true
	space := newFakeSpace()
	f := newChainFixture(t, ctrl, space)
	root := f.root()

	f.frame()
	space.cull = true
	f.frame()
	space.cull = false
	f.frame()
	require.Len(t, ctrl.queue, 2, "old and new request for the same id")

	ctrl.deliver()
	assert.Empty(t, ctrl.releasedLow, "the id is wanted again")

	f.frame()
	assert.Equal(t, StateLow, root.State())
	assert.Equal(t, 1, root.ActiveLowCount())
	assert.True(t, ctrl.low[0].active)
}

func TestExpectedHighCancelsPendingDowngrade(t *testing.T) {
	ctrl := newFakeController(1, 1)
	space := newFakeSpace(0)
	f := newChainFixture(t, ctrl, space)
	root := f.root()

	f.frame()
	require.Equal(t, StateHigh, root.State())

	ctrl.deferred = true
	ctrl.manual = true
	delete(space.highLevels, 0)
	f.frame()
	require.Equal(t, StateLow, root.TargetState())
	require.Len(t, ctrl.queue, 1)
	ctx := ctrl.queue[0].ctx

	space.highLevels[0] = true
	f.frame()
	assert.Equal(t, StateHigh, root.State())
	assert.Equal(t, StateHigh, root.TargetState())
	assert.Error(t, ctx.Err())

	ctrl.deliver()
	assert.Zero(t, root.ActiveLowCount())
	assert.Equal(t, []int{0, 0}, ctrl.releasedLow, "initial low swap plus the stale downgrade")
	assert.True(t, ctrl.high[0].active)
}

func TestCancelledDowngradeKeepsChildren(t *testing.T) {
	space := newFakeSpace(0)
	f := newChainFixture(t, nil, space, 1)
	root, child := f.nodes[0], f.nodes[1]
	ctrl := f.ctrl

	f.frames(3)
	require.Equal(t, StateHigh, root.State())
	require.Equal(t, StateLow, child.State())
	require.True(t, f.tree.IsLoadDone())

	ctrl.deferred = true
	ctrl.manual = true
	delete(space.highLevels, 0)
	f.frame()
	require.Equal(t, StateLow, root.TargetState())
	require.Equal(t, StateLow, child.State())
	require.Equal(t, StateRelease, child.TargetState(), "child cannot leave while the root shows high")

	space.highLevels[0] = true
	f.frame()
	assert.Equal(t, StateHigh, root.State())
	assert.Equal(t, StateHigh, root.TargetState())
	assert.Equal(t, StateLow, child.State())
	assert.Equal(t, StateLow, child.TargetState(), "release is taken back with the downgrade")

	ctrl.deliver()
	f.frames(3)
	assert.True(t, f.tree.IsLoadDone())
	assert.Empty(t, f.tree.Diagnostics())
	assert.NoError(t, f.tree.Validate())
	assert.NotContains(t, ctrl.releasedLow, 1)
	assert.True(t, ctrl.low[1].active)

	ctrl.manual = false
	space.highLevels[1] = true
	f.frames(4)
	assert.Equal(t, StateHigh, child.State())
	assert.True(t, f.tree.IsLoadDone())
}

func TestConvergesAfterFlickeringDistance(t *testing.T) {
	tests := []struct {
		name   string
		steps  [][]int
		final  []int
		counts [3]int // release, low, high
	}{
		{
			name:   "root toggles",
			steps:  [][]int{{0}, {0}, {}, {0}, {}, {0}},
			final:  []int{0},
			counts: [3]int{4, 2, 1},
		},
		{
			name:   "both levels toggle",
			steps:  [][]int{{0, 1}, {0, 1}, {0}, {0, 1}, {}, {0, 1}, {0}},
			final:  []int{0, 1},
			counts: [3]int{0, 4, 3},
		},
		{
			name:   "alternate every frame",
			steps:  [][]int{{0, 1}, {}, {0, 1}, {}, {0, 1}, {}, {0, 1}, {}, {0, 1}, {}},
			final:  []int{0, 1},
			counts: [3]int{0, 4, 3},
		},
		{
			name:   "settle then collapse",
			steps:  [][]int{{0, 1}, {0, 1}, {0, 1}, {0, 1}, {0}, {0, 1}, {0}},
			final:  []int{},
			counts: [3]int{6, 1, 0},
		},
	}

	setHigh := func(s *fakeSpace, levels []int) {
		s.highLevels = make(map[int]bool)
		for _, l := range levels {
			s.highLevels[l] = true
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController(7, 7)
			ctrl.deferred = true
			space := newFakeSpace()
			f := newChainFixture(t, ctrl, space, 2, 2)

			for i, levels := range tt.steps {
				setHigh(space, levels)
				f.frame()
				require.NoError(t, f.tree.Validate(), "step %d", i)
			}

			setHigh(space, tt.final)
			settled := -1
			for i := 0; i < 20; i++ {
				f.frame()
				require.NoError(t, f.tree.Validate(), "settle frame %d", i)
				if f.tree.IsLoadDone() {
					settled = i
					break
				}
			}
			require.GreaterOrEqual(t, settled, 0, "tree never settled")
			assert.Empty(t, f.tree.Diagnostics())
			assert.Equal(t, tt.counts[0], f.tree.StateCount(StateRelease))
			assert.Equal(t, tt.counts[1], f.tree.StateCount(StateLow))
			assert.Equal(t, tt.counts[2], f.tree.StateCount(StateHigh))
		})
	}
}

func TestVisibilityContainedByParent(t *testing.T) {
	ctrl := newFakeController(7, 7)
	ctrl.deferred = true
	space := newFakeSpace(0, 1)
	f := newChainFixture(t, ctrl, space, 2, 2)

	for i := 0; i < 12; i++ {
		f.frame()
		require.NoError(t, f.tree.Validate(), "frame %d", i)
		for _, n := range f.nodes {
			if p := n.Parent(); p != nil && !p.IsVisibleInHierarchy() {
				assert.False(t, n.IsVisibleInHierarchy())
			}
		}
	}
	assert.True(t, f.tree.IsLoadDone())
}

func TestConvergesUnderStableCamera(t *testing.T) {
	space := newFakeSpace(0, 1)
	f := newChainFixture(t, nil, space, 4, 4)

	settled := -1
	for i := 0; i < 10; i++ {
		f.frame()
		if f.tree.IsLoadDone() {
			settled = i
			break
		}
	}
	require.GreaterOrEqual(t, settled, 0)

	snapshot := make([]State, len(f.nodes))
	for i, n := range f.nodes {
		snapshot[i] = n.State()
	}
	f.frames(5)
	for i, n := range f.nodes {
		assert.Equal(t, snapshot[i], n.State())
	}
	assert.Equal(t, 5, f.tree.StateCount(StateHigh))
	assert.Equal(t, 16, f.tree.StateCount(StateLow))
	assert.Zero(t, f.tree.StateCount(StateRelease))
}

func TestReadyNodeCount(t *testing.T) {
	ctrl := newFakeController(3, 3)
	ctrl.deferred = true
	ctrl.manual = true
	f := newChainFixture(t, ctrl, newFakeSpace(0), 2)

	f.frame()
	ready, total := f.tree.LoadProgress()
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, ready, "root waits for its low object, released children count as ready")

	ctrl.deliver()
	ready, _ = f.tree.LoadProgress()
	assert.Equal(t, 3, ready)
}

func TestStalledTransitionReportedOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	ctrl := newFakeController(1, 1)
	ctrl.deferred = true
	ctrl.manual = true
	c := NewContainer()
	rootID := c.Add(NewNode(0, levelBounds(0), []int{0}, []int{0}))
	tree, err := NewTree(c, rootID, ctrl, newFakeSpace(), TreeOptions{
		Name:        "stall",
		StallFrames: 3,
		Metrics:     metrics,
	})
	require.NoError(t, err)
	tree.Start()

	tree.UpdateCull(testView())
	tree.UpdateCull(testView())
	assert.Empty(t, tree.Diagnostics())

	for i := 0; i < 5; i++ {
		tree.UpdateCull(testView())
	}
	diags := tree.Diagnostics()
	require.Len(t, diags, 1)
	assert.True(t, errors.Is(diags[0], ErrStalledTransition))

	var stall *StalledTransitionError
	require.ErrorAs(t, diags[0], &stall)
	assert.Equal(t, StateRelease, stall.From)
	assert.Equal(t, StateLow, stall.To)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.stalls.WithLabelValues("stall")))

	ctrl.deliver()
	tree.UpdateCull(testView())
	assert.Empty(t, tree.Diagnostics())
}

func TestReleasedRootIsNotLoadDone(t *testing.T) {
	f := newChainFixture(t, nil, newFakeSpace())
	assert.False(t, f.root().IsLoadDone())
}

func TestDuplicateObjectIDsRequestedOnce(t *testing.T) {
	ctrl := newFakeController(1, 1)
	c := NewContainer()
	rootID := c.Add(NewNode(0, levelBounds(0), []int{0, 0}, []int{0, 0}))
	tree, err := NewTree(c, rootID, ctrl, newFakeSpace(), TreeOptions{})
	require.NoError(t, err)
	tree.Start()

	tree.UpdateCull(testView())
	assert.Equal(t, []int{0}, ctrl.requestedLow)
	assert.True(t, tree.IsLoadDone())
}
