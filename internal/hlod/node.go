// Package hlod streams hierarchical level-of-detail trees: every node of a
// spatial tree decides each frame whether to show its high detail objects,
// its low detail objects or nothing, and loads and releases those objects
// so that no frame ever shows a gap or a double draw.
package hlod

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-hlod/pkg/math"
)

// State is the residency state of a node.
type State int

const (
	// StateRelease holds nothing.
	StateRelease State = iota
	// StateLow shows the node's reduced detail objects.
	StateLow
	// StateHigh shows the node's full detail objects, with its children
	// resident beneath it.
	StateHigh
)

func (s State) String() string {
	switch s {
	case StateRelease:
		return "release"
	case StateLow:
		return "low"
	case StateHigh:
		return "high"
	default:
		return "unknown"
	}
}

// maxSettleIterations bounds the transitions one node may commit in a
// single update (Release -> Low -> High plus slack).
const maxSettleIterations = 8

type objectKind int

const (
	kindHigh objectKind = iota
	kindLow
)

func (k objectKind) String() string {
	if k == kindHigh {
		return "high"
	}
	return "low"
}

// loadBatch is one round of requests made when a state became the target.
// It dies when that state is committed or abandoned; completions for a
// dead batch are stale.
type loadBatch struct {
	kind      objectKind
	epoch     uint64
	ctx       context.Context
	cancel    context.CancelFunc
	requested map[int]struct{}
	loaded    map[int]Object
}

func (b *loadBatch) complete() bool {
	return len(b.loaded) == len(b.requested)
}

// Node is one region of a spatial tree and the unit of LOD state.
type Node struct {
	id        NodeID
	container *Container
	tree      *Tree
	parent    *Node

	level    int
	bounds   math.Bounds
	children []NodeID
	highIDs  []int
	lowIDs   []int

	fsm      *FSM[State]
	expected State
	culled   bool

	radiusSq float32
	distance float32

	visible            bool
	visibleInHierarchy bool

	// Committed objects, shown according to visibleInHierarchy
	high map[int]Object
	low  map[int]Object

	pendingHigh *loadBatch
	pendingLow  *loadBatch
	epoch       uint64

	pendingFrames int
	stallReported bool
}

// NewNode creates a detached node. Add it to a Container to give it an id.
func NewNode(level int, bounds math.Bounds, highIDs, lowIDs []int) *Node {
	return &Node{
		level:              level,
		bounds:             bounds,
		highIDs:            slices.Clone(highIDs),
		lowIDs:             slices.Clone(lowIDs),
		fsm:                NewFSM(StateRelease),
		expected:           StateRelease,
		visible:            true,
		visibleInHierarchy: true,
		high:               make(map[int]Object),
		low:                make(map[int]Object),
	}
}

// ID returns the node's container id.
func (n *Node) ID() NodeID { return n.id }

// Level returns the depth tier of the node.
func (n *Node) Level() int { return n.level }

// Bounds returns the node's volume in tree space.
func (n *Node) Bounds() math.Bounds { return n.bounds }

// HighObjectIDs returns the ids of the node's full detail objects.
func (n *Node) HighObjectIDs() []int { return slices.Clone(n.highIDs) }

// LowObjectIDs returns the ids of the node's reduced detail objects.
func (n *Node) LowObjectIDs() []int { return slices.Clone(n.lowIDs) }

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// ChildCount returns the number of children.
func (n *Node) ChildCount() int { return len(n.children) }

// Child returns the i-th child.
func (n *Node) Child(i int) *Node { return n.container.mustGet(n.children[i]) }

// State returns the committed state.
func (n *Node) State() State { return n.fsm.Current() }

// TargetState returns the state the node is transitioning to.
func (n *Node) TargetState() State { return n.fsm.Target() }

// ExpectedState returns the state the last update wanted.
func (n *Node) ExpectedState() State { return n.expected }

// IsVisible returns the node's own visibility flag.
func (n *Node) IsVisible() bool { return n.visible }

// IsVisibleInHierarchy reports whether the node and all its ancestors are
// visible.
func (n *Node) IsVisibleInHierarchy() bool { return n.visibleInHierarchy }

// Distance returns the last computed distance metric: squared camera
// distance minus the squared ground radius of the bounds.
func (n *Node) Distance() float32 { return n.distance }

// ActiveHighCount returns the number of committed high detail objects.
func (n *Node) ActiveHighCount() int { return len(n.high) }

// ActiveLowCount returns the number of committed low detail objects.
func (n *Node) ActiveLowCount() int { return len(n.low) }

func (n *Node) eachChild(fn func(*Node)) {
	for _, id := range n.children {
		fn(n.container.mustGet(id))
	}
}

func (n *Node) unlinkChild(id NodeID) {
	if i := slices.Index(n.children, id); i >= 0 {
		n.children = slices.Delete(n.children, i, i+1)
	}
}

// init wires the subtree to t and installs the state hooks.
func (n *Node) init(t *Tree, parent *Node) {
	n.tree = t
	n.parent = parent
	n.radiusSq = n.bounds.GroundRadiusSquared()
	n.visible = true
	n.visibleInHierarchy = true

	n.fsm = NewFSM(StateRelease)
	n.fsm.On(StateRelease, Hooks{
		IsReady: n.isReadyToEnterRelease,
		Entered: n.committed(StateRelease, n.onEnteredRelease),
	})
	n.fsm.On(StateLow, Hooks{
		Entering:  n.onEnteringLow,
		IsReady:   n.isReadyToEnterLow,
		Entered:   n.committed(StateLow, n.onEnteredLow),
		Exited:    n.onExitedLow,
		Abandoned: func() { n.dropBatch(&n.pendingLow) },
	})
	n.fsm.On(StateHigh, Hooks{
		Entering:  n.onEnteringHigh,
		IsReady:   n.isReadyToEnterHigh,
		Entered:   n.committed(StateHigh, n.onEnteredHigh),
		Exited:    n.onExitedHigh,
		Abandoned: func() { n.dropBatch(&n.pendingHigh) },
	})

	n.eachChild(func(c *Node) { c.init(t, n) })
}

func (n *Node) committed(s State, fn func()) func() {
	return func() {
		n.tree.metrics.commit(n.tree.name, s)
		n.tree.log.Debug("node committed",
			zap.Stringer("node", n.id),
			zap.Int("level", n.level),
			zap.Stringer("state", s),
		)
		fn()
	}
}

// release commits Release at once; Entered Release carries it down the
// whole subtree in the same call.
func (n *Node) release() {
	n.fsm.Force(StateRelease)
}

// Cull releases the tree when culled is true and restarts it at low detail
// once it is not. It is meant for the root; the tree calls it every frame.
func (n *Node) Cull(culled bool) {
	n.culled = culled
	if culled {
		n.fsm.Request(StateRelease)
		return
	}
	if n.fsm.Target() == StateRelease {
		n.fsm.Request(StateLow)
	}
}

// Release

func (n *Node) isReadyToEnterRelease() bool {
	// A child must not vanish from under a parent that is showing high
	// detail and relies on it.
	return n.parent == nil || n.parent.fsm.Current() != StateHigh
}

func (n *Node) onEnteredRelease() {
	n.eachChild(func(c *Node) {
		c.visible = false
		c.release()
	})
}

// Low

func (n *Node) onEnteringLow() {
	n.pendingLow = n.newBatch(kindLow)
	n.issue(n.pendingLow, n.lowIDs, n.low)
}

func (n *Node) isReadyToEnterLow() bool {
	return n.pendingLow == nil || n.pendingLow.complete()
}

func (n *Node) onEnteredLow() {
	n.promote(&n.pendingLow, n.low)
	n.eachChild(func(c *Node) { c.release() })
}

func (n *Node) onExitedLow() {
	n.releaseAll(kindLow, n.low)
}

// High

func (n *Node) onEnteringHigh() {
	// Children must have low detail resident before this node can drop its
	// own low objects; keep them hidden until then.
	n.eachChild(func(c *Node) {
		c.visible = false
		c.fsm.Request(StateLow)
	})
	n.pendingHigh = n.newBatch(kindHigh)
	n.issue(n.pendingHigh, n.highIDs, n.high)
}

func (n *Node) isReadyToEnterHigh() bool {
	if n.pendingHigh != nil && !n.pendingHigh.complete() {
		return false
	}
	for _, id := range n.children {
		if n.container.mustGet(id).fsm.Current() == StateRelease {
			return false
		}
	}
	return true
}

func (n *Node) onEnteredHigh() {
	n.eachChild(func(c *Node) { c.visible = true })
	n.promote(&n.pendingHigh, n.high)
}

func (n *Node) onExitedHigh() {
	n.releaseAll(kindHigh, n.high)
	n.eachChild(func(c *Node) {
		c.release()
		c.visible = false
	})
}

// Loading

func (n *Node) newBatch(kind objectKind) *loadBatch {
	n.epoch++
	ctx, cancel := context.WithCancel(n.tree.ctx)
	return &loadBatch{
		kind:      kind,
		epoch:     n.epoch,
		ctx:       ctx,
		cancel:    cancel,
		requested: make(map[int]struct{}),
		loaded:    make(map[int]Object),
	}
}

// issue requests every id not already committed. The batch must already be
// installed as pending: synchronous controllers complete inside the call.
func (n *Node) issue(b *loadBatch, ids []int, active map[int]Object) {
	rc := n.tree.controller
	for _, id := range ids {
		if _, ok := active[id]; ok {
			continue
		}
		if _, ok := b.requested[id]; ok {
			continue
		}
		b.requested[id] = struct{}{}
		n.tree.metrics.loadRequested(n.tree.name, b.kind)

		req := LoadRequest{ID: id, Level: n.level, Distance: n.distance}
		if b.kind == kindHigh {
			rc.GetHighObject(b.ctx, req, n.completion(b, id))
		} else {
			rc.GetLowObject(b.ctx, req, n.completion(b, id))
		}
	}
}

func (n *Node) completion(b *loadBatch, id int) func(Object) {
	return func(o Object) {
		if o == nil {
			n.tree.log.Warn("controller delivered nil object",
				zap.Stringer("node", n.id),
				zap.Stringer("kind", b.kind),
				zap.Int("id", id),
			)
			return
		}
		if n.pendingBatch(b.kind) != b {
			n.dropStale(b, id, o)
			return
		}
		o.SetActive(false)
		b.loaded[id] = o
	}
}

func (n *Node) pendingBatch(kind objectKind) *loadBatch {
	if kind == kindHigh {
		return n.pendingHigh
	}
	return n.pendingLow
}

// holds reports whether id is committed or requested by the live batch.
func (n *Node) holds(kind objectKind, id int) bool {
	active := n.low
	if kind == kindHigh {
		active = n.high
	}
	if _, ok := active[id]; ok {
		return true
	}
	if b := n.pendingBatch(kind); b != nil {
		if _, ok := b.requested[id]; ok {
			return true
		}
	}
	return false
}

// dropStale discards a completion that arrived after its batch died. The
// object goes back to the controller unless the node currently uses the
// same id, in which case the live copy must stay untouched.
func (n *Node) dropStale(b *loadBatch, id int, o Object) {
	n.tree.metrics.staleCompletion(n.tree.name, b.kind)
	n.tree.log.Debug("dropping stale load completion",
		zap.Stringer("node", n.id),
		zap.Stringer("kind", b.kind),
		zap.Int("id", id),
		zap.Uint64("epoch", b.epoch),
	)
	if n.holds(b.kind, id) {
		return
	}
	o.SetActive(false)
	n.releaseObject(b.kind, id)
}

// dropBatch kills the batch in *slot and hands back what it had loaded.
func (n *Node) dropBatch(slot **loadBatch) {
	b := *slot
	if b == nil {
		return
	}
	*slot = nil
	b.cancel()
	for id, o := range b.loaded {
		if n.holds(b.kind, id) {
			continue
		}
		o.SetActive(false)
		n.releaseObject(b.kind, id)
	}
}

// promote commits the batch in *slot into active.
func (n *Node) promote(slot **loadBatch, active map[int]Object) {
	b := *slot
	if b == nil {
		return
	}
	*slot = nil
	b.cancel()
	for id, o := range b.loaded {
		active[id] = o
	}
}

func (n *Node) releaseAll(kind objectKind, active map[int]Object) {
	for id, o := range active {
		o.SetActive(false)
		n.releaseObject(kind, id)
	}
	clear(active)
}

func (n *Node) releaseObject(kind objectKind, id int) {
	n.tree.metrics.released(n.tree.name, kind)
	if kind == kindHigh {
		n.tree.controller.ReleaseHighObject(id)
	} else {
		n.tree.controller.ReleaseLowObject(id)
	}
}

// Update advances this node and its subtree by one frame.
//
// The expected state is clamped top-down before the node's own machine
// resolves, so a parent's decision is always visible to its children in
// the same pass.
func (n *Node) Update(lodDistance float32) {
	space := n.tree.space
	n.distance = space.DistanceSquared(n.bounds) - n.radiusSq
	n.expected = n.desiredState(lodDistance)

	// Keep steering while commits happen so instant transitions (objects
	// already cached) settle within the frame.
	for i := 0; i < maxSettleIterations; i++ {
		before := n.fsm.Current()
		n.steer()
		n.fsm.Tick()
		if n.fsm.Current() == before {
			break
		}
	}

	n.trackPending()
	n.updateVisible()
	n.tree.stats.count(n)

	n.eachChild(func(c *Node) { c.Update(lodDistance) })
}

func (n *Node) desiredState(lodDistance float32) State {
	if n.culled {
		return StateRelease
	}
	want := StateLow
	if n.tree.space.IsHigh(lodDistance, n.bounds) {
		want = StateHigh
	}
	if n.parent != nil && n.parent.expected != StateHigh {
		// Detail never runs ahead of an ancestor that is collapsing.
		want = StateRelease
	}
	return want
}

func (n *Node) steer() {
	// Only the parent (or Cull on a root) brings a node out of Release. A
	// node still holding Low or High while it waits to release steers as
	// usual, so a parent that stays high can take the release back.
	if n.fsm.Current() == StateRelease && n.fsm.Target() == StateRelease {
		return
	}
	switch n.expected {
	case StateHigh:
		switch n.fsm.Current() {
		case StateLow:
			// Invisible means the parent loaded us but is not showing us
			// yet; going high now would load detail nobody sees.
			if n.visible {
				n.fsm.Request(StateHigh)
			}
		case StateHigh:
			n.fsm.Request(StateHigh)
		}
	case StateLow:
		n.fsm.Request(StateLow)
	default:
		n.fsm.Request(StateRelease)
	}
}

func (n *Node) trackPending() {
	if !n.fsm.Pending() {
		n.pendingFrames = 0
		n.stallReported = false
		return
	}
	n.pendingFrames++
	if n.pendingFrames >= n.tree.stallFrames && !n.stallReported {
		n.stallReported = true
		n.tree.reportStall(n.stall())
	}
}

func (n *Node) stall() *StalledTransitionError {
	return &StalledTransitionError{
		Node:   n.id,
		Level:  n.level,
		From:   n.fsm.Current(),
		To:     n.fsm.Target(),
		Frames: n.pendingFrames,
	}
}

func (n *Node) updateVisible() {
	n.visibleInHierarchy = n.visible
	if n.parent != nil {
		n.visibleInHierarchy = n.visible && n.parent.visibleInHierarchy
	}
	for _, o := range n.high {
		o.SetActive(n.visibleInHierarchy)
	}
	for _, o := range n.low {
		o.SetActive(n.visibleInHierarchy)
	}
}

// IsLoadDone reports whether the node has no pending transition and every
// object its committed state needs is resident, recursively for children
// of a high node. A root that is released is never done.
func (n *Node) IsLoadDone() bool {
	if n.parent == nil && n.fsm.Current() == StateRelease {
		return false
	}
	if n.fsm.Pending() {
		return false
	}
	switch n.fsm.Current() {
	case StateHigh:
		for _, id := range n.children {
			if !n.container.mustGet(id).IsLoadDone() {
				return false
			}
		}
		return len(n.high) == countUnique(n.highIDs)
	case StateLow:
		return len(n.low) == countUnique(n.lowIDs)
	}
	return true
}

// ReadyNodeCount returns how many nodes of the subtree could commit their
// target state now.
func (n *Node) ReadyNodeCount() int {
	count := 0
	n.eachChild(func(c *Node) { count += c.ReadyNodeCount() })

	switch n.fsm.Target() {
	case StateRelease:
		count++
	case StateLow:
		if n.isReadyToEnterLow() {
			count++
		}
	case StateHigh:
		if n.isReadyToEnterHigh() {
			count++
		}
	}
	return count
}

func countUnique(ids []int) int {
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}
