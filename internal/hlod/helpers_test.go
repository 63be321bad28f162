package hlod

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-hlod/internal/camera"
	"github.com/Faultbox/midgard-hlod/pkg/math"
)

type fakeObject struct {
	kind   string
	id     int
	active bool
}

func (o *fakeObject) SetActive(active bool) { o.active = active }

type queuedLoad struct {
	ctx      context.Context
	obj      *fakeObject
	onLoaded func(Object)
}

// fakeController hands out one object per id. In deferred mode requests are
// queued and delivered by Poll (or deliver when manual is set).
type fakeController struct {
	high, low []*fakeObject

	deferred bool
	manual   bool
	queue    []queuedLoad

	requestedHigh, requestedLow []int
	releasedHigh, releasedLow   []int

	installed, started, stopped int
}

func newFakeController(highCount, lowCount int) *fakeController {
	c := &fakeController{}
	for i := 0; i < highCount; i++ {
		c.high = append(c.high, &fakeObject{kind: "high", id: i})
	}
	for i := 0; i < lowCount; i++ {
		c.low = append(c.low, &fakeObject{kind: "low", id: i})
	}
	return c
}

func (c *fakeController) get(ctx context.Context, obj *fakeObject, onLoaded func(Object)) {
	if c.deferred {
		c.queue = append(c.queue, queuedLoad{ctx: ctx, obj: obj, onLoaded: onLoaded})
		return
	}
	onLoaded(obj)
}

func (c *fakeController) GetHighObject(ctx context.Context, req LoadRequest, onLoaded func(Object)) {
	c.requestedHigh = append(c.requestedHigh, req.ID)
	c.get(ctx, c.high[req.ID], onLoaded)
}

func (c *fakeController) GetLowObject(ctx context.Context, req LoadRequest, onLoaded func(Object)) {
	c.requestedLow = append(c.requestedLow, req.ID)
	c.get(ctx, c.low[req.ID], onLoaded)
}

func (c *fakeController) ReleaseHighObject(id int) {
	c.high[id].active = false
	c.releasedHigh = append(c.releasedHigh, id)
}

func (c *fakeController) ReleaseLowObject(id int) {
	c.low[id].active = false
	c.releasedLow = append(c.releasedLow, id)
}

func (c *fakeController) HighObjectCount() int { return len(c.high) }
func (c *fakeController) LowObjectCount() int  { return len(c.low) }

func (c *fakeController) Install() { c.installed++ }
func (c *fakeController) OnStart() { c.started++ }
func (c *fakeController) OnStop()  { c.stopped++ }

func (c *fakeController) Poll() {
	if !c.manual {
		c.deliver()
	}
}

// deliver runs every queued callback, cancelled or not, like a loader that
// finished before it noticed the cancellation.
func (c *fakeController) deliver() {
	q := c.queue
	c.queue = nil
	for _, l := range q {
		l.onLoaded(l.obj)
	}
}

// fakeSpace answers IsHigh per node level.
type fakeSpace struct {
	highLevels map[int]bool
	levelOf    func(b math.Bounds) int
	cull       bool
}

func (s *fakeSpace) UpdateCamera(math.Mat4, camera.View)  {}
func (s *fakeSpace) DistanceSquared(math.Bounds) float32 { return 0 }
func (s *fakeSpace) IsCull(float32, math.Bounds) bool    { return s.cull }

func (s *fakeSpace) IsHigh(_ float32, b math.Bounds) bool {
	return s.highLevels[s.levelOf(b)]
}

// levelBounds encodes a node's level in the height of its bounds so the
// fake space manager can tell levels apart.
func levelBounds(level int) math.Bounds {
	return math.NewBounds(math.Vec3{}, math.Vec3{X: 10, Y: float32(level + 1), Z: 10})
}

func newFakeSpace(highLevels ...int) *fakeSpace {
	s := &fakeSpace{
		highLevels: make(map[int]bool),
		levelOf:    func(b math.Bounds) int { return int(b.Size().Y) - 1 },
	}
	for _, l := range highLevels {
		s.highLevels[l] = true
	}
	return s
}

// fixture is a small tree where every node owns exactly one high and one
// low object whose id equals the node's creation order.
type fixture struct {
	container *Container
	ctrl      *fakeController
	space     *fakeSpace
	tree      *Tree
	nodes     []*Node
}

// newChainFixture builds a tree with the given number of children per
// level, e.g. newChainFixture(t, 1) is root plus one child and
// newChainFixture(t, 2, 2) is root, two children, four grandchildren.
func newChainFixture(t *testing.T, ctrl *fakeController, space *fakeSpace, fanout ...int) *fixture {
	t.Helper()
	f := &fixture{container: NewContainer(), space: space}

	total := 1
	width := 1
	for _, k := range fanout {
		width *= k
		total += width
	}
	if ctrl == nil {
		ctrl = newFakeController(total, total)
	}
	f.ctrl = ctrl

	newNode := func(level int) *Node {
		id := len(f.nodes)
		n := NewNode(level, levelBounds(level), []int{id}, []int{id})
		f.nodes = append(f.nodes, n)
		return n
	}

	rootID := f.container.Add(newNode(0))
	frontier := []NodeID{rootID}
	for level, k := range fanout {
		var next []NodeID
		for _, parent := range frontier {
			for i := 0; i < k; i++ {
				id, err := f.container.AddChild(parent, newNode(level+1))
				require.NoError(t, err)
				next = append(next, id)
			}
		}
		frontier = next
	}

	tree, err := NewTree(f.container, rootID, ctrl, space, TreeOptions{Name: "test", StallFrames: 5})
	require.NoError(t, err)
	tree.Start()
	f.tree = tree
	return f
}

func testView() camera.View {
	return camera.View{ID: "main", FieldOfView: 60}
}

func (f *fixture) frame() {
	f.tree.UpdateCull(testView())
}

func (f *fixture) frames(n int) {
	for i := 0; i < n; i++ {
		f.frame()
	}
}

func (f *fixture) root() *Node { return f.nodes[0] }
