package hlod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-hlod/internal/camera"
	"github.com/Faultbox/midgard-hlod/pkg/math"
)

// Defaults applied by NewTree to zero options.
const (
	DefaultLODDistance = 0.3
	DefaultStallFrames = 300
)

// TreeOptions configures a Tree.
type TreeOptions struct {
	// Name labels logs and metrics. Empty picks a random one.
	Name string
	// LODDistance is the relative height above which a node goes high.
	LODDistance float32
	// CullDistance is the relative height below which the root is culled.
	// Zero never culls.
	CullDistance float32
	// StallFrames is how many frames a transition may stay pending before
	// it is reported.
	StallFrames int
	// Transform places the tree in the world. The zero matrix means
	// identity.
	Transform math.Mat4

	Logger  *zap.Logger
	Metrics *Metrics
}

// Tree drives one node hierarchy against one resource controller.
// Everything about a tree runs on the frame thread.
type Tree struct {
	name       string
	container  *Container
	root       *Node
	controller ResourceController
	space      SpaceManager

	lodDistance  float32
	cullDistance float32
	stallFrames  int
	worldToLocal math.Mat4

	ctx    context.Context
	cancel context.CancelFunc

	log     *zap.Logger
	metrics *Metrics
	stats   frameStats
	frames  uint64
	started bool
}

// NewTree validates the hierarchy under root and wires it for streaming.
// Every child id must be live in c, no node may appear twice and every
// object id must be within the controller's counts.
func NewTree(c *Container, root NodeID, rc ResourceController, space SpaceManager, opts TreeOptions) (*Tree, error) {
	if c == nil || rc == nil || space == nil {
		return nil, errors.New("hlod: container, controller and space manager are required")
	}
	rootNode, err := c.Get(root)
	if err != nil {
		return nil, fmt.Errorf("tree root: %w", err)
	}
	if err := validateHierarchy(c, rootNode, rc); err != nil {
		return nil, err
	}

	if opts.Name == "" {
		opts.Name = "tree-" + uuid.NewString()[:8]
	}
	if opts.LODDistance <= 0 {
		opts.LODDistance = DefaultLODDistance
	}
	if opts.CullDistance < 0 {
		opts.CullDistance = 0
	}
	if opts.StallFrames <= 0 {
		opts.StallFrames = DefaultStallFrames
	}
	if opts.Transform == (math.Mat4{}) {
		opts.Transform = math.Identity()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	t := &Tree{
		name:         opts.Name,
		container:    c,
		root:         rootNode,
		controller:   rc,
		space:        space,
		lodDistance:  opts.LODDistance,
		cullDistance: opts.CullDistance,
		stallFrames:  opts.StallFrames,
		worldToLocal: opts.Transform.AffineInverse(),
		log:          opts.Logger.With(zap.String("tree", opts.Name)),
		metrics:      opts.Metrics,
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	rootNode.init(t, nil)
	return t, nil
}

func validateHierarchy(c *Container, root *Node, rc ResourceController) error {
	seen := make(map[NodeID]bool)
	var walk func(n *Node) error
	walk = func(n *Node) error {
		if seen[n.id] {
			return fmt.Errorf("%w: node %v reachable twice", ErrInvalidID, n.id)
		}
		seen[n.id] = true
		for _, id := range n.highIDs {
			if id < 0 || id >= rc.HighObjectCount() {
				return fmt.Errorf("node %v: high object %d out of range [0,%d)", n.id, id, rc.HighObjectCount())
			}
		}
		for _, id := range n.lowIDs {
			if id < 0 || id >= rc.LowObjectCount() {
				return fmt.Errorf("node %v: low object %d out of range [0,%d)", n.id, id, rc.LowObjectCount())
			}
		}
		for _, id := range n.children {
			child, err := c.Get(id)
			if err != nil {
				return fmt.Errorf("child of node %v: %w", n.id, err)
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

// Name returns the tree's label.
func (t *Tree) Name() string { return t.name }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Frames returns how many updates the tree has run.
func (t *Tree) Frames() uint64 { return t.frames }

// Started reports whether Start was called without a matching Stop.
func (t *Tree) Started() bool { return t.started }

// Start prepares the controller. The root leaves Release on the first
// update that does not cull it.
func (t *Tree) Start() {
	if t.started {
		return
	}
	if in, ok := t.controller.(Installer); ok {
		in.Install()
	}
	if st, ok := t.controller.(Starter); ok {
		st.OnStart()
	}
	t.started = true
	t.log.Info("tree started", zap.Int("nodes", t.NodeCount()))
}

// Stop releases every node at once and stops the controller.
func (t *Tree) Stop() {
	if !t.started {
		return
	}
	t.root.release()
	t.cancel()
	t.ctx, t.cancel = context.WithCancel(context.Background())
	if st, ok := t.controller.(Starter); ok {
		st.OnStop()
	}
	t.started = false
	t.metrics.forget(t.name)
	t.log.Info("tree stopped", zap.Uint64("frames", t.frames))
}

// SetDistances changes the LOD and cull thresholds from the next update.
func (t *Tree) SetDistances(lodDistance, cullDistance float32) {
	if lodDistance > 0 {
		t.lodDistance = lodDistance
	}
	if cullDistance >= 0 {
		t.cullDistance = cullDistance
	}
}

// Distances returns the LOD and cull thresholds.
func (t *Tree) Distances() (lodDistance, cullDistance float32) {
	return t.lodDistance, t.cullDistance
}

// UpdateCull runs one frame: deliver finished loads, place the camera,
// cull the root and update the whole hierarchy.
func (t *Tree) UpdateCull(view camera.View) {
	start := time.Now()
	if p, ok := t.controller.(Poller); ok {
		p.Poll()
	}
	t.space.UpdateCamera(t.worldToLocal, view)

	t.stats = frameStats{}
	t.root.Cull(t.space.IsCull(t.cullDistance, t.root.bounds))
	t.root.Update(t.lodDistance)
	t.frames++

	t.metrics.observeFrame(t.name, t.stats, time.Since(start))
}

// StateCount returns how many nodes were committed to s after the last
// update.
func (t *Tree) StateCount(s State) int {
	return t.stats.nodes[s]
}

// IsLoadDone reports whether the tree has settled with every needed
// object resident.
func (t *Tree) IsLoadDone() bool {
	return t.root.IsLoadDone()
}

// LoadProgress returns how many nodes could commit their target state
// now, out of all nodes.
func (t *Tree) LoadProgress() (ready, total int) {
	return t.root.ReadyNodeCount(), t.NodeCount()
}

// NodeCount returns the number of nodes in the hierarchy.
func (t *Tree) NodeCount() int {
	count := 0
	t.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Walk visits the hierarchy depth first. Returning false from fn skips
// the node's children.
func (t *Tree) Walk(fn func(*Node) bool) {
	var visit func(n *Node)
	visit = func(n *Node) {
		if !fn(n) {
			return
		}
		n.eachChild(visit)
	}
	visit(t.root)
}

// Diagnostics returns a StalledTransitionError for every node pending for
// at least the stall threshold.
func (t *Tree) Diagnostics() []error {
	var errs []error
	t.Walk(func(n *Node) bool {
		if n.fsm.Pending() && n.pendingFrames >= t.stallFrames {
			errs = append(errs, n.stall())
		}
		return true
	})
	return errs
}

// Validate checks the structural invariants that must hold between
// updates and returns every violation joined, or nil.
func (t *Tree) Validate() error {
	var errs []error
	t.Walk(func(n *Node) bool {
		p := n.parent
		if p != nil && n.visibleInHierarchy && !p.visibleInHierarchy {
			errs = append(errs, &InvariantError{
				Node:   n.id,
				Rule:   "visibility",
				Detail: "visible under a hidden parent",
			})
		}
		if p != nil && p.fsm.Current() == StateRelease && n.fsm.Current() != StateRelease {
			errs = append(errs, &InvariantError{
				Node:   n.id,
				Rule:   "release cascade",
				Detail: fmt.Sprintf("%s under a released parent", n.fsm.Current()),
			})
		}
		if n.fsm.Current() == StateHigh {
			for _, id := range n.children {
				if c := t.container.mustGet(id); c.fsm.Current() == StateRelease {
					errs = append(errs, &InvariantError{
						Node:   c.id,
						Rule:   "no gap",
						Detail: "released under a high parent",
					})
				}
			}
		}
		if n.fsm.Current() != StateHigh && len(n.high) > 0 {
			errs = append(errs, &InvariantError{
				Node:   n.id,
				Rule:   "residency",
				Detail: fmt.Sprintf("%d high objects held in %s", len(n.high), n.fsm.Current()),
			})
		}
		if n.fsm.Current() != StateLow && len(n.low) > 0 {
			errs = append(errs, &InvariantError{
				Node:   n.id,
				Rule:   "residency",
				Detail: fmt.Sprintf("%d low objects held in %s", len(n.low), n.fsm.Current()),
			})
		}
		return true
	})
	return errors.Join(errs...)
}

func (t *Tree) reportStall(err *StalledTransitionError) {
	t.metrics.stalled(t.name)
	t.log.Warn("transition stalled",
		zap.Stringer("node", err.Node),
		zap.Int("level", err.Level),
		zap.Stringer("from", err.From),
		zap.Stringer("to", err.To),
		zap.Int("frames", err.Frames),
	)
}
