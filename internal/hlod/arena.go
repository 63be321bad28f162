package hlod

import "fmt"

// NodeID addresses a node inside a Container. The zero value is never a
// live id. A freed slot is reused with a new generation, so ids held past
// a Remove fail lookup instead of aliasing the new occupant.
type NodeID struct {
	index uint32
	gen   uint32
}

// IsZero reports whether id is the zero value.
func (id NodeID) IsZero() bool { return id.gen == 0 }

func (id NodeID) String() string {
	return fmt.Sprintf("%d:%d", id.index, id.gen)
}

type slot struct {
	node *Node
	gen  uint32
}

// Container owns every node of one or more trees by id. It is not safe
// for concurrent use; it belongs to the frame thread like the nodes.
type Container struct {
	slots    []slot
	freeList []uint32
	live     int
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{}
}

// Add inserts n and returns its fresh id.
func (c *Container) Add(n *Node) NodeID {
	var idx uint32
	if k := len(c.freeList); k > 0 {
		idx = c.freeList[k-1]
		c.freeList = c.freeList[:k-1]
	} else {
		idx = uint32(len(c.slots))
		c.slots = append(c.slots, slot{})
	}
	s := &c.slots[idx]
	s.gen++
	s.node = n
	c.live++

	id := NodeID{index: idx, gen: s.gen}
	n.id = id
	n.container = c
	return id
}

// Get returns the node for id.
func (c *Container) Get(id NodeID) (*Node, error) {
	if id.gen == 0 || int(id.index) >= len(c.slots) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, id)
	}
	s := c.slots[id.index]
	if s.gen != id.gen || s.node == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, id)
	}
	return s.node, nil
}

// mustGet is Get for ids the container itself validated when the tree was
// built; a miss there is a broken contract.
func (c *Container) mustGet(id NodeID) *Node {
	n, err := c.Get(id)
	if err != nil {
		panic(err)
	}
	return n
}

// AddChild inserts child and appends it to parent's children.
func (c *Container) AddChild(parent NodeID, child *Node) (NodeID, error) {
	p, err := c.Get(parent)
	if err != nil {
		return NodeID{}, fmt.Errorf("adding child: %w", err)
	}
	if p.tree != nil {
		return NodeID{}, fmt.Errorf("adding child to %v: %w", parent, ErrNodeInTree)
	}
	id := c.Add(child)
	p.children = append(p.children, id)
	return id, nil
}

// Remove frees id and, recursively, every descendant reachable through its
// children, so a removed subtree never leaves orphaned slots behind. If id
// is another node's child it is unlinked from that parent's list. Nodes
// wired into a Tree keep their shape for the tree's lifetime; removing one
// fails with ErrNodeInTree.
func (c *Container) Remove(id NodeID) error {
	n, err := c.Get(id)
	if err != nil {
		return fmt.Errorf("removing node: %w", err)
	}
	if n.tree != nil {
		return fmt.Errorf("removing node %v: %w", id, ErrNodeInTree)
	}
	for i := range c.slots {
		if p := c.slots[i].node; p != nil && p != n {
			p.unlinkChild(id)
		}
	}
	c.dispose(n)
	return nil
}

// ClearChildren removes every child subtree of parent.
func (c *Container) ClearChildren(parent NodeID) error {
	p, err := c.Get(parent)
	if err != nil {
		return fmt.Errorf("clearing children: %w", err)
	}
	if p.tree != nil {
		return fmt.Errorf("clearing children of %v: %w", parent, ErrNodeInTree)
	}
	for _, child := range p.children {
		if n, err := c.Get(child); err == nil {
			c.dispose(n)
		}
	}
	p.children = p.children[:0]
	return nil
}

// Len returns the number of live nodes.
func (c *Container) Len() int { return c.live }

func (c *Container) dispose(n *Node) {
	for _, child := range n.children {
		if cn, err := c.Get(child); err == nil {
			c.dispose(cn)
		}
	}
	s := &c.slots[n.id.index]
	s.node = nil
	c.freeList = append(c.freeList, n.id.index)
	c.live--
	n.container = nil
}
