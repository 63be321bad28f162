// Package sim runs LOD streaming headless: generated quadtree worlds, fake
// renderable proxies and a frame loop driven by a scripted camera.
package sim

import (
	"fmt"

	"github.com/Faultbox/midgard-hlod/internal/hlod"
	"github.com/Faultbox/midgard-hlod/pkg/math"
)

// Layout describes a generated quadtree.
type Layout struct {
	Root      hlod.NodeID
	Nodes     int
	HighCount int
	LowCount  int
}

// BuildQuadTree adds a quadtree of the given depth covering bounds to c.
// Every node gets objectsPerNode high detail objects and a single merged
// low detail object; ids are handed out in creation order.
func BuildQuadTree(c *hlod.Container, bounds math.Bounds, depth, objectsPerNode int) (Layout, error) {
	if depth < 0 {
		return Layout{}, fmt.Errorf("negative depth %d", depth)
	}
	if objectsPerNode < 1 {
		return Layout{}, fmt.Errorf("objects per node must be at least 1, got %d", objectsPerNode)
	}

	var l Layout
	newNode := func(level int, b math.Bounds) *hlod.Node {
		high := make([]int, objectsPerNode)
		for i := range high {
			high[i] = l.HighCount
			l.HighCount++
		}
		low := []int{l.LowCount}
		l.LowCount++
		l.Nodes++
		return hlod.NewNode(level, b, high, low)
	}

	var split func(parent hlod.NodeID, b math.Bounds, level int) error
	split = func(parent hlod.NodeID, b math.Bounds, level int) error {
		if level > depth {
			return nil
		}
		for _, q := range b.Quadrants() {
			id, err := c.AddChild(parent, newNode(level, q))
			if err != nil {
				return err
			}
			if err := split(id, q, level+1); err != nil {
				return err
			}
		}
		return nil
	}

	l.Root = c.Add(newNode(0, bounds))
	if err := split(l.Root, bounds, 1); err != nil {
		return Layout{}, fmt.Errorf("building quadtree: %w", err)
	}
	return l, nil
}
