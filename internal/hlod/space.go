package hlod

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/midgard-hlod/internal/camera"
	"github.com/Faultbox/midgard-hlod/pkg/math"
)

// SpaceManager answers distance questions about node bounds relative to
// the current camera. All bounds are in tree-local space.
type SpaceManager interface {
	// UpdateCamera is called once per frame before any query.
	UpdateCamera(worldToLocal math.Mat4, view camera.View)
	DistanceSquared(b math.Bounds) float32
	IsHigh(lodDistance float32, b math.Bounds) bool
	IsCull(cullDistance float32, b math.Bounds) bool
}

// QuadTreeSpaceManager measures how large a node appears on screen: its
// width over its ground-plane distance, scaled by the projection. A node
// targets high detail while that relative height exceeds the LOD
// distance and a tree is culled once its root falls below the cull
// distance.
type QuadTreeSpaceManager struct {
	LODBias float32

	camPos      math.Vec3
	preRelative float32
}

// NewQuadTreeSpaceManager creates a space manager with the given LOD bias.
func NewQuadTreeSpaceManager(lodBias float32) *QuadTreeSpaceManager {
	if lodBias <= 0 {
		lodBias = 1
	}
	return &QuadTreeSpaceManager{LODBias: lodBias}
}

// UpdateCamera caches the camera position in tree space and the
// projection scale.
func (s *QuadTreeSpaceManager) UpdateCamera(worldToLocal math.Mat4, view camera.View) {
	if view.Orthographic {
		size := view.OrthographicSize
		if size <= 0 {
			size = 1
		}
		s.preRelative = 0.5 / size
	} else {
		halfAngle := math32.Tan(view.FieldOfView * math32.Pi / 180 * 0.5)
		s.preRelative = 0.5 / halfAngle
	}
	s.preRelative *= s.LODBias
	s.camPos = worldToLocal.TransformVec3(view.Position)
}

// DistanceSquared returns the squared ground-plane distance from the
// camera to the center of b.
func (s *QuadTreeSpaceManager) DistanceSquared(b math.Bounds) float32 {
	return b.Center.XZ().Sub(s.camPos.XZ()).LengthSquared()
}

// RelativeHeight returns the projected size of b as a fraction of the
// screen. A camera standing on the center sees an infinitely large node.
func (s *QuadTreeSpaceManager) RelativeHeight(b math.Bounds) float32 {
	d := math32.Sqrt(s.DistanceSquared(b))
	if d == 0 {
		return math32.Inf(1)
	}
	return b.Size().X * s.preRelative / d
}

// IsHigh reports whether b appears large enough for high detail.
func (s *QuadTreeSpaceManager) IsHigh(lodDistance float32, b math.Bounds) bool {
	return s.RelativeHeight(b) > lodDistance
}

// IsCull reports whether b appears too small to draw at all.
func (s *QuadTreeSpaceManager) IsCull(cullDistance float32, b math.Bounds) bool {
	return s.RelativeHeight(b) < cullDistance
}
