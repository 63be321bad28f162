// Package camera describes the cameras that drive LOD selection.
package camera

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/midgard-hlod/pkg/math"
)

// View is the per-frame camera state handed to the streaming core.
type View struct {
	ID       string
	Position math.Vec3

	// Projection
	FieldOfView      float32 // Vertical, degrees
	Orthographic     bool
	OrthographicSize float32 // Half height of the view volume
}

// OrbitCamera circles a center point on the XZ plane at a fixed height,
// a scripted flythrough for driving streaming without user input.
type OrbitCamera struct {
	ID string

	Center math.Vec3
	Radius float32
	Height float32
	Angle  float32 // Radians

	// Radius limits applied by Zoom
	MinRadius float32
	MaxRadius float32

	FieldOfView float32
}

// NewOrbitCamera creates a new orbit camera with default settings.
func NewOrbitCamera(id string) *OrbitCamera {
	return &OrbitCamera{
		ID:          id,
		Radius:      400,
		Height:      40,
		MinRadius:   1,
		MaxRadius:   50000,
		FieldOfView: 60,
	}
}

// Position returns the camera position in world space.
func (c *OrbitCamera) Position() math.Vec3 {
	s, co := math32.Sincos(c.Angle)
	return math.Vec3{
		X: c.Center.X + c.Radius*s,
		Y: c.Center.Y + c.Height,
		Z: c.Center.Z + c.Radius*co,
	}
}

// Advance rotates the camera around its center.
func (c *OrbitCamera) Advance(delta float32) {
	c.Angle = math32.Mod(c.Angle+delta, 2*math32.Pi)
}

// Zoom scales the orbit radius by factor, clamped to the limits.
func (c *OrbitCamera) Zoom(factor float32) {
	c.Radius *= factor
	if c.Radius < c.MinRadius {
		c.Radius = c.MinRadius
	}
	if c.Radius > c.MaxRadius {
		c.Radius = c.MaxRadius
	}
}

// View returns the camera state for the current frame.
func (c *OrbitCamera) View() View {
	return View{
		ID:          c.ID,
		Position:    c.Position(),
		FieldOfView: c.FieldOfView,
	}
}
