package streaming

import (
	"github.com/Faultbox/midgard-hlod/internal/camera"
	"github.com/Faultbox/midgard-hlod/pkg/math"
)

func boundsOf(size float32) math.Bounds {
	return math.NewBounds(math.Vec3{}, math.Vec3{X: size, Y: size, Z: size})
}

func nearView() camera.View {
	return camera.View{ID: "main", Position: math.Vec3{X: 10, Y: 10}, FieldOfView: 60}
}
