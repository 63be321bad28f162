package math

// Bounds is an axis-aligned box stored as center and half-extents, the
// layout spatial trees are serialized with.
type Bounds struct {
	Center  Vec3
	Extents Vec3
}

// NewBounds creates bounds from a center and a full size.
func NewBounds(center, size Vec3) Bounds {
	return Bounds{Center: center, Extents: size.Scale(0.5)}
}

// BoundsFromMinMax creates bounds spanning two corners.
func BoundsFromMinMax(lo, hi Vec3) Bounds {
	lo, hi = lo.Min(hi), lo.Max(hi)
	return Bounds{
		Center:  lo.Add(hi).Scale(0.5),
		Extents: hi.Sub(lo).Scale(0.5),
	}
}

// Size returns the full size on each axis.
func (b Bounds) Size() Vec3 {
	return b.Extents.Scale(2)
}

// Min returns the minimum corner.
func (b Bounds) Min() Vec3 {
	return b.Center.Sub(b.Extents)
}

// Max returns the maximum corner.
func (b Bounds) Max() Vec3 {
	return b.Center.Add(b.Extents)
}

// Contains reports whether p lies inside or on the box.
func (b Bounds) Contains(p Vec3) bool {
	lo, hi := b.Min(), b.Max()
	return p.X >= lo.X && p.X <= hi.X &&
		p.Y >= lo.Y && p.Y <= hi.Y &&
		p.Z >= lo.Z && p.Z <= hi.Z
}

// Encapsulate returns the smallest bounds containing both b and other.
func (b Bounds) Encapsulate(other Bounds) Bounds {
	return BoundsFromMinMax(b.Min().Min(other.Min()), b.Max().Max(other.Max()))
}

// GroundRadiusSquared returns the squared half-diagonal of the box on the
// XZ plane.
func (b Bounds) GroundRadiusSquared() float32 {
	return b.Extents.X*b.Extents.X + b.Extents.Z*b.Extents.Z
}

// Quadrants splits the box into four equal children on the XZ plane,
// keeping the full height.
func (b Bounds) Quadrants() [4]Bounds {
	half := Vec3{b.Extents.X * 0.5, b.Extents.Y, b.Extents.Z * 0.5}
	var out [4]Bounds
	i := 0
	for _, dz := range []float32{-1, 1} {
		for _, dx := range []float32{-1, 1} {
			out[i] = Bounds{
				Center:  Vec3{b.Center.X + dx*half.X, b.Center.Y, b.Center.Z + dz*half.Z},
				Extents: half,
			}
			i++
		}
	}
	return out
}
