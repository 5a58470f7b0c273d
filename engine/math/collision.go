package math

import "github.com/chewxy/math32"

// AABB is an axis-aligned bounding box. An empty box has Min > Max on every
// axis and never intersects anything.
type AABB struct {
	Min Vec3
	Max Vec3
}

func EmptyAABB() AABB {
	inf := math32.Inf(1)
	return AABB{
		Min: Vec3{inf, inf, inf},
		Max: Vec3{-inf, -inf, -inf},
	}
}

func NewAABBFromPoint(p Vec3) AABB {
	return AABB{Min: p, Max: p}
}

func NewAABBFromPoints(points ...Vec3) AABB {
	b := EmptyAABB()
	for _, p := range points {
		b = b.Expand(p)
	}
	return b
}

func (b AABB) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Union is the component-wise min/max of both boxes.
func (b AABB) Union(other AABB) AABB {
	return AABB{Min: b.Min.Min(other.Min), Max: b.Max.Max(other.Max)}
}

func (b AABB) Expand(p Vec3) AABB {
	return AABB{Min: b.Min.Min(p), Max: b.Max.Max(p)}
}

func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).MulScalar(0.5)
}

func (b AABB) Contains(p Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

type Ray struct {
	Origin    Vec3
	Direction Vec3
}

// IntersectsRay runs the slab test. It returns the entry distance along the
// ray (0 when the origin is inside) and whether the ray hits the box.
func (b AABB) IntersectsRay(r Ray) (float32, bool) {
	if b.IsEmpty() {
		return 0, false
	}
	tMin := float32(0)
	tMax := math32.Inf(1)
	for axis := 0; axis < 3; axis++ {
		o := r.Origin.Component(axis)
		d := r.Direction.Component(axis)
		lo := b.Min.Component(axis)
		hi := b.Max.Component(axis)
		if d == 0 {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		inv := 1 / d
		t0 := (lo - o) * inv
		t1 := (hi - o) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

type Sphere struct {
	Center Vec3
	Radius float32
}

type PlaneIntersection uint8

const (
	PlaneAbove PlaneIntersection = iota
	PlaneIntersecting
	PlaneUnder
)

// Plane holds n·p + d = 0 with a unit normal.
type Plane struct {
	Normal Vec3
	D      float32
}

func NewPlane(normal Vec3, point Vec3) Plane {
	n := normal.Normalize()
	return Plane{Normal: n, D: -n.Dot(point)}
}

// NewPlaneFromCoefficients normalizes (a, b, c, d).
func NewPlaneFromCoefficients(a, b, c, d float32) Plane {
	l := Vec3{a, b, c}.Length()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: Vec3{a / l, b / l, c / l}, D: d / l}
}

func (p Plane) SignedDistance(point Vec3) float32 {
	return p.Normal.Dot(point) + p.D
}

func (p Plane) ClassifySphere(center Vec3, radius float32) PlaneIntersection {
	d := p.SignedDistance(center)
	switch {
	case d > radius:
		return PlaneAbove
	case d < -radius:
		return PlaneUnder
	default:
		return PlaneIntersecting
	}
}

// Frustum planes face inwards, ordered left, right, bottom, top, near, far.
type Frustum struct {
	Planes [6]Plane
}

// NewFrustumFromMatrix extracts the planes of a zero-to-one view-projection.
func NewFrustumFromMatrix(vp Mat4) Frustum {
	row := func(i int) Vec4 {
		return Vec4{vp.Data[i], vp.Data[4+i], vp.Data[8+i], vp.Data[12+i]}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	sub := func(a, b Vec4) Vec4 { return Vec4{a.X - b.X, a.Y - b.Y, a.Z - b.Z, a.W - b.W} }
	mk := func(v Vec4) Plane { return NewPlaneFromCoefficients(v.X, v.Y, v.Z, v.W) }

	return Frustum{Planes: [6]Plane{
		mk(r3.Add(r0)),
		mk(sub(r3, r0)),
		mk(r3.Add(r1)),
		mk(sub(r3, r1)),
		mk(r2),
		mk(sub(r3, r2)),
	}}
}

// SphereOutside is true when the sphere lies strictly under any plane.
func (f *Frustum) SphereOutside(center Vec3, radius float32) bool {
	for i := range f.Planes {
		if f.Planes[i].ClassifySphere(center, radius) == PlaneUnder {
			return true
		}
	}
	return false
}

func (f *Frustum) ContainsPoint(p Vec3) bool {
	for i := range f.Planes {
		if f.Planes[i].SignedDistance(p) < 0 {
			return false
		}
	}
	return true
}
