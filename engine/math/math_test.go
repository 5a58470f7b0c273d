package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const eps = 1e-4

func TestMat4MulAppliesRightOperandFirst(t *testing.T) {
	tr := NewMat4Translation(Vec3{1, 2, 3})
	s := NewMat4Scale(Vec3{2, 2, 2})
	p := tr.Mul(s).MulVec4(Vec4{1, 1, 1, 1})
	assert.True(t, p.Compare(Vec4{3, 4, 5, 1}, eps), "%v", p)

	p = s.Mul(tr).MulVec4(Vec4{1, 1, 1, 1})
	assert.True(t, p.Compare(Vec4{4, 6, 8, 1}, eps), "%v", p)
}

func TestMat4Inverse(t *testing.T) {
	m := NewMat4Translation(Vec3{4, -2, 7}).
		Mul(NewQuatFromAxisAngle(Vec3{0, 1, 0}, 0.7, true).ToMat4()).
		Mul(NewMat4Scale(Vec3{2, 3, 0.5}))
	id := m.Mul(m.Inverse())
	assert.True(t, id.Compare(NewMat4Identity(), eps), "%v", id)
}

func TestPerspectiveInverseIsIdentity(t *testing.T) {
	fov, aspect, near, far := DegToRad(60), float32(16.0/9.0), float32(0.1), float32(100)
	p := NewMat4Perspective(fov, aspect, near, far)
	inv := NewMat4PerspectiveInverse(fov, aspect, near, far)
	assert.True(t, p.Mul(inv).Compare(NewMat4Identity(), eps))
	assert.True(t, inv.Mul(p).Compare(NewMat4Identity(), eps))
}

func TestPerspectiveDepthIsZeroToOne(t *testing.T) {
	p := NewMat4Perspective(DegToRad(90), 1, 1, 10)
	near := p.MulVec4(Vec4{0, 0, -1, 1})
	far := p.MulVec4(Vec4{0, 0, -10, 1})
	assert.InDelta(t, 0, near.Z/near.W, eps)
	assert.InDelta(t, 1, far.Z/far.W, eps)
}

func TestOrthographicDepthIsZeroToOne(t *testing.T) {
	o := NewMat4Orthographic(-2, 2, -1, 1, 0.5, 20)
	assert.InDelta(t, 0, o.MulVec4(Vec4{0, 0, -0.5, 1}).Z, eps)
	assert.InDelta(t, 1, o.MulVec4(Vec4{0, 0, -20, 1}).Z, eps)
	c := o.MulVec4(Vec4{2, 1, -1, 1})
	assert.InDelta(t, 1, c.X, eps)
	assert.InDelta(t, 1, c.Y, eps)
}

func TestLookAtMovesTargetOntoNegativeZ(t *testing.T) {
	v := NewMat4LookAt(Vec3{0, 0, 3}, Vec3{}, NewVec3Up())
	p := Vec3{}.Transform(v)
	assert.True(t, p.Compare(Vec3{0, 0, -3}, eps), "%v", p)
}

func TestQuaternionNormalizeIsIdempotent(t *testing.T) {
	for _, q := range []Quaternion{{1, 2, 3, 4}, {0, 0, 0.001, 0}, {-5, 0.5, 2, -1}} {
		n := q.Normalize()
		assert.True(t, n.Normalize().Compare(n, 1e-6))
		assert.InDelta(t, 1, n.Normal(), 1e-5)
	}
}

func TestQuaternionRotateMatchesMatrix(t *testing.T) {
	q := NewQuatFromAxisAngle(Vec3{0, 0, 1}, K_HALF_PI, true)
	v := q.Rotate(Vec3{1, 0, 0})
	assert.True(t, v.Compare(Vec3{0, 1, 0}, eps), "%v", v)
	m := q.ToMat4().MulDirection(Vec3{1, 0, 0})
	assert.True(t, m.Compare(v, eps), "%v", m)

	composed := q.Mul(q).Rotate(Vec3{1, 0, 0})
	assert.True(t, composed.Compare(Vec3{-1, 0, 0}, eps), "%v", composed)
}

func TestQuatLookRotation(t *testing.T) {
	dir := Vec3{1, -1, -1}.Normalize()
	q := NewQuatLookRotation(dir, NewVec3Up())
	assert.True(t, q.Rotate(NewVec3Forward()).Compare(dir, eps))
}

func TestSlerpEndpoints(t *testing.T) {
	a := NewQuatIdentity()
	b := NewQuatFromAxisAngle(Vec3{0, 1, 0}, 1.2, true)
	assert.True(t, a.Slerp(b, 0).Compare(a, eps))
	assert.True(t, a.Slerp(b, 1).Compare(b, eps))
}

func TestAABB(t *testing.T) {
	p := Vec3{1, 2, 3}
	b := NewAABBFromPoint(p)
	assert.Equal(t, p, b.Min)
	assert.Equal(t, p, b.Max)

	empty := EmptyAABB()
	for _, r := range []Ray{
		{Origin: Vec3{}, Direction: Vec3{1, 0, 0}},
		{Origin: Vec3{5, 5, 5}, Direction: Vec3{-1, -1, -1}},
		{Origin: Vec3{}, Direction: Vec3{0, 0, 0}},
	} {
		_, hit := empty.IntersectsRay(r)
		assert.False(t, hit)
	}

	box := AABB{Min: Vec3{-1, -1, -1}, Max: Vec3{1, 1, 1}}
	d, hit := box.IntersectsRay(Ray{Origin: Vec3{0, 0, 5}, Direction: Vec3{0, 0, -1}})
	assert.True(t, hit)
	assert.InDelta(t, 4, d, eps)

	_, hit = box.IntersectsRay(Ray{Origin: Vec3{0, 3, 5}, Direction: Vec3{0, 0, -1}})
	assert.False(t, hit)
	_, hit = box.IntersectsRay(Ray{Origin: Vec3{0, 0, 5}, Direction: Vec3{0, 0, 1}})
	assert.False(t, hit)

	u := box.Union(NewAABBFromPoint(Vec3{3, 0, 0}))
	assert.Equal(t, Vec3{3, 1, 1}, u.Max)
	assert.Equal(t, box, empty.Union(box))
}

func TestPlaneClassifySphere(t *testing.T) {
	p := NewPlane(Vec3{0, 1, 0}, Vec3{0, 2, 0})
	tests := []struct {
		center Vec3
		want   PlaneIntersection
	}{
		{Vec3{0, 5, 0}, PlaneAbove},
		{Vec3{0, 2.5, 0}, PlaneIntersecting},
		{Vec3{0, -1, 0}, PlaneUnder},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ClassifySphere(tt.center, 1))
	}
}

func TestFrustumCull(t *testing.T) {
	view := NewMat4LookAt(Vec3{0, 0, 3}, Vec3{}, NewVec3Up())
	proj := NewMat4Perspective(DegToRad(60), 1, 0.1, 50)
	f := NewFrustumFromMatrix(proj.Mul(view))

	assert.True(t, f.ContainsPoint(Vec3{}))
	assert.False(t, f.SphereOutside(Vec3{}, 1))
	assert.True(t, f.SphereOutside(Vec3{0, 0, 10}, 1), "behind the camera")
	assert.True(t, f.SphereOutside(Vec3{100, 0, 0}, 1))
	assert.True(t, f.SphereOutside(Vec3{0, 0, -60}, 1), "beyond far")
	// straddling the right plane is kept
	assert.False(t, f.SphereOutside(Vec3{2.1, 0, 0}, 1))
}

func TestTransformParentChain(t *testing.T) {
	parent := TransformFromPosition(Vec3{10, 0, 0})
	child := TransformFromPositionRotationScale(Vec3{0, 1, 0}, NewQuatIdentity(), Vec3{2, 2, 2})
	child.Parent = parent
	p := Vec3{1, 0, 0}.Transform(child.GetWorld())
	assert.True(t, p.Compare(Vec3{12, 1, 0}, eps), "%v", p)

	parent.Translate(Vec3{0, 0, 1})
	p = Vec3{}.Transform(child.GetWorld())
	assert.True(t, p.Compare(Vec3{10, 1, 1}, eps), "%v", p)
}

func TestGeometryCube(t *testing.T) {
	v, idx := GeometryCube(1, 1, 1)
	assert.Len(t, v, 24)
	assert.Len(t, idx, 36)
	for i := 0; i < len(idx); i += 3 {
		a, b, c := v[idx[i]], v[idx[i+1]], v[idx[i+2]]
		n := b.Position.Sub(a.Position).Cross(c.Position.Sub(a.Position)).Normalize()
		assert.True(t, n.Compare(a.Normal, eps), "triangle %d winds against its normal", i/3)
	}
	assert.InDelta(t, 0.8660254, BoundingRadius(v), eps)
	assert.Equal(t, 48, VertexSize)
	assert.Equal(t, v[3], VertexFromFloats(func() []float32 { f := v[3].Floats(); return f[:] }()))
}

func TestGeometryPlane(t *testing.T) {
	v, idx := GeometryPlane(10, 10, 2, 2)
	assert.Len(t, v, 9)
	assert.Len(t, idx, 24)
	a, b, c := v[idx[0]].Position, v[idx[1]].Position, v[idx[2]].Position
	n := b.Sub(a).Cross(c.Sub(a)).Normalize()
	assert.True(t, n.Compare(Vec3{0, 1, 0}, eps))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 4, Clamp(7, 0, 4))
	assert.Equal(t, float32(0.5), Clamp(float32(0.5), 0, 1))
	assert.Equal(t, uint32(1), Clamp(uint32(0), 1, 4))
}
