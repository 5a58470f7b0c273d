package components_test

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const eps = 1e-4

func newContext(t *testing.T) *gpu.Context {
	dev, err := stub.NewDevice(gpu.DeviceConfig{FramesInFlight: 3}, nil)
	require.NoError(t, err)
	ctx, err := gpu.NewContext(dev, gpu.ContextConfig{FramesInFlight: 3, Buffers: gpu.DefaultBufferManagerConfig()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx.Destroy()
		dev.Destroy()
	})
	return ctx
}

func newCube(t *testing.T, ctx *gpu.Context, kind uint32) *metadata.Mesh {
	white, err := metadata.CreateTexture(ctx, 0, "white", metadata.TextureType2D, [][]*image.RGBA{{metadata.SolidColor([4]byte{255, 255, 255, 255}, 1)}})
	require.NoError(t, err)
	var textures [metadata.TextureSlotCount]*metadata.Texture
	for i := range textures {
		textures[i] = white
	}
	mat, err := metadata.NewMaterial(ctx, 0, "m", gpu.MaterialUniform{
		BaseColor: math.NewVec4(1, 1, 1, 1),
		Flags:     [4]uint32{kind},
	}, textures)
	require.NoError(t, err)
	vertices, indices := math.GeometryCube(2, 2, 2)
	mesh, err := metadata.NewMesh(ctx, 0, "cube", vertices, indices, 0, mat)
	require.NoError(t, err)
	return mesh
}

func bind(t *testing.T, ctx *gpu.Context, m *components.Model) *components.BoundModel {
	b, err := components.NewModelBinding(ctx, m.Name())
	require.NoError(t, err)
	t.Cleanup(b.Destroy)
	return m.Bind(b)
}

func TestCameraLooksDownNegativeZ(t *testing.T) {
	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 100)
	cam.SetPosition(math.NewVec3(0, 0, 3))
	s := cam.State()

	assert.True(t, s.Visible(math.NewVec3Zero(), 0.5))
	assert.False(t, s.Visible(math.NewVec3(0, 0, 10), 0.5))
	assert.InDelta(t, 3, s.ViewDepth(math.NewVec3Zero()), eps)

	clip := s.ViewProjection.MulVec4(math.NewVec4(0, 0, 0, 1))
	assert.InDelta(t, 0, clip.X/clip.W, eps)
	assert.InDelta(t, 0, clip.Y/clip.W, eps)
}

func TestCameraLookAt(t *testing.T) {
	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 100)
	cam.SetPosition(math.NewVec3(5, 0, 0))
	cam.LookAt(math.NewVec3Zero(), math.NewVec3Up())

	assert.True(t, cam.Forward().Compare(math.NewVec3(-1, 0, 0), eps))
	v := cam.GetView().MulVec4(math.NewVec4(0, 0, 0, 1))
	assert.InDelta(t, -5, v.Z, eps)
}

func TestCameraPitchIsClamped(t *testing.T) {
	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 100)
	cam.Pitch(10)
	f := cam.Forward()
	assert.Less(t, f.Y, float32(1))
	assert.Greater(t, f.Y, float32(0.99))
}

func TestCameraYawTurnsLeft(t *testing.T) {
	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 100)
	cam.Yaw(math.DegToRad(90))
	assert.True(t, cam.Forward().Compare(math.NewVec3(-1, 0, 0), eps))

	cam.MoveForward(2)
	assert.True(t, cam.GetPosition().Compare(math.NewVec3(-2, 0, 0), eps))
}

func TestOrthographicCamera(t *testing.T) {
	cam := components.NewOrthographicCamera(0, "ui", 640, 480, -1, 1)
	s := cam.State()
	p := s.ViewProjection.MulVec4(math.NewVec4(320, 240, 0, 1))
	assert.InDelta(t, 1, p.X, eps)
	assert.InDelta(t, 1, p.Y, eps)
	assert.InDelta(t, 0.5, p.Z, eps)

	u := s.Uniform(gpu.Extent{Width: 640, Height: 480})
	assert.InDelta(t, 640, u.NearFar.Z, eps)
	assert.True(t, u.InverseProjection.Mul(u.Projection).Compare(math.NewMat4Identity(), eps))
}

func TestSliceCorners(t *testing.T) {
	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(90), 2, 0.1, 100)
	s := cam.State()
	c := s.SliceCorners(1, 10)

	// near bottom-left: half height = tan(45°) * 1, half width = 2
	assert.True(t, c[0].Compare(math.NewVec3(-2, -1, -1), eps))
	assert.True(t, c[6].Compare(math.NewVec3(20, 10, -10), eps))
}

func TestCascadeSplits(t *testing.T) {
	splits := components.CascadeSplits(1, 100, 4, 0.5)
	require.Len(t, splits, 4)
	assert.InDelta(t, 100, splits[3], eps)
	for i := 1; i < len(splits); i++ {
		assert.Greater(t, splits[i], splits[i-1])
	}
	// uniform scheme for lambda 0
	assert.Equal(t, []float32{25.75, 50.5, 75.25, 100}, components.CascadeSplits(1, 100, 4, 0))
}

func TestClampCascades(t *testing.T) {
	tests := []struct {
		count, limit, want uint32
	}{
		{0, 4, 1},
		{3, 4, 3},
		{6, 4, 4},
		{6, 2, 2},
		{6, 0, gpu.MaxCascades},
		{6, 100, gpu.MaxCascades},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, components.ClampCascades(tc.count, tc.limit), "count %d limit %d", tc.count, tc.limit)
	}
}

func TestDirectionalCascadesCoverSlice(t *testing.T) {
	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 50)
	cam.SetPosition(math.NewVec3(0, 2, 8))
	s := cam.State()

	sun := components.NewDirectionalLight(0, "sun", math.NewVec3(-1, -1, -1), math.NewVec3One(), 1)
	assert.Nil(t, sun.UpdateCascades(&s, math.EmptyAABB()))

	sun.SetShadowMaker(true, 3, 4)
	require.True(t, sun.IsShadowMaker())
	casters := math.NewAABBFromPoints(math.NewVec3(-20, -1, -20), math.NewVec3(20, 30, 20))
	cascades := sun.UpdateCascades(&s, casters)
	require.Len(t, cascades, 3)

	prev := s.Near
	for _, c := range cascades {
		assert.InDelta(t, prev, c.Near, eps)
		prev = c.Far
		for _, p := range s.SliceCorners(c.Near, c.Far) {
			ndc := c.ViewProjection.MulVec4(p.ToVec4(1))
			assert.LessOrEqual(t, ndc.X, 1+eps)
			assert.GreaterOrEqual(t, ndc.X, -1-eps)
			assert.LessOrEqual(t, ndc.Y, 1+eps)
			assert.GreaterOrEqual(t, ndc.Y, -1-eps)
			assert.LessOrEqual(t, ndc.Z, 1+eps)
			assert.GreaterOrEqual(t, ndc.Z, -eps)
		}
		// the tallest caster is inside the depth range as well
		top := c.ViewProjection.MulVec4(math.NewVec4(0, 30, 0, 1))
		assert.GreaterOrEqual(t, top.Z, -eps)
	}
	assert.InDelta(t, 50, prev, eps)
}

func TestPointLightNeverMakesShadows(t *testing.T) {
	l := components.NewPointLight(0, "lamp", math.NewVec3(1, 2, 3), math.NewVec3One(), 2, 10)
	l.SetShadowMaker(true, 2, 4)
	assert.False(t, l.IsShadowMaker())

	d := l.PointData()
	assert.Equal(t, math.NewVec4(1, 2, 3, 10), d.Position)
	assert.Equal(t, math.NewVec4(1, 1, 1, 2), d.Color)
}

func TestDirectionalData(t *testing.T) {
	l := components.NewDirectionalLight(0, "sun", math.NewVec3(0, -2, 0), math.NewVec3(1, 0.5, 0), 3)
	d := l.DirectionalData(-1)
	assert.Equal(t, math.NewVec4(0, -1, 0, -1), d.Direction)
	assert.Equal(t, math.NewVec4(1, 0.5, 0, 3), d.Color)
}

func TestModelHierarchy(t *testing.T) {
	ctx := newContext(t)
	mesh := newCube(t, ctx, gpu.MaterialKindOpaque)

	parent := components.NewModel(0, "parent", math.TransformFromPosition(math.NewVec3(10, 0, 0)), []*metadata.Mesh{mesh})
	child := components.NewModel(0, "child", math.TransformFromPosition(math.NewVec3(0, 1, 0)), []*metadata.Mesh{mesh})
	parent.AddChild(child)
	pb, cb := bind(t, ctx, parent), bind(t, ctx, child)

	assert.Same(t, parent, child.Parent())
	var visited []string
	parent.Walk(func(m *components.Model) { visited = append(visited, m.Name()) })
	assert.Equal(t, []string{"parent", "child"}, visited)

	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 100)
	cam.SetPosition(math.NewVec3(10, 0, 20))
	s := cam.State()
	require.NoError(t, pb.Update(0, &s))
	require.NoError(t, cb.Update(0, &s))

	center, radius := child.BoundingSphere()
	assert.True(t, center.Compare(math.NewVec3(10, 1, 0), eps))
	assert.InDelta(t, mesh.CullingRadius, radius, eps)
	assert.False(t, cb.IsCulled())

	b := child.WorldBounds()
	assert.True(t, b.Min.Compare(math.NewVec3(9, 0, -1), eps))
	assert.True(t, b.Max.Compare(math.NewVec3(11, 2, 1), eps))

	assert.Same(t, child, parent.RemoveChild(child.ID()))
	assert.Nil(t, child.Parent())
	require.NoError(t, cb.Update(0, &s))
	center, _ = child.BoundingSphere()
	assert.True(t, center.Compare(math.NewVec3(0, 1, 0), eps))
}

func TestModelCulling(t *testing.T) {
	ctx := newContext(t)
	mesh := newCube(t, ctx, gpu.MaterialKindOpaque)
	m := components.NewModel(0, "m", math.TransformFromPosition(math.NewVec3(0, 0, 50)), []*metadata.Mesh{mesh})
	bm := bind(t, ctx, m)

	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 100)
	s := cam.State()
	require.NoError(t, bm.Update(1, &s))
	assert.True(t, bm.IsCulled())

	m.SetPosition(math.NewVec3(0, 0, -10))
	require.NoError(t, bm.Update(1, &s))
	assert.False(t, bm.IsCulled())

	// a second binding of the same model keeps its own flag
	other := bind(t, ctx, m)
	behind := components.NewPerspectiveCamera(0, "b", math.DegToRad(60), 1, 0.1, 100)
	behind.SetPosition(math.NewVec3(0, 0, -20))
	behind.LookAt(math.NewVec3(0, 0, -40), math.NewVec3Up())
	bs := behind.State()
	require.NoError(t, other.Update(1, &bs))
	assert.True(t, other.IsCulled())
	assert.False(t, bm.IsCulled())

	other.Binding().Destroy()
	assert.ErrorIs(t, other.Update(1, &bs), core.ErrInvalidState)
}

func TestModelUniformWrittenToFrameSlice(t *testing.T) {
	ctx := newContext(t)
	mesh := newCube(t, ctx, gpu.MaterialKindTransparent)
	m := components.NewModel(0, "m", math.TransformFromPosition(math.NewVec3(1, 2, 3)), []*metadata.Mesh{mesh})

	assert.True(t, m.HasMeshes(components.DrawTransparent))
	assert.False(t, m.HasMeshes(components.DrawOpaque))
	assert.False(t, m.HasMeshes(components.DrawShadowCasters))

	cam := components.NewPerspectiveCamera(0, "c", math.DegToRad(60), 1, 0.1, 100)
	s := cam.State()
	require.NoError(t, bind(t, ctx, m).Update(2, &s))
	assert.Equal(t, math.NewVec3(1, 2, 3), m.Transform().GetWorld().Translation())
}
