package scene_test

import (
	"image"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/scene"
)

type fixture struct {
	ctx         *gpu.Context
	opaque      *metadata.Mesh
	transparent *metadata.Mesh
}

func newFixture(t *testing.T) *fixture {
	dev, err := stub.NewDevice(gpu.DeviceConfig{FramesInFlight: 3}, nil)
	require.NoError(t, err)
	ctx, err := gpu.NewContext(dev, gpu.ContextConfig{FramesInFlight: 3, Buffers: gpu.DefaultBufferManagerConfig()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx.Destroy()
		dev.Destroy()
	})
	return &fixture{
		ctx:         ctx,
		opaque:      newMesh(t, ctx, gpu.MaterialKindOpaque),
		transparent: newMesh(t, ctx, gpu.MaterialKindTransparent),
	}
}

func newMesh(t *testing.T, ctx *gpu.Context, kind uint32) *metadata.Mesh {
	white, err := metadata.CreateTexture(ctx, 0, "white", metadata.TextureType2D, [][]*image.RGBA{{metadata.SolidColor([4]byte{255, 255, 255, 255}, 1)}})
	require.NoError(t, err)
	var textures [metadata.TextureSlotCount]*metadata.Texture
	for i := range textures {
		textures[i] = white
	}
	mat, err := metadata.NewMaterial(ctx, 0, "m", gpu.MaterialUniform{BaseColor: math.NewVec4(1, 1, 1, 0.5), Flags: [4]uint32{kind}}, textures)
	require.NoError(t, err)
	vertices, indices := math.GeometryCube(1, 1, 1)
	mesh, err := metadata.NewMesh(ctx, 0, "cube", vertices, indices, 0, mat)
	require.NoError(t, err)
	return mesh
}

func (f *fixture) model(t *testing.T, name string, at math.Vec3, mesh *metadata.Mesh) *components.Model {
	return components.NewModel(0, name, math.TransformFromPosition(at), []*metadata.Mesh{mesh})
}

func (f *fixture) scene(t *testing.T, kind scene.Kind) *scene.Scene {
	s, err := scene.New(f.ctx, 0, "s", kind, scene.DefaultConfig())
	require.NoError(t, err)
	s.SetExtent(gpu.Extent{Width: 640, Height: 480})
	t.Cleanup(s.Destroy)
	return s
}

func TestEmptySceneUpdates(t *testing.T) {
	f := newFixture(t)
	s := f.scene(t, scene.KindGame)
	assert.Nil(t, s.Frame(0))

	for frame := uint32(0); frame < 3; frame++ {
		require.NoError(t, s.Update(frame))
		fr := s.Frame(frame)
		require.NotNil(t, fr)
		assert.Empty(t, fr.Models)
		assert.Empty(t, fr.Shadows)
	}
	// the fallback camera follows the extent
	assert.InDelta(t, 640.0/480.0, s.Frame(0).Camera.Aspect, 1e-5)
}

func TestRenderableModelsOrderedByID(t *testing.T) {
	f := newFixture(t)
	s := f.scene(t, scene.KindGame)

	a := f.model(t, "a", math.NewVec3(0, 0, -5), f.opaque)
	b := f.model(t, "b", math.NewVec3(1, 0, -5), f.opaque)
	child := f.model(t, "child", math.NewVec3(0, 1, 0), f.opaque)
	b.AddChild(child)
	hidden := f.model(t, "hidden", math.NewVec3(0, 0, -5), f.opaque)
	hidden.SetRenderable(false)

	s.AddModel(b)
	s.AddModel(hidden)
	s.AddModel(a)
	assert.Equal(t, 4, s.ModelCount())

	require.NoError(t, s.Update(1))
	var ids []uint64
	for _, m := range s.RenderableModels(1) {
		ids = append(ids, m.ID())
	}
	assert.Equal(t, []uint64{a.ID(), b.ID(), child.ID()}, ids)
	assert.Nil(t, s.RenderableModels(0))

	assert.Same(t, b, s.RemoveModel(b.ID()))
	assert.Equal(t, 2, s.ModelCount())
	assert.Nil(t, s.Model(child.ID()))
}

func TestDeadWeakModelsAreSwept(t *testing.T) {
	f := newFixture(t)
	s := f.scene(t, scene.KindGame)

	parent := f.model(t, "parent", math.NewVec3(0, 0, -5), f.opaque)
	parent.AddChild(f.model(t, "child", math.NewVec3(0, 1, 0), f.opaque))
	s.AddModel(parent)
	require.Equal(t, 2, s.ModelCount())

	for _, c := range parent.Children() {
		parent.RemoveChild(c.ID())
	}
	runtime.GC()
	runtime.GC()
	require.NoError(t, s.Update(0))
	assert.Equal(t, 1, s.ModelCount())
	assert.Len(t, s.RenderableModels(0), 1)
}

func TestTransparentModelsBackToFront(t *testing.T) {
	f := newFixture(t)
	s := f.scene(t, scene.KindGame)
	cam := components.NewPerspectiveCamera(0, "cam", math.DegToRad(60), 1, 0.1, 100)
	s.AddCamera(cam)

	near := f.model(t, "near", math.NewVec3(0, 0, -2), f.transparent)
	far := f.model(t, "far", math.NewVec3(0, 0, -20), f.transparent)
	mid := f.model(t, "mid", math.NewVec3(0.5, 0, -8), f.transparent)
	behind := f.model(t, "behind", math.NewVec3(0, 0, 20), f.transparent)
	solid := f.model(t, "solid", math.NewVec3(0, 0, -4), f.opaque)
	for _, m := range []*components.Model{near, far, mid, behind, solid} {
		s.AddModel(m)
	}

	require.NoError(t, s.Update(2))
	got := s.TransparentModels(2)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"far", "mid", "near"}, []string{got[0].Name(), got[1].Name(), got[2].Name()})
	assert.True(t, s.Binding(behind.ID()).IsCulled())
	assert.Len(t, s.RenderableModels(2), 5)
}

func TestSharedModelCulledPerScene(t *testing.T) {
	f := newFixture(t)
	front := f.scene(t, scene.KindGame)
	back := f.scene(t, scene.KindGame)

	ahead := components.NewPerspectiveCamera(0, "ahead", math.DegToRad(60), 1, 0.1, 100)
	front.AddCamera(ahead)
	away := components.NewPerspectiveCamera(0, "away", math.DegToRad(60), 1, 0.1, 100)
	away.SetPosition(math.NewVec3(0, 0, -20))
	away.LookAt(math.NewVec3(0, 0, -40), math.NewVec3Up())
	back.AddCamera(away)

	shared := f.model(t, "shared", math.NewVec3(0, 0, -5), f.opaque)
	front.AddModel(shared)
	back.AddModel(shared)

	require.NoError(t, front.Update(0))
	require.NoError(t, back.Update(0))

	fb, bb := front.Binding(shared.ID()), back.Binding(shared.ID())
	require.NotNil(t, fb)
	require.NotNil(t, bb)
	assert.NotSame(t, fb, bb)
	assert.False(t, fb.IsCulled())
	assert.True(t, bb.IsCulled())

	// the later update of the other scene leaves the first one alone
	require.Len(t, front.RenderableModels(0), 1)
	assert.False(t, front.RenderableModels(0)[0].IsCulled())
	assert.Same(t, shared, front.RenderableModels(0)[0].Model)

	assert.Same(t, shared, back.RemoveModel(shared.ID()))
	require.NoError(t, back.Update(1))
	assert.Nil(t, back.Binding(shared.ID()))
	assert.NotNil(t, front.Binding(shared.ID()))
}

func TestActiveCamera(t *testing.T) {
	f := newFixture(t)
	s := f.scene(t, scene.KindGame)
	fallback := s.ActiveCamera()
	require.NotNil(t, fallback)

	c1 := components.NewPerspectiveCamera(0, "c1", 1, 1, 0.1, 10)
	c2 := components.NewPerspectiveCamera(0, "c2", 1, 1, 0.1, 10)
	s.AddCamera(c1)
	s.AddCamera(c2)
	assert.Same(t, c1, s.ActiveCamera())

	require.NoError(t, s.SetActiveCamera(c2.ID()))
	assert.Same(t, c2, s.ActiveCamera())
	assert.ErrorIs(t, s.SetActiveCamera(12345678), core.ErrResourceNotFound)

	s.RemoveCamera(c2.ID())
	assert.Same(t, fallback, s.ActiveCamera())
	assert.Len(t, s.Cameras(), 1)
}

func TestShadowSlotsAreCapped(t *testing.T) {
	f := newFixture(t)
	cfg := scene.DefaultConfig()
	cfg.MaxShadowLights = 2
	cfg.MaxCascades = 2
	s, err := scene.New(f.ctx, 0, "s", scene.KindGame, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)

	var suns []*components.Light
	for i := 0; i < 3; i++ {
		l := components.NewDirectionalLight(0, "sun", math.NewVec3(-1, -1, -1), math.NewVec3One(), 1)
		l.SetShadowMaker(true, 4, 4)
		s.AddLight(l)
		suns = append(suns, l)
	}
	s.AddLight(components.NewPointLight(0, "lamp", math.NewVec3Zero(), math.NewVec3One(), 1, 5))
	s.AddModel(f.model(t, "cube", math.NewVec3(0, 0, -5), f.opaque))

	require.NoError(t, s.Update(0))
	fr := s.Frame(0)
	require.Len(t, fr.Shadows, 2)
	for i, sc := range fr.Shadows {
		assert.Equal(t, uint32(i), sc.Slot)
		assert.Same(t, suns[i], sc.Light)
		assert.Len(t, sc.Cascades, 2)
	}
	assert.Equal(t, uint32(2), suns[2].CascadeCount())
	assert.Len(t, s.Lights(), 4)
}

func TestManager(t *testing.T) {
	f := newFixture(t)
	m := scene.NewManager()
	ui := f.scene(t, scene.KindUI)
	game := f.scene(t, scene.KindGame)

	m.Add(ui)
	assert.Nil(t, m.Active())
	m.Add(game)
	assert.Same(t, game, m.Active())
	assert.Same(t, m, game.Manager())

	assert.ErrorIs(t, m.SetActive(ui.ID()), core.ErrResourceNotFound)
	got, err := m.Get(ui.ID())
	require.NoError(t, err)
	assert.Same(t, ui, got)
	assert.Len(t, m.Scenes(), 2)

	require.NoError(t, m.Update(1))
	assert.NotNil(t, ui.Frame(1))
	assert.Equal(t, components.CameraOrthographic, ui.Frame(1).Camera.Kind)
	assert.InDelta(t, 640, ui.Frame(1).Camera.Width, 1e-5)

	assert.Same(t, game, m.Remove(game.ID()))
	assert.Nil(t, m.Active())
	assert.Nil(t, game.Manager())
	_, err = m.Get(game.ID())
	assert.ErrorIs(t, err, core.ErrResourceNotFound)
}
