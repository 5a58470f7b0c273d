package systems_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
)

const (
	textureID   = 7
	meshID      = 42
	parentID    = 100
	childID     = 101
	loopID      = 200
	pingID      = 210
	pongID      = 211
	cameraID    = 300
	sunID       = 400
	lampID      = 401
	sceneID     = 500
	brokenScene = 501
	cycleScene  = 502
)

func pngBytes(t *testing.T, w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testContainer(t *testing.T) []byte {
	w := gx3d.NewWriter(nil)
	vertices, indices := math.GeometryCube(1, 2, 3)

	require.NoError(t, w.Add(textureID, &gx3d.TextureRecord{Type: gx3d.Texture2D, Data: pngBytes(t, 4, 2, color.RGBA{R: 255, A: 255})}))

	mat := gx3d.MaterialRecord{Type: gx3d.MaterialOpaque, BaseColor: math.NewVec4(1, 1, 1, 1), Roughness: 0.5}
	mat.Textures[gx3d.SlotBaseColor] = gx3d.TextureSlot{Present: true, ID: textureID}
	require.NoError(t, w.Add(meshID, &gx3d.MeshRecord{Vertices: vertices, Indices: indices, Material: mat}))

	require.NoError(t, w.Add(parentID, &gx3d.ModelRecord{Name: "parent", Meshes: []uint64{meshID}, Children: []uint64{childID}}))
	require.NoError(t, w.Add(childID, &gx3d.ModelRecord{Name: "child", Position: math.NewVec3(0, 2, 0), Meshes: []uint64{meshID}}))
	require.NoError(t, w.Add(loopID, &gx3d.ModelRecord{Name: "loop", Meshes: []uint64{meshID}, Children: []uint64{loopID}}))
	require.NoError(t, w.Add(pingID, &gx3d.ModelRecord{Name: "ping", Meshes: []uint64{meshID}, Children: []uint64{pongID}}))
	require.NoError(t, w.Add(pongID, &gx3d.ModelRecord{Name: "pong", Meshes: []uint64{meshID}, Children: []uint64{pingID}}))

	require.NoError(t, w.Add(cameraID, &gx3d.CameraRecord{
		Type: gx3d.CameraPerspective, Name: "main", Position: math.NewVec3(0, 0, 10),
		Near: 0.1, Far: 100, FovY: 1, Aspect: 1.5,
	}))
	require.NoError(t, w.Add(sunID, &gx3d.LightRecord{
		Type: gx3d.LightDirectional, Name: "sun", Color: math.NewVec3One(), Intensity: 3,
		CastsShadows: true, Direction: math.NewVec3(0, -1, 0), CascadeCount: 9,
	}))
	require.NoError(t, w.Add(lampID, &gx3d.LightRecord{
		Type: gx3d.LightPoint, Name: "lamp", Color: math.NewVec3One(), Intensity: 1,
		Position: math.NewVec3(1, 1, 1), Radius: 5,
	}))

	require.NoError(t, w.Add(sceneID, &gx3d.SceneRecord{
		Type:        gx3d.SceneGame,
		Cameras:     []uint64{cameraID},
		Audios:      []uint64{1, 2},
		Lights:      []uint64{sunID, lampID},
		Models:      []uint64{parentID},
		HasPostFX:   true,
		PostFX:      gx3d.PostFX{Exposure: 2, Gamma: 2.2, SSAORadius: 1, SSAOBias: 0.1, SSAOStrength: 0},
		Constraints: []uint64{3},
	}))
	require.NoError(t, w.Add(brokenScene, &gx3d.SceneRecord{Type: gx3d.SceneGame, Models: []uint64{parentID, 9999}}))
	require.NoError(t, w.Add(cycleScene, &gx3d.SceneRecord{Type: gx3d.SceneGame, Models: []uint64{pingID, pongID}}))
	return w.Bytes()
}

func newManager(t *testing.T) *systems.SystemManager {
	dev, err := stub.NewDevice(gpu.DeviceConfig{FramesInFlight: 2}, nil)
	require.NoError(t, err)
	ctx, err := gpu.NewContext(dev, gpu.ContextConfig{FramesInFlight: 2, Buffers: gpu.DefaultBufferManagerConfig()})
	require.NoError(t, err)
	c, err := gx3d.OpenBytes(testContainer(t))
	require.NoError(t, err)
	am := assets.FromContainer(c, t.TempDir())

	cfg := systems.DefaultSystemManagerConfig()
	cfg.Workers = 4
	sm, err := systems.NewSystemManager(cfg, am, ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, sm.Shutdown())
		assert.NoError(t, am.Shutdown())
		ctx.Destroy()
		dev.Destroy()
	})
	return sm
}

func TestMeshLoadsOnceWhileAlive(t *testing.T) {
	sm := newManager(t)
	meshes := sm.Meshes()

	first, err := meshes.Get(meshID)
	require.NoError(t, err)
	again, err := meshes.Get(meshID)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, uint64(1), meshes.Cache().Constructions())
	assert.Equal(t, uint64(meshID), first.ID())
	assert.Greater(t, first.CullingRadius, float32(0))

	require.Eventually(t, func() bool {
		runtime.GC()
		return meshes.Cache().Lookup(meshID) == nil
	}, 5*time.Second, 10*time.Millisecond)

	reloaded, err := meshes.Get(meshID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), meshes.Cache().Constructions())
	runtime.KeepAlive(reloaded)
}

func TestConcurrentMissesShareOneInstance(t *testing.T) {
	sm := newManager(t)
	meshes := sm.Meshes()

	const n = 16
	got := make([]*metadata.Mesh, n)
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			m, err := meshes.Get(meshID)
			assert.NoError(t, err)
			got[i] = m
		}()
	}
	close(start)
	wg.Wait()

	for _, m := range got {
		assert.Same(t, got[0], m)
	}
	assert.Equal(t, uint64(1), meshes.Cache().Constructions())
}

func TestMissingRecord(t *testing.T) {
	sm := newManager(t)
	_, err := sm.Meshes().Get(9999)
	assert.ErrorIs(t, err, core.ErrResourceNotFound)
	assert.Zero(t, sm.Meshes().Cache().Constructions())
}

func TestTextureFromContainer(t *testing.T) {
	sm := newManager(t)
	tex, err := sm.Textures().Get(textureID)
	require.NoError(t, err)
	assert.Equal(t, metadata.TextureType2D, tex.Type)
	assert.Equal(t, uint32(4), tex.Width)
	assert.Equal(t, uint32(2), tex.Height)
	assert.Same(t, tex, sm.Textures().ByName("texture-7"))
}

func TestDefaultTexturesAreStable(t *testing.T) {
	sm := newManager(t)
	for _, d := range []systems.DefaultTexture{
		systems.DefaultTextureWhite,
		systems.DefaultTextureBlack,
		systems.DefaultTextureNormal,
		systems.DefaultTextureCube,
	} {
		a, err := sm.Textures().Default(d)
		require.NoError(t, err)
		b, err := sm.Textures().Default(d)
		require.NoError(t, err)
		assert.Same(t, a, b, d.String())
	}
	cube, err := sm.Textures().Default(systems.DefaultTextureCube)
	require.NoError(t, err)
	assert.Equal(t, metadata.TextureTypeCube, cube.Type)
}

func TestMaterialSlotDefaults(t *testing.T) {
	sm := newManager(t)
	mesh, err := sm.Meshes().Get(meshID)
	require.NoError(t, err)
	mat := mesh.Material
	require.NotNil(t, mat)

	base, err := sm.Textures().Get(textureID)
	require.NoError(t, err)
	normal, err := sm.Textures().Default(systems.DefaultTextureNormal)
	require.NoError(t, err)
	black, err := sm.Textures().Default(systems.DefaultTextureBlack)
	require.NoError(t, err)

	assert.Same(t, base, mat.Texture(metadata.SlotBaseColor))
	assert.Same(t, normal, mat.Texture(metadata.SlotNormal))
	assert.Same(t, black, mat.Texture(metadata.SlotEmissive))
	assert.Equal(t, uint32(gpu.MaterialKindOpaque), mat.Kind())
	assert.Zero(t, mat.Uniform().Flags[1], "no normal map")
}

func TestUniformFromRecord(t *testing.T) {
	rec := &gx3d.MaterialRecord{
		Type:              gx3d.MaterialTransparent,
		BaseColor:         math.NewVec4(1, 0, 0, 0.5),
		Emissive:          math.NewVec3(0.1, 0.2, 0.3),
		Metallic:          0.25,
		Roughness:         0.75,
		NormalScale:       1,
		OcclusionStrength: 0.5,
		AlphaCutoff:       0.3,
	}
	rec.Textures[gx3d.SlotNormal] = gx3d.TextureSlot{Present: true, ID: 1}

	u := systems.Uniform(rec)
	assert.Equal(t, math.NewVec4(0.1, 0.2, 0.3, 0.3), u.Emissive)
	assert.Equal(t, math.NewVec4(0.25, 0.75, 1, 0.5), u.Factors)
	assert.Equal(t, uint32(gpu.MaterialKindTransparent), u.Flags[0])
	assert.Equal(t, uint32(1), u.Flags[1])
}

func TestRuntimeMaterialUsesDefaults(t *testing.T) {
	sm := newManager(t)
	def, err := sm.Materials().Default()
	require.NoError(t, err)
	again, err := sm.Materials().Default()
	require.NoError(t, err)
	assert.Same(t, def, again)
	assert.Same(t, def, sm.Materials().ByName(metadata.DefaultMaterialName))

	mesh, err := sm.Meshes().Cube("box", 1, 1, 1, nil)
	require.NoError(t, err)
	assert.Same(t, def, mesh.Material)
	assert.Same(t, mesh, sm.Meshes().ByName("box"))
}

func TestModelHierarchy(t *testing.T) {
	sm := newManager(t)
	parent, err := sm.Models().Get(parentID)
	require.NoError(t, err)
	require.Len(t, parent.Children(), 1)
	child := parent.Children()[0]
	assert.Equal(t, "child", child.Name())
	assert.Same(t, parent, child.Parent())
	assert.Same(t, parent.Meshes()[0], child.Meshes()[0], "meshes are shared")
	assert.Equal(t, uint64(1), sm.Meshes().Cache().Constructions())
}

func TestModelCycleIsRejected(t *testing.T) {
	sm := newManager(t)
	_, err := sm.Models().Get(loopID)
	assert.ErrorIs(t, err, core.ErrMalformedAsset)
}

func TestSceneWithMutualModelsFails(t *testing.T) {
	sm := newManager(t)
	require.GreaterOrEqual(t, sm.Jobs().Workers(), 2)

	done := make(chan error, 1)
	go func() {
		_, err := sm.Scenes().Load(context.Background(), cycleScene)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrMalformedAsset)
	case <-time.After(5 * time.Second):
		t.Fatal("scene load with mutually nested models did not return")
	}

	_, err := sm.Models().Get(pongID)
	assert.ErrorIs(t, err, core.ErrMalformedAsset)
}

func TestLightCascadesAreClamped(t *testing.T) {
	sm := newManager(t)
	sun, err := sm.Lights().Get(sunID)
	require.NoError(t, err)
	assert.True(t, sun.IsShadowMaker())
	assert.Equal(t, uint32(4), sun.CascadeCount())

	lamp, err := sm.Lights().Get(lampID)
	require.NoError(t, err)
	assert.False(t, lamp.IsShadowMaker())
}

func TestCameraFromRecord(t *testing.T) {
	sm := newManager(t)
	cam, err := sm.Cameras().Get(cameraID)
	require.NoError(t, err)
	assert.Equal(t, "main", cam.Name())
	assert.Equal(t, math.NewVec3(0, 0, 10), cam.GetPosition())
	assert.NotNil(t, sm.Cameras().GetDefault())
}

func TestSceneLoad(t *testing.T) {
	sm := newManager(t)
	s, err := sm.Scenes().Load(context.Background(), sceneID)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)

	assert.Equal(t, scene.KindGame, s.Kind)
	assert.Len(t, s.Cameras(), 1)
	assert.Len(t, s.Lights(), 2)
	assert.Equal(t, 2, s.ModelCount(), "parent and child")
	assert.Nil(t, s.Skybox())

	pfx := s.PostFX()
	assert.Equal(t, float32(2), pfx.Exposure)
	assert.False(t, pfx.SSAO, "zero strength disables occlusion")

	same, err := sm.Scenes().Load(context.Background(), sceneID)
	require.NoError(t, err)
	assert.Same(t, s, same)
}

func TestSceneLoadFailsOnMissingModel(t *testing.T) {
	sm := newManager(t)
	_, err := sm.Scenes().Load(context.Background(), brokenScene)
	assert.ErrorIs(t, err, core.ErrResourceNotFound)
}

func TestPostFXRespectsConfiguration(t *testing.T) {
	p := gx3d.PostFX{Exposure: 1, Gamma: 2.2, SSAOStrength: 1}
	assert.True(t, systems.PostFX(p, true).SSAO)
	assert.False(t, systems.PostFX(p, false).SSAO)
}

func TestJobSystem(t *testing.T) {
	_, err := systems.NewJobSystem(-1)
	assert.ErrorIs(t, err, systems.ErrNoWorkers)

	js, err := systems.NewJobSystem(0)
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), js.Workers())

	js, err = systems.NewJobSystem(2)
	require.NoError(t, err)

	var ran, peak, running atomic.Int32
	jobs := make([]systems.Job, 8)
	for i := range jobs {
		jobs[i] = func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			ran.Add(1)
			return nil
		}
	}
	require.NoError(t, js.Run(context.Background(), jobs...))
	assert.Equal(t, int32(8), ran.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))

	boom := errors.New("boom")
	err = js.Run(context.Background(),
		func(context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	)
	assert.ErrorIs(t, err, boom)
}

func TestReloadSweepsDeadEntries(t *testing.T) {
	sm := newManager(t)
	_, err := sm.Textures().Get(textureID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runtime.GC()
		return sm.Textures().Cache().Lookup(textureID) == nil
	}, 5*time.Second, 10*time.Millisecond)
	sm.Sweep()
	assert.Zero(t, sm.Textures().Cache().Entries())
}
