package renderer_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"runtime"
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
	"github.com/spaghettifunk/prism/engine/platform/headless"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
)

const (
	redTexture  = 1001
	cubeMesh    = 1002
	planeMesh   = 1003
	cubeModel   = 1004
	planeModel  = 1005
	mainCamera  = 1006
	sunLight    = 1007
	cubeScene   = 1010
	shadowScene = 1011

	shadowMapSize = 256
)

func redPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func material() gx3d.MaterialRecord {
	mat := gx3d.MaterialRecord{Type: gx3d.MaterialOpaque, BaseColor: math.NewVec4(1, 1, 1, 1), Roughness: 1}
	mat.Textures[gx3d.SlotBaseColor] = gx3d.TextureSlot{Present: true, ID: redTexture}
	return mat
}

// testWorld holds a red unit cube at the origin, and a 20x20 plane under a
// cube floating at y=1 lit by a sun.
func testWorld(t *testing.T) []byte {
	w := gx3d.NewWriter(nil)
	require.NoError(t, w.Add(redTexture, &gx3d.TextureRecord{Type: gx3d.Texture2D, Data: redPNG(t)}))

	cv, ci := math.GeometryCube(1, 1, 1)
	require.NoError(t, w.Add(cubeMesh, &gx3d.MeshRecord{Vertices: cv, Indices: ci, Material: material()}))
	pv, pi := math.GeometryPlane(20, 20, 1, 1)
	require.NoError(t, w.Add(planeMesh, &gx3d.MeshRecord{Vertices: pv, Indices: pi, Material: material()}))

	require.NoError(t, w.Add(cubeModel, &gx3d.ModelRecord{Name: "cube", Meshes: []uint64{cubeMesh}}))
	require.NoError(t, w.Add(planeModel, &gx3d.ModelRecord{Name: "plane", Meshes: []uint64{planeMesh}}))
	require.NoError(t, w.Add(cubeModel+100, &gx3d.ModelRecord{Name: "floating-cube", Position: math.NewVec3(0, 1, 0), Meshes: []uint64{cubeMesh}}))

	require.NoError(t, w.Add(mainCamera, &gx3d.CameraRecord{
		Type: gx3d.CameraPerspective, Name: "main", Position: math.NewVec3(0, 0, 3),
		Near: 0.1, Far: 30, FovY: 1, Aspect: 4.0 / 3.0,
	}))
	require.NoError(t, w.Add(sunLight, &gx3d.LightRecord{
		Type: gx3d.LightDirectional, Name: "sun", Color: math.NewVec3One(), Intensity: 3,
		CastsShadows: true, Direction: math.NewVec3(-1, -1, -1), CascadeCount: 1,
	}))

	require.NoError(t, w.Add(cubeScene, &gx3d.SceneRecord{
		Type: gx3d.SceneGame, Cameras: []uint64{mainCamera}, Models: []uint64{cubeModel},
	}))
	require.NoError(t, w.Add(shadowScene, &gx3d.SceneRecord{
		Type:    gx3d.SceneGame,
		Cameras: []uint64{mainCamera},
		Lights:  []uint64{sunLight},
		Models:  []uint64{planeModel, cubeModel + 100},
	}))
	return w.Bytes()
}

type harness struct {
	r       *renderer.Renderer
	device  *stub.Device
	scenes  *scene.Manager
	metrics *core.Metrics
	systems *systems.SystemManager
}

func newHarness(t *testing.T, provider core.SurfaceProvider, kernels int) *harness {
	opts := renderer.DefaultOptions()
	opts.Backend = stub.BackendName
	opts.EnableAnisotropy = false
	opts.Scheduler.Kernels = kernels
	opts.Scheduler.ShadowMapSize = shadowMapSize
	opts.Scheduler.MaxShadowLights = 1
	r, err := renderer.New(opts, provider)
	require.NoError(t, err)

	c, err := gx3d.OpenBytes(testWorld(t))
	require.NoError(t, err)
	am := assets.FromContainer(c, t.TempDir())
	cfg := systems.DefaultSystemManagerConfig()
	cfg.Workers = 2
	cfg.MaxShadowLights = 1
	sm, err := systems.NewSystemManager(cfg, am, r.Context())
	require.NoError(t, err)

	h := &harness{
		r:       r,
		device:  r.Device().(*stub.Device),
		scenes:  scene.NewManager(),
		metrics: core.NewMetrics(),
		systems: sm,
	}
	t.Cleanup(func() {
		if s := r.Scheduler(); s != nil {
			assert.NoError(t, s.Shutdown())
		}
		h.scenes.Destroy()
		assert.NoError(t, sm.Shutdown())
		assert.NoError(t, am.Shutdown())
		assert.NoError(t, r.Shutdown())
	})
	return h
}

func (h *harness) load(t *testing.T, id uint64) *scene.Scene {
	s, err := h.systems.Scenes().Load(context.Background(), id)
	require.NoError(t, err)
	h.scenes.Add(s)
	return s
}

func (h *harness) start(t *testing.T) *renderer.Scheduler {
	require.NoError(t, h.r.Start(h.scenes, h.metrics))
	return h.r.Scheduler()
}

func (h *harness) render(t *testing.T, frames int) {
	for i := 0; i < frames; i++ {
		require.NoError(t, h.r.DrawFrame(), "frame %d", i+1)
	}
}

func TestEmptySceneSteadyState(t *testing.T) {
	h := newHarness(t, headless.New(640, 480), 2)
	s, err := h.systems.Scenes().Create("empty", scene.KindGame)
	require.NoError(t, err)
	h.scenes.Add(s)
	h.start(t)
	compiled := h.r.Context().Pipelines.Compilations()

	h.render(t, 10)

	assert.Equal(t, uint64(10), h.metrics.Presents.Load())
	assert.Equal(t, uint64(10), h.device.Counters().Presents)
	assert.LessOrEqual(t, h.metrics.FenceWaits.Load(), uint64(10))
	assert.Zero(t, h.metrics.SkippedFrames.Load())
	assert.Equal(t, compiled, h.r.Context().Pipelines.Compilations())

	shot, err := h.r.Scheduler().ReadPresented()
	require.NoError(t, err)
	assert.Equal(t, gpu.Extent{Width: 640, Height: 480}, shot.Extent)
	px := shot.RGBA8(320, 240)
	assert.Equal(t, [3]byte{}, [3]byte(px[:3]))
}

func TestCubeAlbedo(t *testing.T) {
	h := newHarness(t, headless.New(640, 480), 2)
	s := h.load(t, cubeScene)
	sched := h.start(t)
	h.render(t, 1)

	albedo, err := sched.ReadTarget(s.ID(), renderer.TargetAlbedo, 0)
	require.NoError(t, err)
	px := albedo.RGBA8(320, 240)
	assert.InDelta(t, 255, px[0], 1)
	assert.InDelta(t, 0, px[1], 1)
	assert.InDelta(t, 0, px[2], 1)
	assert.InDelta(t, 255, px[3], 1)
	// the corner misses the cube
	assert.Equal(t, [4]byte{}, albedo.RGBA8(2, 2))

	depth, err := sched.ReadTarget(s.ID(), renderer.TargetDepth, 0)
	require.NoError(t, err)
	assert.Less(t, depth.Float32(320, 240), float32(1))
	assert.Equal(t, float32(1), depth.Float32(2, 2))
}

func shadowTexel(vp math.Mat4, p math.Vec3) (x, y int, z float32, inside bool) {
	ndc := vp.MulVec4(p.ToVec4(1))
	u, v := ndc.X*0.5+0.5, 0.5-ndc.Y*0.5
	inside = u >= 0 && u < 1 && v >= 0 && v < 1 && ndc.Z >= 0 && ndc.Z <= 1
	return int(u * shadowMapSize), int(v * shadowMapSize), ndc.Z, inside
}

func TestDirectionalShadow(t *testing.T) {
	h := newHarness(t, headless.New(640, 480), 3)
	s := h.load(t, shadowScene)
	s.ActiveCamera().SetPosition(math.NewVec3(0, 4, 10))
	s.ActiveCamera().LookAt(math.NewVec3Zero(), math.NewVec3Up())
	sched := h.start(t)
	slot := sched.Frame()
	h.device.ResetPassLog()
	h.render(t, 1)

	assert.Equal(t, []string{
		renderer.PassShadow, renderer.PassGBuffer, renderer.PassSSAO, renderer.PassAccumulate,
		renderer.PassDeferred, renderer.PassTransparent, renderer.PassPresent,
	}, h.device.PassLog())

	f := s.Frame(slot)
	require.NotNil(t, f)
	require.Len(t, f.Shadows, 1)
	require.Len(t, f.Shadows[0].Cascades, 1)
	vp := f.Shadows[0].Cascades[0].ViewProjection

	shadow, err := sched.ReadTarget(s.ID(), renderer.TargetShadowMap, 0)
	require.NoError(t, err)
	require.Equal(t, gpu.Extent{Width: shadowMapSize, Height: shadowMapSize}, shadow.Extent)

	// the ray towards the sun from here crosses the floating cube
	x, y, plane, inside := shadowTexel(vp, math.NewVec3(-0.5, 0, -0.5))
	require.True(t, inside)
	assert.Less(t, shadow.Float32(x, y), plane-0.002)

	x, y, plane, inside = shadowTexel(vp, math.NewVec3(5, 0, 5))
	require.True(t, inside)
	assert.InDelta(t, plane, shadow.Float32(x, y), 0.01)
}

func TestKernelCountDoesNotChangeOutput(t *testing.T) {
	read := func(kernels int) (albedo, depth []byte) {
		h := newHarness(t, headless.New(320, 240), kernels)
		s := h.load(t, shadowScene)
		s.ActiveCamera().SetPosition(math.NewVec3(0, 4, 10))
		s.ActiveCamera().LookAt(math.NewVec3Zero(), math.NewVec3Up())
		sched := h.start(t)
		require.Equal(t, kernels, sched.Kernels())
		h.render(t, 2)
		a, err := sched.ReadTarget(s.ID(), renderer.TargetAlbedo, 0)
		require.NoError(t, err)
		d, err := sched.ReadTarget(s.ID(), renderer.TargetShadowMap, 0)
		require.NoError(t, err)
		return a.Data, d.Data
	}
	a1, d1 := read(1)
	a4, d4 := read(4)
	assert.True(t, bytes.Equal(a1, a4), "albedo differs between 1 and 4 kernels")
	assert.True(t, bytes.Equal(d1, d4), "shadow map differs between 1 and 4 kernels")
}

func TestResizeRecreatesSwapchain(t *testing.T) {
	provider := headless.New(640, 480)
	h := newHarness(t, provider, 2)
	h.load(t, cubeScene)
	sched := h.start(t)

	h.render(t, 5)
	live := h.device.Counters().LiveObjects
	provider.Resize(1280, 720)

	h.render(t, 1)
	assert.Equal(t, uint64(1), h.metrics.SwapchainRecreations.Load())
	assert.Equal(t, uint64(5), h.metrics.Presents.Load())
	assert.Equal(t, uint64(1), h.metrics.SkippedFrames.Load())

	h.render(t, 1)
	assert.Equal(t, uint64(6), h.metrics.Presents.Load())
	assert.Equal(t, gpu.Extent{Width: 1280, Height: 720}, sched.Extent())
	assert.Equal(t, live, h.device.Counters().LiveObjects)

	shot, err := sched.ReadPresented()
	require.NoError(t, err)
	assert.Equal(t, gpu.Extent{Width: 1280, Height: 720}, shot.Extent)
}

func TestMinimizedWindowSkipsQuietly(t *testing.T) {
	provider := headless.New(640, 480)
	h := newHarness(t, provider, 1)
	h.load(t, cubeScene)
	h.start(t)
	h.render(t, 1)

	provider.Resize(0, 0)
	h.render(t, 20)
	assert.Equal(t, uint64(1), h.metrics.Presents.Load())
	assert.Zero(t, h.metrics.SwapchainRecreations.Load())

	provider.Resize(640, 480)
	h.render(t, 1)
	assert.Equal(t, uint64(2), h.metrics.Presents.Load())
}

// flappingProvider reports a different extent on every other query, so the
// swapchain is out of date every time it is acquired.
type flappingProvider struct {
	*headless.Provider
	calls atomic.Int32
}

func (p *flappingProvider) CurrentExtent() (uint32, uint32) {
	if p.calls.Add(1)%2 == 0 {
		return 320, 200
	}
	return 640, 480
}

func TestRecoverableErrorsEscalate(t *testing.T) {
	h := newHarness(t, &flappingProvider{Provider: headless.New(640, 480)}, 1)
	h.load(t, cubeScene)
	h.start(t)

	for i := 0; i < 7; i++ {
		require.NoError(t, h.r.DrawFrame())
	}
	err := h.r.DrawFrame()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Contains(t, err.Error(), "consecutive recoverable errors")
	assert.Equal(t, uint64(8), h.metrics.RecoverableErrors.Load())
	assert.Zero(t, h.metrics.Presents.Load())
}

func TestStartMinimized(t *testing.T) {
	provider := headless.New(0, 0)
	h := newHarness(t, provider, 1)
	h.load(t, cubeScene)
	sched := h.start(t)
	assert.True(t, sched.Extent().IsZero())

	h.render(t, 5)
	assert.Zero(t, h.metrics.Presents.Load())
	assert.Zero(t, h.metrics.RecoverableErrors.Load())

	provider.Resize(320, 240)
	h.render(t, 3)
	assert.Equal(t, uint64(1), h.metrics.SwapchainRecreations.Load())
	assert.Equal(t, uint64(2), h.metrics.Presents.Load())
	assert.Equal(t, gpu.Extent{Width: 320, Height: 240}, sched.Extent())
}

// poolBudget fails command pool creation once left runs out.
type poolBudget struct {
	gpu.Device
	left atomic.Int32
}

func (d *poolBudget) CreateCommandPool(q gpu.QueueKind) (gpu.CommandPool, error) {
	if d.left.Add(-1) < 0 {
		return nil, fmt.Errorf("command pool budget spent: %w", core.ErrOutOfMemory)
	}
	return d.Device.CreateCommandPool(q)
}

func TestFailedStartStopsKernels(t *testing.T) {
	cfg := renderer.DefaultConfig()
	cfg.FramesInFlight = 2
	cfg.Kernels = 3
	cfg.ShadowMapSize = 64
	cfg.MaxShadowLights = 1

	// two frame slots and three kernels of two pools each: every budget
	// below eight fails somewhere in the scheduler setup
	for budget := int32(0); budget <= 8; budget++ {
		dev, err := stub.NewDevice(gpu.DeviceConfig{FramesInFlight: 2}, nil)
		require.NoError(t, err)
		limited := &poolBudget{Device: dev}
		limited.left.Store(1 << 20)
		ctx, err := gpu.NewContext(limited, gpu.ContextConfig{FramesInFlight: 2, Buffers: gpu.DefaultBufferManagerConfig()})
		require.NoError(t, err)

		before := runtime.NumGoroutine()
		limited.left.Store(budget)
		sched, err := renderer.NewScheduler(ctx, headless.New(64, 64), scene.NewManager(), nil, cfg)
		if budget < 8 {
			assert.ErrorIs(t, err, core.ErrOutOfMemory, "budget %d", budget)
		} else {
			require.NoError(t, err)
			require.NoError(t, sched.Shutdown())
		}
		assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before },
			time.Second, 5*time.Millisecond, "kernel goroutines left running with budget %d", budget)

		ctx.Destroy()
		dev.Destroy()
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := newHarness(t, headless.New(64, 64), 2)
	h.load(t, cubeScene)
	sched := h.start(t)
	h.render(t, 3)

	require.NoError(t, sched.Shutdown())
	require.NoError(t, sched.Shutdown())
	assert.ErrorIs(t, sched.Render(), core.ErrInvalidState)
	_, err := sched.ReadTarget(cubeScene, renderer.TargetAlbedo, 0)
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestReadTargetErrors(t *testing.T) {
	h := newHarness(t, headless.New(64, 64), 1)
	s := h.load(t, cubeScene)
	sched := h.start(t)

	_, err := sched.ReadTarget(s.ID(), renderer.TargetAlbedo, 0)
	assert.ErrorIs(t, err, core.ErrResourceNotFound)

	h.render(t, 1)
	_, err = sched.ReadTarget(s.ID(), renderer.TargetAlbedo, 1)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	_, err = sched.ReadTarget(s.ID(), renderer.TargetShadowMap, gpu.MaxCascades-1)
	assert.NoError(t, err)
}
