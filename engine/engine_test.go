package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
	"github.com/spaghettifunk/prism/engine/platform/headless"
	"github.com/spaghettifunk/prism/engine/scene"
)

func testConfig(t *testing.T) *engine.ApplicationConfig {
	cfg := engine.DefaultApplicationConfig()
	cfg.ContentWidth, cfg.ContentHeight = 320, 240
	cfg.EnableAnisotropicTexture = false
	cfg.Renderer.Backend = stub.BackendName
	cfg.Renderer.Kernels = 2
	cfg.Renderer.ShadowMapSize = 256
	cfg.NumberCascadedShadows = 1
	cfg.Renderer.PipelineCache = filepath.Join(t.TempDir(), "pipeline.cache")
	cfg.Assets.Path = t.TempDir()
	cfg.Assets.Watch = false
	cfg.Log.Level = "warn"
	return cfg
}

type recorder struct {
	updates  int
	renders  int
	resizes  [][2]uint32
	shutdown int
}

func (r *recorder) game() *engine.Game {
	g := &engine.Game{}
	g.FnInitialize = func() error {
		s, err := g.SystemManager.Scenes().Create("empty", scene.KindGame)
		if err != nil {
			return err
		}
		g.Scenes.Add(s)
		return g.Scenes.SetActive(s.ID())
	}
	g.FnUpdate = func(float64) error { r.updates++; return nil }
	g.FnRender = func(float64) error { r.renders++; return nil }
	g.FnOnResize = func(w, h uint32) error {
		r.resizes = append(r.resizes, [2]uint32{w, h})
		return nil
	}
	g.FnShutdown = func() error { r.shutdown++; return nil }
	return g
}

func run(t *testing.T, cfg *engine.ApplicationConfig, g *engine.Game, p *headless.Provider) *engine.Engine {
	e, err := engine.NewWithProvider(cfg, g, p)
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, engine.EngineStageInitialized, e.Stage())
	require.NoError(t, e.Run(context.Background()))
	return e
}

func TestRunUntilQuit(t *testing.T) {
	cfg := testConfig(t)
	rec := &recorder{}
	p := headless.New(320, 240).At(5, func(p *headless.Provider) { p.RequestQuit() })

	e := run(t, cfg, rec.game(), p)

	assert.Equal(t, 4, rec.updates)
	assert.Equal(t, 4, rec.renders)
	assert.Equal(t, uint64(4), e.Metrics().Presents.Load())
	assert.Equal(t, 5, p.Polls())

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, 1, rec.shutdown)
	assert.Equal(t, engine.EngineStageUninitialized, e.Stage())
	assert.FileExists(t, cfg.Renderer.PipelineCache)
}

func TestMinimizeSuspendsFrames(t *testing.T) {
	rec := &recorder{}
	p := headless.New(320, 240).
		At(2, func(p *headless.Provider) { p.Resize(0, 0) }).
		At(4, func(p *headless.Provider) { p.Resize(320, 240) }).
		At(6, func(p *headless.Provider) { p.RequestQuit() })

	e := run(t, testConfig(t), rec.game(), p)
	t.Cleanup(func() { assert.NoError(t, e.Shutdown()) })

	assert.Equal(t, 3, rec.updates)
	assert.Equal(t, uint64(3), e.Metrics().Presents.Load())
	assert.Zero(t, e.Metrics().SwapchainRecreations.Load())
	assert.Equal(t, [][2]uint32{{320, 240}, {320, 240}}, rec.resizes)
}

func TestEscapeRequestsQuit(t *testing.T) {
	rec := &recorder{}
	p := headless.New(320, 240).At(2, func(p *headless.Provider) {
		p.Push(core.Event{Kind: core.EventKeyPress, Key: core.KEY_ESCAPE})
	})

	e := run(t, testConfig(t), rec.game(), p)
	t.Cleanup(func() { assert.NoError(t, e.Shutdown()) })

	assert.Equal(t, 1, rec.updates)
	assert.True(t, p.ShouldQuit())
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	e, err := engine.NewWithProvider(testConfig(t), rec.game(), headless.New(320, 240))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Shutdown()) })
	require.NoError(t, e.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Zero(t, rec.updates)
	assert.Zero(t, e.Metrics().Presents.Load())
}

func TestRunBeforeInitialize(t *testing.T) {
	e, err := engine.NewWithProvider(testConfig(t), nil, headless.New(320, 240))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Run(context.Background()), core.ErrInvalidState)
	assert.NoError(t, e.Shutdown())
}

func TestInitializeUnknownScene(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenes = []uint64{4242}
	e, err := engine.NewWithProvider(cfg, nil, headless.New(320, 240))
	require.NoError(t, err)

	assert.ErrorIs(t, e.Initialize(context.Background()), core.ErrResourceNotFound)
	assert.NoError(t, e.Shutdown())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	t.Run("overrides", func(t *testing.T) {
		cfg, err := engine.LoadConfig(write("ok.toml", `
application_name = "demo"
content_width = 800
content_height = 600
screen_state = "fullscreen"
max_directional_cascades_matrix_count = 9
number_cascaded_shadows = 2
max_frames_in_flight = 2
scenes = [10, 11]

[renderer]
backend = "stub"
kernels = 3
ssao = false

[log]
level = "debug"
`))
		require.NoError(t, err)
		assert.Equal(t, "demo", cfg.ApplicationName)
		assert.Equal(t, uint32(800), cfg.ContentWidth)
		assert.Equal(t, uint32(4), cfg.MaxDirectionalCascadesMatrixCount)
		assert.Equal(t, []uint64{10, 11}, cfg.Scenes)
		assert.True(t, cfg.Headless())
		assert.True(t, cfg.PlatformConfig().Fullscreen)

		opts := cfg.RendererOptions()
		assert.Equal(t, 3, opts.Scheduler.Kernels)
		assert.Equal(t, uint32(2), opts.Scheduler.FramesInFlight)
		assert.Equal(t, uint32(2), opts.Scheduler.MaxShadowLights)

		sys := cfg.SystemsConfig()
		assert.False(t, sys.SSAO)
		assert.Equal(t, uint32(4), sys.MaxCascades)
		// untouched keys keep their defaults
		assert.Equal(t, "pipeline.cache", cfg.Renderer.PipelineCache)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := engine.LoadConfig(filepath.Join(dir, "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, engine.DefaultApplicationConfig(), cfg)
	})

	tests := []struct {
		name string
		body string
		want error
	}{
		{"malformed", "content_width = [", core.ErrInvalidState},
		{"zero size", "content_width = 0", core.ErrInvalidState},
		{"screen state", `screen_state = "borderless"`, core.ErrInvalidState},
		{"backend", "[renderer]\nbackend = \"metal\"", core.ErrBackendInitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.LoadConfig(write(tt.name+".toml", tt.body))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
