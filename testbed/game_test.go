package testbed

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/platform/headless"
	"github.com/spaghettifunk/prism/engine/renderer"
)

func TestEnsureWorld(t *testing.T) {
	dir := t.TempDir()
	written, err := EnsureWorld(dir)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = EnsureWorld(dir)
	require.NoError(t, err)
	assert.False(t, written)

	c, err := gx3d.Open(filepath.Join(dir, gx3d.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	var rec gx3d.SceneRecord
	require.NoError(t, c.Load(WorldScene, &rec))
	assert.Equal(t, []uint64{PlaneModel, CubeModel}, rec.Models)
	assert.Equal(t, []uint64{Sun}, rec.Lights)
}

func TestTestbedRendersWorld(t *testing.T) {
	cfg := engine.DefaultApplicationConfig()
	cfg.ContentWidth, cfg.ContentHeight = 160, 90
	cfg.EnableAnisotropicTexture = false
	cfg.Renderer.Backend = stub.BackendName
	cfg.Renderer.Kernels = 2
	cfg.Renderer.ShadowMapSize = 256
	cfg.NumberCascadedShadows = 1
	cfg.Renderer.PipelineCache = ""
	cfg.Assets.Path = t.TempDir()
	cfg.Assets.Watch = false
	cfg.Log.Level = "warn"

	tg := NewTestGame()
	p := headless.New(160, 90).At(4, func(p *headless.Provider) { p.RequestQuit() })
	e, err := engine.NewWithProvider(cfg, tg.Game, p)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, e.Shutdown()) })

	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, []uint64{WorldScene}, cfg.Scenes)

	state := tg.State.(*gameState)
	require.NotNil(t, state.world)
	require.NotNil(t, state.cube)
	assert.Equal(t, state.world, e.Scenes().Active())

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(3), e.Metrics().Presents.Load())
	assert.Greater(t, state.spin, float32(0))

	shadows, err := e.Renderer().Scheduler().ReadTarget(state.world.ID(), renderer.TargetShadowMap, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, shadows.Data)
}
