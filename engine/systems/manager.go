package systems

import (
	"errors"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/scene"
)

type SystemManagerConfig struct {
	// Workers bounds parallel scene loading; 0 means one per CPU.
	Workers          int
	MaxDecodedImages int
	// MaxCascades clamps the cascade count of directional lights.
	MaxCascades uint32
	// MaxShadowLights caps the shadow-making lights of each scene.
	MaxShadowLights uint32
	SSAO            bool
}

func DefaultSystemManagerConfig() SystemManagerConfig {
	return SystemManagerConfig{
		MaxDecodedImages: 64,
		MaxCascades:      4,
		MaxShadowLights:  6,
		SSAO:             true,
	}
}

// SystemManager aggregates the resource managers and keeps them in step with
// the asset container.
type SystemManager struct {
	jobSystem      *JobSystem
	textureSystem  *TextureSystem
	materialSystem *MaterialSystem
	meshSystem     *MeshSystem
	fontSystem     *FontSystem
	modelSystem    *ModelSystem
	cameraSystem   *CameraSystem
	lightSystem    *LightSystem
	skyboxSystem   *SkyboxSystem
	sceneSystem    *SceneSystem
}

func NewSystemManager(cfg SystemManagerConfig, am *assets.AssetManager, ctx *gpu.Context) (*SystemManager, error) {
	js, err := NewJobSystem(cfg.Workers)
	if err != nil {
		return nil, err
	}
	ts, err := NewTextureSystem(&TextureSystemConfig{
		MaxDecodedImages: cfg.MaxDecodedImages,
	}, am, ctx)
	if err != nil {
		return nil, err
	}
	cs, err := NewCameraSystem(&CameraSystemConfig{
		DefaultFovY:   math.DegToRad(60),
		DefaultAspect: 16.0 / 9.0,
		DefaultNear:   0.1,
		DefaultFar:    1000,
	}, am)
	if err != nil {
		return nil, err
	}
	ms := NewMaterialSystem(ts, ctx)
	mls := NewMeshSystem(ms, am, ctx)
	mos := NewModelSystem(mls, am)
	ls := NewLightSystem(&LightSystemConfig{MaxCascades: cfg.MaxCascades}, am)
	ss := NewSkyboxSystem(ts, am)

	sceneCfg := scene.DefaultConfig()
	sceneCfg.MaxCascades = cfg.MaxCascades
	sceneCfg.MaxShadowLights = cfg.MaxShadowLights

	sm := &SystemManager{
		jobSystem:      js,
		textureSystem:  ts,
		materialSystem: ms,
		meshSystem:     mls,
		fontSystem:     NewFontSystem(ts, am),
		modelSystem:    mos,
		cameraSystem:   cs,
		lightSystem:    ls,
		skyboxSystem:   ss,
		sceneSystem:    NewSceneSystem(&sceneCfg, js, cs, ls, mos, ss, am, ctx, cfg.SSAO),
	}
	am.OnReload(sm.onReload)
	return sm, nil
}

// onReload drops decoded images and dead entries. Live objects keep the
// contents they were built from; the next miss reads the new file.
func (sm *SystemManager) onReload(generation uint64) {
	sm.textureSystem.Reset()
	n := sm.Sweep()
	core.LogInfo("resource caches refreshed for container generation %d (%d dead entries swept)", generation, n)
}

// Sweep removes dead weak entries from every cache.
func (sm *SystemManager) Sweep() int {
	return sm.textureSystem.Cache().Sweep() +
		sm.materialSystem.Cache().Sweep() +
		sm.meshSystem.Cache().Sweep() +
		sm.fontSystem.Cache().Sweep() +
		sm.modelSystem.Cache().Sweep() +
		sm.cameraSystem.Cache().Sweep() +
		sm.lightSystem.Cache().Sweep() +
		sm.skyboxSystem.Cache().Sweep() +
		sm.sceneSystem.Cache().Sweep()
}

func (sm *SystemManager) Jobs() *JobSystem         { return sm.jobSystem }
func (sm *SystemManager) Textures() *TextureSystem { return sm.textureSystem }
func (sm *SystemManager) Materials() *MaterialSystem {
	return sm.materialSystem
}
func (sm *SystemManager) Meshes() *MeshSystem     { return sm.meshSystem }
func (sm *SystemManager) Fonts() *FontSystem      { return sm.fontSystem }
func (sm *SystemManager) Models() *ModelSystem    { return sm.modelSystem }
func (sm *SystemManager) Cameras() *CameraSystem  { return sm.cameraSystem }
func (sm *SystemManager) Lights() *LightSystem    { return sm.lightSystem }
func (sm *SystemManager) Skyboxes() *SkyboxSystem { return sm.skyboxSystem }
func (sm *SystemManager) Scenes() *SceneSystem    { return sm.sceneSystem }

// Shutdown releases what the systems hold strongly, dependents first.
func (sm *SystemManager) Shutdown() error {
	return errors.Join(
		sm.sceneSystem.Shutdown(),
		sm.skyboxSystem.Shutdown(),
		sm.lightSystem.Shutdown(),
		sm.cameraSystem.Shutdown(),
		sm.modelSystem.Shutdown(),
		sm.fontSystem.Shutdown(),
		sm.meshSystem.Shutdown(),
		sm.materialSystem.Shutdown(),
		sm.textureSystem.Shutdown(),
		sm.jobSystem.Shutdown(),
	)
}
