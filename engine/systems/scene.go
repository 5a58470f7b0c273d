package systems

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/scene"
)

// SceneSystem assembles scenes from scene records. Cameras, lights and
// models load in parallel; they are added to the scene in record order.
type SceneSystem struct {
	Config *scene.Config

	cache        *Cache[scene.Scene]
	jobSystem    *JobSystem
	cameraSystem *CameraSystem
	lightSystem  *LightSystem
	modelSystem  *ModelSystem
	skyboxSystem *SkyboxSystem
	assetManager *assets.AssetManager
	ctx          *gpu.Context
	enableSSAO   bool
}

func NewSceneSystem(config *scene.Config, js *JobSystem, cs *CameraSystem, ls *LightSystem, mos *ModelSystem, ss *SkyboxSystem, am *assets.AssetManager, ctx *gpu.Context, ssao bool) *SceneSystem {
	return &SceneSystem{
		Config:       config,
		cache:        NewCache[scene.Scene]("scene"),
		jobSystem:    js,
		cameraSystem: cs,
		lightSystem:  ls,
		modelSystem:  mos,
		skyboxSystem: ss,
		assetManager: am,
		ctx:          ctx,
		enableSSAO:   ssao,
	}
}

// Load returns the scene stored under id. The scene is not registered with
// any scene.Manager.
func (sys *SceneSystem) Load(ctx context.Context, id uint64) (*scene.Scene, error) {
	return sys.cache.Get(id, func(id uint64) (*scene.Scene, error) {
		return sys.load(ctx, id)
	})
}

func (sys *SceneSystem) load(ctx context.Context, id uint64) (*scene.Scene, error) {
	var rec gx3d.SceneRecord
	if err := sys.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	kind := scene.KindGame
	if rec.Type == gx3d.SceneUI {
		kind = scene.KindUI
	}

	cameras := make([]*components.Camera, len(rec.Cameras))
	lights := make([]*components.Light, len(rec.Lights))
	models := make([]*components.Model, len(rec.Models))
	var jobs []Job
	for i, cid := range rec.Cameras {
		jobs = append(jobs, func(context.Context) (err error) {
			cameras[i], err = sys.cameraSystem.Get(cid)
			return err
		})
	}
	for i, lid := range rec.Lights {
		jobs = append(jobs, func(context.Context) (err error) {
			lights[i], err = sys.lightSystem.Get(lid)
			return err
		})
	}
	for i, mid := range rec.Models {
		jobs = append(jobs, func(context.Context) (err error) {
			models[i], err = sys.modelSystem.Get(mid)
			return err
		})
	}
	if err := sys.jobSystem.Run(ctx, jobs...); err != nil {
		return nil, fmt.Errorf("scene %d: %w", id, err)
	}

	s, err := scene.New(sys.ctx, id, fmt.Sprintf("scene-%d", id), kind, *sys.Config)
	if err != nil {
		return nil, err
	}
	for _, c := range cameras {
		s.AddCamera(c)
	}
	for _, l := range lights {
		s.AddLight(l)
	}
	for _, m := range models {
		s.AddModel(m)
	}
	if rec.HasSkybox {
		sb, err := sys.skyboxSystem.Get(rec.Skybox)
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("scene %d: %w", id, err)
		}
		s.SetSkybox(sb)
	}
	pfx := gx3d.DefaultPostFX()
	if rec.HasPostFX {
		pfx = rec.PostFX
	}
	s.SetPostFX(PostFX(pfx, sys.enableSSAO))

	core.LogInfo("scene %d loaded: %d cameras, %d lights, %d models (%d audio and %d constraint ids ignored)",
		id, len(cameras), len(lights), s.ModelCount(), len(rec.Audios), len(rec.Constraints))
	return s, nil
}

// PostFX converts the record block; ssao comes from configuration.
func PostFX(p gx3d.PostFX, ssao bool) scene.PostFX {
	return scene.PostFX{
		Exposure:     p.Exposure,
		Gamma:        p.Gamma,
		SSAO:         ssao && p.SSAOStrength > 0,
		SSAORadius:   p.SSAORadius,
		SSAOBias:     p.SSAOBias,
		SSAOStrength: p.SSAOStrength,
	}
}

// Create builds an empty runtime scene.
func (sys *SceneSystem) Create(name string, kind scene.Kind) (*scene.Scene, error) {
	s, err := scene.New(sys.ctx, 0, name, kind, *sys.Config)
	if err != nil {
		return nil, err
	}
	pfx := scene.DefaultPostFX()
	pfx.SSAO = pfx.SSAO && sys.enableSSAO
	s.SetPostFX(pfx)
	if err := sys.cache.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (sys *SceneSystem) Cache() *Cache[scene.Scene] {
	return sys.cache
}

func (sys *SceneSystem) Shutdown() error {
	return nil
}
