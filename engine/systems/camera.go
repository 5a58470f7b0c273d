package systems

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/components"
)

/** @brief The camera system configuration. */
type CameraSystemConfig struct {
	/** @brief Vertical field of view of cameras created by Acquire, in radians. */
	DefaultFovY float32
	/** @brief Aspect ratio of new cameras until the first scene update. */
	DefaultAspect float32
	DefaultNear   float32
	DefaultFar    float32
}

type CameraSystem struct {
	Config *CameraSystemConfig
	// A default camera that always exists as a fallback.
	DefaultCamera *components.Camera

	cache        *Cache[components.Camera]
	assetManager *assets.AssetManager
}

/**
 * @brief Initializes the camera system.
 *
 * @param config The configuration for this system.
 * @return The system or an error when the configuration is invalid.
 */
func NewCameraSystem(config *CameraSystemConfig, am *assets.AssetManager) (*CameraSystem, error) {
	if config.DefaultNear <= 0 || config.DefaultFar <= config.DefaultNear {
		err := fmt.Errorf("func NewCameraSystem - near %f and far %f are not a valid clip range", config.DefaultNear, config.DefaultFar)
		core.LogError(err.Error())
		return nil, err
	}
	cs := &CameraSystem{
		Config:       config,
		cache:        NewCache[components.Camera]("camera"),
		assetManager: am,
	}
	// Setup default camera.
	cs.DefaultCamera = cs.newPerspective(components.DefaultCameraName)
	return cs, nil
}

func (cs *CameraSystem) newPerspective(name string) *components.Camera {
	return components.NewPerspectiveCamera(0, name, cs.Config.DefaultFovY, cs.Config.DefaultAspect, cs.Config.DefaultNear, cs.Config.DefaultFar)
}

/**
 * @brief Shuts down the camera system.
 */
func (cs *CameraSystem) Shutdown() error {
	cs.cache.Sweep()
	return nil
}

/**
 * @brief Loads the camera stored under id in the container.
 */
func (cs *CameraSystem) Get(id uint64) (*components.Camera, error) {
	return cs.cache.Get(id, cs.load)
}

func (cs *CameraSystem) load(id uint64) (*components.Camera, error) {
	var rec gx3d.CameraRecord
	if err := cs.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	var c *components.Camera
	if rec.Type == gx3d.CameraOrthographic {
		c = components.NewOrthographicCamera(id, rec.Name, rec.Width, rec.Height, rec.Near, rec.Far)
	} else {
		c = components.NewPerspectiveCamera(id, rec.Name, rec.FovY, rec.Aspect, rec.Near, rec.Far)
	}
	c.SetPosition(rec.Position)
	if rec.Rotation != (math.Quaternion{}) {
		c.SetRotation(rec.Rotation.Normalize())
	}
	return c, nil
}

/**
 * @brief Acquires a camera by name. If one is not alive, a new perspective
 * camera is created and returned.
 *
 * @param name The name of the camera to acquire.
 */
func (cs *CameraSystem) Acquire(name string) (*components.Camera, error) {
	if name == components.DefaultCameraName {
		return cs.DefaultCamera, nil
	}
	if c := cs.cache.ByName(name); c != nil {
		return c, nil
	}
	core.LogDebug("Creating new camera named '%s'...", name)
	c := cs.newPerspective(name)
	if err := cs.cache.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

/**
 * @brief Gets a pointer to the default camera.
 *
 * @return A pointer to the default camera.
 */
func (cs *CameraSystem) GetDefault() *components.Camera {
	return cs.DefaultCamera
}

func (cs *CameraSystem) Cache() *Cache[components.Camera] {
	return cs.cache
}
