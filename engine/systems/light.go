package systems

import (
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/components"
)

type LightSystemConfig struct {
	// MaxCascades is the configured cascade matrix count. Light records
	// asking for more are clamped to it.
	MaxCascades uint32
}

type LightSystem struct {
	Config       *LightSystemConfig
	cache        *Cache[components.Light]
	assetManager *assets.AssetManager
}

func NewLightSystem(config *LightSystemConfig, am *assets.AssetManager) *LightSystem {
	return &LightSystem{
		Config:       config,
		cache:        NewCache[components.Light]("light"),
		assetManager: am,
	}
}

func (ls *LightSystem) Get(id uint64) (*components.Light, error) {
	return ls.cache.Get(id, ls.load)
}

func (ls *LightSystem) load(id uint64) (*components.Light, error) {
	var rec gx3d.LightRecord
	if err := ls.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	if rec.Type == gx3d.LightPoint {
		return components.NewPointLight(id, rec.Name, rec.Position, rec.Color, rec.Intensity, rec.Radius), nil
	}
	l := components.NewDirectionalLight(id, rec.Name, rec.Direction, rec.Color, rec.Intensity)
	if rec.CastsShadows {
		l.SetShadowMaker(true, rec.CascadeCount, ls.Config.MaxCascades)
		if l.CascadeCount() != rec.CascadeCount {
			core.LogWarn("light %q: %d cascades clamped to %d", rec.Name, rec.CascadeCount, l.CascadeCount())
		}
	}
	return l, nil
}

// Sun creates a shadow-making directional light with the configured
// cascade count.
func (ls *LightSystem) Sun(name string, direction, color math.Vec3, intensity float32) (*components.Light, error) {
	l := components.NewDirectionalLight(0, name, direction, color, intensity)
	l.SetShadowMaker(true, ls.Config.MaxCascades, ls.Config.MaxCascades)
	if err := ls.cache.Add(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Register tracks a light built by the caller.
func (ls *LightSystem) Register(l *components.Light) error {
	return ls.cache.Add(l)
}

func (ls *LightSystem) Cache() *Cache[components.Light] {
	return ls.cache
}

func (ls *LightSystem) Shutdown() error {
	return nil
}
