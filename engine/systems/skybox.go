package systems

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type SkyboxSystem struct {
	cache         *Cache[metadata.Skybox]
	textureSystem *TextureSystem
	assetManager  *assets.AssetManager
}

func NewSkyboxSystem(ts *TextureSystem, am *assets.AssetManager) *SkyboxSystem {
	return &SkyboxSystem{
		cache:         NewCache[metadata.Skybox]("skybox"),
		textureSystem: ts,
		assetManager:  am,
	}
}

func (ss *SkyboxSystem) Get(id uint64) (*metadata.Skybox, error) {
	return ss.cache.Get(id, ss.load)
}

func (ss *SkyboxSystem) load(id uint64) (*metadata.Skybox, error) {
	var rec gx3d.SkyboxRecord
	if err := ss.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	cube, err := ss.textureSystem.Get(rec.Texture)
	if err != nil {
		return nil, fmt.Errorf("skybox %d: %w", id, err)
	}
	return metadata.NewSkybox(id, fmt.Sprintf("skybox-%d", id), cube)
}

// Create wraps a runtime cube texture. A nil texture uses the default cube.
func (ss *SkyboxSystem) Create(name string, cube *metadata.Texture) (*metadata.Skybox, error) {
	if cube == nil {
		var err error
		if cube, err = ss.textureSystem.Default(DefaultTextureCube); err != nil {
			return nil, err
		}
	}
	sb, err := metadata.NewSkybox(0, name, cube)
	if err != nil {
		return nil, err
	}
	if err := ss.cache.Add(sb); err != nil {
		return nil, err
	}
	return sb, nil
}

func (ss *SkyboxSystem) Cache() *Cache[metadata.Skybox] {
	return ss.cache
}

func (ss *SkyboxSystem) Shutdown() error {
	return nil
}
