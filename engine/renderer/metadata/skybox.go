package metadata

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
)

// Skybox is drawn by the deferred pass wherever the G-buffer is empty.
type Skybox struct {
	Object
	Texture *Texture
}

func NewSkybox(id uint64, name string, cube *Texture) (*Skybox, error) {
	if cube == nil || cube.Type != TextureTypeCube {
		return nil, fmt.Errorf("skybox %q needs a cube texture: %w", name, core.ErrMalformedAsset)
	}
	s := &Skybox{Texture: cube}
	s.InitObject(id, name)
	return s, nil
}
