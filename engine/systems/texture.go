package systems

import (
	"fmt"
	"image"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// DefaultTexture names the 1x1 textures substituted for absent material maps.
type DefaultTexture uint8

const (
	DefaultTextureWhite DefaultTexture = iota
	DefaultTextureBlack
	// DefaultTextureNormal is a flat tangent-space normal.
	DefaultTextureNormal
	DefaultTextureCube
)

var defaultColors = map[DefaultTexture][4]byte{
	DefaultTextureWhite:  {255, 255, 255, 255},
	DefaultTextureBlack:  {0, 0, 0, 255},
	DefaultTextureNormal: {128, 128, 255, 255},
	DefaultTextureCube:   {255, 255, 255, 255},
}

func (d DefaultTexture) String() string {
	switch d {
	case DefaultTextureBlack:
		return "default-black"
	case DefaultTextureNormal:
		return "default-normal"
	case DefaultTextureCube:
		return "default-cube"
	}
	return "default-white"
}

type TextureSystemConfig struct {
	/** @brief How many decoded images are kept for re-uploads. */
	MaxDecodedImages int
}

type TextureSystem struct {
	Config *TextureSystemConfig

	cache   *Cache[metadata.Texture]
	decoded *lru.Cache[uint64, *loaders.Image]

	defaultsMu sync.Mutex
	defaults   map[DefaultTexture]*metadata.Texture

	assetManager *assets.AssetManager
	ctx          *gpu.Context
}

func NewTextureSystem(config *TextureSystemConfig, am *assets.AssetManager, ctx *gpu.Context) (*TextureSystem, error) {
	if config.MaxDecodedImages <= 0 {
		err := fmt.Errorf("func NewTextureSystem - config.MaxDecodedImages must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	decoded, err := lru.New[uint64, *loaders.Image](config.MaxDecodedImages)
	if err != nil {
		return nil, err
	}
	return &TextureSystem{
		Config:       config,
		cache:        NewCache[metadata.Texture]("texture"),
		decoded:      decoded,
		defaults:     make(map[DefaultTexture]*metadata.Texture),
		assetManager: am,
		ctx:          ctx,
	}, nil
}

// Get returns the texture stored under id in the container.
func (ts *TextureSystem) Get(id uint64) (*metadata.Texture, error) {
	return ts.cache.Get(id, ts.load)
}

func (ts *TextureSystem) load(id uint64) (*metadata.Texture, error) {
	var rec gx3d.TextureRecord
	if err := ts.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("texture-%d", id)
	img, ok := ts.decoded.Get(id)
	if !ok {
		var err error
		if img, err = ts.assetManager.LoadImage(name, &rec); err != nil {
			return nil, err
		}
		ts.decoded.Add(id, img)
	}
	kind := metadata.TextureType2D
	if rec.Type == gx3d.TextureCube {
		kind = metadata.TextureTypeCube
	}
	core.LogDebug("texture %d: %s %dx%d", id, kind, img.Faces[0][0].Bounds().Dx(), img.Faces[0][0].Bounds().Dy())
	return metadata.CreateTexture(ts.ctx, id, name, kind, img.Faces)
}

// Create uploads a runtime texture under a fresh identifier.
func (ts *TextureSystem) Create(name string, kind metadata.TextureType, faces [][]*image.RGBA) (*metadata.Texture, error) {
	t, err := metadata.CreateTexture(ts.ctx, 0, name, kind, faces)
	if err != nil {
		return nil, err
	}
	if err := ts.cache.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ByName finds a live texture by name.
func (ts *TextureSystem) ByName(name string) *metadata.Texture {
	return ts.cache.ByName(name)
}

// Default returns the 1x1 texture d, creating it on first use. Defaults stay
// alive until Shutdown.
func (ts *TextureSystem) Default(d DefaultTexture) (*metadata.Texture, error) {
	ts.defaultsMu.Lock()
	defer ts.defaultsMu.Unlock()
	if t, ok := ts.defaults[d]; ok {
		return t, nil
	}
	px := metadata.SolidColor(defaultColors[d], 1)
	kind := metadata.TextureType2D
	faces := [][]*image.RGBA{{px}}
	if d == DefaultTextureCube {
		kind = metadata.TextureTypeCube
		faces = make([][]*image.RGBA, loaders.CubeFaceCount)
		for i := range faces {
			faces[i] = []*image.RGBA{px}
		}
	}
	t, err := ts.Create(d.String(), kind, faces)
	if err != nil {
		return nil, err
	}
	ts.defaults[d] = t
	return t, nil
}

// SolidColor creates a 1x1 texture of the given color.
func (ts *TextureSystem) SolidColor(name string, c [4]byte) (*metadata.Texture, error) {
	return ts.Create(name, metadata.TextureType2D, [][]*image.RGBA{{metadata.SolidColor(c, 1)}})
}

func (ts *TextureSystem) Cache() *Cache[metadata.Texture] {
	return ts.cache
}

// Reset forgets decoded images after the container changed.
func (ts *TextureSystem) Reset() {
	ts.decoded.Purge()
	ts.cache.Sweep()
}

func (ts *TextureSystem) Shutdown() error {
	ts.defaultsMu.Lock()
	clear(ts.defaults)
	ts.defaultsMu.Unlock()
	ts.decoded.Purge()
	return nil
}
