package systems

import (
	"fmt"
	"image"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/assets/loaders"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gx3d"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type FontSystem struct {
	cache         *Cache[metadata.Font]
	textureSystem *TextureSystem
	assetManager  *assets.AssetManager
}

func NewFontSystem(ts *TextureSystem, am *assets.AssetManager) *FontSystem {
	return &FontSystem{
		cache:         NewCache[metadata.Font]("font"),
		textureSystem: ts,
		assetManager:  am,
	}
}

// Get loads a bitmap or TrueType font record and uploads its pages.
func (fs *FontSystem) Get(id uint64) (*metadata.Font, error) {
	return fs.cache.Get(id, fs.load)
}

func (fs *FontSystem) load(id uint64) (*metadata.Font, error) {
	var rec gx3d.FontRecord
	if err := fs.assetManager.Container().Load(id, &rec); err != nil {
		return nil, err
	}
	data, err := fs.assetManager.LoadFont(&rec)
	if err != nil {
		return nil, err
	}
	name := rec.Name
	if name == "" {
		name = fmt.Sprintf("font-%d", id)
	}
	return fs.build(id, name, data)
}

// Create rasterizes TrueType data at size under a fresh identifier.
func (fs *FontSystem) Create(name string, ttf []byte, size float32) (*metadata.Font, error) {
	data, err := fs.assetManager.LoadFont(&gx3d.FontRecord{Type: gx3d.FontTrueType, Name: name, Size: size, Data: ttf})
	if err != nil {
		return nil, err
	}
	f, err := fs.build(0, name, data)
	if err != nil {
		return nil, err
	}
	if err := fs.cache.Add(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (fs *FontSystem) build(id uint64, name string, data *loaders.FontData) (*metadata.Font, error) {
	f := metadata.NewFont(id, name, data.Type, data.Glyphs, data.Kernings)
	f.Face = data.Face
	f.Size = data.Size
	f.LineHeight = data.LineHeight
	f.Baseline = data.Baseline
	f.AtlasSizeX = data.AtlasSizeX
	f.AtlasSizeY = data.AtlasSizeY
	for i, page := range data.Pages {
		if page == nil {
			return nil, fmt.Errorf("font %q page %d missing: %w", name, i, core.ErrMalformedAsset)
		}
		tex, err := fs.textureSystem.Create(fmt.Sprintf("%s/page-%d", name, i), metadata.TextureType2D, [][]*image.RGBA{{page}})
		if err != nil {
			return nil, err
		}
		f.Pages = append(f.Pages, tex)
	}
	core.LogDebug("font %q: %d glyphs, %d pages", name, f.GlyphCount(), len(f.Pages))
	return f, nil
}

func (fs *FontSystem) ByName(name string) *metadata.Font {
	return fs.cache.ByName(name)
}

func (fs *FontSystem) Cache() *Cache[metadata.Font] {
	return fs.cache
}

func (fs *FontSystem) Shutdown() error {
	return nil
}
