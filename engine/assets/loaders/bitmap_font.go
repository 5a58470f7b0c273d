package loaders

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"

	"github.com/fzipp/bmfont"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// BitmapFontLoader reads AngelCode BMFont descriptors (.fnt) and their page
// images, which live next to the descriptor.
type BitmapFontLoader struct {
	// ResourcePath is the directory relative paths are resolved against.
	ResourcePath string
}

func (fl *BitmapFontLoader) Load(name string, src Source) (*FontData, error) {
	path := src.Path
	if path == "" {
		return nil, fmt.Errorf("bitmap font %q has no descriptor path: %w", name, core.ErrMalformedAsset)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(fl.ResourcePath, path)
	}
	if filepath.Ext(path) != ".fnt" {
		return nil, fmt.Errorf("bitmap font %q: unsupported descriptor %s: %w", name, filepath.Base(path), core.ErrMalformedAsset)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("bitmap font %q: %w: %w", name, core.ErrIO, err)
	}
	return fl.importFNTFile(path)
}

func (fl *BitmapFontLoader) importFNTFile(fntFileName string) (*FontData, error) {
	font, err := bmfont.Load(fntFileName)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", fntFileName, core.ErrMalformedAsset, err)
	}

	out := &FontData{
		Type:       metadata.FontTypeBitmap,
		Face:       font.Descriptor.Info.Face,
		Size:       uint32(font.Descriptor.Info.Size),
		LineHeight: int32(font.Descriptor.Common.LineHeight),
		Baseline:   int32(font.Descriptor.Common.Base),
		AtlasSizeX: int32(font.Descriptor.Common.ScaleW),
		AtlasSizeY: int32(font.Descriptor.Common.ScaleH),
		Glyphs:     make([]metadata.FontGlyph, 0, len(font.Descriptor.Chars)),
		Kernings:   make([]metadata.FontKerning, 0, len(font.Descriptor.Kerning)),
	}

	files := make(map[int]string, len(font.Descriptor.Pages))
	for _, p := range font.Descriptor.Pages {
		files[int(p.ID)] = p.File
	}
	dir := filepath.Dir(fntFileName)
	out.Pages = make([]*image.RGBA, len(files))
	for id, file := range files {
		if id < 0 || id >= len(out.Pages) {
			return nil, fmt.Errorf("%s: page id %d out of %d pages: %w", fntFileName, id, len(files), core.ErrMalformedAsset)
		}
		page, err := loadPage(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}
		out.Pages[id] = page
	}

	for _, g := range font.Descriptor.Chars {
		if int(g.Page) >= len(out.Pages) {
			return nil, fmt.Errorf("%s: glyph %d on missing page %d: %w", fntFileName, g.ID, g.Page, core.ErrMalformedAsset)
		}
		out.Glyphs = append(out.Glyphs, metadata.FontGlyph{
			Codepoint: rune(g.ID),
			X:         uint16(g.X),
			Y:         uint16(g.Y),
			Width:     uint16(g.Width),
			Height:    uint16(g.Height),
			XOffset:   int16(g.XOffset),
			YOffset:   int16(g.YOffset),
			XAdvance:  int16(g.XAdvance),
			PageID:    uint8(g.Page),
		})
	}
	slices.SortFunc(out.Glyphs, func(a, b metadata.FontGlyph) int { return int(a.Codepoint - b.Codepoint) })

	for p, k := range font.Descriptor.Kerning {
		out.Kernings = append(out.Kernings, metadata.FontKerning{
			Codepoint0: rune(p.First),
			Codepoint1: rune(p.Second),
			Amount:     int16(k.Amount),
		})
	}
	return out, nil
}

func loadPage(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("font page %s: %w: %w", path, core.ErrIO, err)
	}
	img, err := (&ImageLoader{}).Load(filepath.Base(path), Source{Path: path, Data: data})
	if err != nil {
		return nil, err
	}
	return img.Faces[0][0], nil
}
