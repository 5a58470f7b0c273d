package loaders

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const (
	atlasWidth   = 512
	glyphPadding = 1
)

// SystemFontLoader rasterizes a TrueType or OpenType face into a single
// atlas page holding printable ASCII and Latin-1.
type SystemFontLoader struct {
	// DefaultSize is used when the source carries no size.
	DefaultSize float32
}

func (fl *SystemFontLoader) Load(name string, src Source) (*FontData, error) {
	f, err := opentype.Parse(src.Data)
	if err != nil {
		return nil, fmt.Errorf("parse font %q: %w: %w", name, core.ErrMalformedAsset, err)
	}
	size := src.Size
	if size <= 0 {
		size = fl.DefaultSize
	}
	if size <= 0 {
		size = 16
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("font %q face: %w: %w", name, core.ErrMalformedAsset, err)
	}
	defer face.Close()

	family := name
	if n, err := f.Name(nil, sfnt.NameIDFamily); err == nil && n != "" {
		family = n
	}
	return rasterize(face, family, uint32(size)), nil
}

func charset() []rune {
	var out []rune
	for r := rune(32); r < 127; r++ {
		out = append(out, r)
	}
	for r := rune(160); r < 256; r++ {
		out = append(out, r)
	}
	return out
}

type placed struct {
	r      rune
	bounds image.Rectangle
	x, y   int
	adv    fixed.Int26_6
}

func rasterize(face font.Face, family string, size uint32) *FontData {
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	lineHeight := metrics.Height.Ceil()

	// shelf packing, one row per line height
	var glyphs []placed
	x, y, rowHeight := glyphPadding, glyphPadding, 0
	for _, r := range charset() {
		b, adv, ok := face.GlyphBounds(r)
		if !ok {
			continue
		}
		rect := image.Rect(b.Min.X.Floor(), b.Min.Y.Floor(), b.Max.X.Ceil(), b.Max.Y.Ceil())
		if x+rect.Dx()+glyphPadding > atlasWidth {
			x = glyphPadding
			y += rowHeight + glyphPadding
			rowHeight = 0
		}
		glyphs = append(glyphs, placed{r: r, bounds: rect, x: x, y: y, adv: adv})
		x += rect.Dx() + glyphPadding
		rowHeight = max(rowHeight, rect.Dy())
	}
	height := 1
	for height < y+rowHeight+glyphPadding {
		height *= 2
	}

	atlas := image.NewRGBA(image.Rect(0, 0, atlasWidth, height))
	out := &FontData{
		Type:       metadata.FontTypeSystem,
		Face:       family,
		Size:       size,
		LineHeight: int32(lineHeight),
		Baseline:   int32(ascent),
		AtlasSizeX: atlasWidth,
		AtlasSizeY: int32(height),
		Glyphs:     make([]metadata.FontGlyph, 0, len(glyphs)),
		Pages:      []*image.RGBA{atlas},
	}
	for _, g := range glyphs {
		dot := fixed.P(g.x-g.bounds.Min.X, g.y-g.bounds.Min.Y)
		if dr, mask, maskp, _, ok := face.Glyph(dot, g.r); ok {
			draw.DrawMask(atlas, dr, image.White, image.Point{}, mask, maskp, draw.Over)
		}
		out.Glyphs = append(out.Glyphs, metadata.FontGlyph{
			Codepoint: g.r,
			X:         uint16(g.x),
			Y:         uint16(g.y),
			Width:     uint16(g.bounds.Dx()),
			Height:    uint16(g.bounds.Dy()),
			XOffset:   int16(g.bounds.Min.X),
			YOffset:   int16(ascent + g.bounds.Min.Y),
			XAdvance:  int16(g.adv.Round()),
		})
	}

	for _, a := range glyphs {
		for _, b := range glyphs {
			if k := face.Kern(a.r, b.r).Round(); k != 0 {
				out.Kernings = append(out.Kernings, metadata.FontKerning{Codepoint0: a.r, Codepoint1: b.r, Amount: int16(k)})
			}
		}
	}
	return out
}
