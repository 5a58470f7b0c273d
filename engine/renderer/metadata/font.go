package metadata

import (
	"github.com/spaghettifunk/prism/engine/math"
)

type FontType uint8

const (
	FontTypeBitmap FontType = iota + 1
	FontTypeSystem
)

type FontGlyph struct {
	Codepoint rune
	X         uint16
	Y         uint16
	Width     uint16
	Height    uint16
	XOffset   int16
	YOffset   int16
	XAdvance  int16
	PageID    uint8
}

type FontKerning struct {
	Codepoint0 rune
	Codepoint1 rune
	Amount     int16
}

// Font is a rasterized face. Glyph rectangles address Pages, which are
// atlas textures of AtlasSizeX x AtlasSizeY texels.
type Font struct {
	Object
	Type       FontType
	Face       string
	Size       uint32
	LineHeight int32
	Baseline   int32
	AtlasSizeX int32
	AtlasSizeY int32
	Pages      []*Texture

	glyphs   map[rune]FontGlyph
	kernings map[[2]rune]int16
}

func NewFont(id uint64, name string, kind FontType, glyphs []FontGlyph, kernings []FontKerning) *Font {
	f := &Font{
		Type:     kind,
		glyphs:   make(map[rune]FontGlyph, len(glyphs)),
		kernings: make(map[[2]rune]int16, len(kernings)),
	}
	f.InitObject(id, name)
	for _, g := range glyphs {
		f.glyphs[g.Codepoint] = g
	}
	for _, k := range kernings {
		f.kernings[[2]rune{k.Codepoint0, k.Codepoint1}] = k.Amount
	}
	return f
}

func (f *Font) Glyph(r rune) (FontGlyph, bool) {
	g, ok := f.glyphs[r]
	return g, ok
}

func (f *Font) GlyphCount() int {
	return len(f.glyphs)
}

func (f *Font) Kerning(a, b rune) int16 {
	return f.kernings[[2]rune{a, b}]
}

/** @brief Width in pixels of the first line of text, kerning included. */
func (f *Font) Measure(text string) float32 {
	var x float32
	prev := rune(-1)
	for _, r := range text {
		if r == '\n' {
			break
		}
		g, ok := f.glyphs[r]
		if !ok {
			continue
		}
		if prev >= 0 {
			x += float32(f.Kerning(prev, r))
		}
		x += float32(g.XAdvance)
		prev = r
	}
	return x
}

// TextGeometry lays text out as one textured quad per glyph, in pixels with
// y growing downwards from the top of the first line. Only page 0 is used.
func (f *Font) TextGeometry(text string) ([]math.Vertex3D, []uint32) {
	var vertices []math.Vertex3D
	var indices []uint32
	var x, y float32
	prev := rune(-1)
	sx, sy := float32(max(f.AtlasSizeX, 1)), float32(max(f.AtlasSizeY, 1))
	for _, r := range text {
		if r == '\n' {
			x = 0
			y += float32(f.LineHeight)
			prev = -1
			continue
		}
		g, ok := f.glyphs[r]
		if !ok || g.PageID != 0 {
			continue
		}
		if prev >= 0 {
			x += float32(f.Kerning(prev, r))
		}
		x0 := x + float32(g.XOffset)
		y0 := y + float32(g.YOffset)
		x1 := x0 + float32(g.Width)
		y1 := y0 + float32(g.Height)
		u0, v0 := float32(g.X)/sx, float32(g.Y)/sy
		u1, v1 := float32(g.X+g.Width)/sx, float32(g.Y+g.Height)/sy

		base := uint32(len(vertices))
		n := math.NewVec3(0, 0, 1)
		t := math.NewVec4(1, 0, 0, 1)
		vertices = append(vertices,
			math.Vertex3D{Position: math.NewVec3(x0, -y0, 0), Normal: n, Tangent: t, Texcoord: math.NewVec2(u0, v0)},
			math.Vertex3D{Position: math.NewVec3(x1, -y0, 0), Normal: n, Tangent: t, Texcoord: math.NewVec2(u1, v0)},
			math.Vertex3D{Position: math.NewVec3(x1, -y1, 0), Normal: n, Tangent: t, Texcoord: math.NewVec2(u1, v1)},
			math.Vertex3D{Position: math.NewVec3(x0, -y1, 0), Normal: n, Tangent: t, Texcoord: math.NewVec2(u0, v1)},
		)
		indices = append(indices, base, base+2, base+1, base, base+3, base+2)
		x += float32(g.XAdvance)
		prev = r
	}
	return vertices, indices
}
