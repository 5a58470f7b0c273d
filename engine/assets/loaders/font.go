package loaders

import (
	"image"

	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Source is what a loader reads: a file path or an in-memory payload, plus
// the parameters the asset record carries.
type Source struct {
	Path string
	Data []byte
	// Cube marks texture payloads holding a vertical cube strip.
	Cube bool
	// Size is the pixel size TrueType faces are rasterized at.
	Size float32
}

// FontData is a rasterized face ready to become a metadata.Font.
type FontData struct {
	Type       metadata.FontType
	Face       string
	Size       uint32
	LineHeight int32
	Baseline   int32
	AtlasSizeX int32
	AtlasSizeY int32
	Glyphs     []metadata.FontGlyph
	Kernings   []metadata.FontKerning
	// Pages are indexed by FontGlyph.PageID.
	Pages []*image.RGBA
}
