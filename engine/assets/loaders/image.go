package loaders

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/prism/engine/core"
)

// CubeFaceCount is the number of faces stacked in a cube texture image.
const CubeFaceCount = 6

// ImageLoader decodes PNG, JPEG, BMP, TIFF and WebP payloads into RGBA8.
type ImageLoader struct {
	// Mipmaps makes Load attach a full mip chain.
	Mipmaps bool
}

// Image is a decoded texture: one mip chain per face, full size first.
type Image struct {
	Format string
	Faces  [][]*image.RGBA
}

func (il *ImageLoader) Load(name string, src Source) (*Image, error) {
	img, format, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image %q: %w: %w", name, core.ErrMalformedAsset, err)
	}
	rgba := ToRGBA(img)

	var faces []*image.RGBA
	if src.Cube {
		cube, err := CubeFaces(rgba)
		if err != nil {
			return nil, fmt.Errorf("image %q: %w", name, err)
		}
		faces = cube[:]
	} else {
		faces = []*image.RGBA{rgba}
	}

	out := &Image{Format: format, Faces: make([][]*image.RGBA, len(faces))}
	for i, face := range faces {
		if il.Mipmaps {
			out.Faces[i] = MipChain(face)
		} else {
			out.Faces[i] = []*image.RGBA{face}
		}
	}
	return out, nil
}

// ToRGBA converts img to a zero-origin RGBA image, sharing it when it
// already is one.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// MipChain halves img with bilinear filtering down to 1x1.
func MipChain(img *image.RGBA) []*image.RGBA {
	chain := []*image.RGBA{img}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for w > 1 || h > 1 {
		w, h = max(w/2, 1), max(h/2, 1)
		prev := chain[len(chain)-1]
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		chain = append(chain, next)
	}
	return chain
}

// CubeFaces splits a vertical strip (+X, -X, +Y, -Y, +Z, -Z) into six
// square faces.
func CubeFaces(img *image.RGBA) ([CubeFaceCount]*image.RGBA, error) {
	var faces [CubeFaceCount]*image.RGBA
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h != w*CubeFaceCount {
		return faces, fmt.Errorf("cube strip %dx%d is not 1x6 squares: %w", w, h, core.ErrMalformedAsset)
	}
	for i := range faces {
		face := image.NewRGBA(image.Rect(0, 0, w, w))
		draw.Draw(face, face.Bounds(), img, image.Pt(0, i*w), draw.Src)
		faces[i] = face
	}
	return faces, nil
}
