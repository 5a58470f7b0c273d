package metadata

import (
	"fmt"
	"image"
	"runtime"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

/**
 * @brief Represents various types of textures.
 */
type TextureType uint8

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2D TextureType = iota + 1
	/** @brief A cube texture, used for skyboxes. */
	TextureTypeCube
)

func (t TextureType) String() string {
	if t == TextureTypeCube {
		return "cube"
	}
	return "2d"
}

/**
 * @brief Represents a texture resident on the device.
 */
type Texture struct {
	Object
	Type      TextureType
	Width     uint32
	Height    uint32
	MipLevels uint32
	/** @brief True when any texel has alpha below 255. */
	HasTransparency bool
	Image           gpu.Image
	View            gpu.ImageView
	Sampler         gpu.Sampler
}

// CreateTexture uploads RGBA8 pixels. faces holds one mip chain for 2D
// textures and six for cube textures (+X, -X, +Y, -Y, +Z, -Z); each chain
// starts at the full size.
func CreateTexture(ctx *gpu.Context, id uint64, name string, kind TextureType, faces [][]*image.RGBA) (*Texture, error) {
	want := 1
	if kind == TextureTypeCube {
		want = 6
	}
	if len(faces) != want || len(faces[0]) == 0 {
		return nil, fmt.Errorf("texture %q: %d faces for a %s texture: %w", name, len(faces), kind, core.ErrMalformedAsset)
	}
	base := faces[0][0].Bounds()
	mips := uint32(len(faces[0]))
	for _, chain := range faces {
		if len(chain) != int(mips) || chain[0].Bounds().Dx() != base.Dx() || chain[0].Bounds().Dy() != base.Dy() {
			return nil, fmt.Errorf("texture %q: faces differ in size: %w", name, core.ErrMalformedAsset)
		}
	}

	img, err := ctx.Device.CreateImage(gpu.ImageDesc{
		Name:      name,
		Extent:    gpu.Extent{Width: uint32(base.Dx()), Height: uint32(base.Dy())},
		Format:    gpu.FormatRGBA8Unorm,
		Usage:     gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		MipLevels: mips,
		Layers:    uint32(want),
		Cube:      kind == TextureTypeCube,
	})
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", name, err)
	}

	var data []byte
	var regions []gpu.ImageCopy
	transparent := false
	for layer, chain := range faces {
		for mip, level := range chain {
			b := level.Bounds()
			regions = append(regions, gpu.ImageCopy{
				BufferOffset: uint64(len(data)),
				MipLevel:     uint32(mip),
				Layer:        uint32(layer),
				Extent:       gpu.Extent{Width: uint32(b.Dx()), Height: uint32(b.Dy())},
			})
			for y := b.Min.Y; y < b.Max.Y; y++ {
				row := level.Pix[level.PixOffset(b.Min.X, y):level.PixOffset(b.Max.X, y)]
				data = append(data, row...)
				if mip == 0 && !transparent {
					for i := 3; i < len(row); i += 4 {
						if row[i] != 255 {
							transparent = true
							break
						}
					}
				}
			}
		}
	}
	if err := ctx.UploadImage(img, data, regions); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("upload texture %q: %w", name, err)
	}

	view := img.View()
	if kind == TextureTypeCube {
		if view, err = ctx.Device.CreateImageView(img, gpu.ImageViewDesc{Type: gpu.ViewCube}); err != nil {
			img.Destroy()
			return nil, err
		}
	}

	t := &Texture{
		Type:            kind,
		Width:           uint32(base.Dx()),
		Height:          uint32(base.Dy()),
		MipLevels:       mips,
		HasTransparency: transparent,
		Image:           img,
		View:            view,
		Sampler:         ctx.Linear,
	}
	t.InitObject(id, name)
	runtime.AddCleanup(t, releaseImage(ctx, "texture "+name), textureHandles{img, view})
	return t, nil
}

type textureHandles struct {
	image gpu.Image
	view  gpu.ImageView
}

func releaseImage(ctx *gpu.Context, label string) func(textureHandles) {
	return func(h textureHandles) {
		ctx.Release(label, func() {
			if h.view != h.image.View() {
				h.view.Destroy()
			}
			h.image.Destroy()
		})
	}
}

// SolidColor returns a size x size image filled with c.
func SolidColor(c [4]byte, size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], c[:])
	}
	return img
}
