package stub

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func unorm8(v float32) byte {
	return byte(math.Round(float64(clamp01(v)) * 255))
}

func linearToSrgb(c float32) float32 {
	if c <= 0.0031308 {
		return c * 12.92
	}
	return float32(1.055*math.Pow(float64(c), 1/2.4) - 0.055)
}

func halfToFloat(h uint16) float32 { return gpu.HalfToFloat(h) }

// floatToHalf converts to IEEE 754 binary16.
func floatToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23&0xff) - 127 + 15
	frac := bits & 0x7fffff
	switch {
	case exp >= 0x1f:
		if bits&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		frac |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(frac >> shift)
		if frac>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	}
	half := sign | uint16(exp)<<10 | uint16(frac>>13)
	if frac&0x1000 != 0 {
		half++
	}
	return half
}

func decodePixel(f gpu.Format, b []byte) [4]float32 { return f.Decode(b) }

// encodePixel is the inverse of decodePixel.
func encodePixel(f gpu.Format, v [4]float32, b []byte) {
	switch f {
	case gpu.FormatRGBA8Unorm:
		for i := 0; i < 4; i++ {
			b[i] = unorm8(v[i])
		}
	case gpu.FormatRGBA8Srgb:
		for i := 0; i < 3; i++ {
			b[i] = unorm8(linearToSrgb(clamp01(v[i])))
		}
		b[3] = unorm8(v[3])
	case gpu.FormatBGRA8Unorm:
		b[0], b[1], b[2], b[3] = unorm8(v[2]), unorm8(v[1]), unorm8(v[0]), unorm8(v[3])
	case gpu.FormatR8Unorm:
		b[0] = unorm8(v[0])
	case gpu.FormatRGBA16F:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint16(b[i*2:], floatToHalf(v[i]))
		}
	case gpu.FormatR16F:
		binary.LittleEndian.PutUint16(b, floatToHalf(v[0]))
	case gpu.FormatRGBA32F:
		for i := 0; i < 4; i++ {
			binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v[i]))
		}
	case gpu.FormatR32F, gpu.FormatD32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v[0]))
	case gpu.FormatD32S8:
		binary.LittleEndian.PutUint32(b, math.Float32bits(v[0]))
		binary.LittleEndian.PutUint32(b[4:], 0)
	case gpu.FormatD24S8:
		binary.LittleEndian.PutUint32(b, uint32(math.Round(float64(clamp01(v[0]))*0xffffff)))
	case gpu.FormatD16:
		binary.LittleEndian.PutUint16(b, uint16(math.Round(float64(clamp01(v[0]))*0xffff)))
	case gpu.FormatD16S8:
		binary.LittleEndian.PutUint16(b, uint16(math.Round(float64(clamp01(v[0]))*0xffff)))
		binary.LittleEndian.PutUint16(b[2:], 0)
	}
}

func (img *image) region(r gpu.ImageCopy, bufLen int) (gpu.Extent, int, error) {
	if r.Layer >= img.desc.Layers || r.MipLevel >= img.desc.MipLevels {
		return gpu.Extent{}, 0, fmt.Errorf("copy to layer %d mip %d of %q: %w", r.Layer, r.MipLevel, img.desc.Name, core.ErrInvalidState)
	}
	e := r.Extent
	if e.IsZero() {
		e = img.mipExtent(r.MipLevel)
	}
	bpp := img.desc.Format.BytesPerPixel()
	size := int(e.Width*e.Height) * bpp
	if int(r.BufferOffset)+size > bufLen {
		return gpu.Extent{}, 0, fmt.Errorf("copy of %d bytes at %d overruns buffer of %d: %w", size, r.BufferOffset, bufLen, core.ErrInvalidState)
	}
	return e, bpp, nil
}

func (img *image) upload(src []byte, r gpu.ImageCopy) error {
	e, bpp, err := img.region(r, len(src))
	if err != nil {
		return err
	}
	off := int(r.BufferOffset)
	for y := 0; y < int(e.Height); y++ {
		for x := 0; x < int(e.Width); x++ {
			img.setTexel(r.Layer, r.MipLevel, x, y, decodePixel(img.desc.Format, src[off:off+bpp]))
			off += bpp
		}
	}
	return nil
}

func (img *image) readback(dst []byte, r gpu.ImageCopy) error {
	e, bpp, err := img.region(r, len(dst))
	if err != nil {
		return err
	}
	off := int(r.BufferOffset)
	for y := 0; y < int(e.Height); y++ {
		for x := 0; x < int(e.Width); x++ {
			encodePixel(img.desc.Format, img.texel(r.Layer, r.MipLevel, x, y), dst[off:off+bpp])
			off += bpp
		}
	}
	return nil
}
