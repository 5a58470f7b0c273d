package gpu

import (
	"encoding/binary"
	"math"
)

// HalfToFloat converts an IEEE 754 binary16 value.
func HalfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch {
	case exp == 0 && frac == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x3ff
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}

func srgbToLinear(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return float32(math.Pow((float64(c)+0.055)/1.055, 2.4))
}

// Decode reads one packed pixel of format f into linear RGBA. Single
// channel and depth formats fill the first component only.
func (f Format) Decode(b []byte) [4]float32 {
	var v [4]float32
	switch f {
	case FormatRGBA8Unorm:
		for i := 0; i < 4; i++ {
			v[i] = float32(b[i]) / 255
		}
	case FormatRGBA8Srgb:
		for i := 0; i < 3; i++ {
			v[i] = srgbToLinear(float32(b[i]) / 255)
		}
		v[3] = float32(b[3]) / 255
	case FormatBGRA8Unorm:
		v = [4]float32{float32(b[2]) / 255, float32(b[1]) / 255, float32(b[0]) / 255, float32(b[3]) / 255}
	case FormatR8Unorm:
		v[0] = float32(b[0]) / 255
	case FormatRGBA16F:
		for i := 0; i < 4; i++ {
			v[i] = HalfToFloat(binary.LittleEndian.Uint16(b[i*2:]))
		}
	case FormatR16F:
		v[0] = HalfToFloat(binary.LittleEndian.Uint16(b))
	case FormatRGBA32F:
		for i := 0; i < 4; i++ {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	case FormatR32F, FormatD32, FormatD32S8:
		v[0] = math.Float32frombits(binary.LittleEndian.Uint32(b))
	case FormatD24S8:
		v[0] = float32(binary.LittleEndian.Uint32(b)&0xffffff) / 0xffffff
	case FormatD16, FormatD16S8:
		v[0] = float32(binary.LittleEndian.Uint16(b)) / 0xffff
	}
	return v
}
