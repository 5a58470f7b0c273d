package stub

import (
	"fmt"
	"math"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	m "github.com/spaghettifunk/prism/engine/math"
)

// env resolves descriptor bindings for the draw being bound.
type env struct {
	state *drawState
}

func (e *env) set(set uint32) (*boundSet, error) {
	bs := &e.state.sets[set]
	if bs.set == nil {
		return nil, fmt.Errorf("descriptor set %d not bound: %w", set, core.ErrInvalidState)
	}
	return bs, nil
}

func (e *env) bytes(set, binding uint32) ([]byte, error) {
	bs, err := e.set(set)
	if err != nil {
		return nil, err
	}
	w, ok := bs.set.writes[binding]
	if !ok || w.Buffer == nil {
		return nil, fmt.Errorf("set %d binding %d has no buffer: %w", set, binding, core.ErrInvalidState)
	}
	off := w.Offset
	dyn := 0
	for _, b := range bs.set.layout.Bindings {
		if b.Type != gpu.DescriptorUniformBufferDynamic {
			continue
		}
		if b.Binding == binding {
			off += uint64(bs.offsets[dyn])
			break
		}
		dyn++
	}
	data := w.Buffer.(*buffer).data
	if off+w.Range > uint64(len(data)) {
		return nil, fmt.Errorf("set %d binding %d reads past its buffer: %w", set, binding, core.ErrInvalidState)
	}
	return data[off : off+w.Range], nil
}

func uniform[T any](e *env, set, binding uint32) (*T, error) {
	b, err := e.bytes(set, binding)
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) < gpu.UniformSize[T]() {
		return nil, fmt.Errorf("set %d binding %d range %d smaller than block: %w", set, binding, len(b), core.ErrInvalidState)
	}
	return gpu.UniformFrom[T](b), nil
}

func push[T any](e *env) (*T, error) {
	if uint64(len(e.state.push)) < gpu.UniformSize[T]() {
		return nil, fmt.Errorf("push constants missing: %w", core.ErrInvalidState)
	}
	return gpu.UniformFrom[T](e.state.push), nil
}

type texture struct {
	view    *imageView
	sampler *sampler
}

func (e *env) texture(set, binding uint32) (*texture, error) {
	bs, err := e.set(set)
	if err != nil {
		return nil, err
	}
	w, ok := bs.set.writes[binding]
	if !ok || w.View == nil {
		return nil, fmt.Errorf("set %d binding %d has no image: %w", set, binding, core.ErrInvalidState)
	}
	return &texture{view: w.View.(*imageView), sampler: w.Sampler.(*sampler)}, nil
}

func (t *texture) sample(u, v float32) [4]float32 {
	return t.sampleLayer(u, v, 0)
}

func wrap(c float32, n int, mode gpu.AddressMode) int {
	if mode == gpu.AddressRepeat {
		c -= float32(math.Floor(float64(c)))
	} else {
		c = clamp01(c)
	}
	i := int(c * float32(n))
	return min(max(i, 0), n-1)
}

func wrapIndex(i, n int, mode gpu.AddressMode) int {
	if mode == gpu.AddressRepeat {
		return ((i % n) + n) % n
	}
	return min(max(i, 0), n-1)
}

func (t *texture) sampleLayer(u, v float32, layer uint32) [4]float32 {
	img := t.view.image
	mip := t.view.desc.BaseMip
	layer += t.view.desc.BaseLayer
	e := img.mipExtent(mip)
	w, h := int(e.Width), int(e.Height)
	mode := t.sampler.desc.Address

	if t.sampler.desc.Filter == gpu.FilterNearest || (w == 1 && h == 1) {
		return img.texel(layer, mip, wrap(u, w, mode), wrap(v, h, mode))
	}

	fx := u*float32(w) - 0.5
	fy := v*float32(h) - 0.5
	x0 := int(math.Floor(float64(fx)))
	y0 := int(math.Floor(float64(fy)))
	ax, ay := fx-float32(x0), fy-float32(y0)
	x1, y1 := wrapIndex(x0+1, w, mode), wrapIndex(y0+1, h, mode)
	x0, y0 = wrapIndex(x0, w, mode), wrapIndex(y0, h, mode)

	t00 := img.texel(layer, mip, x0, y0)
	t10 := img.texel(layer, mip, x1, y0)
	t01 := img.texel(layer, mip, x0, y1)
	t11 := img.texel(layer, mip, x1, y1)
	var r [4]float32
	for c := 0; c < 4; c++ {
		top := t00[c]*(1-ax) + t10[c]*ax
		bottom := t01[c]*(1-ax) + t11[c]*ax
		r[c] = top*(1-ay) + bottom*ay
	}
	return r
}

// sampleCube picks the face by the major axis of dir, faces ordered
// +X, -X, +Y, -Y, +Z, -Z.
func (t *texture) sampleCube(dir m.Vec3) [4]float32 {
	ax, ay, az := abs(dir.X), abs(dir.Y), abs(dir.Z)
	var face uint32
	var sc, tc, ma float32
	switch {
	case ax >= ay && ax >= az:
		ma = ax
		if dir.X > 0 {
			face, sc, tc = 0, -dir.Z, -dir.Y
		} else {
			face, sc, tc = 1, dir.Z, -dir.Y
		}
	case ay >= az:
		ma = ay
		if dir.Y > 0 {
			face, sc, tc = 2, dir.X, dir.Z
		} else {
			face, sc, tc = 3, dir.X, -dir.Z
		}
	default:
		ma = az
		if dir.Z > 0 {
			face, sc, tc = 4, dir.X, -dir.Y
		} else {
			face, sc, tc = 5, -dir.X, -dir.Y
		}
	}
	if ma == 0 {
		return [4]float32{}
	}
	if t.view.desc.LayerCount < 6 {
		face = 0
	}
	return t.sampleLayer((sc/ma+1)*0.5, (tc/ma+1)*0.5, face)
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
