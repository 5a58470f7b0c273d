package renderer

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

// Target names one render target of a game scene.
type Target uint8

const (
	TargetAlbedo Target = iota
	TargetNormal
	TargetPosition
	TargetEmissive
	TargetDepth
	TargetSSAO
	TargetShadowAccumulation
	TargetSceneColor
	TargetShadowMap
)

var targetNames = [...]string{"albedo", "normal", "position", "emissive", "depth", "ssao", "shadow-accumulation", "scene-color", "shadow-map"}

func (t Target) String() string {
	if int(t) < len(targetNames) {
		return targetNames[t]
	}
	return fmt.Sprintf("target(%d)", t)
}

// Readback is a host copy of one image layer.
type Readback struct {
	Extent gpu.Extent
	Format gpu.Format
	Data   []byte
}

func (r *Readback) offset(x, y int) int {
	return (y*int(r.Extent.Width) + x) * r.Format.BytesPerPixel()
}

// Pixel decodes the texel at (x, y), origin top-left.
func (r *Readback) Pixel(x, y int) [4]float32 {
	return r.Format.Decode(r.Data[r.offset(x, y):])
}

// RGBA8 returns the raw bytes of an 8-bit RGBA texel.
func (r *Readback) RGBA8(x, y int) [4]byte {
	o := r.offset(x, y)
	return [4]byte(r.Data[o : o+4])
}

// Float32 returns the first component at (x, y); the depth of depth targets.
func (r *Readback) Float32(x, y int) float32 {
	return r.Pixel(x, y)[0]
}

// lookup returns t's image and the layout it rests in between frames.
func (t *sceneTargets) lookup(target Target) (gpu.Image, gpu.ImageLayout, error) {
	switch target {
	case TargetAlbedo:
		return t.albedo, gpu.LayoutShaderReadOnly, nil
	case TargetNormal:
		return t.normal, gpu.LayoutShaderReadOnly, nil
	case TargetPosition:
		return t.position, gpu.LayoutShaderReadOnly, nil
	case TargetEmissive:
		return t.emissive, gpu.LayoutShaderReadOnly, nil
	case TargetDepth:
		return t.depth, gpu.LayoutDepthReadOnly, nil
	case TargetSSAO:
		return t.ssao, gpu.LayoutShaderReadOnly, nil
	case TargetShadowAccumulation:
		return t.accumulation, gpu.LayoutShaderReadOnly, nil
	case TargetSceneColor:
		return t.color, gpu.LayoutShaderReadOnly, nil
	case TargetShadowMap:
		return t.shadowMap, gpu.LayoutShaderReadOnly, nil
	}
	return nil, 0, fmt.Errorf("unknown render target %s: %w", target, core.ErrInvalidState)
}

// ReadTarget copies a render target of a game scene back to the host once
// every submitted frame has completed. layer selects the shadow map layer
// and must be 0 for every other target.
func (s *Scheduler) ReadTarget(sceneID uint64, target Target, layer uint32) (*Readback, error) {
	if s.closed {
		return nil, fmt.Errorf("read back after shutdown: %w", core.ErrInvalidState)
	}
	t, ok := s.targets[sceneID]
	if !ok {
		return nil, fmt.Errorf("scene %d has no render targets: %w", sceneID, core.ErrResourceNotFound)
	}
	img, layout, err := t.lookup(target)
	if err != nil {
		return nil, err
	}
	if layer >= img.Desc().Layers {
		return nil, fmt.Errorf("%s layer %d of %d: %w", target, layer, img.Desc().Layers, core.ErrInvalidState)
	}
	return s.read(img, layer, layout)
}

// ReadPresented copies the last presented swapchain image.
func (s *Scheduler) ReadPresented() (*Readback, error) {
	if s.closed || s.lastImage < 0 {
		return nil, fmt.Errorf("no presented image: %w", core.ErrInvalidState)
	}
	views := s.swapchain.Views()
	return s.read(views[s.lastImage].Image(), 0, gpu.LayoutPresentSrc)
}

func (s *Scheduler) read(img gpu.Image, layer uint32, layout gpu.ImageLayout) (*Readback, error) {
	if err := s.device.WaitIdle(); err != nil {
		return nil, err
	}
	data, err := s.ctx.ReadImage(img, layer, layout)
	if err != nil {
		return nil, err
	}
	desc := img.Desc()
	return &Readback{Extent: desc.Extent, Format: desc.Format, Data: data}, nil
}
