package stub

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

type buffer struct {
	object
	desc gpu.BufferDesc
	data []byte
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q of size 0: %w", desc.Name, core.ErrInvalidState)
	}
	return &buffer{object: d.track(), desc: desc, data: make([]byte, desc.Size)}, nil
}

func (b *buffer) Desc() gpu.BufferDesc { return b.desc }

func (b *buffer) Mapped() []byte {
	if !b.desc.Memory.HostVisible() {
		return nil
	}
	return b.data
}

func (b *buffer) Destroy() {
	if b.release() {
		b.data = nil
	}
}

// image keeps every texel as float32, one slice per layer and mip level.
type image struct {
	object
	desc     gpu.ImageDesc
	channels int
	levels   [][]float32
	layout   []gpu.ImageLayout
	view     *imageView
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.Extent.IsZero() {
		return nil, fmt.Errorf("image %q with zero extent: %w", desc.Name, core.ErrInvalidState)
	}
	if desc.Extent.Width > d.limits.MaxImageDimension2D || desc.Extent.Height > d.limits.MaxImageDimension2D {
		return nil, fmt.Errorf("image %q extent %dx%d: %w", desc.Name, desc.Extent.Width, desc.Extent.Height, core.ErrOutOfMemory)
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.Cube && desc.Layers != 6 {
		return nil, fmt.Errorf("cube image %q with %d layers: %w", desc.Name, desc.Layers, core.ErrInvalidState)
	}
	img := &image{
		object:   d.track(),
		desc:     desc,
		channels: desc.Format.Channels(),
		levels:   make([][]float32, desc.Layers*desc.MipLevels),
		layout:   make([]gpu.ImageLayout, desc.Layers*desc.MipLevels),
	}
	for layer := uint32(0); layer < desc.Layers; layer++ {
		for mip := uint32(0); mip < desc.MipLevels; mip++ {
			e := img.mipExtent(mip)
			img.levels[img.index(layer, mip)] = make([]float32, int(e.Width*e.Height)*img.channels)
		}
	}
	vt := gpu.View2D
	if desc.Cube {
		vt = gpu.ViewCube
	} else if desc.Layers > 1 {
		vt = gpu.View2DArray
	}
	img.view = &imageView{object: object{dev: d}, image: img, desc: gpu.ImageViewDesc{
		Type: vt, MipCount: desc.MipLevels, LayerCount: desc.Layers,
	}}
	return img, nil
}

func (img *image) index(layer, mip uint32) int {
	return int(layer*img.desc.MipLevels + mip)
}

func (img *image) mipExtent(mip uint32) gpu.Extent {
	w, h := img.desc.Extent.Width>>mip, img.desc.Extent.Height>>mip
	return gpu.Extent{Width: max(w, 1), Height: max(h, 1)}
}

func (img *image) Desc() gpu.ImageDesc { return img.desc }
func (img *image) View() gpu.ImageView { return img.view }

func (img *image) Destroy() {
	if img.release() {
		img.levels = nil
	}
}

// texel returns the channels of (x, y), zero-padded to four.
func (img *image) texel(layer, mip uint32, x, y int) [4]float32 {
	e := img.mipExtent(mip)
	data := img.levels[img.index(layer, mip)]
	i := (y*int(e.Width) + x) * img.channels
	var t [4]float32
	copy(t[:img.channels], data[i:i+img.channels])
	if img.channels == 1 {
		t[3] = 1
	}
	return t
}

func (img *image) setTexel(layer, mip uint32, x, y int, v [4]float32) {
	e := img.mipExtent(mip)
	data := img.levels[img.index(layer, mip)]
	i := (y*int(e.Width) + x) * img.channels
	if img.desc.Format.IsNormalized() {
		for c := range v {
			v[c] = clamp01(v[c])
		}
	}
	copy(data[i:i+img.channels], v[:img.channels])
}

func (img *image) fill(layer, mip uint32, v [4]float32) {
	data := img.levels[img.index(layer, mip)]
	if img.desc.Format.IsNormalized() {
		for c := range v {
			v[c] = clamp01(v[c])
		}
	}
	for i := 0; i < len(data); i += img.channels {
		copy(data[i:i+img.channels], v[:img.channels])
	}
}

type imageView struct {
	object
	image *image
	desc  gpu.ImageViewDesc
}

func (d *Device) CreateImageView(img gpu.Image, desc gpu.ImageViewDesc) (gpu.ImageView, error) {
	im := img.(*image)
	if desc.MipCount == 0 {
		desc.MipCount = im.desc.MipLevels - desc.BaseMip
	}
	if desc.LayerCount == 0 {
		desc.LayerCount = im.desc.Layers - desc.BaseLayer
	}
	if desc.BaseLayer+desc.LayerCount > im.desc.Layers || desc.BaseMip+desc.MipCount > im.desc.MipLevels {
		return nil, fmt.Errorf("view outside image %q: %w", im.desc.Name, core.ErrInvalidState)
	}
	return &imageView{object: d.track(), image: im, desc: desc}, nil
}

func (v *imageView) Image() gpu.Image        { return v.image }
func (v *imageView) Desc() gpu.ImageViewDesc { return v.desc }

// Destroy is a no-op for the default view, which belongs to its image.
func (v *imageView) Destroy() {
	if v == v.image.view {
		return
	}
	v.release()
}

func (v *imageView) extent() gpu.Extent {
	return v.image.mipExtent(v.desc.BaseMip)
}

type sampler struct {
	object
	desc gpu.SamplerDesc
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	if desc.Anisotropy > d.limits.MaxSamplerAnisotropy {
		desc.Anisotropy = d.limits.MaxSamplerAnisotropy
	}
	return &sampler{object: d.track(), desc: desc}, nil
}

func (s *sampler) Desc() gpu.SamplerDesc { return s.desc }
func (s *sampler) Destroy()              { s.release() }

type renderPass struct {
	object
	id   uint64
	desc gpu.RenderPassDesc
}

func (d *Device) CreateRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	if len(desc.Colors) == 0 && desc.Depth == nil {
		return nil, fmt.Errorf("render pass %q without attachments: %w", desc.Name, core.ErrInvalidState)
	}
	if desc.Depth != nil && !desc.Depth.Format.IsDepth() {
		return nil, fmt.Errorf("render pass %q depth format %s: %w", desc.Name, desc.Depth.Format, core.ErrInvalidState)
	}
	return &renderPass{object: d.track(), id: d.nextID.Add(1), desc: desc}, nil
}

func (p *renderPass) ID() uint64               { return p.id }
func (p *renderPass) Desc() gpu.RenderPassDesc { return p.desc }
func (p *renderPass) Destroy()                 { p.release() }
func (p *renderPass) attachmentCount() int {
	n := len(p.desc.Colors)
	if p.desc.Depth != nil {
		n++
	}
	return n
}

type framebuffer struct {
	object
	pass        *renderPass
	attachments []gpu.ImageView
	extent      gpu.Extent
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	rp := pass.(*renderPass)
	if len(attachments) != rp.attachmentCount() {
		return nil, fmt.Errorf("framebuffer for %q: %d attachments, pass has %d: %w",
			rp.desc.Name, len(attachments), rp.attachmentCount(), core.ErrInvalidState)
	}
	for i, a := range attachments {
		e := a.(*imageView).extent()
		if e.Width < extent.Width || e.Height < extent.Height {
			return nil, fmt.Errorf("framebuffer for %q: attachment %d is %dx%d, smaller than %dx%d: %w",
				rp.desc.Name, i, e.Width, e.Height, extent.Width, extent.Height, core.ErrInvalidState)
		}
	}
	return &framebuffer{
		object:      d.track(),
		pass:        rp,
		attachments: append([]gpu.ImageView(nil), attachments...),
		extent:      extent,
	}, nil
}

func (f *framebuffer) RenderPass() gpu.RenderPass   { return f.pass }
func (f *framebuffer) Attachments() []gpu.ImageView { return f.attachments }
func (f *framebuffer) Extent() gpu.Extent           { return f.extent }
func (f *framebuffer) Destroy()                     { f.release() }

type descriptorSet struct {
	object
	layout gpu.DescriptorSetLayoutDesc
	writes map[uint32]gpu.DescriptorWrite
}

func (d *Device) CreateDescriptorSet(layout gpu.DescriptorSetLayoutDesc, writes []gpu.DescriptorWrite) (gpu.DescriptorSet, error) {
	ds := &descriptorSet{object: d.track(), layout: layout, writes: make(map[uint32]gpu.DescriptorWrite)}
	for _, w := range writes {
		b, ok := ds.binding(w.Binding)
		if !ok {
			ds.release()
			return nil, fmt.Errorf("descriptor write to binding %d not in layout: %w", w.Binding, core.ErrInvalidState)
		}
		switch b.Type {
		case gpu.DescriptorCombinedImageSampler:
			if w.View == nil || w.Sampler == nil {
				ds.release()
				return nil, fmt.Errorf("image binding %d without view or sampler: %w", w.Binding, core.ErrInvalidState)
			}
		default:
			if w.Buffer == nil || w.Range == 0 {
				ds.release()
				return nil, fmt.Errorf("buffer binding %d without buffer: %w", w.Binding, core.ErrInvalidState)
			}
		}
		ds.writes[w.Binding] = w
	}
	return ds, nil
}

func (ds *descriptorSet) binding(n uint32) (gpu.DescriptorBinding, bool) {
	for _, b := range ds.layout.Bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return gpu.DescriptorBinding{}, false
}

// dynamicCount is the number of dynamic offsets a bind must supply.
func (ds *descriptorSet) dynamicCount() int {
	n := 0
	for _, b := range ds.layout.Bindings {
		if b.Type == gpu.DescriptorUniformBufferDynamic {
			n++
		}
	}
	return n
}

func (ds *descriptorSet) Layout() gpu.DescriptorSetLayoutDesc { return ds.layout }
func (ds *descriptorSet) Destroy()                            { ds.release() }

type pipeline struct {
	object
	desc    gpu.PipelineDesc
	program program
}

func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	prog, ok := programs[desc.Type]
	if !ok {
		return nil, fmt.Errorf("no reference shader for %s: %w", desc.Type, core.ErrPipelineCompileFailure)
	}
	if desc.RenderPass == nil {
		return nil, fmt.Errorf("pipeline %s without render pass: %w", desc.Type, core.ErrPipelineCompileFailure)
	}
	colors := len(desc.RenderPass.Desc().Colors)
	if colors < prog.outputs() {
		return nil, fmt.Errorf("pipeline %s writes %d outputs, pass %q has %d: %w",
			desc.Type, prog.outputs(), desc.RenderPass.Desc().Name, colors, core.ErrPipelineCompileFailure)
	}
	d.pipelines.Add(1)
	d.cacheMu.Lock()
	d.cacheTypes[desc.Type.String()] = struct{}{}
	d.cacheMu.Unlock()
	return &pipeline{object: d.track(), desc: desc, program: prog}, nil
}

func (p *pipeline) Type() gpu.PipelineType { return p.desc.Type }
func (p *pipeline) RenderPassID() uint64   { return p.desc.RenderPass.ID() }
func (p *pipeline) Destroy()               { p.release() }
