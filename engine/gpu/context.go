package gpu

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
)

type ContextConfig struct {
	FramesInFlight   uint32
	Buffers          BufferManagerConfig
	EnableAnisotropy bool
	// PipelineCache is the path of the persisted pipeline cache, empty to
	// disable persistence.
	PipelineCache string
}

// Context bundles the device-level services every resource is created
// through.
type Context struct {
	Device    Device
	Immediate *Immediate
	Buffers   *BufferManager
	Pipelines *PipelineManager
	Deletion  *DeletionQueue
	// Linear samples material textures, Nearest the render targets.
	Linear  Sampler
	Nearest Sampler

	frames uint32
}

func NewContext(device Device, cfg ContextConfig) (*Context, error) {
	if cfg.FramesInFlight == 0 {
		return nil, fmt.Errorf("context without frames in flight: %w", core.ErrInvalidState)
	}
	im, err := NewImmediate(device, QueueGraphics)
	if err != nil {
		return nil, err
	}
	var store *PipelineCacheStore
	if cfg.PipelineCache != "" {
		store = NewPipelineCacheStore(cfg.PipelineCache)
	}
	c := &Context{
		Device:    device,
		Immediate: im,
		Buffers:   NewBufferManager(device, im, cfg.FramesInFlight, cfg.Buffers),
		Pipelines: NewPipelineManager(device, store),
		Deletion:  NewDeletionQueue(cfg.FramesInFlight),
		frames:    cfg.FramesInFlight,
	}
	linear := SamplerDesc{Filter: FilterLinear, Address: AddressRepeat, MipLevels: 16}
	if cfg.EnableAnisotropy {
		linear.Anisotropy = device.Limits().MaxSamplerAnisotropy
	}
	if c.Linear, err = device.CreateSampler(linear); err != nil {
		c.Destroy()
		return nil, err
	}
	if c.Nearest, err = device.CreateSampler(SamplerDesc{Filter: FilterNearest, Address: AddressClampToEdge}); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

func (c *Context) FramesInFlight() uint32 {
	return c.frames
}

// Release defers destroy until no frame in flight can reference the
// resource.
func (c *Context) Release(label string, destroy func()) {
	c.Deletion.Push(label, destroy)
}

// UploadImage copies data into img through a staging buffer and leaves every
// region in the shader read-only layout.
func (c *Context) UploadImage(img Image, data []byte, regions []ImageCopy) error {
	staging, err := c.Buffers.NewStaging(uint64(len(data)), false)
	if err != nil {
		return err
	}
	defer staging.Destroy()
	copy(staging.Mapped(), data)

	desc := img.Desc()
	all := ImageBarrier{Image: img, MipCount: max(desc.MipLevels, 1), LayerCount: max(desc.Layers, 1)}
	return c.Immediate.Run(func(cmd CommandBuffer) {
		toDst := all
		toDst.From, toDst.To = LayoutUndefined, LayoutTransferDst
		cmd.PipelineBarrier([]ImageBarrier{toDst})
		cmd.CopyBufferToImage(staging, img, regions)
		toRead := all
		toRead.From, toRead.To = LayoutTransferDst, LayoutShaderReadOnly
		cmd.PipelineBarrier([]ImageBarrier{toRead})
	})
}

// Transition moves every layer and mip of img between layouts.
func (c *Context) Transition(img Image, from, to ImageLayout) error {
	desc := img.Desc()
	return c.Immediate.Run(func(cmd CommandBuffer) {
		cmd.PipelineBarrier([]ImageBarrier{{
			Image: img, From: from, To: to,
			MipCount: max(desc.MipLevels, 1), LayerCount: max(desc.Layers, 1),
		}})
	})
}

// ReadImage copies one layer of mip 0 back to the host. layout is the
// layout img is in, and it is restored afterwards.
func (c *Context) ReadImage(img Image, layer uint32, layout ImageLayout) ([]byte, error) {
	desc := img.Desc()
	size := uint64(desc.Extent.Width) * uint64(desc.Extent.Height) * uint64(desc.Format.BytesPerPixel())
	buf, err := c.Buffers.NewStaging(size, true)
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	b := ImageBarrier{Image: img, MipCount: 1, BaseLayer: layer, LayerCount: 1}
	err = c.Immediate.Run(func(cmd CommandBuffer) {
		in := b
		in.From, in.To = layout, LayoutTransferSrc
		cmd.PipelineBarrier([]ImageBarrier{in})
		cmd.CopyImageToBuffer(img, buf, []ImageCopy{{Layer: layer, Extent: desc.Extent}})
		out := b
		out.From, out.To = LayoutTransferSrc, layout
		cmd.PipelineBarrier([]ImageBarrier{out})
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Mapped()[:size]...), nil
}

// Destroy releases the context. The device must be idle.
func (c *Context) Destroy() {
	c.Deletion.Flush()
	if c.Pipelines != nil {
		if err := c.Pipelines.Save(); err != nil {
			core.LogWarn("failed to save pipeline cache: %s", err)
		}
		c.Pipelines.Destroy()
	}
	if c.Linear != nil {
		c.Linear.Destroy()
		c.Linear = nil
	}
	if c.Nearest != nil {
		c.Nearest.Destroy()
		c.Nearest = nil
	}
	if c.Buffers != nil {
		c.Buffers.Destroy()
	}
	if c.Immediate != nil {
		c.Immediate.Destroy()
		c.Immediate = nil
	}
}
