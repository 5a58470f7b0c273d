package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

type buffer struct {
	dev    *Device
	desc   gpu.BufferDesc
	handle vk.Buffer
	memory vk.DeviceMemory
	mapped []byte
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q of size 0: %w", desc.Name, core.ErrInvalidState)
	}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	b := &buffer{dev: d, desc: desc}
	if err := check(vk.CreateBuffer(d.logical, &info, nil, &b.handle), "create buffer "+desc.Name); err != nil {
		return nil, err
	}
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical, b.handle, &req)
	req.Deref()
	mem, err := d.allocate(req, desc.Memory)
	if err != nil {
		vk.DestroyBuffer(d.logical, b.handle, nil)
		return nil, err
	}
	b.memory = mem
	if err := check(vk.BindBufferMemory(d.logical, b.handle, mem, 0), "bind buffer memory"); err != nil {
		b.Destroy()
		return nil, err
	}
	if desc.Memory.HostVisible() {
		var ptr unsafe.Pointer
		if err := check(vk.MapMemory(d.logical, mem, 0, vk.DeviceSize(desc.Size), 0, &ptr), "map memory"); err != nil {
			b.Destroy()
			return nil, err
		}
		b.mapped = unsafe.Slice((*byte)(ptr), desc.Size)
	}
	return b, nil
}

func (b *buffer) Desc() gpu.BufferDesc { return b.desc }
func (b *buffer) Mapped() []byte       { return b.mapped }

func (b *buffer) Destroy() {
	if b.mapped != nil {
		vk.UnmapMemory(b.dev.logical, b.memory)
		b.mapped = nil
	}
	if b.handle != vk.NullBuffer {
		vk.DestroyBuffer(b.dev.logical, b.handle, nil)
		b.handle = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.dev.logical, b.memory, nil)
		b.memory = vk.NullDeviceMemory
	}
}

type image struct {
	dev    *Device
	desc   gpu.ImageDesc
	handle vk.Image
	memory vk.DeviceMemory
	view   *imageView
	// swapchain images are owned by the swapchain
	borrowed bool
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.Cube && desc.Layers != 6 {
		return nil, fmt.Errorf("cube image %q with %d layers: %w", desc.Name, desc.Layers, core.ErrInvalidState)
	}
	if desc.Extent.IsZero() || desc.Extent.Width > d.limits.MaxImageDimension2D || desc.Extent.Height > d.limits.MaxImageDimension2D {
		return nil, fmt.Errorf("image %q extent %dx%d: %w", desc.Name, desc.Extent.Width, desc.Extent.Height, core.ErrInvalidState)
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    toFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.Layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         toImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.Cube {
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	img := &image{dev: d, desc: desc}
	if err := check(vk.CreateImage(d.logical, &info, nil, &img.handle), "create image "+desc.Name); err != nil {
		return nil, err
	}
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical, img.handle, &req)
	req.Deref()
	mem, err := d.allocate(req, gpu.MemoryDeviceLocal)
	if err != nil {
		vk.DestroyImage(d.logical, img.handle, nil)
		return nil, err
	}
	img.memory = mem
	if err := check(vk.BindImageMemory(d.logical, img.handle, mem, 0), "bind image memory"); err != nil {
		img.Destroy()
		return nil, err
	}

	vt := gpu.View2D
	if desc.Cube {
		vt = gpu.ViewCube
	} else if desc.Layers > 1 {
		vt = gpu.View2DArray
	}
	view, err := d.createView(img, gpu.ImageViewDesc{Type: vt, MipCount: desc.MipLevels, LayerCount: desc.Layers})
	if err != nil {
		img.Destroy()
		return nil, err
	}
	img.view = view
	return img, nil
}

func (i *image) Desc() gpu.ImageDesc { return i.desc }
func (i *image) View() gpu.ImageView { return i.view }

func (i *image) Destroy() {
	if i.view != nil {
		i.view.destroy()
		i.view = nil
	}
	if i.borrowed {
		return
	}
	if i.handle != vk.NullImage {
		vk.DestroyImage(i.dev.logical, i.handle, nil)
		i.handle = vk.NullImage
	}
	if i.memory != vk.NullDeviceMemory {
		vk.FreeMemory(i.dev.logical, i.memory, nil)
		i.memory = vk.NullDeviceMemory
	}
}

type imageView struct {
	dev    *Device
	image  *image
	desc   gpu.ImageViewDesc
	handle vk.ImageView
	owned  bool
}

func (d *Device) CreateImageView(img gpu.Image, desc gpu.ImageViewDesc) (gpu.ImageView, error) {
	v, err := d.createView(img.(*image), desc)
	if err != nil {
		return nil, err
	}
	v.owned = true
	return v, nil
}

func (d *Device) createView(img *image, desc gpu.ImageViewDesc) (*imageView, error) {
	if desc.MipCount == 0 {
		desc.MipCount = img.desc.MipLevels - desc.BaseMip
	}
	if desc.LayerCount == 0 {
		desc.LayerCount = img.desc.Layers - desc.BaseLayer
	}
	if desc.BaseLayer+desc.LayerCount > img.desc.Layers || desc.BaseMip+desc.MipCount > img.desc.MipLevels {
		return nil, fmt.Errorf("view outside image %q: %w", img.desc.Name, core.ErrInvalidState)
	}
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.handle,
		ViewType: toViewType(desc.Type),
		Format:   toFormat(img.desc.Format),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectOf(img.desc.Format, false),
			BaseMipLevel:   desc.BaseMip,
			LevelCount:     desc.MipCount,
			BaseArrayLayer: desc.BaseLayer,
			LayerCount:     desc.LayerCount,
		},
	}
	v := &imageView{dev: d, image: img, desc: desc}
	if err := check(vk.CreateImageView(d.logical, &info, nil, &v.handle), "create image view"); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *imageView) Image() gpu.Image        { return v.image }
func (v *imageView) Desc() gpu.ImageViewDesc { return v.desc }

// Destroy releases views created with CreateImageView. Default views go
// with their image.
func (v *imageView) Destroy() {
	if v.owned {
		v.destroy()
	}
}

func (v *imageView) destroy() {
	if v.handle != vk.NullImageView {
		vk.DestroyImageView(v.dev.logical, v.handle, nil)
		v.handle = vk.NullImageView
	}
}

type sampler struct {
	dev    *Device
	desc   gpu.SamplerDesc
	handle vk.Sampler
}

func (d *Device) CreateSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	filter := vk.FilterNearest
	mipmap := vk.SamplerMipmapModeNearest
	if desc.Filter == gpu.FilterLinear {
		filter = vk.FilterLinear
		mipmap = vk.SamplerMipmapModeLinear
	}
	address := vk.SamplerAddressModeRepeat
	if desc.Address == gpu.AddressClampToEdge {
		address = vk.SamplerAddressModeClampToEdge
	}
	aniso := min(desc.Anisotropy, d.limits.MaxSamplerAnisotropy)
	info := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        filter,
		MinFilter:        filter,
		MipmapMode:       mipmap,
		AddressModeU:     address,
		AddressModeV:     address,
		AddressModeW:     address,
		AnisotropyEnable: vk.False,
		MaxAnisotropy:    1,
		CompareEnable:    vk.False,
		CompareOp:        vk.CompareOpAlways,
		MinLod:           0,
		MaxLod:           float32(max(desc.MipLevels, 1)),
		BorderColor:      vk.BorderColorFloatOpaqueWhite,
	}
	if d.cfg.EnableAnisotropy && aniso > 1 {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = aniso
	}
	desc.Anisotropy = info.MaxAnisotropy
	s := &sampler{dev: d, desc: desc}
	if err := check(vk.CreateSampler(d.logical, &info, nil, &s.handle), "create sampler"); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sampler) Desc() gpu.SamplerDesc { return s.desc }

func (s *sampler) Destroy() {
	if s.handle != vk.NullSampler {
		vk.DestroySampler(s.dev.logical, s.handle, nil)
		s.handle = vk.NullSampler
	}
}
