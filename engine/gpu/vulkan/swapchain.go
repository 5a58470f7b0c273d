package vulkan

import (
	"errors"
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

type swapchain struct {
	dev    *Device
	handle vk.Swapchain
	format vk.SurfaceFormat
	extent gpu.Extent
	want   uint32
	images []*image
	views  []gpu.ImageView
}

func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	sc := &swapchain{dev: d, want: desc.ImageCount}
	err := sc.build(desc.Extent, vk.NullSwapchain)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrSwapchainOutOfDate) && sc.handle == vk.NullSwapchain:
		// Minimized at startup. Acquire reports out-of-date until Recreate
		// finds a surface with an area.
		core.LogWarn("swapchain deferred: %s", err)
	default:
		sc.Destroy()
		return nil, err
	}
	return sc, nil
}

// chooseSurfaceFormat prefers RGBA8 unorm and falls back to the first
// reported format.
func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatR8g8b8a8Unorm {
			return f
		}
	}
	return formats[0]
}

func clampU32(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}

func (sc *swapchain) build(extent gpu.Extent, old vk.Swapchain) error {
	d := sc.dev
	support, err := querySwapchainSupport(d.physical, d.surface)
	if err != nil {
		return err
	}
	caps := support.capabilities

	sc.format = chooseSurfaceFormat(support.formats)

	size, err := surfaceSize(caps, extent)
	if err != nil {
		return err
	}

	imageCount := max(caps.MinImageCount+1, sc.want)
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      size,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	if d.families.graphics != d.families.present {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{uint32(d.families.graphics), uint32(d.families.present)}
	}
	var handle vk.Swapchain
	if err := check(vk.CreateSwapchain(d.logical, &info, nil, &handle), "create swapchain"); err != nil {
		return err
	}
	sc.handle = handle
	sc.extent = gpu.Extent{Width: size.Width, Height: size.Height}

	var count uint32
	if err := check(vk.GetSwapchainImages(d.logical, sc.handle, &count, nil), "get swapchain images"); err != nil {
		return err
	}
	handles := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.logical, sc.handle, &count, handles), "get swapchain images"); err != nil {
		return err
	}
	format := fromFormat(sc.format.Format)
	for i, h := range handles {
		img := &image{
			dev:    d,
			handle: h,
			desc: gpu.ImageDesc{
				Name:      fmt.Sprintf("swapchain-%d", i),
				Extent:    sc.extent,
				Format:    format,
				Usage:     gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc,
				MipLevels: 1,
				Layers:    1,
			},
			borrowed: true,
		}
		view, err := d.createView(img, gpu.ImageViewDesc{Type: gpu.View2D, MipCount: 1, LayerCount: 1})
		if err != nil {
			return err
		}
		img.view = view
		sc.images = append(sc.images, img)
		sc.views = append(sc.views, view)
	}
	core.LogInfo("Swapchain created successfully (%dx%d, %d images).", size.Width, size.Height, count)
	return nil
}

// surfaceSize picks the image extent the surface allows for the requested
// one. A zero area means the window is minimized.
func surfaceSize(caps vk.SurfaceCapabilities, extent gpu.Extent) (vk.Extent2D, error) {
	size := vk.Extent2D{Width: extent.Width, Height: extent.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		size = caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	size.Width = clampU32(size.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	size.Height = clampU32(size.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.IsZero() || size.Width == 0 || size.Height == 0 {
		return size, fmt.Errorf("swapchain extent %dx%d: %w", size.Width, size.Height, core.ErrSwapchainOutOfDate)
	}
	return size, nil
}

func (sc *swapchain) teardown() {
	// Only the views; the images belong to the swapchain.
	for _, img := range sc.images {
		img.Destroy()
	}
	sc.images = nil
	sc.views = nil
}

func (sc *swapchain) Extent() gpu.Extent     { return sc.extent }
func (sc *swapchain) Format() gpu.Format     { return fromFormat(sc.format.Format) }
func (sc *swapchain) ImageCount() uint32     { return uint32(len(sc.images)) }
func (sc *swapchain) Views() []gpu.ImageView { return sc.views }

func (sc *swapchain) Acquire(timeout time.Duration, sem gpu.Semaphore) (uint32, error) {
	if sc.handle == vk.NullSwapchain {
		return 0, fmt.Errorf("acquire without swapchain: %w", core.ErrSwapchainOutOfDate)
	}
	var index uint32
	handle := vk.NullSemaphore
	if sem != nil {
		handle = sem.(*semaphore).handle
	}
	result := vk.AcquireNextImage(sc.dev.logical, sc.handle, timeoutNanos(timeout), handle, vk.NullFence, &index)
	switch result {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		// The semaphore is signaled; the image can still be used this frame.
		return index, nil
	case vk.Timeout, vk.NotReady:
		return 0, fmt.Errorf("acquire after %s: %w", timeout, core.ErrFenceTimeout)
	default:
		return 0, check(result, "acquire swapchain image")
	}
}

func (sc *swapchain) Present(index uint32, wait []gpu.Semaphore) error {
	if sc.handle == vk.NullSwapchain {
		return fmt.Errorf("present without swapchain: %w", core.ErrSwapchainOutOfDate)
	}
	sems := make([]vk.Semaphore, len(wait))
	for i, s := range wait {
		sems[i] = s.(*semaphore).handle
	}
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(sems)),
		PWaitSemaphores:    sems,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{index},
	}
	return sc.dev.locks.call(uint32(sc.dev.families.present), func() error {
		return check(vk.QueuePresent(sc.dev.present, &info), "present")
	})
}

// Recreate builds a new swapchain from the old one. The caller waits for
// the device to be idle first. A surface without area leaves the current
// swapchain in place.
func (sc *swapchain) Recreate(extent gpu.Extent) error {
	support, err := querySwapchainSupport(sc.dev.physical, sc.dev.surface)
	if err != nil {
		return err
	}
	if _, err := surfaceSize(support.capabilities, extent); err != nil {
		return err
	}
	old := sc.handle
	sc.teardown()
	sc.handle = vk.NullSwapchain
	err = sc.build(extent, old)
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(sc.dev.logical, old, nil)
	}
	if err != nil {
		// Acquire reports out-of-date until a later Recreate succeeds.
		if sc.handle != vk.NullSwapchain {
			vk.DestroySwapchain(sc.dev.logical, sc.handle, nil)
			sc.handle = vk.NullSwapchain
		}
		sc.teardown()
		sc.extent = gpu.Extent{}
		return err
	}
	return nil
}

func (sc *swapchain) Destroy() {
	sc.teardown()
	if sc.handle != vk.NullSwapchain {
		vk.DestroySwapchain(sc.dev.logical, sc.handle, nil)
		sc.handle = vk.NullSwapchain
	}
}
