package stub

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

type swapchain struct {
	object
	extent gpu.Extent
	count  uint32
	images []*image
	views  []gpu.ImageView
	next   uint32
}

func (d *Device) CreateSwapchain(desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	if desc.ImageCount < 2 {
		desc.ImageCount = 2
	}
	sc := &swapchain{object: d.track(), count: desc.ImageCount}
	if desc.Extent.IsZero() {
		// minimized surface: no images until the first Recreate
		return sc, nil
	}
	if err := sc.build(desc.Extent); err != nil {
		sc.release()
		return nil, err
	}
	return sc, nil
}

func (sc *swapchain) build(extent gpu.Extent) error {
	if extent.IsZero() {
		return fmt.Errorf("swapchain extent %dx%d: %w", extent.Width, extent.Height, core.ErrSwapchainOutOfDate)
	}
	sc.extent = extent
	for i := uint32(0); i < sc.count; i++ {
		img, err := sc.dev.CreateImage(gpu.ImageDesc{
			Name:   fmt.Sprintf("swapchain-%d", i),
			Extent: extent,
			Format: gpu.FormatRGBA8Unorm,
			Usage:  gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc,
		})
		if err != nil {
			return err
		}
		sc.images = append(sc.images, img.(*image))
		sc.views = append(sc.views, img.View())
	}
	sc.next = 0
	return nil
}

func (sc *swapchain) teardown() {
	for _, img := range sc.images {
		img.Destroy()
	}
	sc.images = nil
	sc.views = nil
}

func (sc *swapchain) Extent() gpu.Extent     { return sc.extent }
func (sc *swapchain) Format() gpu.Format     { return gpu.FormatRGBA8Unorm }
func (sc *swapchain) ImageCount() uint32     { return sc.count }
func (sc *swapchain) Views() []gpu.ImageView { return sc.views }

func (sc *swapchain) stale() bool {
	if sc.dev.provider == nil {
		return false
	}
	w, h := sc.dev.provider.CurrentExtent()
	return w != sc.extent.Width || h != sc.extent.Height
}

// Acquire hands out images round-robin. Images never stay busy past a
// submission, so the timeout is never hit.
func (sc *swapchain) Acquire(timeout time.Duration, sem gpu.Semaphore) (uint32, error) {
	if len(sc.images) == 0 || sc.stale() {
		return 0, fmt.Errorf("acquire: %w", core.ErrSwapchainOutOfDate)
	}
	idx := sc.next
	sc.next = (sc.next + 1) % sc.count
	if sem != nil {
		sem.(*semaphore).signal()
	}
	return idx, nil
}

func (sc *swapchain) Present(index uint32, wait []gpu.Semaphore) error {
	sc.dev.queue.Lock()
	defer sc.dev.queue.Unlock()
	for _, s := range wait {
		if err := s.(*semaphore).consume(); err != nil {
			return fmt.Errorf("present: %w", err)
		}
	}
	if index >= sc.count {
		return fmt.Errorf("present image %d of %d: %w", index, sc.count, core.ErrInvalidState)
	}
	if sc.stale() {
		return fmt.Errorf("present: %w", core.ErrSwapchainOutOfDate)
	}
	sc.dev.presents.Add(1)
	return nil
}

// Recreate keeps the current images when extent is zero.
func (sc *swapchain) Recreate(extent gpu.Extent) error {
	if extent.IsZero() {
		return fmt.Errorf("recreate at %dx%d: %w", extent.Width, extent.Height, core.ErrSwapchainOutOfDate)
	}
	sc.dev.queue.Lock()
	defer sc.dev.queue.Unlock()
	sc.teardown()
	return sc.build(extent)
}

func (sc *swapchain) Destroy() {
	if sc.release() {
		sc.teardown()
	}
}
