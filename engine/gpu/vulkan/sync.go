package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

type fence struct {
	dev    *Device
	handle vk.Fence
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	// A signaled fence lets the first frame of a slot pass its wait.
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	f := &fence{dev: d}
	if err := check(vk.CreateFence(d.logical, &info, nil, &f.handle), "create fence"); err != nil {
		return nil, err
	}
	return f, nil
}

func timeoutNanos(timeout time.Duration) uint64 {
	if timeout == gpu.Infinite || timeout < 0 {
		return math.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

func (f *fence) Wait(timeout time.Duration) error {
	result := vk.WaitForFences(f.dev.logical, 1, []vk.Fence{f.handle}, vk.True, timeoutNanos(timeout))
	switch result {
	case vk.Success:
		f.dev.retire(f)
		return nil
	case vk.Timeout:
		core.LogWarn("fence wait timed out after %s", timeout)
		return fmt.Errorf("fence wait after %s: %w", timeout, core.ErrFenceTimeout)
	default:
		return check(result, "fence wait")
	}
}

func (f *fence) Reset() error {
	return check(vk.ResetFences(f.dev.logical, 1, []vk.Fence{f.handle}), "reset fence")
}

func (f *fence) Signaled() bool {
	if vk.GetFenceStatus(f.dev.logical, f.handle) == vk.Success {
		f.dev.retire(f)
		return true
	}
	return false
}

func (f *fence) Destroy() {
	if f.handle != vk.NullFence {
		vk.DestroyFence(f.dev.logical, f.handle, nil)
		f.handle = vk.NullFence
	}
}

type semaphore struct {
	dev    *Device
	handle vk.Semaphore
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	s := &semaphore{dev: d}
	if err := check(vk.CreateSemaphore(d.logical, &info, nil, &s.handle), "create semaphore"); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *semaphore) Destroy() {
	if s.handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.dev.logical, s.handle, nil)
		s.handle = vk.NullSemaphore
	}
}
