package renderer

import (
	"errors"

	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/scene"
)

// frameSlot is one of the F resource sets reused in rotation. Its fence
// guards everything recorded with it: the primaries, the kernels' secondaries
// of the same index and the scenes' dynamic-buffer slices.
type frameSlot struct {
	index    uint32
	fence    gpu.Fence
	acquire  gpu.Semaphore
	present  gpu.Semaphore
	passDone []gpu.Semaphore

	device    gpu.Device
	pool      gpu.CommandPool
	primaries []gpu.CommandBuffer
	used      int
}

func newFrameSlot(device gpu.Device, index uint32) (*frameSlot, error) {
	fs := &frameSlot{index: index, device: device}
	var err error
	if fs.fence, err = device.CreateFence(true); err != nil {
		return nil, err
	}
	if fs.acquire, err = device.CreateSemaphore(); err != nil {
		fs.destroy()
		return nil, err
	}
	if fs.present, err = device.CreateSemaphore(); err != nil {
		fs.destroy()
		return nil, err
	}
	if fs.pool, err = device.CreateCommandPool(gpu.QueueGraphics); err != nil {
		fs.destroy()
		return nil, err
	}
	return fs, nil
}

// reset makes every primary recordable again. The slot's fence must have
// been waited on.
func (fs *frameSlot) reset() error {
	fs.used = 0
	return fs.pool.Reset()
}

// primary hands out the next primary, allocating one the first time the
// slot needs that many.
func (fs *frameSlot) primary() (gpu.CommandBuffer, error) {
	if fs.used == len(fs.primaries) {
		cmd, err := fs.pool.Allocate(gpu.LevelPrimary)
		if err != nil {
			return nil, err
		}
		fs.primaries = append(fs.primaries, cmd)
	}
	cmd := fs.primaries[fs.used]
	fs.used++
	return cmd, nil
}

// semaphore returns the i-th pass-done semaphore.
func (fs *frameSlot) semaphore(i int) (gpu.Semaphore, error) {
	for len(fs.passDone) <= i {
		sem, err := fs.device.CreateSemaphore()
		if err != nil {
			return nil, err
		}
		fs.passDone = append(fs.passDone, sem)
	}
	return fs.passDone[i], nil
}

func (fs *frameSlot) destroy() {
	if fs.pool != nil {
		fs.pool.Destroy()
		fs.pool = nil
		fs.primaries = nil
	}
	for _, sem := range fs.passDone {
		sem.Destroy()
	}
	fs.passDone = nil
	if fs.present != nil {
		fs.present.Destroy()
		fs.present = nil
	}
	if fs.acquire != nil {
		fs.acquire.Destroy()
		fs.acquire = nil
	}
	if fs.fence != nil {
		fs.fence.Destroy()
		fs.fence = nil
	}
}

// sceneFrame is one scene as recorded into one frame slot.
type sceneFrame struct {
	scene   *scene.Scene
	frame   *scene.Frame
	slot    uint32
	targets *sceneTargets
	// gbuffer holds one secondary per kernel, in kernel order.
	gbuffer []gpu.CommandBuffer
	shadows []*shadowBatch
}

// shadowBatch is one cascade of one shadow-making light.
type shadowBatch struct {
	layer       uint32
	push        gpu.ShadowMapperPush
	framebuffer gpu.Framebuffer
	secondaries []gpu.CommandBuffer
}

func newSceneFrame(s *scene.Scene, f *scene.Frame, slot uint32, t *sceneTargets, kernels int) *sceneFrame {
	sf := &sceneFrame{scene: s, frame: f, slot: slot, targets: t}
	if t == nil {
		return sf
	}
	sf.gbuffer = make([]gpu.CommandBuffer, kernels)
	for _, sc := range f.Shadows {
		for c, cascade := range sc.Cascades {
			layer := sc.Slot*gpu.MaxCascades + uint32(c)
			if int(layer) >= len(t.shadowFBs) {
				continue
			}
			sf.shadows = append(sf.shadows, &shadowBatch{
				layer:       layer,
				push:        gpu.ShadowMapperPush{ViewProjection: cascade.ViewProjection},
				framebuffer: t.shadowFBs[layer],
				secondaries: make([]gpu.CommandBuffer, kernels),
			})
		}
	}
	return sf
}

// pending is a primary waiting for the kernels, with the view that
// completes it.
type pending struct {
	cmd  gpu.CommandBuffer
	view view
	sf   *sceneFrame
}

func (p *pending) finish() error {
	return errors.Join(p.view.OnRender(p.sf, p.cmd), p.cmd.End())
}
