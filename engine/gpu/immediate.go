package gpu

import (
	"fmt"
	"sync"
)

// Immediate records and submits one-off command buffers (uploads, copies,
// readbacks) and blocks until they complete.
type Immediate struct {
	mu     sync.Mutex
	device Device
	queue  QueueKind
	pool   CommandPool
	cmd    CommandBuffer
	fence  Fence
}

func NewImmediate(device Device, queue QueueKind) (*Immediate, error) {
	pool, err := device.CreateCommandPool(queue)
	if err != nil {
		return nil, err
	}
	cmd, err := pool.Allocate(LevelPrimary)
	if err != nil {
		pool.Destroy()
		return nil, err
	}
	fence, err := device.CreateFence(false)
	if err != nil {
		pool.Destroy()
		return nil, err
	}
	return &Immediate{device: device, queue: queue, pool: pool, cmd: cmd, fence: fence}, nil
}

/**
 * Lets record fill the command buffer, submits it and waits for the queue
 * operation to finish.
 */
func (im *Immediate) Run(record func(cmd CommandBuffer)) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	cmd := im.cmd
	if err := im.pool.Reset(); err != nil {
		return err
	}
	if err := cmd.Begin(nil); err != nil {
		return err
	}
	record(cmd)
	if err := cmd.End(); err != nil {
		return fmt.Errorf("immediate submit: %w", err)
	}
	if err := im.fence.Reset(); err != nil {
		return err
	}
	if err := im.device.Submit(im.queue, []SubmitInfo{{CommandBuffers: []CommandBuffer{cmd}}}, im.fence); err != nil {
		return err
	}
	return im.fence.Wait(Infinite)
}

func (im *Immediate) Destroy() {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.fence != nil {
		im.fence.Destroy()
		im.fence = nil
	}
	if im.pool != nil {
		im.pool.Destroy()
		im.pool = nil
	}
}
