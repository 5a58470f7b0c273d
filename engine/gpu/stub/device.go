// Package stub is a headless gpu.Device. Submissions execute synchronously
// on the calling goroutine and draws go through a CPU rasterizer running a
// reference shader per pipeline type.
package stub

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

const BackendName = "stub"

// Counters is a snapshot of the device statistics.
type Counters struct {
	Presents         uint64
	FenceWaits       uint64
	PipelinesCreated uint64
	Submissions      uint64
	LiveObjects      int64
}

type Device struct {
	// queue serializes submissions and direct image access.
	queue sync.Mutex

	cfg      gpu.DeviceConfig
	provider core.SurfaceProvider
	limits   gpu.Limits

	nextID      atomic.Uint64
	presents    atomic.Uint64
	fenceWaits  atomic.Uint64
	pipelines   atomic.Uint64
	submissions atomic.Uint64
	live        atomic.Int64

	logMu      sync.Mutex
	passLog    []string
	cacheMu    sync.Mutex
	cacheTypes map[string]struct{}
}

// NewDevice creates the device. provider may be nil, in which case the
// swapchain never reports out-of-date.
func NewDevice(cfg gpu.DeviceConfig, provider core.SurfaceProvider) (*Device, error) {
	if cfg.FramesInFlight == 0 {
		return nil, fmt.Errorf("frames in flight must be at least 1: %w", core.ErrBackendInitFailure)
	}
	d := &Device{
		cfg:      cfg,
		provider: provider,
		limits: gpu.Limits{
			MinUniformBufferOffsetAlignment: 256,
			MaxSamplerAnisotropy:            16,
			DepthFormat:                     gpu.FormatD32,
			MaxImageDimension2D:             8192,
		},
		cacheTypes: make(map[string]struct{}),
	}
	for _, t := range strings.Split(string(cfg.PipelineCache), ";") {
		if t != "" {
			d.cacheTypes[t] = struct{}{}
		}
	}
	core.LogInfo("stub device created (validation=%v, frames in flight=%d)", cfg.Validation, cfg.FramesInFlight)
	return d, nil
}

func (d *Device) Backend() string          { return BackendName }
func (d *Device) Name() string             { return "prism reference rasterizer" }
func (d *Device) Limits() gpu.Limits       { return d.limits }
func (d *Device) Config() gpu.DeviceConfig { return d.cfg }

func (d *Device) Counters() Counters {
	return Counters{
		Presents:         d.presents.Load(),
		FenceWaits:       d.fenceWaits.Load(),
		PipelinesCreated: d.pipelines.Load(),
		Submissions:      d.submissions.Load(),
		LiveObjects:      d.live.Load(),
	}
}

// PassLog returns the render pass names in the order they executed.
func (d *Device) PassLog() []string {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	return append([]string(nil), d.passLog...)
}

func (d *Device) ResetPassLog() {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	d.passLog = d.passLog[:0]
}

func (d *Device) logPass(name string) {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	d.passLog = append(d.passLog, name)
}

// object is embedded by every resource for live-object accounting.
type object struct {
	dev  *Device
	dead atomic.Bool
}

func (d *Device) track() object {
	d.live.Add(1)
	return object{dev: d}
}

func (o *object) release() bool {
	if o.dead.Swap(true) {
		return false
	}
	o.dev.live.Add(-1)
	return true
}

func (d *Device) CreateCommandPool(queue gpu.QueueKind) (gpu.CommandPool, error) {
	return &commandPool{object: d.track(), queue: queue}, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	f := &fence{object: d.track()}
	f.signaled.Store(signaled)
	return f, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	return &semaphore{object: d.track()}, nil
}

// Submit executes every batch now, in order.
func (d *Device) Submit(queue gpu.QueueKind, submits []gpu.SubmitInfo, f gpu.Fence) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	for i, s := range submits {
		for _, w := range s.Waits {
			if err := w.Semaphore.(*semaphore).consume(); err != nil {
				return fmt.Errorf("submit batch %d: %w", i, err)
			}
		}
		for _, c := range s.CommandBuffers {
			cb := c.(*commandBuffer)
			if cb.level != gpu.LevelPrimary {
				return fmt.Errorf("submit secondary command buffer: %w", core.ErrInvalidState)
			}
			if err := cb.Submitted(); err != nil {
				return err
			}
			ex := &executor{dev: d}
			err := ex.run(cb.cmds)
			cb.Completed()
			if err != nil {
				return err
			}
		}
		for _, sem := range s.Signals {
			sem.(*semaphore).signal()
		}
		d.submissions.Add(1)
	}
	if f != nil {
		f.(*fence).signaled.Store(true)
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.queue.Lock()
	defer d.queue.Unlock()
	return nil
}

// PipelineCacheData lists the pipeline types compiled by this device and the
// ones it was seeded with.
func (d *Device) PipelineCacheData() ([]byte, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	names := make([]string, 0, len(d.cacheTypes))
	for n := range d.cacheTypes {
		names = append(names, n)
	}
	slices.Sort(names)
	return []byte(strings.Join(names, ";")), nil
}

// CachedPipelineTypes reports how many pipeline types the cache knows.
func (d *Device) CachedPipelineTypes() int {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	return len(d.cacheTypes)
}

func (d *Device) Destroy() {
	if n := d.live.Load(); n != 0 {
		core.LogWarn("stub device destroyed with %d live objects", n)
	}
}

type fence struct {
	object
	signaled atomic.Bool
}

// Wait returns at once: submissions complete before Submit returns, so an
// unsignaled fence has nothing pending.
func (f *fence) Wait(timeout time.Duration) error {
	f.dev.fenceWaits.Add(1)
	if f.signaled.Load() {
		return nil
	}
	if timeout == gpu.Infinite {
		return fmt.Errorf("infinite wait on a fence with no pending submission: %w", core.ErrInvalidState)
	}
	return fmt.Errorf("fence wait after %s: %w", timeout, core.ErrFenceTimeout)
}

func (f *fence) Reset() error {
	f.signaled.Store(false)
	return nil
}

func (f *fence) Signaled() bool { return f.signaled.Load() }
func (f *fence) Destroy()       { f.release() }

// semaphore counts signals not yet consumed by a wait.
type semaphore struct {
	object
	pending atomic.Int32
}

func (s *semaphore) signal() {
	s.pending.Add(1)
}

func (s *semaphore) consume() error {
	for {
		n := s.pending.Load()
		if n <= 0 {
			return fmt.Errorf("wait on an unsignaled semaphore: %w", core.ErrInvalidState)
		}
		if s.pending.CompareAndSwap(n, n-1) {
			return nil
		}
	}
}

func (s *semaphore) Destroy() { s.release() }
