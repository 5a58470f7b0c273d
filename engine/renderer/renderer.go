package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
	"github.com/spaghettifunk/prism/engine/gpu/vulkan"
	"github.com/spaghettifunk/prism/engine/scene"
)

type Options struct {
	// Backend is "vulkan" or "stub".
	Backend          string
	ApplicationName  string
	Validation       bool
	EnableAnisotropy bool
	// PipelineCache is where compiled pipelines persist between runs; empty
	// disables persistence.
	PipelineCache string
	// ShaderDir overrides the SPIR-V modules built into the backend.
	ShaderDir string
	Buffers   gpu.BufferManagerConfig
	Scheduler Config
}

func DefaultOptions() Options {
	return Options{
		Backend:          vulkan.BackendName,
		ApplicationName:  "prism",
		EnableAnisotropy: true,
		Buffers:          gpu.DefaultBufferManagerConfig(),
		Scheduler:        DefaultConfig(),
	}
}

// Renderer owns the device and its context, and the scheduler once Start
// has been called.
type Renderer struct {
	opts      Options
	provider  core.SurfaceProvider
	device    gpu.Device
	ctx       *gpu.Context
	scheduler *Scheduler
	closed    bool
}

func New(opts Options, provider core.SurfaceProvider) (*Renderer, error) {
	frames := opts.Scheduler.FramesInFlight
	if frames == 0 {
		return nil, fmt.Errorf("renderer without frames in flight: %w", core.ErrBackendInitFailure)
	}
	cfg := gpu.DeviceConfig{
		ApplicationName:  opts.ApplicationName,
		Validation:       opts.Validation,
		FramesInFlight:   frames,
		EnableAnisotropy: opts.EnableAnisotropy,
		ShaderDir:        opts.ShaderDir,
	}
	if opts.PipelineCache != "" {
		data, err := gpu.NewPipelineCacheStore(opts.PipelineCache).Load(opts.Backend, "")
		if err != nil {
			core.LogWarn("pipeline cache %s unusable, starting cold: %s", opts.PipelineCache, err)
		}
		cfg.PipelineCache = data
	}

	var (
		device gpu.Device
		err    error
	)
	switch opts.Backend {
	case vulkan.BackendName:
		device, err = vulkan.NewDevice(cfg, provider)
	case stub.BackendName:
		device, err = stub.NewDevice(cfg, provider)
	default:
		return nil, fmt.Errorf("unknown renderer backend %q: %w", opts.Backend, core.ErrBackendInitFailure)
	}
	if err != nil {
		return nil, err
	}

	ctx, err := gpu.NewContext(device, gpu.ContextConfig{
		FramesInFlight:   frames,
		Buffers:          opts.Buffers,
		EnableAnisotropy: opts.EnableAnisotropy,
		PipelineCache:    opts.PipelineCache,
	})
	if err != nil {
		device.Destroy()
		return nil, err
	}
	core.LogInfo("renderer on %s device %q", device.Backend(), device.Name())
	return &Renderer{opts: opts, provider: provider, device: device, ctx: ctx}, nil
}

func (r *Renderer) Context() *gpu.Context { return r.ctx }
func (r *Renderer) Device() gpu.Device    { return r.device }
func (r *Renderer) Scheduler() *Scheduler { return r.scheduler }
func (r *Renderer) Options() Options      { return r.opts }

// Start builds the scheduler over scenes. metrics may be nil.
func (r *Renderer) Start(scenes *scene.Manager, metrics *core.Metrics) error {
	if r.closed || r.scheduler != nil {
		return fmt.Errorf("renderer already started or shut down: %w", core.ErrInvalidState)
	}
	s, err := NewScheduler(r.ctx, r.provider, scenes, metrics, r.opts.Scheduler)
	if err != nil {
		return err
	}
	r.scheduler = s
	return nil
}

// DrawFrame renders one frame. Only fatal errors are returned.
func (r *Renderer) DrawFrame() error {
	if r.scheduler == nil {
		return fmt.Errorf("draw before start: %w", core.ErrInvalidState)
	}
	if err := r.scheduler.Render(); err != nil {
		core.LogError("frame %d failed: %s", r.scheduler.submitted, err)
		return err
	}
	return nil
}

// OnResize is informational; the swapchain is rebuilt when it reports
// out-of-date.
func (r *Renderer) OnResize(width, height uint32) {
	core.LogWith(core.LogLevelDebug, "surface resized", "width", width, "height", height)
}

// Shutdown stops the scheduler, then releases the context and the device.
// Resources still owned elsewhere must have been released before.
func (r *Renderer) Shutdown() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	if r.scheduler != nil {
		errs = append(errs, r.scheduler.Shutdown())
	}
	errs = append(errs, r.device.WaitIdle())
	r.ctx.Destroy()
	r.device.Destroy()
	return errors.Join(errs...)
}
