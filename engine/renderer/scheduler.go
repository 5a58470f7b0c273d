package renderer

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/scene"
)

type Config struct {
	// Kernels is the number of recording goroutines; 0 means one per CPU.
	Kernels         int
	FramesInFlight  uint32
	SwapchainImages uint32
	// AcquireTimeout bounds the wait for a swapchain image. The frame is
	// skipped when it expires.
	AcquireTimeout time.Duration
	ShadowMapSize  uint32
	// MaxShadowLights sizes the shadow map array of every game scene.
	MaxShadowLights uint32
	// MaxConsecutiveRecoverable turns a run of recoverable errors into a
	// fatal one.
	MaxConsecutiveRecoverable int
}

func DefaultConfig() Config {
	return Config{
		FramesInFlight:            3,
		SwapchainImages:           3,
		AcquireTimeout:            time.Second,
		ShadowMapSize:             1024,
		MaxShadowLights:           6,
		MaxConsecutiveRecoverable: 8,
	}
}

// chainWaitStage is where each pass waits for the previous one.
const chainWaitStage = gpu.PipelineStageEarlyFragmentTests | gpu.PipelineStageFragmentShader |
	gpu.PipelineStageColorAttachmentOutput

// Scheduler renders every scene of a scene.Manager once per Render call.
// Render and Shutdown must be called from the same goroutine.
type Scheduler struct {
	ctx      *gpu.Context
	device   gpu.Device
	provider core.SurfaceProvider
	scenes   *scene.Manager
	metrics  *core.Metrics
	cfg      Config

	swapchain gpu.Swapchain
	chain     *chain
	present   *presentView
	slots     []*frameSlot
	kernels   []*kernel
	targets   map[uint64]*sceneTargets
	sky       *metadata.Texture

	frame       uint32
	submitted   uint64
	recoverable int
	lastImage   int
	closed      bool
}

// NewScheduler creates the swapchain over the provider's current extent,
// compiles every pipeline of the pass chain and starts the kernels.
func NewScheduler(ctx *gpu.Context, provider core.SurfaceProvider, scenes *scene.Manager, metrics *core.Metrics, cfg Config) (*Scheduler, error) {
	if cfg.FramesInFlight == 0 || cfg.FramesInFlight != ctx.FramesInFlight() {
		return nil, fmt.Errorf("scheduler with %d frames in flight over a context with %d: %w",
			cfg.FramesInFlight, ctx.FramesInFlight(), core.ErrInvalidState)
	}
	if cfg.Kernels <= 0 {
		cfg.Kernels = runtime.NumCPU()
	}
	if cfg.MaxConsecutiveRecoverable <= 0 {
		cfg.MaxConsecutiveRecoverable = DefaultConfig().MaxConsecutiveRecoverable
	}
	cfg.MaxShadowLights = min(max(cfg.MaxShadowLights, 1), gpu.MaxShadowLights)
	cfg.ShadowMapSize = max(cfg.ShadowMapSize, 1)
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	s := &Scheduler{
		ctx:       ctx,
		device:    ctx.Device,
		provider:  provider,
		scenes:    scenes,
		metrics:   metrics,
		cfg:       cfg,
		targets:   make(map[uint64]*sceneTargets),
		lastImage: -1,
	}
	if err := s.init(); err != nil {
		s.teardown()
		return nil, err
	}
	core.LogInfo("frame scheduler ready: %d kernels, %d frames in flight, %dx%d swapchain",
		cfg.Kernels, cfg.FramesInFlight, s.swapchain.Extent().Width, s.swapchain.Extent().Height)
	return s, nil
}

func (s *Scheduler) init() error {
	w, h := s.provider.CurrentExtent()
	var err error
	s.swapchain, err = s.device.CreateSwapchain(gpu.SwapchainDesc{
		Extent:     gpu.Extent{Width: w, Height: h},
		ImageCount: s.cfg.SwapchainImages,
	})
	if err != nil {
		return err
	}
	if s.chain, err = newChain(s.ctx); err != nil {
		return err
	}
	s.present = newPresentView()
	if err := s.present.OnCreate(s.ctx, s.swapchain); err != nil {
		return err
	}
	black := metadata.SolidColor([4]byte{0, 0, 0, 255}, 1)
	faces := make([][]*image.RGBA, 6)
	for i := range faces {
		faces[i] = []*image.RGBA{black}
	}
	if s.sky, err = metadata.CreateTexture(s.ctx, 0, "scheduler-empty-sky", metadata.TextureTypeCube, faces); err != nil {
		return err
	}
	for i := range s.cfg.FramesInFlight {
		fs, err := newFrameSlot(s.device, i)
		if err != nil {
			return err
		}
		s.slots = append(s.slots, fs)
	}
	for i := range s.cfg.Kernels {
		k, err := newKernel(s.device, i, s.cfg.FramesInFlight)
		if err != nil {
			return err
		}
		s.kernels = append(s.kernels, k)
	}
	return nil
}

func (s *Scheduler) Metrics() *core.Metrics { return s.metrics }
func (s *Scheduler) Extent() gpu.Extent     { return s.swapchain.Extent() }
func (s *Scheduler) Kernels() int           { return len(s.kernels) }

// Frame is the slot the next Render records into.
func (s *Scheduler) Frame() uint32 { return s.frame }

// Render records, submits and presents one frame. Recoverable errors are
// handled here and reported as nil; a returned error is fatal.
func (s *Scheduler) Render() error {
	if s.closed {
		return fmt.Errorf("render after shutdown: %w", core.ErrInvalidState)
	}
	slot := s.slots[s.frame]
	if err := slot.fence.Wait(gpu.Infinite); err != nil {
		return s.fatal(fmt.Errorf("wait in-flight fence of slot %d: %w", slot.index, err))
	}
	s.metrics.FenceWaits.Add(1)

	idx, err := s.swapchain.Acquire(s.cfg.AcquireTimeout, slot.acquire)
	if err != nil {
		return s.recover(err)
	}

	primaries, err := s.record(slot, idx)
	if err != nil {
		return s.fatal(errors.Join(err, s.abandon(slot)))
	}
	if err := s.submit(slot, primaries); err != nil {
		return s.fatal(err)
	}
	s.submitted++
	s.frame = (s.frame + 1) % s.cfg.FramesInFlight

	if err := s.swapchain.Present(idx, []gpu.Semaphore{slot.present}); err != nil {
		return s.recover(err)
	}
	s.lastImage = int(idx)
	s.recoverable = 0
	s.metrics.Presents.Add(1)
	return nil
}

// record runs the pass chain of every scene into the slot's primaries and
// returns them in submission order.
func (s *Scheduler) record(slot *frameSlot, idx uint32) ([]gpu.CommandBuffer, error) {
	s.ctx.Deletion.Advance(s.submitted)
	if err := slot.reset(); err != nil {
		return nil, err
	}
	for _, k := range s.kernels {
		if err := k.reset(slot.index); err != nil {
			return nil, err
		}
	}

	extent := s.swapchain.Extent()
	all := s.scenes.Scenes()
	for _, sc := range all {
		sc.SetExtent(extent)
	}
	if err := s.scenes.Update(slot.index); err != nil {
		return nil, err
	}

	var games, ui []*sceneFrame
	live := make(map[uint64]bool, len(all))
	for _, sc := range all {
		f := sc.Frame(slot.index)
		if f == nil {
			continue
		}
		if sc.Kind == scene.KindUI {
			ui = append(ui, newSceneFrame(sc, f, slot.index, nil, 0))
			continue
		}
		t, err := s.targetsOf(sc, f)
		if err != nil {
			return nil, err
		}
		live[sc.ID()] = true
		games = append(games, newSceneFrame(sc, f, slot.index, t, len(s.kernels)))
	}
	for id, t := range s.targets {
		if !live[id] {
			t.release(s.ctx)
			delete(s.targets, id)
		}
	}

	var order []*pending
	for _, sf := range games {
		for _, v := range s.chain.views {
			if !v.Enabled(sf) {
				continue
			}
			cmd, err := slot.primary()
			if err != nil {
				return nil, err
			}
			if err := cmd.Begin(nil); err != nil {
				return nil, err
			}
			v.OnBegin(sf, cmd)
			order = append(order, &pending{cmd: cmd, view: v, sf: sf})
		}
	}

	if err := s.dispatch(&kernelJob{slot: slot.index, chain: s.chain, scenes: games, kernels: len(s.kernels)}); err != nil {
		return nil, err
	}

	primaries := make([]gpu.CommandBuffer, 0, len(order)+1)
	for _, p := range order {
		if err := p.finish(); err != nil {
			return nil, fmt.Errorf("%s pass of scene %q: %w", p.view.Name(), p.sf.scene.Name(), err)
		}
		primaries = append(primaries, p.cmd)
	}

	cmd, err := slot.primary()
	if err != nil {
		return nil, err
	}
	if err := cmd.Begin(nil); err != nil {
		return nil, err
	}
	s.present.OnRender(cmd, idx, presented(s.scenes, games), ui)
	if err := cmd.End(); err != nil {
		return nil, fmt.Errorf("present pass: %w", err)
	}
	return append(primaries, cmd), nil
}

// presented picks the active game scene, or the first one.
func presented(m *scene.Manager, games []*sceneFrame) *sceneFrame {
	if len(games) == 0 {
		return nil
	}
	if active := m.Active(); active != nil {
		for _, sf := range games {
			if sf.scene == active {
				return sf
			}
		}
	}
	return games[0]
}

// targetsOf returns the render targets of sc, building them on first use.
func (s *Scheduler) targetsOf(sc *scene.Scene, f *scene.Frame) (*sceneTargets, error) {
	sky := s.sky
	if f.Skybox != nil && f.Skybox.Texture != nil {
		sky = f.Skybox.Texture
	}
	if t, ok := s.targets[sc.ID()]; ok {
		return t, t.setSky(s.ctx, sky)
	}
	t, err := newSceneTargets(s.ctx, s.chain, sc.ID(), targetConfig{
		extent:       s.swapchain.Extent(),
		shadowSize:   s.cfg.ShadowMapSize,
		shadowLayers: s.cfg.MaxShadowLights * gpu.MaxCascades,
		sky:          sky,
	})
	if err != nil {
		return nil, err
	}
	s.targets[sc.ID()] = t
	core.LogDebug("render targets of scene %q built at %dx%d", sc.Name(), t.extent.Width, t.extent.Height)
	return t, nil
}

// dispatch starts every kernel and waits for all of them.
func (s *Scheduler) dispatch(job *kernelJob) error {
	for _, k := range s.kernels {
		k.start <- job
	}
	var errs []error
	for _, k := range s.kernels {
		if err := <-k.ready; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// submit chains the primaries with the slot's semaphores: the first waits
// for the acquired image, the last signals presentation and the fence.
func (s *Scheduler) submit(slot *frameSlot, primaries []gpu.CommandBuffer) error {
	submits := make([]gpu.SubmitInfo, len(primaries))
	wait := gpu.SemaphoreWait{Semaphore: slot.acquire, Stage: gpu.PipelineStageColorAttachmentOutput}
	for i, cmd := range primaries {
		signal := slot.present
		if i < len(primaries)-1 {
			sem, err := slot.semaphore(i)
			if err != nil {
				return err
			}
			signal = sem
		}
		submits[i] = gpu.SubmitInfo{
			CommandBuffers: []gpu.CommandBuffer{cmd},
			Waits:          []gpu.SemaphoreWait{wait},
			Signals:        []gpu.Semaphore{signal},
		}
		wait = gpu.SemaphoreWait{Semaphore: signal, Stage: chainWaitStage}
	}
	if err := slot.fence.Reset(); err != nil {
		return err
	}
	if err := s.device.Submit(gpu.QueueGraphics, submits, slot.fence); err != nil {
		return fmt.Errorf("submit frame slot %d: %w", slot.index, err)
	}
	return nil
}

// abandon consumes the acquire semaphore and signals the fence of a frame
// whose recording failed, so the slot can be waited on again.
func (s *Scheduler) abandon(slot *frameSlot) error {
	if err := slot.fence.Reset(); err != nil {
		return err
	}
	return s.device.Submit(gpu.QueueGraphics, []gpu.SubmitInfo{{
		Waits: []gpu.SemaphoreWait{{Semaphore: slot.acquire, Stage: gpu.PipelineStageTopOfPipe}},
	}}, slot.fence)
}

// recover handles an acquire or present failure. The frame is skipped; an
// out-of-date swapchain is rebuilt first.
func (s *Scheduler) recover(err error) error {
	if !core.IsRecoverable(err) {
		return s.fatal(err)
	}
	s.metrics.SkippedFrames.Add(1)
	if errors.Is(err, core.ErrSwapchainOutOfDate) {
		w, h := s.provider.CurrentExtent()
		if w == 0 || h == 0 {
			// minimized; nothing to draw until the surface comes back
			return nil
		}
		if rerr := s.recreate(gpu.Extent{Width: w, Height: h}); rerr != nil {
			if errors.Is(rerr, core.ErrSwapchainOutOfDate) {
				// the surface lost its area again before the rebuild
				return nil
			}
			return s.fatal(rerr)
		}
	}
	s.metrics.RecoverableErrors.Add(1)
	s.recoverable++
	core.LogRecoverable(err, "frame", s.submitted, "slot", s.frame, "consecutive", s.recoverable)
	if s.recoverable >= s.cfg.MaxConsecutiveRecoverable {
		return s.fatal(fmt.Errorf("%d consecutive recoverable errors, last: %v: %w",
			s.recoverable, err, core.ErrInvalidState))
	}
	return nil
}

// recreate rebuilds the swapchain and everything sized by it.
func (s *Scheduler) recreate(extent gpu.Extent) error {
	if err := s.device.WaitIdle(); err != nil {
		return err
	}
	if err := s.swapchain.Recreate(extent); err != nil {
		return fmt.Errorf("recreate swapchain at %dx%d: %w", extent.Width, extent.Height, err)
	}
	if err := s.present.OnResize(s.swapchain); err != nil {
		return err
	}
	for id, t := range s.targets {
		t.destroy()
		delete(s.targets, id)
	}
	s.lastImage = -1
	s.metrics.SwapchainRecreations.Add(1)
	core.LogInfo("swapchain recreated at %dx%d", extent.Width, extent.Height)
	return nil
}

// fatal idles the device so owners can release GPU memory, then returns err.
func (s *Scheduler) fatal(err error) error {
	if werr := s.device.WaitIdle(); werr != nil {
		core.LogWarn("wait idle after fatal error: %s", werr)
	}
	return err
}

// Shutdown stops the kernels, waits for them and for the device, then
// destroys the swapchain, the framebuffers and the render targets. The
// context and device stay with their owner.
func (s *Scheduler) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, k := range s.kernels {
		k.stop()
	}
	for _, k := range s.kernels {
		k.wait()
	}
	err := s.device.WaitIdle()
	s.teardown()
	core.LogInfo("frame scheduler stopped after %d frames", s.submitted)
	return err
}

func (s *Scheduler) teardown() {
	for id, t := range s.targets {
		t.destroy()
		delete(s.targets, id)
	}
	if s.present != nil {
		s.present.OnDestroy(s.ctx)
	}
	if s.chain != nil {
		s.chain.destroy(s.ctx)
	}
	if s.swapchain != nil {
		s.swapchain.Destroy()
		s.swapchain = nil
	}
	for _, fs := range s.slots {
		fs.destroy()
	}
	s.slots = nil
	// kernels started by a failed init are still parked on start
	for _, k := range s.kernels {
		k.stop()
	}
	for _, k := range s.kernels {
		k.wait()
		k.destroy()
	}
	s.kernels = nil
	s.sky = nil
}
