package renderer

import (
	"fmt"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/renderer/components"
)

// kernelJob is what every kernel records for one frame.
type kernelJob struct {
	slot    uint32
	chain   *chain
	scenes  []*sceneFrame
	kernels int
}

// kernelPool is the secondary pool of one kernel for one frame slot.
type kernelPool struct {
	pool    gpu.CommandPool
	buffers []gpu.CommandBuffer
	used    int
}

// kernel is a long-lived recording goroutine. It owns one command pool per
// frame slot and records the models whose task index maps to it.
type kernel struct {
	index   int
	pools   []*kernelPool
	start   chan *kernelJob
	stopped bool
	ready   chan error
}

func newKernel(device gpu.Device, index int, frames uint32) (*kernel, error) {
	k := &kernel{
		index: index,
		start: make(chan *kernelJob),
		ready: make(chan error),
	}
	for range frames {
		pool, err := device.CreateCommandPool(gpu.QueueGraphics)
		if err != nil {
			k.destroy()
			return nil, err
		}
		k.pools = append(k.pools, &kernelPool{pool: pool})
	}
	go k.run()
	return k, nil
}

// run exits when start is closed and closes ready behind it.
func (k *kernel) run() {
	defer close(k.ready)
	for job := range k.start {
		k.ready <- k.record(job)
	}
}

// reset runs on the main thread while the kernel waits for its next job.
func (k *kernel) reset(slot uint32) error {
	kp := k.pools[slot]
	kp.used = 0
	return kp.pool.Reset()
}

func (k *kernel) secondary(slot uint32, pass gpu.RenderPass, fb gpu.Framebuffer) (gpu.CommandBuffer, error) {
	kp := k.pools[slot]
	if kp.used == len(kp.buffers) {
		cmd, err := kp.pool.Allocate(gpu.LevelSecondary)
		if err != nil {
			return nil, err
		}
		kp.buffers = append(kp.buffers, cmd)
	}
	cmd := kp.buffers[kp.used]
	kp.used++
	if err := cmd.Begin(&gpu.Inheritance{RenderPass: pass, Framebuffer: fb}); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (k *kernel) record(job *kernelJob) error {
	task := 0
	gbufferPipeline := job.chain.gbuffer.pipeline()
	shadowPipeline := job.chain.shadow.pipeline()
	for _, sf := range job.scenes {
		gb, err := k.secondary(job.slot, job.chain.gbuffer.pass, sf.targets.gbuffer)
		if err != nil {
			return fmt.Errorf("kernel %d: %w", k.index, err)
		}
		sf.gbuffer[k.index] = gb
		setViewport(gb, sf.targets.extent)
		gb.BindPipeline(gbufferPipeline)
		sf.scene.BindFrame(gb, gbufferPipeline, job.slot)

		shadows := make([]gpu.CommandBuffer, len(sf.shadows))
		for i, b := range sf.shadows {
			cmd, err := k.secondary(job.slot, job.chain.shadow.pass, b.framebuffer)
			if err != nil {
				return fmt.Errorf("kernel %d: %w", k.index, err)
			}
			b.secondaries[k.index] = cmd
			shadows[i] = cmd
			setViewport(cmd, b.framebuffer.Extent())
			cmd.BindPipeline(shadowPipeline)
			sf.scene.BindFrame(cmd, shadowPipeline, job.slot)
			cmd.PushConstants(shadowPipeline, gpu.UniformBytes(&b.push))
		}

		for _, m := range sf.frame.Models {
			t := task
			task++
			if t%job.kernels != k.index {
				continue
			}
			if !m.IsCulled() {
				m.Render(gb, gbufferPipeline, job.slot, components.DrawOpaque)
			}
			// cascades cover more than the view frustum, so culled models
			// still cast
			if len(shadows) > 0 && m.CastsShadows() {
				for _, cmd := range shadows {
					m.Render(cmd, shadowPipeline, job.slot, components.DrawShadowCasters)
				}
			}
		}

		if err := gb.End(); err != nil {
			return fmt.Errorf("kernel %d g-buffer of scene %q: %w", k.index, sf.scene.Name(), err)
		}
		for _, cmd := range shadows {
			if err := cmd.End(); err != nil {
				return fmt.Errorf("kernel %d shadows of scene %q: %w", k.index, sf.scene.Name(), err)
			}
		}
	}
	core.LogWith(core.LogLevelDebug, "kernel recorded", "kernel", k.index, "slot", job.slot, "tasks", task)
	return nil
}

// stop closes start once so run returns.
func (k *kernel) stop() {
	if k.stopped {
		return
	}
	k.stopped = true
	close(k.start)
}

// wait drains ready until run has returned.
func (k *kernel) wait() {
	for range k.ready {
	}
}

func (k *kernel) destroy() {
	for _, kp := range k.pools {
		kp.pool.Destroy()
	}
	k.pools = nil
}
