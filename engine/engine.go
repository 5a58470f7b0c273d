package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/platform/headless"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot-complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting-down"
	}
	return "unknown"
}

// suspendedPoll paces the loop while the surface has no area.
const suspendedPoll = 10 * time.Millisecond

// fpsReportInterval is how often the frame rate is logged.
const fpsReportInterval = 5 * time.Second

type Engine struct {
	currentStage  Stage
	config        *ApplicationConfig
	gameInstance  *Game
	provider      core.SurfaceProvider
	platform      *platform.Platform
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	renderer      *renderer.Renderer
	scenes        *scene.Manager
	events        *core.EventBus
	input         *core.InputState
	metrics       *core.Metrics
	clock         *core.Clock
	isRunning     bool
	isSuspended   bool
	width         uint32
	height        uint32
	lastTime      float64

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the engine with the surface provider its backend needs: a
// GLFW window for vulkan, a headless provider for stub.
func New(cfg *ApplicationConfig, g *Game) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Headless() {
		return NewWithProvider(cfg, g, headless.New(cfg.ContentWidth, cfg.ContentHeight))
	}
	p, err := platform.New(cfg.PlatformConfig())
	if err != nil {
		return nil, err
	}
	e, err := NewWithProvider(cfg, g, p)
	if err != nil {
		p.Shutdown()
		return nil, err
	}
	e.platform = p
	return e, nil
}

// NewWithProvider builds the engine over an existing surface provider.
func NewWithProvider(cfg *ApplicationConfig, g *Game, provider core.SurfaceProvider) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if g == nil {
		g = &Game{}
	}
	g.ApplicationConfig = cfg
	return &Engine{
		currentStage: EngineStageUninitialized,
		config:       cfg,
		gameInstance: g,
		provider:     provider,
		events:       core.NewEventBus(),
		input:        core.NewInputState(),
		metrics:      core.NewMetrics(),
		clock:        core.NewClock(),
		width:        cfg.ContentWidth,
		height:       cfg.ContentHeight,
	}, nil
}

func (e *Engine) Stage() Stage                 { return e.currentStage }
func (e *Engine) Metrics() *core.Metrics       { return e.metrics }
func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }
func (e *Engine) Scenes() *scene.Manager       { return e.scenes }
func (e *Engine) Events() *core.EventBus       { return e.events }

// Initialize brings every subsystem up, loads the configured scenes and
// starts the frame scheduler. On failure Shutdown releases what was built.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("initialize in stage %s: %w", e.currentStage, core.ErrInvalidState)
	}
	e.currentStage = EngineStageBooting
	if err := core.LogConfigure(e.config.Log); err != nil {
		return err
	}
	if e.gameInstance.FnBoot != nil {
		if err := e.gameInstance.FnBoot(e.config); err != nil {
			return fmt.Errorf("game boot: %w", err)
		}
		if err := e.config.Validate(); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	e.assetManager = assets.NewAssetManager(e.config.AssetOptions())
	if err := e.assetManager.Initialize(); err != nil {
		return err
	}

	r, err := renderer.New(e.config.RendererOptions(), e.provider)
	if err != nil {
		return err
	}
	e.renderer = r

	sm, err := systems.NewSystemManager(e.config.SystemsConfig(), e.assetManager, r.Context())
	if err != nil {
		return err
	}
	e.systemManager = sm
	e.scenes = scene.NewManager()

	for _, id := range e.config.Scenes {
		s, err := sm.Scenes().Load(ctx, id)
		if err != nil {
			return fmt.Errorf("load scene %d: %w", id, err)
		}
		e.scenes.Add(s)
		if e.scenes.Active() == nil && s.Kind == scene.KindGame {
			if err := e.scenes.SetActive(s.ID()); err != nil {
				return err
			}
		}
	}

	e.events.Register(core.EventQuit, e, e.onEvent)
	e.events.Register(core.EventResize, e, e.onResized)
	e.events.Register(core.EventKeyPress, e, e.onKey)
	e.events.Register(core.EventKeyRelease, e, e.onKey)

	g := e.gameInstance
	g.SystemManager = sm
	g.Scenes = e.scenes
	g.Input = e.input
	g.Metrics = e.metrics
	if g.FnInitialize != nil {
		if err := g.FnInitialize(); err != nil {
			return fmt.Errorf("game initialize: %w", err)
		}
	}
	if g.FnOnResize != nil {
		if err := g.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	if err := r.Start(e.scenes, e.metrics); err != nil {
		return err
	}
	e.isRunning = true
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized with %d scene(s) on %s", len(e.scenes.Scenes()), e.config.Renderer.Backend)
	return nil
}

// Run pumps events and renders until a quit is requested or ctx is done.
// Only fatal errors are returned.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("run in stage %s: %w", e.currentStage, core.ErrInvalidState)
	}
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Seconds()
	lastReport := time.Now()

	for e.isRunning {
		if ctx.Err() != nil {
			core.LogInfo("run loop cancelled: %s", context.Cause(ctx))
			break
		}
		for _, ev := range e.provider.PollEvents() {
			e.input.Apply(ev)
			e.events.Fire(ev)
		}
		if !e.isRunning || e.provider.ShouldQuit() {
			break
		}
		if e.isSuspended {
			time.Sleep(suspendedPoll)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Seconds()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		if fn := e.gameInstance.FnUpdate; fn != nil {
			if err := fn(delta); err != nil {
				core.LogError("game update failed, shutting down.")
				return err
			}
		}
		if fn := e.gameInstance.FnRender; fn != nil {
			if err := fn(delta); err != nil {
				core.LogError("game render failed, shutting down.")
				return err
			}
		}
		if err := e.renderer.DrawFrame(); err != nil {
			return err
		}
		e.metrics.Update(time.Since(frameStart).Seconds())

		// Input state is copied last so the next frame sees this one's
		// presses as previous.
		e.input.Update()
		e.lastTime = currentTime

		if time.Since(lastReport) >= fpsReportInterval {
			fps, frameTime := e.metrics.Frame()
			core.LogWith(core.LogLevelInfo, "frame stats",
				"fps", fmt.Sprintf("%.1f", fps),
				"frame_ms", fmt.Sprintf("%.2f", frameTime),
				"skipped", e.metrics.SkippedFrames.Load(),
				"recreations", e.metrics.SwapchainRecreations.Load())
			lastReport = time.Now()
		}
	}
	e.isRunning = false
	return nil
}

// Shutdown tears everything down once, in reverse order of creation. It is
// safe to call after a failed Initialize and more than once. The log file
// stays open for the caller to report the outcome, then core.LogClose.
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.currentStage = EngineStageShuttingDown
		e.isRunning = false
		var errs []error
		if e.renderer != nil && e.renderer.Scheduler() != nil {
			errs = append(errs, e.renderer.Scheduler().Shutdown())
		}
		if fn := e.gameInstance.FnShutdown; fn != nil {
			errs = append(errs, fn())
		}
		if e.scenes != nil {
			e.scenes.Destroy()
		}
		if e.systemManager != nil {
			errs = append(errs, e.systemManager.Shutdown())
		}
		if e.assetManager != nil {
			errs = append(errs, e.assetManager.Shutdown())
		}
		if e.renderer != nil {
			errs = append(errs, e.renderer.Shutdown())
		}
		if e.platform != nil {
			e.platform.Shutdown()
		}
		e.clock.Stop()
		e.shutdownErr = errors.Join(errs...)
		if e.shutdownErr != nil {
			core.LogError("shutdown: %s", e.shutdownErr)
		} else {
			core.LogInfo("engine shut down after %d presented frames", e.metrics.Presents.Load())
		}
		e.currentStage = EngineStageUninitialized
	})
	return e.shutdownErr
}

func (e *Engine) onEvent(ev core.Event, listener interface{}) bool {
	if ev.Kind == core.EventQuit {
		core.LogInfo("EventQuit received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onResized(ev core.Event, listener interface{}) bool {
	if ev.Width == e.width && ev.Height == e.height && !e.isSuspended {
		return false
	}
	e.width, e.height = ev.Width, ev.Height
	if ev.Width == 0 || ev.Height == 0 {
		core.LogInfo("window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming application.")
		e.isSuspended = false
	}
	if fn := e.gameInstance.FnOnResize; fn != nil {
		if err := fn(ev.Width, ev.Height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	e.renderer.OnResize(ev.Width, ev.Height)
	// other listeners may want it too
	return false
}

func (e *Engine) onKey(ev core.Event, listener interface{}) bool {
	if ev.Kind == core.EventKeyPress && ev.Key == core.KEY_ESCAPE {
		e.provider.RequestQuit()
		return true
	}
	return false
}
