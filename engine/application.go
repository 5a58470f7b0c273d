package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
	"github.com/spaghettifunk/prism/engine/gpu/vulkan"
	"github.com/spaghettifunk/prism/engine/platform"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/systems"
)

const (
	ScreenWindowed   = "windowed"
	ScreenFullscreen = "fullscreen"

	maxFramesInFlight = 3
)

type RendererConfig struct {
	// Backend is "vulkan" or "stub".
	Backend string `toml:"backend"`
	// Kernels is the number of recording goroutines; 0 means one per CPU.
	Kernels          int    `toml:"kernels"`
	SSAO             bool   `toml:"ssao"`
	Validation       bool   `toml:"validation"`
	AcquireTimeoutMS uint32 `toml:"acquire_timeout_ms"`
	ShadowMapSize    uint32 `toml:"shadow_map_size"`
	// PipelineCache is the file compiled pipelines persist to. Empty
	// disables persistence.
	PipelineCache string `toml:"pipeline_cache"`
	ShaderDir     string `toml:"shader_dir"`
}

type AssetsConfig struct {
	// Path is the directory holding data.gx3d.
	Path    string `toml:"path"`
	Watch   bool   `toml:"watch"`
	Mipmaps bool   `toml:"mipmaps"`
}

type ApplicationConfig struct {
	// The application name used in windowing and as the Vulkan application.
	ApplicationName string `toml:"application_name"`
	// Window starting position, if applicable.
	PositionX int `toml:"position_x"`
	PositionY int `toml:"position_y"`
	// Window starting size, if applicable.
	ContentWidth  uint32 `toml:"content_width"`
	ContentHeight uint32 `toml:"content_height"`
	ScreenState   string `toml:"screen_state"`

	EnableAnisotropicTexture          bool   `toml:"enable_anisotropic_texture"`
	MaxDirectionalCascadesMatrixCount uint32 `toml:"max_directional_cascades_matrix_count"`
	// NumberCascadedShadows caps the directional lights of a scene that get
	// a shadow map.
	NumberCascadedShadows uint32 `toml:"number_cascaded_shadows"`
	MaxFramesInFlight     uint32 `toml:"max_frames_in_flight"`
	// Scenes are loaded from the container at startup; the first one is
	// made active.
	Scenes []uint64 `toml:"scenes"`

	Renderer RendererConfig `toml:"renderer"`
	Assets   AssetsConfig   `toml:"assets"`
	Log      core.LogConfig `toml:"log"`
}

func DefaultApplicationConfig() *ApplicationConfig {
	return &ApplicationConfig{
		ApplicationName:                   "prism",
		PositionX:                         100,
		PositionY:                         100,
		ContentWidth:                      1280,
		ContentHeight:                     720,
		ScreenState:                       ScreenWindowed,
		EnableAnisotropicTexture:          true,
		MaxDirectionalCascadesMatrixCount: gpu.MaxCascades,
		NumberCascadedShadows:             6,
		MaxFramesInFlight:                 3,
		Renderer: RendererConfig{
			Backend:          vulkan.BackendName,
			SSAO:             true,
			AcquireTimeoutMS: 1000,
			ShadowMapSize:    1024,
			PipelineCache:    "pipeline.cache",
		},
		Assets: AssetsConfig{Watch: true, Mipmaps: true},
		Log:    core.LogConfig{Level: "info", MaxSizeMB: 16, MaxBackups: 3},
	}
}

// LoadConfig reads a TOML file over the defaults. A missing file is not an
// error: the defaults are returned as they are.
func LoadConfig(path string) (*ApplicationConfig, error) {
	cfg := DefaultApplicationConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		core.LogWarn("config %s not found, using defaults", path)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w: %w", path, core.ErrIO, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("config %s:%d:%d: %s: %w", path, row, col, derr.Error(), core.ErrInvalidState)
		}
		return nil, fmt.Errorf("config %s: %v: %w", path, err, core.ErrInvalidState)
	}
	return cfg, cfg.Validate()
}

// Validate rejects unusable values and clamps the counts to what the
// shaders can hold.
func (c *ApplicationConfig) Validate() error {
	if c.ContentWidth == 0 || c.ContentHeight == 0 {
		return fmt.Errorf("content size %dx%d: %w", c.ContentWidth, c.ContentHeight, core.ErrInvalidState)
	}
	switch c.ScreenState {
	case "":
		c.ScreenState = ScreenWindowed
	case ScreenWindowed, ScreenFullscreen:
	default:
		return fmt.Errorf("screen_state %q: %w", c.ScreenState, core.ErrInvalidState)
	}
	switch c.Renderer.Backend {
	case vulkan.BackendName, stub.BackendName:
	default:
		return fmt.Errorf("renderer backend %q: %w", c.Renderer.Backend, core.ErrBackendInitFailure)
	}
	if c.Renderer.Kernels < 0 {
		return fmt.Errorf("renderer kernels %d: %w", c.Renderer.Kernels, core.ErrInvalidState)
	}

	c.MaxDirectionalCascadesMatrixCount = clamp(c.MaxDirectionalCascadesMatrixCount, 1, gpu.MaxCascades, "max_directional_cascades_matrix_count")
	c.NumberCascadedShadows = clamp(c.NumberCascadedShadows, 0, gpu.MaxShadowLights, "number_cascaded_shadows")
	c.MaxFramesInFlight = clamp(c.MaxFramesInFlight, 1, maxFramesInFlight, "max_frames_in_flight")
	if c.Renderer.AcquireTimeoutMS == 0 {
		c.Renderer.AcquireTimeoutMS = 1000
	}
	c.Renderer.ShadowMapSize = clamp(c.Renderer.ShadowMapSize, 64, 8192, "shadow_map_size")
	return nil
}

func clamp(v, lo, hi uint32, name string) uint32 {
	switch {
	case v < lo:
		core.LogWarn("%s %d raised to %d", name, v, lo)
		return lo
	case v > hi:
		core.LogWarn("%s %d lowered to %d", name, v, hi)
		return hi
	}
	return v
}

func (c *ApplicationConfig) Headless() bool {
	return c.Renderer.Backend == stub.BackendName
}

func (c *ApplicationConfig) RendererOptions() renderer.Options {
	opts := renderer.DefaultOptions()
	opts.Backend = c.Renderer.Backend
	opts.ApplicationName = c.ApplicationName
	opts.Validation = c.Renderer.Validation
	opts.EnableAnisotropy = c.EnableAnisotropicTexture
	opts.PipelineCache = c.Renderer.PipelineCache
	opts.ShaderDir = c.Renderer.ShaderDir
	opts.Scheduler.Kernels = c.Renderer.Kernels
	opts.Scheduler.FramesInFlight = c.MaxFramesInFlight
	opts.Scheduler.SwapchainImages = c.MaxFramesInFlight
	opts.Scheduler.MaxShadowLights = c.NumberCascadedShadows
	opts.Scheduler.ShadowMapSize = c.Renderer.ShadowMapSize
	opts.Scheduler.AcquireTimeout = time.Duration(c.Renderer.AcquireTimeoutMS) * time.Millisecond
	return opts
}

func (c *ApplicationConfig) SystemsConfig() systems.SystemManagerConfig {
	cfg := systems.DefaultSystemManagerConfig()
	cfg.Workers = c.Renderer.Kernels
	cfg.MaxCascades = c.MaxDirectionalCascadesMatrixCount
	cfg.MaxShadowLights = c.NumberCascadedShadows
	cfg.SSAO = c.Renderer.SSAO
	return cfg
}

func (c *ApplicationConfig) AssetOptions() assets.Config {
	return assets.Config{Path: c.Assets.Path, Watch: c.Assets.Watch, Mipmaps: c.Assets.Mipmaps}
}

func (c *ApplicationConfig) PlatformConfig() platform.Config {
	return platform.Config{
		ApplicationName: c.ApplicationName,
		X:               c.PositionX,
		Y:               c.PositionY,
		Width:           c.ContentWidth,
		Height:          c.ContentHeight,
		Fullscreen:      c.ScreenState == ScreenFullscreen,
	}
}
