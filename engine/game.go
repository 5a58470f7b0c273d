package engine

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/spaghettifunk/prism/engine/systems"
)

// Game is the application plugged into the engine. The engine fills the
// managers in before FnInitialize runs; every callback is optional.
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	Scenes            *scene.Manager
	Input             *core.InputState
	Metrics           *core.Metrics
	State             interface{}
	FnBoot            Boot
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

// Boot runs before any subsystem exists and may still edit the config.
type Boot func(config *ApplicationConfig) error
type Initialize func() error
type Update func(deltaTime float64) error

// Render runs after Update, right before the frame is recorded.
type Render func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
