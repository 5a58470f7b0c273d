package testbed

import (
	"fmt"
	"os"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	WorldCamera *components.Camera
	world       *scene.Scene
	cube        *components.Model
	spin        float32

	width  uint32
	height uint32
}

var tempMoveSpeed float32 = 5.0

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			State: &gameState{},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

// Boot makes sure the sample world exists and is the scene loaded at
// startup when the config names none.
func (g *TestGame) Boot(config *engine.ApplicationConfig) error {
	core.LogInfo("booting testbed...")

	dir := config.Assets.Path
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
		config.Assets.Path = wd
	}
	if _, err := EnsureWorld(dir); err != nil {
		return err
	}
	if len(config.Scenes) == 0 {
		config.Scenes = []uint64{WorldScene}
	}
	return nil
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil || g.Scenes == nil {
		return fmt.Errorf("the engine is not yet initialized with all the system managers: %w", core.ErrInvalidState)
	}

	state := g.State.(*gameState)
	state.world = g.Scenes.Active()
	if state.world == nil {
		return fmt.Errorf("no active game scene: %w", core.ErrResourceNotFound)
	}
	state.WorldCamera = state.world.ActiveCamera()
	if state.WorldCamera == nil {
		return fmt.Errorf("scene %q has no camera: %w", state.world.Name(), core.ErrResourceNotFound)
	}
	state.WorldCamera.LookAt(math.NewVec3Zero(), math.NewVec3Up())
	state.cube = state.world.Model(CubeModel)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	in := g.Input
	dt := float32(deltaTime)

	if in.IsKeyDown(core.KEY_A) || in.IsKeyDown(core.KEY_LEFT) {
		state.WorldCamera.Yaw(1.0 * dt)
	}
	if in.IsKeyDown(core.KEY_D) || in.IsKeyDown(core.KEY_RIGHT) {
		state.WorldCamera.Yaw(-1.0 * dt)
	}
	if in.IsKeyDown(core.KEY_UP) {
		state.WorldCamera.Pitch(1.0 * dt)
	}
	if in.IsKeyDown(core.KEY_DOWN) {
		state.WorldCamera.Pitch(-1.0 * dt)
	}
	if in.IsKeyDown(core.KEY_W) {
		state.WorldCamera.MoveForward(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_S) {
		state.WorldCamera.MoveBackward(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_Q) {
		state.WorldCamera.MoveLeft(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_E) {
		state.WorldCamera.MoveRight(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_SPACE) {
		state.WorldCamera.MoveUp(tempMoveSpeed * dt)
	}
	if in.IsKeyDown(core.KEY_X) {
		state.WorldCamera.MoveDown(tempMoveSpeed * dt)
	}

	if in.IsKeyUp(core.KEY_P) && in.WasKeyDown(core.KEY_P) {
		pos := state.WorldCamera.GetPosition()
		fps, frameTime := g.Metrics.Frame()
		core.LogWith(core.LogLevelInfo, "camera",
			"pos", fmt.Sprintf("[%.2f, %.2f, %.2f]", pos.X, pos.Y, pos.Z),
			"fps", fmt.Sprintf("%5.1f", fps),
			"frame_ms", fmt.Sprintf("%4.1f", frameTime))
	}

	// Slowly spin the cube so its shadow moves over the plane.
	if state.cube != nil {
		state.spin += 0.5 * dt
		state.cube.SetRotation(math.NewQuatFromAxisAngle(math.NewVec3Up(), state.spin, true))
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)

	state.width = width
	state.height = height
	if state.WorldCamera != nil && height > 0 {
		state.WorldCamera.SetAspect(float32(width) / float32(height))
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	state.cube = nil
	state.WorldCamera = nil
	state.world = nil
	return nil
}
