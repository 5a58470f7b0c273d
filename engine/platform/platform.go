// Package platform is the GLFW window and the core.SurfaceProvider it
// exposes to the renderer.
package platform

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
)

const eventQueueSize = 512

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

type Config struct {
	ApplicationName string
	X, Y            int
	Width, Height   uint32
	Fullscreen      bool
}

// Platform owns the window. Callbacks run inside PollEvents on the main
// thread and queue translated events.
type Platform struct {
	window *glfw.Window

	mu     sync.Mutex
	events *containers.RingQueue[core.Event]
	drag   *core.GestureRecognizer
	mouseX float32
	mouseY float32

	quit     atomic.Bool
	quitSent bool
}

func New(cfg Config) (*Platform, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize glfw: %v: %w", err, core.ErrBackendInitFailure)
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, fmt.Errorf("glfw reports no Vulkan loader: %w", core.ErrBackendInitFailure)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	var monitor *glfw.Monitor
	width, height := int(cfg.Width), int(cfg.Height)
	if cfg.Fullscreen {
		monitor = glfw.GetPrimaryMonitor()
		if mode := monitor.GetVideoMode(); mode != nil {
			width, height = mode.Width, mode.Height
		}
	}
	window, err := glfw.CreateWindow(width, height, cfg.ApplicationName, monitor, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("failed to create window: %v: %w", err, core.ErrBackendInitFailure)
	}
	p := &Platform{
		window: window,
		events: containers.NewRingQueue[core.Event](eventQueueSize),
		drag:   core.NewGestureRecognizer(core.GestureDrag),
	}

	window.SetKeyCallback(p.keyCallback)
	window.SetMouseButtonCallback(p.mouseButtonCallback)
	window.SetCursorPosCallback(p.cursorPosCallback)
	window.SetFramebufferSizeCallback(p.framebufferSizeCallback)
	window.SetCloseCallback(func(*glfw.Window) { p.RequestQuit() })
	if !cfg.Fullscreen {
		window.SetPos(cfg.X, cfg.Y)
	}
	window.Show()
	core.LogInfo("Window created (%dx%d).", width, height)
	return p, nil
}

// push queues an event, dropping the oldest one when the queue is full.
func (p *Platform) push(e core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events.IsFull() {
		dropped, _ := p.events.Dequeue()
		core.LogWarn("event queue full, dropping %s", dropped.Kind)
	}
	p.events.Enqueue(e)
}

func (p *Platform) CreateSurface(instance any) (uintptr, error) {
	surface, err := p.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return 0, fmt.Errorf("create window surface: %v: %w", err, core.ErrBackendInitFailure)
	}
	return surface, nil
}

func (p *Platform) RequiredInstanceExtensions() []string {
	return p.window.GetRequiredInstanceExtensions()
}

func (p *Platform) CurrentExtent() (uint32, uint32) {
	w, h := p.window.GetFramebufferSize()
	return uint32(max(w, 0)), uint32(max(h, 0))
}

func (p *Platform) PollEvents() []core.Event {
	glfw.PollEvents()
	if p.window.ShouldClose() {
		p.quit.Store(true)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events.Drain()
	if p.quit.Load() && !p.quitSent {
		p.quitSent = true
		events = append(events, core.Event{Kind: core.EventQuit})
	}
	return events
}

func (p *Platform) RequestQuit() {
	p.quit.Store(true)
	p.window.SetShouldClose(true)
}

func (p *Platform) ShouldQuit() bool { return p.quit.Load() }

func (p *Platform) Shutdown() {
	if p.window != nil {
		p.window.Destroy()
		p.window = nil
	}
	glfw.Terminate()
}

func (p *Platform) keyCallback(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if action == glfw.Repeat {
		return
	}
	code, ok := translateKey(key)
	if !ok {
		return
	}
	kind := core.EventKeyPress
	if action == glfw.Release {
		kind = core.EventKeyRelease
	}
	p.push(core.Event{Kind: kind, Key: code})
}

func (p *Platform) mouseButtonCallback(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
	b, ok := translateButton(button)
	if !ok {
		return
	}
	e := core.Event{Kind: core.EventMouseButton, Button: b, Pressed: action == glfw.Press}
	p.push(e)
	p.mu.Lock()
	g := core.DragFromMouse(p.drag, e, p.mouseX, p.mouseY)
	p.mu.Unlock()
	if g != nil {
		p.push(*g)
	}
}

func (p *Platform) cursorPosCallback(_ *glfw.Window, x, y float64) {
	e := core.Event{Kind: core.EventMouseMove, X: float32(x), Y: float32(y)}
	p.push(e)
	p.mu.Lock()
	p.mouseX, p.mouseY = e.X, e.Y
	g := core.DragFromMouse(p.drag, e, e.X, e.Y)
	p.mu.Unlock()
	if g != nil {
		p.push(*g)
	}
}

func (p *Platform) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	p.push(core.Event{Kind: core.EventResize, Width: uint32(max(width, 0)), Height: uint32(max(height, 0))})
}

func translateButton(b glfw.MouseButton) (core.Button, bool) {
	switch b {
	case glfw.MouseButtonLeft:
		return core.BUTTON_LEFT, true
	case glfw.MouseButtonRight:
		return core.BUTTON_RIGHT, true
	case glfw.MouseButtonMiddle:
		return core.BUTTON_MIDDLE, true
	}
	return 0, false
}

var keys = map[glfw.Key]core.KeyCode{
	glfw.KeyBackspace:    core.KEY_BACKSPACE,
	glfw.KeyEnter:        core.KEY_ENTER,
	glfw.KeyTab:          core.KEY_TAB,
	glfw.KeyPause:        core.KEY_PAUSE,
	glfw.KeyCapsLock:     core.KEY_CAPITAL,
	glfw.KeyEscape:       core.KEY_ESCAPE,
	glfw.KeySpace:        core.KEY_SPACE,
	glfw.KeyPageUp:       core.KEY_PRIOR,
	glfw.KeyPageDown:     core.KEY_NEXT,
	glfw.KeyEnd:          core.KEY_END,
	glfw.KeyHome:         core.KEY_HOME,
	glfw.KeyLeft:         core.KEY_LEFT,
	glfw.KeyUp:           core.KEY_UP,
	glfw.KeyRight:        core.KEY_RIGHT,
	glfw.KeyDown:         core.KEY_DOWN,
	glfw.KeyPrintScreen:  core.KEY_SNAPSHOT,
	glfw.KeyInsert:       core.KEY_INSERT,
	glfw.KeyDelete:       core.KEY_DELETE,
	glfw.KeyLeftSuper:    core.KEY_LWIN,
	glfw.KeyRightSuper:   core.KEY_RWIN,
	glfw.KeyMenu:         core.KEY_APPS,
	glfw.KeyKPMultiply:   core.KEY_MULTIPLY,
	glfw.KeyKPAdd:        core.KEY_ADD,
	glfw.KeyKPSubtract:   core.KEY_SUBTRACT,
	glfw.KeyKPDecimal:    core.KEY_DECIMAL,
	glfw.KeyKPDivide:     core.KEY_DIVIDE,
	glfw.KeyKPEqual:      core.KEY_NUMPAD_EQUAL,
	glfw.KeyNumLock:      core.KEY_NUMLOCK,
	glfw.KeyScrollLock:   core.KEY_SCROLL,
	glfw.KeyLeftShift:    core.KEY_LSHIFT,
	glfw.KeyRightShift:   core.KEY_RSHIFT,
	glfw.KeyLeftControl:  core.KEY_LCONTROL,
	glfw.KeyRightControl: core.KEY_RCONTROL,
	glfw.KeyLeftAlt:      core.KEY_LMENU,
	glfw.KeyRightAlt:     core.KEY_RMENU,
	glfw.KeySemicolon:    core.KEY_SEMICOLON,
	glfw.KeyEqual:        core.KEY_PLUS,
	glfw.KeyComma:        core.KEY_COMMA,
	glfw.KeyMinus:        core.KEY_MINUS,
	glfw.KeyPeriod:       core.KEY_PERIOD,
	glfw.KeySlash:        core.KEY_SLASH,
	glfw.KeyGraveAccent:  core.KEY_GRAVE,
}

// translateKey maps a GLFW key to the engine key code. Letters share their
// ASCII values, keypad digits and function keys are contiguous.
func translateKey(k glfw.Key) (core.KeyCode, bool) {
	switch {
	case k >= glfw.KeyA && k <= glfw.KeyZ:
		return core.KEY_A + core.KeyCode(k-glfw.KeyA), true
	case k >= glfw.KeyKP0 && k <= glfw.KeyKP9:
		return core.KEY_NUMPAD0 + core.KeyCode(k-glfw.KeyKP0), true
	case k >= glfw.KeyF1 && k <= glfw.KeyF24:
		return core.KEY_F1 + core.KeyCode(k-glfw.KeyF1), true
	}
	code, ok := keys[k]
	return code, ok
}
