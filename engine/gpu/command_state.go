package gpu

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

type CommandState uint8

const (
	CommandInitial CommandState = iota
	CommandRecording
	CommandExecutable
	CommandPending
	CommandInvalid
)

func (s CommandState) String() string {
	switch s {
	case CommandInitial:
		return "initial"
	case CommandRecording:
		return "recording"
	case CommandExecutable:
		return "executable"
	case CommandPending:
		return "pending"
	default:
		return "invalid"
	}
}

// CommandTracker enforces the command buffer lifecycle. Backends embed it;
// illegal transitions return ErrInvalidState.
type CommandTracker struct {
	mu       sync.Mutex
	state    CommandState
	oneShot  bool
	misuse   error
	inPass   bool
	executed int
}

func (t *CommandTracker) State() CommandState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *CommandTracker) transition(from []CommandState, to CommandState, op string) error {
	for _, f := range from {
		if t.state == f {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("%s in %s state: %w", op, t.state, core.ErrInvalidState)
}

// BeginRecording moves Initial to Recording. oneShot buffers become invalid
// once their submission completes.
func (t *CommandTracker) BeginRecording(oneShot bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition([]CommandState{CommandInitial}, CommandRecording, "begin"); err != nil {
		return err
	}
	t.oneShot = oneShot
	t.misuse = nil
	t.inPass = false
	return nil
}

// Record checks that a command may be recorded now. A violation is kept and
// surfaces from EndRecording.
func (t *CommandTracker) Record(op string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != CommandRecording {
		if t.misuse == nil {
			t.misuse = fmt.Errorf("%s in %s state: %w", op, t.state, core.ErrInvalidState)
		}
		return false
	}
	return true
}

// Misuse records a command that is illegal regardless of state. Like the
// other violations it surfaces from EndRecording.
func (t *CommandTracker) Misuse(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.misuse == nil {
		t.misuse = fmt.Errorf("%s: %w", op, core.ErrInvalidState)
	}
}

// SetInRenderPass tracks begin/end render pass pairing.
func (t *CommandTracker) SetInRenderPass(in bool, op string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inPass == in {
		if t.misuse == nil {
			t.misuse = fmt.Errorf("%s with render pass active=%v: %w", op, t.inPass, core.ErrInvalidState)
		}
		return false
	}
	t.inPass = in
	return true
}

func (t *CommandTracker) EndRecording() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.misuse != nil {
		err := t.misuse
		t.misuse = nil
		t.state = CommandInvalid
		return err
	}
	if t.inPass {
		t.state = CommandInvalid
		return fmt.Errorf("end inside an open render pass: %w", core.ErrInvalidState)
	}
	return t.transition([]CommandState{CommandRecording}, CommandExecutable, "end")
}

// Submitted moves Executable to Pending.
func (t *CommandTracker) Submitted() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transition([]CommandState{CommandExecutable}, CommandPending, "submit"); err != nil {
		return err
	}
	t.executed++
	return nil
}

// Executed checks a secondary buffer may be executed from a primary.
func (t *CommandTracker) Executed() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != CommandExecutable {
		return fmt.Errorf("execute secondary in %s state: %w", t.state, core.ErrInvalidState)
	}
	t.executed++
	return nil
}

// Completed is called once the GPU finished a pending submission.
func (t *CommandTracker) Completed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != CommandPending {
		return
	}
	if t.oneShot {
		t.state = CommandInvalid
		return
	}
	t.state = CommandExecutable
}

// Reset returns to Initial. Pending buffers cannot be reset.
func (t *CommandTracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == CommandPending {
		return fmt.Errorf("reset while pending: %w", core.ErrInvalidState)
	}
	t.state = CommandInitial
	t.misuse = nil
	t.inPass = false
	return nil
}

// Executions counts submissions plus executions as a secondary.
func (t *CommandTracker) Executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executed
}
