package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/prism/engine/core"
)

var _ core.SurfaceProvider = (*Platform)(nil)

func TestTranslateKey(t *testing.T) {
	cases := map[glfw.Key]core.KeyCode{
		glfw.KeyA:           core.KEY_A,
		glfw.KeyZ:           core.KEY_Z,
		glfw.KeyW:           core.KEY_W,
		glfw.KeyKP0:         core.KEY_NUMPAD0,
		glfw.KeyKP9:         core.KEY_NUMPAD9,
		glfw.KeyF1:          core.KEY_F1,
		glfw.KeyF12:         core.KEY_F12,
		glfw.KeyF24:         core.KEY_F24,
		glfw.KeyEscape:      core.KEY_ESCAPE,
		glfw.KeyLeftShift:   core.KEY_LSHIFT,
		glfw.KeyRightAlt:    core.KEY_RMENU,
		glfw.KeyPageUp:      core.KEY_PRIOR,
		glfw.KeyGraveAccent: core.KEY_GRAVE,
	}
	for k, want := range cases {
		got, ok := translateKey(k)
		assert.True(t, ok, "key %d", k)
		assert.Equal(t, want, got, "key %d", k)
	}

	_, ok := translateKey(glfw.KeyWorld1)
	assert.False(t, ok)
}

func TestTranslateButton(t *testing.T) {
	b, ok := translateButton(glfw.MouseButtonLeft)
	assert.True(t, ok)
	assert.Equal(t, core.BUTTON_LEFT, b)
	b, ok = translateButton(glfw.MouseButtonMiddle)
	assert.True(t, ok)
	assert.Equal(t, core.BUTTON_MIDDLE, b)
	_, ok = translateButton(glfw.MouseButton5)
	assert.False(t, ok)
}
