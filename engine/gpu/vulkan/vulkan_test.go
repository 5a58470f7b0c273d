package vulkan

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/math"
)

func TestCheckMapsResults(t *testing.T) {
	assert.NoError(t, check(vk.Success, "ok"))

	cases := map[vk.Result]error{
		vk.ErrorOutOfDeviceMemory:   core.ErrOutOfMemory,
		vk.ErrorOutOfPoolMemory:     core.ErrOutOfMemory,
		vk.ErrorOutOfDate:           core.ErrSwapchainOutOfDate,
		vk.Suboptimal:               core.ErrSwapchainOutOfDate,
		vk.Timeout:                  core.ErrFenceTimeout,
		vk.ErrorIncompatibleDriver:  core.ErrBackendInitFailure,
		vk.ErrorExtensionNotPresent: core.ErrBackendInitFailure,
		vk.ErrorDeviceLost:          core.ErrInvalidState,
	}
	for result, want := range cases {
		err := check(result, "op")
		require.Error(t, err)
		assert.ErrorIs(t, err, want, resultString(result, true))
		assert.Contains(t, err.Error(), "op: ")
	}
	assert.True(t, core.IsRecoverable(check(vk.ErrorOutOfDate, "present")))
}

func TestFormatsRoundTrip(t *testing.T) {
	for f, v := range formats {
		assert.Equal(t, v, toFormat(f))
		assert.Equal(t, f, fromFormat(v), f.String())
	}
	assert.Equal(t, vk.FormatUndefined, toFormat(gpu.FormatUndefined))
	assert.Equal(t, gpu.FormatUndefined, fromFormat(vk.FormatBc1RgbUnormBlock))
}

func TestAspects(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), aspectOf(gpu.FormatRGBA16F, true))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectOf(gpu.FormatD32, true))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), aspectOf(gpu.FormatD24S8, false))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), aspectOf(gpu.FormatD24S8, true))
}

func TestBlendStates(t *testing.T) {
	assert.Equal(t, vk.Bool32(vk.False), blendState(gpu.BlendNone).BlendEnable)

	alpha := blendState(gpu.BlendAlpha)
	assert.Equal(t, vk.BlendFactorSrcAlpha, alpha.SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, alpha.DstColorBlendFactor)

	add := blendState(gpu.BlendAdditive)
	assert.Equal(t, vk.BlendFactorOne, add.SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOne, add.DstColorBlendFactor)
}

func TestVertexAttributesMatchVertex3D(t *testing.T) {
	var v math.Vertex3D
	attrs := vertexAttributes()
	require.Len(t, attrs, 4)
	assert.Equal(t, uint32(unsafe.Offsetof(v.Position)), attrs[0].Offset)
	assert.Equal(t, uint32(unsafe.Offsetof(v.Normal)), attrs[1].Offset)
	assert.Equal(t, uint32(unsafe.Offsetof(v.Tangent)), attrs[2].Offset)
	assert.Equal(t, uint32(unsafe.Offsetof(v.Texcoord)), attrs[3].Offset)
	assert.Equal(t, math.VertexSize, int(unsafe.Sizeof(v)))
}

func TestShaderNames(t *testing.T) {
	for kind := gpu.PipelineType(0); kind < gpu.PipelineTypeCount; kind++ {
		vert, frag := shaderNames(kind)
		desc := gpu.NewPipelineDesc(kind, nil)
		switch {
		case kind == gpu.PipelineShadowMapper:
			assert.Equal(t, "shadow-mapper.vert.spv", vert)
			assert.Empty(t, frag)
		case desc.VertexInput:
			assert.Equal(t, "geometry.vert.spv", vert, kind.String())
			assert.Equal(t, kind.String()+".frag.spv", frag)
		default:
			assert.Equal(t, "fullscreen.vert.spv", vert, kind.String())
			assert.Equal(t, kind.String()+".frag.spv", frag)
		}
	}
}

func spirv(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func TestParseSPIRV(t *testing.T) {
	words, err := parseSPIRV("ok", spirv(spirvMagic, 0x00010000, 0, 8, 0))
	require.NoError(t, err)
	assert.Len(t, words, 5)

	_, err = parseSPIRV("short", []byte{1, 2, 3})
	assert.ErrorIs(t, err, core.ErrPipelineCompileFailure)

	_, err = parseSPIRV("unaligned", append(spirv(spirvMagic, 0, 0, 0, 0), 1))
	assert.ErrorIs(t, err, core.ErrPipelineCompileFailure)

	_, err = parseSPIRV("magic", spirv(0xdeadbeef, 0, 0, 0, 0))
	assert.ErrorIs(t, err, core.ErrPipelineCompileFailure)
}

func TestLoadShaderMissing(t *testing.T) {
	dir := t.TempDir()
	d := &Device{cfg: gpu.DeviceConfig{ShaderDir: dir}}
	_, err := d.loadShader("deferred.frag.spv")
	assert.ErrorIs(t, err, core.ErrPipelineCompileFailure)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.frag.spv"), []byte("not spirv at all"), 0o644))
	_, err = d.loadShader("bad.frag.spv")
	assert.ErrorIs(t, err, core.ErrPipelineCompileFailure)

	_, err = (&Device{}).readShader("no-such.frag.spv")
	assert.ErrorIs(t, err, core.ErrPipelineCompileFailure)
}

func TestEmbeddedSources(t *testing.T) {
	for _, name := range []string{"common.glsl", "material.glsl", "geometry.vert", "fullscreen.vert", "shadow-mapper.vert"} {
		_, err := embedded.ReadFile("shaders/" + name)
		assert.NoError(t, err, name)
	}
	for kind := gpu.PipelineType(0); kind < gpu.PipelineTypeCount; kind++ {
		if _, frag := shaderNames(kind); frag != "" {
			_, err := embedded.ReadFile("shaders/" + frag[:len(frag)-len(".spv")])
			assert.NoError(t, err, kind.String())
		}
	}
}

func TestSurfaceFormatPreference(t *testing.T) {
	bgra := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	rgba := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	assert.Equal(t, rgba, chooseSurfaceFormat([]vk.SurfaceFormat{bgra, rgba}))
	assert.Equal(t, bgra, chooseSurfaceFormat([]vk.SurfaceFormat{bgra}))
}

func TestTimeoutNanos(t *testing.T) {
	assert.Equal(t, ^uint64(0), timeoutNanos(gpu.Infinite))
	assert.Equal(t, uint64(1000), timeoutNanos(1000))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, uint32(5), clampU32(1, 5, 10))
	assert.Equal(t, uint32(10), clampU32(50, 5, 10))
	assert.Equal(t, uint32(7), clampU32(7, 5, 10))
}

func TestQueueLocksShareFamily(t *testing.T) {
	q := newQueueLocks()
	assert.Same(t, q.family(1), q.family(1))
	assert.NotSame(t, q.family(1), q.family(2))
	calls := 0
	require.NoError(t, q.call(0, func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
}

func TestCString(t *testing.T) {
	assert.Equal(t, "GPU", cString([]byte{'G', 'P', 'U', 0, 'x'}))
	assert.Equal(t, "abc", cString([]byte("abc")))
	assert.Equal(t, "main\x00", safeString("main"))
	assert.Equal(t, "main\x00", safeString("main\x00"))
}
