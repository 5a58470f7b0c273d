package gpu_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
	"github.com/spaghettifunk/prism/engine/gpu/stub"
)

func newDevice(t *testing.T) (*stub.Device, *gpu.Immediate) {
	dev, err := stub.NewDevice(gpu.DeviceConfig{FramesInFlight: 3}, nil)
	require.NoError(t, err)
	im, err := gpu.NewImmediate(dev, gpu.QueueTransfer)
	require.NoError(t, err)
	t.Cleanup(im.Destroy)
	return dev, im
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// readRange copies a device-local range into host memory.
func readRange(t *testing.T, dev gpu.Device, im *gpu.Immediate, r *gpu.BufferRange) []byte {
	host, err := dev.CreateBuffer(gpu.BufferDesc{Name: "readback", Size: r.Size(), Memory: gpu.MemoryHostCached})
	require.NoError(t, err)
	defer host.Destroy()
	require.NoError(t, im.Run(func(cmd gpu.CommandBuffer) {
		cmd.CopyBuffer(r.Buffer(), host, []gpu.BufferCopy{{SrcOffset: r.Offset(), Size: r.Size()}})
	}))
	return bytes.Clone(host.Mapped())
}

func TestCommandTrackerLifecycle(t *testing.T) {
	var tr gpu.CommandTracker
	assert.Equal(t, gpu.CommandInitial, tr.State())
	require.NoError(t, tr.BeginRecording(true))
	assert.True(t, tr.Record("draw"))
	assert.True(t, tr.SetInRenderPass(true, "begin"))
	assert.True(t, tr.SetInRenderPass(false, "end"))
	require.NoError(t, tr.EndRecording())
	assert.Equal(t, gpu.CommandExecutable, tr.State())

	require.NoError(t, tr.Submitted())
	assert.Equal(t, gpu.CommandPending, tr.State())
	assert.ErrorIs(t, tr.Reset(), core.ErrInvalidState, "pending buffers cannot be reset")
	assert.ErrorIs(t, tr.Submitted(), core.ErrInvalidState)

	tr.Completed()
	assert.Equal(t, gpu.CommandInvalid, tr.State(), "one-shot buffers are invalid after completion")
	require.NoError(t, tr.Reset())
	assert.Equal(t, 1, tr.Executions())

	require.NoError(t, tr.BeginRecording(false))
	require.NoError(t, tr.EndRecording())
	require.NoError(t, tr.Executed())
	require.NoError(t, tr.Submitted())
	tr.Completed()
	assert.Equal(t, gpu.CommandExecutable, tr.State())
	assert.Equal(t, 3, tr.Executions())
}

func TestCommandTrackerRecordOutsideRecording(t *testing.T) {
	var tr gpu.CommandTracker
	assert.False(t, tr.Record("draw"))
	require.NoError(t, tr.BeginRecording(false))
	require.NoError(t, tr.EndRecording(), "misuse before begin is forgotten")

	require.NoError(t, tr.Reset())
	require.NoError(t, tr.BeginRecording(false))
	assert.False(t, tr.SetInRenderPass(false, "end render pass"))
	assert.ErrorIs(t, tr.EndRecording(), core.ErrInvalidState)
	assert.Equal(t, gpu.CommandInvalid, tr.State())
}

func TestCommandTrackerMisuse(t *testing.T) {
	var tr gpu.CommandTracker
	require.NoError(t, tr.BeginRecording(false))
	assert.True(t, tr.Record("draw"))
	tr.Misuse("execute primary as secondary")
	tr.Misuse("second misuse")

	err := tr.EndRecording()
	require.ErrorIs(t, err, core.ErrInvalidState)
	assert.Contains(t, err.Error(), "execute primary as secondary")
	assert.Equal(t, gpu.CommandInvalid, tr.State())

	require.NoError(t, tr.Reset())
	require.NoError(t, tr.BeginRecording(true))
	require.NoError(t, tr.EndRecording())
}

func TestDeletionQueueWaitsForFramesInFlight(t *testing.T) {
	q := gpu.NewDeletionQueue(3)
	var destroyed []string
	q.Advance(0)
	q.Push("a", func() { destroyed = append(destroyed, "a") })
	q.Advance(1)
	q.Push("b", func() { destroyed = append(destroyed, "b") })

	assert.Equal(t, 0, q.Advance(2))
	assert.Equal(t, 1, q.Advance(3))
	assert.Equal(t, []string{"a"}, destroyed)
	assert.Equal(t, 1, q.Len())

	assert.Equal(t, 1, q.Flush())
	assert.Equal(t, []string{"a", "b"}, destroyed)
	assert.Equal(t, 0, q.Len())
}

func TestUniformLayouts(t *testing.T) {
	assert.Equal(t, uint64(192), gpu.UniformSize[gpu.ModelUniform]())
	assert.Equal(t, uint64(352), gpu.UniformSize[gpu.CameraUniform]())
	assert.Equal(t, uint64(64), gpu.UniformSize[gpu.MaterialUniform]())
	assert.Equal(t, uint64(1312), gpu.UniformSize[gpu.LightUniform]())
	assert.Equal(t, uint64(2304), gpu.UniformSize[gpu.ShadowUniform]())
	assert.Equal(t, uint64(288), gpu.UniformSize[gpu.PostFXUniform]())
	assert.Equal(t, uint64(16), gpu.UniformSize[gpu.AccumulatorPush]())

	u := gpu.MaterialUniform{Flags: [4]uint32{gpu.MaterialKindTransparent, 1}}
	u.BaseColor.Y = 0.5
	back := gpu.UniformFrom[gpu.MaterialUniform](gpu.UniformBytes(&u))
	assert.Equal(t, u, *back)
}

func TestPipelineDescs(t *testing.T) {
	for kind := gpu.PipelineType(0); kind < gpu.PipelineTypeCount; kind++ {
		d := gpu.NewPipelineDesc(kind, nil)
		assert.Equal(t, kind, d.Type)
		assert.NotEmpty(t, d.SetLayouts, kind.String())
		assert.Equal(t, gpu.FrameSetLayout().Signature(), d.SetLayouts[gpu.SetFrame].Signature(), kind.String())
	}
	assert.True(t, gpu.NewPipelineDesc(gpu.PipelineGBuffer, nil).DepthWrite)
	assert.False(t, gpu.NewPipelineDesc(gpu.PipelineTransparentPBR, nil).DepthWrite)
	assert.Equal(t, gpu.BlendAdditive, gpu.NewPipelineDesc(gpu.PipelineShadowAccumulatorDirectional, nil).Blend)
	assert.Len(t, gpu.InputSetLayout(gpu.PipelineDeferred).Bindings, gpu.InputSkybox+1)
}

func TestUploadStatic(t *testing.T) {
	dev, im := newDevice(t)
	bm := gpu.NewBufferManager(dev, im, 3, gpu.DefaultBufferManagerConfig())
	defer bm.Destroy()

	data := pattern(100, 7)
	r, err := bm.UploadStatic(data)
	require.NoError(t, err)
	assert.Equal(t, gpu.MemoryDeviceLocal, r.Memory())
	assert.Zero(t, r.Offset()%16)
	assert.Equal(t, data, readRange(t, dev, im, r))
	assert.ErrorIs(t, r.Write(0, data), core.ErrInvalidState, "device-local ranges are not mapped")
}

func TestCompactionRelocatesDeviceRanges(t *testing.T) {
	dev, im := newDevice(t)
	cfg := gpu.DefaultBufferManagerConfig()
	cfg.DeviceLocalSize = 1024
	bm := gpu.NewBufferManager(dev, im, 3, cfg)
	defer bm.Destroy()

	a, err := bm.UploadStatic(pattern(300, 1))
	require.NoError(t, err)
	b, err := bm.UploadStatic(pattern(300, 2))
	require.NoError(t, err)
	c, err := bm.UploadStatic(pattern(300, 3))
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 304, 608}, []uint64{a.Offset(), b.Offset(), c.Offset()})

	bm.Free(a)
	d, err := bm.UploadStatic(pattern(300, 4))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bm.Compactions())
	assert.Equal(t, []uint64{0, 304, 608}, []uint64{b.Offset(), c.Offset(), d.Offset()})
	assert.Equal(t, pattern(300, 2), readRange(t, dev, im, b))
	assert.Equal(t, pattern(300, 3), readRange(t, dev, im, c))
	assert.Equal(t, pattern(300, 4), readRange(t, dev, im, d))
	assert.Equal(t, uint64(908), bm.Used(gpu.MemoryDeviceLocal))

	_, err = bm.UploadStatic(pattern(300, 5))
	assert.ErrorIs(t, err, core.ErrOutOfMemory)
}

func TestDynamicBufferSlices(t *testing.T) {
	dev, im := newDevice(t)
	cfg := gpu.DefaultBufferManagerConfig()
	cfg.HostCoherentSize = 4096
	bm := gpu.NewBufferManager(dev, im, 3, cfg)
	defer bm.Destroy()

	d, err := bm.NewDynamic(100)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), d.Size())
	for f := uint32(0); f < 3; f++ {
		require.NoError(t, d.Write(f, 0, []byte{byte(f + 1)}))
		assert.Zero(t, d.Slice(f).Offset()%bm.UniformAlignment())
	}
	assert.ErrorIs(t, d.Write(3, 0, []byte{1}), core.ErrInvalidState)
	assert.ErrorIs(t, d.Write(0, 250, make([]byte, 10)), core.ErrInvalidState)

	// host ranges move with a plain copy
	keep, err := bm.NewDynamic(16)
	require.NoError(t, err)
	require.NoError(t, keep.Write(2, 0, []byte("survives")))
	d.Free(bm)
	require.NoError(t, bm.Compact())
	assert.Equal(t, uint64(512), keep.Slice(2).Offset())
	mapped := keep.Slice(2).Buffer().Mapped()
	assert.Equal(t, "survives", string(mapped[512:520]))
}

func TestPipelineManagerCachesByPassAndType(t *testing.T) {
	dev, _ := newDevice(t)
	pass, err := dev.CreateRenderPass(gpu.RenderPassDesc{Name: "present", Colors: []gpu.AttachmentDesc{{Format: gpu.FormatRGBA8Unorm}}})
	require.NoError(t, err)
	other, err := dev.CreateRenderPass(gpu.RenderPassDesc{Name: "other", Colors: []gpu.AttachmentDesc{{Format: gpu.FormatRGBA8Unorm}}})
	require.NoError(t, err)

	store := gpu.NewPipelineCacheStore(filepath.Join(t.TempDir(), "cache", "pipeline.cache"))
	pm := gpu.NewPipelineManager(dev, store)
	p1, err := pm.Get(gpu.NewPipelineDesc(gpu.PipelineToneMap, pass))
	require.NoError(t, err)
	p2, err := pm.Get(gpu.NewPipelineDesc(gpu.PipelineToneMap, pass))
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	_, err = pm.Get(gpu.NewPipelineDesc(gpu.PipelineToneMap, other))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pm.Compilations())

	_, ok := pm.Lookup(pass.ID(), gpu.PipelineToneMap)
	assert.True(t, ok)
	assert.Equal(t, 1, pm.Drop(pass.ID()))
	_, ok = pm.Lookup(pass.ID(), gpu.PipelineToneMap)
	assert.False(t, ok)
	assert.Equal(t, 1, pm.Len())

	_, err = pm.Get(gpu.NewPipelineDesc(gpu.PipelineToneMap, nil))
	assert.ErrorIs(t, err, core.ErrInvalidState)

	require.NoError(t, pm.Save())
	data, err := store.Load(dev.Backend(), dev.Name())
	require.NoError(t, err)
	assert.Equal(t, "tone-map", string(data))
	pm.Destroy()
	assert.Zero(t, pm.Len())
}

func TestPipelineCacheStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.cache")
	store := gpu.NewPipelineCacheStore(path)

	data, err := store.Load("vulkan", "gpu0")
	require.NoError(t, err)
	assert.Nil(t, data, "missing file")

	blob := pattern(4096, 9)
	require.NoError(t, store.Save("vulkan", "gpu0", blob))
	data, err = store.Load("vulkan", "gpu0")
	require.NoError(t, err)
	assert.Equal(t, blob, data)

	data, err = store.Load("vulkan", "gpu1")
	require.NoError(t, err)
	assert.Nil(t, data, "other device")

	require.NoError(t, os.WriteFile(path, []byte("not zstd"), 0644))
	_, err = store.Load("vulkan", "gpu0")
	assert.ErrorIs(t, err, core.ErrMalformedAsset)
}
