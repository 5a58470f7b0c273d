package gpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/memory"
)

type BufferManagerConfig struct {
	DeviceLocalSize  uint64 `toml:"device_local_size"`
	HostCoherentSize uint64 `toml:"host_coherent_size"`
	HostCachedSize   uint64 `toml:"host_cached_size"`
}

func DefaultBufferManagerConfig() BufferManagerConfig {
	return BufferManagerConfig{
		DeviceLocalSize:  128 << 20,
		HostCoherentSize: 32 << 20,
		HostCachedSize:   8 << 20,
	}
}

const arenaUsage = BufferUsageVertex | BufferUsageIndex | BufferUsageUniform |
	BufferUsageTransferSrc | BufferUsageTransferDst

// BufferRange is a sub-allocation inside one memory-class arena. Its offset
// may change when the arena is compacted; read it when recording.
type BufferRange struct {
	arena     *arena
	offset    atomic.Uint64
	size      uint64
	alignment uint64
}

func (r *BufferRange) AllocationSize() uint64      { return r.size }
func (r *BufferRange) AllocationAlignment() uint64 { return r.alignment }
func (r *BufferRange) Place(offset uint64)         { r.offset.Store(offset) }

func (r *BufferRange) Buffer() Buffer      { return r.arena.buffer }
func (r *BufferRange) Offset() uint64      { return r.offset.Load() }
func (r *BufferRange) Size() uint64        { return r.size }
func (r *BufferRange) Memory() MemoryClass { return r.arena.class }

// Write copies data into a host-visible range at offset.
func (r *BufferRange) Write(offset uint64, data []byte) error {
	if !r.arena.class.HostVisible() {
		return fmt.Errorf("write to %s range: %w", r.arena.class, core.ErrInvalidState)
	}
	if offset+uint64(len(data)) > r.size {
		return fmt.Errorf("write of %d bytes at %d overflows range of %d: %w", len(data), offset, r.size, core.ErrInvalidState)
	}
	r.arena.mu.RLock()
	defer r.arena.mu.RUnlock()
	start := r.Offset() + offset
	copy(r.arena.buffer.Mapped()[start:start+uint64(len(data))], data)
	return nil
}

type arena struct {
	mu     sync.RWMutex
	class  MemoryClass
	buffer Buffer
	alloc  *memory.Allocator[BufferRange, *BufferRange]
}

// BufferManager sub-allocates every vertex, index and uniform buffer from one
// large buffer per memory class.
type BufferManager struct {
	mu          sync.Mutex
	device      Device
	immediate   *Immediate
	frames      uint32
	alignment   uint64
	cfg         BufferManagerConfig
	arenas      [memoryClassCount]*arena
	compactions atomic.Uint64
}

func NewBufferManager(device Device, immediate *Immediate, framesInFlight uint32, cfg BufferManagerConfig) *BufferManager {
	align := device.Limits().MinUniformBufferOffsetAlignment
	if align == 0 {
		align = 256
	}
	return &BufferManager{
		device:    device,
		immediate: immediate,
		frames:    framesInFlight,
		alignment: align,
		cfg:       cfg,
	}
}

func (bm *BufferManager) UniformAlignment() uint64 {
	return bm.alignment
}

func (bm *BufferManager) FramesInFlight() uint32 {
	return bm.frames
}

func (bm *BufferManager) arenaFor(class MemoryClass) (*arena, error) {
	if a := bm.arenas[class]; a != nil {
		return a, nil
	}
	size := bm.cfg.DeviceLocalSize
	switch class {
	case MemoryHostCoherent:
		size = bm.cfg.HostCoherentSize
	case MemoryHostCached:
		size = bm.cfg.HostCachedSize
	}
	buf, err := bm.device.CreateBuffer(BufferDesc{
		Name:   "arena-" + class.String(),
		Size:   size,
		Usage:  arenaUsage,
		Memory: class,
	})
	if err != nil {
		return nil, err
	}
	a := &arena{
		class:  class,
		buffer: buf,
		alloc:  memory.NewAllocator[BufferRange](memory.NewBlock(0, size, 1)),
	}
	bm.arenas[class] = a
	return a, nil
}

// Allocate reserves size bytes. On exhaustion the arena is compacted once
// and the allocation retried.
func (bm *BufferManager) Allocate(class MemoryClass, size, alignment uint64) (*BufferRange, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.allocateLocked(class, size, alignment)
}

func (bm *BufferManager) allocateLocked(class MemoryClass, size, alignment uint64) (*BufferRange, error) {
	a, err := bm.arenaFor(class)
	if err != nil {
		return nil, err
	}
	if alignment == 0 {
		alignment = 16
	}
	r := &BufferRange{arena: a, size: size, alignment: alignment}
	if _, err := a.alloc.Allocate(r); err == nil {
		return r, nil
	} else if !errors.Is(err, core.ErrOutOfMemory) {
		return nil, err
	}
	if err := bm.compactLocked(a); err != nil {
		return nil, err
	}
	if _, err := a.alloc.Allocate(r); err != nil {
		return nil, fmt.Errorf("%s arena after compaction: %w", class, err)
	}
	return r, nil
}

// Free returns r to its arena; the space is reused after the next compaction.
func (bm *BufferManager) Free(r *BufferRange) {
	if r == nil {
		return
	}
	r.arena.alloc.Release(r)
}

// Compact waits for the device and squeezes out dead ranges in every arena.
func (bm *BufferManager) Compact() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for _, a := range bm.arenas {
		if a == nil {
			continue
		}
		if err := bm.compactLocked(a); err != nil {
			return err
		}
	}
	return nil
}

func (bm *BufferManager) compactLocked(a *arena) error {
	if err := bm.device.WaitIdle(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	moves := a.alloc.Clean()
	bm.compactions.Add(1)
	if len(moves) == 0 {
		return nil
	}
	core.LogDebug("compacted %s arena: %d ranges moved, %d bytes used", a.class, len(moves), a.alloc.Used())

	if mapped := a.buffer.Mapped(); mapped != nil {
		// moves go toward lower offsets in increasing order, copy handles overlap
		for _, mv := range moves {
			copy(mapped[mv.To:mv.To+mv.Size], mapped[mv.From:mv.From+mv.Size])
		}
		return nil
	}
	return bm.relocateOnDevice(a, moves)
}

func (bm *BufferManager) relocateOnDevice(a *arena, moves []memory.Relocation) error {
	total := uint64(0)
	for _, mv := range moves {
		total += mv.Size
	}
	tmp, err := bm.device.CreateBuffer(BufferDesc{
		Name:   "arena-relocation",
		Size:   total,
		Usage:  BufferUsageTransferSrc | BufferUsageTransferDst,
		Memory: MemoryDeviceLocal,
	})
	if err != nil {
		return err
	}
	defer tmp.Destroy()

	out := make([]BufferCopy, 0, len(moves))
	back := make([]BufferCopy, 0, len(moves))
	off := uint64(0)
	for _, mv := range moves {
		out = append(out, BufferCopy{SrcOffset: mv.From, DstOffset: off, Size: mv.Size})
		back = append(back, BufferCopy{SrcOffset: off, DstOffset: mv.To, Size: mv.Size})
		off += mv.Size
	}
	if err := bm.immediate.Run(func(cmd CommandBuffer) { cmd.CopyBuffer(a.buffer, tmp, out) }); err != nil {
		return err
	}
	return bm.immediate.Run(func(cmd CommandBuffer) { cmd.CopyBuffer(tmp, a.buffer, back) })
}

// UploadStatic copies data into device-local memory through a staging
// buffer and a transfer command buffer.
func (bm *BufferManager) UploadStatic(data []byte) (*BufferRange, error) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	r, err := bm.allocateLocked(MemoryDeviceLocal, uint64(len(data)), 16)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return r, nil
	}
	staging, err := bm.device.CreateBuffer(BufferDesc{
		Name:   "staging",
		Size:   uint64(len(data)),
		Usage:  BufferUsageTransferSrc,
		Memory: MemoryHostCoherent,
	})
	if err != nil {
		bm.Free(r)
		return nil, err
	}
	defer staging.Destroy()
	copy(staging.Mapped(), data)

	err = bm.immediate.Run(func(cmd CommandBuffer) {
		cmd.CopyBuffer(staging, r.Buffer(), []BufferCopy{{SrcOffset: 0, DstOffset: r.Offset(), Size: uint64(len(data))}})
	})
	if err != nil {
		bm.Free(r)
		return nil, err
	}
	return r, nil
}

// NewStaging creates a standalone host-visible buffer for image uploads and
// readbacks. The caller destroys it.
func (bm *BufferManager) NewStaging(size uint64, readback bool) (Buffer, error) {
	desc := BufferDesc{Name: "staging", Size: size, Usage: BufferUsageTransferSrc, Memory: MemoryHostCoherent}
	if readback {
		desc.Usage = BufferUsageTransferDst
		desc.Memory = MemoryHostCached
	}
	return bm.device.CreateBuffer(desc)
}

// DynamicBuffer holds one host-visible slice per frame slot.
type DynamicBuffer struct {
	slices []*BufferRange
	size   uint64
}

// NewDynamic reserves F slices of size bytes, each aligned for uniform use.
func (bm *BufferManager) NewDynamic(size uint64) (*DynamicBuffer, error) {
	size = memory.AlignTo(size, bm.alignment)
	d := &DynamicBuffer{size: size}
	for f := uint32(0); f < bm.frames; f++ {
		r, err := bm.Allocate(MemoryHostCoherent, size, bm.alignment)
		if err != nil {
			d.Free(bm)
			return nil, err
		}
		d.slices = append(d.slices, r)
	}
	return d, nil
}

func (d *DynamicBuffer) Size() uint64 {
	return d.size
}

func (d *DynamicBuffer) Slice(frame uint32) *BufferRange {
	return d.slices[frame]
}

// Write targets the slice of the given frame slot.
func (d *DynamicBuffer) Write(frame uint32, offset uint64, data []byte) error {
	if int(frame) >= len(d.slices) {
		return fmt.Errorf("frame slot %d of %d: %w", frame, len(d.slices), core.ErrInvalidState)
	}
	return d.slices[frame].Write(offset, data)
}

// Descriptor binds the whole buffer at offset 0. The slice of a frame is
// selected at bind time with DynamicOffset.
func (d *DynamicBuffer) Descriptor(binding uint32) DescriptorWrite {
	return DescriptorWrite{Binding: binding, Buffer: d.slices[0].Buffer(), Range: d.size}
}

func (d *DynamicBuffer) DynamicOffset(frame uint32) uint32 {
	return uint32(d.slices[frame].Offset())
}

func (d *DynamicBuffer) Free(bm *BufferManager) {
	for _, s := range d.slices {
		bm.Free(s)
	}
	d.slices = nil
}

func (bm *BufferManager) Used(class MemoryClass) uint64 {
	a := bm.arenas[class]
	if a == nil {
		return 0
	}
	return a.alloc.Used()
}

func (bm *BufferManager) Compactions() uint64 {
	return bm.compactions.Load()
}

// Destroy releases the arenas. The device must be idle.
func (bm *BufferManager) Destroy() {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for i, a := range bm.arenas {
		if a != nil {
			a.buffer.Destroy()
			bm.arenas[i] = nil
		}
	}
}
