// Package vulkan implements gpu.Device on top of goki/vulkan.
package vulkan

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

const BackendName = "vulkan"

type queueFamilies struct {
	graphics int32
	present  int32
	transfer int32
}

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

type pendingSubmit struct {
	fence *fence
	cmds  []*commandBuffer
}

type Device struct {
	cfg      gpu.DeviceConfig
	provider core.SurfaceProvider

	instance vk.Instance
	debug    vk.DebugReportCallback
	surface  vk.Surface
	physical vk.PhysicalDevice
	logical  vk.Device

	properties vk.PhysicalDeviceProperties
	features   vk.PhysicalDeviceFeatures
	memory     vk.PhysicalDeviceMemoryProperties
	families   queueFamilies
	graphics   vk.Queue
	present    vk.Queue
	transfer   vk.Queue
	locks      *queueLocks

	name          string
	limits        gpu.Limits
	pipelineCache vk.PipelineCache
	descriptors   *descriptorAllocator
	nextID        atomic.Uint64

	pendingMu sync.Mutex
	pending   []pendingSubmit
}

// NewDevice creates the instance, the surface through provider, and the
// logical device with its queues.
func NewDevice(cfg gpu.DeviceConfig, provider core.SurfaceProvider) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("vulkan device needs a surface provider: %w", core.ErrBackendInitFailure)
	}
	if cfg.FramesInFlight == 0 {
		return nil, fmt.Errorf("frames in flight must be at least 1: %w", core.ErrBackendInitFailure)
	}
	if err := loadLoader(); err != nil {
		return nil, err
	}
	d := &Device{
		cfg:      cfg,
		provider: provider,
		locks:    newQueueLocks(),
		families: queueFamilies{graphics: -1, present: -1, transfer: -1},
	}
	if err := d.init(); err != nil {
		d.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan device initialized successfully.")
	return d, nil
}

func (d *Device) init() error {
	if err := d.createInstance(d.provider.RequiredInstanceExtensions()); err != nil {
		return err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := d.provider.CreateSurface(d.instance)
	if err != nil {
		return fmt.Errorf("surface: %v: %w", err, core.ErrBackendInitFailure)
	}
	d.surface = vk.SurfaceFromPointer(surface)

	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}
	if err := d.createLogicalDevice(); err != nil {
		return err
	}

	cacheInfo := vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
	if len(d.cfg.PipelineCache) > 0 {
		cacheInfo.InitialDataSize = uint(len(d.cfg.PipelineCache))
		cacheInfo.PInitialData = unsafe.Pointer(&d.cfg.PipelineCache[0])
	}
	if err := check(vk.CreatePipelineCache(d.logical, &cacheInfo, nil, &d.pipelineCache), "create pipeline cache"); err != nil {
		return err
	}
	d.descriptors = newDescriptorAllocator(d)
	return nil
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, nil), "enumerate physical devices"); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrBackendInitFailure)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(d.instance, &count, devices), "enumerate physical devices"); err != nil {
		return err
	}

	// Discrete GPUs first, anything else that meets the requirements after.
	for _, discrete := range []bool{true, false} {
		for _, pd := range devices {
			var props vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &props)
			props.Deref()
			props.Limits.Deref()
			if discrete != (props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu) {
				continue
			}
			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(pd, &features)
			features.Deref()

			families, ok := d.meetsRequirements(pd, &props, &features)
			if !ok {
				continue
			}
			d.physical = pd
			d.properties = props
			d.features = features
			d.families = families
			d.name = cString(props.DeviceName[:])
			vk.GetPhysicalDeviceMemoryProperties(pd, &d.memory)
			d.memory.Deref()
			d.logSelection()
			return d.detectLimits()
		}
	}
	return fmt.Errorf("no physical devices were found which meet the requirements: %w", core.ErrBackendInitFailure)
}

func (d *Device) logSelection() {
	core.LogInfo("Selected device: '%s'.", d.name)
	switch d.properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	v := vk.Version(d.properties.DriverVersion)
	core.LogInfo("GPU Driver version: %d.%d.%d", v.Major(), v.Minor(), v.Patch())
	a := vk.Version(d.properties.ApiVersion)
	core.LogInfo("Vulkan API version: %d.%d.%d", a.Major(), a.Minor(), a.Patch())
	for j := uint32(0); j < d.memory.MemoryHeapCount; j++ {
		heap := d.memory.MemoryHeaps[j]
		heap.Deref()
		gib := float64(heap.Size) / 1024 / 1024 / 1024
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func (d *Device) meetsRequirements(pd vk.PhysicalDevice, props *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures) (queueFamilies, bool) {
	name := cString(props.DeviceName[:])
	out := queueFamilies{graphics: -1, present: -1, transfer: -1}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	minTransferScore := 255
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		score := 0
		if flags&vk.QueueGraphicsBit != 0 {
			if out.graphics < 0 {
				out.graphics = int32(i)
			}
			score++
		}
		if flags&vk.QueueComputeBit != 0 {
			score++
		}
		// The lowest score is most likely a dedicated transfer queue.
		if flags&vk.QueueTransferBit != 0 && score <= minTransferScore {
			minTransferScore = score
			out.transfer = int32(i)
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent); res == vk.Success && supportsPresent == vk.True {
			if out.present < 0 || int32(i) == out.graphics {
				out.present = int32(i)
			}
		}
	}
	if out.graphics < 0 || out.present < 0 {
		core.LogInfo("Device '%s' lacks graphics or present queues, skipping.", name)
		return out, false
	}
	if out.transfer < 0 {
		out.transfer = out.graphics
	}
	core.LogDebug("Graphics Family Index: %d", out.graphics)
	core.LogDebug("Present Family Index:  %d", out.present)
	core.LogDebug("Transfer Family Index: %d", out.transfer)

	support, err := querySwapchainSupport(pd, d.surface)
	if err != nil || len(support.formats) == 0 || len(support.presentModes) == 0 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return out, false
	}
	if !hasDeviceExtension(pd, vk.KhrSwapchainExtensionName) {
		core.LogInfo("Required extension not found: '%s', skipping device.", vk.KhrSwapchainExtensionName)
		return out, false
	}
	if d.cfg.EnableAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return out, false
	}
	return out, true
}

func hasDeviceExtension(pd vk.PhysicalDevice, name string) bool {
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil) != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, available) != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func querySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (swapchainSupport, error) {
	var s swapchainSupport
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &s.capabilities), "surface capabilities"); err != nil {
		return s, err
	}
	s.capabilities.Deref()
	s.capabilities.CurrentExtent.Deref()
	s.capabilities.MinImageExtent.Deref()
	s.capabilities.MaxImageExtent.Deref()

	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, nil), "surface formats"); err != nil {
		return s, err
	}
	if count > 0 {
		s.formats = make([]vk.SurfaceFormat, count)
		if err := check(vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, s.formats), "surface formats"); err != nil {
			return s, err
		}
		for i := range s.formats {
			s.formats[i].Deref()
		}
	}
	count = 0
	if err := check(vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, nil), "surface present modes"); err != nil {
		return s, err
	}
	if count > 0 {
		s.presentModes = make([]vk.PresentMode, count)
		if err := check(vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, s.presentModes), "surface present modes"); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (d *Device) detectLimits() error {
	depth := gpu.FormatUndefined
	for _, f := range gpu.DepthFormatPreference {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physical, toFormat(f), &props)
		props.Deref()
		if vk.FormatFeatureFlagBits(props.OptimalTilingFeatures)&vk.FormatFeatureDepthStencilAttachmentBit != 0 {
			depth = f
			break
		}
	}
	if depth == gpu.FormatUndefined {
		return fmt.Errorf("no supported depth format: %w", core.ErrBackendInitFailure)
	}
	l := d.properties.Limits
	d.limits = gpu.Limits{
		MinUniformBufferOffsetAlignment: uint64(l.MinUniformBufferOffsetAlignment),
		MaxSamplerAnisotropy:            l.MaxSamplerAnisotropy,
		DepthFormat:                     depth,
		MaxImageDimension2D:             l.MaxImageDimension2D,
	}
	return nil
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	// Shared family indices get a single queue.
	indices := []uint32{uint32(d.families.graphics)}
	for _, f := range []int32{d.families.present, d.families.transfer} {
		dup := false
		for _, i := range indices {
			dup = dup || i == uint32(f)
		}
		if !dup {
			indices = append(indices, uint32(f))
		}
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	features := vk.PhysicalDeviceFeatures{}
	if d.cfg.EnableAnisotropy {
		features.SamplerAnisotropy = vk.True
	}
	extensions := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(d.physical, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	var logical vk.Device
	if err := check(vk.CreateDevice(d.physical, &createInfo, nil, &logical), "create device"); err != nil {
		return err
	}
	d.logical = logical
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(d.logical, uint32(d.families.graphics), 0, &d.graphics)
	vk.GetDeviceQueue(d.logical, uint32(d.families.present), 0, &d.present)
	vk.GetDeviceQueue(d.logical, uint32(d.families.transfer), 0, &d.transfer)
	core.LogInfo("Queues obtained.")
	return nil
}

func (d *Device) Backend() string          { return BackendName }
func (d *Device) Name() string             { return d.name }
func (d *Device) Limits() gpu.Limits       { return d.limits }
func (d *Device) Config() gpu.DeviceConfig { return d.cfg }

func (d *Device) queue(kind gpu.QueueKind) (vk.Queue, uint32) {
	if kind == gpu.QueueTransfer {
		return d.transfer, uint32(d.families.transfer)
	}
	return d.graphics, uint32(d.families.graphics)
}

// findMemoryIndex returns the first memory type allowed by typeFilter with
// every requested property.
func (d *Device) findMemoryIndex(typeFilter uint32, properties vk.MemoryPropertyFlagBits) (uint32, bool) {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		t := d.memory.MemoryTypes[i]
		t.Deref()
		if typeFilter&(1<<i) != 0 && vk.MemoryPropertyFlagBits(t.PropertyFlags)&properties == properties {
			return i, true
		}
	}
	return 0, false
}

// allocate picks memory for a memory class, falling back from cached to
// coherent host memory.
func (d *Device) allocate(req vk.MemoryRequirements, class gpu.MemoryClass) (vk.DeviceMemory, error) {
	var candidates []vk.MemoryPropertyFlagBits
	switch class {
	case gpu.MemoryHostCoherent:
		candidates = []vk.MemoryPropertyFlagBits{vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit}
	case gpu.MemoryHostCached:
		candidates = []vk.MemoryPropertyFlagBits{
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit,
			vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit,
		}
	default:
		candidates = []vk.MemoryPropertyFlagBits{vk.MemoryPropertyDeviceLocalBit}
	}
	for _, props := range candidates {
		index, ok := d.findMemoryIndex(req.MemoryTypeBits, props)
		if !ok {
			continue
		}
		info := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  req.Size,
			MemoryTypeIndex: index,
		}
		var mem vk.DeviceMemory
		if err := check(vk.AllocateMemory(d.logical, &info, nil, &mem), "allocate memory"); err != nil {
			return nil, err
		}
		return mem, nil
	}
	core.LogWarn("Unable to find suitable memory type for %s!", class)
	return nil, fmt.Errorf("no %s memory type: %w", class, core.ErrOutOfMemory)
}

// Submit queues the batches. Command buffers stay pending until the fence
// is observed signaled or the device goes idle.
func (d *Device) Submit(kind gpu.QueueKind, submits []gpu.SubmitInfo, f gpu.Fence) error {
	var cmds []*commandBuffer
	infos := make([]vk.SubmitInfo, 0, len(submits))
	for _, s := range submits {
		info := vk.SubmitInfo{SType: vk.StructureTypeSubmitInfo}
		for _, c := range s.CommandBuffers {
			cb := c.(*commandBuffer)
			if cb.level != gpu.LevelPrimary {
				return fmt.Errorf("submit secondary command buffer: %w", core.ErrInvalidState)
			}
			if st := cb.State(); st != gpu.CommandExecutable {
				return fmt.Errorf("submit command buffer in %s state: %w", st, core.ErrInvalidState)
			}
			info.PCommandBuffers = append(info.PCommandBuffers, cb.handle)
			cmds = append(cmds, cb)
		}
		info.CommandBufferCount = uint32(len(info.PCommandBuffers))
		for _, w := range s.Waits {
			info.PWaitSemaphores = append(info.PWaitSemaphores, w.Semaphore.(*semaphore).handle)
			info.PWaitDstStageMask = append(info.PWaitDstStageMask, toPipelineStages(w.Stage))
		}
		info.WaitSemaphoreCount = uint32(len(info.PWaitSemaphores))
		for _, sem := range s.Signals {
			info.PSignalSemaphores = append(info.PSignalSemaphores, sem.(*semaphore).handle)
		}
		info.SignalSemaphoreCount = uint32(len(info.PSignalSemaphores))
		infos = append(infos, info)
	}
	for _, cb := range cmds {
		if err := cb.Submitted(); err != nil {
			return err
		}
	}

	var vf *fence
	handle := vk.NullFence
	if f != nil {
		vf = f.(*fence)
		handle = vf.handle
	}
	q, family := d.queue(kind)
	err := d.locks.call(family, func() error {
		return check(vk.QueueSubmit(q, uint32(len(infos)), infos, handle), "queue submit")
	})
	if err != nil {
		for _, cb := range cmds {
			cb.Completed()
		}
		return err
	}
	d.pendingMu.Lock()
	d.pending = append(d.pending, pendingSubmit{fence: vf, cmds: cmds})
	d.pendingMu.Unlock()
	return nil
}

// retire completes the command buffers of submissions guarded by f, or of
// every submission when f is nil.
func (d *Device) retire(f *fence) {
	d.pendingMu.Lock()
	var done []pendingSubmit
	keep := d.pending[:0]
	for _, p := range d.pending {
		if f == nil || p.fence == f {
			done = append(done, p)
		} else {
			keep = append(keep, p)
		}
	}
	d.pending = keep
	d.pendingMu.Unlock()
	for _, p := range done {
		for _, cb := range p.cmds {
			cb.Completed()
		}
	}
}

func (d *Device) WaitIdle() error {
	if d.logical == nil {
		return nil
	}
	if err := check(vk.DeviceWaitIdle(d.logical), "device wait idle"); err != nil {
		return err
	}
	d.retire(nil)
	return nil
}

func (d *Device) PipelineCacheData() ([]byte, error) {
	var size uint
	if err := check(vk.GetPipelineCacheData(d.logical, d.pipelineCache, &size, nil), "pipeline cache size"); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if err := check(vk.GetPipelineCacheData(d.logical, d.pipelineCache, &size, unsafe.Pointer(&data[0])), "pipeline cache data"); err != nil {
		return nil, err
	}
	return data[:size], nil
}

// Destroy releases the device in the opposite order of creation. Every
// resource created from it must already be destroyed.
func (d *Device) Destroy() {
	if d.logical != nil {
		vk.DeviceWaitIdle(d.logical)
		if d.descriptors != nil {
			d.descriptors.destroy()
		}
		if d.pipelineCache != vk.NullPipelineCache {
			vk.DestroyPipelineCache(d.logical, d.pipelineCache, nil)
		}
		core.LogDebug("Destroying logical device...")
		vk.DestroyDevice(d.logical, nil)
		d.logical = nil
	}
	if d.surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debug, nil)
		d.debug = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}
