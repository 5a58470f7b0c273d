package vulkan

import (
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/gpu"
)

const (
	setsPerPool        = 256
	descriptorsPerType = 1024
)

// descriptorAllocator hands out descriptor sets from a growing list of
// pools and caches set layouts by signature.
type descriptorAllocator struct {
	dev *Device

	mu      sync.Mutex
	layouts map[string]vk.DescriptorSetLayout
	pools   []vk.DescriptorPool
}

func newDescriptorAllocator(d *Device) *descriptorAllocator {
	return &descriptorAllocator{dev: d, layouts: make(map[string]vk.DescriptorSetLayout)}
}

func (a *descriptorAllocator) layout(desc gpu.DescriptorSetLayoutDesc) (vk.DescriptorSetLayout, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := desc.Signature()
	if l, ok := a.layouts[key]; ok {
		return l, nil
	}
	bindings := make([]vk.DescriptorSetLayoutBinding, len(desc.Bindings))
	for i, b := range desc.Bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      toShaderStages(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var l vk.DescriptorSetLayout
	if err := check(vk.CreateDescriptorSetLayout(a.dev.logical, &info, nil, &l), "create descriptor set layout"); err != nil {
		return vk.NullDescriptorSetLayout, err
	}
	a.layouts[key] = l
	return l, nil
}

func (a *descriptorAllocator) newPool() (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: descriptorsPerType},
		{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: descriptorsPerType},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: descriptorsPerType},
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       setsPerPool,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(a.dev.logical, &info, nil, &pool), "create descriptor pool"); err != nil {
		return vk.NullDescriptorPool, err
	}
	a.pools = append(a.pools, pool)
	core.LogDebug("descriptor pool %d created", len(a.pools))
	return pool, nil
}

// allocate tries the newest pool first and grows when it is exhausted.
func (a *descriptorAllocator) allocate(layout vk.DescriptorSetLayout) (vk.DescriptorSet, vk.DescriptorPool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for attempt := 0; attempt < 2; attempt++ {
		if attempt == 1 || len(a.pools) == 0 {
			if _, err := a.newPool(); err != nil {
				return vk.NullDescriptorSet, vk.NullDescriptorPool, err
			}
		}
		pool := a.pools[len(a.pools)-1]
		info := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		var set vk.DescriptorSet
		err := check(vk.AllocateDescriptorSets(a.dev.logical, &info, &set), "allocate descriptor set")
		if err == nil {
			return set, pool, nil
		}
		if !errors.Is(err, core.ErrOutOfMemory) {
			return vk.NullDescriptorSet, vk.NullDescriptorPool, err
		}
	}
	return vk.NullDescriptorSet, vk.NullDescriptorPool, fmt.Errorf("descriptor pools exhausted: %w", core.ErrOutOfMemory)
}

func (a *descriptorAllocator) free(pool vk.DescriptorPool, set vk.DescriptorSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	vk.FreeDescriptorSets(a.dev.logical, pool, 1, []vk.DescriptorSet{set})
}

func (a *descriptorAllocator) destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pools {
		vk.DestroyDescriptorPool(a.dev.logical, p, nil)
	}
	a.pools = nil
	for k, l := range a.layouts {
		vk.DestroyDescriptorSetLayout(a.dev.logical, l, nil)
		delete(a.layouts, k)
	}
}

type descriptorSet struct {
	dev    *Device
	layout gpu.DescriptorSetLayoutDesc
	pool   vk.DescriptorPool
	handle vk.DescriptorSet
}

// CreateDescriptorSet allocates a set for layout and applies writes. Sampled
// images are expected in the shader read-only layout.
func (d *Device) CreateDescriptorSet(layout gpu.DescriptorSetLayoutDesc, writes []gpu.DescriptorWrite) (gpu.DescriptorSet, error) {
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		b, ok := findBinding(layout, w.Binding)
		if !ok {
			return nil, fmt.Errorf("descriptor write to binding %d not in layout: %w", w.Binding, core.ErrInvalidState)
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: 1,
			DescriptorType:  toDescriptorType(b.Type),
		}
		switch b.Type {
		case gpu.DescriptorCombinedImageSampler:
			if w.View == nil || w.Sampler == nil {
				return nil, fmt.Errorf("image binding %d without view or sampler: %w", w.Binding, core.ErrInvalidState)
			}
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     w.Sampler.(*sampler).handle,
				ImageView:   w.View.(*imageView).handle,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		default:
			if w.Buffer == nil || w.Range == 0 {
				return nil, fmt.Errorf("buffer binding %d without buffer: %w", w.Binding, core.ErrInvalidState)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: w.Buffer.(*buffer).handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  vk.DeviceSize(w.Range),
			}}
		}
		vkWrites = append(vkWrites, write)
	}

	vkLayout, err := d.descriptors.layout(layout)
	if err != nil {
		return nil, err
	}
	handle, pool, err := d.descriptors.allocate(vkLayout)
	if err != nil {
		return nil, err
	}
	for i := range vkWrites {
		vkWrites[i].DstSet = handle
	}
	if len(vkWrites) > 0 {
		vk.UpdateDescriptorSets(d.logical, uint32(len(vkWrites)), vkWrites, 0, nil)
	}
	return &descriptorSet{dev: d, layout: layout, pool: pool, handle: handle}, nil
}

func findBinding(layout gpu.DescriptorSetLayoutDesc, n uint32) (gpu.DescriptorBinding, bool) {
	for _, b := range layout.Bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return gpu.DescriptorBinding{}, false
}

func (s *descriptorSet) Layout() gpu.DescriptorSetLayoutDesc { return s.layout }

func (s *descriptorSet) Destroy() {
	if s.handle != vk.NullDescriptorSet {
		s.dev.descriptors.free(s.pool, s.handle)
		s.handle = vk.NullDescriptorSet
	}
}
