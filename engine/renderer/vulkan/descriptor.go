package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

/**
 * @brief A combined image sampler set and the pool it was allocated from.
 */
type descriptorSet struct {
	handle vk.DescriptorSet
	pool   vk.DescriptorPool
	view   *imageView
}

func (s *descriptorSet) View() driver.ImageView {
	return s.view
}

/**
 * @brief Allocates texture sets of one layout. Pools are created on demand
 * and never shrink until Destroy.
 */
type descriptorAllocator struct {
	dev     *Device
	layout  vk.DescriptorSetLayout
	sampler vk.Sampler
	pools   []vk.DescriptorPool
	live    map[*descriptorSet]struct{}
}

func newDescriptorAllocator(dev *Device) (*descriptorAllocator, error) {
	a := &descriptorAllocator{
		dev:  dev,
		live: make(map[*descriptorSet]struct{}),
	}
	logical := dev.context.LogicalDevice

	binding := vk.DescriptorSetLayoutBinding{
		Binding:         VULKAN_TEXTURE_SAMPLER_BINDING,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}
	layoutCreateInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{binding},
	}
	if err := resultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(logical, &layoutCreateInfo, dev.context.Allocator, &a.layout)); err != nil {
		return nil, dev.observe(err)
	}

	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		MipmapMode:              vk.SamplerMipmapModeLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  0.0,
		MaxLod:                  1000.0,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	if err := resultError("vkCreateSampler", vk.CreateSampler(logical, &samplerCreateInfo, dev.context.Allocator, &a.sampler)); err != nil {
		a.Destroy()
		return nil, dev.observe(err)
	}
	return a, nil
}

func (a *descriptorAllocator) newPool() (vk.DescriptorPool, error) {
	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       VULKAN_DESCRIPTOR_POOL_SETS,
		PoolSizeCount: 1,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: VULKAN_DESCRIPTOR_POOL_SETS,
		}},
	}
	var pool vk.DescriptorPool
	if err := resultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(a.dev.context.LogicalDevice, &poolCreateInfo, a.dev.context.Allocator, &pool)); err != nil {
		return nil, a.dev.observe(err)
	}
	a.pools = append(a.pools, pool)
	return pool, nil
}

func (a *descriptorAllocator) allocateFrom(pool vk.DescriptorPool) (vk.DescriptorSet, vk.Result) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{a.layout},
	}
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(a.dev.context.LogicalDevice, &allocateInfo, &set)
	return set, res
}

// Allocate writes view and the allocator's sampler into a new set. The view
// is expected in the shader read only layout.
func (a *descriptorAllocator) Allocate(v driver.ImageView) (driver.DescriptorSet, error) {
	if err := a.dev.check(); err != nil {
		return nil, err
	}
	view, ok := v.(*imageView)
	if !ok || view == nil || view.handle == nil {
		return nil, fmt.Errorf("descriptor for a foreign or freed view: %w", driver.ErrValidation)
	}

	var (
		set  vk.DescriptorSet
		pool vk.DescriptorPool
		res  = vk.ErrorOutOfPoolMemory
	)
	// Try the newest pool, then a fresh one.
	if n := len(a.pools); n > 0 {
		pool = a.pools[n-1]
		set, res = a.allocateFrom(pool)
	}
	if res == vk.ErrorOutOfPoolMemory || res == vk.ErrorFragmentedPool {
		var err error
		if pool, err = a.newPool(); err != nil {
			return nil, err
		}
		set, res = a.allocateFrom(pool)
	}
	if err := resultError("vkAllocateDescriptorSets", res); err != nil {
		return nil, a.dev.observe(err)
	}

	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      VULKAN_TEXTURE_SAMPLER_BINDING,
		DstArrayElement: 0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler:     a.sampler,
			ImageView:   view.handle,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}},
	}
	vk.UpdateDescriptorSets(a.dev.context.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)

	ds := &descriptorSet{handle: set, pool: pool, view: view}
	a.live[ds] = struct{}{}
	return ds, nil
}

func (a *descriptorAllocator) Free(s driver.DescriptorSet) {
	ds, ok := s.(*descriptorSet)
	if !ok {
		return
	}
	if _, live := a.live[ds]; !live {
		return
	}
	delete(a.live, ds)
	vk.FreeDescriptorSets(a.dev.context.LogicalDevice, ds.pool, 1, &ds.handle)
}

func (a *descriptorAllocator) Live() int {
	return len(a.live)
}

// Destroy frees every pool, which frees their sets, then the sampler and layout.
func (a *descriptorAllocator) Destroy() {
	logical := a.dev.context.LogicalDevice
	for _, pool := range a.pools {
		vk.DestroyDescriptorPool(logical, pool, a.dev.context.Allocator)
	}
	a.pools = nil
	a.live = make(map[*descriptorSet]struct{})
	if a.sampler != nil {
		vk.DestroySampler(logical, a.sampler, a.dev.context.Allocator)
		a.sampler = nil
	}
	if a.layout != nil {
		vk.DestroyDescriptorSetLayout(logical, a.layout, a.dev.context.Allocator)
		a.layout = nil
	}
}
