package vulkan

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type VulkanFence struct {
	Handle vk.Fence

	dev        *Device
	mutex      sync.Mutex
	IsSignaled bool
	submitted  bool
}

func NewFence(dev *Device, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		dev: dev,
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
		submitted:  createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if err := resultError("vkCreateFence", vk.CreateFence(dev.context.LogicalDevice, &fenceCreateInfo, dev.context.Allocator, &pFence)); err != nil {
		core.LogError(err.Error())
		return nil, dev.observe(err)
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) markSubmitted() bool {
	vf.mutex.Lock()
	defer vf.mutex.Unlock()
	if vf.submitted {
		return false
	}
	vf.submitted = true
	return true
}

// Status polls the fence without blocking.
func (vf *VulkanFence) Status() error {
	vf.mutex.Lock()
	defer vf.mutex.Unlock()
	if vf.IsSignaled {
		return nil
	}
	if !vf.submitted {
		return driver.ErrNotReady
	}

	result := vk.GetFenceStatus(vf.dev.context.LogicalDevice, vf.Handle)
	if result == vk.Success {
		vf.IsSignaled = true
		return nil
	}
	if result == vk.NotReady {
		return driver.ErrNotReady
	}
	return vf.dev.observe(resultError("vkGetFenceStatus", result))
}

func (vf *VulkanFence) Wait(timeout time.Duration) error {
	vf.mutex.Lock()
	signaled, submitted := vf.IsSignaled, vf.submitted
	vf.mutex.Unlock()
	if signaled {
		// If already signaled, do not wait.
		return nil
	}
	if !submitted {
		if timeout > 0 && timeout != driver.WaitForever {
			time.Sleep(timeout)
		}
		if timeout == driver.WaitForever {
			return fmt.Errorf("wait on a fence that was never submitted: %w", driver.ErrValidation)
		}
		return driver.ErrTimeout
	}

	timeoutNs := ^uint64(0)
	if timeout < 0 {
		timeoutNs = 0
	} else if timeout != driver.WaitForever {
		timeoutNs = uint64(timeout.Nanoseconds())
	}

	result := vk.WaitForFences(vf.dev.context.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.mutex.Lock()
		vf.IsSignaled = true
		vf.mutex.Unlock()
		return nil
	case vk.Timeout:
		return driver.ErrTimeout
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result))
	}
	return vf.dev.observe(resultError("vkWaitForFences", result))
}

func (vf *VulkanFence) Destroy() {
	vf.mutex.Lock()
	defer vf.mutex.Unlock()
	if vf.Handle != nil {
		vk.DestroyFence(vf.dev.context.LogicalDevice, vf.Handle, vf.dev.context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

type semaphore struct {
	dev    *Device
	handle vk.Semaphore
}

func newSemaphore(dev *Device) (*semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if err := resultError("vkCreateSemaphore", vk.CreateSemaphore(dev.context.LogicalDevice, &info, dev.context.Allocator, &handle)); err != nil {
		return nil, dev.observe(err)
	}
	return &semaphore{dev: dev, handle: handle}, nil
}

func (s *semaphore) Destroy() {
	if s.handle != nil {
		vk.DestroySemaphore(s.dev.context.LogicalDevice, s.handle, s.dev.context.Allocator)
		s.handle = nil
	}
}
