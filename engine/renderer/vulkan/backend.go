package vulkan

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/platform"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// Options configures the Vulkan device.
type Options struct {
	AppName string
	// Debug enables the validation layers and routes their reports to the log.
	Debug bool
	// PreferDiscrete picks a discrete GPU when one is present.
	PreferDiscrete bool
}

// Device implements driver.Device on a Vulkan physical device without a
// surface.
type Device struct {
	context *VulkanContext
	queues  [len(driver.QueueRoles)]*queue
	limits  driver.Limits
	name    string

	usePlatform bool
	lost        atomic.Bool
	// Device memory allocations in use, guarded by MemoryManagement.
	allocations int
	destroyOnce sync.Once
}

// New loads the Vulkan loader, creates an instance and opens the best
// physical device.
func New(opts Options) (*Device, error) {
	d := &Device{
		context: &VulkanContext{
			debug: opts.Debug,
			locks: NewVulkanLockPool(),
		},
	}

	if err := d.loadVulkan(); err != nil {
		return nil, err
	}

	if err := d.context.createInstance(opts.AppName); err != nil {
		d.Destroy()
		return nil, err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		DiscreteGPU: opts.PreferDiscrete,
	}
	if err := d.context.selectPhysicalDevice(requirements); err != nil {
		d.Destroy()
		return nil, err
	}

	if err := d.context.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}

	for _, role := range driver.QueueRoles {
		family := d.context.Families.Family(role)
		d.queues[role] = &queue{
			dev:    d,
			role:   role,
			family: family,
			handle: d.context.deviceQueue(family),
		}
	}
	core.LogInfo("Queues obtained.")

	d.name = deviceName(&d.context.Properties)
	d.limits = driver.Limits{
		MaxImageDimension2D: d.context.Properties.Limits.MaxImageDimension2D,
		MaxImageArrayLayers: d.context.Properties.Limits.MaxImageArrayLayers,
	}
	if d.usePlatform {
		core.LogDebug("Vulkan device ready %.3fs after platform start.", platform.Uptime())
	}
	return d, nil
}

// loadVulkan resolves vkGetInstanceProcAddr through GLFW and falls back to
// the system loader.
func (d *Device) loadVulkan() error {
	if err := platform.Acquire(); err == nil {
		d.usePlatform = true
		if platform.VulkanSupported() {
			if procAddr := platform.VulkanProcAddr(); procAddr != nil {
				vk.SetGetInstanceProcAddr(procAddr)
				return d.initLoader()
			}
		}
		core.LogWarn("GLFW reports no Vulkan loader, trying the system loader")
	} else {
		core.LogWarn("failed to initialize glfw: %s", err)
	}

	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		d.releasePlatform()
		return fmt.Errorf("no Vulkan loader: %v: %w", err, driver.ErrUnsupported)
	}
	return d.initLoader()
}

func (d *Device) initLoader() error {
	if err := vk.Init(); err != nil {
		d.releasePlatform()
		return fmt.Errorf("failed to initialize vk: %v: %w", err, driver.ErrUnsupported)
	}
	return nil
}

func (d *Device) releasePlatform() {
	if d.usePlatform {
		platform.Release()
		d.usePlatform = false
	}
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Queue(role driver.QueueRole) driver.Queue {
	return d.queues[role]
}

func (d *Device) Limits() driver.Limits {
	return d.limits
}

// check returns ErrDeviceLost once any call reported the device lost.
func (d *Device) check() error {
	if d.lost.Load() {
		return driver.ErrDeviceLost
	}
	return nil
}

// observe records a lost device and passes err through.
func (d *Device) observe(err error) error {
	if err != nil && errors.Is(err, driver.ErrDeviceLost) {
		if d.lost.CompareAndSwap(false, true) {
			core.LogError("Vulkan device '%s' lost", d.name)
		}
	}
	return err
}

func (d *Device) NewCommandPool(role driver.QueueRole) (driver.CommandPool, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return newCommandPool(d, role)
}

func (d *Device) NewMemoryAllocator() (driver.MemoryAllocator, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return newMemoryAllocator(d), nil
}

func (d *Device) NewDescriptorAllocator() (driver.DescriptorAllocator, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return newDescriptorAllocator(d)
}

func (d *Device) NewSemaphore() (driver.Semaphore, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return newSemaphore(d)
}

func (d *Device) NewFence() (driver.Fence, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return NewFence(d, false)
}

// WaitIdle waits for every queue. Queue submissions are blocked meanwhile.
func (d *Device) WaitIdle() error {
	if err := d.check(); err != nil {
		return err
	}
	return d.observe(d.context.locks.LockAllQueues(func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.context.LogicalDevice))
	}))
}

// Destroy waits for the device and releases it. Objects created from the
// device must be destroyed first.
func (d *Device) Destroy() {
	d.destroyOnce.Do(func() {
		if d.context.LogicalDevice != nil {
			if err := d.WaitIdle(); err != nil {
				core.LogWarn("vulkan device destroy: %s", err)
			}
		}
		_ = d.context.locks.SafeCall(DeviceManagement, func() error {
			d.context.destroy()
			return nil
		})
		d.releasePlatform()
		core.LogInfo("Vulkan device destroyed.")
	})
}
