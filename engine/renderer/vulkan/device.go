package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/core"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

type VulkanPhysicalDeviceRequirements struct {
	DiscreteGPU          bool
	DeviceExtensionNames []string
}

// VulkanPhysicalDeviceQueueFamilyInfo maps every queue role to a family.
type VulkanPhysicalDeviceQueueFamilyInfo struct {
	PrimaryFamilyIndex   uint32
	SecondaryFamilyIndex uint32
	TransferFamilyIndex  uint32
}

// Family returns the family index of role.
func (qi VulkanPhysicalDeviceQueueFamilyInfo) Family(role driver.QueueRole) uint32 {
	switch role {
	case driver.QueueSecondaryRender:
		return qi.SecondaryFamilyIndex
	case driver.QueueTransfer:
		return qi.TransferFamilyIndex
	default:
		return qi.PrimaryFamilyIndex
	}
}

// Unique returns the distinct families in role order.
func (qi VulkanPhysicalDeviceQueueFamilyInfo) Unique() []uint32 {
	var out []uint32
	for _, role := range driver.QueueRoles {
		f := qi.Family(role)
		seen := false
		for _, u := range out {
			if u == f {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, f)
		}
	}
	return out
}

// selectQueueFamilies picks the first graphics family as primary render,
// another graphics family as secondary render when there is one, and the
// transfer capable family with the fewest other capabilities as transfer.
// The properties must be dereferenced.
func selectQueueFamilies(families []vk.QueueFamilyProperties) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	var info VulkanPhysicalDeviceQueueFamilyInfo
	primary, secondary, transfer := -1, -1, -1
	minTransferScore := 255

	for i, family := range families {
		if family.QueueCount == 0 {
			continue
		}
		flags := vk.QueueFlagBits(family.QueueFlags)
		graphics := flags&vk.QueueGraphicsBit != 0
		compute := flags&vk.QueueComputeBit != 0

		currentTransferScore := 0
		if graphics {
			currentTransferScore++
			switch {
			case primary < 0:
				primary = i
			case secondary < 0:
				secondary = i
			}
		}
		if compute {
			currentTransferScore++
		}

		// Graphics and compute families support transfers implicitly. Take
		// the lowest score, which is most likely a dedicated transfer queue.
		if graphics || compute || flags&vk.QueueTransferBit != 0 {
			if currentTransferScore < minTransferScore {
				minTransferScore = currentTransferScore
				transfer = i
			}
		}
	}

	if primary < 0 {
		return info, false
	}
	if secondary < 0 {
		secondary = primary
	}
	if transfer < 0 {
		transfer = primary
	}
	info.PrimaryFamilyIndex = uint32(primary)
	info.SecondaryFamilyIndex = uint32(secondary)
	info.TransferFamilyIndex = uint32(transfer)
	return info, true
}

func (vc *VulkanContext) selectPhysicalDevice(requirements VulkanPhysicalDeviceRequirements) error {
	var physicalDeviceCount uint32
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(vc.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", driver.ErrUnsupported)
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(vc.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	// Discrete devices first when requested, then any device that fits.
	passes := []bool{false}
	if requirements.DiscreteGPU && runtime.GOOS != "darwin" {
		passes = []bool{true, false}
	}
	for _, discreteOnly := range passes {
		for _, pd := range physicalDevices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &properties)
			properties.Deref()
			properties.Limits.Deref()

			if discreteOnly && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
				continue
			}
			queueInfo, ok := physicalDeviceMeetsRequirements(pd, &properties, requirements)
			if !ok {
				continue
			}

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
			memory.Deref()
			for j := uint32(0); j < memory.MemoryTypeCount; j++ {
				memory.MemoryTypes[j].Deref()
			}
			for j := uint32(0); j < memory.MemoryHeapCount; j++ {
				memory.MemoryHeaps[j].Deref()
			}

			vc.PhysicalDevice = pd
			vc.Properties = properties
			vc.Memory = memory
			vc.Families = queueInfo
			logPhysicalDevice(&properties, &memory, queueInfo)
			return nil
		}
	}
	return fmt.Errorf("no physical device meets the requirements: %w", driver.ErrUnsupported)
}

func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	name := deviceName(properties)

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)
	for i := range queueFamilies {
		queueFamilies[i].Deref()
	}

	queueInfo, ok := selectQueueFamilies(queueFamilies)
	if !ok {
		core.LogInfo("Device '%s' has no graphics queue, skipping.", name)
		return queueInfo, false
	}

	if len(requirements.DeviceExtensionNames) > 0 {
		available, err := deviceExtensions(device)
		if err != nil {
			return queueInfo, false
		}
		for _, required := range requirements.DeviceExtensionNames {
			if _, found := available[required]; !found {
				core.LogInfo("Required extension not found: '%s', skipping device.", required)
				return queueInfo, false
			}
		}
	}
	return queueInfo, true
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]struct{}, error) {
	var count uint32
	if err := resultError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := resultError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(device, "", &count, props)); err != nil {
			return nil, err
		}
	}
	out := make(map[string]struct{}, count)
	for i := range props {
		props[i].Deref()
		name := props[i].ExtensionName[:]
		out[string(name[:FindFirstZeroInByteArray(name)])] = struct{}{}
	}
	return out, nil
}

func deviceName(properties *vk.PhysicalDeviceProperties) string {
	name := properties.DeviceName[:]
	return string(name[:FindFirstZeroInByteArray(name)])
}

func logPhysicalDevice(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties, queueInfo VulkanPhysicalDeviceQueueFamilyInfo) {
	core.LogInfo("Selected device: '%s'.", deviceName(properties))
	switch properties.DeviceType {
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

	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version.Major(vk.Version(properties.DriverVersion)),
		vk.Version.Minor(vk.Version(properties.DriverVersion)),
		vk.Version.Patch(vk.Version(properties.DriverVersion)),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(properties.ApiVersion)),
		vk.Version.Minor(vk.Version(properties.ApiVersion)),
		vk.Version.Patch(vk.Version(properties.ApiVersion)),
	)

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}

	core.LogDebug("Primary Render Family Index:   %d", queueInfo.PrimaryFamilyIndex)
	core.LogDebug("Secondary Render Family Index: %d", queueInfo.SecondaryFamilyIndex)
	core.LogDebug("Transfer Family Index:         %d", queueInfo.TransferFamilyIndex)
}

// createLogicalDevice creates one queue per distinct family.
func (vc *VulkanContext) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	families := vc.Families.Unique()
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := []string{}
	available, err := deviceExtensions(vc.PhysicalDevice)
	if err != nil {
		return err
	}
	if _, ok := available["VK_KHR_portability_subset"]; ok {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var device vk.Device
	if err := resultError("vkCreateDevice", vk.CreateDevice(vc.PhysicalDevice, &deviceCreateInfo, vc.Allocator, &device)); err != nil {
		return err
	}
	vc.LogicalDevice = device
	for _, family := range families {
		vc.locks.SetQueueFamily(family)
	}
	core.LogInfo("Logical device created.")
	return nil
}

func (vc *VulkanContext) deviceQueue(family uint32) vk.Queue {
	var q vk.Queue
	vk.GetDeviceQueue(vc.LogicalDevice, family, 0, &q)
	return q
}
