package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima2d/engine/renderer/driver"
)

// VulkanResultString returns the name of a result code.
func VulkanResultString(result vk.Result) string {
	// From: https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorTooManyObjects:
		return "VK_ERROR_TOO_MANY_OBJECTS"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorFragmentation:
		return "VK_ERROR_FRAGMENTATION"
	default:
		return fmt.Sprintf("VkResult(%d)", int32(result))
	}
}

// resultError converts a failed result into an error wrapping the matching
// driver error, or nil for vk.Success.
func resultError(op string, result vk.Result) error {
	var kind error
	switch result {
	case vk.Success:
		return nil
	case vk.NotReady:
		kind = driver.ErrNotReady
	case vk.Timeout:
		kind = driver.ErrTimeout
	case vk.ErrorDeviceLost:
		kind = driver.ErrDeviceLost
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory,
		vk.ErrorFragmentedPool, vk.ErrorFragmentation, vk.ErrorTooManyObjects:
		kind = driver.ErrOutOfMemory
	case vk.ErrorFormatNotSupported, vk.ErrorFeatureNotPresent, vk.ErrorExtensionNotPresent,
		vk.ErrorLayerNotPresent, vk.ErrorIncompatibleDriver:
		kind = driver.ErrUnsupported
	default:
		return fmt.Errorf("%s: %s", op, VulkanResultString(result))
	}
	return fmt.Errorf("%s: %s: %w", op, VulkanResultString(result), kind)
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// FindFirstZeroInByteArray returns the length of the NUL terminated string in arr.
func FindFirstZeroInByteArray(arr []byte) int {
	for i, b := range arr {
		if b == 0 {
			return i
		}
	}
	return len(arr)
}

func vkFormat(f driver.Format) (vk.Format, error) {
	switch f {
	case driver.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm, nil
	default:
		return vk.FormatUndefined, fmt.Errorf("format %d: %w", int(f), driver.ErrUnsupported)
	}
}

func vkLayout(l driver.ImageLayout) vk.ImageLayout {
	switch l {
	case driver.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case driver.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case driver.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case driver.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	default:
		return vk.ImageLayoutUndefined
	}
}

func vkAccess(a driver.Access) vk.AccessFlags {
	var flags vk.AccessFlagBits
	if a&driver.AccessTransferRead != 0 {
		flags |= vk.AccessTransferReadBit
	}
	if a&driver.AccessTransferWrite != 0 {
		flags |= vk.AccessTransferWriteBit
	}
	if a&driver.AccessShaderRead != 0 {
		flags |= vk.AccessShaderReadBit
	}
	if a&driver.AccessHostRead != 0 {
		flags |= vk.AccessHostReadBit
	}
	return vk.AccessFlags(flags)
}

// vkStage picks the pipeline stage that performs the given access. Shader
// reads map to all commands since the transfer queue has no shader stages.
func vkStage(a driver.Access, src bool) vk.PipelineStageFlagBits {
	var stage vk.PipelineStageFlagBits
	if a&(driver.AccessTransferRead|driver.AccessTransferWrite) != 0 {
		stage |= vk.PipelineStageTransferBit
	}
	if a&driver.AccessShaderRead != 0 {
		stage |= vk.PipelineStageAllCommandsBit
	}
	if a&driver.AccessHostRead != 0 {
		stage |= vk.PipelineStageHostBit
	}
	if stage != 0 {
		return stage
	}
	if src {
		return vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageBottomOfPipeBit
}

func vkImageUsage(u driver.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&driver.UsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u&driver.UsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	if u&driver.UsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	return vk.ImageUsageFlags(flags)
}

func vkFilter(f driver.Filter) vk.Filter {
	if f == driver.FilterNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func colorLayers(mip, baseLayer, layers uint32) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:       mip,
		BaseArrayLayer: baseLayer,
		LayerCount:     layers,
	}
}
