package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
)

// resultString names a VkResult. Extended adds the one-line description
// from the registry.
func resultString(result vk.Result, extended bool) string {
	var name, desc string
	switch result {
	case vk.Success:
		name, desc = "VK_SUCCESS", "Command successfully completed"
	case vk.NotReady:
		name, desc = "VK_NOT_READY", "A fence or query has not yet completed"
	case vk.Timeout:
		name, desc = "VK_TIMEOUT", "A wait operation has not completed in the specified time"
	case vk.Incomplete:
		name, desc = "VK_INCOMPLETE", "A return array was too small for the result"
	case vk.Suboptimal:
		name, desc = "VK_SUBOPTIMAL_KHR", "A swapchain no longer matches the surface properties exactly"
	case vk.ErrorOutOfHostMemory:
		name, desc = "VK_ERROR_OUT_OF_HOST_MEMORY", "A host memory allocation has failed"
	case vk.ErrorOutOfDeviceMemory:
		name, desc = "VK_ERROR_OUT_OF_DEVICE_MEMORY", "A device memory allocation has failed"
	case vk.ErrorInitializationFailed:
		name, desc = "VK_ERROR_INITIALIZATION_FAILED", "Initialization of an object could not be completed"
	case vk.ErrorDeviceLost:
		name, desc = "VK_ERROR_DEVICE_LOST", "The logical or physical device has been lost"
	case vk.ErrorMemoryMapFailed:
		name, desc = "VK_ERROR_MEMORY_MAP_FAILED", "Mapping of a memory object has failed"
	case vk.ErrorLayerNotPresent:
		name, desc = "VK_ERROR_LAYER_NOT_PRESENT", "A requested layer is not present or could not be loaded"
	case vk.ErrorExtensionNotPresent:
		name, desc = "VK_ERROR_EXTENSION_NOT_PRESENT", "A requested extension is not supported"
	case vk.ErrorFeatureNotPresent:
		name, desc = "VK_ERROR_FEATURE_NOT_PRESENT", "A requested feature is not supported"
	case vk.ErrorIncompatibleDriver:
		name, desc = "VK_ERROR_INCOMPATIBLE_DRIVER", "The requested version of Vulkan is not supported by the driver"
	case vk.ErrorTooManyObjects:
		name, desc = "VK_ERROR_TOO_MANY_OBJECTS", "Too many objects of the type have already been created"
	case vk.ErrorFormatNotSupported:
		name, desc = "VK_ERROR_FORMAT_NOT_SUPPORTED", "A requested format is not supported on this device"
	case vk.ErrorFragmentedPool:
		name, desc = "VK_ERROR_FRAGMENTED_POOL", "A pool allocation has failed due to fragmentation"
	case vk.ErrorOutOfPoolMemory:
		name, desc = "VK_ERROR_OUT_OF_POOL_MEMORY", "A pool memory allocation has failed"
	case vk.ErrorSurfaceLost:
		name, desc = "VK_ERROR_SURFACE_LOST_KHR", "A surface is no longer available"
	case vk.ErrorNativeWindowInUse:
		name, desc = "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR", "The requested window is already in use"
	case vk.ErrorOutOfDate:
		name, desc = "VK_ERROR_OUT_OF_DATE_KHR", "The surface changed and the swapchain must be recreated"
	case vk.ErrorInvalidShaderNv:
		name, desc = "VK_ERROR_INVALID_SHADER_NV", "One or more shaders failed to compile or link"
	default:
		name, desc = fmt.Sprintf("VkResult(%d)", int32(result)), "Unknown result"
	}
	if extended {
		return name + " " + desc
	}
	return name
}

// check turns a failed VkResult into an error of the matching kind.
func check(result vk.Result, op string) error {
	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return fmt.Errorf("%s: %s: %w", op, resultString(result, false), core.ErrOutOfMemory)
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return fmt.Errorf("%s: %s: %w", op, resultString(result, false), core.ErrSwapchainOutOfDate)
	case vk.Timeout, vk.NotReady:
		return fmt.Errorf("%s: %s: %w", op, resultString(result, false), core.ErrFenceTimeout)
	case vk.ErrorInitializationFailed, vk.ErrorLayerNotPresent, vk.ErrorExtensionNotPresent,
		vk.ErrorFeatureNotPresent, vk.ErrorIncompatibleDriver, vk.ErrorSurfaceLost, vk.ErrorNativeWindowInUse:
		return fmt.Errorf("%s: %s: %w", op, resultString(result, true), core.ErrBackendInitFailure)
	case vk.ErrorInvalidShaderNv:
		return fmt.Errorf("%s: %s: %w", op, resultString(result, false), core.ErrPipelineCompileFailure)
	default:
		return fmt.Errorf("%s: %s: %w", op, resultString(result, true), core.ErrInvalidState)
	}
}

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}

// cString reads a fixed-size, NUL-terminated name returned by the driver.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
