package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/prism/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// loadLoader points the bindings at the Vulkan loader found by GLFW.
func loadLoader() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil: %w", core.ErrBackendInitFailure)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("vk init: %v: %w", err, core.ErrBackendInitFailure)
	}
	return nil
}

func (d *Device) createInstance(extensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(d.cfg.ApplicationName),
		PEngineName:        safeString("Prism Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	required := append([]string{"VK_KHR_surface"}, extensions...)
	if runtime.GOOS == "darwin" {
		required = append(required, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
		createInfo.Flags |= vk.InstanceCreateFlags(1) // enumerate portability
	}
	var layers []string
	if d.cfg.Validation {
		required = append(required, vk.ExtDebugReportExtensionName)
		if err := checkLayers(validationLayer); err != nil {
			return err
		}
		layers = []string{validationLayer}
		core.LogInfo("Validation layers enabled.")
	}
	for _, e := range required {
		core.LogDebug("required instance extension %s", e)
	}
	createInfo.EnabledExtensionCount = uint32(len(required))
	createInfo.PpEnabledExtensionNames = safeStrings(required)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	if err := check(vk.CreateInstance(&createInfo, nil, &d.instance), "create instance"); err != nil {
		return err
	}
	if err := vk.InitInstance(d.instance); err != nil {
		return fmt.Errorf("init instance: %v: %w", err, core.ErrBackendInitFailure)
	}
	core.LogInfo("Vulkan Instance created.")

	if d.cfg.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugCallback,
		}
		if err := check(vk.CreateDebugReportCallback(d.instance, &debugCreateInfo, nil, &d.debug), "create debug callback"); err != nil {
			return err
		}
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func checkLayers(names ...string) error {
	var count uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&count, nil), "enumerate layers"); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := check(vk.EnumerateInstanceLayerProperties(&count, available), "enumerate layers"); err != nil {
		return err
	}
	for _, name := range names {
		found := false
		for i := range available {
			available[i].Deref()
			if cString(available[i].LayerName[:]) == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("required validation layer is missing: %s: %w", name, core.ErrBackendInitFailure)
		}
	}
	return nil
}

func debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
