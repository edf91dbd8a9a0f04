package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory_capabilities"
	"github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2"
	khr_get_memory_requirements2_shim "github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2/shim"
	"github.com/vkngwrapper/extensions/v2/khr_get_physical_device_properties2"
	khr_get_physical_device_properties2_shim "github.com/vkngwrapper/extensions/v2/khr_get_physical_device_properties2/shim"
	"github.com/vkngwrapper/extensions/v2/khr_maintenance2"
)

// ExtensionData records which core versions and extensions are active on a device, and holds
// the promoted or shimmed entry points used by CoreDevice
type ExtensionData struct {
	DedicatedAllocations         bool
	ExternalMemory               bool
	ExternalMemoryCapabilities   bool
	ImageViewUsage               bool
	GetMemoryRequirements        khr_get_memory_requirements2_shim.Shim
	GetPhysicalDeviceProperties2 khr_get_physical_device_properties2_shim.Shim
}

func NewExtensionData(device core1_0.Device, physicalDevice core1_0.PhysicalDevice, instance core1_0.Instance) *ExtensionData {
	data := &ExtensionData{}

	device11 := core1_1.PromoteDevice(device)
	if device11 != nil {
		// Core 1.1 is active: khr_get_memory_requirements2, khr_dedicated_allocation,
		// khr_external_memory and khr_maintenance2 are all promoted
		data.DedicatedAllocations = true
		data.ExternalMemory = true
		data.ImageViewUsage = true
		data.GetMemoryRequirements = device11
	}

	physicalDevice11 := core1_1.PromoteInstanceScopedPhysicalDevice(physicalDevice)
	if physicalDevice11 != nil {
		data.GetPhysicalDeviceProperties2 = physicalDevice11
		data.ExternalMemoryCapabilities = true
	}

	if data.GetMemoryRequirements == nil && device.IsDeviceExtensionActive(khr_get_memory_requirements2.ExtensionName) {
		extension := khr_get_memory_requirements2.CreateExtensionFromDevice(device)
		data.GetMemoryRequirements = khr_get_memory_requirements2_shim.NewShim(extension, device)
	}

	// khr_dedicated_allocation is only usable with khr_get_memory_requirements2
	if data.GetMemoryRequirements != nil && !data.DedicatedAllocations &&
		device.IsDeviceExtensionActive(khr_dedicated_allocation.ExtensionName) {
		data.DedicatedAllocations = true
	}

	if !data.ExternalMemory && device.IsDeviceExtensionActive(khr_external_memory.ExtensionName) {
		data.ExternalMemory = true
	}

	if !data.ImageViewUsage && device.IsDeviceExtensionActive(khr_maintenance2.ExtensionName) {
		data.ImageViewUsage = true
	}

	if data.GetPhysicalDeviceProperties2 == nil && instance.IsInstanceExtensionActive(khr_get_physical_device_properties2.ExtensionName) {
		extension := khr_get_physical_device_properties2.CreateExtensionFromInstance(instance)
		data.GetPhysicalDeviceProperties2 = khr_get_physical_device_properties2_shim.NewShim(extension, physicalDevice)
	}

	if !data.ExternalMemoryCapabilities && data.GetPhysicalDeviceProperties2 != nil &&
		instance.IsInstanceExtensionActive(khr_external_memory_capabilities.ExtensionName) {
		data.ExternalMemoryCapabilities = true
	}

	return data
}
