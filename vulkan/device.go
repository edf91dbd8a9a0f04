package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_external_memory_capabilities"
)

//go:generate mockgen -source ./device.go -destination ../mocks/vulkan.go -package mocks

// ExternalMemoryHandleTypeFlags identifies the OS-level handle types that a piece of device
// memory can be exported as
type ExternalMemoryHandleTypeFlags = khr_external_memory_capabilities.ExternalMemoryHandleTypeFlags

// HandleTypeOpaqueFD is the posix file descriptor handle type
const HandleTypeOpaqueFD = khr_external_memory_capabilities.ExternalMemoryHandleTypeOpaqueFD

// ImageCreateInfo describes a raw image to be created with Device.CreateImage
type ImageCreateInfo struct {
	Flags       core1_0.ImageCreateFlags
	ImageType   core1_0.ImageType
	Format      core1_0.Format
	Extent      core1_0.Extent3D
	MipLevels   int
	ArrayLayers int
	Samples     core1_0.SampleCountFlags
	Tiling      core1_0.ImageTiling
	Usage       core1_0.ImageUsageFlags

	SharingMode        core1_0.SharingMode
	QueueFamilyIndices []int

	InitialLayout core1_0.ImageLayout

	// ExternalMemoryHandleTypes is 0 unless the image's memory is intended to be exported
	ExternalMemoryHandleTypes ExternalMemoryHandleTypeFlags
}

// ImageFormatInfo is the query passed to PhysicalDevice.ImageFormatProperties
type ImageFormatInfo struct {
	Flags     core1_0.ImageCreateFlags
	Format    core1_0.Format
	ImageType core1_0.ImageType
	Tiling    core1_0.ImageTiling
	Usage     core1_0.ImageUsageFlags

	// ExternalMemoryHandleType is 0 when no external memory capabilities are requested
	ExternalMemoryHandleType ExternalMemoryHandleTypeFlags
}

// ExternalMemoryProperties reports what the device is able to do with external memory of the
// handle type requested in ImageFormatInfo
type ExternalMemoryProperties struct {
	Exportable    bool
	Importable    bool
	DedicatedOnly bool

	CompatibleHandleTypes         ExternalMemoryHandleTypeFlags
	ExportFromImportedHandleTypes ExternalMemoryHandleTypeFlags
}

// ImageFormatProperties is the result of PhysicalDevice.ImageFormatProperties
type ImageFormatProperties struct {
	MaxExtent       core1_0.Extent3D
	MaxMipLevels    int
	MaxArrayLayers  int
	SampleCounts    core1_0.SampleCountFlags
	MaxResourceSize int

	ExternalMemoryProperties ExternalMemoryProperties
}

// MemoryRequirements are the driver-reported requirements for one plane of an image, along with
// the driver's opinion about dedicated allocations for the image
type MemoryRequirements struct {
	core1_0.MemoryRequirements

	PrefersDedicated  bool
	RequiresDedicated bool
}

// MemoryAllocateInfo describes a single block of device memory to be allocated with
// Device.AllocateMemory
type MemoryAllocateInfo struct {
	AllocationSize  int
	MemoryTypeIndex int

	// DedicatedImage is non-nil when the memory is reserved for exactly one image
	DedicatedImage RawImage
	// ExportHandleTypes is non-zero when the memory should be exportable
	ExportHandleTypes ExternalMemoryHandleTypeFlags
}

// MemoryBinding places a RawImage plane at an offset within a DeviceMemory
type MemoryBinding struct {
	Memory DeviceMemory
	Offset int
}

// ImageViewCreateInfo describes a view to be created with Device.CreateImageView
type ImageViewCreateInfo struct {
	Image            RawImage
	ViewType         core1_0.ImageViewType
	Format           core1_0.Format
	Usage            core1_0.ImageUsageFlags
	SubresourceRange core1_0.ImageSubresourceRange
}

// PhysicalDevice is the subset of physical device queries used by image and memory management
type PhysicalDevice interface {
	// ImageFormatProperties returns nil, nil when the requested combination is not supported
	ImageFormatProperties(info ImageFormatInfo) (*ImageFormatProperties, error)
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
	Properties() (*core1_0.PhysicalDeviceProperties, error)
}

// Device creates raw images, device memory, and image views. Implementations must be safe to
// call from several goroutines at once.
type Device interface {
	PhysicalDevice() PhysicalDevice
	CreateImage(info ImageCreateInfo) (RawImage, error)
	AllocateMemory(info MemoryAllocateInfo) (DeviceMemory, error)
	CreateImageView(info ImageViewCreateInfo) (ImageView, error)
}

// RawImage is an image object that has no memory bound to it yet. Implementations are compared
// by identity, so they should be pointer types.
type RawImage interface {
	// MemoryRequirements returns one entry per plane
	MemoryRequirements() []MemoryRequirements
	// BindMemory binds one entry per plane. When it fails, nothing has been bound and the
	// caller still owns both the image and the memory.
	BindMemory(bindings []MemoryBinding) error
	Destroy()
}

// DeviceMemory is a single block of memory allocated from the device
type DeviceMemory interface {
	AllocationSize() int
	MemoryTypeIndex() int
	ExportFD(handleType ExternalMemoryHandleTypeFlags) (int, error)
	Free()
}

// ImageView is a driver view object
type ImageView interface {
	Destroy()
}
