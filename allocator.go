package imageres

import (
	"github.com/vkngwrapper/arsenal/imageres/memory"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
)

//go:generate mockgen -source ./allocator.go -destination ./mocks/imageres.go -package mocks

// Allocation is a range of device memory that has been handed out to exactly one image
type Allocation interface {
	Memory() vulkan.DeviceMemory
	Offset() int
	Size() int
	IsDedicated() bool
	ExportHandleTypes() vulkan.ExternalMemoryHandleTypeFlags
	Free() error
}

// MemoryAllocator is the backend that images get their memory from. It must be safe to call
// from several goroutines at once.
type MemoryAllocator interface {
	Device() vulkan.Device
	Allocate(createInfo memory.AllocationCreateInfo) (Allocation, error)
	AllocateDedicated(
		memoryTypeIndex int,
		size int,
		dedicatedImage vulkan.RawImage,
		exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags,
	) (Allocation, error)
	FindMemoryTypeIndex(memoryTypeBits uint32, usage memory.MemoryUsage) (int, error)
}

type memoryAllocator struct {
	allocator *memory.Allocator
}

// NewMemoryAllocator adapts a memory.Allocator to the MemoryAllocator interface
func NewMemoryAllocator(allocator *memory.Allocator) MemoryAllocator {
	return &memoryAllocator{allocator: allocator}
}

func (a *memoryAllocator) Device() vulkan.Device {
	return a.allocator.Device()
}

func (a *memoryAllocator) Allocate(createInfo memory.AllocationCreateInfo) (Allocation, error) {
	alloc, err := a.allocator.Allocate(createInfo)
	if err != nil {
		return nil, err
	}

	return alloc, nil
}

func (a *memoryAllocator) AllocateDedicated(
	memoryTypeIndex int,
	size int,
	dedicatedImage vulkan.RawImage,
	exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags,
) (Allocation, error) {
	alloc, err := a.allocator.AllocateDedicated(memoryTypeIndex, size, dedicatedImage, exportHandleTypes)
	if err != nil {
		return nil, err
	}

	return alloc, nil
}

func (a *memoryAllocator) FindMemoryTypeIndex(memoryTypeBits uint32, usage memory.MemoryUsage) (int, error) {
	return a.allocator.FindMemoryTypeIndex(memoryTypeBits, usage)
}
