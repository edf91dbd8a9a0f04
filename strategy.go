package imageres

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/memory"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
)

// allocatePooled asks the allocator for device-local memory. raw is passed along so that the
// allocator can make a dedicated allocation for it if the driver asks for one.
func allocatePooled(allocator MemoryAllocator, raw vulkan.RawImage, requirements vulkan.MemoryRequirements) (Allocation, error) {
	alloc, err := allocator.Allocate(memory.AllocationCreateInfo{
		Requirements:       requirements,
		AllocationType:     memory.AllocationTypeNonLinear,
		Usage:              memory.MemoryUsageGPUOnly,
		AllocatePreference: memory.AllocatePreferenceUnknown,
		DedicatedImage:     raw,
	})
	if err != nil {
		return nil, &AllocationError{Cause: err}
	}

	return alloc, nil
}

// allocateExportable makes a dedicated allocation of exactly requirements.Size bytes that can
// be exported as handleTypes
func allocateExportable(
	allocator MemoryAllocator,
	raw vulkan.RawImage,
	requirements vulkan.MemoryRequirements,
	handleTypes vulkan.ExternalMemoryHandleTypeFlags,
) (Allocation, error) {
	memoryTypeIndex, err := allocator.FindMemoryTypeIndex(requirements.MemoryTypeBits, memory.MemoryUsageGPUOnly)
	if err != nil {
		if !errors.Is(err, memory.ErrNoSuitableMemoryType) {
			err = errors.Mark(err, memory.ErrNoSuitableMemoryType)
		}
		return nil, &AllocationError{Cause: err}
	}

	alloc, err := allocator.AllocateDedicated(memoryTypeIndex, requirements.Size, raw, handleTypes)
	if err != nil {
		return nil, &AllocationError{Cause: err}
	}

	return alloc, nil
}

// checkAllocation panics if an allocator handed out memory that does not match what the driver
// asked for
func checkAllocation(alloc Allocation, requirements vulkan.MemoryRequirements) {
	if requirements.Alignment > 0 && alloc.Offset()%requirements.Alignment != 0 {
		panic(fmt.Sprintf("allocator returned an allocation at offset %d, which does not satisfy the required alignment %d", alloc.Offset(), requirements.Alignment))
	}

	if alloc.Size() != requirements.Size {
		panic(fmt.Sprintf("allocator returned an allocation of size %d for an image that requires %d bytes", alloc.Size(), requirements.Size))
	}
}
