package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"golang.org/x/exp/slog"
)

const (
	// defaultLargeHeapBlockSize is the value that is used as the PreferredLargeHeapBlockSize when none
	// is provided via CreateOptions. It is equal to 256Mb.
	defaultLargeHeapBlockSize int = 256 * 1024 * 1024

	smallHeapMaxSize int = 1024 * 1024 * 1024 // 1 GB
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// PreferredLargeHeapBlockSize is the block size to use when allocating from heaps larger
	// than a gigabyte
	PreferredLargeHeapBlockSize int

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when device memory
	// is allocated or freed by this allocator
	MemoryCallbackOptions *MemoryCallbackOptions

	// HeapSizeLimits can be left empty. If it is provided, it must have one entry per memory heap
	// of the physical device. Each entry is the maximum number of bytes that may be allocated
	// from the corresponding heap, or -1 for no limit.
	//
	// Limits are enforced at runtime: allocations beyond a limit fail with ErrOutOfDeviceMemory.
	HeapSizeLimits []int

	// ExternalMemoryHandleTypes can be left empty. If it is provided, it must have one entry per
	// memory type of the physical device. Each entry is either 0, or the handle types that every
	// block of pooled memory of that type should be exportable as.
	ExternalMemoryHandleTypes []vulkan.ExternalMemoryHandleTypeFlags
}

// New creates a new Allocator
//
// device - The Device that memory will be allocated from
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, device vulkan.Device, options CreateOptions) (*Allocator, error) {
	if device == nil {
		return nil, errors.New("attempted to create an allocator with a nil device")
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		useMutex:    useMutex,
		logger:      logger,
		device:      device,
		createFlags: options.Flags,
	}

	if options.PreferredLargeHeapBlockSize == 0 {
		allocator.preferredLargeHeapBlockSize = defaultLargeHeapBlockSize
	} else {
		allocator.preferredLargeHeapBlockSize = options.PreferredLargeHeapBlockSize
	}

	var err error
	allocator.deviceMemory, err = newDeviceMemoryProperties(
		&memoryCallbacks{
			Callbacks: options.MemoryCallbackOptions,
			Allocator: allocator,
		},
		device,
		options.HeapSizeLimits,
		options.ExternalMemoryHandleTypes,
	)
	if err != nil {
		return nil, err
	}

	allocator.globalMemoryTypeBits = allocator.deviceMemory.CalculateGlobalMemoryTypeBits()

	// Initialize memory block lists
	typeCount := allocator.deviceMemory.MemoryTypeCount()
	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		if allocator.globalMemoryTypeBits&(1<<typeIndex) == 0 {
			continue
		}

		preferredBlockSize := allocator.calculatePreferredBlockSize(typeIndex)

		allocator.memoryBlockLists[typeIndex] = &memoryBlockList{}
		allocator.memoryBlockLists[typeIndex].Init(
			useMutex,
			allocator,
			typeIndex,
			preferredBlockSize,
			allocator.deviceMemory.CalculateBufferImageGranularity(),
			allocator.deviceMemory.MemoryTypeMinimumAlignment(typeIndex),
			allocator.deviceMemory.ExternalMemoryTypes(typeIndex),
		)

		allocator.dedicatedAllocations[typeIndex] = &dedicatedAllocationList{}
		allocator.dedicatedAllocations[typeIndex].Init(useMutex)
	}

	return allocator, nil
}

func (a *Allocator) calculatePreferredBlockSize(memTypeIndex int) int {
	heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(memTypeIndex)

	heapSize := a.deviceMemory.MemoryHeapProperties(heapIndex).Size
	rawSize := a.preferredLargeHeapBlockSize
	if heapSize <= smallHeapMaxSize {
		rawSize = heapSize / 8
	}

	return suballoc.AlignUp(rawSize, 32)
}
