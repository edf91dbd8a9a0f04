package memory

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfDeviceMemory is returned when a heap limit or the device itself cannot provide the
	// memory for an allocation
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	// ErrNoSuitableMemoryType is returned when no memory type satisfies both the resource's
	// memory type bits and the required property flags of the MemoryUsage
	ErrNoSuitableMemoryType = errors.New("no suitable memory type")
	// ErrTooManyObjects is returned when a new block of device memory would exceed the device's
	// maxMemoryAllocationCount
	ErrTooManyObjects = errors.New("too many device memory objects")
	// ErrAllocationFreed is returned when an Allocation is freed twice
	ErrAllocationFreed = errors.New("allocation has already been freed")
)
