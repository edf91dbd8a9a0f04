package memory

import (
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all objects created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

// MemoryUsage describes how an allocation will be accessed, which the allocator uses to pick
// a memory type
type MemoryUsage uint32

const (
	// MemoryUsageUnknown places no requirements or preferences on the memory type
	MemoryUsageUnknown MemoryUsage = iota
	// MemoryUsageGPUOnly prefers device-local memory that the host cannot see
	MemoryUsageGPUOnly
	// MemoryUsageUpload requires host-visible memory and prefers memory that is also device-local
	MemoryUsageUpload
	// MemoryUsageDownload requires host-visible memory and prefers memory that is host-cached
	MemoryUsageDownload
)

var memoryUsageMapping = map[MemoryUsage]string{
	MemoryUsageUnknown:  "MemoryUsageUnknown",
	MemoryUsageGPUOnly:  "MemoryUsageGPUOnly",
	MemoryUsageUpload:   "MemoryUsageUpload",
	MemoryUsageDownload: "MemoryUsageDownload",
}

func (u MemoryUsage) String() string {
	str, ok := memoryUsageMapping[u]
	if !ok {
		return "unknown MemoryUsage"
	}
	return str
}

func (u MemoryUsage) memoryPreferences() (requiredFlags, preferredFlags, notPreferredFlags core1_0.MemoryPropertyFlags) {
	switch u {
	case MemoryUsageGPUOnly:
		preferredFlags |= core1_0.MemoryPropertyDeviceLocal
		notPreferredFlags |= core1_0.MemoryPropertyHostVisible
	case MemoryUsageUpload:
		requiredFlags |= core1_0.MemoryPropertyHostVisible
		preferredFlags |= core1_0.MemoryPropertyDeviceLocal
		notPreferredFlags |= core1_0.MemoryPropertyHostCached
	case MemoryUsageDownload:
		requiredFlags |= core1_0.MemoryPropertyHostVisible
		preferredFlags |= core1_0.MemoryPropertyHostCached
	}

	return requiredFlags, preferredFlags, notPreferredFlags
}

// AllocationType is the memory layout of the resource that will be bound to an allocation.
// Linear and non-linear resources may not share a buffer-image granularity page.
type AllocationType uint32

const (
	AllocationTypeUnknown AllocationType = iota
	AllocationTypeLinear
	AllocationTypeNonLinear
)

var allocationTypeMapping = map[AllocationType]string{
	AllocationTypeUnknown:   "AllocationTypeUnknown",
	AllocationTypeLinear:    "AllocationTypeLinear",
	AllocationTypeNonLinear: "AllocationTypeNonLinear",
}

func (t AllocationType) String() string {
	str, ok := allocationTypeMapping[t]
	if !ok {
		return "unknown AllocationType"
	}
	return str
}

func (t AllocationType) suballocationType() suballoc.SuballocationType {
	switch t {
	case AllocationTypeLinear:
		return suballoc.SuballocationBuffer
	case AllocationTypeNonLinear:
		return suballoc.SuballocationImageOptimal
	}

	return suballoc.SuballocationUnknown
}

// AllocatePreference controls whether the allocator may create a new block of device memory to
// satisfy a request
type AllocatePreference uint32

const (
	// AllocatePreferenceUnknown lets the allocator decide between existing blocks, new blocks,
	// and dedicated memory
	AllocatePreferenceUnknown AllocatePreference = iota
	// AllocatePreferenceNeverAllocate only allows the allocation to be placed in existing blocks
	AllocatePreferenceNeverAllocate
	// AllocatePreferenceAlwaysAllocate always gives the allocation its own dedicated memory
	AllocatePreferenceAlwaysAllocate
)

var allocatePreferenceMapping = map[AllocatePreference]string{
	AllocatePreferenceUnknown:        "AllocatePreferenceUnknown",
	AllocatePreferenceNeverAllocate:  "AllocatePreferenceNeverAllocate",
	AllocatePreferenceAlwaysAllocate: "AllocatePreferenceAlwaysAllocate",
}

func (p AllocatePreference) String() string {
	str, ok := allocatePreferenceMapping[p]
	if !ok {
		return "unknown AllocatePreference"
	}
	return str
}
