package memory

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// AllocationCreateInfo describes a request for memory to be bound to a resource
type AllocationCreateInfo struct {
	// Requirements are the driver-reported requirements of the resource
	Requirements vulkan.MemoryRequirements
	// AllocationType is the memory layout of the resource
	AllocationType AllocationType
	// Usage selects the memory type
	Usage MemoryUsage
	// MemoryTypeBits, if nonzero, further restricts Requirements.MemoryTypeBits
	MemoryTypeBits uint32
	// AllocatePreference controls whether new device memory may be allocated
	AllocatePreference AllocatePreference
	// DedicatedImage is passed to the device if the allocation ends up in dedicated memory. It
	// may be nil.
	DedicatedImage vulkan.RawImage

	Name     string
	UserData any
}

// AllocatorStatistics is filled by Allocator.CalculateStatistics
type AllocatorStatistics struct {
	MemoryTypes [common.MaxMemoryTypes]suballoc.DetailedStatistics
	MemoryHeaps [common.MaxMemoryHeaps]suballoc.DetailedStatistics
	Total       suballoc.DetailedStatistics
}

// Allocator hands out device memory for resources. Small allocations are suballocated from
// large blocks of device memory, one list of blocks per memory type. Large allocations, and
// allocations that the driver asks for, get a dedicated block of device memory of their own.
type Allocator struct {
	useMutex bool
	logger   *slog.Logger
	device   vulkan.Device

	createFlags CreateFlags

	preferredLargeHeapBlockSize int
	globalMemoryTypeBits        uint32

	deviceMemory         *deviceMemoryProperties
	memoryBlockLists     [common.MaxMemoryTypes]*memoryBlockList
	dedicatedAllocations [common.MaxMemoryTypes]*dedicatedAllocationList
}

func (a *Allocator) Device() vulkan.Device {
	return a.device
}

// FindMemoryTypeIndex returns the memory type among memoryTypeBits that best matches usage
func (a *Allocator) FindMemoryTypeIndex(memoryTypeBits uint32, usage MemoryUsage) (int, error) {
	a.logger.Debug("Allocator::FindMemoryTypeIndex")

	return a.findMemoryTypeIndex(memoryTypeBits, usage)
}

func (a *Allocator) findMemoryTypeIndex(memoryTypeBits uint32, usage MemoryUsage) (int, error) {
	memoryTypeBits &= a.globalMemoryTypeBits

	requiredFlags, preferredFlags, notPreferredFlags := usage.memoryPreferences()

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex := 0; memTypeIndex < a.deviceMemory.MemoryTypeCount(); memTypeIndex++ {
		memTypeBit := uint32(1 << memTypeIndex)

		if memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := a.deviceMemory.MemoryTypeProperties(memTypeIndex).PropertyFlags
		if requiredFlags&flags != requiredFlags {
			// This memory type is missing required flags
			continue
		}

		missingPreferredFlags := preferredFlags & ^flags
		presentNotPreferredFlags := notPreferredFlags & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex, nil
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	if bestMemoryTypeIndex < 0 {
		return -1, errors.Wrapf(ErrNoSuitableMemoryType, "memory type bits %#x, usage %s", memoryTypeBits, usage)
	}

	return bestMemoryTypeIndex, nil
}

// Allocate finds memory for a resource with the provided requirements. The allocation may come
// from a shared block or from dedicated memory, depending on the driver's preferences and the
// size of the request.
func (a *Allocator) Allocate(o AllocationCreateInfo) (*Allocation, error) {
	a.logger.Debug("Allocator::Allocate")

	requirements := o.Requirements
	err := suballoc.CheckPow2(requirements.Alignment, "MemoryRequirements.Alignment")
	if err != nil {
		return nil, err
	}

	if requirements.Size < 1 {
		return nil, errors.Newf("memory requirement size %d was not a positive integer", requirements.Size)
	}

	if requirements.RequiresDedicated && o.AllocatePreference == AllocatePreferenceNeverAllocate {
		return nil, errors.New("the resource requires a dedicated allocation, but AllocatePreferenceNeverAllocate was specified")
	}

	requiresDedicated := requirements.RequiresDedicated || o.AllocatePreference == AllocatePreferenceAlwaysAllocate

	memoryBits := requirements.MemoryTypeBits
	if o.MemoryTypeBits != 0 {
		memoryBits &= o.MemoryTypeBits
	}

	memoryTypeIndex, err := a.findMemoryTypeIndex(memoryBits, o.Usage)
	if err != nil {
		return nil, err
	}

	for {
		alloc, allocErr := a.allocateMemoryOfType(
			requirements.Size,
			uint(requirements.Alignment),
			requiresDedicated,
			requirements.PrefersDedicated,
			&o,
			memoryTypeIndex,
		)
		if allocErr == nil {
			return alloc, nil
		}

		// Remove memory type index from possibilities
		memoryBits &= ^(1 << memoryTypeIndex)

		memoryTypeIndex, err = a.findMemoryTypeIndex(memoryBits, o.Usage)
		if err != nil {
			a.logger.Debug("  Allocator::Allocate FAILED", slog.Any("error", allocErr))
			return nil, allocErr
		}
	}
}

// AllocateDedicated allocates a block of device memory of exactly size bytes from the provided
// memory type. If dedicatedImage is not nil, the memory may only ever be bound to that image.
// If exportHandleTypes is not 0, the memory is exportable as those handle types.
func (a *Allocator) AllocateDedicated(
	memoryTypeIndex int,
	size int,
	dedicatedImage vulkan.RawImage,
	exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags,
) (*Allocation, error) {
	a.logger.Debug("Allocator::AllocateDedicated")

	if memoryTypeIndex < 0 || memoryTypeIndex >= a.deviceMemory.MemoryTypeCount() || a.dedicatedAllocations[memoryTypeIndex] == nil {
		return nil, errors.Newf("attempted to allocate from unsupported memory type index %d", memoryTypeIndex)
	}
	if size < 1 {
		return nil, errors.Newf("dedicated allocation size %d was not a positive integer", size)
	}

	suballocType := suballoc.SuballocationUnknown
	if dedicatedImage != nil {
		suballocType = suballoc.SuballocationImageOptimal
	}

	return a.allocateDedicatedMemory(
		size,
		suballocType,
		a.dedicatedAllocations[memoryTypeIndex],
		memoryTypeIndex,
		dedicatedImage,
		exportHandleTypes,
		"",
		nil,
	)
}

func (a *Allocator) allocateMemoryOfType(
	size int,
	alignment uint,
	requiresDedicated bool,
	dedicatedPreferred bool,
	createInfo *AllocationCreateInfo,
	memoryTypeIndex int,
) (*Allocation, error) {
	if createInfo == nil {
		panic("allocateMemoryOfType called with a nil createInfo")
	}

	a.logger.Debug("Allocator::allocateMemoryOfType", slog.Int("MemoryTypeIndex", memoryTypeIndex), slog.Int("Size", size))

	blockList := a.memoryBlockLists[memoryTypeIndex]
	if blockList == nil {
		return nil, errors.Newf("attempted to allocate from unsupported memory type index %d", memoryTypeIndex)
	}
	dedicatedAllocations := a.dedicatedAllocations[memoryTypeIndex]
	suballocType := createInfo.AllocationType.suballocationType()
	exportHandleTypes := a.deviceMemory.ExternalMemoryTypes(memoryTypeIndex)

	if requiresDedicated {
		return a.allocateDedicatedMemory(
			size,
			suballocType,
			dedicatedAllocations,
			memoryTypeIndex,
			createInfo.DedicatedImage,
			exportHandleTypes,
			createInfo.Name,
			createInfo.UserData,
		)
	}

	canAllocateDedicated := createInfo.AllocatePreference != AllocatePreferenceNeverAllocate

	if canAllocateDedicated {
		// Allocate dedicated memory if requested size is more than half of preferred block size
		if size > blockList.PreferredBlockSize()/2 {
			dedicatedPreferred = true
		}

		// Don't create every allocation as dedicated when nearing the maximum number of allocations
		maxAllocationCount := a.deviceMemory.DeviceProperties().Limits.MaxMemoryAllocationCount
		if maxAllocationCount > 0 && maxAllocationCount < math.MaxUint32/4 &&
			a.deviceMemory.AllocationCount() > uint32(maxAllocationCount*3/4) {
			dedicatedPreferred = false
		}

		if dedicatedPreferred {
			alloc, err := a.allocateDedicatedMemory(
				size,
				suballocType,
				dedicatedAllocations,
				memoryTypeIndex,
				createInfo.DedicatedImage,
				exportHandleTypes,
				createInfo.Name,
				createInfo.UserData,
			)
			if err == nil {
				a.logger.Debug("  Allocated as DedicatedMemory")
				return alloc, nil
			}
		}
	}

	alloc, err := blockList.Allocate(size, alignment, createInfo, suballocType)
	if err == nil {
		return alloc, nil
	}

	// Try dedicated memory
	if canAllocateDedicated && !dedicatedPreferred {
		alloc, dedicatedErr := a.allocateDedicatedMemory(
			size,
			suballocType,
			dedicatedAllocations,
			memoryTypeIndex,
			createInfo.DedicatedImage,
			exportHandleTypes,
			createInfo.Name,
			createInfo.UserData,
		)
		if dedicatedErr == nil {
			a.logger.Debug("  Allocated as DedicatedMemory")
			return alloc, nil
		}
	}

	a.logger.Debug("  AllocateMemory FAILED")
	return nil, err
}

func (a *Allocator) allocateDedicatedMemory(
	size int,
	suballocationType suballoc.SuballocationType,
	dedicatedAllocations *dedicatedAllocationList,
	memoryTypeIndex int,
	dedicatedImage vulkan.RawImage,
	exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags,
	name string,
	userData any,
) (*Allocation, error) {
	allocInfo := vulkan.MemoryAllocateInfo{
		MemoryTypeIndex:   memoryTypeIndex,
		AllocationSize:    size,
		DedicatedImage:    dedicatedImage,
		ExportHandleTypes: exportHandleTypes,
	}

	mem, err := a.deviceMemory.AllocateVulkanMemory(allocInfo)
	if err != nil {
		a.logger.Debug("    Allocator::allocateDedicatedMemory FAILED")
		return nil, err
	}

	alloc := &Allocation{}
	alloc.init(a)
	alloc.initDedicatedAllocation(memoryTypeIndex, mem, suballocationType, size, exportHandleTypes)
	alloc.SetName(name)
	alloc.SetUserData(userData)

	a.deviceMemory.AddAllocation(a.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex), size)
	dedicatedAllocations.Register(alloc)

	a.logger.Debug("    Allocated DedicatedMemory", slog.Int("MemoryTypeIndex", memoryTypeIndex))

	return alloc, nil
}

func (a *Allocator) freeMemory(alloc *Allocation) error {
	switch alloc.allocationType {
	case allocationTypeBlock:
		blockList := a.memoryBlockLists[alloc.memoryTypeIndex]
		err := blockList.Free(alloc)
		if err != nil {
			return err
		}
		alloc.blockData.block = nil
		alloc.blockData.handle = suballoc.NoAllocation
	case allocationTypeDedicated:
		a.freeDedicatedMemory(alloc)
		alloc.dedicatedData.memory = nil
	default:
		return ErrAllocationFreed
	}

	alloc.allocationType = allocationTypeNone
	return nil
}

func (a *Allocator) freeDedicatedMemory(alloc *Allocation) {
	memoryTypeIndex := alloc.MemoryTypeIndex()
	heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(memoryTypeIndex)

	a.dedicatedAllocations[memoryTypeIndex].Unregister(alloc)
	a.deviceMemory.FreeVulkanMemory(memoryTypeIndex, alloc.Size(), alloc.dedicatedData.memory)
	a.deviceMemory.RemoveAllocation(heapIndex, alloc.Size())
}

// CalculateStatistics fills stats with the state of every block and allocation. It is
// relatively slow and should not be called every frame.
func (a *Allocator) CalculateStatistics(stats *AllocatorStatistics) {
	a.logger.Debug("Allocator::CalculateStatistics")

	stats.Total.Clear()
	for typeIndex := 0; typeIndex < common.MaxMemoryTypes; typeIndex++ {
		stats.MemoryTypes[typeIndex].Clear()
	}
	for heapIndex := 0; heapIndex < common.MaxMemoryHeaps; heapIndex++ {
		stats.MemoryHeaps[heapIndex].Clear()
	}

	typeCount := a.deviceMemory.MemoryTypeCount()
	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		if a.memoryBlockLists[typeIndex] != nil {
			a.memoryBlockLists[typeIndex].AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
		}
		if a.dedicatedAllocations[typeIndex] != nil {
			a.dedicatedAllocations[typeIndex].AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
		}
	}

	for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
		heapIndex := a.deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex)
		stats.MemoryHeaps[heapIndex].AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
	}

	heapCount := a.deviceMemory.MemoryHeapCount()
	for heapIndex := 0; heapIndex < heapCount; heapIndex++ {
		stats.Total.AddDetailedStatistics(&stats.MemoryHeaps[heapIndex])
	}
}

// HeapBudgets fills budgets with the usage of consecutive memory heaps, starting at firstHeap
func (a *Allocator) HeapBudgets(firstHeap int, budgets []Budget) {
	a.logger.Debug("Allocator::HeapBudgets")

	for i := 0; i < len(budgets); i++ {
		a.deviceMemory.HeapBudget(firstHeap+i, &budgets[i])
	}
}

// BuildStatsString returns a json document describing the allocator's heaps, memory types,
// and optionally every block and allocation
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	a.logger.Debug("Allocator::BuildStatsString")

	var stats AllocatorStatistics
	a.CalculateStatistics(&stats)

	heapCount := a.deviceMemory.MemoryHeapCount()
	typeCount := a.deviceMemory.MemoryTypeCount()

	budgets := make([]Budget, heapCount)
	a.HeapBudgets(0, budgets)

	writer := jwriter.NewWriter()
	root := writer.Object()

	general := root.Name("General").Object()
	limits := a.deviceMemory.DeviceProperties().Limits
	general.Name("BufferImageGranularity").Int(limits.BufferImageGranularity)
	general.Name("MaxMemoryAllocationCount").Int(limits.MaxMemoryAllocationCount)
	general.Name("MemoryHeapCount").Int(heapCount)
	general.Name("MemoryTypeCount").Int(typeCount)
	general.End()

	total := root.Name("Total").Object()
	stats.Total.PrintJson(total)
	total.End()

	memoryInfo := root.Name("MemoryInfo").Object()
	for heapIndex := 0; heapIndex < heapCount; heapIndex++ {
		heap := a.deviceMemory.MemoryHeapProperties(heapIndex)

		heapInfo := memoryInfo.Name(fmt.Sprintf("Heap %d", heapIndex)).Object()
		heapInfo.Name("Flags").String(heap.Flags.String())
		heapInfo.Name("Size").Int(heap.Size)

		budget := heapInfo.Name("Budget").Object()
		budget.Name("BudgetBytes").Int(budgets[heapIndex].Budget)
		budget.Name("UsageBytes").Int(budgets[heapIndex].Usage)
		budget.End()

		heapStats := heapInfo.Name("Stats").Object()
		stats.MemoryHeaps[heapIndex].PrintJson(heapStats)
		heapStats.End()

		memoryPools := heapInfo.Name("MemoryPools").Object()
		for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
			if a.deviceMemory.MemoryTypeIndexToHeapIndex(typeIndex) != heapIndex {
				continue
			}

			typeInfo := memoryPools.Name(fmt.Sprintf("Type %d", typeIndex)).Object()
			typeInfo.Name("Flags").String(a.deviceMemory.MemoryTypeProperties(typeIndex).PropertyFlags.String())

			typeStats := typeInfo.Name("Stats").Object()
			stats.MemoryTypes[typeIndex].PrintJson(typeStats)
			typeStats.End()

			typeInfo.End()
		}
		memoryPools.End()

		heapInfo.End()
	}
	memoryInfo.End()

	if detailedMap {
		defaultPools := root.Name("DefaultPools").Object()
		for typeIndex := 0; typeIndex < typeCount; typeIndex++ {
			blockList := a.memoryBlockLists[typeIndex]
			if blockList == nil {
				continue
			}

			typeInfo := defaultPools.Name(fmt.Sprintf("Type %d", typeIndex)).Object()
			typeInfo.Name("PreferredBlockSize").Int(blockList.PreferredBlockSize())

			blocks := typeInfo.Name("Blocks").Object()
			blockList.PrintDetailedMap(blocks)
			blocks.End()

			a.dedicatedAllocations[typeIndex].BuildStatsString(&typeInfo)
			typeInfo.End()
		}
		defaultPools.End()
	}

	root.End()
	return string(writer.Bytes())
}

// Validate checks the consistency of every block and dedicated allocation list
func (a *Allocator) Validate() error {
	for typeIndex := 0; typeIndex < a.deviceMemory.MemoryTypeCount(); typeIndex++ {
		if a.memoryBlockLists[typeIndex] != nil {
			err := a.memoryBlockLists[typeIndex].Validate()
			if err != nil {
				return err
			}
		}

		if a.dedicatedAllocations[typeIndex] != nil {
			err := a.dedicatedAllocations[typeIndex].Validate()
			if err != nil {
				return errors.Wrapf(err, "memory type %d", typeIndex)
			}
		}
	}

	return nil
}

// Destroy frees all device memory owned by the allocator. Allocations that have not been freed
// are logged and cause an error to be returned, and their memory is not freed.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	var destroyErr error
	for typeIndex := 0; typeIndex < a.deviceMemory.MemoryTypeCount(); typeIndex++ {
		dedicated := a.dedicatedAllocations[typeIndex]
		if dedicated != nil && !dedicated.IsEmpty() {
			dedicated.logUnreleased(func(alloc *Allocation) {
				name := alloc.Name()
				if name == "" {
					name = "empty"
				}

				a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed dedicated allocation",
					slog.Int("memoryTypeIndex", typeIndex),
					slog.Int("size", alloc.Size()),
					slog.Any("userData", alloc.UserData()),
					slog.String("name", name),
				)
			})
			destroyErr = errors.CombineErrors(destroyErr, errors.Newf("dedicated allocations of memory type %d were not freed before the allocator was destroyed", typeIndex))
		}

		if a.memoryBlockLists[typeIndex] != nil {
			err := a.memoryBlockLists[typeIndex].Destroy()
			if err != nil {
				destroyErr = errors.CombineErrors(destroyErr, errors.Wrapf(err, "memory type %d", typeIndex))
			}
		}
	}

	return destroyErr
}
