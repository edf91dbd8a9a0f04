package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Budget reports the allocator's usage of a single memory heap
type Budget struct {
	Statistics suballoc.Statistics
	// Usage is the number of bytes of device memory allocated from the heap
	Usage int
	// Budget is the number of bytes the allocator is willing to allocate from the heap
	Budget int
}

type deviceMemoryProperties struct {
	// Number of real allocations that have been made from device memory
	blockCount [common.MaxMemoryHeaps]int32
	// Number of allocations handed out, dedicated allocations + block suballocations
	allocationCount [common.MaxMemoryHeaps]int32
	// Size of real allocations that have been made from device memory
	blockBytes [common.MaxMemoryHeaps]int64
	// Size of allocations handed out, dedicated allocations + block suballocations
	allocationBytes [common.MaxMemoryHeaps]int64

	memoryCallbacks *memoryCallbacks
	memoryCount     uint32
	heapLimits      []int

	device                    vulkan.Device
	deviceProperties          *core1_0.PhysicalDeviceProperties
	memoryProperties          *core1_0.PhysicalDeviceMemoryProperties
	externalMemoryHandleTypes []vulkan.ExternalMemoryHandleTypeFlags
}

func newDeviceMemoryProperties(
	memoryCallbacks *memoryCallbacks,
	device vulkan.Device,
	heapSizeLimits []int,
	externalMemoryHandleTypes []vulkan.ExternalMemoryHandleTypeFlags,
) (*deviceMemoryProperties, error) {
	properties := &deviceMemoryProperties{
		memoryCallbacks: memoryCallbacks,
		device:          device,
	}

	physicalDevice := device.PhysicalDevice()

	var err error
	properties.deviceProperties, err = physicalDevice.Properties()
	if err != nil {
		return nil, errors.Wrap(err, "failed to retrieve physical device properties")
	}
	if properties.deviceProperties.Limits == nil {
		return nil, errors.New("physical device properties did not include device limits")
	}

	properties.memoryProperties = physicalDevice.MemoryProperties()
	if properties.memoryProperties == nil {
		return nil, errors.New("physical device did not report memory properties")
	}

	err = suballoc.CheckPow2(properties.deviceProperties.Limits.BufferImageGranularity, "device bufferImageGranularity")
	if err != nil {
		return nil, err
	}

	heapCount := properties.MemoryHeapCount()
	typeCount := properties.MemoryTypeCount()

	if len(heapSizeLimits) > 0 && len(heapSizeLimits) != heapCount {
		return nil, errors.Newf("memory.CreateOptions.HeapSizeLimits has %d entries, but the physical device has %d memory heaps", len(heapSizeLimits), heapCount)
	}

	if len(externalMemoryHandleTypes) > 0 && len(externalMemoryHandleTypes) != typeCount {
		return nil, errors.Newf("memory.CreateOptions.ExternalMemoryHandleTypes has %d entries, but the physical device has %d memory types", len(externalMemoryHandleTypes), typeCount)
	}

	properties.heapLimits = heapSizeLimits
	properties.externalMemoryHandleTypes = externalMemoryHandleTypes

	return properties, nil
}

func (m *deviceMemoryProperties) MemoryTypeCount() int {
	return len(m.memoryProperties.MemoryTypes)
}

func (m *deviceMemoryProperties) MemoryHeapCount() int {
	return len(m.memoryProperties.MemoryHeaps)
}

func (m *deviceMemoryProperties) MemoryTypeIndexToHeapIndex(memTypeIndex int) int {
	return m.memoryProperties.MemoryTypes[memTypeIndex].HeapIndex
}

func (m *deviceMemoryProperties) MemoryTypeProperties(memoryTypeIndex int) core1_0.MemoryType {
	return m.memoryProperties.MemoryTypes[memoryTypeIndex]
}

func (m *deviceMemoryProperties) MemoryHeapProperties(heapIndex int) core1_0.MemoryHeap {
	return m.memoryProperties.MemoryHeaps[heapIndex]
}

func (m *deviceMemoryProperties) DeviceProperties() *core1_0.PhysicalDeviceProperties {
	return m.deviceProperties
}

func (m *deviceMemoryProperties) MemoryTypeMinimumAlignment(memTypeIndex int) uint {
	if !m.IsMemoryTypeHostNonCoherent(memTypeIndex) {
		return 1
	}

	alignment := uint(m.deviceProperties.Limits.NonCoherentAtomSize)
	if alignment < 1 {
		return 1
	}
	return alignment
}

func (m *deviceMemoryProperties) IsMemoryTypeHostNonCoherent(memoryTypeIndex int) bool {
	flags := m.memoryProperties.MemoryTypes[memoryTypeIndex].PropertyFlags

	return flags&(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent) == core1_0.MemoryPropertyHostVisible
}

func (m *deviceMemoryProperties) ExternalMemoryTypes(memoryTypeIndex int) vulkan.ExternalMemoryHandleTypeFlags {
	if len(m.externalMemoryHandleTypes) == 0 {
		return 0
	}

	return m.externalMemoryHandleTypes[memoryTypeIndex]
}

func (m *deviceMemoryProperties) CalculateGlobalMemoryTypeBits() uint32 {
	var typeBits uint32

	memTypeCount := len(m.memoryProperties.MemoryTypes)
	for memoryTypeIndex := 0; memoryTypeIndex < memTypeCount; memoryTypeIndex++ {
		typeBits |= 1 << memoryTypeIndex
	}

	return typeBits
}

func (m *deviceMemoryProperties) CalculateBufferImageGranularity() int {
	granularity := m.deviceProperties.Limits.BufferImageGranularity

	if granularity < 1 {
		return 1
	}
	return granularity
}

func (m *deviceMemoryProperties) AllocationCount() uint32 {
	return atomic.LoadUint32(&m.memoryCount)
}

// heapLimit returns the most bytes that may be allocated from a heap, or 0 if the heap is only
// limited by the device
func (m *deviceMemoryProperties) heapLimit(heapIndex int) int {
	if len(m.heapLimits) == 0 || m.heapLimits[heapIndex] <= 0 {
		return 0
	}

	limit := m.heapLimits[heapIndex]
	heapSize := m.memoryProperties.MemoryHeaps[heapIndex].Size
	if heapSize < limit {
		limit = heapSize
	}
	return limit
}

func (m *deviceMemoryProperties) addBlockAllocation(heapIndex int, allocationSize int) {
	atomic.AddInt64(&m.blockBytes[heapIndex], int64(allocationSize))
	atomic.AddInt32(&m.blockCount[heapIndex], 1)
}

func (m *deviceMemoryProperties) addBlockAllocationWithBudget(heapIndex, allocationSize, maxAllocatable int) error {
	for {
		currentVal := atomic.LoadInt64(&m.blockBytes[heapIndex])
		targetVal := currentVal + int64(allocationSize)

		if targetVal > int64(maxAllocatable) {
			return errors.Wrapf(ErrOutOfDeviceMemory, "allocating %d bytes would exceed the %d byte limit of heap %d", allocationSize, maxAllocatable, heapIndex)
		}

		if atomic.CompareAndSwapInt64(&m.blockBytes[heapIndex], currentVal, targetVal) {
			break
		}
	}

	atomic.AddInt32(&m.blockCount[heapIndex], 1)
	return nil
}

func (m *deviceMemoryProperties) removeBlockAllocation(heapIndex, allocationSize int) {
	newVal := atomic.AddInt64(&m.blockBytes[heapIndex], int64(-allocationSize))
	if newVal < 0 {
		panic(fmt.Sprintf("block bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.blockCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("block count for heapIndex %d went negative", heapIndex))
	}
}

func (m *deviceMemoryProperties) AllocateVulkanMemory(allocateInfo vulkan.MemoryAllocateInfo) (mem vulkan.DeviceMemory, err error) {
	newDeviceCount := atomic.AddUint32(&m.memoryCount, 1)
	defer func() {
		if err != nil {
			// Decrement
			atomic.AddUint32(&m.memoryCount, ^uint32(0))
		}
	}()

	maxCount := m.deviceProperties.Limits.MaxMemoryAllocationCount
	if maxCount > 0 && int(newDeviceCount) > maxCount {
		return nil, errors.Wrapf(ErrTooManyObjects, "the device supports at most %d memory allocations", maxCount)
	}

	heapIndex := m.MemoryTypeIndexToHeapIndex(allocateInfo.MemoryTypeIndex)
	heapLimit := m.heapLimit(heapIndex)
	if heapLimit == 0 {
		m.addBlockAllocation(heapIndex, allocateInfo.AllocationSize)
	} else {
		err = m.addBlockAllocationWithBudget(heapIndex, allocateInfo.AllocationSize, heapLimit)
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			m.removeBlockAllocation(heapIndex, allocateInfo.AllocationSize)
		}
	}()

	mem, err = m.device.AllocateMemory(allocateInfo)
	if err != nil {
		return nil, err
	}

	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Allocate(allocateInfo.MemoryTypeIndex, mem, allocateInfo.AllocationSize)
	}

	return mem, nil
}

func (m *deviceMemoryProperties) FreeVulkanMemory(memoryType int, size int, memory vulkan.DeviceMemory) {
	if m.memoryCallbacks != nil {
		m.memoryCallbacks.Free(memoryType, memory, size)
	}

	memory.Free()

	heapIndex := m.MemoryTypeIndexToHeapIndex(memoryType)
	m.removeBlockAllocation(heapIndex, size)
	// Decrement
	atomic.AddUint32(&m.memoryCount, ^uint32(0))
}

func (m *deviceMemoryProperties) AddAllocation(heapIndex int, size int) {
	atomic.AddInt64(&m.allocationBytes[heapIndex], int64(size))
	atomic.AddInt32(&m.allocationCount[heapIndex], 1)
}

func (m *deviceMemoryProperties) RemoveAllocation(heapIndex int, size int) {
	newSizeVal := atomic.AddInt64(&m.allocationBytes[heapIndex], int64(-size))
	if newSizeVal < 0 {
		panic(fmt.Sprintf("allocation bytes for heapIndex %d went negative", heapIndex))
	}

	newCountVal := atomic.AddInt32(&m.allocationCount[heapIndex], -1)
	if newCountVal < 0 {
		panic(fmt.Sprintf("allocation count for heapIndex %d went negative", heapIndex))
	}
}

func (m *deviceMemoryProperties) HeapBudget(heapIndex int, budget *Budget) {
	budget.Statistics.BlockCount = int(atomic.LoadInt32(&m.blockCount[heapIndex]))
	budget.Statistics.AllocationCount = int(atomic.LoadInt32(&m.allocationCount[heapIndex]))
	budget.Statistics.BlockBytes = int(atomic.LoadInt64(&m.blockBytes[heapIndex]))
	budget.Statistics.AllocationBytes = int(atomic.LoadInt64(&m.allocationBytes[heapIndex]))

	budget.Usage = budget.Statistics.BlockBytes

	limit := m.heapLimit(heapIndex)
	if limit > 0 {
		budget.Budget = limit
	} else {
		budget.Budget = m.memoryProperties.MemoryHeaps[heapIndex].Size * 8 / 10
	}
}
