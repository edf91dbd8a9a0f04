package memory

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/imageres/internal/fakes"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"golang.org/x/exp/slog"
)

const testBlockSize = 16 * 1024 * 1024

func readyAllocator(t *testing.T, options CreateOptions) (*fakes.Device, *Allocator) {
	device := fakes.NewDevice()

	logger := slog.New(slog.NewTextHandler(io.Discard))
	allocator, err := New(logger, device, options)
	require.NoError(t, err)

	return device, allocator
}

func imageRequirements(size int, alignment int) AllocationCreateInfo {
	var createInfo AllocationCreateInfo
	createInfo.Requirements.Size = size
	createInfo.Requirements.Alignment = alignment
	createInfo.Requirements.MemoryTypeBits = 0b11
	createInfo.AllocationType = AllocationTypeNonLinear
	createInfo.Usage = MemoryUsageGPUOnly

	return createInfo
}

func TestNew_NilDevice(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard))
	_, err := New(logger, nil, CreateOptions{})
	require.Error(t, err)
}

func TestNew_OptionLengthMismatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard))

	_, err := New(logger, fakes.NewDevice(), CreateOptions{
		HeapSizeLimits: []int{-1},
	})
	require.Error(t, err)

	_, err = New(logger, fakes.NewDevice(), CreateOptions{
		ExternalMemoryHandleTypes: []vulkan.ExternalMemoryHandleTypeFlags{vulkan.HandleTypeOpaqueFD},
	})
	require.Error(t, err)
}

func TestNew_BadGranularity(t *testing.T) {
	device := fakes.NewDevice()
	device.FakePhysicalDevice().DeviceProperties.Limits.BufferImageGranularity = 3

	logger := slog.New(slog.NewTextHandler(io.Discard))
	_, err := New(logger, device, CreateOptions{})
	require.Error(t, err)
}

func TestFindMemoryTypeIndex(t *testing.T) {
	testCases := []struct {
		name          string
		bits          uint32
		usage         MemoryUsage
		expectedIndex int
		expectedErr   error
	}{
		{name: "GPUOnly", bits: 0b11, usage: MemoryUsageGPUOnly, expectedIndex: fakes.DeviceLocalType},
		{name: "Upload", bits: 0b11, usage: MemoryUsageUpload, expectedIndex: fakes.HostVisibleType},
		{name: "Download", bits: 0b11, usage: MemoryUsageDownload, expectedIndex: fakes.HostVisibleType},
		{name: "Unknown", bits: 0b11, usage: MemoryUsageUnknown, expectedIndex: fakes.DeviceLocalType},
		{name: "GPUOnly Restricted", bits: 0b10, usage: MemoryUsageGPUOnly, expectedIndex: fakes.HostVisibleType},
		{name: "Upload Unsatisfiable", bits: 0b01, usage: MemoryUsageUpload, expectedErr: ErrNoSuitableMemoryType},
		{name: "No Bits", bits: 0, usage: MemoryUsageUnknown, expectedErr: ErrNoSuitableMemoryType},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, allocator := readyAllocator(t, CreateOptions{})

			index, err := allocator.FindMemoryTypeIndex(testCase.bits, testCase.usage)
			if testCase.expectedErr != nil {
				require.True(t, errors.Is(err, testCase.expectedErr))
				return
			}

			require.NoError(t, err)
			require.Equal(t, testCase.expectedIndex, index)
		})
	}
}

func TestAllocate_Pooled(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	first, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	require.False(t, first.IsDedicated())
	require.Equal(t, 0, first.Offset())
	require.Equal(t, 1000, first.Size())
	require.Equal(t, fakes.DeviceLocalType, first.MemoryTypeIndex())
	require.Equal(t, testBlockSize, first.Memory().AllocationSize())

	second, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	require.False(t, second.IsDedicated())
	require.Equal(t, 1024, second.Offset())
	require.Same(t, first.Memory(), second.Memory())

	require.Equal(t, 1, device.LiveMemory())
	require.NoError(t, allocator.Validate())

	require.NoError(t, first.Free())
	require.NoError(t, second.Free())
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, device.LiveMemory())
}

func TestAllocate_NameAndUserData(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	createInfo := imageRequirements(1000, 256)
	createInfo.Name = "albedo"
	createInfo.UserData = 7

	alloc, err := allocator.Allocate(createInfo)
	require.NoError(t, err)
	require.Equal(t, "albedo", alloc.Name())
	require.Equal(t, 7, alloc.UserData())

	require.NoError(t, alloc.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocate_RequiresDedicated(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	image, err := device.CreateImage(vulkan.ImageCreateInfo{})
	require.NoError(t, err)

	createInfo := imageRequirements(4096, 256)
	createInfo.Requirements.RequiresDedicated = true
	createInfo.DedicatedImage = image

	alloc, err := allocator.Allocate(createInfo)
	require.NoError(t, err)
	require.True(t, alloc.IsDedicated())
	require.Equal(t, 0, alloc.Offset())
	require.Equal(t, 4096, alloc.Memory().AllocationSize())

	memories := device.Memories()
	require.Len(t, memories, 1)
	require.Same(t, image, memories[0].Info.DedicatedImage)

	require.NoError(t, alloc.Free())
	require.True(t, memories[0].Freed())
	require.NoError(t, allocator.Destroy())
}

func TestAllocate_RequiresDedicatedNeverAllocate(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	createInfo := imageRequirements(4096, 256)
	createInfo.Requirements.RequiresDedicated = true
	createInfo.AllocatePreference = AllocatePreferenceNeverAllocate

	_, err := allocator.Allocate(createInfo)
	require.Error(t, err)
}

func TestAllocate_LargeAllocationIsDedicated(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	alloc, err := allocator.Allocate(imageRequirements(100*1024*1024, 256))
	require.NoError(t, err)
	require.True(t, alloc.IsDedicated())

	require.NoError(t, alloc.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocate_AlwaysAllocate(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	createInfo := imageRequirements(1000, 256)
	createInfo.AllocatePreference = AllocatePreferenceAlwaysAllocate

	alloc, err := allocator.Allocate(createInfo)
	require.NoError(t, err)
	require.True(t, alloc.IsDedicated())

	require.NoError(t, alloc.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocate_NeverAllocateEmpty(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	createInfo := imageRequirements(1000, 256)
	createInfo.AllocatePreference = AllocatePreferenceNeverAllocate

	_, err := allocator.Allocate(createInfo)
	require.True(t, errors.Is(err, ErrOutOfDeviceMemory))
	require.Equal(t, 0, device.LiveMemory())
}

func TestAllocate_NeverAllocateReusesBlock(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	first, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)

	createInfo := imageRequirements(1000, 256)
	createInfo.AllocatePreference = AllocatePreferenceNeverAllocate

	second, err := allocator.Allocate(createInfo)
	require.NoError(t, err)
	require.Same(t, first.Memory(), second.Memory())
	require.Equal(t, 1, device.LiveMemory())

	require.NoError(t, first.Free())
	require.NoError(t, second.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocate_InvalidRequirements(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.Allocate(imageRequirements(1000, 3))
	require.Error(t, err)

	_, err = allocator.Allocate(imageRequirements(0, 256))
	require.Error(t, err)
}

func TestAllocate_HeapLimitFallsBackToDedicated(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{
		HeapSizeLimits: []int{1024 * 1024, -1},
	})

	createInfo := imageRequirements(1000, 256)
	createInfo.MemoryTypeBits = 0b01

	alloc, err := allocator.Allocate(createInfo)
	require.NoError(t, err)
	require.True(t, alloc.IsDedicated())
	require.Equal(t, 1000, alloc.Memory().AllocationSize())

	require.NoError(t, alloc.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocate_HeapLimitExceeded(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{
		HeapSizeLimits: []int{1024 * 1024, -1},
	})

	createInfo := imageRequirements(2*1024*1024, 256)
	createInfo.MemoryTypeBits = 0b01

	_, err := allocator.Allocate(createInfo)
	require.True(t, errors.Is(err, ErrOutOfDeviceMemory))
	require.Equal(t, 0, device.LiveMemory())

	var budgets [2]Budget
	allocator.HeapBudgets(0, budgets[:])
	require.Equal(t, 1024*1024, budgets[0].Budget)
	require.Equal(t, 0, budgets[0].Usage)
}

func TestAllocate_DeviceFailure(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})
	device.AllocateMemoryErr = ErrOutOfDeviceMemory

	_, err := allocator.Allocate(imageRequirements(1000, 256))
	require.True(t, errors.Is(err, ErrOutOfDeviceMemory))

	var budgets [2]Budget
	allocator.HeapBudgets(0, budgets[:])
	require.Equal(t, 0, budgets[0].Usage)
	require.Equal(t, 0, budgets[1].Usage)
	require.Equal(t, uint32(0), allocator.deviceMemory.AllocationCount())
}

func TestAllocateDedicated_TooManyObjects(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})
	device.FakePhysicalDevice().DeviceProperties.Limits.MaxMemoryAllocationCount = 1

	alloc, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)

	_, err = allocator.AllocateDedicated(fakes.DeviceLocalType, 4096, nil, 0)
	require.True(t, errors.Is(err, ErrTooManyObjects))
	require.Equal(t, 1, device.LiveMemory())

	require.NoError(t, alloc.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocateDedicated_Exportable(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	image, err := device.CreateImage(vulkan.ImageCreateInfo{})
	require.NoError(t, err)

	alloc, err := allocator.AllocateDedicated(fakes.DeviceLocalType, 8192, image, vulkan.HandleTypeOpaqueFD)
	require.NoError(t, err)
	require.True(t, alloc.IsDedicated())
	require.Equal(t, vulkan.HandleTypeOpaqueFD, alloc.ExportHandleTypes())
	require.Equal(t, 8192, alloc.Size())

	fd, err := alloc.Memory().ExportFD(vulkan.HandleTypeOpaqueFD)
	require.NoError(t, err)
	require.Equal(t, 100, fd)

	require.NoError(t, alloc.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocateDedicated_BadArguments(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.AllocateDedicated(5, 4096, nil, 0)
	require.Error(t, err)

	_, err = allocator.AllocateDedicated(-1, 4096, nil, 0)
	require.Error(t, err)

	_, err = allocator.AllocateDedicated(fakes.DeviceLocalType, 0, nil, 0)
	require.Error(t, err)
}

func TestExternalMemoryHandleTypes_PooledBlocks(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{
		ExternalMemoryHandleTypes: []vulkan.ExternalMemoryHandleTypeFlags{vulkan.HandleTypeOpaqueFD, 0},
	})

	createInfo := imageRequirements(1000, 256)
	alloc, err := allocator.Allocate(createInfo)
	require.NoError(t, err)
	require.False(t, alloc.IsDedicated())
	require.Equal(t, vulkan.HandleTypeOpaqueFD, alloc.ExportHandleTypes())

	createInfo.Usage = MemoryUsageUpload
	hostAlloc, err := allocator.Allocate(createInfo)
	require.NoError(t, err)
	require.Equal(t, fakes.HostVisibleType, hostAlloc.MemoryTypeIndex())
	require.Equal(t, vulkan.ExternalMemoryHandleTypeFlags(0), hostAlloc.ExportHandleTypes())

	memories := device.Memories()
	require.Len(t, memories, 2)
	require.Equal(t, vulkan.HandleTypeOpaqueFD, memories[0].Info.ExportHandleTypes)
	require.Equal(t, vulkan.ExternalMemoryHandleTypeFlags(0), memories[1].Info.ExportHandleTypes)

	require.NoError(t, alloc.Free())
	require.NoError(t, hostAlloc.Free())
	require.NoError(t, allocator.Destroy())
}

func TestFree_Twice(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	pooled, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	require.NoError(t, pooled.Free())
	require.True(t, errors.Is(pooled.Free(), ErrAllocationFreed))

	dedicated, err := allocator.AllocateDedicated(fakes.DeviceLocalType, 4096, nil, 0)
	require.NoError(t, err)
	require.NoError(t, dedicated.Free())
	require.True(t, errors.Is(dedicated.Free(), ErrAllocationFreed))

	require.NoError(t, allocator.Destroy())
}

func TestFree_KeepsEmptyBlock(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	alloc, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	memory := alloc.Memory()
	require.NoError(t, alloc.Free())
	require.Equal(t, 1, device.LiveMemory())

	reused, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	require.Same(t, memory, reused.Memory())
	require.Equal(t, 0, reused.Offset())
	require.Equal(t, 1, device.LiveMemory())

	require.NoError(t, reused.Free())
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, device.LiveMemory())
}

func TestDestroy_UnfreedAllocations(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	_, err = allocator.AllocateDedicated(fakes.HostVisibleType, 4096, nil, 0)
	require.NoError(t, err)

	require.Error(t, allocator.Destroy())
	require.Equal(t, 2, device.LiveMemory())
}

func TestMemoryCallbacks(t *testing.T) {
	type callbackRecord struct {
		memoryType int
		size       int
		userData   any
	}

	var allocated []callbackRecord
	var freed []callbackRecord

	_, allocator := readyAllocator(t, CreateOptions{
		MemoryCallbackOptions: &MemoryCallbackOptions{
			Allocate: func(allocator *Allocator, memoryType int, memory vulkan.DeviceMemory, size int, userData interface{}) {
				allocated = append(allocated, callbackRecord{memoryType, size, userData})
			},
			Free: func(allocator *Allocator, memoryType int, memory vulkan.DeviceMemory, size int, userData interface{}) {
				freed = append(freed, callbackRecord{memoryType, size, userData})
			},
			UserData: "callbacks",
		},
	})

	alloc, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	require.Equal(t, []callbackRecord{{fakes.DeviceLocalType, testBlockSize, "callbacks"}}, allocated)
	require.Empty(t, freed)

	require.NoError(t, alloc.Free())
	require.Empty(t, freed)

	require.NoError(t, allocator.Destroy())
	require.Equal(t, []callbackRecord{{fakes.DeviceLocalType, testBlockSize, "callbacks"}}, freed)
}

func TestCalculateStatistics(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	first, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)
	second, err := allocator.Allocate(imageRequirements(1000, 256))
	require.NoError(t, err)

	var stats AllocatorStatistics
	allocator.CalculateStatistics(&stats)

	require.Equal(t, 1, stats.Total.BlockCount)
	require.Equal(t, testBlockSize, stats.Total.BlockBytes)
	require.Equal(t, 2, stats.Total.AllocationCount)
	require.Equal(t, 2000, stats.Total.AllocationBytes)
	require.Equal(t, 2, stats.Total.UnusedRangeCount)
	require.Equal(t, 24, stats.Total.UnusedRangeSizeMin)
	require.Equal(t, testBlockSize-2024, stats.Total.UnusedRangeSizeMax)
	require.Equal(t, 1000, stats.Total.AllocationSizeMin)
	require.Equal(t, 1000, stats.Total.AllocationSizeMax)

	require.Equal(t, stats.Total, stats.MemoryHeaps[0])
	require.Equal(t, stats.Total, stats.MemoryTypes[fakes.DeviceLocalType])
	require.Equal(t, 0, stats.MemoryHeaps[1].BlockCount)

	var budgets [2]Budget
	allocator.HeapBudgets(0, budgets[:])
	require.Equal(t, testBlockSize, budgets[0].Usage)
	require.Equal(t, fakes.DeviceLocalHeapSize*8/10, budgets[0].Budget)
	require.Equal(t, 2, budgets[0].Statistics.AllocationCount)
	require.Equal(t, 2000, budgets[0].Statistics.AllocationBytes)

	require.NoError(t, first.Free())
	require.NoError(t, second.Free())

	allocator.HeapBudgets(0, budgets[:])
	require.Equal(t, 0, budgets[0].Statistics.AllocationCount)
	require.Equal(t, 0, budgets[0].Statistics.AllocationBytes)

	require.NoError(t, allocator.Destroy())
}

func TestBuildStatsString(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	createInfo := imageRequirements(1000, 256)
	createInfo.Name = "pooled"
	pooled, err := allocator.Allocate(createInfo)
	require.NoError(t, err)

	dedicated, err := allocator.AllocateDedicated(fakes.HostVisibleType, 4096, nil, 0)
	require.NoError(t, err)

	var doc struct {
		General struct {
			MemoryHeapCount int
			MemoryTypeCount int
		}
		Total struct {
			BlockCount      int
			AllocationCount int
		}
		MemoryInfo   map[string]json.RawMessage
		DefaultPools map[string]struct {
			PreferredBlockSize   int
			Blocks               map[string]json.RawMessage
			DedicatedAllocations []map[string]any
		}
	}

	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(true)), &doc))
	require.Equal(t, 2, doc.General.MemoryHeapCount)
	require.Equal(t, 2, doc.General.MemoryTypeCount)
	require.Equal(t, 2, doc.Total.BlockCount)
	require.Equal(t, 2, doc.Total.AllocationCount)
	require.Len(t, doc.MemoryInfo, 2)
	require.Contains(t, doc.MemoryInfo, "Heap 0")
	require.Len(t, doc.DefaultPools, 2)
	require.Len(t, doc.DefaultPools["Type 0"].Blocks, 1)
	require.Empty(t, doc.DefaultPools["Type 0"].DedicatedAllocations)
	require.Len(t, doc.DefaultPools["Type 1"].DedicatedAllocations, 1)
	require.Equal(t, float64(4096), doc.DefaultPools["Type 1"].DedicatedAllocations[0]["Size"])

	var brief map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(allocator.BuildStatsString(false)), &brief))
	require.NotContains(t, brief, "DefaultPools")

	require.NoError(t, pooled.Free())
	require.NoError(t, dedicated.Free())
	require.NoError(t, allocator.Destroy())
}

func TestAllocate_Concurrent(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	const workers = 8
	const perWorker = 32

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			allocs := make([]*Allocation, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				alloc, err := allocator.Allocate(imageRequirements(4096, 256))
				if err != nil {
					errs <- err
					return
				}
				allocs = append(allocs, alloc)
			}

			for _, alloc := range allocs {
				err := alloc.Free()
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, allocator.Validate())
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, device.LiveMemory())
}

func TestAllocate_ConcurrentOffsets(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	const workers = 8
	const perWorker = 300

	var wg sync.WaitGroup
	results := make(chan []*Allocation, workers)
	errs := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			allocs := make([]*Allocation, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				alloc, err := allocator.Allocate(imageRequirements(1024, 256))
				if err != nil {
					errs <- err
					return
				}

				// Read while other workers are still allocating from the same block
				if alloc.Offset()%256 != 0 {
					errs <- errors.Newf("offset %d is not aligned", alloc.Offset())
					return
				}
				allocs = append(allocs, alloc)
			}

			results <- allocs
		}()
	}

	wg.Wait()
	close(errs)
	close(results)
	for err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[vulkan.DeviceMemory]map[int]bool)
	count := 0
	for allocs := range results {
		for _, alloc := range allocs {
			offsets, ok := seen[alloc.Memory()]
			if !ok {
				offsets = make(map[int]bool)
				seen[alloc.Memory()] = offsets
			}
			require.False(t, offsets[alloc.Offset()], "two allocations share offset %d", alloc.Offset())
			offsets[alloc.Offset()] = true

			metadataOffset, err := alloc.blockData.block.metadata.AllocationOffset(alloc.blockData.handle)
			require.NoError(t, err)
			require.Equal(t, metadataOffset, alloc.Offset())

			require.NoError(t, alloc.Free())
			count++
		}
	}
	require.Equal(t, workers*perWorker, count)

	require.NoError(t, allocator.Validate())
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, device.LiveMemory())
}
