package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/imageres/internal/utils"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
	"golang.org/x/exp/slog"
)

type memoryBlockList struct {
	parentAllocator *Allocator
	deviceMemory    *deviceMemoryProperties
	logger          *slog.Logger

	memoryTypeIndex        int
	preferredBlockSize     int
	bufferImageGranularity int
	minAllocationAlignment uint
	exportHandleTypes      vulkan.ExternalMemoryHandleTypeFlags

	mutex       utils.OptionalRWMutex
	blocks      []*deviceMemoryBlock
	nextBlockId int
}

func (l *memoryBlockList) MemoryTypeIndex() int        { return l.memoryTypeIndex }
func (l *memoryBlockList) PreferredBlockSize() int     { return l.preferredBlockSize }
func (l *memoryBlockList) BufferImageGranularity() int { return l.bufferImageGranularity }

func (l *memoryBlockList) BlockCount() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.blocks)
}

func (l *memoryBlockList) Init(
	useMutex bool,
	allocator *Allocator,
	memoryTypeIndex int,
	preferredBlockSize int,
	bufferImageGranularity int,
	minAllocationAlignment uint,
	exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags,
) {
	l.parentAllocator = allocator
	l.logger = allocator.logger
	l.deviceMemory = allocator.deviceMemory
	l.memoryTypeIndex = memoryTypeIndex
	l.preferredBlockSize = preferredBlockSize
	l.bufferImageGranularity = bufferImageGranularity
	l.minAllocationAlignment = minAllocationAlignment
	l.exportHandleTypes = exportHandleTypes
	l.mutex = utils.OptionalRWMutex{
		UseMutex: useMutex,
		Mutex:    sync.RWMutex{},
	}
}

func (l *memoryBlockList) Destroy() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var destroyErr error
	remaining := l.blocks[:0]
	for _, block := range l.blocks {
		err := block.Destroy()
		if err != nil {
			destroyErr = errors.CombineErrors(destroyErr, err)
			remaining = append(remaining, block)
		}
	}
	l.blocks = remaining

	return destroyErr
}

func (l *memoryBlockList) AddStatistics(stats *suballoc.Statistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddStatistics(stats)
	}
}

func (l *memoryBlockList) AddDetailedStatistics(stats *suballoc.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		if block == nil {
			panic(fmt.Sprintf("failed to take statistics of nil block at index %d", blockIndex))
		}
		block.metadata.AddDetailedStatistics(stats)
	}
}

func (l *memoryBlockList) IsEmpty() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.blocks) == 0
}

func (l *memoryBlockList) HasNoAllocations() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		if !l.blocks[blockIndex].metadata.IsEmpty() {
			return false
		}
	}

	return true
}

func (l *memoryBlockList) CreateBlock(blockSize int) (int, error) {
	allocInfo := vulkan.MemoryAllocateInfo{
		MemoryTypeIndex:   l.memoryTypeIndex,
		AllocationSize:    blockSize,
		ExportHandleTypes: l.exportHandleTypes,
	}

	memory, err := l.deviceMemory.AllocateVulkanMemory(allocInfo)
	if err != nil {
		return -1, err
	}

	block := &deviceMemoryBlock{}
	block.Init(l.logger, l.deviceMemory, l.memoryTypeIndex, memory, allocInfo.AllocationSize, l.nextBlockId, l.bufferImageGranularity, l.exportHandleTypes)
	l.nextBlockId++

	l.blocks = append(l.blocks, block)
	return len(l.blocks) - 1, nil
}

func (l *memoryBlockList) Remove(block *deviceMemoryBlock) {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		if l.blocks[blockIndex] == block {
			l.blocks = append(l.blocks[0:blockIndex], l.blocks[blockIndex+1:]...)
			return
		}
	}

	panic("attempted to remove a block from a block list that did not belong to it")
}

func (l *memoryBlockList) Allocate(size int, alignment uint, createInfo *AllocationCreateInfo, suballocType suballoc.SuballocationType) (*Allocation, error) {
	if l.minAllocationAlignment > alignment {
		alignment = l.minAllocationAlignment
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.allocPage(size, alignment, createInfo, suballocType)
}

func (l *memoryBlockList) allocPage(size int, alignment uint, createInfo *AllocationCreateInfo, suballocationType suballoc.SuballocationType) (*Allocation, error) {
	heapIndex := l.deviceMemory.MemoryTypeIndexToHeapIndex(l.memoryTypeIndex)

	budget := Budget{}
	l.deviceMemory.HeapBudget(heapIndex, &budget)
	freeMemory := budget.Budget - budget.Usage

	if freeMemory < 0 {
		freeMemory = 0
	}

	canFallbackToDedicated := createInfo.AllocatePreference != AllocatePreferenceNeverAllocate
	canCreateNewBlock := createInfo.AllocatePreference != AllocatePreferenceNeverAllocate &&
		(freeMemory >= size || !canFallbackToDedicated)

	// Early reject: requested allocation size is larger than maximum block size for this block list
	if size > l.preferredBlockSize {
		return nil, errors.Wrapf(ErrOutOfDeviceMemory, "allocation of %d bytes is larger than the %d byte block size of memory type %d", size, l.preferredBlockSize, l.memoryTypeIndex)
	}

	// 1. Search existing blocks, prefer blocks with the smallest amount of free space by iterating forward
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		currentBlock := l.blocks[blockIndex]
		if currentBlock == nil {
			panic(fmt.Sprintf("a memory block at index %d is unexpectedly nil", blockIndex))
		}

		alloc, err := l.allocFromBlock(currentBlock, size, alignment, createInfo, suballocationType)
		if err != nil {
			return nil, err
		} else if alloc != nil {
			l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing block", slog.Int("block.id", currentBlock.id))
			l.incrementallySortBlocks()
			return alloc, nil
		}
	}

	// 2. Try to create a new block
	if canCreateNewBlock {
		newBlockSize := l.preferredBlockSize
		newBlockSizeShift := 0
		const MaxNewBlockSizeShift = 3

		maxExistingBlockSize := l.calcMaxBlockSize()
		for i := 0; i < MaxNewBlockSizeShift; i++ {
			smallerNewBlockSize := newBlockSize / 2
			if smallerNewBlockSize > maxExistingBlockSize && smallerNewBlockSize >= size*2 {
				newBlockSize = smallerNewBlockSize
				newBlockSizeShift++
			} else {
				break
			}
		}

		newBlockIndex := 0
		var err error
		if newBlockSize <= freeMemory || !canFallbackToDedicated {
			newBlockIndex, err = l.CreateBlock(newBlockSize)
		} else {
			err = errors.Wrapf(ErrOutOfDeviceMemory, "a new %d byte block would exceed the budget of heap %d", newBlockSize, heapIndex)
		}

		for err != nil && newBlockSizeShift < MaxNewBlockSizeShift {
			smallerNewBlockSize := newBlockSize / 2
			if smallerNewBlockSize < size {
				break
			}

			newBlockSize = smallerNewBlockSize
			newBlockSizeShift++
			if newBlockSize <= freeMemory || !canFallbackToDedicated {
				newBlockIndex, err = l.CreateBlock(newBlockSize)
			}
		}

		if err != nil {
			return nil, err
		}

		block := l.blocks[newBlockIndex]
		if block.metadata.Size() < size {
			panic(fmt.Sprintf("created a new block at index %d to hold an allocation of size %d but the created block was somehow only size %d", newBlockIndex, size, block.metadata.Size()))
		}

		alloc, err := l.allocFromBlock(block, size, alignment, createInfo, suballocationType)
		if err != nil {
			return nil, err
		} else if alloc != nil {
			l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block", slog.Int("block.id", block.id), slog.Int("size", newBlockSize))
			l.incrementallySortBlocks()
			return alloc, nil
		}
	}

	return nil, errors.Wrapf(ErrOutOfDeviceMemory, "no block of memory type %d could hold %d bytes", l.memoryTypeIndex, size)
}

func (l *memoryBlockList) Free(alloc *Allocation) error {
	heapIndex := l.deviceMemory.MemoryTypeIndexToHeapIndex(l.memoryTypeIndex)
	blockToDelete, err := l.freeWithLock(alloc, heapIndex)
	if err != nil {
		return err
	}

	if blockToDelete != nil {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty block", slog.Int("block.id", blockToDelete.id))
		err = blockToDelete.Destroy()
		if err != nil {
			panic(fmt.Sprintf("unexpected failure when destroying a memory block in response to freeing an allocation: %+v", err))
		}
	}

	l.deviceMemory.RemoveAllocation(heapIndex, alloc.size)
	return nil
}

func (l *memoryBlockList) freeWithLock(alloc *Allocation, heapIndex int) (blockToDelete *deviceMemoryBlock, err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	block := alloc.blockData.block

	heapBudget := Budget{}
	l.deviceMemory.HeapBudget(heapIndex, &heapBudget)
	budgetExceeded := heapBudget.Usage >= heapBudget.Budget

	hasEmptyBlockBeforeFree := l.hasEmptyBlock()
	err = block.metadata.Free(alloc.blockData.handle)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to free allocation with handle %d", alloc.blockData.handle)
	}

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Freed from block", slog.Int("MemoryTypeIndex", l.memoryTypeIndex))

	if block.metadata.IsEmpty() && (hasEmptyBlockBeforeFree || budgetExceeded) {
		// The block is empty and there's already an empty block to allocate from
		blockToDelete = block
		l.Remove(block)
	} else if !block.metadata.IsEmpty() && hasEmptyBlockBeforeFree {
		// There is an empty block somewhere we don't need
		lastBlock := l.blocks[len(l.blocks)-1]
		if lastBlock.metadata.IsEmpty() {
			blockToDelete = lastBlock
			l.blocks = l.blocks[:len(l.blocks)-1]
		}
	}

	l.incrementallySortBlocks()

	return blockToDelete, nil
}

func (l *memoryBlockList) hasEmptyBlock() bool {
	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		block := l.blocks[blockIndex]
		if block.metadata.IsEmpty() {
			return true
		}
	}

	return false
}

func (l *memoryBlockList) incrementallySortBlocks() {
	for blockIndex := 1; blockIndex < len(l.blocks); blockIndex++ {
		if l.blocks[blockIndex-1].metadata.SumFreeSize() > l.blocks[blockIndex].metadata.SumFreeSize() {
			l.blocks[blockIndex-1], l.blocks[blockIndex] = l.blocks[blockIndex], l.blocks[blockIndex-1]
			return
		}
	}
}

func (l *memoryBlockList) SortByFreeSize() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	sort.Slice(l.blocks, func(i, j int) bool {
		return l.blocks[i].metadata.SumFreeSize() < l.blocks[j].metadata.SumFreeSize()
	})
}

func (l *memoryBlockList) calcMaxBlockSize() int {
	result := 0
	for blockIndex := len(l.blocks) - 1; blockIndex >= 0; blockIndex-- {
		blockSize := l.blocks[blockIndex].metadata.Size()
		if blockSize <= result {
			continue
		}

		result = blockSize
		if result >= l.preferredBlockSize {
			return result
		}
	}

	return result
}

func (l *memoryBlockList) allocFromBlock(block *deviceMemoryBlock, size int, alignment uint, createInfo *AllocationCreateInfo, suballocType suballoc.SuballocationType) (*Allocation, error) {
	success, request, err := block.metadata.CreateAllocationRequest(size, alignment, suballocType)
	if err != nil {
		return nil, err
	} else if !success {
		return nil, nil
	}

	return l.commitAllocationRequest(request, block, alignment, size, createInfo, suballocType)
}

func (l *memoryBlockList) commitAllocationRequest(request suballoc.AllocationRequest, block *deviceMemoryBlock, alignment uint, size int, createInfo *AllocationCreateInfo, suballocType suballoc.SuballocationType) (*Allocation, error) {
	alloc := &Allocation{}
	alloc.init(l.parentAllocator)

	handle, err := block.metadata.Alloc(request, alloc)
	if err != nil {
		return nil, err
	}

	offset, err := block.metadata.AllocationOffset(handle)
	if err != nil {
		return nil, errors.CombineErrors(err, block.metadata.Free(handle))
	}

	alloc.initBlockAllocation(block, handle, offset, alignment, size, l.memoryTypeIndex, suballocType)
	alloc.SetName(createInfo.Name)
	alloc.SetUserData(createInfo.UserData)

	heapIndex := l.deviceMemory.MemoryTypeIndexToHeapIndex(l.memoryTypeIndex)
	l.deviceMemory.AddAllocation(heapIndex, size)

	return alloc, nil
}

func (l *memoryBlockList) PrintDetailedMap(json jwriter.ObjectState) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for i := 0; i < len(l.blocks); i++ {
		block := l.blocks[i]

		blockObj := json.Name(strconv.Itoa(block.id)).Object()
		block.metadata.PrintDetailedMap(blockObj, func(obj *jwriter.ObjectState, userData any) {
			alloc, isAllocation := userData.(*Allocation)
			if isAllocation && alloc != nil {
				if alloc.name != "" {
					obj.Name("Name").String(alloc.name)
				}
				if alloc.userData != nil {
					obj.Name("CustomData").String(fmt.Sprintf("%+v", alloc.userData))
				}
			} else if userData != nil {
				obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
			}
		})
		blockObj.End()
	}
}

func (l *memoryBlockList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for blockIndex := 0; blockIndex < len(l.blocks); blockIndex++ {
		err := l.blocks[blockIndex].Validate()
		if err != nil {
			return errors.Wrapf(err, "memory type %d, block %d", l.memoryTypeIndex, l.blocks[blockIndex].id)
		}
	}

	return nil
}
