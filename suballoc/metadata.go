package suballoc

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slices"
)

type region struct {
	offset    int
	size      int
	allocType SuballocationType
	userData  any
	handle    Handle

	prev *region
	next *region
}

func (r *region) isFree() bool {
	return r.allocType == SuballocationFree
}

// AllocationRequest is returned from BlockMetadata.CreateAllocationRequest and describes where
// the metadata intends to place an allocation. Pass it to BlockMetadata.Alloc to commit it.
type AllocationRequest struct {
	// Region is the free region that the allocation will be carved from
	Region Handle
	Offset int
	// Size may be larger than the size originally requested
	Size      int
	AllocType SuballocationType
}

// BlockMetadata manages the suballocations within a single block of memory. Free regions are
// kept sorted by size and new allocations are placed in the smallest free region they fit in.
// Adjacent free regions are always merged.
//
// BlockMetadata is not safe for concurrent use.
type BlockMetadata struct {
	size        int
	allocCount  int
	sumFreeSize int

	first      *region
	freeBySize []*region

	nextHandle Handle
	handles    *swiss.Map[Handle, *region]

	granularity granularityPages
}

// NewBlockMetadata creates metadata for a block that honors the provided bufferImageGranularity.
// If the memory system has no granularity requirements, bufferImageGranularity should be 1.
func NewBlockMetadata(bufferImageGranularity uint) *BlockMetadata {
	return &BlockMetadata{
		granularity: granularityPages{granularity: bufferImageGranularity},
	}
}

// Init must be called before the metadata is used, with the size in bytes of the block
func (m *BlockMetadata) Init(size int) {
	m.size = size
	m.allocCount = 0
	m.sumFreeSize = size
	m.handles = swiss.NewMap[Handle, *region](42)
	m.freeBySize = nil

	m.first = m.newRegion(0, size)
	m.registerFree(m.first)
	m.granularity.init(size)
}

func (m *BlockMetadata) Size() int { return m.size }

func (m *BlockMetadata) AllocationCount() int { return m.allocCount }

func (m *BlockMetadata) FreeRegionsCount() int { return len(m.freeBySize) }

func (m *BlockMetadata) SumFreeSize() int { return m.sumFreeSize }

func (m *BlockMetadata) IsEmpty() bool { return m.allocCount == 0 }

func (m *BlockMetadata) newRegion(offset, size int) *region {
	m.nextHandle++
	r := &region{
		offset:    offset,
		size:      size,
		allocType: SuballocationFree,
		handle:    m.nextHandle,
	}
	m.handles.Put(r.handle, r)
	return r
}

func (m *BlockMetadata) getRegion(handle Handle) (*region, error) {
	r, ok := m.handles.Get(handle)
	if !ok {
		return nil, errors.Newf("handle %d does not belong to this metadata", handle)
	}
	return r, nil
}

func (m *BlockMetadata) freeIndex(r *region) int {
	return sort.Search(len(m.freeBySize), func(i int) bool {
		other := m.freeBySize[i]
		return other.size > r.size || (other.size == r.size && other.offset >= r.offset)
	})
}

func (m *BlockMetadata) registerFree(r *region) {
	m.freeBySize = slices.Insert(m.freeBySize, m.freeIndex(r), r)
}

func (m *BlockMetadata) unregisterFree(r *region) {
	index := m.freeIndex(r)
	if index >= len(m.freeBySize) || m.freeBySize[index] != r {
		panic(fmt.Sprintf("free region at offset %d was not in the free list", r.offset))
	}

	m.freeBySize = slices.Delete(m.freeBySize, index, index+1)
}

// unlink removes r from the physical region list and forgets its handle
func (m *BlockMetadata) unlink(r *region) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		m.first = r.next
	}

	if r.next != nil {
		r.next.prev = r.prev
	}

	m.handles.Delete(r.handle)
}

// CreateAllocationRequest finds the best place for a new allocation of allocSize bytes with at
// least allocAlignment alignment. It returns false if the block cannot hold the allocation.
func (m *BlockMetadata) CreateAllocationRequest(allocSize int, allocAlignment uint, allocType SuballocationType) (bool, AllocationRequest, error) {
	if allocSize <= 0 {
		return false, AllocationRequest{}, errors.Newf("invalid allocation size %d", allocSize)
	}
	if allocType == SuballocationFree {
		return false, AllocationRequest{}, errors.New("cannot allocate a free suballocation")
	}
	if err := CheckPow2(allocAlignment, "allocation alignment"); err != nil {
		return false, AllocationRequest{}, err
	}
	if allocAlignment == 0 {
		allocAlignment = 1
	}

	allocSize, allocAlignment = m.granularity.roundUpRequest(allocType, allocSize, allocAlignment)

	if allocSize > m.sumFreeSize {
		return false, AllocationRequest{}, nil
	}

	start := sort.Search(len(m.freeBySize), func(i int) bool {
		return m.freeBySize[i].size >= allocSize
	})

	for i := start; i < len(m.freeBySize); i++ {
		r := m.freeBySize[i]

		offset, ok := m.checkRegion(r, allocSize, allocAlignment, allocType)
		if ok {
			return true, AllocationRequest{
				Region:    r.handle,
				Offset:    offset,
				Size:      allocSize,
				AllocType: allocType,
			}, nil
		}
	}

	return false, AllocationRequest{}, nil
}

func (m *BlockMetadata) checkRegion(r *region, allocSize int, allocAlignment uint, allocType SuballocationType) (int, bool) {
	offset := AlignUp(r.offset, allocAlignment)

	offset, conflict := m.granularity.checkConflictAndAlignUp(offset, allocSize, r.offset, r.size, allocType)
	if conflict {
		return offset, false
	}

	if offset+allocSize > r.offset+r.size {
		return offset, false
	}

	return offset, true
}

// Alloc commits an AllocationRequest. It fails if the request's region has changed since the
// request was made.
func (m *BlockMetadata) Alloc(request AllocationRequest, userData any) (Handle, error) {
	r, err := m.getRegion(request.Region)
	if err != nil {
		return NoAllocation, err
	}
	if !r.isFree() {
		return NoAllocation, errors.Newf("region at offset %d is no longer free", r.offset)
	}
	if request.AllocType == SuballocationFree {
		return NoAllocation, errors.New("cannot allocate a free suballocation")
	}
	if request.Offset < r.offset || request.Offset+request.Size > r.offset+r.size {
		return NoAllocation, errors.Newf("allocation at offset %d with size %d does not fit in region at offset %d with size %d",
			request.Offset, request.Size, r.offset, r.size)
	}

	m.unregisterFree(r)

	paddingBegin := request.Offset - r.offset
	paddingEnd := r.offset + r.size - request.Offset - request.Size

	r.offset = request.Offset
	r.size = request.Size
	r.allocType = request.AllocType
	r.userData = userData

	if paddingBegin > 0 {
		padding := m.newRegion(r.offset-paddingBegin, paddingBegin)
		padding.prev = r.prev
		padding.next = r
		if r.prev != nil {
			r.prev.next = padding
		} else {
			m.first = padding
		}
		r.prev = padding
		m.registerFree(padding)
	}

	if paddingEnd > 0 {
		padding := m.newRegion(r.offset+r.size, paddingEnd)
		padding.prev = r
		padding.next = r.next
		if r.next != nil {
			r.next.prev = padding
		}
		r.next = padding
		m.registerFree(padding)
	}

	m.allocCount++
	m.sumFreeSize -= request.Size
	m.granularity.allocPages(request.AllocType, r.offset, r.size)

	return r.handle, nil
}

// Free releases an allocation and merges it with any free neighbors. The handle is no longer
// valid after this call.
func (m *BlockMetadata) Free(handle Handle) error {
	r, err := m.getRegion(handle)
	if err != nil {
		return err
	}
	if r.isFree() {
		return errors.Newf("region at offset %d is already free", r.offset)
	}

	m.granularity.freePages(r.offset, r.size)
	m.allocCount--
	m.sumFreeSize += r.size

	r.allocType = SuballocationFree
	r.userData = nil

	if next := r.next; next != nil && next.isFree() {
		m.unregisterFree(next)
		r.size += next.size
		m.unlink(next)
	}

	if prev := r.prev; prev != nil && prev.isFree() {
		m.unregisterFree(prev)
		prev.size += r.size
		m.unlink(r)
		r = prev
	}

	m.registerFree(r)
	return nil
}

// Clear frees every allocation in the block at once
func (m *BlockMetadata) Clear() {
	m.Init(m.size)
}

func (m *BlockMetadata) AllocationOffset(handle Handle) (int, error) {
	r, err := m.getRegion(handle)
	if err != nil {
		return 0, err
	}

	return r.offset, nil
}

func (m *BlockMetadata) AllocationSize(handle Handle) (int, error) {
	r, err := m.getRegion(handle)
	if err != nil {
		return 0, err
	}

	return r.size, nil
}

func (m *BlockMetadata) AllocationUserData(handle Handle) (any, error) {
	r, err := m.getRegion(handle)
	if err != nil {
		return nil, err
	}
	if r.isFree() {
		return nil, errors.New("user data cannot be retrieved for a free region")
	}

	return r.userData, nil
}

func (m *BlockMetadata) SetAllocationUserData(handle Handle, userData any) error {
	r, err := m.getRegion(handle)
	if err != nil {
		return err
	}
	if r.isFree() {
		return errors.New("user data cannot be set for a free region")
	}

	r.userData = userData
	return nil
}

// VisitAllRegions calls visit once for each allocated and free region in offset order, stopping
// at the first error
func (m *BlockMetadata) VisitAllRegions(visit func(handle Handle, offset int, size int, userData any, free bool) error) error {
	for r := m.first; r != nil; r = r.next {
		err := visit(r.handle, r.offset, r.size, r.userData, r.isFree())
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *BlockMetadata) AddStatistics(stats *Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.sumFreeSize
}

func (m *BlockMetadata) AddDetailedStatistics(stats *DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	for r := m.first; r != nil; r = r.next {
		if r.isFree() {
			stats.AddUnusedRange(r.size)
		} else {
			stats.AddAllocation(r.size)
		}
	}
}

// PrintDetailedMap writes the block summary and one entry per region to json. describe is
// called for each allocated region and may be nil.
func (m *BlockMetadata) PrintDetailedMap(json jwriter.ObjectState, describe func(json *jwriter.ObjectState, userData any)) {
	json.Name("TotalBytes").Int(m.size)
	json.Name("UnusedBytes").Int(m.sumFreeSize)
	json.Name("Allocations").Int(m.allocCount)
	json.Name("UnusedRanges").Int(len(m.freeBySize))

	array := json.Name("Suballocations").Array()
	defer array.End()

	for r := m.first; r != nil; r = r.next {
		obj := array.Object()
		obj.Name("Offset").Int(r.offset)
		obj.Name("Type").String(r.allocType.String())
		obj.Name("Size").Int(r.size)

		if !r.isFree() && describe != nil {
			describe(&obj, r.userData)
		}
		obj.End()
	}
}

// Validate performs consistency checks across the whole block. It should not be possible for it
// to fail, but it is useful when diagnosing problems with the metadata.
func (m *BlockMetadata) Validate() error {
	if m.sumFreeSize > m.size {
		return errors.New("invalid metadata free size")
	}

	counts := m.granularity.startValidation()

	var calculatedSize, calculatedFreeSize, allocCount, freeCount, regionCount int
	nextOffset := 0
	var prev *region

	for r := m.first; r != nil; r = r.next {
		regionCount++

		if r.prev != prev {
			return errors.Newf("region at offset %d has a broken previous reference", r.offset)
		}
		if r.offset != nextOffset {
			return errors.Newf("region at offset %d does not start where the previous region ended (%d)", r.offset, nextOffset)
		}
		if r.size <= 0 {
			return errors.Newf("region at offset %d has invalid size %d", r.offset, r.size)
		}
		if handleRegion, ok := m.handles.Get(r.handle); !ok || handleRegion != r {
			return errors.Newf("region at offset %d is not registered under its handle", r.offset)
		}

		if r.isFree() {
			if prev != nil && prev.isFree() {
				return errors.Newf("free regions at offsets %d and %d were not merged", prev.offset, r.offset)
			}

			freeCount++
			calculatedFreeSize += r.size
		} else {
			allocCount++

			err := m.granularity.validate(counts, r.offset, r.size)
			if err != nil {
				return err
			}
		}

		calculatedSize += r.size
		nextOffset = r.offset + r.size
		prev = r
	}

	if calculatedSize != m.size {
		return errors.Newf("the full size of the metadata is %d, but the regions only added up to %d", m.size, calculatedSize)
	}

	if calculatedFreeSize != m.sumFreeSize {
		return errors.Newf("the free size of the metadata is %d, but the free regions added up to %d", m.sumFreeSize, calculatedFreeSize)
	}

	if allocCount != m.allocCount {
		return errors.Newf("the allocation count of the metadata is %d, but there were %d allocated regions", m.allocCount, allocCount)
	}

	if freeCount != len(m.freeBySize) {
		return errors.Newf("the free list has %d entries, but there were %d free regions", len(m.freeBySize), freeCount)
	}

	if regionCount != m.handles.Count() {
		return errors.Newf("there are %d registered handles, but %d regions", m.handles.Count(), regionCount)
	}

	for i := 1; i < len(m.freeBySize); i++ {
		if m.freeBySize[i-1].size > m.freeBySize[i].size {
			return errors.Newf("free list is not sorted at index %d", i)
		}
	}

	return m.granularity.finishValidation(counts)
}
