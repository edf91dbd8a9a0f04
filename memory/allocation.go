package memory

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
	"github.com/vkngwrapper/arsenal/imageres/vulkan"
)

type allocationType byte

const (
	allocationTypeNone allocationType = iota
	allocationTypeBlock
	allocationTypeDedicated
)

var allocationKindMapping = map[allocationType]string{
	allocationTypeNone:      "allocationTypeNone",
	allocationTypeBlock:     "allocationTypeBlock",
	allocationTypeDedicated: "allocationTypeDedicated",
}

func (t allocationType) String() string {
	return allocationKindMapping[t]
}

// Allocation is a range of device memory handed out by an Allocator. It is either a
// suballocation of a larger block, or a dedicated block of device memory of its own.
type Allocation struct {
	parentAllocator *Allocator

	allocationType    allocationType
	size              int
	alignment         uint
	memoryTypeIndex   int
	suballocationType suballoc.SuballocationType

	name     string
	userData any

	blockData struct {
		block  *deviceMemoryBlock
		handle suballoc.Handle
		// offset never changes: block allocations are never moved
		offset int
	}

	dedicatedData struct {
		memory            vulkan.DeviceMemory
		exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags
	}
}

func (a *Allocation) init(parentAllocator *Allocator) {
	a.parentAllocator = parentAllocator
}

func (a *Allocation) initBlockAllocation(
	block *deviceMemoryBlock,
	handle suballoc.Handle,
	offset int,
	alignment uint,
	size int,
	memoryTypeIndex int,
	suballocationType suballoc.SuballocationType,
) {
	if a.allocationType != allocationTypeNone {
		panic("attempting to init an allocation that has already been initialized")
	}
	if block == nil || block.memory == nil {
		panic("attempting to init an allocation with a nil block")
	}

	a.allocationType = allocationTypeBlock
	a.alignment = alignment
	a.size = size
	a.memoryTypeIndex = memoryTypeIndex
	a.suballocationType = suballocationType
	a.blockData.block = block
	a.blockData.handle = handle
	a.blockData.offset = offset
}

func (a *Allocation) initDedicatedAllocation(
	memoryTypeIndex int,
	memory vulkan.DeviceMemory,
	suballocationType suballoc.SuballocationType,
	size int,
	exportHandleTypes vulkan.ExternalMemoryHandleTypeFlags,
) {
	if a.allocationType != allocationTypeNone {
		panic("attempting to init an allocation that has already been initialized")
	}
	if memory == nil {
		panic("attempting to init a dedicated allocation using a nil device memory")
	}

	a.allocationType = allocationTypeDedicated
	a.alignment = 0
	a.size = size
	a.memoryTypeIndex = memoryTypeIndex
	a.suballocationType = suballocationType
	a.dedicatedData.memory = memory
	a.dedicatedData.exportHandleTypes = exportHandleTypes
}

func (a *Allocation) SetName(name string) {
	a.name = name
}

func (a *Allocation) SetUserData(userData any) {
	a.userData = userData
}

func (a *Allocation) UserData() any {
	return a.userData
}

func (a *Allocation) Name() string {
	return a.name
}

func (a *Allocation) MemoryTypeIndex() int { return a.memoryTypeIndex }
func (a *Allocation) Size() int            { return a.size }
func (a *Allocation) Alignment() uint      { return a.alignment }
func (a *Allocation) IsDedicated() bool    { return a.allocationType == allocationTypeDedicated }

// ExportHandleTypes returns the handle types the allocation's device memory can be exported as
func (a *Allocation) ExportHandleTypes() vulkan.ExternalMemoryHandleTypeFlags {
	switch a.allocationType {
	case allocationTypeDedicated:
		return a.dedicatedData.exportHandleTypes
	case allocationTypeBlock:
		return a.blockData.block.exportHandleTypes
	}

	return 0
}

// Memory returns the device memory that the allocation lives in. For block allocations, this
// memory is shared with other allocations.
func (a *Allocation) Memory() vulkan.DeviceMemory {
	switch a.allocationType {
	case allocationTypeDedicated:
		return a.dedicatedData.memory
	case allocationTypeBlock:
		return a.blockData.block.memory
	}

	return nil
}

// Offset returns the allocation's offset within Memory
func (a *Allocation) Offset() int {
	if a.allocationType == allocationTypeBlock {
		return a.blockData.offset
	}

	return 0
}

// Free returns the allocation's memory to the allocator. The Allocation may not be used
// afterward.
func (a *Allocation) Free() error {
	if a.parentAllocator == nil {
		return errors.New("attempted to free an allocation that was never allocated")
	}
	a.parentAllocator.logger.Debug("Allocation::Free")

	return a.parentAllocator.freeMemory(a)
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Type").String(a.suballocationType.String())
	json.Name("Size").Int(a.size)

	if a.userData != nil {
		json.Name("CustomData").String(fmt.Sprintf("%+v", a.userData))
	}

	if a.name != "" {
		json.Name("Name").String(a.name)
	}
}
