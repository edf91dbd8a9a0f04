package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/arsenal/imageres/internal/utils"
	"github.com/vkngwrapper/arsenal/imageres/suballoc"
)

// dedicatedAllocationList tracks the dedicated allocations of one memory type. Allocations are
// kept in a slice so that reports list them in a stable order, and positions is used to remove
// an allocation without searching for it.
type dedicatedAllocationList struct {
	mutex utils.OptionalRWMutex

	allocations []*Allocation
	positions   *swiss.Map[*Allocation, int]
}

func (l *dedicatedAllocationList) Init(useMutex bool) {
	l.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
	l.positions = swiss.NewMap[*Allocation, int](8)
}

func (l *dedicatedAllocationList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if l.positions.Count() != len(l.allocations) {
		return errors.Newf("the dedicated allocation index has %d entries, but %d allocations are listed", l.positions.Count(), len(l.allocations))
	}

	for position, alloc := range l.allocations {
		if alloc.allocationType != allocationTypeDedicated {
			return errors.Newf("allocation at position %d of the dedicated list is a %s", position, alloc.allocationType)
		}

		indexed, ok := l.positions.Get(alloc)
		if !ok || indexed != position {
			return errors.Newf("allocation at position %d of the dedicated list is indexed at %d", position, indexed)
		}
	}

	return nil
}

func (l *dedicatedAllocationList) AddStatistics(stats *suballoc.Statistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, alloc := range l.allocations {
		stats.BlockCount++
		stats.BlockBytes += alloc.size
		stats.AllocationCount++
		stats.AllocationBytes += alloc.size
	}
}

func (l *dedicatedAllocationList) AddDetailedStatistics(stats *suballoc.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, alloc := range l.allocations {
		stats.Statistics.BlockCount++
		stats.Statistics.BlockBytes += alloc.size
		stats.AddAllocation(alloc.size)
	}
}

func (l *dedicatedAllocationList) BuildStatsString(json *jwriter.ObjectState) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	arr := json.Name("DedicatedAllocations").Array()
	defer arr.End()

	for _, alloc := range l.allocations {
		obj := arr.Object()
		alloc.printParameters(&obj)
		obj.End()
	}
}

// logUnreleased calls log for every allocation still in the list
func (l *dedicatedAllocationList) logUnreleased(log func(alloc *Allocation)) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for _, alloc := range l.allocations {
		log(alloc)
	}
}

func (l *dedicatedAllocationList) IsEmpty() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.allocations) == 0
}

func (l *dedicatedAllocationList) Register(alloc *Allocation) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.positions.Has(alloc) {
		panic("dedicated allocation registered twice")
	}

	l.positions.Put(alloc, len(l.allocations))
	l.allocations = append(l.allocations, alloc)
}

// Unregister removes alloc from the list. The last allocation in the list takes its place.
func (l *dedicatedAllocationList) Unregister(alloc *Allocation) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	position, ok := l.positions.Get(alloc)
	if !ok {
		panic("attempted to unregister a dedicated allocation that is not in the list")
	}
	l.positions.Delete(alloc)

	last := len(l.allocations) - 1
	if position != last {
		moved := l.allocations[last]
		l.allocations[position] = moved
		l.positions.Put(moved, position)
	}

	l.allocations[last] = nil
	l.allocations = l.allocations[:last]
}
