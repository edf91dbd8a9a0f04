package suballoc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
)

func allocate(t *testing.T, m *BlockMetadata, size int, alignment uint, allocType SuballocationType) (Handle, int) {
	success, request, err := m.CreateAllocationRequest(size, alignment, allocType)
	require.NoError(t, err)
	require.True(t, success)

	handle, err := m.Alloc(request, nil)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	return handle, request.Offset
}

func TestBestFitPlacementAndCoalescing(t *testing.T) {
	m := NewBlockMetadata(1)
	m.Init(1024)
	require.NoError(t, m.Validate())

	a, offset := allocate(t, m, 100, 1, SuballocationBuffer)
	require.Equal(t, 0, offset)
	b, offset := allocate(t, m, 200, 1, SuballocationBuffer)
	require.Equal(t, 100, offset)
	c, offset := allocate(t, m, 50, 1, SuballocationBuffer)
	require.Equal(t, 300, offset)

	require.NoError(t, m.Free(b))
	require.NoError(t, m.Validate())
	require.Equal(t, 2, m.FreeRegionsCount())

	// The 200 byte hole is a better fit than the 674 byte tail
	_, offset = allocate(t, m, 150, 1, SuballocationBuffer)
	require.Equal(t, 100, offset)

	require.NoError(t, m.Free(a))
	require.NoError(t, m.Validate())
	require.Equal(t, 3, m.FreeRegionsCount())

	// Freeing c merges it with the holes on both sides
	require.NoError(t, m.Free(c))
	require.NoError(t, m.Validate())
	require.Equal(t, 2, m.FreeRegionsCount())
	require.Equal(t, 874, m.SumFreeSize())
	require.Equal(t, 1, m.AllocationCount())
}

func TestAlignmentLeavesFreePadding(t *testing.T) {
	m := NewBlockMetadata(1)
	m.Init(1024)

	allocate(t, m, 10, 1, SuballocationBuffer)
	_, offset := allocate(t, m, 64, 64, SuballocationBuffer)
	require.Equal(t, 64, offset)

	require.Equal(t, 2, m.FreeRegionsCount())
	require.Equal(t, 1024-10-64, m.SumFreeSize())
}

func TestExactFillAndExhaustion(t *testing.T) {
	m := NewBlockMetadata(1)
	m.Init(1024)

	success, _, err := m.CreateAllocationRequest(2048, 1, SuballocationBuffer)
	require.NoError(t, err)
	require.False(t, success)

	handle, _ := allocate(t, m, 1024, 1, SuballocationImageOptimal)
	require.Equal(t, 0, m.FreeRegionsCount())
	require.Equal(t, 0, m.SumFreeSize())

	success, _, err = m.CreateAllocationRequest(1, 1, SuballocationBuffer)
	require.NoError(t, err)
	require.False(t, success)

	require.NoError(t, m.Free(handle))
	require.True(t, m.IsEmpty())
	require.Equal(t, 1024, m.SumFreeSize())
	require.NoError(t, m.Validate())
}

func TestInvalidRequests(t *testing.T) {
	m := NewBlockMetadata(1)
	m.Init(1024)

	_, _, err := m.CreateAllocationRequest(16, 3, SuballocationBuffer)
	require.True(t, errors.Is(err, ErrPowerOfTwo))

	_, _, err = m.CreateAllocationRequest(0, 1, SuballocationBuffer)
	require.Error(t, err)

	_, _, err = m.CreateAllocationRequest(16, 1, SuballocationFree)
	require.Error(t, err)

	require.Error(t, m.Free(Handle(9999)))
}

func TestDoubleFreeAndStaleRequest(t *testing.T) {
	m := NewBlockMetadata(1)
	m.Init(1024)

	success, request, err := m.CreateAllocationRequest(100, 1, SuballocationBuffer)
	require.NoError(t, err)
	require.True(t, success)

	a, err := m.Alloc(request, "a")
	require.NoError(t, err)

	_, err = m.Alloc(request, "again")
	require.Error(t, err)

	allocate(t, m, 100, 1, SuballocationBuffer)

	userData, err := m.AllocationUserData(a)
	require.NoError(t, err)
	require.Equal(t, "a", userData)

	require.NoError(t, m.Free(a))
	require.Error(t, m.Free(a))
	require.NoError(t, m.Validate())
}

func TestLinearAndOptimalDoNotSharePages(t *testing.T) {
	m := NewBlockMetadata(1024)
	m.Init(8192)

	_, offset := allocate(t, m, 100, 1, SuballocationImageLinear)
	require.Equal(t, 0, offset)

	_, offset = allocate(t, m, 100, 1, SuballocationImageOptimal)
	require.Equal(t, 1024, offset)

	_, offset = allocate(t, m, 100, 1, SuballocationBuffer)
	require.Equal(t, 100, offset)
}

func TestLowGranularityPadsNonLinear(t *testing.T) {
	m := NewBlockMetadata(256)
	m.Init(4096)

	success, request, err := m.CreateAllocationRequest(100, 4, SuballocationImageOptimal)
	require.NoError(t, err)
	require.True(t, success)
	require.Equal(t, 256, request.Size)

	_, err = m.Alloc(request, nil)
	require.NoError(t, err)

	_, offset := allocate(t, m, 100, 1, SuballocationBuffer)
	require.Equal(t, 256, offset)
}

func TestStatistics(t *testing.T) {
	m := NewBlockMetadata(1)
	m.Init(1024)

	allocate(t, m, 100, 1, SuballocationBuffer)
	allocate(t, m, 200, 1, SuballocationBuffer)

	var stats Statistics
	m.AddStatistics(&stats)
	require.Equal(t, Statistics{
		BlockCount:      1,
		AllocationCount: 2,
		BlockBytes:      1024,
		AllocationBytes: 300,
	}, stats)

	var detailed DetailedStatistics
	detailed.Clear()
	m.AddDetailedStatistics(&detailed)
	require.Equal(t, DetailedStatistics{
		Statistics:         stats,
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  200,
		UnusedRangeSizeMin: 724,
		UnusedRangeSizeMax: 724,
	}, detailed)
}

func TestPrintDetailedMap(t *testing.T) {
	m := NewBlockMetadata(1)
	m.Init(1024)

	success, request, err := m.CreateAllocationRequest(100, 1, SuballocationBuffer)
	require.NoError(t, err)
	require.True(t, success)
	_, err = m.Alloc(request, "vertices")
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	m.PrintDetailedMap(obj, func(json *jwriter.ObjectState, userData any) {
		json.Name("Name").String(userData.(string))
	})
	obj.End()

	require.JSONEq(t, `{
		"TotalBytes": 1024,
		"UnusedBytes": 924,
		"Allocations": 1,
		"UnusedRanges": 1,
		"Suballocations": [
			{"Offset": 0, "Type": "BUFFER", "Size": 100, "Name": "vertices"},
			{"Offset": 100, "Type": "FREE", "Size": 924}
		]
	}`, string(writer.Bytes()))
}

func TestClear(t *testing.T) {
	m := NewBlockMetadata(1024)
	m.Init(4096)

	allocate(t, m, 100, 1, SuballocationImageOptimal)
	allocate(t, m, 100, 1, SuballocationImageLinear)

	m.Clear()
	require.True(t, m.IsEmpty())
	require.Equal(t, 4096, m.SumFreeSize())
	require.Equal(t, 1, m.FreeRegionsCount())
	require.NoError(t, m.Validate())
}
