package suballoc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGranularityInitEven(t *testing.T) {
	granularity := granularityPages{granularity: 1024}
	granularity.init(4096)

	require.Len(t, granularity.pages, 4)
}

func TestGranularityInitExtra(t *testing.T) {
	granularity := granularityPages{granularity: 1024}
	granularity.init(4097)

	require.Len(t, granularity.pages, 5)
}

func TestGranularityInitLow(t *testing.T) {
	granularity := granularityPages{granularity: 128}
	granularity.init(1024)

	require.Nil(t, granularity.pages)
}

var conflictTestCases = map[string]struct {
	Type1    SuballocationType
	Type2    SuballocationType
	Conflict bool
}{
	"Frees Dont Conflict": {
		Type1:    SuballocationFree,
		Type2:    SuballocationFree,
		Conflict: false,
	},
	"Unknowns Conflict": {
		Type1:    SuballocationUnknown,
		Type2:    SuballocationUnknown,
		Conflict: true,
	},
	"Frees Dont Conflict With Unknown": {
		Type1:    SuballocationUnknown,
		Type2:    SuballocationFree,
		Conflict: false,
	},
	"Buffers Dont Conflict With Linear Image": {
		Type1:    SuballocationBuffer,
		Type2:    SuballocationImageLinear,
		Conflict: false,
	},
	"Buffers Conflict With Optimal Image": {
		Type1:    SuballocationImageOptimal,
		Type2:    SuballocationBuffer,
		Conflict: true,
	},
	"Linear Conflicts With Optimal": {
		Type1:    SuballocationImageLinear,
		Type2:    SuballocationImageOptimal,
		Conflict: true,
	},
	"Optimals Dont Conflict": {
		Type1:    SuballocationImageOptimal,
		Type2:    SuballocationImageOptimal,
		Conflict: false,
	},
	"Unknown Image Conflicts With Linear": {
		Type1:    SuballocationImageUnknown,
		Type2:    SuballocationImageLinear,
		Conflict: true,
	},
}

func TestAllocationsConflict(t *testing.T) {
	for testName, testCase := range conflictTestCases {
		t.Run(testName, func(t *testing.T) {
			require.Equal(t, testCase.Conflict, testCase.Type1.ConflictsWith(testCase.Type2))
			require.Equal(t, testCase.Conflict, testCase.Type2.ConflictsWith(testCase.Type1))
		})
	}
}

func TestGranularityRoundUpLow(t *testing.T) {
	granularity := granularityPages{granularity: 256}

	size, alignment := granularity.roundUpRequest(SuballocationImageOptimal, 100, 4)
	require.Equal(t, 256, size)
	require.Equal(t, uint(256), alignment)

	size, alignment = granularity.roundUpRequest(SuballocationImageLinear, 100, 4)
	require.Equal(t, 100, size)
	require.Equal(t, uint(4), alignment)
}

func TestGranularityConflictMovesToNextPage(t *testing.T) {
	granularity := granularityPages{granularity: 1024}
	granularity.init(4096)
	granularity.allocPages(SuballocationImageLinear, 0, 100)

	offset, conflict := granularity.checkConflictAndAlignUp(100, 100, 100, 3996, SuballocationImageOptimal)
	require.False(t, conflict)
	require.Equal(t, 1024, offset)

	offset, conflict = granularity.checkConflictAndAlignUp(100, 100, 100, 3996, SuballocationBuffer)
	require.False(t, conflict)
	require.Equal(t, 100, offset)

	// Not enough room left in the region after moving to the next page
	_, conflict = granularity.checkConflictAndAlignUp(100, 1000, 100, 1000, SuballocationImageOptimal)
	require.True(t, conflict)

	granularity.freePages(0, 100)
	require.Equal(t, pageInfo{allocType: SuballocationFree}, granularity.pages[0])
}
