package suballoc

import "math"

// SuballocationType describes the kind of resource occupying a region of a block. Linear and
// non-linear resources may not share a bufferImageGranularity page.
type SuballocationType uint32

const (
	SuballocationFree SuballocationType = iota
	SuballocationUnknown
	SuballocationBuffer
	SuballocationImageUnknown
	SuballocationImageLinear
	SuballocationImageOptimal
)

var suballocationTypeMapping = map[SuballocationType]string{
	SuballocationFree:         "FREE",
	SuballocationUnknown:      "UNKNOWN",
	SuballocationBuffer:       "BUFFER",
	SuballocationImageUnknown: "IMAGE_UNKNOWN",
	SuballocationImageLinear:  "IMAGE_LINEAR",
	SuballocationImageOptimal: "IMAGE_OPTIMAL",
}

func (t SuballocationType) String() string {
	str, ok := suballocationTypeMapping[t]
	if !ok {
		return "unknown SuballocationType"
	}

	return str
}

// ConflictsWith reports whether two suballocations of these types may not share a
// bufferImageGranularity page
func (t SuballocationType) ConflictsWith(other SuballocationType) bool {
	first, second := t, other
	if first > second {
		first, second = second, first
	}

	switch first {
	case SuballocationFree:
		return false
	case SuballocationUnknown:
		return true
	case SuballocationBuffer:
		return second == SuballocationImageUnknown || second == SuballocationImageOptimal
	case SuballocationImageUnknown:
		return second == SuballocationImageUnknown || second == SuballocationImageLinear ||
			second == SuballocationImageOptimal
	case SuballocationImageLinear:
		return second == SuballocationImageOptimal
	}

	return false
}

// Handle identifies a region (allocated or free) within a single BlockMetadata
type Handle uint64

const NoAllocation Handle = math.MaxUint64
