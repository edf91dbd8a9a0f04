package suballoc

import (
	"math/bits"

	"github.com/cockroachdb/errors"
)

// MaxLowBufferImageGranularity is the largest bufferImageGranularity that is handled by padding
// requests instead of tracking per-page occupancy
const MaxLowBufferImageGranularity uint = 256

type pageInfo struct {
	allocType  SuballocationType
	allocCount uint16
}

// granularityPages tracks which kind of resource occupies each bufferImageGranularity page of a
// block, so that linear and non-linear resources are never placed on the same page
type granularityPages struct {
	granularity uint
	pages       []pageInfo
}

func (g *granularityPages) init(size int) {
	if !g.enabled() {
		return
	}

	count := size / int(g.granularity)
	if size%int(g.granularity) > 0 {
		count++
	}

	g.pages = make([]pageInfo, count)
}

func (g *granularityPages) enabled() bool {
	return g.granularity > MaxLowBufferImageGranularity
}

// roundUpRequest pads non-linear requests out to the granularity when the granularity is small
// enough that paging is not worthwhile
func (g *granularityPages) roundUpRequest(allocType SuballocationType, allocSize int, allocAlignment uint) (int, uint) {
	if g.granularity > 1 && g.granularity <= MaxLowBufferImageGranularity &&
		(allocType == SuballocationUnknown ||
			allocType == SuballocationImageUnknown ||
			allocType == SuballocationImageOptimal) {

		if allocAlignment < g.granularity {
			allocAlignment = g.granularity
		}

		allocSize = AlignUp(allocSize, g.granularity)
	}

	return allocSize, allocAlignment
}

// checkConflictAndAlignUp moves allocOffset to the next page when the page it starts on holds a
// conflicting resource. It returns true when the allocation cannot be placed inside the region.
func (g *granularityPages) checkConflictAndAlignUp(allocOffset, allocSize, regionOffset, regionSize int, allocType SuballocationType) (int, bool) {
	if !g.enabled() {
		return allocOffset, false
	}

	startPage := g.startPage(allocOffset)
	if g.pages[startPage].allocCount > 0 && g.pages[startPage].allocType.ConflictsWith(allocType) {
		allocOffset = AlignUp(allocOffset, g.granularity)

		if regionSize < allocSize+allocOffset-regionOffset {
			return allocOffset, true
		}

		startPage++
	}

	if allocOffset+allocSize > regionOffset+regionSize {
		return allocOffset, true
	}

	endPage := g.endPage(allocOffset, allocSize)
	if endPage != startPage && g.pages[endPage].allocCount > 0 && g.pages[endPage].allocType.ConflictsWith(allocType) {
		return allocOffset, true
	}

	return allocOffset, false
}

func (g *granularityPages) allocPages(allocType SuballocationType, offset, size int) {
	if !g.enabled() {
		return
	}

	startPage := g.startPage(offset)
	g.pages[startPage].add(allocType)

	endPage := g.endPage(offset, size)
	if startPage != endPage {
		g.pages[endPage].add(allocType)
	}
}

func (g *granularityPages) freePages(offset, size int) {
	if !g.enabled() {
		return
	}

	startPage := g.startPage(offset)
	g.pages[startPage].remove()

	endPage := g.endPage(offset, size)
	if startPage != endPage {
		g.pages[endPage].remove()
	}
}

func (g *granularityPages) startValidation() []uint16 {
	if !g.enabled() {
		return nil
	}

	return make([]uint16, len(g.pages))
}

func (g *granularityPages) validate(counts []uint16, offset, size int) error {
	if !g.enabled() {
		return nil
	}

	start := g.startPage(offset)
	counts[start]++
	if g.pages[start].allocCount < 1 {
		return errors.Newf("no allocations in start page %d", start)
	}

	end := g.endPage(offset, size)
	if start != end {
		counts[end]++
		if g.pages[end].allocCount < 1 {
			return errors.Newf("no allocations in end page %d", end)
		}
	}

	return nil
}

func (g *granularityPages) finishValidation(counts []uint16) error {
	if !g.enabled() {
		return nil
	}

	for pageIndex, page := range g.pages {
		if counts[pageIndex] != page.allocCount {
			return errors.Newf("allocation count mismatch on page %d: tracked %d, found %d", pageIndex, page.allocCount, counts[pageIndex])
		}
	}

	return nil
}

func (g *granularityPages) startPage(offset int) int {
	return g.pageIndex(AlignDown(offset, g.granularity))
}

func (g *granularityPages) endPage(offset, size int) int {
	return g.pageIndex(AlignDown(offset+size-1, g.granularity))
}

func (g *granularityPages) pageIndex(offset int) int {
	return offset >> bits.TrailingZeros(g.granularity)
}

func (p *pageInfo) add(allocType SuballocationType) {
	if p.allocCount == 0 || p.allocType == SuballocationFree {
		p.allocType = allocType
	}

	p.allocCount++
}

func (p *pageInfo) remove() {
	if p.allocCount == 0 {
		panic("freed a granularity page that has no allocations")
	}

	p.allocCount--
	if p.allocCount == 0 {
		p.allocType = SuballocationFree
	}
}
