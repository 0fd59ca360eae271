package diff

import (
	"sort"

	"boxbackup.io/boxfile"
)

// defaultMinCandidateSize is the smallest block size diffing will try
// to match; entries in the prior index smaller than this are ignored,
// bounding the cost of the weak-checksum sweep on files with many tiny
// blocks.
const defaultMinCandidateSize = 512

// defaultMaxCandidateSizes bounds how many distinct block sizes the
// sweep tries at each offset.
const defaultMaxCandidateSizes = 4

// PriorBlocks is a searchable index over a previously stored object's
// block index, organised the way the sweep needs it: one weak-checksum
// hash table per candidate block size.
type PriorBlocks struct {
	entries []boxfile.IndexEntry
	bySize  map[uint32]map[uint32][]int // size -> weak checksum -> ordinals into entries
	sizes   []uint32                    // distinct candidate sizes, descending
}

// NewPriorBlocks buckets a prior object's index by block size, keeping
// at most maxSizes distinct sizes (the largest, to prefer coarse
// matches) and ignoring any block smaller than minSize.
func NewPriorBlocks(index []boxfile.IndexEntry, minSize uint32, maxSizes int) *PriorBlocks {
	if minSize == 0 {
		minSize = defaultMinCandidateSize
	}
	if maxSizes <= 0 {
		maxSizes = defaultMaxCandidateSizes
	}

	bySize := make(map[uint32]map[uint32][]int)
	for ordinal, e := range index {
		if e.Size < minSize {
			continue
		}
		m, ok := bySize[e.Size]
		if !ok {
			m = make(map[uint32][]int)
			bySize[e.Size] = m
		}
		m[e.Weak] = append(m[e.Weak], ordinal)
	}

	sizes := make([]uint32, 0, len(bySize))
	for size := range bySize {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] > sizes[j] })
	if len(sizes) > maxSizes {
		sizes = sizes[:maxSizes]
	}

	return &PriorBlocks{entries: index, bySize: bySize, sizes: sizes}
}

// candidates returns the ordinals of prior blocks of the given size
// whose weak checksum equals weak.
func (p *PriorBlocks) candidates(size, weak uint32) []int {
	m, ok := p.bySize[size]
	if !ok {
		return nil
	}
	return m[weak]
}

func (p *PriorBlocks) entry(ordinal int) boxfile.IndexEntry { return p.entries[ordinal] }
