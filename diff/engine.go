// Package diff implements the patch-producing differencing engine:
// given new local data and the block index of an older stored object,
// it emits a sequence of block plans that are either self-contained
// (fresh cleartext) or references into the prior object, for
// boxfile.WriteObject to encode.
package diff

import (
	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxerrors"
	"boxbackup.io/boxfile"
)

// Options tunes the diff sweep. The zero value is usable; fields left
// at zero fall back to sane defaults.
type Options struct {
	// MinCandidateSize is the smallest prior block size considered
	// for matching. Zero selects defaultMinCandidateSize.
	MinCandidateSize uint32
	// MaxCandidateSizes bounds how many distinct prior block sizes
	// are tried at each offset. Zero selects defaultMaxCandidateSizes.
	MaxCandidateSizes int
	// ResidueBudget is the number of unmatched bytes allowed to
	// accumulate before they are flushed as a self-block. Zero
	// selects a size appropriate to the input's own chunking.
	ResidueBudget int
	// MinMatchRatio is the fraction of the file that must end up
	// covered by references for the result to be kept as a patch;
	// below it, Diff abandons patching and returns a full object.
	// Zero selects 0.5.
	MinMatchRatio float64
	// Cancel, if non-nil, is checked once per candidate window; once
	// cancelled the sweep flushes its residue and returns a
	// well-formed partial patch without referencing any further
	// blocks.
	Cancel *CancelToken
}

func (o Options) withDefaults() Options {
	if o.MinCandidateSize == 0 {
		o.MinCandidateSize = defaultMinCandidateSize
	}
	if o.MaxCandidateSizes == 0 {
		o.MaxCandidateSizes = defaultMaxCandidateSizes
	}
	if o.ResidueBudget == 0 {
		o.ResidueBudget = boxfile.MaxBlockSize
	}
	if o.MinMatchRatio == 0 {
		o.MinMatchRatio = 0.5
	}
	return o
}

// Result is the outcome of a diff.
type Result struct {
	Plans                 []boxfile.BlockPlan
	IsCompletelyDifferent bool
	BytesMatched          int
	BytesTotal            int
}

// Diff compares data against priorID's block index (already bucketed
// into a *PriorBlocks) and returns the block plans for the new object.
func Diff(data []byte, priorID box.ObjectID, prior *PriorBlocks, opts Options) (*Result, error) {
	const op = "diff.Diff"
	opts = opts.withDefaults()

	if len(data) == 0 {
		return &Result{IsCompletelyDifferent: true}, nil
	}
	var sizes []uint32
	if prior != nil {
		for _, size := range prior.sizes {
			if size >= opts.MinCandidateSize && len(sizes) < opts.MaxCandidateSizes {
				sizes = append(sizes, size)
			}
		}
	}
	if len(sizes) == 0 {
		return &Result{Plans: boxfile.ChunkFile(data), IsCompletelyDifferent: true, BytesTotal: len(data)}, nil
	}

	var plans []boxfile.BlockPlan
	var residue []byte
	matched := 0
	pos := 0

	windows := make(map[uint32]*boxcrypto.RollingChecksum, len(sizes))
	resetWindows := func(at int) {
		for size := range windows {
			delete(windows, size)
		}
		for _, size := range sizes {
			end := at + int(size)
			if end > len(data) {
				continue
			}
			windows[size] = boxcrypto.NewRollingChecksum(data[at:end])
		}
	}
	resetWindows(pos)

	flushResidue := func() {
		if len(residue) == 0 {
			return
		}
		plans = append(plans, boxfile.ChunkFile(residue)...)
		residue = nil
	}

	for pos < len(data) {
		if opts.Cancel.Cancelled() {
			break
		}

		matchedHere := false
		for _, size := range sizes {
			w, ok := windows[size]
			if !ok {
				continue
			}
			weak := w.Value()
			for _, ordinal := range prior.candidates(size, weak) {
				entry := prior.entry(ordinal)
				window := data[pos : pos+int(size)]
				if boxcrypto.StrongHash(window) != entry.Strong {
					continue
				}
				flushResidue()
				plans = append(plans, boxfile.ReferenceBlock(priorID, uint32(ordinal), entry.Size, entry.Weak, entry.Strong))
				matched += int(size)
				pos += int(size)
				resetWindows(pos)
				matchedHere = true
				break
			}
			if matchedHere {
				break
			}
		}
		if matchedHere {
			continue
		}

		residue = append(residue, data[pos])
		if len(residue) >= opts.ResidueBudget {
			flushResidue()
		}
		for size, w := range windows {
			next := pos + int(size)
			if next >= len(data) {
				delete(windows, size)
				continue
			}
			w.Roll(data[pos], data[next])
		}
		pos++
	}
	if pos < len(data) {
		residue = append(residue, data[pos:]...)
	}
	flushResidue()

	ratio := float64(matched) / float64(len(data))
	hasReference := false
	for _, p := range plans {
		if p.IsReference {
			hasReference = true
			break
		}
	}
	if !hasReference || ratio < opts.MinMatchRatio {
		return &Result{
			Plans:                 boxfile.ChunkFile(data),
			IsCompletelyDifferent: true,
			BytesMatched:          matched,
			BytesTotal:            len(data),
		}, nil
	}

	if err := validatePlans(plans, len(data)); err != nil {
		return nil, boxerrors.E(op, boxerrors.Integrity, err)
	}

	return &Result{
		Plans:                 plans,
		IsCompletelyDifferent: false,
		BytesMatched:          matched,
		BytesTotal:            len(data),
	}, nil
}

// validatePlans checks that the plan sequence accounts for exactly the
// logical file length, per the wire-format invariant that a patch must
// list every block of the file in order.
func validatePlans(plans []boxfile.BlockPlan, total int) error {
	sum := 0
	for _, p := range plans {
		sum += int(p.Size)
	}
	if sum != total {
		return boxerrors.Errorf("patch block plans cover %d bytes, want %d", sum, total)
	}
	return nil
}
