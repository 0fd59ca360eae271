package boxfile

// ChunkFile splits data into self-contained block plans using the
// monotonic block-size steps of BlockSizeFor, folding a short trailing
// block into its predecessor rather than emitting it as its own block
// (spec edge case: "final short block < small threshold is folded into
// the preceding block"). Used both for plain full uploads and by the
// diff engine when it abandons patching in favour of a full object.
func ChunkFile(data []byte) []BlockPlan {
	if len(data) == 0 {
		return nil
	}
	size := BlockSizeFor(int64(len(data)))

	var bounds []int
	for off := 0; off < len(data); off += size {
		bounds = append(bounds, off)
	}
	bounds = append(bounds, len(data))

	// Fold a short trailing block into its predecessor.
	if len(bounds) > 2 {
		last := bounds[len(bounds)-1] - bounds[len(bounds)-2]
		if last < foldThreshold {
			bounds = append(bounds[:len(bounds)-2], bounds[len(bounds)-1])
		}
	}

	plans := make([]BlockPlan, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		plans = append(plans, SelfBlock(data[bounds[i]:bounds[i+1]]))
	}
	return plans
}
