package zarr

// A mapping of items along one dimension from a chunk to an output array.
type chunkDimProjection struct {
	// Index of chunk.
	DimChunkIX int
	// Selection of items from chunk array, [start, stop).
	DimChunkSel [2]int
	// Selection of items in target (output) array, [start, stop).
	DimOutSel [2]int
}

// projectDim maps the selection [start, stop) of a dimension split into
// chunks of chunkLen items onto the chunks that hold it.
func projectDim(start, stop, chunkLen int) []chunkDimProjection {
	var ps []chunkDimProjection
	for ix := start / chunkLen; ix*chunkLen < stop; ix++ {
		lo := ix * chunkLen
		from, to := start, stop
		if from < lo {
			from = lo
		}
		if hi := lo + chunkLen; to > hi {
			to = hi
		}
		ps = append(ps, chunkDimProjection{
			DimChunkIX:  ix,
			DimChunkSel: [2]int{from - lo, to - lo},
			DimOutSel:   [2]int{from - start, to - start},
		})
	}
	return ps
}
