package strip

import (
	"slices"
)

// Options bounds the strips emitted for one chunk.
type Options struct {
	// MaxBuffers is the number of strip buffers per chunk.
	MaxBuffers int
	// MaxLength is the number of indices a buffer can hold.
	MaxLength int
	// SlotBytes is the scratch memory the runtime has per free cache slot.
	SlotBytes int
	// MinIndices is the smallest total strip length worth emitting.
	MinIndices int
	// MaxVertexCount is the vertex cache capacity.
	MaxVertexCount int
}

// DefaultOptions returns the limits of the target runtime.
func DefaultOptions() Options {
	return Options{
		MaxBuffers:     4,
		MaxLength:      255,
		SlotBytes:      16,
		MinIndices:     12,
		MaxVertexCount: 70,
	}
}

// Result is a chunk's triangles split between strips and a plain list.
type Result struct {
	Indices []uint8
	Strips  [][]uint16
}

func align8(n int) int {
	return (n + 7) &^ 7
}

func bufferCost(buffers [][]uint16) int {
	n := 0
	for _, b := range buffers {
		n += align8(2 * len(b))
	}
	return n
}

// Encode converts the triangle list indices of a chunk into strips where the
// strips fit the scratch memory left behind the cacheUsed slots. Strips are
// placed in order of their highest index, each into the first buffer that
// has room; strips that do not fit go back to the list. A strip appended
// behind another one starts with the Restart flag. Chunks whose strips
// would be too short are returned unchanged.
func Encode(indices []uint8, cacheUsed int, opts Options) Result {
	unchanged := Result{Indices: indices}
	tris := make([][3]int, len(indices)/3)
	for i := range tris {
		tris[i] = [3]int{int(indices[3*i]), int(indices[3*i+1]), int(indices[3*i+2])}
	}
	strips, rest := Stripify(tris, opts.MaxLength)

	total := 0
	for _, s := range strips {
		total += len(s.Indices)
	}
	if total < opts.MinIndices {
		return unchanged
	}

	slices.SortStableFunc(strips, func(a, b Strip) int {
		return slices.Max(a.Indices) - slices.Max(b.Indices)
	})

	budget := (opts.MaxVertexCount - cacheUsed) * opts.SlotBytes
	buffers := make([][]uint16, opts.MaxBuffers)
	for _, s := range strips {
		placed := false
		for b := range buffers {
			n := len(buffers[b]) + len(s.Indices)
			if n > opts.MaxLength {
				continue
			}
			cost := bufferCost(buffers) - align8(2*len(buffers[b])) + align8(2*n)
			if cost > budget {
				continue
			}
			for k, idx := range s.Indices {
				v := uint16(idx)
				if k == 0 && len(buffers[b]) > 0 {
					v |= Restart
				}
				buffers[b] = append(buffers[b], v)
			}
			placed = true
			break
		}
		if !placed {
			rest = append(rest, s.Triangles...)
		}
	}

	buffers = slices.DeleteFunc(buffers, func(b []uint16) bool { return len(b) == 0 })
	if len(buffers) == 0 {
		return unchanged
	}
	slices.Sort(rest)
	out := Result{Indices: make([]uint8, 0, 3*len(rest)), Strips: buffers}
	for _, t := range rest {
		out.Indices = append(out.Indices, indices[3*t], indices[3*t+1], indices[3*t+2])
	}
	return out
}
