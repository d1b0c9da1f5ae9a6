// Package chunk partitions a triangle list into chunks whose vertices fit the
// runtime vertex cache.
//
// A chunk loads a contiguous run of vertices into cache slots starting at its
// destination offset and then draws triangles whose indices are cache slots.
// Skinned meshes need every load to use a single bone matrix, so a flush that
// touched several bones is split into a sequence: one load per bone into
// disjoint slot ranges, with the triangles attached to the last load.
package chunk

import (
	"fmt"
	"slices"

	"github.com/Faultbox/chunkforge/pkg/model"
	"github.com/Faultbox/chunkforge/pkg/strip"
	"github.com/Faultbox/chunkforge/pkg/vertex"
)

// DefaultMaxVertexCount is the vertex cache capacity of the target runtime.
const DefaultMaxVertexCount = 70

var (
	ErrCapacity    = fmt.Errorf("%w: chunk exceeds vertex cache capacity", model.ErrInvariant)
	ErrOddCount    = fmt.Errorf("%w: chunk vertex count is odd", model.ErrInvariant)
	ErrBadCapacity = fmt.Errorf("%w: vertex cache capacity must be even and between 6 and 254", model.ErrInput)
)

// Options configures the packer.
type Options struct {
	MaxVertexCount int
	// Material is copied to every chunk.
	Material int
}

// Chunk is one vertex load and, unless it preloads for a later chunk, the
// triangles drawn after it.
type Chunk struct {
	// VertexOffset is the first vertex of the load in the mesh vertex buffer.
	VertexOffset int
	VertexCount  int
	// DestOffset is the first cache slot the load writes.
	DestOffset int
	// Indices holds three cache slots per triangle. Nil for preload chunks.
	Indices []uint8
	// Strips holds strip buffers set by the strip encoder.
	Strips   [][]uint16
	Bone     int
	Material int
	// Preload is set when the chunk only loads vertices for a later chunk
	// of the same sequence.
	Preload bool
	// SeqStart and SeqCount identify the chunks emitted by one flush.
	SeqStart int
	SeqCount int
	// BoundsMin and BoundsMax span the loaded vertices in fixed point.
	BoundsMin, BoundsMax [3]int16
}

// CacheUsed returns the number of cache slots occupied once the chunk and
// its preloads are resident.
func (c *Chunk) CacheUsed() int {
	return c.DestOffset + c.VertexCount
}

// TriangleCount returns the number of triangles drawn by the chunk,
// whether they are stored as a list or as strips.
func (c *Chunk) TriangleCount() int {
	n := len(c.Indices) / 3
	for _, s := range c.Strips {
		n += len(strip.Decode(s))
	}
	return n
}

// Result is the packed form of one mesh.
type Result struct {
	Vertices []vertex.Record
	Chunks   []Chunk
}

// Triangles returns every drawn triangle with its vertices resolved through
// the cache slots.
func (r *Result) Triangles() ([][3]vertex.Record, error) {
	var tris [][3]vertex.Record
	var cache [256]int
	for ci := range r.Chunks {
		c := &r.Chunks[ci]
		for i := 0; i < c.VertexCount; i++ {
			cache[c.DestOffset+i] = c.VertexOffset + i
		}
		if c.Preload {
			continue
		}
		emit := func(a, b, d int) error {
			if a >= c.CacheUsed() || b >= c.CacheUsed() || d >= c.CacheUsed() {
				return fmt.Errorf("%w: chunk %d references slot beyond %d", model.ErrInvariant, ci, c.CacheUsed())
			}
			tris = append(tris, [3]vertex.Record{r.Vertices[cache[a]], r.Vertices[cache[b]], r.Vertices[cache[d]]})
			return nil
		}
		for i := 0; i+2 < len(c.Indices); i += 3 {
			if err := emit(int(c.Indices[i]), int(c.Indices[i+1]), int(c.Indices[i+2])); err != nil {
				return nil, err
			}
		}
		for _, s := range c.Strips {
			for _, t := range strip.Decode(s) {
				if err := emit(t[0], t[1], t[2]); err != nil {
					return nil, err
				}
			}
		}
	}
	return tris, nil
}

// validate checks the capacity and parity of every chunk.
func (r *Result) validate(maxCount int) error {
	for i := range r.Chunks {
		c := &r.Chunks[i]
		if c.CacheUsed() > maxCount {
			return fmt.Errorf("%w: chunk %d uses %d slots", ErrCapacity, i, c.CacheUsed())
		}
		if c.VertexCount%2 != 0 {
			return fmt.Errorf("%w: chunk %d has %d vertices", ErrOddCount, i, c.VertexCount)
		}
	}
	if len(r.Vertices)%2 != 0 {
		return fmt.Errorf("%w: vertex buffer has %d vertices", ErrOddCount, len(r.Vertices))
	}
	return nil
}

func checkOptions(opts Options) error {
	if opts.MaxVertexCount < 6 || opts.MaxVertexCount > 254 || opts.MaxVertexCount%2 != 0 {
		return fmt.Errorf("%w (got %d)", ErrBadCapacity, opts.MaxVertexCount)
	}
	return nil
}

// boneOrder returns the distinct bones of vs in order of first appearance.
func boneOrder(vs []vertex.Record) []int {
	var bones []int
	for i := range vs {
		if !slices.Contains(bones, vs[i].Bone) {
			bones = append(bones, vs[i].Bone)
		}
	}
	return bones
}
