package chunk

import (
	"fmt"
	"slices"

	"github.com/Faultbox/chunkforge/pkg/model"
	"github.com/Faultbox/chunkforge/pkg/vertex"
)

// key identifies a vertex for deduplication. Records with equal persisted
// fields but different bones are distinct vertices.
type key struct {
	hash uint64
	bone int
}

type packer struct {
	opts    Options
	tris    [][3]vertex.Record
	keys    [][3]key
	adj     map[key][]int
	done    []bool
	queued  []bool
	left    int
	cursor  int
	skinned bool

	res Result
	// index maps a key to its latest position in res.Vertices. Entries
	// below start belong to flushed chunks and are not resident.
	index map[key]int
	start int

	bones  map[int]int
	padded int
	open   [][3]int

	frontier []int
}

// Pack partitions tris into chunks. Vertices are deduplicated within a
// chunk, triangles keep their corner order, and every chunk holds an even
// number of vertices within the cache capacity.
func Pack(tris [][3]vertex.Record, opts Options) (*Result, error) {
	if err := checkOptions(opts); err != nil {
		return nil, err
	}
	p := newPacker(tris, opts)
	if err := p.run(); err != nil {
		return nil, err
	}
	if err := p.res.validate(opts.MaxVertexCount); err != nil {
		return nil, err
	}
	return &p.res, nil
}

func newPacker(tris [][3]vertex.Record, opts Options) *packer {
	p := &packer{
		opts:   opts,
		tris:   tris,
		keys:   make([][3]key, len(tris)),
		adj:    make(map[key][]int),
		done:   make([]bool, len(tris)),
		queued: make([]bool, len(tris)),
		left:   len(tris),
		index:  make(map[key]int),
		bones:  make(map[int]int),
	}
	for i := range tris {
		for j := range tris[i] {
			k := key{tris[i][j].Hash, tris[i][j].Bone}
			p.keys[i][j] = k
			if l := p.adj[k]; len(l) == 0 || l[len(l)-1] != i {
				p.adj[k] = append(l, i)
			}
			if k.bone != model.NoBone {
				p.skinned = true
			}
		}
	}
	return p
}

func (p *packer) run() error {
	for p.left > 0 {
		p.emitResident()
		if p.left == 0 {
			break
		}
		t := p.next()
		if t < 0 {
			if len(p.res.Vertices) == p.start {
				return fmt.Errorf("%w: triangle %d does not fit an empty chunk", ErrCapacity, p.cursorTri())
			}
			if err := p.flush(); err != nil {
				return err
			}
			continue
		}
		p.emit(t)
	}
	return p.flush()
}

func (p *packer) resident(k key) (int, bool) {
	idx, ok := p.index[k]
	return idx, ok && idx >= p.start
}

// missing returns the distinct vertices of t that are not resident.
func (p *packer) missing(t int) (ks [3]key, n int) {
	for _, k := range p.keys[t] {
		if _, ok := p.resident(k); ok || slices.Contains(ks[:n], k) {
			continue
		}
		ks[n] = k
		n++
	}
	return ks, n
}

func even(n int) int {
	return n + n&1
}

func (p *packer) fits(t int) bool {
	ks, n := p.missing(t)
	if !p.skinned {
		return len(p.res.Vertices)-p.start+n <= p.opts.MaxVertexCount
	}
	padded := p.padded
	added := make(map[int]int, 3)
	for _, k := range ks[:n] {
		added[k.bone]++
	}
	for b, a := range added {
		c := p.bones[b]
		padded += even(c+a) - even(c)
	}
	return padded <= p.opts.MaxVertexCount
}

func (p *packer) emit(t int) {
	var tri [3]int
	for j, k := range p.keys[t] {
		idx, ok := p.resident(k)
		if !ok {
			idx = len(p.res.Vertices)
			p.res.Vertices = append(p.res.Vertices, p.tris[t][j])
			p.index[k] = idx
			if p.skinned {
				c := p.bones[k.bone]
				p.padded += even(c+1) - even(c)
				p.bones[k.bone] = c + 1
			}
			for _, a := range p.adj[k] {
				if !p.done[a] && !p.queued[a] {
					p.queued[a] = true
					p.frontier = append(p.frontier, a)
				}
			}
		}
		tri[j] = idx
	}
	p.open = append(p.open, tri)
	p.done[t] = true
	p.left--
}

// emitResident emits, in source order, every frontier triangle whose
// vertices are all resident.
func (p *packer) emitResident() {
	if len(p.res.Vertices) == p.start {
		return
	}
	var ready []int
	for _, t := range p.frontier {
		if p.done[t] {
			continue
		}
		if _, n := p.missing(t); n == 0 {
			ready = append(ready, t)
		}
	}
	slices.Sort(ready)
	for _, t := range ready {
		p.emit(t)
	}
}

// next picks the frontier triangle that needs the fewest new vertices and
// still fits, falling back to the first unprocessed triangle when the
// frontier is empty. It returns -1 when the open chunk must be flushed.
func (p *packer) next() int {
	best, bestNew := -1, 4
	live := p.frontier[:0]
	for _, t := range p.frontier {
		if p.done[t] {
			continue
		}
		live = append(live, t)
		_, n := p.missing(t)
		if (n < bestNew || (n == bestNew && t < best)) && p.fits(t) {
			best, bestNew = t, n
		}
	}
	p.frontier = live
	if best >= 0 || len(live) > 0 {
		return best
	}
	if c := p.cursorTri(); c >= 0 && p.fits(c) {
		return c
	}
	return -1
}

func (p *packer) cursorTri() int {
	for p.cursor < len(p.done) && p.done[p.cursor] {
		p.cursor++
	}
	if p.cursor == len(p.done) {
		return -1
	}
	return p.cursor
}

// flush closes the open chunk. A chunk spanning several bones is rewritten
// into one load per bone, in order of first use, each padded to an even
// count. Only the last load of the sequence draws.
func (p *packer) flush() error {
	verts := p.res.Vertices[p.start:]
	if len(verts) == 0 {
		return nil
	}
	first := len(p.res.Chunks)
	bones := boneOrder(verts)

	remap := make([]int, len(verts))
	sorted := make([]vertex.Record, 0, len(verts)+len(bones))
	for _, b := range bones {
		dest := len(sorted)
		for i := range verts {
			if verts[i].Bone == b {
				remap[i] = len(sorted)
				sorted = append(sorted, verts[i])
			}
		}
		if (len(sorted)-dest)%2 == 1 {
			sorted = append(sorted, sorted[len(sorted)-1])
		}
		p.res.Chunks = append(p.res.Chunks, Chunk{
			VertexOffset: p.start + dest,
			VertexCount:  len(sorted) - dest,
			DestOffset:   dest,
			Bone:         b,
			Material:     p.opts.Material,
			SeqStart:     first,
			SeqCount:     len(bones),
			Preload:      true,
		})
	}
	if len(sorted) > p.opts.MaxVertexCount {
		return fmt.Errorf("%w: flush of %d vertices", ErrCapacity, len(sorted))
	}
	p.res.Vertices = append(p.res.Vertices[:p.start], sorted...)

	last := &p.res.Chunks[len(p.res.Chunks)-1]
	last.Preload = false
	last.Indices = make([]uint8, 0, 3*len(p.open))
	for _, tri := range p.open {
		for _, v := range tri {
			last.Indices = append(last.Indices, uint8(remap[v-p.start]))
		}
	}
	for i := first; i < len(p.res.Chunks); i++ {
		c := &p.res.Chunks[i]
		c.BoundsMin, c.BoundsMax = vertex.Bounds(p.res.Vertices[c.VertexOffset : c.VertexOffset+c.VertexCount])
	}

	p.start = len(p.res.Vertices)
	p.padded = 0
	clear(p.bones)
	p.open = p.open[:0]
	return nil
}
