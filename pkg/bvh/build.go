package bvh

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Options controls tree construction.
type Options struct {
	// MaxLeafSize is the largest primitive count of a leaf, at most 15.
	MaxLeafSize int
	// Bins is the number of SAH buckets per axis.
	Bins int
	// TraversalCost is the cost of visiting an inner node relative to
	// testing one primitive.
	TraversalCost float32
}

// DefaultOptions returns the construction settings used by the compiler.
func DefaultOptions() Options {
	return Options{MaxLeafSize: 4, Bins: 12, TraversalCost: 1}
}

type buildNode struct {
	box         Box
	prims       []int
	left, right *buildNode
}

type builder struct {
	opts  Options
	boxes []Box
}

// Build constructs a tree over boxes; primitive ids are indices into boxes.
// Inner nodes split along the axis and bucket boundary with the lowest
// surface area heuristic cost. An empty input yields an empty tree.
func Build(boxes []Box, opts Options) (*Tree, error) {
	if len(boxes) == 0 {
		return &Tree{}, nil
	}
	if len(boxes) > maxPayload+1 {
		return nil, fmt.Errorf("%w: %d", ErrTooManyPrims, len(boxes))
	}
	opts.MaxLeafSize = max(1, min(opts.MaxLeafSize, maxLeafSize))
	opts.Bins = max(opts.Bins, 2)

	b := &builder{opts: opts, boxes: boxes}
	prims := make([]int, len(boxes))
	for i := range prims {
		prims[i] = i
	}
	root := b.build(prims)

	t := &Tree{Nodes: make([]Node, 1)}
	if err := t.place(root, 0); err != nil {
		return nil, err
	}
	return t, nil
}

func (b *builder) bounds(prims []int) Box {
	box := b.boxes[prims[0]]
	for _, p := range prims[1:] {
		box = box.Union(b.boxes[p])
	}
	return box
}

func area(b Box) float32 {
	dx := float32(b.Max[0]) - float32(b.Min[0])
	dy := float32(b.Max[1]) - float32(b.Min[1])
	dz := float32(b.Max[2]) - float32(b.Min[2])
	return 2 * (dx*dy + dy*dz + dz*dx)
}

func centroid(b Box, axis int) float32 {
	return (float32(b.Min[axis]) + float32(b.Max[axis])) / 2
}

type bin struct {
	box   Box
	count int
}

func (b *builder) build(prims []int) *buildNode {
	n := &buildNode{box: b.bounds(prims)}
	if len(prims) == 1 {
		n.prims = prims
		return n
	}

	axis, split, cost := b.bestSplit(prims)
	leafCost := float32(len(prims))
	if len(prims) <= b.opts.MaxLeafSize && (axis < 0 || cost >= leafCost) {
		n.prims = prims
		return n
	}

	var left, right []int
	if axis >= 0 {
		lo, hi := b.centroidRange(prims, axis)
		for _, p := range prims {
			if b.binOf(centroid(b.boxes[p], axis), lo, hi) < split {
				left = append(left, p)
			} else {
				right = append(right, p)
			}
		}
	}
	if len(left) == 0 || len(right) == 0 {
		// Coincident centroids: split by order.
		mid := len(prims) / 2
		left = append([]int(nil), prims[:mid]...)
		right = append([]int(nil), prims[mid:]...)
	}
	n.left = b.build(left)
	n.right = b.build(right)
	return n
}

func (b *builder) centroidRange(prims []int, axis int) (lo, hi float32) {
	lo, hi = math32.Inf(1), math32.Inf(-1)
	for _, p := range prims {
		c := centroid(b.boxes[p], axis)
		lo = math32.Min(lo, c)
		hi = math32.Max(hi, c)
	}
	return lo, hi
}

func (b *builder) binOf(c, lo, hi float32) int {
	i := int(float32(b.opts.Bins) * (c - lo) / (hi - lo))
	return min(max(i, 0), b.opts.Bins-1)
}

// bestSplit returns the axis and bucket index of the cheapest split, with
// its cost in units of primitive tests. axis is -1 when all centroids
// coincide.
func (b *builder) bestSplit(prims []int) (axis, split int, cost float32) {
	axis, cost = -1, math32.Inf(1)
	parentArea := area(b.bounds(prims))
	if parentArea <= 0 {
		parentArea = 1
	}
	bins := make([]bin, b.opts.Bins)
	for a := 0; a < 3; a++ {
		lo, hi := b.centroidRange(prims, a)
		if hi <= lo {
			continue
		}
		clear(bins)
		for _, p := range prims {
			i := b.binOf(centroid(b.boxes[p], a), lo, hi)
			if bins[i].count == 0 {
				bins[i].box = b.boxes[p]
			} else {
				bins[i].box = bins[i].box.Union(b.boxes[p])
			}
			bins[i].count++
		}
		for s := 1; s < len(bins); s++ {
			lc, rc := 0, 0
			var lb, rb Box
			for i := 0; i < s; i++ {
				lb, lc = grow(lb, lc, bins[i])
			}
			for i := s; i < len(bins); i++ {
				rb, rc = grow(rb, rc, bins[i])
			}
			if lc == 0 || rc == 0 {
				continue
			}
			c := b.opts.TraversalCost + (area(lb)*float32(lc)+area(rb)*float32(rc))/parentArea
			if c < cost {
				axis, split, cost = a, s, c
			}
		}
	}
	return axis, split, cost
}

func grow(box Box, count int, b bin) (Box, int) {
	if b.count == 0 {
		return box, count
	}
	if count == 0 {
		return b.box, b.count
	}
	return box.Union(b.box), count + b.count
}

// place writes n at index idx. Children of an inner node are reserved as an
// adjacent pair at the end of the node array.
func (t *Tree) place(n *buildNode, idx int) error {
	t.Nodes[idx].Box = n.box
	if n.left == nil {
		start := len(t.Prims)
		if start > maxPayload {
			return fmt.Errorf("%w: primitive offset %d", ErrPayloadOverflow, start)
		}
		if len(n.prims) > maxLeafSize {
			return fmt.Errorf("%w: leaf of %d primitives", ErrPayloadOverflow, len(n.prims))
		}
		for _, p := range n.prims {
			t.Prims = append(t.Prims, int16(p))
		}
		t.Nodes[idx].Value = int16(start<<countBits | len(n.prims))
		return nil
	}
	child := len(t.Nodes)
	offset := child - idx
	if offset > maxPayload {
		return fmt.Errorf("%w: child offset %d", ErrPayloadOverflow, offset)
	}
	t.Nodes[idx].Value = int16(offset << countBits)
	t.Nodes = append(t.Nodes, Node{}, Node{})
	if err := t.place(n.left, child); err != nil {
		return err
	}
	return t.place(n.right, child+1)
}
