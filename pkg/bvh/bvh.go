// Package bvh builds the bounding volume hierarchy the runtime culls objects
// with, and encodes it into compact 14-byte nodes.
package bvh

import (
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/chunkforge/pkg/model"
)

// NodeSize is the encoded size of one node.
const NodeSize = 14

const (
	countBits   = 4
	maxLeafSize = 1<<countBits - 1
	maxPayload  = 1<<(15-countBits) - 1
)

var (
	ErrPayloadOverflow = fmt.Errorf("%w: bvh node payload does not fit", model.ErrInvariant)
	ErrTooManyPrims    = fmt.Errorf("%w: too many bvh primitives", model.ErrInput)
)

// Box is an axis-aligned box in fixed-point units.
type Box struct {
	Min, Max [3]int16
}

// Union returns the smallest box holding both.
func (b Box) Union(o Box) Box {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], o.Min[i])
		b.Max[i] = max(b.Max[i], o.Max[i])
	}
	return b
}

// Node is one encoded tree node. For a leaf, Value holds the first entry in
// Prims in its upper bits and the primitive count in the low four bits. For
// an inner node the count is zero and the upper bits hold the distance to
// the first of its two adjacent children.
type Node struct {
	Box   Box
	Value int16
}

// IsLeaf reports whether the node references primitives.
func (n Node) IsLeaf() bool {
	return n.Value&maxLeafSize != 0
}

// Leaf returns the primitive range of a leaf.
func (n Node) Leaf() (start, count int) {
	return int(n.Value >> countBits), int(n.Value & maxLeafSize)
}

// ChildOffset returns the distance from an inner node to its first child.
func (n Node) ChildOffset() int {
	return int(n.Value >> countBits)
}

// Tree is a flattened hierarchy rooted at Nodes[0].
type Tree struct {
	Nodes []Node
	// Prims maps leaf ranges to primitive ids.
	Prims []int16
}

// Size returns the encoded size of the tree.
func (t *Tree) Size() int {
	return 4 + len(t.Nodes)*NodeSize + len(t.Prims)*2
}

// Encode appends the node count, primitive count, nodes and primitive ids.
func (t *Tree) Encode(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(t.Nodes)))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(t.Prims)))
	for _, n := range t.Nodes {
		for i := 0; i < 3; i++ {
			dst = binary.BigEndian.AppendUint16(dst, uint16(n.Box.Min[i]))
		}
		for i := 0; i < 3; i++ {
			dst = binary.BigEndian.AppendUint16(dst, uint16(n.Box.Max[i]))
		}
		dst = binary.BigEndian.AppendUint16(dst, uint16(n.Value))
	}
	for _, p := range t.Prims {
		dst = binary.BigEndian.AppendUint16(dst, uint16(p))
	}
	return dst
}

// Decode parses a tree written by Encode.
func Decode(src []byte) (*Tree, error) {
	if len(src) < 4 {
		return nil, fmt.Errorf("%w: short bvh header", model.ErrInput)
	}
	nodes := int(binary.BigEndian.Uint16(src[0:]))
	prims := int(binary.BigEndian.Uint16(src[2:]))
	if len(src) < 4+nodes*NodeSize+prims*2 {
		return nil, fmt.Errorf("%w: truncated bvh (%d nodes, %d prims)", model.ErrInput, nodes, prims)
	}
	t := &Tree{Nodes: make([]Node, nodes), Prims: make([]int16, prims)}
	off := 4
	rd := func() int16 {
		v := int16(binary.BigEndian.Uint16(src[off:]))
		off += 2
		return v
	}
	for i := range t.Nodes {
		n := &t.Nodes[i]
		for c := 0; c < 3; c++ {
			n.Box.Min[c] = rd()
		}
		for c := 0; c < 3; c++ {
			n.Box.Max[c] = rd()
		}
		n.Value = rd()
	}
	for i := range t.Prims {
		t.Prims[i] = rd()
	}
	return t, nil
}
