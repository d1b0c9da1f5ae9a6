package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/Faultbox/chunkforge/pkg/anim"
	"github.com/Faultbox/chunkforge/pkg/bvh"
	"github.com/Faultbox/chunkforge/pkg/chunk"
	"github.com/Faultbox/chunkforge/pkg/model"
	"github.com/Faultbox/chunkforge/pkg/vertex"
)

// Object is one packed mesh.
type Object struct {
	Name      string
	Material  int
	Vertices  []vertex.Record
	Chunks    []chunk.Chunk
	Triangles int
}

// Empty reports whether the object has no chunks and so no bounds.
func (o *Object) Empty() bool {
	return len(o.Chunks) == 0
}

// Bounds returns the union of the chunk boxes, or a zero box for an empty
// object.
func (o *Object) Bounds() bvh.Box {
	var b bvh.Box
	for i := range o.Chunks {
		cb := bvh.Box{Min: o.Chunks[i].BoundsMin, Max: o.Chunks[i].BoundsMax}
		if i == 0 {
			b = cb
			continue
		}
		b = b.Union(cb)
	}
	return b
}

// Animation is a compressed clip and the name of its keyframe side file.
type Animation struct {
	Clip       *anim.Clip
	StreamPath string
}

// Scene is everything written into one container.
type Scene struct {
	Objects        []Object
	Materials      []model.Material
	Bones          []model.Bone
	Animations     []Animation
	TicksPerSecond int
	// BVH is optional; its primitive ids are object indices.
	BVH *bvh.Tree
}

// PathHash returns the 32-bit hash the runtime uses to look up textures.
func PathHash(path string) uint32 {
	return uint32(xxhash.Sum64String(path))
}

type entry struct {
	kind   byte
	offset int
}

type partRef struct {
	vertexByte int
	indexByte  int
	strips     [maxStripBuffers]int
}

// writer threads the output state through the chunk encoders.
type writer struct {
	scene   *Scene
	buf     []byte
	pool    *StringPool
	entries []entry

	vertices []byte
	indices  []byte
	parts    [][]partRef
	idxCount int
}

// Write serializes the scene. The output depends only on the scene.
func Write(s *Scene) ([]byte, error) {
	w := &writer{scene: s, pool: NewStringPool()}
	if err := w.buildStreams(); err != nil {
		return nil, err
	}

	count := len(s.Objects) + 2 + len(s.Materials) + len(s.Animations)
	if len(s.Bones) > 0 {
		count++
	}
	if s.BVH != nil {
		count++
	}
	w.buf = make([]byte, HeaderSize+4*count)

	for i := range s.Objects {
		if err := w.chunk(KindObject, func(b []byte) ([]byte, error) { return w.object(b, i) }); err != nil {
			return nil, err
		}
	}
	if err := w.chunk(KindVertices, func(b []byte) ([]byte, error) { return append(b, w.vertices...), nil }); err != nil {
		return nil, err
	}
	if err := w.chunk(KindIndices, func(b []byte) ([]byte, error) { return append(b, w.indices...), nil }); err != nil {
		return nil, err
	}
	for i := range s.Materials {
		if err := w.chunk(KindMaterial, func(b []byte) ([]byte, error) { return w.material(b, &s.Materials[i]), nil }); err != nil {
			return nil, err
		}
	}
	if len(s.Bones) > 0 {
		if err := w.chunk(KindSkeleton, w.skeleton); err != nil {
			return nil, err
		}
	}
	for i := range s.Animations {
		if err := w.chunk(KindAnimation, func(b []byte) ([]byte, error) { return w.animation(b, &s.Animations[i]) }); err != nil {
			return nil, err
		}
	}
	if s.BVH != nil {
		if err := w.chunk(KindBVH, func(b []byte) ([]byte, error) { return s.BVH.Encode(b), nil }); err != nil {
			return nil, err
		}
	}

	w.pad(4)
	stringTable := len(w.buf)
	w.buf = append(w.buf, w.pool.Bytes()...)

	if err := w.header(count, stringTable); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func (w *writer) pad(a int) {
	for len(w.buf)%a != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) chunk(kind byte, body func([]byte) ([]byte, error)) error {
	w.pad(alignment(kind))
	off := len(w.buf)
	if off > maxOffset {
		return fmt.Errorf("%w: %c chunk at %d", ErrOffsetOverflow, kind, off)
	}
	buf, err := body(w.buf)
	if err != nil {
		return err
	}
	w.buf = buf
	w.entries = append(w.entries, entry{kind: kind, offset: off})
	return nil
}

// buildStreams lays out the vertex and index chunks up front so object
// chunks can reference them.
func (w *writer) buildStreams() error {
	w.parts = make([][]partRef, len(w.scene.Objects))
	vertexBase := 0
	for oi := range w.scene.Objects {
		o := &w.scene.Objects[oi]
		if len(o.Vertices)%2 != 0 {
			return fmt.Errorf("%w: object %q has %d vertices", chunk.ErrOddCount, o.Name, len(o.Vertices))
		}
		for i := 0; i < len(o.Vertices); i += 2 {
			w.vertices = vertex.AppendPair(w.vertices, &o.Vertices[i], &o.Vertices[i+1])
		}
		refs := make([]partRef, len(o.Chunks))
		for ci := range o.Chunks {
			c := &o.Chunks[ci]
			if len(c.Strips) > maxStripBuffers {
				return fmt.Errorf("%w: object %q chunk %d has %d strip buffers", ErrCountOverflow, o.Name, ci, len(c.Strips))
			}
			w.alignIndices(indexBlockAlign)
			refs[ci].vertexByte = (vertexBase + c.VertexOffset) * vertex.PairSize / 2
			refs[ci].indexByte = len(w.indices)
			w.indices = append(w.indices, c.Indices...)
			w.idxCount += len(c.Indices)
			for si, s := range c.Strips {
				if len(s) > math.MaxUint8 {
					return fmt.Errorf("%w: strip of %d indices", ErrCountOverflow, len(s))
				}
				w.alignIndices(stripAlign)
				for _, v := range s {
					w.indices = binary.BigEndian.AppendUint16(w.indices, v)
				}
				refs[ci].strips[si] = len(s)
				w.idxCount += len(s)
			}
		}
		w.parts[oi] = refs
		vertexBase += len(o.Vertices)
	}
	w.alignIndices(indexBlockAlign)
	return nil
}

func (w *writer) alignIndices(a int) {
	for len(w.indices)%a != 0 {
		w.indices = append(w.indices, 0)
	}
}

func appendBox(b []byte, box bvh.Box) []byte {
	for _, v := range box.Min {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	for _, v := range box.Max {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	return b
}

func (w *writer) object(b []byte, oi int) ([]byte, error) {
	o := &w.scene.Objects[oi]
	b = binary.BigEndian.AppendUint32(b, w.pool.Add(o.Name))
	b = binary.BigEndian.AppendUint32(b, uint32(len(o.Chunks)))
	b = binary.BigEndian.AppendUint32(b, uint32(o.Triangles))
	b = binary.BigEndian.AppendUint32(b, uint32(o.Material))
	b = binary.BigEndian.AppendUint32(b, 0)
	b = binary.BigEndian.AppendUint32(b, 0)
	b = appendBox(b, o.Bounds())

	for ci := range o.Chunks {
		c := &o.Chunks[ci]
		ref := &w.parts[oi][ci]
		if c.VertexCount > math.MaxUint16 || len(c.Indices) > math.MaxUint16 || c.SeqStart > math.MaxUint16 {
			return nil, fmt.Errorf("%w: object %q part %d", ErrCountOverflow, o.Name, ci)
		}
		bone := uint16(noBone)
		if c.Bone != model.NoBone {
			bone = uint16(c.Bone)
		}
		b = binary.BigEndian.AppendUint32(b, uint32(ref.vertexByte))
		b = binary.BigEndian.AppendUint16(b, uint16(c.VertexCount))
		b = binary.BigEndian.AppendUint16(b, uint16(c.DestOffset))
		b = binary.BigEndian.AppendUint32(b, uint32(ref.indexByte))
		b = binary.BigEndian.AppendUint16(b, uint16(len(c.Indices)))
		b = binary.BigEndian.AppendUint16(b, bone)
		for _, n := range ref.strips {
			b = append(b, uint8(n))
		}
		b = binary.BigEndian.AppendUint16(b, uint16(c.SeqStart))
		b = binary.BigEndian.AppendUint16(b, uint16(c.SeqCount))
	}
	return b, nil
}

func packRGBA(c [4]uint8) uint32 {
	return vertex.PackColor(c)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func appendAxis(b []byte, a *model.TextureAxis) []byte {
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(a.Low))
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(a.High))
	return append(b, byte(a.Mask), byte(a.Shift), boolByte(a.Mirror), boolByte(a.Clamp))
}

func (w *writer) material(b []byte, m *model.Material) []byte {
	b = binary.BigEndian.AppendUint64(b, m.Combiner)
	b = binary.BigEndian.AppendUint64(b, m.OtherModeValue)
	b = binary.BigEndian.AppendUint64(b, m.OtherModeMask)
	b = binary.BigEndian.AppendUint32(b, m.BlendMode)
	b = binary.BigEndian.AppendUint32(b, m.DrawFlags)
	b = append(b, m.FogMode, m.ColorFlags, 0, 0)
	b = binary.BigEndian.AppendUint32(b, packRGBA(m.PrimColor))
	b = binary.BigEndian.AppendUint32(b, packRGBA(m.EnvColor))
	b = binary.BigEndian.AppendUint32(b, packRGBA(m.BlendColor))
	b = binary.BigEndian.AppendUint32(b, w.pool.Add(m.Name))
	for i := range m.Textures {
		t := &m.Textures[i]
		var pathRef, hash uint32
		if t.Path != "" {
			pathRef, hash = w.pool.Add(t.Path), PathHash(t.Path)
		}
		b = binary.BigEndian.AppendUint32(b, t.Reference)
		b = binary.BigEndian.AppendUint32(b, pathRef)
		b = binary.BigEndian.AppendUint32(b, hash)
		b = binary.BigEndian.AppendUint32(b, 0)
		b = binary.BigEndian.AppendUint16(b, uint16(t.Width))
		b = binary.BigEndian.AppendUint16(b, uint16(t.Height))
		b = appendAxis(b, &t.S)
		b = appendAxis(b, &t.T)
	}
	return b
}

func appendFloats(b []byte, fs ...float32) []byte {
	for _, f := range fs {
		b = binary.BigEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

func (w *writer) skeleton(b []byte) ([]byte, error) {
	bones := w.scene.Bones
	if len(bones) >= noBone {
		return nil, fmt.Errorf("%w: %d bones", ErrCountOverflow, len(bones))
	}
	sk := model.Skeleton{Bones: bones}
	depths := sk.Depths()
	b = binary.BigEndian.AppendUint16(b, uint16(len(bones)))
	b = binary.BigEndian.AppendUint16(b, 0)
	for i := range bones {
		bn := &bones[i]
		parent := uint16(noBone)
		if bn.Parent != model.NoBone {
			parent = uint16(bn.Parent)
		}
		b = binary.BigEndian.AppendUint32(b, w.pool.Add(bn.Name))
		b = binary.BigEndian.AppendUint16(b, parent)
		b = binary.BigEndian.AppendUint16(b, uint16(depths[i]))
		b = appendFloats(b, bn.Scale.X, bn.Scale.Y, bn.Scale.Z)
		b = appendFloats(b, bn.Rotation.X, bn.Rotation.Y, bn.Rotation.Z, bn.Rotation.W)
		b = appendFloats(b, bn.Translation.X, bn.Translation.Y, bn.Translation.Z)
	}
	return b, nil
}

func (w *writer) animation(b []byte, a *Animation) ([]byte, error) {
	c := a.Clip
	if c.QuatChannels > math.MaxUint16 || c.ScalarChannels() > math.MaxUint16 {
		return nil, fmt.Errorf("%w: animation %q has %d channels", ErrCountOverflow, c.Name, len(c.Channels))
	}
	b = binary.BigEndian.AppendUint32(b, w.pool.Add(c.Name))
	b = appendFloats(b, c.Duration)
	b = binary.BigEndian.AppendUint32(b, uint32(len(c.Keyframes)))
	b = binary.BigEndian.AppendUint16(b, uint16(c.QuatChannels))
	b = binary.BigEndian.AppendUint16(b, uint16(c.ScalarChannels()))
	b = binary.BigEndian.AppendUint32(b, w.pool.Add(a.StreamPath))
	b = binary.BigEndian.AppendUint16(b, uint16(w.scene.TicksPerSecond))
	b = binary.BigEndian.AppendUint16(b, 0)
	for _, ch := range c.Channels {
		b = binary.BigEndian.AppendUint16(b, uint16(ch.Bone))
		b = append(b, byte(ch.Target), byte(ch.Attr))
		b = appendFloats(b, ch.Scale, ch.Offset)
	}
	return b, nil
}

// firstOf returns the table index of the first chunk of a kind, or noChunk.
func (w *writer) firstOf(kind byte) uint32 {
	for i, e := range w.entries {
		if e.kind == kind {
			return uint32(i)
		}
	}
	return noChunk
}

func (w *writer) header(count, stringTable int) error {
	s := w.scene
	vertexTotal := 0
	for i := range s.Objects {
		vertexTotal += len(s.Objects[i].Vertices)
	}
	if vertexTotal > math.MaxUint16 || w.idxCount > math.MaxUint16 {
		return fmt.Errorf("%w: %d vertices, %d indices", ErrCountOverflow, vertexTotal, w.idxCount)
	}

	var bounds bvh.Box
	first := true
	for i := range s.Objects {
		if s.Objects[i].Empty() {
			continue
		}
		if first {
			bounds, first = s.Objects[i].Bounds(), false
			continue
		}
		bounds = bounds.Union(s.Objects[i].Bounds())
	}

	h := make([]byte, 0, HeaderSize)
	h = append(h, Magic...)
	h = append(h, Version)
	h = binary.BigEndian.AppendUint32(h, uint32(count))
	h = binary.BigEndian.AppendUint16(h, uint16(vertexTotal))
	h = binary.BigEndian.AppendUint16(h, uint16(w.idxCount))
	for _, kind := range []byte{KindVertices, KindIndices, KindMaterial} {
		h = binary.BigEndian.AppendUint32(h, w.firstOf(kind))
	}
	h = binary.BigEndian.AppendUint32(h, uint32(stringTable))
	h = binary.BigEndian.AppendUint32(h, 0)
	h = appendBox(h, bounds)
	copy(w.buf, h)

	for i, e := range w.entries {
		binary.BigEndian.PutUint32(w.buf[HeaderSize+4*i:], uint32(e.kind)<<24|uint32(e.offset))
	}
	return nil
}
