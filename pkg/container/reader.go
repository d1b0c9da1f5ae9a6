package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Faultbox/chunkforge/pkg/anim"
	"github.com/Faultbox/chunkforge/pkg/bvh"
	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
	"github.com/Faultbox/chunkforge/pkg/strip"
	"github.com/Faultbox/chunkforge/pkg/vertex"
)

// On-disk records, decoded with encoding/binary.
type (
	rawHeader struct {
		Magic       [3]byte
		Version     uint8
		ChunkCount  uint32
		VertexCount uint16
		IndexCount  uint16
		Markers     [3]uint32
		StringTable uint32
		RuntimePtr  uint32
		Min, Max    [3]int16
	}
	rawObject struct {
		NameRef   uint32
		PartCount uint32
		Triangles uint32
		Material  uint32
		Reserved  [2]uint32
		Min, Max  [3]int16
	}
	rawPart struct {
		VertexByte  uint32
		VertexCount uint16
		DestOffset  uint16
		IndexByte   uint32
		IndexCount  uint16
		Bone        uint16
		Strips      [maxStripBuffers]uint8
		SeqStart    uint16
		SeqCount    uint16
	}
	rawAxis struct {
		Low, High     float32
		Mask, Shift   int8
		Mirror, Clamp uint8
	}
	rawTexture struct {
		Reference  uint32
		PathRef    uint32
		PathHash   uint32
		RuntimePtr uint32
		Width      uint16
		Height     uint16
		S, T       rawAxis
	}
	rawMaterial struct {
		Combiner       uint64
		OtherModeValue uint64
		OtherModeMask  uint64
		BlendMode      uint32
		DrawFlags      uint32
		FogMode        uint8
		ColorFlags     uint8
		Pad            uint16
		Prim, Env      uint32
		Blend          uint32
		NameRef        uint32
		Textures       [model.MaxTextures]rawTexture
	}
	rawBone struct {
		NameRef     uint32
		Parent      uint16
		Depth       uint16
		Scale       [3]float32
		Rotation    [4]float32
		Translation [3]float32
	}
	rawAnimation struct {
		NameRef        uint32
		Duration       float32
		Keyframes      uint32
		QuatChannels   uint16
		ScalarChannels uint16
		StreamRef      uint32
		TicksPerSecond uint16
		Reserved       uint16
	}
	rawChannel struct {
		Bone   uint16
		Target uint8
		Attr   uint8
		Scale  float32
		Offset float32
	}
)

// Header is the decoded file header.
type Header struct {
	Version       int
	ChunkCount    int
	VertexCount   int
	IndexCount    int
	// Kind markers hold the table index of the first chunk of the kind, or
	// -1 when the file has none.
	VertexChunk   int
	IndexChunk    int
	MaterialChunk int
	StringTable   int
	Bounds        bvh.Box
}

// Entry is one chunk table entry.
type Entry struct {
	Kind   byte
	Offset int
	Size   int
}

// Part is a decoded chunk record of an object.
type Part struct {
	VertexByteOffset int
	VertexCount      int
	DestOffset       int
	IndexByteOffset  int
	IndexCount       int
	Bone             int
	StripLengths     [maxStripBuffers]int
	SeqStart         int
	SeqCount         int
}

// Preload reports whether the part only loads vertices for a later part.
func (p *Part) Preload() bool {
	return p.IndexCount == 0 && p.StripLengths == [maxStripBuffers]int{}
}

// ObjectInfo is a decoded object chunk.
type ObjectInfo struct {
	Name      string
	Material  int
	Triangles int
	Bounds    bvh.Box
	Parts     []Part
}

// AnimationInfo is a decoded animation chunk.
type AnimationInfo struct {
	Name           string
	Duration       float32
	Keyframes      int
	QuatChannels   int
	StreamPath     string
	TicksPerSecond int
	Channels       []anim.Channel
}

// File is a parsed container.
type File struct {
	Header     Header
	Entries    []Entry
	Objects    []ObjectInfo
	Materials  []model.Material
	Bones      []model.Bone
	Animations []AnimationInfo
	BVH        *bvh.Tree
	Vertices   []byte
	Indices    []byte
	Strings    []byte
}

// Parse decodes a container image.
func Parse(data []byte) (*File, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	var rh rawHeader
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &rh); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	if string(rh.Magic[:]) != Magic {
		return nil, ErrInvalidMagic
	}
	if rh.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVer, rh.Version)
	}
	f := &File{Header: Header{
		Version:       int(rh.Version),
		ChunkCount:    int(rh.ChunkCount),
		VertexCount:   int(rh.VertexCount),
		IndexCount:    int(rh.IndexCount),
		VertexChunk:   marker(rh.Markers[0]),
		IndexChunk:    marker(rh.Markers[1]),
		MaterialChunk: marker(rh.Markers[2]),
		StringTable:   int(rh.StringTable),
		Bounds:        bvh.Box{Min: rh.Min, Max: rh.Max},
	}}
	h := &f.Header
	if HeaderSize+4*h.ChunkCount > len(data) || h.StringTable > len(data) || h.StringTable < HeaderSize+4*h.ChunkCount {
		return nil, fmt.Errorf("%w: %d chunks, string table at %d", ErrTruncated, h.ChunkCount, h.StringTable)
	}
	f.Strings = data[h.StringTable:]

	for i := 0; i < h.ChunkCount; i++ {
		v := binary.BigEndian.Uint32(data[HeaderSize+4*i:])
		f.Entries = append(f.Entries, Entry{Kind: byte(v >> 24), Offset: int(v & maxOffset)})
	}
	for i := range f.Entries {
		e := &f.Entries[i]
		end := h.StringTable
		if i+1 < len(f.Entries) {
			end = f.Entries[i+1].Offset
		}
		if e.Offset < HeaderSize || e.Offset > end {
			return nil, fmt.Errorf("%w: chunk %d (%c) at %d", ErrTruncated, i, e.Kind, e.Offset)
		}
		if e.Offset%alignment(e.Kind) != 0 {
			return nil, fmt.Errorf("%w: chunk %d (%c) at %d", ErrMisaligned, i, e.Kind, e.Offset)
		}
		e.Size = end - e.Offset
		if err := f.parseChunk(e.Kind, data[e.Offset:end]); err != nil {
			return nil, fmt.Errorf("chunk %d (%c): %w", i, e.Kind, err)
		}
	}
	return f, nil
}

func marker(v uint32) int {
	if v == noChunk {
		return -1
	}
	return int(v)
}

func (f *File) str(ref uint32) (string, error) {
	s, ok := lookup(f.Strings, ref)
	if !ok {
		return "", fmt.Errorf("%w: string reference %d", ErrTruncated, ref)
	}
	return s, nil
}

func read(r io.Reader, v any) error {
	if err := binary.Read(r, binary.BigEndian, v); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return nil
}

func (f *File) parseChunk(kind byte, body []byte) error {
	r := bytes.NewReader(body)
	switch kind {
	case KindObject:
		return f.parseObject(r)
	case KindVertices:
		f.Vertices = body
	case KindIndices:
		f.Indices = body
	case KindMaterial:
		return f.parseMaterial(r)
	case KindSkeleton:
		return f.parseSkeleton(r)
	case KindAnimation:
		return f.parseAnimation(r)
	case KindBVH:
		t, err := bvh.Decode(body)
		if err != nil {
			return err
		}
		f.BVH = t
	default:
		return fmt.Errorf("%w: unknown chunk kind %q", model.ErrInput, kind)
	}
	return nil
}

func (f *File) parseObject(r io.Reader) error {
	var ro rawObject
	if err := read(r, &ro); err != nil {
		return err
	}
	name, err := f.str(ro.NameRef)
	if err != nil {
		return err
	}
	o := ObjectInfo{
		Name:      name,
		Material:  int(ro.Material),
		Triangles: int(ro.Triangles),
		Bounds:    bvh.Box{Min: ro.Min, Max: ro.Max},
	}
	raw := make([]rawPart, ro.PartCount)
	if err := read(r, raw); err != nil {
		return err
	}
	for _, rp := range raw {
		p := Part{
			VertexByteOffset: int(rp.VertexByte),
			VertexCount:      int(rp.VertexCount),
			DestOffset:       int(rp.DestOffset),
			IndexByteOffset:  int(rp.IndexByte),
			IndexCount:       int(rp.IndexCount),
			Bone:             int(rp.Bone),
			SeqStart:         int(rp.SeqStart),
			SeqCount:         int(rp.SeqCount),
		}
		if rp.Bone == noBone {
			p.Bone = model.NoBone
		}
		for i, n := range rp.Strips {
			p.StripLengths[i] = int(n)
		}
		o.Parts = append(o.Parts, p)
	}
	f.Objects = append(f.Objects, o)
	return nil
}

func axis(a rawAxis) model.TextureAxis {
	return model.TextureAxis{
		Low: a.Low, High: a.High,
		Mask: a.Mask, Shift: a.Shift,
		Mirror: a.Mirror != 0, Clamp: a.Clamp != 0,
	}
}

func (f *File) parseMaterial(r io.Reader) error {
	var rm rawMaterial
	if err := read(r, &rm); err != nil {
		return err
	}
	name, err := f.str(rm.NameRef)
	if err != nil {
		return err
	}
	m := model.Material{
		Name:           name,
		Combiner:       rm.Combiner,
		OtherModeValue: rm.OtherModeValue,
		OtherModeMask:  rm.OtherModeMask,
		BlendMode:      rm.BlendMode,
		DrawFlags:      rm.DrawFlags,
		FogMode:        rm.FogMode,
		ColorFlags:     rm.ColorFlags,
		PrimColor:      vertex.UnpackColor(rm.Prim),
		EnvColor:       vertex.UnpackColor(rm.Env),
		BlendColor:     vertex.UnpackColor(rm.Blend),
	}
	for i, rt := range rm.Textures {
		path, err := f.str(rt.PathRef)
		if err != nil {
			return err
		}
		m.Textures[i] = model.Texture{
			Reference: rt.Reference,
			Path:      path,
			Width:     int(rt.Width),
			Height:    int(rt.Height),
			S:         axis(rt.S),
			T:         axis(rt.T),
		}
	}
	f.Materials = append(f.Materials, m)
	return nil
}

func (f *File) parseSkeleton(r io.Reader) error {
	var head [2]uint16
	if err := read(r, &head); err != nil {
		return err
	}
	raw := make([]rawBone, head[0])
	if err := read(r, raw); err != nil {
		return err
	}
	for _, rb := range raw {
		name, err := f.str(rb.NameRef)
		if err != nil {
			return err
		}
		b := model.Bone{
			Name:        name,
			Parent:      int(rb.Parent),
			Scale:       math.V3(rb.Scale),
			Rotation:    math.QuatFromArray(rb.Rotation),
			Translation: math.V3(rb.Translation),
		}
		if rb.Parent == noBone {
			b.Parent = model.NoBone
		}
		f.Bones = append(f.Bones, b)
	}
	return nil
}

func (f *File) parseAnimation(r io.Reader) error {
	var ra rawAnimation
	if err := read(r, &ra); err != nil {
		return err
	}
	name, err := f.str(ra.NameRef)
	if err != nil {
		return err
	}
	stream, err := f.str(ra.StreamRef)
	if err != nil {
		return err
	}
	a := AnimationInfo{
		Name:           name,
		Duration:       ra.Duration,
		Keyframes:      int(ra.Keyframes),
		QuatChannels:   int(ra.QuatChannels),
		StreamPath:     stream,
		TicksPerSecond: int(ra.TicksPerSecond),
	}
	raw := make([]rawChannel, int(ra.QuatChannels)+int(ra.ScalarChannels))
	if err := read(r, raw); err != nil {
		return err
	}
	for _, rc := range raw {
		a.Channels = append(a.Channels, anim.Channel{
			Bone:   int(rc.Bone),
			Target: anim.Target(rc.Target),
			Attr:   int(rc.Attr),
			Scale:  rc.Scale,
			Offset: rc.Offset,
		})
	}
	f.Animations = append(f.Animations, a)
	return nil
}

// Triangles replays the parts of object oi through a simulated vertex cache
// and returns the drawn triangles.
func (f *File) Triangles(oi int) ([][3]vertex.Record, error) {
	if oi < 0 || oi >= len(f.Objects) {
		return nil, fmt.Errorf("%w: object %d", model.ErrInput, oi)
	}
	var cache [256]vertex.Record
	var tris [][3]vertex.Record
	for pi, p := range f.Objects[oi].Parts {
		if p.VertexByteOffset+p.VertexCount*vertex.PairSize/2 > len(f.Vertices) || p.DestOffset+p.VertexCount > len(cache) {
			return nil, fmt.Errorf("%w: part %d vertices", ErrTruncated, pi)
		}
		for i := 0; i < p.VertexCount; i += 2 {
			a, b, err := vertex.DecodePair(f.Vertices[p.VertexByteOffset+i*vertex.PairSize/2:])
			if err != nil {
				return nil, err
			}
			cache[p.DestOffset+i], cache[p.DestOffset+i+1] = a, b
		}

		off := p.IndexByteOffset
		if off+p.IndexCount > len(f.Indices) {
			return nil, fmt.Errorf("%w: part %d indices", ErrTruncated, pi)
		}
		flat := f.Indices[off : off+p.IndexCount]
		for i := 0; i+2 < len(flat); i += 3 {
			tris = append(tris, [3]vertex.Record{cache[flat[i]], cache[flat[i+1]], cache[flat[i+2]]})
		}
		off += p.IndexCount
		for _, n := range p.StripLengths {
			if n == 0 {
				continue
			}
			off = alignUp(off, stripAlign)
			if off+2*n > len(f.Indices) {
				return nil, fmt.Errorf("%w: part %d strips", ErrTruncated, pi)
			}
			buf := make([]uint16, n)
			for i := range buf {
				buf[i] = binary.BigEndian.Uint16(f.Indices[off+2*i:])
			}
			for _, t := range strip.Decode(buf) {
				tris = append(tris, [3]vertex.Record{cache[t[0]], cache[t[1]], cache[t[2]]})
			}
			off += 2 * n
		}
	}
	return tris, nil
}
