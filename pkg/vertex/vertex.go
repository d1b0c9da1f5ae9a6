// Package vertex converts raw vertices into the fixed-point records the
// runtime loads into its vertex cache.
package vertex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/chewxy/math32"

	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

// PairSize is the size of two interleaved records on disk.
const PairSize = 32

// UVFracBits is the number of fractional bits of a texel coordinate.
const UVFracBits = 5

// ErrPositionRange is returned when a scaled position does not fit int16.
var ErrPositionRange = fmt.Errorf("%w: position out of fixed-point range", model.ErrInput)

// Options controls the conversion to fixed point.
type Options struct {
	// PositionScale multiplies positions before rounding to int16.
	PositionScale float32
	Normals       NormalFormat
	// TextureWidth and TextureHeight scale UVs into texel space. Zero means
	// untextured and UVs are written as zero.
	TextureWidth  int
	TextureHeight int
}

// Record is one vertex in its persisted form.
type Record struct {
	Position [3]int16
	Normal   uint16
	Color    uint32
	UV       [2]int16
	// Bone is not persisted; it selects the chunk the vertex can live in.
	Bone int
	// Hash identifies the persisted fields.
	Hash uint64
}

// Build converts a raw vertex.
func Build(v model.Vertex, opts Options) (Record, error) {
	var r Record
	for i := 0; i < 3; i++ {
		p, err := fixed(v.Position.Component(i) * opts.PositionScale)
		if err != nil {
			return Record{}, fmt.Errorf("%w (%v)", err, v.Position)
		}
		r.Position[i] = p
	}
	r.Normal = PackNormal(v.Normal, opts.Normals)
	r.Color = PackColor(v.Color)
	if opts.TextureWidth > 0 && opts.TextureHeight > 0 {
		r.UV[0] = texel(v.UV[0], opts.TextureWidth)
		r.UV[1] = texel(v.UV[1], opts.TextureHeight)
	}
	r.Bone = v.Bone
	r.Hash = r.computeHash()
	return r, nil
}

func fixed(f float32) (int16, error) {
	r := math32.Round(f)
	if math32.IsNaN(r) || r < -32768 || r > 32767 {
		return 0, ErrPositionRange
	}
	return int16(r), nil
}

// texel converts a normalized coordinate to signed 10.5 texels. Tiled
// coordinates beyond the representable range saturate.
func texel(uv float32, size int) int16 {
	f := math32.Round(uv * float32(size) * (1 << UVFracBits))
	switch {
	case f < -32768:
		return -32768
	case f > 32767:
		return 32767
	}
	return int16(f)
}

// PackColor packs RGBA bytes into one word, red in the high byte.
func PackColor(c [4]uint8) uint32 {
	return uint32(c[0])<<24 | uint32(c[1])<<16 | uint32(c[2])<<8 | uint32(c[3])
}

// UnpackColor reverses PackColor.
func UnpackColor(c uint32) [4]uint8 {
	return [4]uint8{uint8(c >> 24), uint8(c >> 16), uint8(c >> 8), uint8(c)}
}

func (r *Record) persisted() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint16(b[0:], uint16(r.Position[0]))
	binary.BigEndian.PutUint16(b[2:], uint16(r.Position[1]))
	binary.BigEndian.PutUint16(b[4:], uint16(r.Position[2]))
	binary.BigEndian.PutUint16(b[6:], r.Normal)
	binary.BigEndian.PutUint32(b[8:], r.Color)
	binary.BigEndian.PutUint16(b[12:], uint16(r.UV[0]))
	binary.BigEndian.PutUint16(b[14:], uint16(r.UV[1]))
	return b
}

func (r *Record) computeHash() uint64 {
	b := r.persisted()
	return xxhash.Sum64(b[:])
}

// Rehash recomputes Hash after the persisted fields were changed.
func (r *Record) Rehash() {
	r.Hash = r.computeHash()
}

// Equal reports whether both records persist to the same bytes.
func (r *Record) Equal(o *Record) bool {
	return r.persisted() == o.persisted()
}

// AppendPair appends two records in the interleaved on-disk layout:
// positions and normals of both, then both colors, then both UVs.
func AppendPair(dst []byte, a, b *Record) []byte {
	pa, pb := a.persisted(), b.persisted()
	dst = append(dst, pa[0:8]...)
	dst = append(dst, pb[0:8]...)
	dst = append(dst, pa[8:12]...)
	dst = append(dst, pb[8:12]...)
	dst = append(dst, pa[12:16]...)
	dst = append(dst, pb[12:16]...)
	return dst
}

// DecodePair reverses AppendPair. Bone is not persisted and is left NoBone.
func DecodePair(src []byte) (a, b Record, err error) {
	if len(src) < PairSize {
		return a, b, errors.New("short vertex pair")
	}
	decode := func(pos, col, uv []byte) Record {
		r := Record{Bone: model.NoBone}
		r.Position[0] = int16(binary.BigEndian.Uint16(pos[0:]))
		r.Position[1] = int16(binary.BigEndian.Uint16(pos[2:]))
		r.Position[2] = int16(binary.BigEndian.Uint16(pos[4:]))
		r.Normal = binary.BigEndian.Uint16(pos[6:])
		r.Color = binary.BigEndian.Uint32(col)
		r.UV[0] = int16(binary.BigEndian.Uint16(uv[0:]))
		r.UV[1] = int16(binary.BigEndian.Uint16(uv[2:]))
		r.Hash = r.computeHash()
		return r
	}
	a = decode(src[0:8], src[16:20], src[24:28])
	b = decode(src[8:16], src[20:24], src[28:32])
	return a, b, nil
}

// Bounds returns the box spanned by the record positions in fixed point.
func Bounds(records []Record) (lo, hi [3]int16) {
	if len(records) == 0 {
		return lo, hi
	}
	lo, hi = records[0].Position, records[0].Position
	for i := 1; i < len(records); i++ {
		for c := 0; c < 3; c++ {
			p := records[i].Position[c]
			lo[c] = min(lo[c], p)
			hi[c] = max(hi[c], p)
		}
	}
	return lo, hi
}

// FixedBox converts a float box to fixed point with the given scale,
// rounding outward.
func FixedBox(b math.AABB, scale float32) (lo, hi [3]int16, err error) {
	if b.IsEmpty() {
		return lo, hi, nil
	}
	for c := 0; c < 3; c++ {
		l := math32.Floor(b.Min.Component(c) * scale)
		h := math32.Ceil(b.Max.Component(c) * scale)
		if l < -32768 || h > 32767 {
			return lo, hi, ErrPositionRange
		}
		lo[c], hi[c] = int16(l), int16(h)
	}
	return lo, hi, nil
}
