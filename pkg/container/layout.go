// Package container writes and reads the compiled scene file.
//
// A file starts with a fixed header and a table of 32-bit chunk entries,
// each holding a kind tag in the top byte and a byte offset in the low 24
// bits. Chunks follow in kind order and a shared pool of NUL-terminated
// strings closes the file. All values are big-endian.
package container

import (
	"fmt"

	"github.com/Faultbox/chunkforge/pkg/model"
)

// Magic identifies a container file.
const Magic = "CKF"

// Version is the format revision written by this package.
const Version = 1

// Chunk kinds.
const (
	KindObject    byte = 'O'
	KindVertices  byte = 'V'
	KindIndices   byte = 'I'
	KindMaterial  byte = 'M'
	KindSkeleton  byte = 'S'
	KindAnimation byte = 'A'
	KindBVH       byte = 'B'
)

// Record sizes.
const (
	HeaderSize       = 44
	ObjectSize       = 36
	PartSize         = 24
	MaterialSize     = 52
	TextureSize      = 44
	BoneSize         = 48
	AnimationSize    = 24
	ChannelSize      = 12
	maxOffset        = 1<<24 - 1
	noBone           = 0xFFFF
	noChunk          = 0xFFFFFFFF
	maxStripBuffers  = 4
	stripAlign       = 8
	indexBlockAlign  = 8
	vertexChunkAlign = 16
)

// alignment returns the required start alignment of a chunk kind.
func alignment(kind byte) int {
	switch kind {
	case KindVertices:
		return vertexChunkAlign
	case KindIndices, KindMaterial, KindSkeleton:
		return 8
	}
	return 4
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

var (
	ErrOffsetOverflow = fmt.Errorf("%w: chunk offset does not fit 24 bits", model.ErrInvariant)
	ErrCountOverflow  = fmt.Errorf("%w: count does not fit its field", model.ErrInvariant)
	ErrInvalidMagic   = fmt.Errorf("%w: invalid container magic", model.ErrInput)
	ErrUnsupportedVer = fmt.Errorf("%w: unsupported container version", model.ErrInput)
	ErrTruncated      = fmt.Errorf("%w: container truncated", model.ErrInput)
	ErrMisaligned     = fmt.Errorf("%w: chunk misaligned", model.ErrInput)
)
