package vertex

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/chunkforge/pkg/math"
)

// NormalFormat selects the packed normal layout.
type NormalFormat uint8

const (
	// Normal565 packs X in 5 bits, Y in 6 bits and Z in 5 bits.
	Normal565 NormalFormat = iota
	// Normal555 packs each component in 5 bits, leaving the top bit clear.
	Normal555
)

// ParseNormalFormat maps a configuration name to a format.
func ParseNormalFormat(s string) (NormalFormat, bool) {
	switch s {
	case "565", "":
		return Normal565, true
	case "555":
		return Normal555, true
	}
	return 0, false
}

func (f NormalFormat) String() string {
	if f == Normal555 {
		return "555"
	}
	return "565"
}

func packSigned(c float32, bits uint) uint16 {
	maxv := float32(int(1)<<(bits-1) - 1)
	v := int(math32.Round(clamp(c, -1, 1) * maxv))
	return uint16(v) & (1<<bits - 1)
}

func unpackSigned(v uint16, bits uint) float32 {
	maxv := float32(int(1)<<(bits-1) - 1)
	s := int(v)
	if s&(1<<(bits-1)) != 0 {
		s -= 1 << bits
	}
	return float32(s) / maxv
}

func clamp(f, lo, hi float32) float32 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

// PackNormal normalizes n and packs it into 16 bits.
func PackNormal(n math.Vec3, f NormalFormat) uint16 {
	n = n.Normalize()
	if f == Normal555 {
		return packSigned(n.X, 5)<<10 | packSigned(n.Y, 5)<<5 | packSigned(n.Z, 5)
	}
	return packSigned(n.X, 5)<<11 | packSigned(n.Y, 6)<<5 | packSigned(n.Z, 5)
}

// UnpackNormal reverses PackNormal. The result is not renormalized.
func UnpackNormal(p uint16, f NormalFormat) math.Vec3 {
	if f == Normal555 {
		return math.Vec3{
			X: unpackSigned(p>>10&0x1F, 5),
			Y: unpackSigned(p>>5&0x1F, 5),
			Z: unpackSigned(p&0x1F, 5),
		}
	}
	return math.Vec3{
		X: unpackSigned(p>>11&0x1F, 5),
		Y: unpackSigned(p>>5&0x3F, 6),
		Z: unpackSigned(p&0x1F, 5),
	}
}
