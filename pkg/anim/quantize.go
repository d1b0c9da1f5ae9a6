package anim

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/chunkforge/pkg/math"
)

// quatRange bounds the three smallest components of a unit quaternion.
const quatRange = 0.70710678

// QuantizeRange returns the scale and offset mapping values in [lo, hi] onto
// the full 16-bit range.
func QuantizeRange(lo, hi float32) (scale, offset float32) {
	return (hi - lo) / 65535, lo
}

// Quantize maps v to 16 bits with the given scale and offset.
func Quantize(v, scale, offset float32) uint16 {
	if scale == 0 {
		return 0
	}
	q := math32.Round((v - offset) / scale)
	return uint16(math32.Max(0, math32.Min(65535, q)))
}

// Dequantize reverses Quantize.
func Dequantize(q uint16, scale, offset float32) float32 {
	return offset + float32(q)*scale
}

// PackQuat stores the index of the largest component in the top two bits
// and the other three components, sign-corrected so the largest is
// positive, as 10-bit values over ±1/√2.
func PackQuat(q math.Quat) (uint32, error) {
	if l := q.Length(); !(l > 1e-6) {
		return 0, ErrZeroRotation
	}
	c := q.Normalize().Array()
	largest := 0
	for i := 1; i < 4; i++ {
		if math32.Abs(c[i]) > math32.Abs(c[largest]) {
			largest = i
		}
	}
	if c[largest] < 0 {
		for i := range c {
			c[i] = -c[i]
		}
	}
	w := uint32(largest) << 30
	shift := 20
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		v := math32.Max(-quatRange, math32.Min(quatRange, c[i]))
		w |= uint32(math32.Round((v+quatRange)/(2*quatRange)*1023)) << shift
		shift -= 10
	}
	if w == 0 {
		return 0, ErrZeroRotation
	}
	return w, nil
}

// UnpackQuat reverses PackQuat, rebuilding the largest component from the
// unit length constraint.
func UnpackQuat(w uint32) math.Quat {
	largest := int(w >> 30)
	var c [4]float32
	var sum float32
	shift := 20
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		v := float32(w>>shift&0x3FF)/1023*(2*quatRange) - quatRange
		c[i] = v
		sum += v * v
		shift -= 10
	}
	c[largest] = math32.Sqrt(math32.Max(0, 1-sum))
	return math.QuatFromArray(c).Normalize()
}
