package anim

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

// source is a channel on its way through compression.
type source struct {
	Channel
	track    *model.Track
	dim      int
	identity [4]float32
	samples  [][4]float32
	kept     []int
	values   [][2]uint16
}

// splitTrack creates the channels for one track: three per vector track,
// one for rotations, and a single uniform channel for scale tracks whose
// axes agree at every key.
func splitTrack(tr *model.Track, eps float32) []*source {
	newSource := func(target Target, attr, dim int, identity [4]float32) *source {
		return &source{
			Channel:  Channel{Bone: tr.Bone, Target: target, Attr: attr},
			track:    tr,
			dim:      dim,
			identity: identity,
		}
	}
	switch tr.Property {
	case model.PropertyRotation:
		return []*source{newSource(TargetRotation, 0, 4, [4]float32{0, 0, 0, 1})}
	case model.PropertyScale:
		if uniformScale(tr, eps) {
			return []*source{newSource(TargetScaleUniform, 0, 1, [4]float32{1})}
		}
		return []*source{
			newSource(TargetScaleXYZ, 0, 1, [4]float32{1}),
			newSource(TargetScaleXYZ, 1, 1, [4]float32{1}),
			newSource(TargetScaleXYZ, 2, 1, [4]float32{1}),
		}
	default:
		return []*source{
			newSource(TargetTranslation, 0, 1, [4]float32{}),
			newSource(TargetTranslation, 1, 1, [4]float32{}),
			newSource(TargetTranslation, 2, 1, [4]float32{}),
		}
	}
}

func uniformScale(tr *model.Track, eps float32) bool {
	for _, v := range tr.Vectors {
		if math32.Abs(v.X-v.Y) > eps || math32.Abs(v.X-v.Z) > eps {
			return false
		}
	}
	return true
}

// key returns the channel value of key k.
func (s *source) key(k int) [4]float32 {
	if s.dim == 4 {
		return s.track.Rotations[k].Array()
	}
	return [4]float32{s.track.Vectors[k].Component(s.Attr)}
}

// prunable reports whether every key equals the attribute's identity value.
func (s *source) prunable(eps float32) bool {
	for k := range s.track.Times {
		v := s.key(k)
		if s.dim == 4 {
			if 1-math32.Abs(math.QuatFromArray(v).Normalize().Dot(math.QuatIdentity())) > eps {
				return false
			}
			continue
		}
		if math32.Abs(v[0]-s.identity[0]) > eps {
			return false
		}
	}
	return true
}

// eval samples the track at t, holding the first and last key outside the
// keyed range.
func (s *source) eval(t float32) [4]float32 {
	times := s.track.Times
	i := sort.Search(len(times), func(i int) bool { return times[i] > t })
	switch {
	case i == 0:
		return s.key(0)
	case i == len(times):
		return s.key(len(times) - 1)
	}
	a, b := i-1, i
	span := times[b] - times[a]
	if s.track.Interpolation == model.InterpolationStep || span <= 0 {
		return s.key(a)
	}
	f := (t - times[a]) / span
	if s.dim == 4 {
		return s.track.Rotations[a].Slerp(s.track.Rotations[b], f).Array()
	}
	va, vb := s.key(a)[0], s.key(b)[0]
	return [4]float32{va + (vb-va)*f}
}

// sampleCount returns the number of dense samples covering duration at
// rate, including both end points.
func sampleCount(duration, rate float32) int {
	if duration <= 0 || rate <= 0 {
		return 1
	}
	return int(math32.Ceil(duration*rate-1e-3)) + 1
}

func sampleTime(k int, duration, rate float32) float32 {
	if rate <= 0 {
		return 0
	}
	return math32.Min(float32(k)/rate, duration)
}

// resample fills samples at rate over duration. Rotation samples are kept in
// one hemisphere so interpolating neighbours takes the short path.
func (s *source) resample(duration, rate float32) {
	n := sampleCount(duration, rate)
	s.samples = make([][4]float32, n)
	for k := range s.samples {
		s.samples[k] = s.eval(sampleTime(k, duration, rate))
	}
	if s.dim != 4 {
		return
	}
	for k := 1; k < n; k++ {
		p, c := s.samples[k-1], s.samples[k]
		if p[0]*c[0]+p[1]*c[1]+p[2]*c[2]+p[3]*c[3] < 0 {
			s.samples[k] = [4]float32{-c[0], -c[1], -c[2], -c[3]}
		}
	}
}
