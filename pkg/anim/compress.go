package anim

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/chunkforge/pkg/math"
	"github.com/Faultbox/chunkforge/pkg/model"
)

// Compress turns an animation into a clip. Channels that hold the identity
// value throughout are dropped; the rest are decimated in parallel and
// merged into one stream.
func Compress(ctx context.Context, a *model.Animation, opts Options) (*Clip, error) {
	duration := a.Duration
	if duration <= 0 {
		for i := range a.Tracks {
			if n := a.Tracks[i].Len(); n > 0 {
				duration = math32.Max(duration, a.Tracks[i].Times[n-1])
			}
		}
	}

	type trackKey struct {
		bone int
		prop model.Property
	}
	seen := make(map[trackKey]bool)
	var sources []*source
	for i := range a.Tracks {
		tr := &a.Tracks[i]
		tk := trackKey{tr.Bone, tr.Property}
		if seen[tk] {
			return nil, fmt.Errorf("%w: animation %q: bone %d %s", ErrDuplicateTrack, a.Name, tr.Bone, tr.Property)
		}
		seen[tk] = true
		if tr.Len() == 0 {
			continue
		}
		for _, s := range splitTrack(tr, opts.Epsilon) {
			if !s.prunable(opts.Epsilon) {
				sources = append(sources, s)
			}
		}
	}
	slices.SortStableFunc(sources, func(x, y *source) int {
		if x.Rotation() != y.Rotation() {
			if x.Rotation() {
				return -1
			}
			return 1
		}
		return cmp.Or(
			cmp.Compare(x.Bone, y.Bone),
			cmp.Compare(x.Target, y.Target),
			cmp.Compare(x.Attr, y.Attr),
		)
	})

	maxGap := 2
	if opts.SampleRate > 0 && opts.TicksPerSecond > 0 {
		maxGap = max(maxGap, int(maxTicksNext*opts.SampleRate/opts.TicksPerSecond))
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for _, s := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.resample(duration, opts.SampleRate)
			s.kept = decimate(s.samples, s.dim, opts.MaxGlobalMSE, opts.MaxLocalMSE, maxGap)
			if err := s.quantize(); err != nil {
				return fmt.Errorf("animation %q: bone %d: %w", a.Name, s.Bone, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	clip := &Clip{Name: a.Name, Duration: duration}
	for _, s := range sources {
		clip.Channels = append(clip.Channels, s.Channel)
		if s.Rotation() {
			clip.QuatChannels++
		}
		clip.Samples += len(s.samples)
	}
	if err := clip.merge(sources, opts); err != nil {
		return nil, fmt.Errorf("animation %q: %w", a.Name, err)
	}
	return clip, nil
}

func (s *source) quantize() error {
	s.values = make([][2]uint16, len(s.kept))
	if s.dim == 4 {
		for i, k := range s.kept {
			w, err := PackQuat(math.QuatFromArray(s.samples[k]))
			if err != nil {
				return err
			}
			s.values[i] = [2]uint16{uint16(w >> 16), uint16(w)}
		}
		return nil
	}
	lo, hi := s.samples[s.kept[0]][0], s.samples[s.kept[0]][0]
	for _, k := range s.kept {
		lo = math32.Min(lo, s.samples[k][0])
		hi = math32.Max(hi, s.samples[k][0])
	}
	s.Scale, s.Offset = QuantizeRange(lo, hi)
	for i, k := range s.kept {
		s.values[i][0] = Quantize(s.samples[k][0], s.Scale, s.Offset)
	}
	return nil
}

// merge emits every kept sample as a keyframe and orders them by the tick
// they are needed at, then their own tick, then channel. A keyframe is
// needed once the previous keyframe of its channel starts playing.
func (c *Clip) merge(sources []*source, opts Options) error {
	tick := func(t float32) int {
		return int(math32.Round(t * opts.TicksPerSecond))
	}
	for ci, s := range sources {
		needed := 0
		for i, k := range s.kept {
			t := tick(sampleTime(k, c.Duration, opts.SampleRate))
			c.Keyframes = append(c.Keyframes, Keyframe{
				Channel:    ci,
				Tick:       t,
				NeededTick: needed,
				Value:      s.values[i],
			})
			needed = t
		}
	}
	slices.SortFunc(c.Keyframes, func(x, y Keyframe) int {
		return cmp.Or(
			cmp.Compare(x.NeededTick, y.NeededTick),
			cmp.Compare(x.Tick, y.Tick),
			cmp.Compare(x.Channel, y.Channel),
		)
	})

	last := make([]int, len(sources))
	for i := range last {
		last[i] = -1
	}
	for i := range c.Keyframes {
		k := &c.Keyframes[i]
		if p := last[k.Channel]; p >= 0 {
			c.Keyframes[p].TicksNext = k.NeededTick - c.Keyframes[p].NeededTick
		}
		last[k.Channel] = i
	}
	end := tick(c.Duration)
	for _, i := range last {
		if i >= 0 {
			c.Keyframes[i].TicksNext = end - c.Keyframes[i].NeededTick
		}
	}
	for i := range c.Keyframes {
		if t := c.Keyframes[i].TicksNext; t < 0 || t > maxTicksNext {
			return fmt.Errorf("%w: channel %d: %d ticks", ErrTickOverflow, c.Keyframes[i].Channel, t)
		}
	}
	return nil
}
