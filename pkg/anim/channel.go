// Package anim compresses bone animation tracks into a single time-ordered
// keyframe stream.
//
// Every track is split into channels, resampled densely, decimated under two
// error bounds, quantized to 16 bits per value and merged with all other
// channels into one stream sorted by the time each keyframe must be loaded.
package anim

import (
	"fmt"

	"github.com/Faultbox/chunkforge/pkg/model"
)

// Target is the bone attribute a channel drives.
type Target uint8

const (
	TargetTranslation Target = iota
	TargetScaleXYZ
	TargetScaleUniform
	TargetRotation
)

func (t Target) String() string {
	switch t {
	case TargetTranslation:
		return "translation"
	case TargetScaleXYZ:
		return "scale"
	case TargetScaleUniform:
		return "uniform-scale"
	case TargetRotation:
		return "rotation"
	}
	return fmt.Sprintf("target(%d)", uint8(t))
}

var (
	ErrZeroRotation   = fmt.Errorf("%w: rotation quantizes to zero", model.ErrInput)
	ErrTickOverflow   = fmt.Errorf("%w: keyframe tick delta does not fit 15 bits", model.ErrInvariant)
	ErrDuplicateTrack = fmt.Errorf("%w: duplicate animation track", model.ErrInput)
	ErrBadStream      = fmt.Errorf("%w: malformed keyframe stream", model.ErrInput)
)

// Channel maps one stream channel onto a bone attribute. Scalar values
// dequantize as Offset + q*Scale.
type Channel struct {
	Bone   int
	Target Target
	// Attr is the vector component for translation and per-axis scale.
	Attr   int
	Scale  float32
	Offset float32
}

// Rotation reports whether the channel carries packed quaternions.
func (c *Channel) Rotation() bool {
	return c.Target == TargetRotation
}

// Keyframe is one stream entry. The value applies at Tick and must be loaded
// by NeededTick, which is the tick of the previous keyframe of the channel.
type Keyframe struct {
	Channel    int
	Tick       int
	NeededTick int
	// TicksNext is the distance to the NeededTick of the channel's next
	// keyframe, or to the end of the clip for the last one.
	TicksNext int
	Value     [2]uint16
}

// Clip is a compressed animation.
type Clip struct {
	Name     string
	Duration float32
	// Channels lists rotation channels first.
	Channels     []Channel
	QuatChannels int
	Keyframes    []Keyframe
	// Samples is the number of dense samples before decimation.
	Samples int
}

// ScalarChannels returns the number of non-rotation channels.
func (c *Clip) ScalarChannels() int {
	return len(c.Channels) - c.QuatChannels
}

// Options configures compression.
type Options struct {
	SampleRate     float32
	TicksPerSecond float32
	// MaxGlobalMSE bounds the mean squared error over the whole channel and
	// MaxLocalMSE the error between a removed keyframe's neighbours. Scalar
	// errors are measured relative to the channel's value range.
	MaxGlobalMSE float64
	MaxLocalMSE  float64
	// Epsilon is the tolerance for constant and identity detection.
	Epsilon float32
	// Workers bounds the number of channels decimated in parallel.
	Workers int
}

// DefaultOptions returns the settings used by the compiler.
func DefaultOptions() Options {
	return Options{
		SampleRate:     60,
		TicksPerSecond: 60,
		MaxGlobalMSE:   2e-5,
		MaxLocalMSE:    1e-4,
		Epsilon:        1e-5,
		Workers:        4,
	}
}
