package anim

import (
	"encoding/binary"
	"fmt"
)

const (
	maxTicksNext = 0x7FFF
	nextIsWide   = 0x8000
)

// EncodeStream serializes the keyframes in stream order. Each entry is the
// ticks-next word, whose top bit announces a two-word value in the next
// entry, the channel index and one value word, or two for rotations.
func (c *Clip) EncodeStream() ([]byte, error) {
	buf := make([]byte, 0, len(c.Keyframes)*8)
	for i, k := range c.Keyframes {
		if k.TicksNext < 0 || k.TicksNext > maxTicksNext {
			return nil, fmt.Errorf("%w: keyframe %d of channel %d: %d ticks", ErrTickOverflow, i, k.Channel, k.TicksNext)
		}
		head := uint16(k.TicksNext)
		if i+1 < len(c.Keyframes) && c.Channels[c.Keyframes[i+1].Channel].Rotation() {
			head |= nextIsWide
		}
		buf = binary.BigEndian.AppendUint16(buf, head)
		buf = binary.BigEndian.AppendUint16(buf, uint16(k.Channel))
		buf = binary.BigEndian.AppendUint16(buf, k.Value[0])
		if c.Channels[k.Channel].Rotation() {
			buf = binary.BigEndian.AppendUint16(buf, k.Value[1])
		}
	}
	return buf, nil
}

// DecodeStream parses a keyframe stream for a clip with the given channel
// counts, rebuilding each keyframe's ticks from the per-channel deltas.
func DecodeStream(data []byte, quatChannels, channels int) ([]Keyframe, error) {
	var out []Keyframe
	needed := make([]int, channels)
	wide := -1
	for off := 0; off < len(data); {
		if off+6 > len(data) {
			return nil, fmt.Errorf("%w: truncated entry at %d", ErrBadStream, off)
		}
		head := binary.BigEndian.Uint16(data[off:])
		ch := int(binary.BigEndian.Uint16(data[off+2:]))
		if ch >= channels {
			return nil, fmt.Errorf("%w: channel %d at %d", ErrBadStream, ch, off)
		}
		rot := ch < quatChannels
		if wide >= 0 && (wide == 1) != rot {
			return nil, fmt.Errorf("%w: width flag mismatch at %d", ErrBadStream, off)
		}
		k := Keyframe{
			Channel:    ch,
			NeededTick: needed[ch],
			TicksNext:  int(head & maxTicksNext),
		}
		k.Value[0] = binary.BigEndian.Uint16(data[off+4:])
		off += 6
		if rot {
			if off+2 > len(data) {
				return nil, fmt.Errorf("%w: truncated rotation at %d", ErrBadStream, off)
			}
			k.Value[1] = binary.BigEndian.Uint16(data[off:])
			off += 2
		}
		k.Tick = k.NeededTick + k.TicksNext
		needed[ch] = k.Tick
		wide = 0
		if head&nextIsWide != 0 {
			wide = 1
		}
		out = append(out, k)
	}
	if wide == 1 {
		return nil, fmt.Errorf("%w: stream ends after a width flag", ErrBadStream)
	}
	return out, nil
}

// Value returns the dequantized value of k: a quaternion for rotation
// channels, otherwise a scalar in the first component.
func (c *Clip) Value(k *Keyframe) [4]float32 {
	ch := &c.Channels[k.Channel]
	if ch.Rotation() {
		return UnpackQuat(uint32(k.Value[0])<<16 | uint32(k.Value[1])).Array()
	}
	return [4]float32{Dequantize(k.Value[0], ch.Scale, ch.Offset)}
}
