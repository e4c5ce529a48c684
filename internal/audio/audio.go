package audio

import (
	"math"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is interleaved stereo int16 PCM at SampleRate.
type Buffer []int16

// FramesFor converts seconds to a whole number of sample frames.
func FramesFor(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Round(seconds * SampleRate))
}

// Silence returns a zeroed buffer of the given length.
func Silence(seconds float64) Buffer {
	return make(Buffer, FramesFor(seconds)*Channels)
}

// Frames is the number of sample frames (one sample per channel).
func (b Buffer) Frames() int { return len(b) / Channels }

// Seconds is the buffer's length in time.
func (b Buffer) Seconds() float64 { return float64(b.Frames()) / SampleRate }

// Span returns the [start, end) seconds region, clamped to the buffer.
// The result shares storage with b.
func (b Buffer) Span(start, end float64) Buffer {
	from := min(FramesFor(start), b.Frames())
	to := min(FramesFor(end), b.Frames())
	if to < from {
		to = from
	}
	return b[from*Channels : to*Channels]
}

// Head returns the first n frames, or all of b if shorter.
func (b Buffer) Head(frames int) Buffer {
	return b[:min(max(frames, 0), b.Frames())*Channels]
}

// Tail returns the last n frames, or all of b if shorter.
func (b Buffer) Tail(frames int) Buffer {
	n := min(max(frames, 0), b.Frames())
	return b[len(b)-n*Channels:]
}

// Clone returns a copy that does not share storage with b.
func (b Buffer) Clone() Buffer {
	out := make(Buffer, len(b))
	copy(out, b)
	return out
}

// Fit trims or pads b with silence to exactly frames long.
func (b Buffer) Fit(frames int) Buffer {
	if b.Frames() >= frames {
		return b.Head(frames)
	}
	out := make(Buffer, frames*Channels)
	copy(out, b)
	return out
}

// Concat joins buffers in order into a new buffer.
func Concat(parts ...Buffer) Buffer {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(Buffer, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Mono downmixes to float samples in [-1, 1] for analysis.
func (b Buffer) Mono() []float32 {
	out := make([]float32, b.Frames())
	for i := range out {
		l := float32(b[i*Channels])
		r := float32(b[i*Channels+1])
		out[i] = (l + r) / (2 * 32768)
	}
	return out
}
