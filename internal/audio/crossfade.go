package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1]:
// 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

func clip16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// CrossfadeFrames blends an outgoing frame with an incoming frame at the given
// progress (0.0 = all outgoing, 1.0 = all incoming). Uses smoothstep curve.
// Both frames must have the same length. Returns the blended frame.
func CrossfadeFrames(outgoing, incoming []int16, progress float64) []int16 {
	gain := Smoothstep(progress)
	result := make([]int16, len(outgoing))

	for i := range outgoing {
		result[i] = clip16(float64(outgoing[i])*(1-gain) + float64(incoming[i])*gain)
	}

	return result
}

// FadeIn returns a copy of b whose first frames rise from silence.
func FadeIn(b Buffer, frames int) Buffer {
	out := b.Clone()
	n := min(frames, out.Frames())
	for f := 0; f < n; f++ {
		gain := Smoothstep(float64(f) / float64(n))
		for c := 0; c < Channels; c++ {
			out[f*Channels+c] = clip16(float64(out[f*Channels+c]) * gain)
		}
	}
	return out
}

// FadeOut returns a copy of b whose last frames fall to silence.
func FadeOut(b Buffer, frames int) Buffer {
	out := b.Clone()
	n := min(frames, out.Frames())
	start := out.Frames() - n
	for f := 0; f < n; f++ {
		gain := 1 - Smoothstep(float64(f+1)/float64(n))
		for c := 0; c < Channels; c++ {
			i := (start+f)*Channels + c
			out[i] = clip16(float64(out[i]) * gain)
		}
	}
	return out
}

// Overlap joins a and b so that the last frames of a play over the first
// frames of b, fading one out as the other fades in. The result is
// frames shorter than a and b laid end to end. frames is clamped to the
// shorter input.
func Overlap(a, b Buffer, frames int) Buffer {
	n := min(max(frames, 0), a.Frames(), b.Frames())
	if n == 0 {
		return Concat(a, b)
	}

	out := make(Buffer, 0, len(a)+len(b)-n*Channels)
	out = append(out, a[:len(a)-n*Channels]...)

	tail := a.Tail(n)
	head := b.Head(n)
	blocks := (n + FrameSize - 1) / FrameSize
	for i := 0; i < blocks; i++ {
		from := i * FrameSamples
		to := min(from+FrameSamples, len(tail))
		progress := float64(i) / float64(blocks)
		out = append(out, CrossfadeFrames(tail[from:to], head[from:to], progress)...)
	}

	return append(out, b[n*Channels:]...)
}
