package analysis

import (
	"math"
	"math/cmplx"
)

// --- FFT ---

func nextPow2(n int) int {
	v := 1
	for v < n {
		v <<= 1
	}
	return v
}

// fft transforms x in place. len(x) must be a power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Rect(1, -2*math.Pi/float64(size))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				t := w * x[start+k+size/2]
				x[start+k+size/2] = x[start+k] - t
				x[start+k] += t
				w *= step
			}
		}
	}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// spectra calls fn with the magnitude spectrum of each windowed frame.
func spectra(samples []float32, frameSize, hopSize int, fn func(i int, mag []float64)) int {
	n := len(samples)
	numFrames := (n - frameSize) / hopSize
	if numFrames <= 0 {
		return 0
	}
	fftSize := nextPow2(frameSize)
	window := hannWindow(frameSize)
	frame := make([]complex128, fftSize)
	mag := make([]float64, fftSize/2+1)

	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		for j := range frame {
			frame[j] = 0
		}
		for j := 0; j < frameSize && start+j < n; j++ {
			frame[j] = complex(float64(samples[start+j])*window[j], 0)
		}
		fft(frame)
		for j := range mag {
			mag[j] = cmplx.Abs(frame[j])
		}
		fn(i, mag)
	}
	return numFrames
}

// --- Onset ---

// onsetEnvelope is the positive spectral flux per frame.
func onsetEnvelope(samples []float32, frameSize, hopSize int) []float64 {
	var onset []float64
	var prev []float64
	spectra(samples, frameSize, hopSize, func(i int, mag []float64) {
		flux := 0.0
		for j, m := range mag {
			p := 0.0
			if prev != nil {
				p = prev[j]
			}
			if d := m - p; d > 0 {
				flux += d
			}
		}
		onset = append(onset, flux)
		if prev == nil {
			prev = make([]float64, len(mag))
		}
		copy(prev, mag)
	})
	return onset
}

// beatLag finds the autocorrelation peak of the onset envelope between
// minLag and maxLag frames.
func beatLag(onset []float64, minLag, maxLag int) int {
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}
	bestLag := minLag
	bestCorr := -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		corr := 0.0
		count := 0
		for i := 0; i+lag < len(onset); i++ {
			corr += onset[i] * onset[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	return bestLag
}

// beatPhase picks the offset in [0, lag) whose pulse train collects the
// most onset strength.
func beatPhase(onset []float64, lag int) int {
	best, bestSum := 0, -1.0
	for off := 0; off < lag && off < len(onset); off++ {
		sum := 0.0
		for i := off; i < len(onset); i += lag {
			sum += onset[i]
		}
		if sum > bestSum {
			best, bestSum = off, sum
		}
	}
	return best
}

// --- Energy / timbre ---

func meanRMS(samples []float32, frameSize, hopSize int) float64 {
	n := len(samples)
	numFrames := (n - frameSize) / hopSize
	if numFrames <= 0 {
		numFrames, frameSize = 1, n
	}
	if frameSize == 0 {
		return 0
	}
	total := 0.0
	for i := 0; i < numFrames; i++ {
		start := i * hopSize
		sum := 0.0
		for j := 0; j < frameSize && start+j < n; j++ {
			v := float64(samples[start+j])
			sum += v * v
		}
		total += math.Sqrt(sum / float64(frameSize))
	}
	return total / float64(numFrames)
}

// meanCentroid is the average spectral centroid in Hz over frames that
// carry any energy.
func meanCentroid(samples []float32, sr, frameSize, hopSize int) float64 {
	fftSize := nextPow2(frameSize)
	binHz := float64(sr) / float64(fftSize)
	total, frames := 0.0, 0
	spectra(samples, frameSize, hopSize, func(_ int, mag []float64) {
		num, den := 0.0, 0.0
		for j, m := range mag {
			num += float64(j) * binHz * m
			den += m
		}
		if den > 1e-9 {
			total += num / den
			frames++
		}
	})
	if frames == 0 {
		return 0
	}
	return total / float64(frames)
}

// decimate averages groups of factor samples.
func decimate(samples []float32, factor int) []float32 {
	if factor <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/factor)
	for i := range out {
		var sum float32
		for j := 0; j < factor; j++ {
			sum += samples[i*factor+j]
		}
		out[i] = sum / float32(factor)
	}
	return out
}
