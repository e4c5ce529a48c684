package analysis

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"
)

const testRate = 48000

// clickTrack places a short decaying 1kHz burst every period samples.
func clickTrack(seconds float64, period int) []float32 {
	n := int(seconds * testRate)
	out := make([]float32, n)
	burst := testRate * 30 / 1000
	for start := 0; start < n; start += period {
		for j := 0; j < burst && start+j < n; j++ {
			t := float64(j) / testRate
			out[start+j] = float32(0.8 * math.Exp(-t*150) * math.Sin(2*math.Pi*1000*t))
		}
	}
	return out
}

func sine(seconds, freq, amp float64) []float32 {
	out := make([]float32, int(seconds*testRate))
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/testRate))
	}
	return out
}

// --- FFT ---

func TestFFTMatchesDFT(t *testing.T) {
	x := make([]complex128, 16)
	for i := range x {
		x[i] = complex(math.Sin(float64(i)*0.7)+0.25*float64(i%3), 0)
	}
	want := make([]complex128, len(x))
	for k := range want {
		for n := range x {
			want[k] += x[n] * cmplx.Rect(1, -2*math.Pi*float64(k*n)/float64(len(x)))
		}
	}
	fft(x)
	for k := range x {
		if cmplx.Abs(x[k]-want[k]) > 1e-9 {
			t.Errorf("bin %d = %v, want %v", k, x[k], want[k])
		}
	}
}

func TestNextPow2(t *testing.T) {
	tests := map[int]int{1: 1, 2: 2, 3: 4, 1000: 1024, 1024: 1024}
	for in, want := range tests {
		if got := nextPow2(in); got != want {
			t.Errorf("nextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}

// --- Beats ---

func TestDetectClickTrack(t *testing.T) {
	// 25600 samples at 48kHz is 0.5333s, 112.5 BPM
	b, err := DSP{}.Detect(clickTrack(10, 25600), testRate)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if math.Abs(b.Tempo-112.5) > 1 {
		t.Errorf("Tempo = %v, want ~112.5", b.Tempo)
	}
	if len(b.Times) < 15 {
		t.Fatalf("beats = %d, want at least 15", len(b.Times))
	}
	for i := 1; i < len(b.Times); i++ {
		if gap := b.Times[i] - b.Times[i-1]; math.Abs(gap-0.5333) > 0.01 {
			t.Fatalf("gap %d = %v, want ~0.5333", i, gap)
		}
	}
	// beats sit on the clicks
	if off := math.Mod(b.Times[0], 0.53333); off > 0.03 && off < 0.50 {
		t.Errorf("first beat %v is off the click grid", b.Times[0])
	}
}

func TestDetectSilenceHasNoBeats(t *testing.T) {
	b, err := DSP{}.Detect(make([]float32, 5*testRate), testRate)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(b.Times) != 0 {
		t.Errorf("beats = %d, want 0", len(b.Times))
	}
	if b.Tempo != DefaultTempo {
		t.Errorf("Tempo = %v, want %v", b.Tempo, DefaultTempo)
	}
}

func TestDetectTooShort(t *testing.T) {
	b, _ := DSP{}.Detect(clickTrack(0.5, 12000), testRate)
	if len(b.Times) != 0 {
		t.Errorf("beats = %d, want 0 for half a second", len(b.Times))
	}
}

func TestPlausibleTempo(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{128, 128},
		{60, 60},
		{200, 200},
		{59.9, DefaultTempo},
		{240, DefaultTempo},
		{0, DefaultTempo},
		{math.NaN(), DefaultTempo},
	}
	for _, tt := range tests {
		if got := PlausibleTempo(tt.in); got != tt.want {
			t.Errorf("PlausibleTempo(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// --- Features ---

type fixedDetector struct {
	beats Beats
	err   error
	got   int
}

func (d *fixedDetector) Detect(samples []float32, sampleRate int) (Beats, error) {
	d.got = len(samples)
	return d.beats, d.err
}

func TestExtractSine(t *testing.T) {
	d := &fixedDetector{beats: Beats{Tempo: 300, Times: []float64{0.5, 1}}}
	f, err := Extract(d, sine(2, 1000, 0.5), testRate)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if f.Tempo != DefaultTempo {
		t.Errorf("Tempo = %v, want implausible 300 replaced by %v", f.Tempo, DefaultTempo)
	}
	if f.BeatCount != 2 {
		t.Errorf("BeatCount = %d, want 2", f.BeatCount)
	}
	if math.Abs(f.Energy-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("Energy = %v, want ~%v", f.Energy, 0.5/math.Sqrt2)
	}
	if math.Abs(f.Centroid-1000) > 50 {
		t.Errorf("Centroid = %v, want ~1000", f.Centroid)
	}
	if f.Duration != 2 {
		t.Errorf("Duration = %v, want 2", f.Duration)
	}
}

func TestExtractOnlyLooksAtWindow(t *testing.T) {
	d := &fixedDetector{beats: Beats{Tempo: 120}}
	f, err := Extract(d, make([]float32, 45*testRate), testRate)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if d.got != 30*testRate || f.Duration != Window {
		t.Errorf("analysed %d samples (%vs), want the first %vs", d.got, f.Duration, Window)
	}
}

func TestExtractDetectorError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Extract(&fixedDetector{err: boom}, sine(1, 440, 0.1), testRate); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped detector error", err)
	}
	if _, err := Extract(&fixedDetector{}, nil, 0); err == nil {
		t.Error("zero sample rate should fail")
	}
}
