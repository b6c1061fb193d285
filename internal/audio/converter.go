package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FallbackSampleRate replaces a capture rate that is non-finite or not positive
const FallbackSampleRate = 16000

// Format describes raw float32 samples as reported by a capture device
type Format struct {
	SampleRate float64 // Device rate, may be bogus
	Channels   int
	Planar     bool // Channel blocks one after another instead of interleaved frames
}

// Buffer is one capture callback worth of samples
type Buffer struct {
	Samples []float32
}

// FormatError reports a capture format that cannot be turned into decoder input
type FormatError struct {
	Format     Format
	TargetRate int
	Reason     string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unusable audio format (rate=%v channels=%d target=%d): %s",
		e.Format.SampleRate, e.Format.Channels, e.TargetRate, e.Reason)
}

// Normalizer converts capture buffers into mono PCM16 little-endian at the
// decoder rate. It keeps resampling state between buffers, so one Normalizer
// serves one stream from one goroutine.
type Normalizer struct {
	inRate     int
	channels   int
	planar     bool
	targetRate int
	resampler  *resampler
}

// NewNormalizer negotiates the conversion from a capture format to targetRate
func NewNormalizer(in Format, targetRate int) (*Normalizer, error) {
	if targetRate <= 0 {
		return nil, &FormatError{Format: in, TargetRate: targetRate, Reason: "target sample rate must be positive"}
	}
	if in.Channels < 0 {
		return nil, &FormatError{Format: in, TargetRate: targetRate, Reason: "negative channel count"}
	}

	inRate := FallbackSampleRate
	if !math.IsNaN(in.SampleRate) && !math.IsInf(in.SampleRate, 0) && in.SampleRate > 0 {
		inRate = int(math.Round(in.SampleRate))
	}
	if inRate <= 0 {
		// Positive but sub-hertz rates round to zero
		return nil, &FormatError{Format: in, TargetRate: targetRate, Reason: "sample rate rounds to zero"}
	}

	channels := in.Channels
	if channels == 0 {
		channels = 1
	}

	n := &Normalizer{
		inRate:     inRate,
		channels:   channels,
		planar:     in.Planar,
		targetRate: targetRate,
	}
	if inRate != targetRate {
		n.resampler = newResampler(inRate, targetRate)
	}
	return n, nil
}

// InputRate returns the capture rate after fallback substitution
func (n *Normalizer) InputRate() int {
	return n.inRate
}

// Channels returns the capture channel count after substitution
func (n *Normalizer) Channels() int {
	return n.channels
}

// TargetRate returns the negotiated decoder rate
func (n *Normalizer) TargetRate() int {
	return n.targetRate
}

// Normalize down-mixes, resamples and encodes one buffer
func (n *Normalizer) Normalize(buf Buffer) []byte {
	samples := n.downmix(buf.Samples)
	if len(samples) == 0 {
		return nil
	}
	if n.resampler != nil {
		samples = n.resampler.process(samples)
		if len(samples) == 0 {
			return nil
		}
	}
	return SamplesToPCM16(samples)
}

// downmix averages all channels into int16 mono
func (n *Normalizer) downmix(in []float32) []int16 {
	frames := len(in) / n.channels
	if frames == 0 {
		return nil
	}

	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < n.channels; ch++ {
			var idx int
			if n.planar {
				idx = ch*frames + i
			} else {
				idx = i*n.channels + ch
			}
			sum += float64(in[idx])
		}
		out[i] = FloatToPCM16(sum / float64(n.channels))
	}
	return out
}

// FloatToPCM16 clamps a [-1,1] sample and scales it to int16. NaN maps to silence.
func FloatToPCM16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * math.MaxInt16))
}

// Resample converts one self-contained buffer with linear interpolation
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}
	return newResampler(inputRate, outputRate).process(samples)
}

// resampler interpolates linearly across buffer boundaries. Positions are
// exact integers: one input sample spans unit steps and each output sample
// advances step, so long streams never drift from the true rate ratio.
type resampler struct {
	step int64
	unit int64
	pos  int64 // next output position relative to the current buffer
	last int16 // final sample of the previous buffer
}

func newResampler(inputRate, outputRate int) *resampler {
	g := gcd(inputRate, outputRate)
	return &resampler{
		step: int64(inputRate / g),
		unit: int64(outputRate / g),
	}
}

func (r *resampler) process(samples []int16) []int16 {
	n := int64(len(samples))
	if n == 0 {
		return nil
	}

	// Positions past the last sample wait for the next buffer
	end := (n - 1) * r.unit
	var out []int16
	if r.pos <= end {
		out = make([]int16, 0, (end-r.pos)/r.step+1)
	}
	for ; r.pos <= end; r.pos += r.step {
		idx, frac := r.pos/r.unit, r.pos%r.unit
		var s0 int16
		if r.pos < 0 {
			idx, frac = -1, r.pos+r.unit
			s0 = r.last
		} else {
			s0 = samples[idx]
		}
		if frac == 0 {
			out = append(out, s0)
			continue
		}
		s1 := samples[idx+1]
		out = append(out, int16((int64(s0)*(r.unit-frac)+int64(s1)*frac)/r.unit))
	}

	r.pos -= n * r.unit
	r.last = samples[n-1]
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// SamplesToPCM16 encodes samples as 16-bit little-endian bytes
func SamplesToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16ToSamples decodes 16-bit little-endian bytes; a trailing odd byte is ignored
func PCM16ToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Float32FromBytes decodes little-endian IEEE 754 float32 samples
func Float32FromBytes(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 payload length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
