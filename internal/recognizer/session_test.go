package recognizer

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/audio"
)

func loudPCM(samples int, level int16) []byte {
	frame := make([]int16, samples)
	for i := range frame {
		frame[i] = level
	}
	return audio.SamplesToPCM16(frame)
}

func TestSession_MidUtterance(t *testing.T) {
	tests := []struct {
		name   string
		meter  bool
		levels []int16
		want   bool
	}{
		{"no meter", false, []int16{5000}, false},
		{"silence only", true, []int16{0, 0}, false},
		{"cut off while talking", true, []int16{0, 5000}, true},
		{"speech then long pause", true, []int16{5000, 0, 0, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession("s1", Options{}, 16000, 4, zerolog.Nop())
			if tt.meter {
				s.vad = audio.NewVADDetector(&audio.VADConfig{EnergyThreshold: 500, SilenceFrames: 3, FrameSize: 160})
			}
			for _, level := range tt.levels {
				s.meter(loudPCM(160, level))
			}
			if got := s.midUtterance(); got != tt.want {
				t.Errorf("Expected midUtterance %v, got %v", tt.want, got)
			}
		})
	}
}
