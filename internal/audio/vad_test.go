package audio

import (
	"testing"
)

func constantFrame(n int, value int16) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestVADDetector_ProcessFrame(t *testing.T) {
	tests := []struct {
		name         string
		amplitude    int16
		frames       int
		wantSpeaking bool
	}{
		{"speech", 5000, 5, true},
		{"silence", 10, 15, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 10, FrameSize: 320})
			samples := constantFrame(320, tt.amplitude)

			for i := 0; i < tt.frames; i++ {
				isSpeaking, started, _ := vad.ProcessFrame(samples)
				if isSpeaking != tt.wantSpeaking {
					t.Errorf("Frame %d: expected speaking=%v, got %v", i, tt.wantSpeaking, isSpeaking)
				}
				if tt.wantSpeaking && i == 0 && !started {
					t.Error("Expected speech to start on first frame")
				}
				if tt.wantSpeaking && i > 0 && started {
					t.Errorf("Expected a single speech start, got another on frame %d", i)
				}
			}
		})
	}
}

func TestVADDetector_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 10, FrameSize: 320})

	for i := 0; i < 5; i++ {
		vad.ProcessFrame(constantFrame(320, 5000))
	}

	endedAt := -1
	for i := 0; i < 15; i++ {
		if _, _, ended := vad.ProcessFrame(constantFrame(320, 10)); ended {
			endedAt = i
			break
		}
	}

	if endedAt != 9 {
		t.Errorf("Expected speech to end on the 10th silent frame, got index %d", endedAt)
	}
	if vad.IsSpeaking() {
		t.Error("Expected speaking to be false after speech ended")
	}
}

func TestVADDetector_ProcessPCM(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 2, FrameSize: 160})

	// Three speech frames then three silent frames in one buffer
	samples := append(constantFrame(480, 5000), constantFrame(480, 0)...)
	activity := vad.ProcessPCM(SamplesToPCM16(samples))

	if activity.SpeechStarted != 1 {
		t.Errorf("Expected 1 speech start, got %d", activity.SpeechStarted)
	}
	if activity.SpeechEnded != 1 {
		t.Errorf("Expected 1 speech end, got %d", activity.SpeechEnded)
	}
	if activity.Speaking {
		t.Error("Expected speaking to be false at buffer end")
	}
	if activity.PeakRMS != 5000 {
		t.Errorf("Expected peak RMS 5000, got %f", activity.PeakRMS)
	}
}

func TestVADDetector_ProcessPCM_CarriesPartialFrames(t *testing.T) {
	vad := NewVADDetector(&VADConfig{EnergyThreshold: 500.0, SilenceFrames: 10, FrameSize: 160})

	// 100 samples cannot fill a frame
	activity := vad.ProcessPCM(SamplesToPCM16(constantFrame(100, 5000)))
	if activity.SpeechStarted != 0 || activity.Speaking {
		t.Errorf("Expected no activity from a partial frame, got %+v", activity)
	}

	// The next 60 complete it
	activity = vad.ProcessPCM(SamplesToPCM16(constantFrame(60, 5000)))
	if activity.SpeechStarted != 1 {
		t.Errorf("Expected speech start once the frame completed, got %d", activity.SpeechStarted)
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig(16000)
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceFrames != 10 {
		t.Errorf("Expected default SilenceFrames 10, got %d", config.SilenceFrames)
	}
	if config.FrameSize != 320 {
		t.Errorf("Expected FrameSize 320 at 16kHz, got %d", config.FrameSize)
	}
}
