package audio

// VADConfig holds configuration for the voice activity meter
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end a speech segment
	FrameSize       int     // Samples per analysis frame
}

// DefaultVADConfig returns 20ms frames at the given sample rate
func DefaultVADConfig(sampleRate int) *VADConfig {
	frameSize := sampleRate / 50
	if frameSize < 1 {
		frameSize = 160
	}
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms
		FrameSize:       frameSize,
	}
}

// Activity summarizes what the meter saw in one PCM buffer
type Activity struct {
	Speaking      bool
	SpeechStarted int
	SpeechEnded   int
	PeakRMS       float64
}

// VADDetector is an energy-based activity meter. It only observes audio;
// utterance boundaries are always left to the decoder engine.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	pending        []int16
}

// NewVADDetector creates a new activity meter
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig(FallbackSampleRate)
	}
	if config.FrameSize < 1 {
		config.FrameSize = 160
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes one analysis frame
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// ProcessPCM slices normalized PCM16 into analysis frames and runs each one.
// Samples that do not fill a frame are carried into the next call.
func (v *VADDetector) ProcessPCM(pcm []byte) Activity {
	v.pending = append(v.pending, PCM16ToSamples(pcm)...)

	var activity Activity
	size := v.config.FrameSize
	consumed := 0
	for len(v.pending)-consumed >= size {
		frame := v.pending[consumed : consumed+size]
		consumed += size

		if rms := CalculateRMS(frame); rms > activity.PeakRMS {
			activity.PeakRMS = rms
		}
		_, started, ended := v.ProcessFrame(frame)
		if started {
			activity.SpeechStarted++
		}
		if ended {
			activity.SpeechEnded++
		}
	}
	v.pending = append(v.pending[:0], v.pending[consumed:]...)

	activity.Speaking = v.isSpeaking
	return activity
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
