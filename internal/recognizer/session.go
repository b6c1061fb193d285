package recognizer

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/decoder"
	"github.com/lexiqai/live-transcriber/internal/observability"
)

// session is one recognition attempt. The handle, deduplicator and activity
// meter belong to the decode goroutine until workerDone is closed; timer and
// reason are guarded by Controller.mu.
type session struct {
	id         string
	grammar    []string
	sampleRate int
	timeout    time.Duration

	normalizer *audio.Normalizer
	queue      *audio.FrameQueue
	handle     *decoder.Handle
	dedup      Deduplicator
	vad        *audio.VADDetector

	timer  *time.Timer
	reason stopReason

	decodeErr  error
	workerDone chan struct{}
	stopped    chan struct{}

	metrics *observability.SessionMetrics
	logger  zerolog.Logger
}

func newSession(id string, opts Options, sampleRate, queueSize int, logger zerolog.Logger) *session {
	var grammar []string
	if len(opts.Grammar) > 0 {
		grammar = append(grammar, opts.Grammar...)
	}

	return &session{
		id:         id,
		grammar:    grammar,
		sampleRate: sampleRate,
		timeout:    opts.Timeout,
		queue:      audio.NewFrameQueue(queueSize),
		workerDone: make(chan struct{}),
		stopped:    make(chan struct{}),
		metrics:    observability.NewSessionMetrics(id),
		logger:     logger,
	}
}

// enqueue runs on the capture goroutine and never blocks
func (s *session) enqueue(buf audio.Buffer) {
	pcm := s.normalizer.Normalize(buf)
	if len(pcm) == 0 {
		return
	}

	dropped, err := s.queue.Push(pcm)
	if err != nil {
		// Closed by teardown
		return
	}
	if dropped > 0 {
		observability.RecordFramesDropped(dropped)
		s.logger.Warn().Int("queue_size", s.queue.Cap()).Msg("Decode queue full, dropping oldest frame")
	}
	s.metrics.RecordAudioBytes(len(pcm))
}

// meter feeds the activity meter; it never influences decoding
func (s *session) meter(pcm []byte) {
	if s.vad == nil {
		return
	}
	activity := s.vad.ProcessPCM(pcm)
	for i := 0; i < activity.SpeechStarted; i++ {
		observability.RecordSpeechSegment()
		s.logger.Debug().Float64("rms", activity.PeakRMS).Msg("Speech started")
	}
	if activity.SpeechEnded > 0 {
		s.logger.Debug().Msg("Speech ended")
	}
}

// midUtterance reports whether the meter still hears speech
func (s *session) midUtterance() bool {
	return s.vad != nil && s.vad.IsSpeaking()
}
