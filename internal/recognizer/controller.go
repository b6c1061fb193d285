package recognizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/capture"
	"github.com/lexiqai/live-transcriber/internal/config"
	"github.com/lexiqai/live-transcriber/internal/decoder"
	"github.com/lexiqai/live-transcriber/internal/events"
	"github.com/lexiqai/live-transcriber/internal/observability"
)

// Sink receives session notifications
type Sink interface {
	Publish(e events.Event) bool
	HasSubscribers() bool
}

// Options configures one recognition session
type Options struct {
	Grammar []string      // Closed vocabulary, empty for unconstrained
	Timeout time.Duration // Hard session limit, zero for none
}

// Config holds controller settings
type Config struct {
	SampleRate int
	QueueSize  int
	StopPolicy string           // config.StopPolicyDrain or config.StopPolicyDiscard
	VAD        *audio.VADConfig // nil disables the activity meter
}

// ConfigFrom derives controller settings from service configuration
func ConfigFrom(cfg *config.Config) Config {
	vad := audio.DefaultVADConfig(cfg.SampleRate)
	vad.EnergyThreshold = cfg.VADEnergyThreshold
	vad.SilenceFrames = cfg.VADSilenceFrames

	return Config{
		SampleRate: cfg.SampleRate,
		QueueSize:  cfg.DecodeQueueSize,
		StopPolicy: cfg.StopPolicy,
		VAD:        vad,
	}
}

// Controller owns the session state machine for one capture source
type Controller struct {
	cfg     Config
	decoder *decoder.Decoder
	source  capture.Source
	sink    Sink
	logger  zerolog.Logger

	// cmdMu serializes LoadModel, Start, Stop and Unload
	cmdMu sync.Mutex

	mu      sync.Mutex
	state   State
	model   decoder.Model
	session *session
}

// NewController creates an idle controller
func NewController(cfg Config, dec *decoder.Decoder, source capture.Source, sink Sink, logger zerolog.Logger) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.FallbackSampleRate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.StopPolicy == "" {
		cfg.StopPolicy = config.StopPolicyDrain
	}

	return &Controller{
		cfg:     cfg,
		decoder: dec,
		source:  source,
		sink:    sink,
		logger:  logger.With().Str("component", "recognizer").Logger(),
		state:   StateIdle,
	}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the active session id, empty when idle
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// ModelName returns the loaded model name, empty when none
func (c *Controller) ModelName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return ""
	}
	return c.model.Name()
}

// LoadModel loads a model and makes it current. An active session is
// stopped without events first; a failed load keeps the previous model.
func (c *Controller) LoadModel(ctx context.Context, name string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	model, err := c.decoder.LoadModel(ctx, name)
	if err != nil {
		return err
	}

	c.stopSession(reasonUnload)

	c.mu.Lock()
	previous := c.model
	c.model = model
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			c.logger.Warn().Err(err).Str("model", previous.Name()).Msg("Error releasing previous model")
		}
	}

	c.logger.Info().Str("model", name).Msg("Model ready")
	return nil
}

// Start begins a session and returns its id. Every failure is rolled back
// before it is returned.
func (c *Controller) Start(ctx context.Context, opts Options) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.model == nil {
		c.mu.Unlock()
		return "", ErrModelNotLoaded
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return "", ErrSessionActive
	}
	model := c.model
	c.setState(StateStarting)
	c.mu.Unlock()

	id, err := c.start(ctx, model, opts)
	if err != nil {
		observability.RecordStartFailure()
		observability.RecordError(ErrorKind(err), "recognizer")
		c.logger.Error().Err(err).Str("kind", ErrorKind(err)).Msg("Failed to start session")

		c.mu.Lock()
		c.setState(StateFaulted)
		c.setState(StateIdle)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

func (c *Controller) start(ctx context.Context, model decoder.Model, opts Options) (string, error) {
	id := uuid.NewString()
	logger := c.logger.With().Str("session_id", id).Logger()
	s := newSession(id, opts, c.cfg.SampleRate, c.cfg.QueueSize, logger)

	normalizer, err := audio.NewNormalizer(c.source.Format(), c.cfg.SampleRate)
	if err != nil {
		return "", err
	}
	s.normalizer = normalizer

	if err := c.source.Activate(); err != nil {
		return "", asStartError("activate", err)
	}

	handle, err := c.decoder.Open(ctx, model, s.sampleRate, s.grammar)
	if err != nil {
		c.deactivate(logger)
		return "", err
	}
	s.handle = handle

	if c.cfg.VAD != nil {
		vad := *c.cfg.VAD
		s.vad = audio.NewVADDetector(&vad)
	}

	// Buffers queue up until the decode goroutine starts below
	c.source.SetConsumer(s.enqueue)
	if err := c.source.Start(); err != nil {
		c.source.RemoveConsumer()
		s.queue.Close(true)
		s.handle.Close()
		s.handle = nil
		c.deactivate(logger)
		return "", asStartError("start", err)
	}

	c.mu.Lock()
	c.session = s
	c.setState(StateListening)
	if s.timeout > 0 {
		s.timer = time.AfterFunc(s.timeout, func() { c.onTimeout(s) })
	}
	go c.decodeLoop(s)
	c.mu.Unlock()

	s.metrics.RecordStart()
	logger.Info().
		Str("model", model.Name()).
		Int("sample_rate", s.sampleRate).
		Int("input_rate", normalizer.InputRate()).
		Int("input_channels", normalizer.Channels()).
		Strs("grammar", s.grammar).
		Dur("timeout", s.timeout).
		Msg("Session listening")
	return id, nil
}

// Stop ends the session, emitting onFinalResult with the last partial
// transcript. It is a no-op when idle and waits for a teardown already running.
func (c *Controller) Stop() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.stopSession(reasonStop)
}

// Unload stops any session without events and releases the model
func (c *Controller) Unload() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.stopSession(reasonUnload)

	c.mu.Lock()
	model := c.model
	c.model = nil
	c.mu.Unlock()

	if model == nil {
		return
	}
	if err := model.Close(); err != nil {
		c.logger.Warn().Err(err).Str("model", model.Name()).Msg("Error releasing model")
	}
	c.logger.Info().Str("model", model.Name()).Msg("Model unloaded")
}

// Close is Unload for connection shutdown
func (c *Controller) Close() {
	c.Unload()
}

func (c *Controller) stopSession(reason stopReason) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return
	}
	c.teardown(s, reason)
	<-s.stopped
}

func (c *Controller) onTimeout(s *session) {
	s.logger.Info().Dur("timeout", s.timeout).Msg("Session timed out")
	c.teardown(s, reasonTimeout)
}

func (c *Controller) decodeLoop(s *session) {
	defer close(s.workerDone)

	for {
		pcm, ok := s.queue.Next()
		if !ok {
			return
		}

		start := time.Now()
		res, err := s.handle.Feed(pcm)
		s.metrics.RecordDecode(time.Since(start))
		if err != nil {
			s.decodeErr = err
			// Teardown waits for this goroutine, so it must run elsewhere
			go c.teardown(s, reasonError)
			return
		}

		s.meter(pcm)

		if t, text, notify := s.dedup.Observe(res); notify {
			c.emit(s, t, text)
		}
	}
}

// teardown runs once per session; later callers return immediately
func (c *Controller) teardown(s *session, reason stopReason) {
	c.mu.Lock()
	if c.session != s || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	s.reason = reason
	if reason == reasonError {
		c.setState(StateFaulted)
	} else {
		c.setState(StateStopping)
	}
	timer := s.timer
	s.timer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	// No buffer reaches the queue after this
	c.source.RemoveConsumer()
	c.source.Stop()

	discard := reason == reasonError || c.cfg.StopPolicy == config.StopPolicyDiscard
	if dropped := s.queue.Close(discard); dropped > 0 {
		observability.RecordFramesDropped(dropped)
		s.logger.Debug().Int("dropped", dropped).Msg("Discarded queued frames")
	}
	<-s.workerDone

	if s.decodeErr != nil && reason != reasonError {
		// Lost the race against a stop that was already tearing down
		observability.RecordError(ErrorKind(s.decodeErr), "recognizer")
		s.logger.Error().Err(s.decodeErr).Msg("Decode failed during teardown")
	}

	switch reason {
	case reasonStop:
		c.emit(s, events.FinalResult, s.dedup.LastPartial())
	case reasonTimeout:
		c.emit(s, events.Timeout, "")
	case reasonError:
		c.reportError(s, s.decodeErr)
	}

	s.handle.Close()
	s.handle = nil
	c.deactivate(s.logger)
	s.metrics.RecordEnd(reason.outcome())

	c.mu.Lock()
	c.session = nil
	c.setState(StateIdle)
	c.mu.Unlock()

	s.logger.Info().
		Str("outcome", reason.outcome()).
		Bool("mid_utterance", s.midUtterance()).
		Msg("Session ended")
	close(s.stopped)
}

func (c *Controller) emit(s *session, t events.Type, text string) bool {
	if !c.sink.HasSubscribers() {
		s.logger.Debug().Str("event", string(t)).Msg("No subscribers, event not emitted")
		return false
	}
	return c.sink.Publish(events.Event{Type: t, Text: text, SessionID: s.id})
}

func (c *Controller) reportError(s *session, err error) {
	kind := ErrorKind(err)
	observability.RecordError(kind, "recognizer")

	if c.emit(s, events.Error, err.Error()) {
		s.logger.Warn().Err(err).Str("kind", kind).Msg("Decode failed, session terminated")
		return
	}
	s.logger.Error().Err(err).Str("kind", kind).Msg("Decode failed with no listener, session terminated")
}

func (c *Controller) deactivate(logger zerolog.Logger) {
	if err := c.source.Deactivate(); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore audio session")
	}
}

// setState must be called with mu held
func (c *Controller) setState(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug().Str("from", c.state.String()).Str("to", state.String()).Msg("State transition")
	c.state = state
}

func asStartError(op string, err error) error {
	var startErr *capture.StartError
	if errors.As(err, &startErr) {
		return err
	}
	return &capture.StartError{Op: op, Err: err}
}
