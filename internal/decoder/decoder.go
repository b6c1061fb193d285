package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/observability"
)

// Decoder adapts an Engine to the open/feed/close contract used by the recognizer
type Decoder struct {
	engine Engine
	logger zerolog.Logger
}

// New creates a decoder adapter over an engine
func New(engine Engine, logger zerolog.Logger) *Decoder {
	return &Decoder{
		engine: engine,
		logger: logger.With().Str("component", "decoder").Str("engine", engine.Name()).Logger(),
	}
}

// EngineName returns the underlying engine name
func (d *Decoder) EngineName() string {
	return d.engine.Name()
}

// LoadModel loads a model by name. Every failure is a *ModelLoadError.
func (d *Decoder) LoadModel(ctx context.Context, name string) (Model, error) {
	if name == "" {
		return nil, &ModelLoadError{Model: name, Err: errors.New("empty model name")}
	}

	start := time.Now()
	model, err := d.engine.LoadModel(ctx, name)
	if err != nil {
		observability.RecordError("model_load", "decoder")
		d.logger.Error().Err(err).Str("model", name).Msg("Failed to load model")
		return nil, &ModelLoadError{Model: name, Err: err}
	}

	d.logger.Info().
		Str("model", name).
		Dur("took", time.Since(start)).
		Msg("Model loaded")
	return model, nil
}

// Open creates a fresh handle bound to model and sampleRate
func (d *Decoder) Open(ctx context.Context, model Model, sampleRate int, grammar []string) (*Handle, error) {
	if model == nil {
		return nil, &OpenError{SampleRate: sampleRate, Err: errors.New("no model")}
	}

	rec, err := model.NewRecognizer(ctx, sampleRate, grammar)
	if err != nil {
		observability.RecordError("engine_open", "decoder")
		return nil, &OpenError{Model: model.Name(), SampleRate: sampleRate, Err: err}
	}

	d.logger.Debug().
		Str("model", model.Name()).
		Int("sample_rate", sampleRate).
		Int("grammar_phrases", len(grammar)).
		Msg("Decoder handle opened")

	return &Handle{
		rec:        rec,
		model:      model.Name(),
		sampleRate: sampleRate,
		logger:     d.logger,
	}, nil
}

// Ping probes the engine for readiness checks
func (d *Decoder) Ping(ctx context.Context) error {
	return d.engine.Ping(ctx)
}

// Handle owns one recognizer. Feed must not be called concurrently.
type Handle struct {
	mu         sync.Mutex
	rec        Recognizer
	model      string
	sampleRate int
	logger     zerolog.Logger
}

// SampleRate returns the rate the handle was opened with
func (h *Handle) SampleRate() int {
	return h.sampleRate
}

// Feed pushes one buffer of PCM16 audio and returns the engine's current hypothesis
func (h *Handle) Feed(pcm []byte) (Result, error) {
	if h == nil {
		return Result{}, ErrHandleClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rec == nil {
		return Result{}, ErrHandleClosed
	}

	final, err := h.rec.AcceptWaveform(pcm)
	if err != nil {
		return Result{}, &DecodeError{Err: err}
	}

	var raw []byte
	if final {
		raw = h.rec.Result()
	} else {
		raw = h.rec.PartialResult()
	}
	return ParseResult(raw, final)
}

// Close releases the recognizer. Safe on nil and already closed handles.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	rec := h.rec
	h.rec = nil
	h.mu.Unlock()

	if rec == nil {
		return nil
	}
	if err := rec.Close(); err != nil {
		h.logger.Warn().Err(err).Str("model", h.model).Msg("Error closing decoder handle")
		return err
	}
	return nil
}

// ParseResult decodes an engine payload of the form {partial?, text?}
func ParseResult(raw []byte, final bool) (Result, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Result{}, &DecodeError{Payload: string(raw), Err: err}
	}

	res := Result{IsFinal: final, JSON: string(raw)}
	if final {
		if p.Text == nil {
			return Result{}, &DecodeError{Payload: string(raw), Err: errors.New("final result without text")}
		}
		res.Text = *p.Text
		return res, nil
	}

	switch {
	case p.Partial != nil:
		res.Text = *p.Partial
	case p.Text != nil:
		// vosk-server reports endpoints in-band
		res.IsFinal = true
		res.Text = *p.Text
	default:
		return Result{}, &DecodeError{Payload: string(raw), Err: errors.New("payload has neither partial nor text")}
	}
	return res, nil
}
