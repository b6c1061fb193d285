//go:build vosk

package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog"
)

// NativeAvailable reports whether the binary was built with libvosk
const NativeAvailable = true

// NativeEngine decodes in-process through libvosk
type NativeEngine struct {
	catalog *Catalog
	logger  zerolog.Logger

	mu     sync.Mutex
	models map[string]*nativeModel
}

// NewNativeEngine creates an engine loading model directories listed in catalog
func NewNativeEngine(catalog *Catalog, logger zerolog.Logger) (*NativeEngine, error) {
	vosk.SetLogLevel(-1)
	return &NativeEngine{
		catalog: catalog,
		logger:  logger.With().Str("component", "vosk_native").Logger(),
		models:  make(map[string]*nativeModel),
	}, nil
}

func (e *NativeEngine) Name() string {
	return "native"
}

// LoadModel loads a model directory, sharing already loaded models by name
func (e *NativeEngine) LoadModel(ctx context.Context, name string) (Model, error) {
	spec, ok := e.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if spec.Path == "" {
		return nil, fmt.Errorf("model %s has no path", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.models[name]; ok {
		m.refs++
		return m, nil
	}

	vm, err := vosk.NewModel(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", spec.Path, err)
	}

	m := &nativeModel{name: name, model: vm, engine: e, refs: 1}
	e.models[name] = m
	e.logger.Info().Str("model", name).Str("path", spec.Path).Msg("Native model loaded")
	return m, nil
}

// Ping always succeeds once the library is linked
func (e *NativeEngine) Ping(ctx context.Context) error {
	return nil
}

func (e *NativeEngine) release(m *nativeModel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m.refs--
	if m.refs > 0 {
		return
	}
	delete(e.models, m.name)
	m.model.Free()
}

type nativeModel struct {
	name   string
	model  *vosk.VoskModel
	engine *NativeEngine
	refs   int
	once   sync.Once
}

func (m *nativeModel) Name() string {
	return m.name
}

func (m *nativeModel) NewRecognizer(ctx context.Context, sampleRate int, grammar []string) (Recognizer, error) {
	var (
		rec *vosk.VoskRecognizer
		err error
	)
	if len(grammar) > 0 {
		grm, merr := json.Marshal(GrammarPhrases(grammar))
		if merr != nil {
			return nil, merr
		}
		rec, err = vosk.NewRecognizerGrm(m.model, float64(sampleRate), string(grm))
	} else {
		rec, err = vosk.NewRecognizer(m.model, float64(sampleRate))
	}
	if err != nil {
		return nil, err
	}
	return &nativeRecognizer{rec: rec}, nil
}

func (m *nativeModel) Close() error {
	m.once.Do(func() {
		m.engine.release(m)
	})
	return nil
}

type nativeRecognizer struct {
	rec *vosk.VoskRecognizer
}

func (r *nativeRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	switch r.rec.AcceptWaveform(pcm) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, errors.New("libvosk rejected waveform")
	}
}

func (r *nativeRecognizer) Result() []byte {
	return []byte(r.rec.Result())
}

func (r *nativeRecognizer) PartialResult() []byte {
	return []byte(r.rec.PartialResult())
}

func (r *nativeRecognizer) Close() error {
	r.rec.Free()
	return nil
}
