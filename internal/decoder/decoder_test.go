package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type scriptedStep struct {
	final   bool
	payload string
	err     error
}

type scriptedRecognizer struct {
	steps  []scriptedStep
	pos    int
	last   scriptedStep
	closed int
}

func (r *scriptedRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	r.last = r.steps[r.pos%len(r.steps)]
	r.pos++
	return r.last.final, r.last.err
}

func (r *scriptedRecognizer) Result() []byte        { return []byte(r.last.payload) }
func (r *scriptedRecognizer) PartialResult() []byte { return []byte(r.last.payload) }
func (r *scriptedRecognizer) Close() error {
	r.closed++
	return nil
}

type scriptedModel struct {
	rec     *scriptedRecognizer
	openErr error
	grammar []string
	rate    int
}

func (m *scriptedModel) Name() string { return "scripted" }
func (m *scriptedModel) Close() error { return nil }
func (m *scriptedModel) NewRecognizer(ctx context.Context, sampleRate int, grammar []string) (Recognizer, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.grammar = grammar
	m.rate = sampleRate
	return m.rec, nil
}

type scriptedEngine struct {
	model   *scriptedModel
	loadErr error
}

func (e *scriptedEngine) Name() string { return "scripted" }
func (e *scriptedEngine) LoadModel(ctx context.Context, name string) (Model, error) {
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return e.model, nil
}
func (e *scriptedEngine) Ping(ctx context.Context) error { return nil }

func TestParseResult(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		final     bool
		wantText  string
		wantFinal bool
		wantErr   bool
	}{
		{"partial", `{"partial" : "hello"}`, false, "hello", false, false},
		{"empty partial", `{"partial" : ""}`, false, "", false, false},
		{"final", `{"text" : "hello world"}`, true, "hello world", true, false},
		{"final with words", `{"result":[{"word":"yes","conf":1.0}],"text":"yes"}`, true, "yes", true, false},
		{"in-band final", `{"text" : "no"}`, false, "no", true, false},
		{"malformed", `{"partial": `, false, "", false, true},
		{"not json", `garbage`, true, "", false, true},
		{"final missing text", `{"partial" : "x"}`, true, "", false, true},
		{"neither field", `{}`, false, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResult([]byte(tt.raw), tt.final)
			if tt.wantErr {
				var decodeErr *DecodeError
				if !errors.As(err, &decodeErr) {
					t.Fatalf("Expected *DecodeError, got %v", err)
				}
				if decodeErr.Payload != tt.raw {
					t.Errorf("Expected payload %q on error, got %q", tt.raw, decodeErr.Payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if res.Text != tt.wantText {
				t.Errorf("Expected text '%s', got '%s'", tt.wantText, res.Text)
			}
			if res.IsFinal != tt.wantFinal {
				t.Errorf("Expected final %v, got %v", tt.wantFinal, res.IsFinal)
			}
			if res.JSON != tt.raw {
				t.Errorf("Expected raw JSON kept, got %q", res.JSON)
			}
		})
	}
}

func TestDecoder_LoadModel(t *testing.T) {
	engine := &scriptedEngine{loadErr: ErrUnknownModel}
	d := New(engine, zerolog.Nop())

	_, err := d.LoadModel(context.Background(), "missing-model")
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected *ModelLoadError, got %v", err)
	}
	if loadErr.Model != "missing-model" {
		t.Errorf("Expected model 'missing-model', got '%s'", loadErr.Model)
	}
	if !errors.Is(err, ErrUnknownModel) {
		t.Error("Expected ErrUnknownModel to be wrapped")
	}

	if _, err := d.LoadModel(context.Background(), ""); !errors.As(err, &loadErr) {
		t.Errorf("Expected *ModelLoadError for empty name, got %v", err)
	}
}

func TestDecoder_OpenError(t *testing.T) {
	model := &scriptedModel{openErr: errors.New("bad sample rate")}
	d := New(&scriptedEngine{model: model}, zerolog.Nop())

	_, err := d.Open(context.Background(), model, 16000, nil)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected *OpenError, got %v", err)
	}
	if openErr.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", openErr.SampleRate)
	}

	if _, err := d.Open(context.Background(), nil, 16000, nil); !errors.As(err, &openErr) {
		t.Errorf("Expected *OpenError for nil model, got %v", err)
	}
}

func TestHandle_Feed(t *testing.T) {
	rec := &scriptedRecognizer{steps: []scriptedStep{
		{payload: `{"partial" : "ye"}`},
		{final: true, payload: `{"text" : "yes"}`},
	}}
	model := &scriptedModel{rec: rec}
	d := New(&scriptedEngine{model: model}, zerolog.Nop())

	h, err := d.Open(context.Background(), model, 8000, []string{"yes", "no"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if model.rate != 8000 || len(model.grammar) != 2 {
		t.Errorf("Expected rate and grammar forwarded, got %d %v", model.rate, model.grammar)
	}
	if h.SampleRate() != 8000 {
		t.Errorf("Expected handle sample rate 8000, got %d", h.SampleRate())
	}

	res, err := h.Feed([]byte{0, 0})
	if err != nil || res.IsFinal || res.Text != "ye" {
		t.Errorf("Expected partial 'ye', got %+v (err %v)", res, err)
	}

	res, err = h.Feed([]byte{0, 0})
	if err != nil || !res.IsFinal || res.Text != "yes" {
		t.Errorf("Expected final 'yes', got %+v (err %v)", res, err)
	}
}

func TestHandle_FeedEngineError(t *testing.T) {
	rec := &scriptedRecognizer{steps: []scriptedStep{{err: errors.New("engine exploded")}}}
	h := &Handle{rec: rec}

	_, err := h.Feed([]byte{0, 0})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Expected *DecodeError, got %v", err)
	}
}

func TestHandle_CloseIdempotent(t *testing.T) {
	rec := &scriptedRecognizer{steps: []scriptedStep{{payload: `{"partial":""}`}}}
	h := &Handle{rec: rec}

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if rec.closed != 1 {
		t.Errorf("Expected recognizer closed once, got %d", rec.closed)
	}

	if _, err := h.Feed([]byte{0, 0}); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Expected ErrHandleClosed after close, got %v", err)
	}

	var nilHandle *Handle
	if err := nilHandle.Close(); err != nil {
		t.Errorf("Expected nil handle Close to be a no-op, got %v", err)
	}
	if _, err := nilHandle.Feed(nil); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("Expected ErrHandleClosed from nil handle, got %v", err)
	}
}
