package decoder

import (
	"context"
)

// Engine is a speech decoder backend able to load acoustic models
type Engine interface {
	// Name identifies the engine in logs and metrics
	Name() string
	// LoadModel resolves and loads a model by catalog name
	LoadModel(ctx context.Context, name string) (Model, error)
	// Ping reports whether the engine can currently serve requests
	Ping(ctx context.Context) error
}

// Model is a loaded acoustic/language model
type Model interface {
	Name() string
	// NewRecognizer creates a decoding stream. A non-empty grammar restricts
	// the vocabulary for the life of the recognizer.
	NewRecognizer(ctx context.Context, sampleRate int, grammar []string) (Recognizer, error)
	Close() error
}

// Recognizer is one engine decoding stream. It is not safe for concurrent use.
type Recognizer interface {
	// AcceptWaveform feeds PCM16 mono audio and reports whether the engine
	// detected an utterance endpoint
	AcceptWaveform(pcm []byte) (bool, error)
	Result() []byte
	PartialResult() []byte
	Close() error
}

// Result is what a single feed produced
type Result struct {
	IsFinal bool
	Text    string // Final text when IsFinal, otherwise the partial hypothesis
	JSON    string // Raw engine payload
}

// payload is the engine result shape shared by vosk and vosk-server
type payload struct {
	Partial *string `json:"partial,omitempty"`
	Text    *string `json:"text,omitempty"`
}
