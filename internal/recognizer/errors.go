package recognizer

import (
	"errors"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/capture"
	"github.com/lexiqai/live-transcriber/internal/decoder"
)

var (
	// ErrModelNotLoaded rejects Start before a successful LoadModel
	ErrModelNotLoaded error = &decoder.ModelLoadError{Err: errors.New("no model loaded")}

	// ErrSessionActive rejects Start unless the controller is idle
	ErrSessionActive = errors.New("recognition session already active")
)

// Error kinds reported to clients
const (
	KindModelLoad     = "ModelLoadError"
	KindFormat        = "FormatError"
	KindEngineOpen    = "EngineOpenError"
	KindEngineDecode  = "EngineDecodeError"
	KindCaptureStart  = "CaptureStartError"
	KindSessionActive = "SessionActiveError"
	KindInternal      = "InternalError"
)

// ErrorKind maps an error to its stable kind name
func ErrorKind(err error) string {
	var (
		loadErr   *decoder.ModelLoadError
		formatErr *audio.FormatError
		openErr   *decoder.OpenError
		decodeErr *decoder.DecodeError
		startErr  *capture.StartError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &loadErr):
		return KindModelLoad
	case errors.As(err, &formatErr):
		return KindFormat
	case errors.As(err, &openErr):
		return KindEngineOpen
	case errors.As(err, &decodeErr), errors.Is(err, decoder.ErrHandleClosed):
		return KindEngineDecode
	case errors.As(err, &startErr):
		return KindCaptureStart
	case errors.Is(err, ErrSessionActive):
		return KindSessionActive
	}
	return KindInternal
}
