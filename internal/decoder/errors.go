package decoder

import (
	"errors"
	"fmt"
)

// ErrHandleClosed is returned when feeding a handle after release
var ErrHandleClosed = errors.New("decoder handle closed")

// ErrUnknownModel is returned by engines for names missing from the catalog
var ErrUnknownModel = errors.New("unknown model")

// ModelLoadError reports a bad or missing model reference
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("model not loaded: %v", e.Err)
	}
	return fmt.Sprintf("failed to load model %q: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// OpenError reports an engine refusing to create a decoding stream
type OpenError struct {
	Model      string
	SampleRate int
	Err        error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open decoder for model %q at %d Hz: %v", e.Model, e.SampleRate, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// DecodeError reports an engine rejecting a buffer or returning an unreadable payload
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("decode failed: %v (payload %q)", e.Err, e.Payload)
	}
	return fmt.Sprintf("decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
