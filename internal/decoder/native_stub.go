//go:build !vosk

package decoder

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// NativeAvailable reports whether the binary was built with libvosk
const NativeAvailable = false

var errNativeUnavailable = errors.New("native engine requires building with -tags vosk")

// NativeEngine is unavailable without the vosk build tag
type NativeEngine struct{}

// NewNativeEngine fails unless built with -tags vosk
func NewNativeEngine(catalog *Catalog, logger zerolog.Logger) (*NativeEngine, error) {
	return nil, errNativeUnavailable
}

func (e *NativeEngine) Name() string {
	return "native"
}

func (e *NativeEngine) LoadModel(ctx context.Context, name string) (Model, error) {
	return nil, errNativeUnavailable
}

func (e *NativeEngine) Ping(ctx context.Context) error {
	return errNativeUnavailable
}
