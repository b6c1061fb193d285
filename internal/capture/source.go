package capture

import (
	"fmt"

	"github.com/lexiqai/live-transcriber/internal/audio"
)

// Consumer receives capture buffers. It runs on the capture goroutine and
// must return immediately.
type Consumer func(audio.Buffer)

// Source is the platform audio subsystem as seen by the recognizer
type Source interface {
	// Format reports the device format; it may be bogus and is normalized by the caller
	Format() audio.Format
	// Activate claims the audio session before capture starts
	Activate() error
	// Deactivate restores the audio session to its neutral mode
	Deactivate() error
	SetConsumer(fn Consumer)
	// RemoveConsumer uninstalls the consumer. No buffer is delivered after it returns.
	RemoveConsumer()
	Start() error
	Stop()
}

// StartError reports that the audio session could not be activated or started
type StartError struct {
	Op  string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("capture %s failed: %v", e.Op, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
