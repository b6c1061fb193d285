package recognizer

import (
	"github.com/lexiqai/live-transcriber/internal/decoder"
	"github.com/lexiqai/live-transcriber/internal/events"
)

// Snapshot is the transcript state after one decode cycle
type Snapshot struct {
	Partial string
	Final   string
	IsFinal bool
}

// Text returns the transcript the snapshot carries
func (s Snapshot) Text() string {
	if s.IsFinal {
		return s.Final
	}
	return s.Partial
}

// Deduplicator suppresses repeated partial results. It is owned by the decode goroutine.
type Deduplicator struct {
	last *Snapshot
}

// Observe records a decode result and returns the notification to emit, if any.
// Finals are always notified and become the baseline for later partials.
func (d *Deduplicator) Observe(res decoder.Result) (events.Type, string, bool) {
	prev := d.last
	next := Snapshot{IsFinal: res.IsFinal}
	if res.IsFinal {
		next.Final = res.Text
	} else {
		next.Partial = res.Text
	}
	d.last = &next

	if res.IsFinal {
		return events.Result, res.Text, true
	}
	if prev == nil {
		return events.PartialResult, res.Text, true
	}
	if res.Text != "" && res.Text != prev.Text() {
		return events.PartialResult, res.Text, true
	}
	return "", "", false
}

// LastPartial returns the latest partial hypothesis, empty when the latest
// cycle produced a final or nothing was decoded
func (d *Deduplicator) LastPartial() string {
	if d.last == nil || d.last.IsFinal {
		return ""
	}
	return d.last.Partial
}

// Last returns the latest snapshot
func (d *Deduplicator) Last() (Snapshot, bool) {
	if d.last == nil {
		return Snapshot{}, false
	}
	return *d.last, true
}
