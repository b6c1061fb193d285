package recognizer

import (
	"testing"

	"github.com/lexiqai/live-transcriber/internal/decoder"
	"github.com/lexiqai/live-transcriber/internal/events"
)

func partialResult(text string) decoder.Result { return decoder.Result{Text: text} }
func finalResult(text string) decoder.Result   { return decoder.Result{Text: text, IsFinal: true} }

func TestDeduplicator_Observe(t *testing.T) {
	tests := []struct {
		name    string
		results []decoder.Result
		want    []events.Type // one entry per result, "" when suppressed
	}{
		{
			name:    "first partial always notified",
			results: []decoder.Result{partialResult("")},
			want:    []events.Type{events.PartialResult},
		},
		{
			name:    "repeated partial suppressed",
			results: []decoder.Result{partialResult("yes"), partialResult("yes")},
			want:    []events.Type{events.PartialResult, ""},
		},
		{
			name:    "changed partial notified",
			results: []decoder.Result{partialResult("ye"), partialResult("yes")},
			want:    []events.Type{events.PartialResult, events.PartialResult},
		},
		{
			name:    "empty partial after text suppressed",
			results: []decoder.Result{partialResult("yes"), partialResult("")},
			want:    []events.Type{events.PartialResult, ""},
		},
		{
			name:    "finals always notified",
			results: []decoder.Result{finalResult("yes"), finalResult("yes"), finalResult("")},
			want:    []events.Type{events.Result, events.Result, events.Result},
		},
		{
			name:    "final becomes baseline",
			results: []decoder.Result{partialResult("no"), finalResult("no"), partialResult("no"), partialResult("yes")},
			want:    []events.Type{events.PartialResult, events.Result, "", events.PartialResult},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Deduplicator
			for i, res := range tt.results {
				typ, text, notify := d.Observe(res)
				if tt.want[i] == "" {
					if notify {
						t.Errorf("Result %d: expected suppression, got %s(%q)", i, typ, text)
					}
					continue
				}
				if !notify || typ != tt.want[i] {
					t.Errorf("Result %d: expected %s, got %s (notify=%v)", i, tt.want[i], typ, notify)
				}
				if text != res.Text {
					t.Errorf("Result %d: expected text '%s', got '%s'", i, res.Text, text)
				}
			}
		})
	}
}

func TestDeduplicator_LastPartial(t *testing.T) {
	var d Deduplicator

	if d.LastPartial() != "" {
		t.Error("Expected empty last partial before any decode")
	}
	if _, ok := d.Last(); ok {
		t.Error("Expected no snapshot before any decode")
	}

	d.Observe(partialResult("hello"))
	if d.LastPartial() != "hello" {
		t.Errorf("Expected 'hello', got '%s'", d.LastPartial())
	}

	d.Observe(finalResult("hello world"))
	if d.LastPartial() != "" {
		t.Errorf("Expected empty last partial after a final, got '%s'", d.LastPartial())
	}

	snap, ok := d.Last()
	if !ok || !snap.IsFinal || snap.Text() != "hello world" {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}
