package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/config"
	"github.com/lexiqai/live-transcriber/internal/decoder"
	"github.com/lexiqai/live-transcriber/internal/events"
)

// echoEngine reports every decoded buffer as the partial "hello"
type echoEngine struct{}

func (echoEngine) Name() string                   { return "echo" }
func (echoEngine) Ping(ctx context.Context) error { return nil }

func (echoEngine) LoadModel(ctx context.Context, name string) (decoder.Model, error) {
	if name != "en-small" {
		return nil, decoder.ErrUnknownModel
	}
	return echoModel{}, nil
}

type echoModel struct{}

func (echoModel) Name() string { return "en-small" }
func (echoModel) Close() error { return nil }
func (echoModel) NewRecognizer(ctx context.Context, sampleRate int, grammar []string) (decoder.Recognizer, error) {
	return &echoRecognizer{}, nil
}

type echoRecognizer struct{}

func (*echoRecognizer) AcceptWaveform(pcm []byte) (bool, error) { return false, nil }
func (*echoRecognizer) Result() []byte                          { return []byte(`{"text" : "hello"}`) }
func (*echoRecognizer) PartialResult() []byte                   { return []byte(`{"partial" : "hello"}`) }
func (*echoRecognizer) Close() error                            { return nil }

// recordingForwarder captures forwarded events
type recordingForwarder struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *recordingForwarder) Attach(ctx context.Context, bus *events.Bus) {
	sub, _ := bus.Subscribe(ctx)
	go func() {
		for e := range sub.C {
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
		}
	}()
}

func (f *recordingForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type message struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	OK        bool   `json:"ok"`
	Result    string `json:"result"`
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Event     string `json:"event"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

func testConfig() *config.Config {
	return &config.Config{
		SampleRate:         16000,
		DecodeQueueSize:    16,
		StopPolicy:         config.StopPolicyDrain,
		EventBufferSize:    64,
		VADEnergyThreshold: 500,
		VADSilenceFrames:   10,
	}
}

func dial(t *testing.T, cfg *config.Config, forwarder EventForwarder) *websocket.Conn {
	t.Helper()
	conn, _ := dialWithHeader(t, cfg, forwarder, nil)
	return conn
}

func dialWithHeader(t *testing.T, cfg *config.Config, forwarder EventForwarder, header http.Header) (*websocket.Conn, *http.Response) {
	t.Helper()

	handler := NewHandler(cfg, decoder.New(echoEngine{}, zerolog.Nop()), forwarder, zerolog.Nop())
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, resp
}

func send(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("Failed to send %s: %v", cmd.Command, err)
	}
}

func sendAudio(t *testing.T, conn *websocket.Conn, samples []float32) {
	t.Helper()
	data := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("Failed to send audio: %v", err)
	}
}

// readUntil reads messages until match returns true
func readUntil(t *testing.T, conn *websocket.Conn, match func(message) bool) message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func responseTo(command string) func(message) bool {
	return func(m message) bool { return m.Type == "response" && m.Command == command }
}

func event(name string) func(message) bool {
	return func(m message) bool { return m.Type == "event" && m.Event == name }
}

func TestHandler_RecognitionFlow(t *testing.T) {
	conn := dial(t, testConfig(), nil)

	send(t, conn, Command{Command: "loadModel", Model: "en-small"})
	if resp := readUntil(t, conn, responseTo("loadModel")); !resp.OK || resp.Result != "en-small" {
		t.Fatalf("Expected loadModel ok, got %+v", resp)
	}

	send(t, conn, Command{Command: "start", Grammar: []string{"hello"}, TimeoutMs: 10000})
	start := readUntil(t, conn, responseTo("start"))
	if !start.OK || start.Result == "" {
		t.Fatalf("Expected session id, got %+v", start)
	}

	sendAudio(t, conn, []float32{0.1, 0.2, 0.3, 0.4})
	partial := readUntil(t, conn, event("onPartialResult"))
	if partial.Text != "hello" || partial.SessionID != start.Result {
		t.Errorf("Expected partial 'hello' for %s, got %+v", start.Result, partial)
	}

	// The final result is written before the stop response
	send(t, conn, Command{Command: "stop"})
	var final *message
	readUntil(t, conn, func(m message) bool {
		if m.Type == "event" && m.Event == "onFinalResult" {
			final = &m
		}
		return m.Type == "response" && m.Command == "stop"
	})
	if final == nil {
		t.Fatal("Expected onFinalResult before the stop response")
	}
	if final.Text != "hello" {
		t.Errorf("Expected final 'hello', got '%s'", final.Text)
	}

	send(t, conn, Command{Command: "state"})
	if resp := readUntil(t, conn, responseTo("state")); resp.Result != "idle" {
		t.Errorf("Expected idle, got '%s'", resp.Result)
	}
}

func TestHandler_StartWithoutModel(t *testing.T) {
	conn := dial(t, testConfig(), nil)

	send(t, conn, Command{Command: "start"})
	resp := readUntil(t, conn, responseTo("start"))
	if resp.OK {
		t.Fatal("Expected start to fail")
	}
	if resp.Kind != "ModelLoadError" {
		t.Errorf("Expected kind ModelLoadError, got '%s'", resp.Kind)
	}
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		commands []Command
		last     string
		wantKind string
	}{
		{
			name:     "unknown model",
			commands: []Command{{Command: "loadModel", Model: "missing"}},
			last:     "loadModel",
			wantKind: "ModelLoadError",
		},
		{
			name:     "unknown command",
			commands: []Command{{Command: "dance"}},
			last:     "dance",
			wantKind: KindInvalidCommand,
		},
		{
			name:     "negative timeout",
			commands: []Command{{Command: "loadModel", Model: "en-small"}, {Command: "start", TimeoutMs: -1}},
			last:     "start",
			wantKind: KindInvalidCommand,
		},
		{
			name: "bad format",
			commands: []Command{
				{Command: "loadModel", Model: "en-small"},
				{Command: "format", SampleRate: 48000, Channels: -2},
				{Command: "start"},
			},
			last:     "start",
			wantKind: "FormatError",
		},
		{
			name: "double start",
			commands: []Command{
				{Command: "loadModel", Model: "en-small"},
				{Command: "start"},
				{Command: "start"},
			},
			last:     "start",
			wantKind: "SessionActiveError",
		},
		{
			name: "format while listening",
			commands: []Command{
				{Command: "loadModel", Model: "en-small"},
				{Command: "start"},
				{Command: "format", SampleRate: 48000, Channels: 2},
			},
			last:     "format",
			wantKind: "SessionActiveError",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, testConfig(), nil)

			var resp message
			for _, cmd := range tt.commands {
				send(t, conn, cmd)
				resp = readUntil(t, conn, responseTo(cmd.Command))
			}
			if resp.Command != tt.last || resp.OK {
				t.Fatalf("Expected %s to fail, got %+v", tt.last, resp)
			}
			if resp.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s (%s)", tt.wantKind, resp.Kind, resp.Error)
			}
		})
	}
}

func TestHandler_InvalidJSON(t *testing.T) {
	conn := dial(t, testConfig(), nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	resp := readUntil(t, conn, func(m message) bool { return m.Type == "response" })
	if resp.OK || resp.Kind != KindInvalidCommand {
		t.Errorf("Expected InvalidCommand, got %+v", resp)
	}
}

func TestHandler_DefaultModelAndForwarder(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultModel = "en-small"
	forwarder := &recordingForwarder{}
	conn := dial(t, cfg, forwarder)

	// No loadModel needed
	send(t, conn, Command{Command: "start"})
	if resp := readUntil(t, conn, responseTo("start")); !resp.OK {
		t.Fatalf("Expected start with preloaded model, got %+v", resp)
	}

	sendAudio(t, conn, []float32{0.5})
	readUntil(t, conn, event("onPartialResult"))

	deadline := time.Now().Add(2 * time.Second)
	for forwarder.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected forwarder to receive the partial")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_MalformedAudioIgnored(t *testing.T) {
	conn := dial(t, testConfig(), nil)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	send(t, conn, Command{Command: "state"})
	if resp := readUntil(t, conn, responseTo("state")); !resp.OK {
		t.Errorf("Expected connection to survive a malformed frame, got %+v", resp)
	}
}

func TestHandler_CorrelationID(t *testing.T) {
	_, resp := dialWithHeader(t, testConfig(), nil, http.Header{"X-Correlation-ID": {"call-42"}})
	if got := resp.Header.Get("X-Correlation-ID"); got != "call-42" {
		t.Errorf("Expected correlation id 'call-42', got '%s'", got)
	}

	_, resp = dialWithHeader(t, testConfig(), nil, nil)
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Error("Expected a generated correlation id")
	}
}

func TestCommandErrorKind(t *testing.T) {
	if kind := commandErrorKind(errors.Join(errInvalidCommand)); kind != KindInvalidCommand {
		t.Errorf("Expected %s, got %s", KindInvalidCommand, kind)
	}
	if kind := commandErrorKind(errors.New("boom")); kind != "InternalError" {
		t.Errorf("Expected InternalError, got %s", kind)
	}
}

func TestEventMessageJSON(t *testing.T) {
	data, err := json.Marshal(EventMessage{Type: "event", Event: "onTimeout", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	expected := `{"type":"event","event":"onTimeout","text":"","sessionId":"s1"}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, data)
	}
}
