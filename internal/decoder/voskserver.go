package decoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/resilience"
)

const unknownWord = "[unk]"

var eofMessage = []byte(`{"eof" : 1}`)

// VoskServerConfig configures the vosk-server engine
type VoskServerConfig struct {
	DefaultURL string        // Used for catalog entries without a URL
	Timeout    time.Duration // Per round trip
	Retry      *resilience.RetryConfig
	Breaker    *resilience.CircuitBreaker
}

// VoskServerEngine decodes through a vosk-server websocket endpoint.
// Every handle gets its own connection so streams never interleave.
type VoskServerEngine struct {
	catalog *Catalog
	config  VoskServerConfig
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

// NewVoskServerEngine creates an engine that resolves model names through catalog
func NewVoskServerEngine(catalog *Catalog, config VoskServerConfig, logger zerolog.Logger) *VoskServerEngine {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry == nil {
		config.Retry = resilience.DefaultRetryConfig()
	}
	if config.Breaker == nil {
		config.Breaker = resilience.NewCircuitBreaker("vosk-server", 5, 30*time.Second)
	}

	return &VoskServerEngine{
		catalog: catalog,
		config:  config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.Timeout,
		},
		logger: logger.With().Str("component", "vosk_server").Logger(),
	}
}

// Name returns the engine name
func (e *VoskServerEngine) Name() string {
	return "vosk-server"
}

// LoadModel resolves name and checks that its server accepts connections
func (e *VoskServerEngine) LoadModel(ctx context.Context, name string) (Model, error) {
	spec, ok := e.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}

	url := spec.URL
	if url == "" {
		url = e.config.DefaultURL
	}
	if url == "" {
		return nil, fmt.Errorf("model %s has no server url", name)
	}

	conn, err := e.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := closeConn(conn, e.logger); err != nil {
		e.logger.Debug().Err(err).Str("model", name).Msg("Failed to close check connection")
	}

	return &voskServerModel{name: name, url: url, engine: e}, nil
}

// Ping dials the default server
func (e *VoskServerEngine) Ping(ctx context.Context) error {
	url := e.config.DefaultURL
	if url == "" {
		for _, name := range e.catalog.Names() {
			if spec, _ := e.catalog.Lookup(name); spec.URL != "" {
				url = spec.URL
				break
			}
		}
	}
	if url == "" {
		return errors.New("no vosk-server url configured")
	}

	conn, err := e.dial(ctx, url)
	if err != nil {
		return err
	}
	if err := closeConn(conn, e.logger); err != nil {
		e.logger.Debug().Err(err).Msg("Failed to close ping connection")
	}
	return nil
}

func (e *VoskServerEngine) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	var conn *websocket.Conn

	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return e.config.Breaker.Call(func() error {
			dialCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()

			c, resp, err := e.dialer.DialContext(dialCtx, url, nil)
			if err != nil {
				err = fmt.Errorf("failed to connect to vosk-server %s: %w", url, err)
				if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
					// Server is up but overloaded or restarting
					return resilience.NewRetryableError(err)
				}
				return err
			}
			conn = c
			return nil
		})
	}, e.config.Retry, isRetryableDial)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("url", url).
			Str("breaker", e.config.Breaker.GetState().String()).
			Msg("vosk-server dial failed")
		return nil, err
	}
	return conn, nil
}

func isRetryableDial(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}

// closeConn sends end-of-stream and closes without waiting for the final
// reply. A peer that is already gone only fails the goodbye, which is logged.
func closeConn(conn *websocket.Conn, logger zerolog.Logger) error {
	if err := conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		logger.Debug().Err(err).Msg("Failed to set close deadline")
	}
	if err := conn.WriteMessage(websocket.TextMessage, eofMessage); err != nil {
		logger.Debug().Err(err).Msg("Failed to send end-of-stream")
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		logger.Debug().Err(err).Msg("Failed to send close frame")
	}
	return conn.Close()
}

type voskServerModel struct {
	name   string
	url    string
	engine *VoskServerEngine
}

func (m *voskServerModel) Name() string {
	return m.name
}

// NewRecognizer opens a connection and sends the stream configuration
func (m *voskServerModel) NewRecognizer(ctx context.Context, sampleRate int, grammar []string) (Recognizer, error) {
	conn, err := m.engine.dial(ctx, m.url)
	if err != nil {
		return nil, err
	}

	config := map[string]interface{}{
		"sample_rate": sampleRate,
	}
	if len(grammar) > 0 {
		config["phrase_list"] = GrammarPhrases(grammar)
	}
	msg, err := json.Marshal(map[string]interface{}{"config": config})
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(m.engine.config.Timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure vosk-server stream: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure vosk-server stream: %w", err)
	}

	return &voskServerRecognizer{
		conn:    conn,
		timeout: m.engine.config.Timeout,
		breaker: m.engine.config.Breaker,
		logger:  m.engine.logger,
	}, nil
}

// Close is a no-op: the server owns the model
func (m *voskServerModel) Close() error {
	return nil
}

// GrammarPhrases returns the phrase list with the unknown-word token appended
func GrammarPhrases(grammar []string) []string {
	phrases := make([]string, 0, len(grammar)+1)
	for _, p := range grammar {
		if p == unknownWord {
			continue
		}
		phrases = append(phrases, p)
	}
	return append(phrases, unknownWord)
}

type voskServerRecognizer struct {
	conn      *websocket.Conn
	timeout   time.Duration
	breaker   *resilience.CircuitBreaker
	logger    zerolog.Logger
	last      []byte
	closeOnce sync.Once
	closeErr  error
}

// AcceptWaveform sends one binary frame and waits for the server's reply
func (r *voskServerRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.timeout)); err != nil {
		r.breaker.RecordResult(false)
		return false, fmt.Errorf("failed to send audio to vosk-server: %w", err)
	}
	if err := r.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		r.breaker.RecordResult(false)
		return false, fmt.Errorf("failed to send audio to vosk-server: %w", err)
	}

	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		r.breaker.RecordResult(false)
		return false, fmt.Errorf("failed to read vosk-server reply: %w", err)
	}
	_, msg, err := r.conn.ReadMessage()
	if err != nil {
		r.breaker.RecordResult(false)
		return false, fmt.Errorf("failed to read vosk-server reply: %w", err)
	}
	r.last = msg

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		// Left for the adapter to report with the payload attached
		return false, nil
	}
	_, final := fields["text"]
	return final, nil
}

func (r *voskServerRecognizer) Result() []byte {
	return r.last
}

func (r *voskServerRecognizer) PartialResult() []byte {
	return r.last
}

func (r *voskServerRecognizer) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = closeConn(r.conn, r.logger)
	})
	return r.closeErr
}
