package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/capture"
	"github.com/lexiqai/live-transcriber/internal/config"
	"github.com/lexiqai/live-transcriber/internal/decoder"
	"github.com/lexiqai/live-transcriber/internal/events"
	"github.com/lexiqai/live-transcriber/internal/observability"
	"github.com/lexiqai/live-transcriber/internal/recognizer"
)

const (
	writeWait = 10 * time.Second

	// KindInvalidCommand reports a command the protocol does not understand
	KindInvalidCommand = "InvalidCommand"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Microphone clients connect from arbitrary origins
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Command is a client request carried in a text frame
type Command struct {
	Command    string   `json:"command"`
	Model      string   `json:"model,omitempty"`
	Grammar    []string `json:"grammar,omitempty"`
	TimeoutMs  int      `json:"timeoutMs,omitempty"`
	SampleRate float64  `json:"sampleRate,omitempty"`
	Channels   int      `json:"channels,omitempty"`
	Planar     bool     `json:"planar,omitempty"`
}

// Response answers one command
type Response struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// EventMessage carries one recognition event to the client
type EventMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId,omitempty"`
}

// EventForwarder receives a copy of every event on a connection
type EventForwarder interface {
	Attach(ctx context.Context, bus *events.Bus)
}

// Handler serves the recognition websocket protocol
type Handler struct {
	cfg       *config.Config
	decoder   *decoder.Decoder
	forwarder EventForwarder
	logger    zerolog.Logger
}

// NewHandler creates a handler. forwarder may be nil.
func NewHandler(cfg *config.Config, dec *decoder.Decoder, forwarder EventForwarder, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		decoder:   dec,
		forwarder: forwarder,
		logger:    logger,
	}
}

// connection is one client with its own capture source and controller. Only
// the writer goroutine touches the socket for writing; the reader hands it
// responses through replies.
type connection struct {
	conn       *websocket.Conn
	replies    chan Response
	writerDone chan struct{}

	source *capture.StreamSource
	bus    *events.Bus
	ctrl   *recognizer.Controller
	logger zerolog.Logger
}

// ServeHTTP upgrades the request and runs the connection until the client leaves
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger, correlationID := observability.WithCorrelationID(h.logger, r.Header.Get("X-Correlation-ID"))

	ws, err := upgrader.Upgrade(w, r, http.Header{"X-Correlation-ID": {correlationID}})
	if err != nil {
		// Upgrade already wrote the HTTP error
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer ws.Close()

	source := capture.NewStreamSource(audio.Format{
		SampleRate: float64(h.cfg.SampleRate),
		Channels:   1,
	}, logger)
	bus := events.NewBus(h.cfg.EventBufferSize, logger)
	c := &connection{
		conn:       ws,
		replies:    make(chan Response),
		writerDone: make(chan struct{}),
		source:     source,
		bus:        bus,
		ctrl:       recognizer.NewController(recognizer.ConfigFrom(h.cfg), h.decoder, source, bus, logger),
		logger:     logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, _ := bus.Subscribe(ctx)
	go func() {
		defer close(c.writerDone)
		c.writeLoop(sub)
	}()

	if h.forwarder != nil {
		h.forwarder.Attach(ctx, bus)
	}

	logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Client connected")

	if h.cfg.DefaultModel != "" {
		if err := c.ctrl.LoadModel(ctx, h.cfg.DefaultModel); err != nil {
			logger.Warn().Err(err).Str("model", h.cfg.DefaultModel).Msg("Failed to preload default model")
		}
	}

	c.readLoop(ctx)

	// Capture first so no buffer races the unload
	source.Close()
	c.ctrl.Close()
	cancel()
	bus.Close()
	<-c.writerDone

	logger.Info().Msg("Client disconnected")
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			c.handleCommand(ctx, data)
		}
	}
}

func (c *connection) handleAudio(data []byte) {
	samples, err := audio.Float32FromBytes(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Dropping malformed audio frame")
		return
	}
	if !c.source.Push(samples) {
		c.logger.Debug().Int("samples", len(samples)).Msg("Audio received while not listening")
	}
}

func (c *connection) handleCommand(ctx context.Context, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.reply(Response{Command: "", Error: fmt.Sprintf("invalid command: %v", err), Kind: KindInvalidCommand})
		return
	}

	c.logger.Debug().Str("command", cmd.Command).Msg("Command received")

	resp := Response{Command: cmd.Command}
	result, err := c.dispatch(ctx, cmd)
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = commandErrorKind(err)
		c.logger.Warn().Err(err).Str("command", cmd.Command).Str("kind", resp.Kind).Msg("Command failed")
	} else {
		resp.OK = true
		resp.Result = result
	}
	c.reply(resp)
}

var errInvalidCommand = errors.New("invalid command")

func (c *connection) dispatch(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Command {
	case "loadModel":
		if err := c.ctrl.LoadModel(ctx, cmd.Model); err != nil {
			return "", err
		}
		return cmd.Model, nil

	case "start":
		if cmd.TimeoutMs < 0 {
			return "", fmt.Errorf("%w: timeoutMs must not be negative", errInvalidCommand)
		}
		return c.ctrl.Start(ctx, recognizer.Options{
			Grammar: cmd.Grammar,
			Timeout: time.Duration(cmd.TimeoutMs) * time.Millisecond,
		})

	case "stop":
		c.ctrl.Stop()
		return "", nil

	case "unload":
		c.ctrl.Unload()
		return "", nil

	case "format":
		format := audio.Format{SampleRate: cmd.SampleRate, Channels: cmd.Channels, Planar: cmd.Planar}
		if err := c.source.SetFormat(format); err != nil {
			return "", err
		}
		return "", nil

	case "state":
		return c.ctrl.State().String(), nil
	}

	return "", fmt.Errorf("%w: unknown command %q", errInvalidCommand, cmd.Command)
}

func commandErrorKind(err error) string {
	switch {
	case errors.Is(err, errInvalidCommand):
		return KindInvalidCommand
	case errors.Is(err, capture.ErrCaptureRunning):
		return recognizer.KindSessionActive
	}
	return recognizer.ErrorKind(err)
}

// writeLoop is the only socket writer. Before a response goes out, every
// event accepted while the command ran is written, so a stop's final result
// reaches the client ahead of the stop response.
func (c *connection) writeLoop(sub *events.Subscription) {
	var received uint64
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			received++
			c.writeEvent(e)

		case resp := <-c.replies:
			for target := sub.Accepted(); received < target; {
				e, ok := <-sub.C
				if !ok {
					break
				}
				received++
				c.writeEvent(e)
			}
			if err := c.writeJSON(resp); err != nil {
				c.logger.Debug().Err(err).Str("command", resp.Command).Msg("Failed to send response")
			}
		}
	}
}

func (c *connection) writeEvent(e events.Event) {
	msg := EventMessage{
		Type:      "event",
		Event:     string(e.Type),
		Text:      e.Text,
		SessionID: e.SessionID,
	}
	if err := c.writeJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("event", string(e.Type)).Msg("Failed to deliver event")
	}
}

// reply hands resp to the writer and returns once it has been taken
func (c *connection) reply(resp Response) {
	resp.Type = "response"
	select {
	case c.replies <- resp:
	case <-c.writerDone:
	}
}

func (c *connection) writeJSON(v interface{}) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}
