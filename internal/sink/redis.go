package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/events"
	"github.com/lexiqai/live-transcriber/internal/observability"
)

const (
	defaultMaxLen = 10000
	writeTimeout  = 2 * time.Second
)

// RedisSink appends transcript events to a Redis stream
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger zerolog.Logger
}

// NewRedisSink creates a sink from a redis:// URL
func NewRedisSink(url, stream string, logger zerolog.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return NewRedisSinkWithClient(redis.NewClient(opts), stream, logger), nil
}

// NewRedisSinkWithClient wraps an existing client
func NewRedisSinkWithClient(client *redis.Client, stream string, logger zerolog.Logger) *RedisSink {
	if stream == "" {
		stream = "transcripts"
	}
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: defaultMaxLen,
		logger: logger.With().Str("component", "redis_sink").Str("stream", stream).Logger(),
	}
}

// Stream returns the target stream key
func (s *RedisSink) Stream() string {
	return s.stream
}

// Attach forwards every event published on bus until ctx is done. Events
// already buffered when ctx ends are still written.
func (s *RedisSink) Attach(ctx context.Context, bus *events.Bus) {
	sub, _ := bus.Subscribe(ctx)

	go func() {
		writeCtx := context.WithoutCancel(ctx)
		for e := range sub.C {
			if err := s.Write(writeCtx, e); err != nil {
				observability.RecordError("sink_write", "redis_sink")
				s.logger.Warn().Err(err).Str("event", string(e.Type)).Str("session_id", e.SessionID).Msg("Failed to write event")
			}
		}
	}()
}

// Write appends one event to the stream
func (s *RedisSink) Write(ctx context.Context, e events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: Values(e),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis XADD %s: %w", s.stream, err)
	}
	return nil
}

// Ping checks the connection for readiness probes
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Values maps an event to stream entry fields
func Values(e events.Event) map[string]interface{} {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]interface{}{
		"event":      string(e.Type),
		"text":       e.Text,
		"session_id": e.SessionID,
		"time":       ts.UTC().Format(time.RFC3339Nano),
	}
}
