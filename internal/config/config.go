package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Stop policies for frames still queued when a session is stopped.
const (
	StopPolicyDrain   = "drain"
	StopPolicyDiscard = "discard"
)

// Config holds all configuration for the transcriber service
type Config struct {
	// Server configuration
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"` // grpc.health.v1 endpoint

	// Decoder engine configuration
	Engine        string `envconfig:"ENGINE" default:"vosk-server"`               // vosk-server or native (build tag vosk)
	VoskServerURL string `envconfig:"VOSK_SERVER_URL" default:"ws://localhost:2700"` // Default vosk-server for catalog entries without a URL
	ModelCatalog  string `envconfig:"MODEL_CATALOG" default:"models.yaml"`
	DefaultModel  string `envconfig:"DEFAULT_MODEL" default:""` // Loaded for every new connection when set

	// Audio processing configuration
	SampleRate         int     `envconfig:"SAMPLE_RATE" default:"16000"`          // Rate negotiated with the decoder
	DecodeQueueSize    int     `envconfig:"DECODE_QUEUE_SIZE" default:"64"`       // Frames waiting for decode before drop-oldest kicks in
	StopPolicy         string  `envconfig:"STOP_POLICY" default:"drain"`          // drain or discard
	EventBufferSize    int     `envconfig:"EVENT_BUFFER_SIZE" default:"64"`       // Per-subscriber event buffer
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for the activity meter
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Transcript sink
	RedisURL    string `envconfig:"REDIS_URL" default:""`
	RedisStream string `envconfig:"REDIS_STREAM" default:"transcripts"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Engine dial attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	EngineTimeout              int `envconfig:"ENGINE_TIMEOUT" default:"10"`                // Seconds per engine round trip

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the recognizer cannot run with
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.DecodeQueueSize <= 0 {
		return fmt.Errorf("DECODE_QUEUE_SIZE must be positive, got %d", c.DecodeQueueSize)
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("EVENT_BUFFER_SIZE must be positive, got %d", c.EventBufferSize)
	}

	c.StopPolicy = strings.ToLower(c.StopPolicy)
	if c.StopPolicy != StopPolicyDrain && c.StopPolicy != StopPolicyDiscard {
		return fmt.Errorf("STOP_POLICY must be %q or %q, got %q", StopPolicyDrain, StopPolicyDiscard, c.StopPolicy)
	}

	switch c.Engine {
	case "vosk-server", "native":
	default:
		return fmt.Errorf("unknown ENGINE %q", c.Engine)
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
