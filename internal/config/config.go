package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Engine, VAD and refined-pass backends.
const (
	BackendGRPC     = "grpc"
	BackendCommand  = "command"
	BackendEngine   = "engine"
	BackendEnergy   = "energy"
	BackendDeepgram = "deepgram"
)

// Config holds all configuration for the recognition gateway
type Config struct {
	// Server configuration
	Port            string `envconfig:"PORT" default:"10095"`
	MaxMessageBytes int64  `envconfig:"MAX_MESSAGE_BYTES" default:"1048576"` // WebSocket read limit
	StatusMessages  bool   `envconfig:"STATUS_MESSAGES" default:"false"`     // Emit connected/listening/processing frames

	// Recognition engine
	EngineBackend     string `envconfig:"ENGINE_BACKEND" default:"grpc"` // grpc or command
	EngineURL         string `envconfig:"ENGINE_URL" default:"localhost:10096"`
	EngineTLSEnabled  bool   `envconfig:"ENGINE_TLS_ENABLED" default:"false"`
	EngineDialTimeout int    `envconfig:"ENGINE_DIAL_TIMEOUT" default:"10"` // seconds
	EngineWaitWarnMs  int    `envconfig:"ENGINE_WAIT_WARN_MS" default:"2000"`

	VADBackend         string  `envconfig:"VAD_BACKEND" default:"engine"` // engine or energy
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`

	RefinedBackend     string `envconfig:"REFINED_BACKEND" default:"engine"` // engine, deepgram or command
	PunctuationEnabled bool   `envconfig:"PUNCTUATION_ENABLED" default:"true"`

	// Deepgram refined pass
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Local recognizer command, e.g. "/usr/local/bin/asr --model /models/paraformer"
	RecognizerCommand string `envconfig:"RECOGNIZER_COMMAND" default:""`
	HotwordsFile      string `envconfig:"HOTWORDS_FILE" default:""`

	// Session defaults
	DefaultMode         string `envconfig:"DEFAULT_MODE" default:"twoPass"`
	DefaultLabel        string `envconfig:"DEFAULT_LABEL" default:"nextalk"`
	ChunkIntervalFrames int    `envconfig:"CHUNK_INTERVAL_FRAMES" default:"10"`
	ChunkSize           []int  `envconfig:"CHUNK_SIZE" default:"5,10,5"`
	EncoderLookBack     int    `envconfig:"ENCODER_LOOK_BACK" default:"4"`
	DecoderLookBack     int    `envconfig:"DECODER_LOOK_BACK" default:"0"`
	MinSegmentMs        int64  `envconfig:"MIN_SEGMENT_MS" default:"300"`
	HistoryRetainFrames int    `envconfig:"HISTORY_RETAIN_FRAMES" default:"20"`
	HistoryMaxFrames    int    `envconfig:"HISTORY_MAX_FRAMES" default:"200"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	TraceStdout    bool   `envconfig:"TRACE_STDOUT" default:"false"`   // Export spans to stdout
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
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

// Validate checks backend combinations and numeric ranges.
func (c *Config) Validate() error {
	var errs []error

	switch c.EngineBackend {
	case BackendGRPC:
		if c.EngineURL == "" {
			errs = append(errs, errors.New("ENGINE_URL is required for the grpc engine backend"))
		}
	case BackendCommand:
		if c.VADBackend != BackendEnergy {
			errs = append(errs, errors.New("ENGINE_BACKEND=command requires VAD_BACKEND=energy"))
		}
	default:
		errs = append(errs, fmt.Errorf("ENGINE_BACKEND must be grpc or command, got %q", c.EngineBackend))
	}

	if c.VADBackend != BackendEngine && c.VADBackend != BackendEnergy {
		errs = append(errs, fmt.Errorf("VAD_BACKEND must be engine or energy, got %q", c.VADBackend))
	}

	switch c.RefinedBackend {
	case BackendEngine:
	case BackendDeepgram:
		if c.DeepgramAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required when REFINED_BACKEND=deepgram"))
		}
	case BackendCommand:
	default:
		errs = append(errs, fmt.Errorf("REFINED_BACKEND must be engine, deepgram or command, got %q", c.RefinedBackend))
	}

	if c.usesCommand() && strings.TrimSpace(c.RecognizerCommand) == "" {
		errs = append(errs, errors.New("RECOGNIZER_COMMAND is required for the command backend"))
	}

	if len(c.ChunkSize) != 3 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must have three values, got %d", len(c.ChunkSize)))
	}
	if c.ChunkIntervalFrames < 1 {
		errs = append(errs, errors.New("CHUNK_INTERVAL_FRAMES must be positive"))
	}
	if c.HistoryRetainFrames < 0 || c.HistoryMaxFrames < 1 || c.HistoryRetainFrames > c.HistoryMaxFrames {
		errs = append(errs, errors.New("HISTORY_RETAIN_FRAMES must be between 0 and HISTORY_MAX_FRAMES"))
	}
	if c.MinSegmentMs < 0 {
		errs = append(errs, errors.New("MIN_SEGMENT_MS must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) usesCommand() bool {
	return c.EngineBackend == BackendCommand || c.RefinedBackend == BackendCommand
}

// DefaultChunkSize returns CHUNK_SIZE as a fixed triple.
func (c *Config) DefaultChunkSize() [3]int {
	var out [3]int
	copy(out[:], c.ChunkSize)
	return out
}

// EngineWaitWarn returns the degraded-wait threshold.
func (c *Config) EngineWaitWarn() time.Duration {
	return time.Duration(c.EngineWaitWarnMs) * time.Millisecond
}

// ResetTimeout returns the circuit breaker reset timeout.
func (c *Config) ResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// LoadHotwords reads default hotwords from a YAML file. The file is either a
// plain word-to-weight mapping or the same mapping under a "hotwords" key.
// An empty path yields no hotwords.
func LoadHotwords(path string) (map[string]int, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hotwords file: %w", err)
	}

	var wrapped struct {
		Hotwords map[string]int `yaml:"hotwords"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Hotwords) > 0 {
		return wrapped.Hotwords, nil
	}

	var plain map[string]int
	if err := yaml.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("parse hotwords file: %w", err)
	}
	return plain, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
