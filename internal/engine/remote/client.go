// Package remote talks to an inference sidecar over gRPC. Requests and
// responses are google.protobuf.Struct messages, so the sidecar needs no
// generated stubs; see the method constants for the service surface.
package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gonewx/nextalk-sub001/internal/config"
	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/observability"
	"github.com/gonewx/nextalk-sub001/internal/resilience"
)

// ServiceName is the gRPC service implemented by the sidecar.
const ServiceName = "nextalk.engine.v1.Engine"

// Full method names.
const (
	MethodDetectBoundary     = "/" + ServiceName + "/DetectBoundary"
	MethodRecognizeStreaming = "/" + ServiceName + "/RecognizeStreaming"
	MethodRecognizeRefined   = "/" + ServiceName + "/RecognizeRefined"
	MethodPunctuate          = "/" + ServiceName + "/Punctuate"
)

const breakerName = "engine"

// Client implements engine.Engine, engine.Punctuator and engine.HealthChecker
// against the sidecar.
type Client struct {
	conn           *grpc.ClientConn
	target         string
	retry          *resilience.RetryConfig
	reconnect      *resilience.ReconnectConfig
	dialTimeout    time.Duration
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// New creates a client for cfg.EngineURL. The connection is established
// lazily on the first call.
func New(cfg *config.Config, extra ...grpc.DialOption) (*Client, error) {
	var opts []grpc.DialOption
	if cfg.EngineTLSEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Keepalive settings for long-lived connections
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             3 * time.Second,
		PermitWithoutStream: true,
	}))
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(cfg.EngineURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client for %s: %w", cfg.EngineURL, err)
	}

	cb := resilience.NewCircuitBreaker(breakerName, cfg.CircuitBreakerMaxFailures, cfg.ResetTimeout())
	cb.OnStateChange(func(name string, _, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})

	return &Client{
		conn:   conn,
		target: cfg.EngineURL,
		retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
		dialTimeout:    time.Duration(cfg.EngineDialTimeout) * time.Second,
		circuitBreaker: cb,
		logger:         observability.WithComponent("engine-client").With().Str("target", cfg.EngineURL).Logger(),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ready queries the standard gRPC health service for the engine service.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("engine health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("engine not serving: %s", resp.GetStatus())
	}
	return nil
}

// WaitReady blocks until the sidecar reports SERVING or the reconnect
// attempts are exhausted.
func (c *Client) WaitReady(ctx context.Context) error {
	return resilience.Reconnect(ctx, c.logger, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
		return c.Ready(attemptCtx)
	}, c.reconnect)
}

func (c *Client) DetectBoundary(ctx context.Context, audio []byte, cache engine.Cache) ([]engine.Segment, engine.Cache, error) {
	out, err := c.invoke(ctx, MethodDetectBoundary, map[string]any{
		"audio": audio,
		"cache": map[string]any(cache),
	})
	if err != nil {
		return nil, cache, err
	}

	var segments []engine.Segment
	for _, raw := range asList(out["segments"]) {
		pair := asList(raw)
		if len(pair) != 2 {
			continue
		}
		segments = append(segments, engine.Segment{StartMs: asInt64(pair[0]), EndMs: asInt64(pair[1])})
	}
	return segments, asCache(out["cache"]), nil
}

func (c *Client) RecognizeStreaming(ctx context.Context, audio []byte, cache engine.Cache, params engine.ChunkParams) (string, engine.Cache, error) {
	out, err := c.invoke(ctx, MethodRecognizeStreaming, map[string]any{
		"audio":                   audio,
		"cache":                   map[string]any(cache),
		"chunk_size":              []any{params.ChunkSize[0], params.ChunkSize[1], params.ChunkSize[2]},
		"encoder_chunk_look_back": params.EncoderLookBack,
		"decoder_chunk_look_back": params.DecoderLookBack,
		"is_final":                params.IsFinal,
		"hotwords":                hotwordsValue(params.Hotwords),
	})
	if err != nil {
		return "", cache, err
	}
	text, _ := out["text"].(string)
	return text, asCache(out["cache"]), nil
}

func (c *Client) RecognizeRefined(ctx context.Context, req engine.RefinedRequest) (engine.RefinedResult, error) {
	out, err := c.invoke(ctx, MethodRecognizeRefined, map[string]any{
		"audio":                   req.Audio,
		"hotwords":                hotwordsValue(req.Hotwords),
		"itn":                     req.ITN,
		"encoder_chunk_look_back": req.EncoderLookBack,
		"decoder_chunk_look_back": req.DecoderLookBack,
	})
	if err != nil {
		return engine.RefinedResult{}, err
	}

	res := engine.RefinedResult{}
	res.Text, _ = out["text"].(string)
	for _, raw := range asList(out["timestamps"]) {
		pair := asList(raw)
		if len(pair) == 2 {
			res.Timestamps = append(res.Timestamps, [2]int64{asInt64(pair[0]), asInt64(pair[1])})
		}
	}
	for _, raw := range asList(out["sentences"]) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		text, _ := m["text"].(string)
		res.SentenceStamps = append(res.SentenceStamps, engine.SentenceStamp{
			Text:    text,
			StartMs: asInt64(m["start"]),
			EndMs:   asInt64(m["end"]),
		})
	}
	return res, nil
}

// Punctuate restores punctuation. A sidecar without a punctuation model
// answers Unimplemented, which is reported as engine.ErrUnsupported.
func (c *Client) Punctuate(ctx context.Context, text string, cache engine.Cache) (string, engine.Cache, error) {
	out, err := c.invoke(ctx, MethodPunctuate, map[string]any{
		"text":  text,
		"cache": map[string]any(cache),
	})
	if err != nil {
		if status.Code(err) == codes.Unimplemented {
			return text, cache, engine.ErrUnsupported
		}
		return text, cache, err
	}
	punctuated, _ := out["text"].(string)
	return punctuated, asCache(out["cache"]), nil
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	out := &structpb.Struct{}
	var unimplemented error
	err = c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		err := resilience.Retry(ctx, c.retry, isRetryableError, func(ctx context.Context) error {
			return c.conn.Invoke(ctx, method, in, out)
		})
		// A missing method is a capability gap, not a backend failure.
		if status.Code(err) == codes.Unimplemented {
			unimplemented = err
			return nil
		}
		return err
	})
	if unimplemented != nil {
		return nil, fmt.Errorf("%s: %w", method, unimplemented)
	}
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.RecordCircuitBreakerFailure(breakerName)
			c.logger.Warn().Err(err).Str("method", method).Msg("Engine call failed")
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out.AsMap(), nil
}

// isRetryableError reports transient transport failures.
func isRetryableError(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

func hotwordsValue(hotwords map[string]int) map[string]any {
	out := make(map[string]any, len(hotwords))
	for w, weight := range hotwords {
		out[w] = weight
	}
	return out
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asCache(v any) engine.Cache {
	m, _ := v.(map[string]any)
	return engine.Cache(m)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return -1
	}
}

var (
	_ engine.Engine        = (*Client)(nil)
	_ engine.Punctuator    = (*Client)(nil)
	_ engine.HealthChecker = (*Client)(nil)
)
