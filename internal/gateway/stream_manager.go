// Package gateway accepts client connections and runs one recognition
// session per connection against the shared engine.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gonewx/nextalk-sub001/internal/config"
	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/observability"
	"github.com/gonewx/nextalk-sub001/internal/session"
)

// ErrShuttingDown is returned by OnConnect once Shutdown has begun.
var ErrShuttingDown = errors.New("gateway shutting down")

// errClientGone ends a session whose client disconnected. It cancels the
// session so queued events are dropped and late results are not sent.
var errClientGone = errors.New("client disconnected")

// eventQueueSize bounds the events read ahead of the processor. A full
// queue stops the reader, which pushes back on the client.
const eventQueueSize = 64

var upgrader = websocket.Upgrader{
	// Clients are local tools and browser extensions; origin is not checked.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type activeSession struct {
	cancel  context.CancelFunc
	started time.Time
}

// Manager owns the registry of live sessions.
type Manager struct {
	cfg    *config.Config
	eng    *engine.Shared
	opts   session.Options
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*activeSession
	closing  bool
	wg       sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultHotwords sets the hotwords every new session starts with.
func WithDefaultHotwords(hotwords map[string]int) ManagerOption {
	return func(m *Manager) { m.opts.Hotwords = hotwords }
}

// WithLogger overrides the manager's logger.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a session manager. Every session it accepts shares eng.
func NewManager(cfg *config.Config, eng *engine.Shared, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		eng:      eng,
		opts:     SessionOptions(cfg),
		logger:   observability.WithComponent("gateway"),
		sessions: make(map[string]*activeSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SessionOptions derives per-session defaults from configuration.
func SessionOptions(cfg *config.Config) session.Options {
	opts := session.DefaultOptions()
	if mode, ok := session.ParseMode(cfg.DefaultMode); ok {
		opts.Mode = mode
	}
	if cfg.DefaultLabel != "" {
		opts.Label = cfg.DefaultLabel
	}
	if cfg.ChunkIntervalFrames > 0 {
		opts.ChunkIntervalFrames = cfg.ChunkIntervalFrames
	}
	if len(cfg.ChunkSize) == 3 {
		opts.ChunkSize = cfg.DefaultChunkSize()
	}
	opts.EncoderLookBack = cfg.EncoderLookBack
	opts.DecoderLookBack = cfg.DecoderLookBack
	opts.MinSegmentMs = cfg.MinSegmentMs
	opts.HistoryRetainFrames = cfg.HistoryRetainFrames
	if cfg.HistoryMaxFrames > 0 {
		opts.HistoryMaxFrames = cfg.HistoryMaxFrames
	}
	opts.StatusMessages = cfg.StatusMessages
	return opts
}

// HandleWS upgrades the request and serves a session until the client
// disconnects.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		m.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	t := newWSTransport(conn, m.cfg.MaxMessageBytes)
	if err := m.OnConnect(r.Context(), t); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Debug().Err(err).Msg("Session ended with error")
	}
}

// Sessions returns the number of live sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// OnConnect runs a session over t and blocks until it ends. The transport
// is closed on return.
func (m *Manager) OnConnect(ctx context.Context, t Transport) error {
	id := observability.NewSessionID()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := m.register(id, cancel); err != nil {
		_ = t.Close()
		return err
	}
	defer m.wg.Done()
	defer m.OnDisconnect(id)

	logger := observability.WithSessionID(id).With().
		Str("remote", t.RemoteAddr()).
		Logger()

	metrics := observability.NewSessionMetrics(id)
	metrics.RecordSessionStart()
	defer metrics.RecordSessionEnd()

	st := session.NewState(id, m.opts)
	emit := session.NewEmitter(t, metrics, m.opts.StatusMessages)
	coord := session.NewCoordinator(st, m.eng, emit, m.opts, logger).WithMetrics(metrics)
	defer coord.Close()

	logger.Info().Str("mode", string(st.Mode)).Msg("Session started")

	if err := emit.Status(ctx, nil, session.StatusConnected); err != nil {
		_ = t.Close()
		return fmt.Errorf("send connected status: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = t.Close() })
	defer stop()

	events := make(chan session.Event, eventQueueSize)

	g.Go(func() error {
		defer close(events)
		for {
			kind, data, err := t.ReadMessage()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return errClientGone
				}
				return fmt.Errorf("read: %w: %w", errClientGone, err)
			}

			var ev session.Event
			if kind == BinaryMessage {
				ev = session.AudioChunkReceived{Data: data}
			} else {
				ev = session.ControlReceived{Payload: data}
			}

			select {
			case events <- ev:
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for ev := range events {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := coord.Dispatch(gctx, ev); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	_ = t.Close()

	if errors.Is(err, errClientGone) {
		if err != errClientGone {
			logger.Debug().Err(err).Msg("Client connection lost")
		}
		err = nil
	}

	totalAudio, totalResults := metrics.Totals()
	event := logger.Info()
	if err != nil && ctx.Err() == nil {
		event = logger.Warn().Err(err)
	}
	event.
		Int64("audio_bytes", totalAudio).
		Int64("results", totalResults).
		Msg("Session ended")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// OnDisconnect cancels the session and removes it from the registry. It is
// safe to call more than once.
func (m *Manager) OnDisconnect(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.cancel()
		m.logger.Debug().
			Str("session_id", id).
			Dur("duration", time.Since(s.started)).
			Msg("Session removed")
	}
}

// Shutdown cancels every session and waits for them to finish or for ctx
// to expire. New connections are refused from the first call on.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, s := range m.sessions {
		s.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d sessions: %w", m.Sessions(), ctx.Err())
	}
}

func (m *Manager) register(id string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	m.sessions[id] = &activeSession{cancel: cancel, started: time.Now()}
	m.wg.Add(1)
	return nil
}
