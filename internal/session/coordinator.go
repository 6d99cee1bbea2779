package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/observability"
)

// ErrClosed is returned when an event is dispatched to a closed coordinator.
var ErrClosed = errors.New("session closed")

// Phase is the coordinator's lifecycle position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseFinalizing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is an input to the coordinator.
type Event interface {
	event()
}

// AudioChunkReceived carries one binary message from the client.
type AudioChunkReceived struct {
	Data []byte
}

// ControlReceived carries one text message from the client.
type ControlReceived struct {
	Payload []byte
}

// SegmentClosed finalizes the current segment without stopping the session.
type SegmentClosed struct{}

// SessionStopped finalizes everything and resets the session.
type SessionStopped struct{}

func (AudioChunkReceived) event() {}
func (ControlReceived) event()    {}
func (SegmentClosed) event()      {}
func (SessionStopped) event()     {}

// Recognizer is the engine surface a session uses. *engine.Shared
// implements it.
type Recognizer interface {
	engine.BoundaryDetector
	engine.StreamingRecognizer
	engine.RefinedRecognizer
	engine.Punctuator
}

// Coordinator drives one session: it routes audio through the buffers,
// decides when to call the engine and hands the results to the emitter.
//
// A Coordinator is owned by a single goroutine. It returns an error from
// Dispatch only when the session must end; engine failures are logged and
// treated as empty output.
type Coordinator struct {
	state   *State
	bufs    *Buffers
	eng     Recognizer
	seg     *Segmenter
	emit    *Emitter
	opts    Options
	phase   Phase
	logger  zerolog.Logger
	metrics *observability.SessionMetrics
}

// NewCoordinator creates a coordinator for state.
func NewCoordinator(state *State, eng Recognizer, emit *Emitter, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.HistoryMaxFrames < 1 {
		opts.HistoryMaxFrames = DefaultOptions().HistoryMaxFrames
	}
	if opts.HistoryRetainFrames < 0 {
		opts.HistoryRetainFrames = 0
	}
	return &Coordinator{
		state:  state,
		bufs:   NewBuffers(opts.HistoryMaxFrames),
		eng:    eng,
		seg:    NewSegmenter(eng),
		emit:   emit,
		opts:   opts,
		phase:  PhaseIdle,
		logger: logger,
	}
}

// WithMetrics attaches per-session metrics.
func (c *Coordinator) WithMetrics(m *observability.SessionMetrics) *Coordinator {
	c.metrics = m
	return c
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase { return c.phase }

// State returns the session state.
func (c *Coordinator) State() *State { return c.state }

// Buffers returns the session buffers.
func (c *Coordinator) Buffers() *Buffers { return c.bufs }

// Dispatch handles one event to completion.
func (c *Coordinator) Dispatch(ctx context.Context, ev Event) error {
	if c.phase == PhaseClosed {
		return ErrClosed
	}
	switch ev := ev.(type) {
	case AudioChunkReceived:
		return c.handleAudio(ctx, ev.Data)
	case ControlReceived:
		return c.handleControl(ctx, ev.Payload)
	case SegmentClosed:
		c.seg.ForceClose(c.state)
		return c.finalize(ctx, false)
	case SessionStopped:
		return c.stop(ctx)
	default:
		return nil
	}
}

// Close releases buffers and engine caches. Further events fail with ErrClosed.
func (c *Coordinator) Close() {
	if c.phase == PhaseClosed {
		return
	}
	c.bufs.Reset()
	c.state.ResetEngineState()
	c.phase = PhaseClosed
}

func (c *Coordinator) handleAudio(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		c.logger.Warn().Msg("Ignoring empty audio message")
		return nil
	}
	pcm, err := c.state.Normalizer().Normalize(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("format", string(c.state.AudioFormat)).Msg("Dropping undecodable audio message")
		observability.RecordError("audio_decode", "session")
		return nil
	}
	if len(pcm) == 0 {
		return nil
	}
	if c.metrics != nil {
		c.metrics.RecordAudio(len(data))
	}

	chunk := audio.NewChunk(pcm)
	if c.phase == PhaseIdle {
		c.phase = PhaseStreaming
	}

	streaming := c.state.Mode.Streaming()
	c.bufs.History.Push(chunk)
	if c.state.VAD.Open || c.state.Mode == ModeOffline {
		c.bufs.Utterance.Append(chunk)
	}
	if streaming {
		c.bufs.Streaming.Append(chunk)
	}
	c.state.LocalClockMs += chunk.DurationMs

	if !streaming {
		return nil
	}

	if c.bufs.Streaming.Len() >= c.state.ChunkIntervalFrames {
		if err := c.streamingPass(ctx, false); err != nil {
			return err
		}
	}

	t, err := c.seg.Step(ctx, c.state, chunk)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logEngineError(engine.OpDetectBoundary, err)
		return nil
	}
	if t.Ignored {
		c.logger.Debug().Msg("Detector reported several segments in one chunk, ignoring")
	}
	if t.Opened {
		c.bufs.Utterance.Clear()
		c.bufs.Utterance.Append(c.bufs.Backfill(t.Backfill)...)
		c.logger.Debug().Int("backfill", t.Backfill).Int64("clock_ms", c.state.LocalClockMs).Msg("Speech segment opened")
		if err := c.emit.Status(ctx, c.state, StatusProcessing); err != nil {
			return err
		}
	}
	if t.Closed {
		c.logger.Debug().Int64("duration_ms", c.bufs.Utterance.DurationMs()).Msg("Speech segment closed")
		return c.finalize(ctx, false)
	}
	return nil
}

func (c *Coordinator) handleControl(ctx context.Context, payload []byte) error {
	msg, err := ParseControl(payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Dropping malformed control message")
		observability.RecordControlError("malformed")
		return nil
	}
	for _, fe := range msg.Invalid {
		c.logger.Warn().Str("field", fe.Field).Err(fe.Err).Msg("Ignoring invalid control field")
		observability.RecordControlError("invalid_field")
	}

	prevMode := c.state.Mode
	ApplyControl(c.state, msg)

	// Boundary detection starts or stops with the mode. Detector offsets
	// and the local clock must share an origin, so both restart.
	if prevMode.Streaming() != c.state.Mode.Streaming() {
		c.state.VAD = VADState{}
		c.state.LocalClockMs = 0
	}

	// A repeated speaking=false still flushes audio received since the
	// last stop.
	if msg.Speaking != nil && !*msg.Speaking && !c.state.StopPending && c.hasPendingAudio() {
		c.state.StopPending = true
	}

	if c.state.StopPending {
		c.state.StopPending = false
		return c.stop(ctx)
	}
	return c.emit.Status(ctx, c.state, StatusListening)
}

func (c *Coordinator) hasPendingAudio() bool {
	return c.bufs.Utterance.Len() > 0 || c.bufs.Streaming.Len() > 0
}

func (c *Coordinator) stop(ctx context.Context) error {
	c.seg.ForceClose(c.state)
	return c.finalize(ctx, true)
}

// finalize runs the closing passes over the current segment. An explicit
// stop also resets the session to Idle.
func (c *Coordinator) finalize(ctx context.Context, explicit bool) error {
	c.phase = PhaseFinalizing

	if c.state.Mode.Streaming() && c.bufs.Streaming.Len() > 0 {
		if err := c.streamingPass(ctx, true); err != nil {
			return err
		}
	}

	if c.state.Mode.Refined() {
		dur := c.bufs.Utterance.DurationMs()
		if explicit || dur >= c.opts.MinSegmentMs {
			if err := c.refinedPass(ctx); err != nil {
				return err
			}
		} else {
			c.logger.Debug().Int64("duration_ms", dur).Int64("min_ms", c.opts.MinSegmentMs).Msg("Discarding short segment")
		}
	}

	c.bufs.Utterance.Clear()
	c.bufs.Streaming.Clear()
	c.state.Stream = StreamState{}

	if explicit {
		c.bufs.Reset()
		c.state.ResetEngineState()
		c.phase = PhaseIdle
	} else {
		c.bufs.History.Trim(c.opts.HistoryRetainFrames)
		c.phase = PhaseStreaming
	}
	return c.emit.Status(ctx, c.state, StatusListening)
}

func (c *Coordinator) streamingPass(ctx context.Context, final bool) error {
	data := c.bufs.Streaming.Bytes()
	c.bufs.Streaming.Clear()

	text, next, err := c.eng.RecognizeStreaming(ctx, data, c.state.Stream.Cache, c.state.ChunkParams(final))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logEngineError(engine.OpRecognizeStreaming, err)
		return nil
	}
	c.state.Stream.Cache = next
	return c.emit.Streaming(ctx, c.state, text, final)
}

func (c *Coordinator) refinedPass(ctx context.Context) error {
	var res engine.RefinedResult
	data := c.bufs.Utterance.Bytes()
	if len(data) == 0 {
		return c.emit.Refined(ctx, c.state, res)
	}

	r, err := c.eng.RecognizeRefined(ctx, engine.RefinedRequest{
		Audio:           data,
		Hotwords:        c.state.Hotwords,
		ITN:             c.state.ITNEnabled(),
		EncoderLookBack: c.state.EncoderLookBack,
		DecoderLookBack: c.state.DecoderLookBack,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		c.logEngineError(engine.OpRecognizeRefined, err)
	default:
		res = r
	}

	if res.Text != "" {
		res.Text = c.punctuate(ctx, res.Text)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return c.emit.Refined(ctx, c.state, res)
}

func (c *Coordinator) punctuate(ctx context.Context, text string) string {
	out, next, err := c.eng.Punctuate(ctx, text, c.state.Punc.Cache)
	if err != nil {
		if !errors.Is(err, engine.ErrUnsupported) && ctx.Err() == nil {
			c.logEngineError(engine.OpPunctuate, err)
		}
		return text
	}
	c.state.Punc.Cache = next
	return stripLeadingComma(out)
}

func (c *Coordinator) logEngineError(op string, err error) {
	c.logger.Error().
		Err(err).
		Str("op", op).
		Str("mode", string(c.state.Mode)).
		Msg("Engine call failed, treating as empty output")
	observability.RecordError("engine", op)
}
