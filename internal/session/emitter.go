package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/observability"
)

// Result modes reported to clients.
const (
	ResultOnline         = "online"
	ResultOffline        = "offline"
	ResultTwoPassOnline  = "twoPass-online"
	ResultTwoPassOffline = "twoPass-offline"
)

// Status values reported in status frames.
const (
	StatusConnected  = "connected"
	StatusListening  = "listening"
	StatusProcessing = "processing"
)

// Result is one recognition result frame.
type Result struct {
	Mode           string                 `json:"mode"`
	Text           string                 `json:"text"`
	Label          string                 `json:"label"`
	IsFinal        bool                   `json:"isFinal"`
	Timestamps     [][2]int64             `json:"timestamps,omitempty"`
	SentenceStamps []engine.SentenceStamp `json:"sentenceStamps,omitempty"`
}

// Status is an informational frame describing the session.
type Status struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Config *Echo  `json:"config,omitempty"`
}

// Sink delivers frames to the client. Implementations serialise v as JSON.
type Sink interface {
	Send(ctx context.Context, v any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, v any) error

func (f SinkFunc) Send(ctx context.Context, v any) error { return f(ctx, v) }

// Emitter formats results for one session and hands them to the sink.
type Emitter struct {
	sink    Sink
	metrics *observability.SessionMetrics
	status  bool
}

// NewEmitter creates an emitter. metrics may be nil. Status frames are
// only sent when status is true.
func NewEmitter(sink Sink, metrics *observability.SessionMetrics, status bool) *Emitter {
	return &Emitter{sink: sink, metrics: metrics, status: status}
}

// Streaming emits a partial result. Empty text is suppressed.
func (e *Emitter) Streaming(ctx context.Context, st *State, text string, final bool) error {
	if text == "" {
		return nil
	}
	mode := ResultOnline
	if st.Mode == ModeTwoPass {
		mode = ResultTwoPassOnline
	}
	return e.send(ctx, Result{
		Mode:    mode,
		Text:    text,
		Label:   st.Label,
		IsFinal: final && st.Mode == ModeOnline,
	})
}

// Refined emits a final result. It is sent even when the text is empty.
func (e *Emitter) Refined(ctx context.Context, st *State, res engine.RefinedResult) error {
	mode := ResultOffline
	if st.Mode == ModeTwoPass {
		mode = ResultTwoPassOffline
	}
	return e.send(ctx, Result{
		Mode:           mode,
		Text:           res.Text,
		Label:          st.Label,
		IsFinal:        true,
		Timestamps:     res.Timestamps,
		SentenceStamps: res.SentenceStamps,
	})
}

// Status emits a status frame when status frames are enabled.
func (e *Emitter) Status(ctx context.Context, st *State, status string) error {
	if !e.status {
		return nil
	}
	frame := Status{Type: "status", Status: status}
	if st != nil && status == StatusListening {
		echo := st.Echo()
		frame.Config = &echo
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sink.Send(ctx, frame)
}

func (e *Emitter) send(ctx context.Context, r Result) error {
	// Results that complete after the session ended are discarded.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.sink.Send(ctx, r); err != nil {
		return fmt.Errorf("send %s result: %w", r.Mode, err)
	}
	if e.metrics != nil {
		e.metrics.RecordResult(r.Mode, r.IsFinal)
	}
	return nil
}

// stripLeadingComma removes a comma the punctuator put at the very start.
func stripLeadingComma(text string) string {
	for _, p := range []string{",", "，"} {
		if strings.HasPrefix(text, p) {
			return strings.TrimLeft(strings.TrimPrefix(text, p), " ")
		}
	}
	return text
}
