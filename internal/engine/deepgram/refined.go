// Package deepgram runs the refined recognition pass on Deepgram's
// pre-recorded API. Boundaries and partials stay on the local engine.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/config"
	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/observability"
	"github.com/gonewx/nextalk-sub001/internal/resilience"
)

const serviceName = "deepgram"

// transcribeFunc sends a WAV stream and returns the raw JSON response.
type transcribeFunc func(ctx context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) ([]byte, error)

// Recognizer implements engine.RefinedRecognizer.
type Recognizer struct {
	model          string
	language       string
	transcribe     transcribeFunc
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// New creates a Deepgram refined recognizer from configuration.
func New(cfg *config.Config) *Recognizer {
	c := listenClient.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{})
	dg := api.New(c)

	transcribe := func(ctx context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) ([]byte, error) {
		res, err := dg.FromStream(ctx, src, opts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	}
	return newRecognizer(cfg, transcribe)
}

func newRecognizer(cfg *config.Config, transcribe transcribeFunc) *Recognizer {
	cb := resilience.NewCircuitBreaker(serviceName, cfg.CircuitBreakerMaxFailures, cfg.ResetTimeout())
	cb.OnStateChange(func(name string, _, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})
	return &Recognizer{
		model:          cfg.DeepgramModel,
		language:       cfg.DeepgramLanguage,
		transcribe:     transcribe,
		circuitBreaker: cb,
		logger:         observability.WithComponent(serviceName),
	}
}

// RecognizeRefined uploads the utterance as WAV and maps the first
// channel's best alternative into a RefinedResult.
func (r *Recognizer) RecognizeRefined(ctx context.Context, req engine.RefinedRequest) (engine.RefinedResult, error) {
	if len(req.Audio) == 0 {
		return engine.RefinedResult{}, nil
	}

	var wav seekBuffer
	if err := audio.WriteWAV(&wav, req.Audio, audio.SampleRate); err != nil {
		return engine.RefinedResult{}, err
	}

	opts := &interfaces.PreRecordedTranscriptionOptions{
		Model:       r.model,
		Language:    r.language,
		Punctuate:   true,
		SmartFormat: req.ITN,
		Keywords:    keywords(req.Hotwords),
	}

	var raw []byte
	err := r.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = r.transcribe(ctx, bytes.NewReader(wav.Bytes()), opts)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.RecordCircuitBreakerFailure(serviceName)
		}
		r.logger.Error().Err(err).Int("audio_bytes", len(req.Audio)).Msg("Deepgram transcription failed")
		return engine.RefinedResult{}, fmt.Errorf("deepgram transcribe: %w", err)
	}

	return decodeResponse(raw)
}

// Ready reports an open circuit as not ready.
func (r *Recognizer) Ready(context.Context) error {
	if r.circuitBreaker.State() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	return nil
}

type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word  string  `json:"word"`
					Start float64 `json:"start"`
					End   float64 `json:"end"`
				} `json:"words"`
				Paragraphs *struct {
					Paragraphs []struct {
						Sentences []struct {
							Text  string  `json:"text"`
							Start float64 `json:"start"`
							End   float64 `json:"end"`
						} `json:"sentences"`
					} `json:"paragraphs"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func decodeResponse(raw []byte) (engine.RefinedResult, error) {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return engine.RefinedResult{}, fmt.Errorf("decode deepgram response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return engine.RefinedResult{}, nil
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	out := engine.RefinedResult{Text: alt.Transcript}
	for _, w := range alt.Words {
		out.Timestamps = append(out.Timestamps, [2]int64{secondsToMs(w.Start), secondsToMs(w.End)})
	}
	if alt.Paragraphs != nil {
		for _, p := range alt.Paragraphs.Paragraphs {
			for _, s := range p.Sentences {
				out.SentenceStamps = append(out.SentenceStamps, engine.SentenceStamp{
					Text:    s.Text,
					StartMs: secondsToMs(s.Start),
					EndMs:   secondsToMs(s.End),
				})
			}
		}
	}
	return out, nil
}

func secondsToMs(s float64) int64 {
	return int64(math.Round(s * 1000))
}

// keywords formats hotwords as Deepgram "word:intensifier" pairs.
func keywords(hotwords map[string]int) []string {
	if len(hotwords) == 0 {
		return nil
	}
	out := make([]string, 0, len(hotwords))
	for w, weight := range hotwords {
		out = append(out, w+":"+strconv.Itoa(weight))
	}
	sort.Strings(out)
	return out
}

// seekBuffer is an in-memory io.WriteSeeker for the WAV encoder, which
// rewrites the header sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte {
	return s.buf
}

var (
	_ engine.RefinedRecognizer = (*Recognizer)(nil)
	_ engine.HealthChecker     = (*Recognizer)(nil)
)
