package deepgram

import (
	"context"
	"errors"
	"io"
	"testing"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"

	"github.com/gonewx/nextalk-sub001/internal/config"
	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/resilience"
)

const sampleResponse = `{
  "results": {
    "channels": [{
      "alternatives": [{
        "transcript": "hello nextalk",
        "words": [
          {"word": "hello", "start": 0.12, "end": 0.48},
          {"word": "nextalk", "start": 0.5, "end": 1.0}
        ],
        "paragraphs": {
          "paragraphs": [{"sentences": [{"text": "Hello NexTalk.", "start": 0.12, "end": 1.0}]}]
        }
      }]
    }]
  }
}`

func testConfig() *config.Config {
	return &config.Config{
		DeepgramModel:              "nova-2",
		DeepgramLanguage:           "en",
		CircuitBreakerMaxFailures:  2,
		CircuitBreakerResetTimeout: 30,
	}
}

func TestRecognizeRefined(t *testing.T) {
	var gotOpts *interfaces.PreRecordedTranscriptionOptions
	var gotBytes int
	r := newRecognizer(testConfig(), func(_ context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) ([]byte, error) {
		gotOpts = opts
		data, _ := io.ReadAll(src)
		gotBytes = len(data)
		return []byte(sampleResponse), nil
	})

	res, err := r.RecognizeRefined(context.Background(), engine.RefinedRequest{
		Audio:    make([]byte, 3200),
		Hotwords: map[string]int{"NexTalk": 20},
		ITN:      true,
	})
	if err != nil {
		t.Fatalf("RecognizeRefined failed: %v", err)
	}

	if res.Text != "hello nextalk" {
		t.Errorf("Expected transcript 'hello nextalk', got %q", res.Text)
	}
	if len(res.Timestamps) != 2 || res.Timestamps[0] != [2]int64{120, 480} {
		t.Errorf("Unexpected timestamps: %v", res.Timestamps)
	}
	if len(res.SentenceStamps) != 1 || res.SentenceStamps[0].EndMs != 1000 {
		t.Errorf("Unexpected sentence stamps: %v", res.SentenceStamps)
	}

	if gotBytes != 3200+44 {
		t.Errorf("Expected a %d byte WAV upload, got %d", 3200+44, gotBytes)
	}
	if gotOpts.Model != "nova-2" || !gotOpts.SmartFormat || !gotOpts.Punctuate {
		t.Errorf("Unexpected options: %+v", gotOpts)
	}
	if len(gotOpts.Keywords) != 1 || gotOpts.Keywords[0] != "NexTalk:20" {
		t.Errorf("Unexpected keywords: %v", gotOpts.Keywords)
	}
}

func TestRecognizeRefined_EmptyAudio(t *testing.T) {
	called := false
	r := newRecognizer(testConfig(), func(context.Context, io.Reader, *interfaces.PreRecordedTranscriptionOptions) ([]byte, error) {
		called = true
		return nil, nil
	})

	res, err := r.RecognizeRefined(context.Background(), engine.RefinedRequest{})
	if err != nil || res.Text != "" {
		t.Errorf("Expected empty result, got %q, %v", res.Text, err)
	}
	if called {
		t.Error("Expected no upload for empty audio")
	}
}

func TestRecognizeRefined_CircuitOpens(t *testing.T) {
	r := newRecognizer(testConfig(), func(context.Context, io.Reader, *interfaces.PreRecordedTranscriptionOptions) ([]byte, error) {
		return nil, errors.New("503 service unavailable")
	})
	req := engine.RefinedRequest{Audio: make([]byte, 640)}

	for i := 0; i < 2; i++ {
		if _, err := r.RecognizeRefined(context.Background(), req); err == nil {
			t.Fatal("Expected upstream error")
		}
	}

	_, err := r.RecognizeRefined(context.Background(), req)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen after repeated failures, got %v", err)
	}
	if r.Ready(context.Background()) == nil {
		t.Error("Expected not ready while circuit is open")
	}
}

func TestDecodeResponse_NoChannels(t *testing.T) {
	res, err := decodeResponse([]byte(`{"results":{"channels":[]}}`))
	if err != nil || res.Text != "" {
		t.Errorf("Expected empty result, got %q, %v", res.Text, err)
	}
	if _, err := decodeResponse([]byte("nope")); err == nil {
		t.Error("Expected decode error")
	}
}

func TestSeekBuffer(t *testing.T) {
	var b seekBuffer
	b.Write([]byte("abcdef"))
	b.Seek(2, io.SeekStart)
	b.Write([]byte("XY"))
	b.Seek(0, io.SeekEnd)
	b.Write([]byte("g"))

	if string(b.Bytes()) != "abXYefg" {
		t.Errorf("Expected 'abXYefg', got %q", b.Bytes())
	}
	if _, err := b.Seek(-1, io.SeekStart); err == nil {
		t.Error("Expected error for negative position")
	}
}
