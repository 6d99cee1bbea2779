package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gonewx/nextalk-sub001/internal/engine"
	"github.com/gonewx/nextalk-sub001/internal/engine/mock"
)

func TestShared_SerializesConcurrentCalls(t *testing.T) {
	m := &mock.Engine{CallDelay: 5 * time.Millisecond, RefinedResult: engine.RefinedResult{Text: "ok"}}
	s := engine.NewShared(m, engine.WithLogger(zerolog.Nop()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			if i%2 == 0 {
				_, _ = s.RecognizeRefined(ctx, engine.RefinedRequest{Audio: make([]byte, 640)})
			} else {
				_, _, _ = s.RecognizeStreaming(ctx, make([]byte, 640), nil, engine.ChunkParams{})
			}
		}(i)
	}
	wg.Wait()

	if m.Reentered() {
		t.Error("Expected engine never to be re-entered")
	}
	_, streaming, refined := m.Counts()
	if streaming != 4 || refined != 4 {
		t.Errorf("Expected 4 streaming and 4 refined calls, got %d and %d", streaming, refined)
	}
}

func TestShared_CancelWhileQueued(t *testing.T) {
	m := &mock.Engine{CallDelay: 200 * time.Millisecond}
	s := engine.NewShared(m, engine.WithLogger(zerolog.Nop()))

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = s.RecognizeRefined(context.Background(), engine.RefinedRequest{})
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.RecognizeRefined(ctx, engine.RefinedRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected queued call to fail with DeadlineExceeded, got %v", err)
	}
}

func TestShared_CallRunsToCompletionAfterCancel(t *testing.T) {
	m := &mock.Engine{CallDelay: 30 * time.Millisecond, RefinedResult: engine.RefinedResult{Text: "done"}}
	s := engine.NewShared(m, engine.WithLogger(zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	res, err := s.RecognizeRefined(ctx, engine.RefinedRequest{})
	if err != nil {
		t.Fatalf("Expected in-flight call to complete, got %v", err)
	}
	if res.Text != "done" {
		t.Errorf("Expected text 'done', got %q", res.Text)
	}
}

func TestShared_PunctuatePassthrough(t *testing.T) {
	s := engine.NewShared(&mock.Engine{}, engine.WithLogger(zerolog.Nop()))
	if s.HasPunctuator() {
		t.Fatal("Expected no punctuator")
	}

	cache := engine.Cache{"k": 1}
	text, next, err := s.Punctuate(context.Background(), "hello world", cache)
	if err != nil || text != "hello world" {
		t.Errorf("Expected passthrough, got %q, %v", text, err)
	}
	if next["k"] != 1 {
		t.Error("Expected cache to be returned unchanged")
	}
}

func TestShared_Punctuate(t *testing.T) {
	m := &mock.Engine{PunctuateFunc: func(s string) string { return s + "。" }}
	s := engine.NewShared(m, engine.WithPunctuator(m), engine.WithLogger(zerolog.Nop()))

	text, next, err := s.Punctuate(context.Background(), "你好", nil)
	if err != nil {
		t.Fatalf("Punctuate failed: %v", err)
	}
	if text != "你好。" {
		t.Errorf("Expected punctuated text, got %q", text)
	}
	if next["punctuated"] != true {
		t.Error("Expected new cache from punctuator")
	}
}

func TestShared_WrapsErrors(t *testing.T) {
	backendErr := errors.New("model crashed")
	s := engine.NewShared(&mock.Engine{StreamingErr: backendErr}, engine.WithLogger(zerolog.Nop()))

	_, _, err := s.RecognizeStreaming(context.Background(), nil, nil, engine.ChunkParams{})
	if !errors.Is(err, backendErr) {
		t.Errorf("Expected wrapped backend error, got %v", err)
	}
}

func TestShared_Ready(t *testing.T) {
	s := engine.NewShared(&mock.Engine{ReadyErr: errors.New("loading")}, engine.WithLogger(zerolog.Nop()))
	if err := s.Ready(context.Background()); err == nil {
		t.Error("Expected readiness error")
	}
}

func TestComposite(t *testing.T) {
	m := &mock.Engine{RefinedResult: engine.RefinedResult{Text: "refined"}}
	c := &engine.Composite{Boundary: m, Streaming: m}
	if err := c.Validate(); err == nil {
		t.Fatal("Expected validation error without refined recognizer")
	}

	c.Refined = m
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	res, err := c.RecognizeRefined(context.Background(), engine.RefinedRequest{})
	if err != nil || res.Text != "refined" {
		t.Errorf("Expected refined text, got %q, %v", res.Text, err)
	}
	if err := c.Ready(context.Background()); err != nil {
		t.Errorf("Expected ready, got %v", err)
	}

	m.ReadyErr = errors.New("down")
	if err := c.Ready(context.Background()); err == nil {
		t.Error("Expected readiness error to propagate")
	}
}

func TestCacheClone(t *testing.T) {
	orig := engine.Cache{"a": 1}
	cp := orig.Clone()
	cp["a"] = 2
	if orig["a"] != 1 {
		t.Error("Expected clone not to alias the original")
	}
	if engine.Cache(nil).Clone() == nil {
		t.Error("Expected non-nil clone of nil cache")
	}
}
