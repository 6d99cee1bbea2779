// Package command runs an external recognizer program per request. The
// audio is handed over as a temporary WAV file and the program prints one
// JSON object on stdout.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/gonewx/nextalk-sub001/internal/audio"
	"github.com/gonewx/nextalk-sub001/internal/engine"
)

// Recognizer implements engine.StreamingRecognizer and engine.RefinedRecognizer.
type Recognizer struct {
	cmd []string
}

type execSentence struct {
	Text  string `json:"text"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

type execResult struct {
	Text       string         `json:"text"`
	Timestamps [][2]int64     `json:"timestamps"`
	Sentences  []execSentence `json:"sentences"`
}

// New parses a shell-style command line.
func New(commandLine string) (*Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(commandLine)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &Recognizer{cmd: args}, nil
}

// RecognizeStreaming transcribes a partial window. The program is stateless
// across calls, so the cache is passed through unchanged.
func (r *Recognizer) RecognizeStreaming(ctx context.Context, pcm []byte, cache engine.Cache, params engine.ChunkParams) (string, engine.Cache, error) {
	if len(pcm) == 0 {
		return "", cache, nil
	}
	mode := "partial"
	if params.IsFinal {
		mode = "final"
	}
	args := []string{"--mode", mode}
	args = appendHotwords(args, params.Hotwords)
	res, err := r.run(ctx, pcm, args)
	if err != nil {
		return "", cache, err
	}
	return res.Text, cache, nil
}

// RecognizeRefined transcribes a complete utterance.
func (r *Recognizer) RecognizeRefined(ctx context.Context, req engine.RefinedRequest) (engine.RefinedResult, error) {
	if len(req.Audio) == 0 {
		return engine.RefinedResult{}, nil
	}
	args := []string{
		"--mode", "final",
		"--encoder-look-back", strconv.Itoa(req.EncoderLookBack),
		"--decoder-look-back", strconv.Itoa(req.DecoderLookBack),
	}
	args = appendHotwords(args, req.Hotwords)
	if req.ITN {
		args = append(args, "--itn")
	}

	res, err := r.run(ctx, req.Audio, args)
	if err != nil {
		return engine.RefinedResult{}, err
	}
	out := engine.RefinedResult{Text: res.Text, Timestamps: res.Timestamps}
	for _, s := range res.Sentences {
		out.SentenceStamps = append(out.SentenceStamps, engine.SentenceStamp{Text: s.Text, StartMs: s.Start, EndMs: s.End})
	}
	return out, nil
}

func (r *Recognizer) run(ctx context.Context, pcm []byte, extra []string) (execResult, error) {
	file, err := os.CreateTemp("", "nextalk_asr_*.wav")
	if err != nil {
		return execResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, pcm, audio.SampleRate); err != nil {
		return execResult{}, err
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	args = append(args, extra...)

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return execResult{}, fmt.Errorf("recognizer command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var res execResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return execResult{}, fmt.Errorf("decode recognizer response: %w", err)
	}
	return res, nil
}

// appendHotwords adds "--hotwords" with "word:weight" pairs in a stable order.
func appendHotwords(args []string, hotwords map[string]int) []string {
	if len(hotwords) == 0 {
		return args
	}
	words := make([]string, 0, len(hotwords))
	for w := range hotwords {
		words = append(words, w)
	}
	sort.Strings(words)
	pairs := make([]string, len(words))
	for i, w := range words {
		pairs[i] = w + ":" + strconv.Itoa(hotwords[w])
	}
	return append(args, "--hotwords", strings.Join(pairs, " "))
}

var (
	_ engine.StreamingRecognizer = (*Recognizer)(nil)
	_ engine.RefinedRecognizer   = (*Recognizer)(nil)
)
