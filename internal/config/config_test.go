package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "10095" {
		t.Errorf("Expected default Port '10095', got '%s'", cfg.Port)
	}
	if cfg.EngineBackend != BackendGRPC {
		t.Errorf("Expected default EngineBackend 'grpc', got '%s'", cfg.EngineBackend)
	}
	if cfg.EngineURL != "localhost:10096" {
		t.Errorf("Expected default EngineURL 'localhost:10096', got '%s'", cfg.EngineURL)
	}
	if cfg.DefaultMode != "twoPass" {
		t.Errorf("Expected default mode 'twoPass', got '%s'", cfg.DefaultMode)
	}
	if cfg.DefaultLabel != "nextalk" {
		t.Errorf("Expected default label 'nextalk', got '%s'", cfg.DefaultLabel)
	}
	if cfg.ChunkIntervalFrames != 10 {
		t.Errorf("Expected default ChunkIntervalFrames 10, got %d", cfg.ChunkIntervalFrames)
	}
	if cfg.DefaultChunkSize() != [3]int{5, 10, 5} {
		t.Errorf("Expected default ChunkSize [5 10 5], got %v", cfg.DefaultChunkSize())
	}
	if cfg.EncoderLookBack != 4 || cfg.DecoderLookBack != 0 {
		t.Errorf("Expected look-backs 4/0, got %d/%d", cfg.EncoderLookBack, cfg.DecoderLookBack)
	}
	if cfg.MinSegmentMs != 300 {
		t.Errorf("Expected MinSegmentMs 300, got %d", cfg.MinSegmentMs)
	}
	if cfg.HistoryRetainFrames != 20 {
		t.Errorf("Expected HistoryRetainFrames 20, got %d", cfg.HistoryRetainFrames)
	}
	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}
	if cfg.EngineWaitWarn().Milliseconds() != 2000 {
		t.Errorf("Expected 2000ms wait warning, got %v", cfg.EngineWaitWarn())
	}
	if !cfg.PunctuationEnabled {
		t.Error("Expected punctuation enabled by default")
	}
	if cfg.StatusMessages {
		t.Error("Expected status messages disabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CHUNK_SIZE", "8,8,4")
	t.Setenv("MIN_SEGMENT_MS", "500")
	t.Setenv("STATUS_MESSAGES", "true")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Expected Port '9000', got '%s'", cfg.Port)
	}
	if cfg.DefaultChunkSize() != [3]int{8, 8, 4} {
		t.Errorf("Expected ChunkSize [8 8 4], got %v", cfg.DefaultChunkSize())
	}
	if cfg.MinSegmentMs != 500 {
		t.Errorf("Expected MinSegmentMs 500, got %d", cfg.MinSegmentMs)
	}
	if !cfg.StatusMessages {
		t.Error("Expected status messages enabled")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "deepgram without key",
			env:     map[string]string{"REFINED_BACKEND": "deepgram"},
			wantErr: "DEEPGRAM_API_KEY",
		},
		{
			name:    "command without command line",
			env:     map[string]string{"REFINED_BACKEND": "command"},
			wantErr: "RECOGNIZER_COMMAND",
		},
		{
			name:    "command engine needs energy vad",
			env:     map[string]string{"ENGINE_BACKEND": "command", "RECOGNIZER_COMMAND": "asr"},
			wantErr: "VAD_BACKEND=energy",
		},
		{
			name:    "unknown engine backend",
			env:     map[string]string{"ENGINE_BACKEND": "carrier-pigeon"},
			wantErr: "ENGINE_BACKEND",
		},
		{
			name:    "short chunk size",
			env:     map[string]string{"CHUNK_SIZE": "5,10"},
			wantErr: "CHUNK_SIZE",
		},
		{
			name:    "zero interval",
			env:     map[string]string{"CHUNK_INTERVAL_FRAMES": "0"},
			wantErr: "CHUNK_INTERVAL_FRAMES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_CommandEngine(t *testing.T) {
	t.Setenv("ENGINE_BACKEND", "command")
	t.Setenv("VAD_BACKEND", "energy")
	t.Setenv("RECOGNIZER_COMMAND", "/usr/bin/asr --model small")

	if _, err := LoadFromEnv(); err != nil {
		t.Errorf("Expected valid command configuration, got %v", err)
	}
}

func TestLoadHotwords(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain.yaml")
	if err := os.WriteFile(plain, []byte("NexTalk: 30\nFunASR: 20\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wrapped := filepath.Join(dir, "wrapped.yaml")
	if err := os.WriteFile(wrapped, []byte("hotwords:\n  NexTalk: 40\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadHotwords(plain)
	if err != nil {
		t.Fatalf("LoadHotwords(plain) failed: %v", err)
	}
	if got["NexTalk"] != 30 || got["FunASR"] != 20 {
		t.Errorf("Unexpected hotwords: %v", got)
	}

	got, err = LoadHotwords(wrapped)
	if err != nil {
		t.Fatalf("LoadHotwords(wrapped) failed: %v", err)
	}
	if len(got) != 1 || got["NexTalk"] != 40 {
		t.Errorf("Unexpected hotwords: %v", got)
	}

	if got, err := LoadHotwords(""); err != nil || got != nil {
		t.Errorf("Expected no hotwords for empty path, got %v, %v", got, err)
	}
	if _, err := LoadHotwords(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("NEXTALK_TEST_VAR", "set")
	if GetEnv("NEXTALK_TEST_VAR", "default") != "set" {
		t.Error("Expected value from environment")
	}
	if GetEnv("NEXTALK_TEST_UNSET_VAR", "default") != "default" {
		t.Error("Expected default value")
	}
}
