package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 1024, cfg.Audio.BlockSize)
	assert.Equal(t, 500, cfg.Audio.Threshold)
	assert.Equal(t, 100, cfg.Audio.MaxSilentBlocks)
	assert.Equal(t, 5*time.Second, cfg.Audio.MaxDuration)
	assert.Equal(t, "wav_output", cfg.Audio.OutputDir)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Chat.Model)
	assert.EqualValues(t, 1000, cfg.Chat.MaxTokens)
	assert.InDelta(t, 1.2, cfg.Chat.Temperature, 1e-9)
	assert.Equal(t, "/tmp/companion.sock", cfg.Control.Socket)
	assert.Equal(t, "exit", cfg.Control.ExitWord)
	assert.Equal(t, "COMPANION", cfg.Hub.Shard)
}

func TestLoadFileWithEnv(t *testing.T) {
	t.Setenv("COMPANION_TEST_KEY", "sk-test")
	path := writeConfig(t, `
audio:
  sample_rate: 16000
  block_size: 512
  threshold: 800
  max_silent_blocks: 20
  max_duration: 8s
  monitor: true
duck:
  enabled: true
  factor: 0.5
  fade: 100ms
chat:
  api_key: ${COMPANION_TEST_KEY}
  model: gpt-4o-mini
hub:
  url: ws://localhost:8092/ws
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 512, cfg.Audio.BlockSize)
	assert.Equal(t, 800, cfg.Audio.Threshold)
	assert.Equal(t, 20, cfg.Audio.MaxSilentBlocks)
	assert.Equal(t, 8*time.Second, cfg.Audio.MaxDuration)
	assert.True(t, cfg.Audio.Monitor)
	assert.True(t, cfg.Duck.Enabled)
	assert.InDelta(t, 0.5, cfg.Duck.Factor, 1e-9)
	assert.Equal(t, 100*time.Millisecond, cfg.Duck.Fade)
	assert.Equal(t, "sk-test", cfg.Chat.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.Model)
	assert.Equal(t, "ws://localhost:8092/ws", cfg.Hub.URL)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		errorMsg string
	}{
		{
			name:     "malformed yaml",
			body:     "audio: [",
			errorMsg: "parsing config",
		},
		{
			name:     "low sample rate",
			body:     "audio:\n  sample_rate: 100\n",
			errorMsg: "sample_rate must be between",
		},
		{
			name:     "negative silent blocks",
			body:     "audio:\n  max_silent_blocks: -1\n",
			errorMsg: "max_silent_blocks must be at least 1",
		},
		{
			name:     "threshold out of range",
			body:     "audio:\n  threshold: 40000\n",
			errorMsg: "threshold must be between",
		},
		{
			name:     "duck factor above one",
			body:     "duck:\n  factor: 1.5\n",
			errorMsg: "factor must be between 0 and 1",
		},
		{
			name:     "temperature too high",
			body:     "chat:\n  temperature: 3\n",
			errorMsg: "temperature must be between 0 and 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestSilenceWindow(t *testing.T) {
	a := AudioConfig{SampleRate: 44100, BlockSize: 1024, MaxSilentBlocks: 3}
	assert.Equal(t, 69, int(a.SilenceWindow()/time.Millisecond))
}
