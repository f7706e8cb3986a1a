package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	Duck    DuckConfig    `yaml:"duck"`
	Cue     CueConfig     `yaml:"cue"`
	Whisper WhisperConfig `yaml:"whisper"`
	Chat    ChatConfig    `yaml:"chat"`
	TTS     TTSConfig     `yaml:"tts"`
	Hub     HubConfig     `yaml:"hub"`
	Control ControlConfig `yaml:"control"`
}

type AudioConfig struct {
	SampleRate      int           `yaml:"sample_rate"`
	BlockSize       int           `yaml:"block_size"`
	Threshold       int           `yaml:"threshold"`
	MaxSilentBlocks int           `yaml:"max_silent_blocks"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	Monitor         bool          `yaml:"monitor"`
	OutputDir       string        `yaml:"output_dir"`
}

type DuckConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Factor    float64       `yaml:"factor"`
	MinVolume int           `yaml:"min_volume"`
	Fade      time.Duration `yaml:"fade"`
	Self      []string      `yaml:"self"`
}

type CueConfig struct {
	Path string `yaml:"path"`
}

type WhisperConfig struct {
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Threads   int    `yaml:"threads"`
}

type ChatConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int64         `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Proxy        string        `yaml:"proxy"`
	Timeout      time.Duration `yaml:"timeout"`
}

type TTSConfig struct {
	Voice string `yaml:"voice"`
}

type HubConfig struct {
	URL       string        `yaml:"url"`
	Shard     string        `yaml:"shard"`
	Reconnect time.Duration `yaml:"reconnect"`
}

type ControlConfig struct {
	Socket   string `yaml:"socket"`
	ExitWord string `yaml:"exit_word"`
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 44100
	}
	if c.Audio.BlockSize == 0 {
		c.Audio.BlockSize = 1024
	}
	if c.Audio.Threshold == 0 {
		c.Audio.Threshold = 500
	}
	if c.Audio.MaxSilentBlocks == 0 {
		c.Audio.MaxSilentBlocks = 100
	}
	if c.Audio.MaxDuration == 0 {
		c.Audio.MaxDuration = 5 * time.Second
	}
	if c.Audio.OutputDir == "" {
		c.Audio.OutputDir = "wav_output"
	}
	if c.Duck.Factor == 0 {
		c.Duck.Factor = 0.3
	}
	if c.Duck.Fade == 0 {
		c.Duck.Fade = 200 * time.Millisecond
	}
	if len(c.Duck.Self) == 0 {
		c.Duck.Self = []string{"companion", "espeak-ng"}
	}
	if c.Whisper.Language == "" {
		c.Whisper.Language = "auto"
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "gpt-3.5-turbo"
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = "You are a helpful, friendly assistant"
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = 1000
	}
	if c.Chat.Temperature == 0 {
		c.Chat.Temperature = 1.2
	}
	if c.Chat.Timeout == 0 {
		c.Chat.Timeout = 120 * time.Second
	}
	if c.TTS.Voice == "" {
		c.TTS.Voice = "en"
	}
	if c.Hub.Shard == "" {
		c.Hub.Shard = "COMPANION"
	}
	if c.Hub.Reconnect == 0 {
		c.Hub.Reconnect = 5 * time.Second
	}
	if c.Control.Socket == "" {
		c.Control.Socket = "/tmp/companion.sock"
	}
	if c.Control.ExitWord == "" {
		c.Control.ExitWord = "exit"
	}
}

func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Duck.Validate(); err != nil {
		return fmt.Errorf("duck config: %w", err)
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat config: %w", err)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000, got %d", a.SampleRate)
	}
	if a.BlockSize < 64 {
		return fmt.Errorf("block_size must be at least 64 samples, got %d", a.BlockSize)
	}
	if a.Threshold < 1 || a.Threshold > 32767 {
		return fmt.Errorf("threshold must be between 1 and 32767, got %d", a.Threshold)
	}
	if a.MaxSilentBlocks < 1 {
		return fmt.Errorf("max_silent_blocks must be at least 1, got %d", a.MaxSilentBlocks)
	}
	if a.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative, got %s", a.MaxDuration)
	}
	return nil
}

func (d *DuckConfig) Validate() error {
	if d.Factor < 0 || d.Factor > 1 {
		return fmt.Errorf("factor must be between 0 and 1, got %f", d.Factor)
	}
	if d.MinVolume < 0 || d.MinVolume > 150 {
		return fmt.Errorf("min_volume must be between 0 and 150, got %d", d.MinVolume)
	}
	return nil
}

func (c *ChatConfig) Validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", c.Temperature)
	}
	return nil
}

// SilenceWindow is how long a run of silence must last to stop a capture.
func (a *AudioConfig) SilenceWindow() time.Duration {
	return time.Duration(int64(a.MaxSilentBlocks) * int64(a.BlockSize) * int64(time.Second) / int64(a.SampleRate))
}
