package audio

import (
	"fmt"
	log "log/slog"
	"time"
)

const (
	DefaultSampleRate      = 44100
	DefaultBlockSize       = 1024
	DefaultThreshold       = 500
	DefaultMaxSilentBlocks = 100
	DefaultMaxDuration     = 5 * time.Second
)

// Config holds the recorder parameters. Zero fields take the defaults above,
// so a Threshold of 0 means DefaultThreshold, not "everything is voiced".
type Config struct {
	SampleRate      int
	BlockSize       int
	Threshold       int
	MaxSilentBlocks int
	Monitor         bool
}

// StopReason tells why a capture session ended.
type StopReason string

const (
	StopSilence StopReason = "silence"
	StopLimit   StopReason = "limit"
)

// Stats summarises a finished capture session.
type Stats struct {
	BlocksRead int
	Voiced     int
	Silent     int
	Stop       StopReason
}

// Duration is the length of the voiced audio kept by the session.
func (s Stats) Duration(f Format) time.Duration {
	samples := int64(s.Voiced) * int64(f.BlockSize)
	return time.Duration(samples * int64(time.Second) / int64(f.SampleRate))
}

// Session is the working state of one capture.
type Session struct {
	Format          Format
	Threshold       int
	MaxSilentBlocks int
	MaxBlocks       int

	// Frames holds the voiced blocks in capture order.
	Frames [][]int16
	Stats

	silentRun int
	recording bool
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithOpener replaces the default device backend.
func WithOpener(open Opener) Option {
	return func(r *Recorder) { r.open = open }
}

// Recorder captures speech from an input device, dropping silent blocks and
// stopping after a run of silence or a hard block limit.
type Recorder struct {
	format          Format
	threshold       int
	maxSilentBlocks int
	open            Opener
}

func NewRecorder(cfg Config, opts ...Option) (*Recorder, error) {
	if cfg.SampleRate < 0 || cfg.BlockSize < 0 || cfg.Threshold < 0 || cfg.MaxSilentBlocks < 0 {
		return nil, fmt.Errorf("negative recorder parameter: %+v", cfg)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxSilentBlocks == 0 {
		cfg.MaxSilentBlocks = DefaultMaxSilentBlocks
	}

	r := &Recorder{
		format: Format{
			SampleRate: cfg.SampleRate,
			BlockSize:  cfg.BlockSize,
			Channels:   1,
			Monitor:    cfg.Monitor,
		},
		threshold:       cfg.Threshold,
		maxSilentBlocks: cfg.MaxSilentBlocks,
		open:            OpenDefault,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

func (r *Recorder) Format() Format { return r.format }

// MaxBlocks returns ceil(d * sampleRate / blockSize), the number of blocks
// that covers d. Whole seconds and the sub-second remainder are scaled
// separately so that exact multiples do not round up and long durations
// cannot overflow.
func (r *Recorder) MaxBlocks(d time.Duration) int {
	if d <= 0 {
		d = DefaultMaxDuration
	}
	rate := int64(r.format.SampleRate)
	block := int64(r.format.BlockSize)

	// whole samples, and the fraction left over in sample-nanoseconds
	samples := int64(d/time.Second) * rate
	frac := int64(d%time.Second) * rate

	blocks := samples / block
	num := (samples%block)*int64(time.Second) + frac
	den := block * int64(time.Second)
	return int(blocks + (num+den-1)/den)
}

// Record captures at most maxDuration of audio (5s when maxDuration <= 0)
// and writes the voiced blocks to path as a WAV file.
//
// Device failures are returned as *DeviceError and leave no file behind;
// write failures are returned as *IOError.
func (r *Recorder) Record(path string, maxDuration time.Duration) (Stats, error) {
	s, err := r.Capture(maxDuration)
	if err != nil {
		return Stats{}, err
	}

	if err := WriteWAV(path, s.Format.SampleRate, s.Frames); err != nil {
		return s.Stats, err
	}

	log.Info("Saved capture", "path", path, "blocks", s.Voiced, "duration", s.Duration(s.Format))
	return s.Stats, nil
}

// Capture runs one capture session and returns it without persisting it.
func (r *Recorder) Capture(maxDuration time.Duration) (*Session, error) {
	s := &Session{
		Format:          r.format,
		Threshold:       r.threshold,
		MaxSilentBlocks: r.maxSilentBlocks,
		MaxBlocks:       r.MaxBlocks(maxDuration),
	}

	dev, err := r.open(r.format)
	if err != nil {
		return nil, &DeviceError{Op: "open", Err: err}
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warn("Failed to close audio device", "err", err)
		}
	}()

	if err := s.run(dev); err != nil {
		return nil, &DeviceError{Op: "read", Err: err}
	}

	log.Info("Capture stopped", "reason", s.Stop, "read", s.BlocksRead, "voiced", s.Voiced)
	return s, nil
}

func (s *Session) run(dev Device) error {
	block := make([]int16, s.Format.BlockSize*s.Format.Channels)

	s.recording = true
	for s.recording && s.BlocksRead < s.MaxBlocks {
		if err := dev.Read(block); err != nil {
			return fmt.Errorf("block %d: %w", s.BlocksRead+1, err)
		}
		s.BlocksRead++
		s.take(block)
	}

	if s.Stop == "" {
		s.Stop = StopLimit
	}
	return nil
}

// take classifies one block and advances the stop policy.
func (s *Session) take(block []int16) {
	peak := Peak(block)

	if peak >= s.Threshold {
		log.Debug("Voiced block", "n", s.BlocksRead, "peak", peak)
		s.Frames = append(s.Frames, append([]int16(nil), block...))
		s.Voiced++
		s.silentRun = 0
		return
	}

	log.Debug("Silent block", "n", s.BlocksRead, "peak", peak)
	s.Silent++
	s.silentRun++
	if s.silentRun >= s.MaxSilentBlocks {
		s.recording = false
		s.Stop = StopSilence
	}
}

// Peak returns the largest absolute sample value in block.
func Peak(block []int16) int {
	peak := 0
	for _, v := range block {
		a := int(v)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}
