package audio

import (
	"errors"
	"fmt"
)

// ErrNoBackend is returned by OpenDefault when the binary was built without
// an audio backend (see the portaudio build tag).
var ErrNoBackend = errors.New("no audio backend: rebuild with -tags portaudio")

// Format describes the fixed capture format: signed 16-bit little-endian
// samples, Channels interleaved, BlockSize samples per read.
type Format struct {
	SampleRate int
	BlockSize  int
	Channels   int
	// Monitor plays the captured input back on the default output.
	Monitor bool
}

// Device is an open input stream. Read fills block completely or fails.
type Device interface {
	Read(block []int16) error
	Close() error
}

// Opener acquires a Device for one capture session.
type Opener func(Format) (Device, error)

// DeviceError reports a failure to open the input device or to read from it.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IOError reports a failure to persist a capture.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
