package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth   = 16
	wavFormPCM = 1
)

// Clip is a decoded mono 16-bit WAV file.
type Clip struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Samples    []int16
}

// WriteWAV persists frames, in order, as a mono 16-bit PCM WAV file at path.
// The file is encoded next to its destination and renamed into place, so a
// failed write never leaves a truncated file behind. Missing parent
// directories are created. Every failure is an *IOError.
func WriteWAV(path string, sampleRate int, frames [][]int16) error {
	if sampleRate <= 0 {
		return &IOError{Path: path, Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".capture-*.wav")
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if err := encode(tmp, sampleRate, frames); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Path: path, Err: err}
	}
	return nil
}

func encode(f *os.File, sampleRate int, frames [][]int16) error {
	n := 0
	for _, fr := range frames {
		n += len(fr)
	}

	data := make([]int, 0, n)
	for _, fr := range frames {
		for _, s := range fr {
			data = append(data, int(s))
		}
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, wavFormPCM)
	// a single Write, even when empty, so the header is always emitted
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// ReadWAV decodes a 16-bit PCM WAV file.
func ReadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	if dec.BitDepth != bitDepth {
		return nil, fmt.Errorf("unsupported bit depth %d", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	clip := &Clip{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		Samples:    make([]int16, len(buf.Data)),
	}
	for i, v := range buf.Data {
		clip.Samples[i] = int16(v)
	}
	return clip, nil
}
