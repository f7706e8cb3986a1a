package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// WhisperRate is the sample rate whisper.cpp expects.
const WhisperRate = 16000

// Clip is decoded audio as interleaved float32 samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// DecodeFile decodes a wav, mp3 or ogg (vorbis or opus) file. Files with an
// unknown extension are sniffed by their magic bytes.
func DecodeFile(ctx context.Context, path string) (Clip, error) {
	if err := ctx.Err(); err != nil {
		return Clip{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer f.Close()

	kind := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch kind {
	case "wav", "mp3", "ogg":
	case "oga", "opus":
		kind = "ogg"
	default:
		magic, _ := bufio.NewReader(f).Peek(4)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return Clip{}, err
		}
		switch string(magic) {
		case "RIFF":
			kind = "wav"
		case "OggS":
			kind = "ogg"
		default:
			return Clip{}, fmt.Errorf("unsupported format: %s (supported: wav/mp3/ogg)", path)
		}
	}

	switch kind {
	case "wav":
		return decodeWAV(f)
	case "mp3":
		return decodeMP3(f)
	default:
		return decodeOgg(f)
	}
}

// ToMono16k downmixes clip to one channel and resamples it to WhisperRate,
// truncating to maxSamples when it is positive.
func ToMono16k(c Clip, maxSamples int) []float32 {
	x := Downmix(c.Samples, c.Channels)
	x = Resample(x, c.SampleRate, WhisperRate)
	if maxSamples > 0 && len(x) > maxSamples {
		x = x[:maxSamples]
	}
	return x
}

func decodeWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return Clip{}, errors.New("empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	scale := 1.0 / float64(int64(1)<<(bd-1))

	c := Clip{
		Samples:    make([]float32, len(pb.Data)),
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}
	for i, v := range pb.Data {
		c.Samples[i] = float32(clamp(float64(v)*scale, -1, 1))
	}
	if c.Channels < 1 {
		c.Channels = 1
	}
	return c, nil
}

func decodeMP3(r io.Reader) (Clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return Clip{}, fmt.Errorf("decode mp3: %w", err)
	}

	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(&raw, binary.LittleEndian, ints); err != nil {
		return Clip{}, err
	}

	// go-mp3 always produces 16-bit stereo
	return Clip{Samples: fromInt16(ints), SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// decodeOgg tries Vorbis first and falls back to Opus.
func decodeOgg(r io.ReadSeeker) (Clip, error) {
	pcm, format, verr := oggvorbis.ReadAll(r)
	if verr == nil && format != nil && format.Channels > 0 {
		return Clip{Samples: pcm, SampleRate: format.SampleRate, Channels: format.Channels}, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Clip{}, err
	}
	c, oerr := decodeOpus(r)
	if oerr != nil {
		return Clip{}, fmt.Errorf("cannot decode ogg as vorbis (%v) or opus: %w", verr, oerr)
	}
	return c, nil
}

func decodeOpus(r io.ReadSeeker) (Clip, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return Clip{}, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		out []float32
		buf = make([]int16, 48000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // n is per channel
		if n > 0 {
			out = append(out, fromInt16(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Clip{}, err
		}
	}

	// libopusfile always decodes at 48 kHz
	return Clip{Samples: out, SampleRate: 48000, Channels: ch}, nil
}

func fromInt16(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := range n {
		var sum float64
		for c := range channels {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts mono samples between rates by linear interpolation.
func Resample(in []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(in) == 0 {
		return in
	}
	n := int(math.Ceil(float64(len(in)) * float64(to) / float64(from)))
	out := make([]float32, n)
	for i := range out {
		src := float64(i) * float64(from) / float64(to)
		i0 := int(src)
		if i0 >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		a := float32(src - float64(i0))
		out[i] = in[i0]*(1-a) + in[i0+1]*a
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
