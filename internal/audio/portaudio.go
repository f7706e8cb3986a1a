//go:build portaudio

package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

type paDevice struct {
	stream *portaudio.Stream
	in     []int16
	out    []int16
}

// OpenDefault opens the default system input (and, with f.Monitor, the
// default output) through PortAudio. The returned Device owns a PortAudio
// initialization reference that Close releases.
func OpenDefault(f Format) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	d := &paDevice{in: make([]int16, f.BlockSize*f.Channels)}

	var (
		stream *portaudio.Stream
		err    error
	)
	if f.Monitor {
		d.out = make([]int16, len(d.in))
		stream, err = portaudio.OpenDefaultStream(f.Channels, f.Channels, float64(f.SampleRate), f.BlockSize, d.in, d.out)
	} else {
		stream, err = portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), f.BlockSize, d.in)
	}
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	d.stream = stream
	return d, nil
}

func (d *paDevice) Read(block []int16) error {
	if err := d.stream.Read(); err != nil {
		return err
	}
	copy(block, d.in)

	if d.out != nil {
		copy(d.out, d.in)
		if err := d.stream.Write(); err != nil {
			// a dropped monitor buffer is not a capture failure
			if err != portaudio.OutputUnderflowed {
				return fmt.Errorf("monitor: %w", err)
			}
		}
	}
	return nil
}

func (d *paDevice) Close() error {
	stopErr := d.stream.Stop()
	closeErr := d.stream.Close()
	termErr := portaudio.Terminate()

	switch {
	case stopErr != nil:
		return fmt.Errorf("stop stream: %w", stopErr)
	case closeErr != nil:
		return fmt.Errorf("close stream: %w", closeErr)
	case termErr != nil:
		return fmt.Errorf("terminate portaudio: %w", termErr)
	}
	return nil
}
