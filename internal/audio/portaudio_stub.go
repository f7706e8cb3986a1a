//go:build !portaudio

package audio

// OpenDefault is unavailable without PortAudio.
func OpenDefault(Format) (Device, error) {
	return nil, ErrNoBackend
}
