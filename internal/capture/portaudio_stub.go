//go:build !portaudio

package capture

// PortAudioAvailable reports whether the portaudio backend is compiled in.
func PortAudioAvailable() bool { return false }

// PortAudioSource is a placeholder when built without the portaudio tag.
type PortAudioSource struct{}

func NewPortAudioSource() (*PortAudioSource, error) {
	return nil, ErrBackendUnavailable
}

func (s *PortAudioSource) Devices() ([]DeviceInfo, error) { return nil, ErrBackendUnavailable }

func (s *PortAudioSource) Open(DeviceInfo, Format) (Stream, error) {
	return nil, ErrBackendUnavailable
}

func (s *PortAudioSource) Close() error { return nil }
