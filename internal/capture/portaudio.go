//go:build portaudio

package capture

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures from local microphones.
type PortAudioSource struct {
	mu     sync.Mutex
	closed bool
}

// PortAudioAvailable reports whether the portaudio backend is compiled in.
func PortAudioAvailable() bool { return true }

func NewPortAudioSource() (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &PortAudioSource{}, nil
}

func (s *PortAudioSource) Devices() ([]DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var devices []DeviceInfo
	for i, d := range all {
		if d.MaxInputChannels > 0 {
			devices = append(devices, DeviceInfo{Index: i, Name: d.Name})
		}
	}
	return devices, nil
}

func (s *PortAudioSource) Open(dev DeviceInfo, format Format) (Stream, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if dev.Index < 0 || dev.Index >= len(all) || all[dev.Index].Name != dev.Name {
		return nil, fmt.Errorf("%w: %q vanished", ErrDeviceUnavailable, dev.Name)
	}
	info := all[dev.Index]
	if info.MaxInputChannels < format.Channels {
		return nil, fmt.Errorf("%w: %q has %d input channels", ErrDeviceUnavailable, info.Name, info.MaxInputChannels)
	}

	frames := format.SamplesPerFrame()
	buffer := make([]int16, frames*format.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: format.Channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrDeviceUnavailable, info.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start %q: %v", ErrDeviceUnavailable, info.Name, err)
	}
	return &portAudioStream{stream: stream, buffer: buffer}, nil
}

// Close terminates the portaudio library.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
}

func (s *portAudioStream) Read(frame []byte) error {
	if err := s.stream.Read(); err != nil {
		return err
	}
	for i, sample := range s.buffer {
		if i*2+1 >= len(frame) {
			break
		}
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
	}
	return nil
}

func (s *portAudioStream) Close() error {
	_ = s.stream.Stop()
	return s.stream.Close()
}
