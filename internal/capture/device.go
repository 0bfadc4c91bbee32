// Package capture reads PCM frames from an input device and cuts the stream
// into segments suitable for transcription requests.
package capture

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/config"
)

var (
	// ErrDeviceUnavailable is returned at start time when no usable device
	// matches the selection.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")
	// ErrBackendUnavailable indicates the backend was not compiled in.
	ErrBackendUnavailable = errors.New("capture: backend unavailable")
)

// DeviceInfo identifies an input device. Index is stable for the lifetime
// of the source.
type DeviceInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Format describes the raw PCM layout: 16-bit signed little-endian samples.
type Format struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
}

func FormatFromConfig(cfg config.CaptureConfig) Format {
	return Format{
		SampleRate:    cfg.SampleRate,
		Channels:      cfg.Channels,
		FrameDuration: time.Duration(cfg.FrameDurationMS) * time.Millisecond,
	}
}

// SamplesPerFrame is the per-channel sample count of one frame.
func (f Format) SamplesPerFrame() int {
	return int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
}

func (f Format) FrameBytes() int {
	return f.SamplesPerFrame() * f.Channels * 2
}

// Duration converts a PCM byte length into playback time.
func (f Format) Duration(n int) time.Duration {
	bytesPerSecond := f.SampleRate * f.Channels * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}

// Source enumerates and opens input devices.
type Source interface {
	Devices() ([]DeviceInfo, error)
	Open(dev DeviceInfo, format Format) (Stream, error)
}

// Stream is an open device. Read fills frame completely or returns an
// error; io.EOF marks the end of a finite source.
type Stream interface {
	Read(frame []byte) error
	Close() error
}

// Resolve picks a device by exact name, by index, or the first device when
// selection is blank.
func Resolve(src Source, selection string) (DeviceInfo, error) {
	devices, err := src.Devices()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: list devices: %v", ErrDeviceUnavailable, err)
	}
	if len(devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("%w: no input devices found", ErrDeviceUnavailable)
	}
	selection = strings.TrimSpace(selection)
	if selection == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.Name == selection {
			return d, nil
		}
	}
	if idx, err := strconv.Atoi(selection); err == nil {
		for _, d := range devices {
			if d.Index == idx {
				return d, nil
			}
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: %q is not available", ErrDeviceUnavailable, selection)
}

// NewSource builds the configured backend.
func NewSource(cfg config.CaptureConfig) (Source, error) {
	switch cfg.Backend {
	case "wav":
		return NewWAVSource(cfg.WAVFiles, cfg.Realtime), nil
	case "portaudio":
		src, err := NewPortAudioSource()
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported capture backend %q", cfg.Backend)
	}
}

// CloseSource releases backend resources when the source holds any.
func CloseSource(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
