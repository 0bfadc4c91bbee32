package capture

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/wav"
)

// WAVSource exposes WAV files as input devices. It backs file replays and
// tests; with realtime set, reads are paced at the frame rate.
type WAVSource struct {
	files    []string
	realtime bool
}

func NewWAVSource(files []string, realtime bool) *WAVSource {
	return &WAVSource{files: append([]string(nil), files...), realtime: realtime}
}

func (s *WAVSource) Devices() ([]DeviceInfo, error) {
	var devices []DeviceInfo
	for i, path := range s.files {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		devices = append(devices, DeviceInfo{Index: i, Name: filepath.Base(path)})
	}
	return devices, nil
}

func (s *WAVSource) Open(dev DeviceInfo, format Format) (Stream, error) {
	if dev.Index < 0 || dev.Index >= len(s.files) {
		return nil, fmt.Errorf("%w: index %d", ErrDeviceUnavailable, dev.Index)
	}
	pcm, err := decodeWAV(s.files[dev.Index], format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	st := &wavStream{pcm: pcm}
	if s.realtime {
		st.pace = format.FrameDuration
	}
	return st, nil
}

func decodeWAV(path string, format Format) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	if int(dec.SampleRate) != format.SampleRate || int(dec.NumChans) != format.Channels || dec.BitDepth != 16 {
		return nil, fmt.Errorf("%s is %dHz/%dch/%dbit, want %dHz/%dch/16bit",
			path, dec.SampleRate, dec.NumChans, dec.BitDepth, format.SampleRate, format.Channels)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	return pcm, nil
}

type wavStream struct {
	pcm  []byte
	off  int
	pace time.Duration
}

func (s *wavStream) Read(frame []byte) error {
	if s.off >= len(s.pcm) {
		return io.EOF
	}
	if s.pace > 0 {
		time.Sleep(s.pace)
	}
	n := copy(frame, s.pcm[s.off:])
	for i := n; i < len(frame); i++ {
		frame[i] = 0
	}
	s.off += n
	return nil
}

func (s *wavStream) Close() error {
	s.pcm = nil
	return nil
}
