// Package control exposes the session lifecycle over NATS request/reply so
// that fillerctl and other clients can drive a running daemon.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/bus"
	"github.com/loqalabs/loqa-fillers/internal/capture"
	"github.com/loqalabs/loqa-fillers/internal/protocol"
	"github.com/loqalabs/loqa-fillers/internal/session"
	"github.com/loqalabs/loqa-fillers/internal/stt"
	"github.com/loqalabs/loqa-fillers/internal/transcript"
	"github.com/nats-io/nats.go"
)

// Controller is the subset of *session.Controller the service drives.
type Controller interface {
	Start(ctx context.Context, params session.StartParams) error
	Stop(ctx context.Context) error
	AddSpeaker(name string) (string, error)
	SwitchSpeaker(name string) (string, error)
	Reset() error
	Snapshot() transcript.Snapshot
	WriteResults(w io.Writer) error
	Status() session.Status
	Devices() ([]capture.DeviceInfo, error)
}

type handlerFunc func(ctx context.Context, req protocol.ControlRequest) (protocol.ControlResponse, error)

type Service struct {
	bus     *bus.Client
	ctrl    Controller
	timeout time.Duration
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	mu      sync.Mutex
	ready   bool
	closing bool
}

// NewService builds the service; timeout bounds each request, including
// a draining stop.
func NewService(parent context.Context, busClient *bus.Client, ctrl Controller, timeout time.Duration, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		bus:     busClient,
		ctrl:    ctrl,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("component", "control")),
	}
}

func (s *Service) Start() error {
	handlers := map[string]handlerFunc{
		protocol.SubjectControlStart:   s.handleStart,
		protocol.SubjectControlStop:    s.handleStop,
		protocol.SubjectControlAdd:     s.handleAdd,
		protocol.SubjectControlSwitch:  s.handleSwitch,
		protocol.SubjectControlReset:   s.handleReset,
		protocol.SubjectControlResults: s.handleResults,
		protocol.SubjectControlStatus:  s.handleStatus,
		protocol.SubjectControlDevices: s.handleDevices,
	}
	for subject, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, s.wrap(subject, h))
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Close stops accepting requests and waits for running handlers.
func (s *Service) Close() {
	s.mu.Lock()
	s.ready = false
	s.closing = true
	s.mu.Unlock()

	s.unsubscribe()
	s.wg.Wait()
	s.cancel()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// unsubscribe drains every subscription and waits, bounded by the request
// timeout, until NATS has delivered the last pending message.
func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	deadline := time.Now().Add(s.timeout)
	for _, sub := range s.subs {
		for sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}
	s.subs = nil
}

// track registers a handler run unless the service is closing.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Service) wrap(subject string, h handlerFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var req protocol.ControlRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.reply(msg, protocol.ControlResponse{Error: fmt.Sprintf("invalid request: %v", err)})
				return
			}
		}
		if !s.track() {
			s.reply(msg, protocol.ControlResponse{Error: "control service closing"})
			return
		}
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
			defer cancel()

			resp, err := h(ctx, req)
			if err != nil {
				s.logger.Info("control request rejected", slog.String("subject", subject), slogError(err))
				resp = protocol.ControlResponse{Error: err.Error()}
			} else {
				resp.OK = true
			}
			s.reply(msg, resp)
		}()
	}
}

func (s *Service) reply(msg *nats.Msg, resp protocol.ControlResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to marshal control response", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send control response", slogError(err))
	}
}

func (s *Service) handleStart(ctx context.Context, req protocol.ControlRequest) (protocol.ControlResponse, error) {
	if err := s.ctrl.Start(ctx, session.StartParams{Speaker: req.Speaker, Device: req.Device}); err != nil {
		return protocol.ControlResponse{}, err
	}
	return s.statusResponse(), nil
}

func (s *Service) handleStop(ctx context.Context, _ protocol.ControlRequest) (protocol.ControlResponse, error) {
	if err := s.ctrl.Stop(ctx); err != nil {
		return protocol.ControlResponse{}, err
	}
	return s.statusResponse(), nil
}

func (s *Service) handleAdd(_ context.Context, req protocol.ControlRequest) (protocol.ControlResponse, error) {
	speaker, err := s.ctrl.AddSpeaker(req.Speaker)
	if err != nil {
		return protocol.ControlResponse{}, err
	}
	return protocol.ControlResponse{Speaker: speaker}, nil
}

func (s *Service) handleSwitch(_ context.Context, req protocol.ControlRequest) (protocol.ControlResponse, error) {
	speaker, err := s.ctrl.SwitchSpeaker(req.Speaker)
	if err != nil {
		return protocol.ControlResponse{}, err
	}
	return protocol.ControlResponse{Speaker: speaker}, nil
}

func (s *Service) handleReset(_ context.Context, _ protocol.ControlRequest) (protocol.ControlResponse, error) {
	if err := s.ctrl.Reset(); err != nil {
		return protocol.ControlResponse{}, err
	}
	return s.statusResponse(), nil
}

func (s *Service) handleResults(_ context.Context, _ protocol.ControlRequest) (protocol.ControlResponse, error) {
	var buf bytes.Buffer
	if err := s.ctrl.WriteResults(&buf); err != nil {
		return protocol.ControlResponse{}, err
	}
	st := s.ctrl.Status()
	snap := protocol.NewCountsSnapshot(st.SessionID, s.ctrl.Snapshot(), time.Now())
	return protocol.ControlResponse{TSV: buf.String(), Snapshot: &snap}, nil
}

func (s *Service) handleStatus(_ context.Context, _ protocol.ControlRequest) (protocol.ControlResponse, error) {
	return s.statusResponse(), nil
}

func (s *Service) handleDevices(_ context.Context, _ protocol.ControlRequest) (protocol.ControlResponse, error) {
	devices, err := s.ctrl.Devices()
	if err != nil {
		return protocol.ControlResponse{}, err
	}
	out := make([]protocol.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, protocol.Device{Index: d.Index, Name: d.Name})
	}
	return protocol.ControlResponse{Devices: out}, nil
}

func (s *Service) statusResponse() protocol.ControlResponse {
	st := StatusMessage(s.ctrl.Status())
	return protocol.ControlResponse{Status: &st}
}

// StatusMessage converts a controller status into its wire form.
func StatusMessage(st session.Status) protocol.Status {
	speakers := st.Speakers
	if speakers == nil {
		speakers = []string{}
	}
	return protocol.Status{
		SessionID:     st.SessionID,
		State:         st.State.String(),
		ActiveSpeaker: st.ActiveSpeaker,
		Device:        st.Device,
		Speakers:      speakers,
		Pending:       st.Pending,
		Backends:      Backends(),
	}
}

// Backends reports which optional backends this binary was built with.
func Backends() []string {
	out := []string{"capture:wav"}
	if capture.PortAudioAvailable() {
		out = append(out, "capture:portaudio")
	}
	out = append(out, "stt:mock", "stt:exec", "stt:http")
	if stt.WhisperAvailable() {
		out = append(out, "stt:whisper")
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
