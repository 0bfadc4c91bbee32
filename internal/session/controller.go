// Package session owns the listening lifecycle: it runs the capture loop,
// fans segments out to transcription, and appends recognized text to the
// active speaker's transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-fillers/internal/capture"
	"github.com/loqalabs/loqa-fillers/internal/config"
	"github.com/loqalabs/loqa-fillers/internal/filler"
	"github.com/loqalabs/loqa-fillers/internal/report"
	"github.com/loqalabs/loqa-fillers/internal/stt"
	"github.com/loqalabs/loqa-fillers/internal/transcript"
)

var (
	ErrListening    = errors.New("session: already listening")
	ErrNotListening = errors.New("session: not listening")
	ErrNoSpeaker    = errors.New("session: no speaker selected")
	ErrSpeakerLimit = errors.New("session: speaker limit reached")
	ErrClosed       = errors.New("session: controller closed")
)

// Transcriber turns a captured segment into a classified outcome.
type Transcriber interface {
	Transcribe(ctx context.Context, seg capture.Segment) stt.Outcome
}

type StartParams struct {
	Speaker string
	Device  string
}

// Status is a point-in-time summary of the controller.
type Status struct {
	SessionID     string
	State         State
	ActiveSpeaker string
	Device        string
	Speakers      []string
	Pending       int64
}

// Controller is safe for concurrent use. Start, Stop, Reset and Close are
// serialized against each other.
type Controller struct {
	cfg        config.SessionConfig
	captureCfg config.CaptureConfig
	format     capture.Format
	lexicon    filler.Lexicon
	source     capture.Source
	stt        Transcriber
	store      *transcript.Store
	events     *eventQueue
	metrics    *metrics
	logger     *slog.Logger
	clock      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	seq     atomic.Uint64
	pending atomic.Int64
	tasks   sync.WaitGroup

	lifecycle sync.Mutex
	mu        sync.RWMutex
	state     State
	active    string
	sessionID string
	run       *run
	closed    bool
}

// run is one Listening period.
type run struct {
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
	device   capture.DeviceInfo
}

func New(cfg config.Config, source capture.Source, transcriber Transcriber, logger *slog.Logger) (*Controller, error) {
	if source == nil {
		return nil, errors.New("session: capture source is required")
	}
	if transcriber == nil {
		return nil, errors.New("session: transcriber is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	lexicon := filler.Default()
	if len(cfg.Session.Lexicon) > 0 {
		var err error
		if lexicon, err = filler.NewLexicon(cfg.Session.Lexicon...); err != nil {
			return nil, fmt.Errorf("session lexicon: %w", err)
		}
	}
	if _, err := capture.NewSegmenter(cfg.Capture); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:        cfg.Session,
		captureCfg: cfg.Capture,
		format:     capture.FormatFromConfig(cfg.Capture),
		lexicon:    lexicon,
		source:     source,
		stt:        transcriber,
		store:      transcript.NewStore(),
		events:     newEventQueue(),
		logger:     logger.With(slog.String("component", "session")),
		clock:      time.Now,
		ctx:        ctx,
		cancel:     cancel,
		sessionID:  uuid.NewString(),
	}
	m, err := newMetrics(c)
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	c.metrics = m
	return c, nil
}

// Start opens the selected device and begins listening. A blank
// params.Device falls back to capture.device, then to the first device.
// Device and speaker problems are reported here; the controller stays Idle
// on error.
func (c *Controller) Start(ctx context.Context, params StartParams) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	closed, state, active := c.closed, c.state, c.active
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if state == Listening {
		return ErrListening
	}

	speaker, err := c.resolveSpeaker(params.Speaker, active)
	if err != nil {
		return err
	}
	// Checked again under the write lock once the device is open.
	c.mu.RLock()
	err = c.admit(speaker)
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	selection := params.Device
	if selection == "" {
		selection = c.captureCfg.Device
	}
	dev, err := capture.Resolve(c.source, selection)
	if err != nil {
		return err
	}
	stream, err := c.source.Open(dev, c.format)
	if err != nil {
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: open %q: %v", capture.ErrDeviceUnavailable, dev.Name, err)
	}
	seg, err := capture.NewSegmenter(c.captureCfg)
	if err != nil {
		_ = stream.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(c.ctx)
	r := &run{cancel: cancel, done: make(chan struct{}), device: dev}

	c.mu.Lock()
	if err := c.admit(speaker); err != nil {
		c.mu.Unlock()
		cancel()
		_ = stream.Close()
		return err
	}
	created := c.store.AddSpeaker(speaker)
	c.state = Listening
	c.active = speaker
	c.run = r
	sessionID := c.sessionID
	c.mu.Unlock()

	if created {
		c.emit(Event{Kind: EventSpeaker, SessionID: sessionID, Speaker: speaker, Reason: "added"})
	}
	c.emit(Event{Kind: EventState, SessionID: sessionID, State: Listening, Speaker: speaker, Reason: ReasonStart, Device: dev.Name})
	c.logger.Info("listening started",
		slog.String("session_id", sessionID),
		slog.String("speaker", speaker),
		slog.String("device", dev.Name))

	go c.captureLoop(runCtx, r, stream, seg)
	return nil
}

func (c *Controller) resolveSpeaker(explicit, active string) (string, error) {
	switch {
	case explicit != "":
		return transcript.NormalizeSpeaker(explicit), nil
	case active != "":
		return active, nil
	case c.cfg.RequireSpeaker:
		return "", ErrNoSpeaker
	default:
		return transcript.DefaultSpeaker, nil
	}
}

// admit enforces the speaker cap for a speaker about to be registered.
func (c *Controller) admit(speaker string) error {
	if c.cfg.MaxSpeakers <= 0 {
		return nil
	}
	if _, ok := c.store.Text(speaker); ok {
		return nil
	}
	if c.store.Len() >= c.cfg.MaxSpeakers {
		return fmt.Errorf("%w: %d speakers", ErrSpeakerLimit, c.cfg.MaxSpeakers)
	}
	return nil
}

func (c *Controller) captureLoop(ctx context.Context, r *run, stream capture.Stream, seg capture.Segmenter) {
	defer close(r.done)

	loop := &capture.Loop{
		Stream:    stream,
		Segmenter: seg,
		Format:    c.format,
		Sequence:  &c.seq,
		Clock:     c.clock,
	}
	err := loop.Run(ctx, func(s capture.Segment) { c.dispatch(r, s) })
	if cerr := stream.Close(); cerr != nil {
		c.logger.Warn("failed to close capture stream", slogError(cerr))
	}

	reason := ReasonStop
	switch {
	case errors.Is(err, capture.ErrInactivityTimeout):
		reason = ReasonInactivity
		c.logger.Info("no speech detected, stopping", slog.String("device", r.device.Name))
	case err != nil:
		reason = ReasonDeviceError
		c.logger.Warn("capture loop failed", slogError(err))
	case ctx.Err() == nil:
		reason = ReasonEndOfStream
	}
	c.finishRun(r, reason)
}

func (c *Controller) finishRun(r *run, reason string) {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return
	}
	c.run = nil
	c.state = Idle
	sessionID := c.sessionID
	c.mu.Unlock()
	r.cancel()

	c.emit(Event{Kind: EventState, SessionID: sessionID, State: Idle, Reason: reason, Device: r.device.Name})
	c.logger.Info("listening stopped", slog.String("session_id", sessionID), slog.String("reason", reason))
}

// dispatch runs on the capture goroutine and must not block.
func (c *Controller) dispatch(r *run, seg capture.Segment) {
	c.metrics.segmentCaptured()

	var speaker string
	if c.cfg.SpeakerBinding != "append" {
		speaker = c.ActiveSpeaker()
	}
	sessionID := c.SessionID()

	r.inflight.Add(1)
	c.tasks.Add(1)
	c.pending.Add(1)
	go func() {
		defer c.tasks.Done()
		defer r.inflight.Done()
		defer c.pending.Add(-1)

		out := c.stt.Transcribe(c.ctx, seg)
		c.metrics.transcription(out.Kind)
		switch out.Kind {
		case stt.Recognized:
			if speaker == "" {
				speaker = c.ActiveSpeaker()
			}
			c.appendTranscript(sessionID, transcript.NormalizeSpeaker(speaker), seg.Sequence, out.Text)
		case stt.NoSpeech:
			c.logger.Debug("segment had no speech", slog.Uint64("sequence", seg.Sequence))
		default:
			c.logger.Warn("transcription failed",
				slog.Uint64("sequence", seg.Sequence),
				slog.Duration("latency", out.Latency),
				slogError(out.Err))
		}
	}()
}

func (c *Controller) appendTranscript(sessionID, speaker string, sequence uint64, text string) {
	full := c.store.Append(speaker, text)
	counts := filler.Count(full, c.lexicon)
	snap := c.store.SnapshotCounts(c.lexicon)

	c.emit(Event{Kind: EventTranscript, SessionID: sessionID, Speaker: speaker, Text: text, Sequence: sequence})
	c.emit(Event{Kind: EventCounts, SessionID: sessionID, Speaker: speaker, Counts: counts, Snapshot: &snap})
}

// Stop ends the Listening period. The capture loop exits after its current
// read; with the drain policy Stop also waits for in-flight transcriptions.
// Stop while Idle does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	c.mu.RLock()
	r := c.run
	c.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("stop: waiting for capture loop: %w", ctx.Err())
	}
	if c.cfg.StopPolicy == "detach" {
		return nil
	}
	return c.drain(ctx, r)
}

func (c *Controller) drain(ctx context.Context, r *run) error {
	finished := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(finished)
	}()

	var timeout <-chan time.Time
	if c.cfg.DrainTimeoutMS > 0 {
		timer := time.NewTimer(time.Duration(c.cfg.DrainTimeoutMS) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-finished:
		return nil
	case <-timeout:
		c.logger.Warn("stop returned before all transcriptions finished", slog.Int64("pending", c.pending.Load()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop: draining transcriptions: %w", ctx.Err())
	}
}

// AddSpeaker registers a speaker without changing the active one.
func (c *Controller) AddSpeaker(name string) (string, error) {
	speaker := transcript.NormalizeSpeaker(name)
	c.mu.Lock()
	if err := c.admit(speaker); err != nil {
		c.mu.Unlock()
		return "", err
	}
	created := c.store.AddSpeaker(speaker)
	sessionID := c.sessionID
	c.mu.Unlock()

	if created {
		c.emit(Event{Kind: EventSpeaker, SessionID: sessionID, Speaker: speaker, Reason: "added"})
	}
	return speaker, nil
}

// SwitchSpeaker makes name the active speaker, creating it if needed.
// Segments already dispatched keep the binding policy's speaker.
func (c *Controller) SwitchSpeaker(name string) (string, error) {
	speaker := transcript.NormalizeSpeaker(name)
	c.mu.Lock()
	if err := c.admit(speaker); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.store.AddSpeaker(speaker)
	c.active = speaker
	sessionID := c.sessionID
	c.mu.Unlock()

	c.emit(Event{Kind: EventSpeaker, SessionID: sessionID, Speaker: speaker, Reason: "switched"})
	return speaker, nil
}

// Reset discards all transcripts and begins a new session id.
func (c *Controller) Reset() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state == Listening {
		c.mu.Unlock()
		return ErrListening
	}
	c.store.Reset()
	c.active = ""
	c.sessionID = uuid.NewString()
	sessionID := c.sessionID
	c.mu.Unlock()

	c.emit(Event{Kind: EventState, SessionID: sessionID, State: Idle, Reason: ReasonReset})
	return nil
}

func (c *Controller) Snapshot() transcript.Snapshot {
	return c.store.SnapshotCounts(c.lexicon)
}

// WriteResults writes the current snapshot as TSV.
func (c *Controller) WriteResults(w io.Writer) error {
	return report.WriteTSV(w, c.Snapshot())
}

// Transcript returns the full text recorded for speaker.
func (c *Controller) Transcript(speaker string) (string, bool) {
	return c.store.Text(transcript.NormalizeSpeaker(speaker))
}

func (c *Controller) Lexicon() filler.Lexicon { return c.lexicon }

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) ActiveSpeaker() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		SessionID:     c.sessionID,
		State:         c.state,
		ActiveSpeaker: c.active,
	}
	if c.run != nil {
		st.Device = c.run.device.Name
	}
	c.mu.RUnlock()
	st.Speakers = c.store.Speakers()
	st.Pending = c.pending.Load()
	return st
}

// Devices lists the input devices of the configured source.
func (c *Controller) Devices() ([]capture.DeviceInfo, error) {
	return c.source.Devices()
}

// Events delivers presentation events from a single goroutine. The channel
// is closed by Close after queued events are delivered.
func (c *Controller) Events() <-chan Event {
	return c.events.out
}

// Close stops listening, waits for outstanding transcriptions within ctx,
// and closes the event stream.
func (c *Controller) Close(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var errs []error
	if err := c.stopLocked(ctx); err != nil {
		errs = append(errs, err)
	}

	finished := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("close: abandoning %d transcriptions: %w", c.pending.Load(), ctx.Err()))
	}
	c.cancel()
	c.metrics.close()
	c.events.close()
	return errors.Join(errs...)
}

func (c *Controller) emit(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = c.clock().UTC()
	}
	c.events.push(evt)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
