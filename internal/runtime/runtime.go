package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/bus"
	"github.com/loqalabs/loqa-fillers/internal/capture"
	"github.com/loqalabs/loqa-fillers/internal/config"
	"github.com/loqalabs/loqa-fillers/internal/control"
	"github.com/loqalabs/loqa-fillers/internal/eventstore"
	"github.com/loqalabs/loqa-fillers/internal/natsserver"
	"github.com/loqalabs/loqa-fillers/internal/protocol"
	"github.com/loqalabs/loqa-fillers/internal/relay"
	"github.com/loqalabs/loqa-fillers/internal/session"
	"github.com/loqalabs/loqa-fillers/internal/stt"
)

// Options adjust a single daemon run.
type Options struct {
	// Listen starts a session as soon as the runtime is up.
	Listen  bool
	Speaker string
	Device  string
	// ResultsPath receives the final TSV table on shutdown when set.
	ResultsPath string
}

type Runtime struct {
	cfg         config.Config
	opts        Options
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	addr        atomic.Value
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Runtime {
	return &Runtime{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
}

// Start wires every component, serves HTTP, and blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	busClient, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	defer busClient.Close()
	if busCfg.Stream != "" {
		subjects := []string{protocol.SubjectTranscript, protocol.SubjectCounts, protocol.SubjectState}
		if err := busClient.EnsureStream(busCfg.Stream, subjects, 7*24*time.Hour); err != nil {
			r.logger.Warn("event stream unavailable", slog.String("error", err.Error()))
		}
	}

	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return err
	}
	defer events.Close()
	go events.RunPruner(ctx, time.Hour)

	source, err := capture.NewSource(r.cfg.Capture)
	if err != nil {
		return fmt.Errorf("capture source: %w", err)
	}
	defer capture.CloseSource(source)

	transcriber, err := stt.New(r.cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("stt backend: %w", err)
	}
	defer transcriber.Close()

	ctrl, err := session.New(r.cfg, source, transcriber, r.logger)
	if err != nil {
		return err
	}

	rl := relay.New(r.logger,
		relay.NewBusSink(busClient),
		relay.NewStoreSink(events),
		relay.NewLogSink(r.logger),
	)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		rl.Run(context.Background(), ctrl.Events())
	}()

	drain := time.Duration(r.cfg.Session.DrainTimeoutMS)*time.Millisecond + 5*time.Second
	ctl := control.NewService(ctx, busClient, ctrl, drain, r.logger)
	if err := ctl.Start(); err != nil {
		_ = ctrl.Close(context.Background())
		<-relayDone
		return err
	}

	mux := newMux(handlers{
		ctrl:    ctrl,
		events:  events,
		metrics: metricsHandler,
		ready:   func() bool { return r.ready.Load() && busClient.Healthy() && ctl.Healthy() },
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := r.serve(r.httpServer, "http"); err != nil {
		ctl.Close()
		_ = ctrl.Close(context.Background())
		<-relayDone
		return err
	}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		if err := r.serve(r.metricsSrv, "metrics"); err != nil {
			r.logger.Warn("metrics listener unavailable", slog.String("error", err.Error()))
			r.metricsSrv = nil
		}
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", r.Addr()))

	if r.opts.Listen {
		if err := ctrl.Start(ctx, session.StartParams{Speaker: r.opts.Speaker, Device: r.opts.Device}); err != nil {
			r.logger.Error("failed to start listening", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), drain+5*time.Second)
	defer cancelShutdown()

	var errs []error
	for _, srv := range []*http.Server{r.httpServer, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	r.wg.Wait()

	ctl.Close()
	if err := ctrl.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	<-relayDone

	if r.opts.ResultsPath != "" {
		if err := writeResultsFile(r.opts.ResultsPath, ctrl); err != nil {
			errs = append(errs, err)
		} else {
			r.logger.Info("results written", slog.String("path", r.opts.ResultsPath))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return errors.Join(errs...)
}

// serve binds synchronously so the bound address is known before Start
// reports readiness.
func (r *Runtime) serve(srv *http.Server, name string) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("%s listen on %s: %w", name, srv.Addr, err)
	}
	if name == "http" {
		r.addr.Store(ln.Addr().String())
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr is the bound HTTP address once the runtime is ready.
func (r *Runtime) Addr() string {
	if v, ok := r.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Ready reports whether Start has finished wiring.
func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

func writeResultsFile(path string, ctrl *session.Controller) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	if err := ctrl.WriteResults(f); err != nil {
		f.Close()
		return fmt.Errorf("write results: %w", err)
	}
	return f.Close()
}
