package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/bus"
	"github.com/loqalabs/loqa-fillers/internal/config"
	"github.com/loqalabs/loqa-fillers/internal/control"
	"github.com/loqalabs/loqa-fillers/internal/protocol"
	"github.com/loqalabs/loqa-fillers/internal/report"
)

var version = "0.1.0-dev"

const usage = `usage: fillerctl [-server url] [-timeout d] <command> [flags]

commands:
  start    [-speaker name] [-device name|index]
  stop
  add      -speaker name
  switch   -speaker name
  reset
  status
  results  [-tsv]
  devices
  watch    [-replay]
  version`

func main() {
	var (
		server  string
		timeout time.Duration
	)
	flag.StringVar(&server, "server", envOr("FILLERS_BUS_SERVERS", "nats://localhost:4222"), "NATS server URL of the daemon")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := bus.Connect(ctx, config.BusConfig{
		Servers:        strings.Split(server, ","),
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	if err := run(ctx, client, timeout, args[0], args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		client.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, client *bus.Client, timeout time.Duration, cmd string, args []string, out io.Writer) error {
	if cmd == "watch" {
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		replay := fs.Bool("replay", false, "Replay retained events from the event stream first")
		fs.Parse(args)
		return watch(ctx, client, *replay, out)
	}

	ctrl := control.NewClient(client)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch cmd {
	case "start":
		fs := flag.NewFlagSet("start", flag.ExitOnError)
		speaker := fs.String("speaker", "", "Speaker to attribute speech to")
		device := fs.String("device", "", "Input device name or index")
		fs.Parse(args)
		resp, err := ctrl.Start(reqCtx, *speaker, *device)
		if err != nil {
			return err
		}
		printStatus(out, resp.Status)
	case "stop":
		resp, err := ctrl.Stop(reqCtx)
		if err != nil {
			return err
		}
		printStatus(out, resp.Status)
	case "add", "switch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		speaker := fs.String("speaker", "", "Speaker name")
		fs.Parse(args)
		if *speaker == "" && fs.NArg() > 0 {
			*speaker = strings.Join(fs.Args(), " ")
		}
		var (
			resp protocol.ControlResponse
			err  error
		)
		if cmd == "add" {
			resp, err = ctrl.AddSpeaker(reqCtx, *speaker)
		} else {
			resp, err = ctrl.SwitchSpeaker(reqCtx, *speaker)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "speaker %s\n", resp.Speaker)
	case "reset":
		resp, err := ctrl.Reset(reqCtx)
		if err != nil {
			return err
		}
		printStatus(out, resp.Status)
	case "status":
		resp, err := ctrl.Status(reqCtx)
		if err != nil {
			return err
		}
		printStatus(out, resp.Status)
	case "results":
		fs := flag.NewFlagSet("results", flag.ExitOnError)
		tsv := fs.Bool("tsv", false, "Print tab-separated values instead of a table")
		fs.Parse(args)
		resp, err := ctrl.Results(reqCtx)
		if err != nil {
			return err
		}
		return printResults(out, resp, *tsv)
	case "devices":
		resp, err := ctrl.Devices(reqCtx)
		if err != nil {
			return err
		}
		for _, d := range resp.Devices {
			fmt.Fprintf(out, "%d\t%s\n", d.Index, d.Name)
		}
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	return nil
}

func printStatus(out io.Writer, st *protocol.Status) {
	if st == nil {
		return
	}
	fmt.Fprintf(out, "session  %s\nstate    %s\n", st.SessionID, st.State)
	if st.ActiveSpeaker != "" {
		fmt.Fprintf(out, "speaker  %s\n", st.ActiveSpeaker)
	}
	if st.Device != "" {
		fmt.Fprintf(out, "device   %s\n", st.Device)
	}
	fmt.Fprintf(out, "speakers %s\npending  %d\n", strings.Join(st.Speakers, ", "), st.Pending)
	if len(st.Backends) > 0 {
		fmt.Fprintf(out, "backends %s\n", strings.Join(st.Backends, ", "))
	}
}

func printResults(out io.Writer, resp protocol.ControlResponse, tsv bool) error {
	if tsv || resp.Snapshot == nil {
		_, err := io.WriteString(out, resp.TSV)
		return err
	}
	snap, err := resp.Snapshot.Snapshot()
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	_, err = fmt.Fprintln(out, report.Table(snap))
	return err
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
