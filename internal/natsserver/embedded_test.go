package natsserver

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-fillers/internal/config"
	"github.com/nats-io/nats.go"
)

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || srv != nil {
		t.Fatalf("expected no server when embedded mode is off, got %v %v", srv, err)
	}
	srv.Shutdown()
}

func TestStartServesClients(t *testing.T) {
	srv, err := Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect %s: %v", srv.ClientURL(), err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("fillers.test")
	if err != nil {
		t.Fatal(err)
	}
	if err := nc.Publish("fillers.test", []byte("um")); err != nil {
		t.Fatal(err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil || string(msg.Data) != "um" {
		t.Fatalf("unexpected message %v %v", msg, err)
	}
}
