package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.SpeakerBinding != "capture" || cfg.Session.StopPolicy != "drain" {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Fatalf("expected 16kHz default, got %d", cfg.Capture.SampleRate)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fillers.yaml")
	data := []byte(`runtime_name: test-runtime
capture:
  backend: wav
  wav_files: [a.wav, b.wav]
  segmentation: fixed
  segment_ms: 3000
stt:
  mode: exec
  command: "whisper-cli --json"
session:
  lexicon: [um, "you know"]
  require_speaker: true
  max_speakers: 4
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "test-runtime" {
		t.Fatalf("expected runtime name override, got %q", cfg.RuntimeName)
	}
	if len(cfg.Capture.WAVFiles) != 2 || cfg.Capture.Segmentation != "fixed" || cfg.Capture.SegmentMS != 3000 {
		t.Fatalf("unexpected capture config: %+v", cfg.Capture)
	}
	if cfg.Capture.FrameDurationMS != 20 {
		t.Fatalf("expected defaults kept for unset keys, got %d", cfg.Capture.FrameDurationMS)
	}
	if !cfg.Session.RequireSpeaker || cfg.Session.MaxSpeakers != 4 || len(cfg.Session.Lexicon) != 2 {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FILLERS_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("FILLERS_BUS_USERNAME", "alice")
	t.Setenv("FILLERS_BUS_PASSWORD", "secret")
	t.Setenv("FILLERS_BUS_TLS_INSECURE", "true")
	t.Setenv("FILLERS_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("FILLERS_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("FILLERS_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("FILLERS_CAPTURE_SAMPLE_RATE", "24000")
	t.Setenv("FILLERS_CAPTURE_ENERGY_THRESHOLD", "450.5")
	t.Setenv("FILLERS_STT_MODE", "http")
	t.Setenv("FILLERS_STT_ENDPOINT", "http://localhost:9000/v1/audio/transcriptions")
	t.Setenv("FILLERS_SESSION_LEXICON", "um, uh ,like")
	t.Setenv("FILLERS_SESSION_SPEAKER_BINDING", "append")
	t.Setenv("FILLERS_SESSION_STOP_POLICY", "detach")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Capture.SampleRate != 24000 || cfg.Capture.EnergyThreshold != 450.5 {
		t.Fatalf("expected capture overrides, got %+v", cfg.Capture)
	}
	if cfg.STT.Mode != "http" {
		t.Fatalf("expected stt mode override")
	}
	if len(cfg.Session.Lexicon) != 3 || cfg.Session.Lexicon[1] != "uh" {
		t.Fatalf("expected lexicon override, got %v", cfg.Session.Lexicon)
	}
	if cfg.Session.SpeakerBinding != "append" || cfg.Session.StopPolicy != "detach" {
		t.Fatalf("expected session overrides, got %+v", cfg.Session)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad sample rate":   func(c *Config) { c.Capture.SampleRate = 44100 },
		"bad segmentation":  func(c *Config) { c.Capture.Segmentation = "vad" },
		"bad backend":       func(c *Config) { c.Capture.Backend = "alsa" },
		"exec no command":   func(c *Config) { c.STT.Mode = "exec" },
		"http no endpoint":  func(c *Config) { c.STT.Mode = "http" },
		"blank lexicon":     func(c *Config) { c.Session.Lexicon = []string{"um", " "} },
		"bad binding":       func(c *Config) { c.Session.SpeakerBinding = "never" },
		"bad stop policy":   func(c *Config) { c.Session.StopPolicy = "kill" },
		"negative speakers": func(c *Config) { c.Session.MaxSpeakers = -1 },
		"bad retention":     func(c *Config) { c.EventStore.RetentionMode = "forever" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
