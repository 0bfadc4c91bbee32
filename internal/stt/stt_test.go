package stt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-fillers/internal/capture"
	"github.com/loqalabs/loqa-fillers/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testSegment() capture.Segment {
	return capture.Segment{Sequence: 1, PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

type recognizerFunc func(ctx context.Context, pcm []byte, sampleRate, channels int) (TranscriptResult, error)

func (f recognizerFunc) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (TranscriptResult, error) {
	return f(ctx, pcm, sampleRate, channels)
}

func TestMockRecognizerRoundRobin(t *testing.T) {
	rec := NewMockRecognizer("um hello", "", "like you know")
	want := []string{"um hello", "", "like you know", "um hello"}
	for i, w := range want {
		res, err := rec.Transcribe(context.Background(), nil, 16000, 1)
		if w == "" {
			if !errors.Is(err, ErrNoSpeech) {
				t.Fatalf("call %d: expected ErrNoSpeech, got %v", i, err)
			}
			continue
		}
		if err != nil || res.Text != w {
			t.Fatalf("call %d: got %q, %v", i, res.Text, err)
		}
	}
}

func TestClientClassifiesOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result TranscriptResult
		err    error
		kind   OutcomeKind
		text   string
	}{
		{name: "recognized", result: TranscriptResult{Text: "  Um I think so "}, kind: Recognized, text: "Um I think so"},
		{name: "blank text", result: TranscriptResult{Text: "   "}, kind: NoSpeech},
		{name: "no speech error", err: ErrNoSpeech, kind: NoSpeech},
		{name: "wrapped no speech", err: errors.Join(errors.New("backend"), ErrNoSpeech), kind: NoSpeech},
		{name: "failure", err: errors.New("503"), kind: TransientFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := NewClient(recognizerFunc(func(context.Context, []byte, int, int) (TranscriptResult, error) {
				return tc.result, tc.err
			}), time.Second, testLogger())
			out := client.Transcribe(context.Background(), testSegment())
			if out.Kind != tc.kind {
				t.Fatalf("expected %v, got %v", tc.kind, out.Kind)
			}
			if out.Text != tc.text {
				t.Fatalf("expected text %q, got %q", tc.text, out.Text)
			}
			if tc.kind == TransientFailure && out.Err == nil {
				t.Fatal("expected error on failure outcome")
			}
		})
	}
}

func TestClientTimeoutIsTransientFailure(t *testing.T) {
	client := NewClient(recognizerFunc(func(ctx context.Context, _ []byte, _, _ int) (TranscriptResult, error) {
		<-ctx.Done()
		return TranscriptResult{}, ctx.Err()
	}), 20*time.Millisecond, testLogger())

	out := client.Transcribe(context.Background(), testSegment())
	if out.Kind != TransientFailure || !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout failure, got %+v", out)
	}
}

func TestHTTPRecognizer(t *testing.T) {
	var gotModel, gotAuth string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotAuth = r.Header.Get("Authorization")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotAudio, _ = io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"um, like, yes"}`)
	}))
	defer srv.Close()

	rec := NewHTTPRecognizer(config.STTConfig{Endpoint: srv.URL, APIKey: "secret", Model: "whisper-1"}, srv.Client())
	res, err := rec.Transcribe(context.Background(), make([]byte, 640), 16000, 1)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "um, like, yes" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if gotModel != "whisper-1" || gotAuth != "Bearer secret" {
		t.Fatalf("unexpected request model=%q auth=%q", gotModel, gotAuth)
	}
	if !strings.HasPrefix(string(gotAudio), "RIFF") {
		t.Fatal("expected a wav upload")
	}
}

func TestHTTPRecognizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(NewHTTPRecognizer(config.STTConfig{Endpoint: srv.URL, Model: "m"}, srv.Client()), time.Second, testLogger())
	out := client.Transcribe(context.Background(), testSegment())
	if out.Kind != TransientFailure || !strings.Contains(out.Err.Error(), "503") {
		t.Fatalf("expected 503 failure, got %+v", out)
	}
}

func TestExecRecognizer(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "stt.sh")
	body := "#!/bin/sh\n[ \"$1\" = \"--audio\" ] && [ -s \"$2\" ] || exit 3\necho '{\"text\":\"uh you know\",\"confidence\":0.5}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	rec, err := NewExecRecognizer(config.STTConfig{Command: "sh " + script})
	if err != nil {
		t.Fatalf("new exec recognizer: %v", err)
	}
	res, err := rec.Transcribe(context.Background(), make([]byte, 640), 16000, 1)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "uh you know" || res.Confidence != 0.5 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := NewExecRecognizer(config.STTConfig{Command: "  "}); err == nil {
		t.Fatal("expected empty command to be rejected")
	}
}

func TestWritePCMToWavRoundTrip(t *testing.T) {
	path, err := writeTempWav([]byte{0x10, 0x00, 0xf0, 0xff}, 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if dec.SampleRate != 16000 || len(buf.Data) != 2 || buf.Data[0] != 16 || buf.Data[1] != -16 {
		t.Fatalf("unexpected decode: rate=%d data=%v", dec.SampleRate, buf.Data)
	}

	if _, err := writeTempWav([]byte{1}, 16000, 1); err == nil {
		t.Fatal("expected odd-length payload to be rejected")
	}
}

func TestEncodeWavInMemory(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(i / 2)
	}
	data, err := encodeWav(pcm, 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) <= len(pcm) {
		t.Fatalf("wav of %d bytes cannot hold %d bytes of pcm", len(data), len(pcm))
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if dec.SampleRate != 16000 || len(buf.Data) != 1600 || buf.Data[10] != 10 || buf.Data[200] != 200 {
		t.Fatalf("unexpected decode: rate=%d n=%d", dec.SampleRate, len(buf.Data))
	}

	if _, err := encodeWav([]byte{1}, 16000, 1); err == nil {
		t.Fatal("expected odd-length payload to be rejected")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	client, err := New(config.STTConfig{Mode: "mock", MockScript: []string{"um"}, TimeoutMS: 1000}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if out := client.Transcribe(context.Background(), testSegment()); out.Kind != Recognized || out.Text != "um" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if _, err := New(config.STTConfig{Mode: "carrier-pigeon"}, testLogger()); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}
