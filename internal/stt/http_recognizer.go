package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-fillers/internal/config"
)

// DefaultEndpoint is the OpenAI transcription endpoint; any server speaking
// the same multipart API works.
const DefaultEndpoint = "https://api.openai.com/v1/audio/transcriptions"

type httpRecognizer struct {
	endpoint string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

type httpResponse struct {
	Text string `json:"text"`
}

func NewHTTPRecognizer(cfg config.STTConfig, client *http.Client) Recognizer {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpRecognizer{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   client,
	}
}

func (r *httpRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error) {
	audioData, err := encodeWav(pcm, sampleRate, channels)
	if err != nil {
		return TranscriptResult{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", r.model); err != nil {
		return TranscriptResult{}, err
	}
	if r.language != "" {
		if err := mw.WriteField("language", r.language); err != nil {
			return TranscriptResult{}, err
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return TranscriptResult{}, err
	}
	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return TranscriptResult{}, err
	}
	if _, err := fw.Write(audioData); err != nil {
		return TranscriptResult{}, err
	}
	if err := mw.Close(); err != nil {
		return TranscriptResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return TranscriptResult{}, err
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TranscriptResult{}, fmt.Errorf("transcription http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode transcription response: %w", err)
	}
	return TranscriptResult{Text: out.Text}, nil
}
