package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	// PrometheusBind adds a dedicated metrics listener; /metrics is always
	// served on the main HTTP server.
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Capture     CaptureConfig    `yaml:"capture"`
	STT         STTConfig        `yaml:"stt"`
	Session     SessionConfig    `yaml:"session"`
}

type BusConfig struct {
	Embedded bool   `yaml:"embedded"`
	Port     int    `yaml:"port"`
	StoreDir string `yaml:"store_dir"`
	// Stream names the JetStream stream that retains fillers.* events;
	// empty disables retention.
	Stream         string   `yaml:"stream"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// CaptureConfig selects the audio source and how its stream is cut into
// segments.
type CaptureConfig struct {
	Backend             string   `yaml:"backend"` // wav, portaudio
	Device              string   `yaml:"device"`
	WAVFiles            []string `yaml:"wav_files"`
	Realtime            bool     `yaml:"realtime"`
	SampleRate          int      `yaml:"sample_rate"`
	Channels            int      `yaml:"channels"`
	FrameDurationMS     int      `yaml:"frame_duration_ms"`
	Segmentation        string   `yaml:"segmentation"` // fixed, silence
	SegmentMS           int      `yaml:"segment_ms"`
	PhraseLimitMS       int      `yaml:"phrase_limit_ms"`
	EndSilenceMS        int      `yaml:"end_silence_ms"`
	InactivityTimeoutMS int      `yaml:"inactivity_timeout_ms"`
	EnergyThreshold     float64  `yaml:"energy_threshold"`
}

type STTConfig struct {
	Mode       string   `yaml:"mode"` // mock, exec, http, whisper
	Command    string   `yaml:"command"`
	Endpoint   string   `yaml:"endpoint"`
	APIKey     string   `yaml:"api_key"`
	Model      string   `yaml:"model"`
	ModelPath  string   `yaml:"model_path"`
	Language   string   `yaml:"language"`
	TimeoutMS  int      `yaml:"timeout_ms"`
	MockScript []string `yaml:"mock_script"`
}

// SessionConfig governs speaker handling and stop semantics.
type SessionConfig struct {
	Lexicon        []string `yaml:"lexicon"`
	RequireSpeaker bool     `yaml:"require_speaker"`
	MaxSpeakers    int      `yaml:"max_speakers"`
	SpeakerBinding string   `yaml:"speaker_binding"` // capture, append
	StopPolicy     string   `yaml:"stop_policy"`     // drain, detach
	DrainTimeoutMS int      `yaml:"drain_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-fillers",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Stream:         "FILLERS",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/fillers-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Capture: CaptureConfig{
			Backend:             "wav",
			SampleRate:          16000,
			Channels:            1,
			FrameDurationMS:     20,
			Segmentation:        "silence",
			SegmentMS:           5000,
			PhraseLimitMS:       5000,
			EndSilenceMS:        800,
			InactivityTimeoutMS: 60000,
			EnergyThreshold:     300,
		},
		STT: STTConfig{
			Mode:      "mock",
			Model:     "whisper-1",
			Language:  "en",
			TimeoutMS: 15000,
		},
		Session: SessionConfig{
			SpeakerBinding: "capture",
			StopPolicy:     "drain",
			DrainTimeoutMS: 20000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "FILLERS_RUNTIME_NAME")
	overrideString(&cfg.Environment, "FILLERS_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "FILLERS_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "FILLERS_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "FILLERS_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "FILLERS_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "FILLERS_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "FILLERS_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "FILLERS_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "FILLERS_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "FILLERS_BUS_STORE_DIR")
	overrideString(&cfg.Bus.Stream, "FILLERS_BUS_STREAM")
	overrideStringSlice(&cfg.Bus.Servers, "FILLERS_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "FILLERS_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "FILLERS_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "FILLERS_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "FILLERS_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "FILLERS_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "FILLERS_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "FILLERS_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "FILLERS_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "FILLERS_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "FILLERS_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Capture.Backend, "FILLERS_CAPTURE_BACKEND")
	overrideString(&cfg.Capture.Device, "FILLERS_CAPTURE_DEVICE")
	overrideStringSlice(&cfg.Capture.WAVFiles, "FILLERS_CAPTURE_WAV_FILES")
	overrideBool(&cfg.Capture.Realtime, "FILLERS_CAPTURE_REALTIME")
	overrideInt(&cfg.Capture.SampleRate, "FILLERS_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "FILLERS_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameDurationMS, "FILLERS_CAPTURE_FRAME_DURATION_MS")
	overrideString(&cfg.Capture.Segmentation, "FILLERS_CAPTURE_SEGMENTATION")
	overrideInt(&cfg.Capture.SegmentMS, "FILLERS_CAPTURE_SEGMENT_MS")
	overrideInt(&cfg.Capture.PhraseLimitMS, "FILLERS_CAPTURE_PHRASE_LIMIT_MS")
	overrideInt(&cfg.Capture.EndSilenceMS, "FILLERS_CAPTURE_END_SILENCE_MS")
	overrideInt(&cfg.Capture.InactivityTimeoutMS, "FILLERS_CAPTURE_INACTIVITY_TIMEOUT_MS")
	overrideFloat(&cfg.Capture.EnergyThreshold, "FILLERS_CAPTURE_ENERGY_THRESHOLD")
	overrideString(&cfg.STT.Mode, "FILLERS_STT_MODE")
	overrideString(&cfg.STT.Command, "FILLERS_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "FILLERS_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "FILLERS_STT_API_KEY")
	overrideString(&cfg.STT.Model, "FILLERS_STT_MODEL")
	overrideString(&cfg.STT.ModelPath, "FILLERS_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "FILLERS_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "FILLERS_STT_TIMEOUT_MS")
	overrideStringSlice(&cfg.Session.Lexicon, "FILLERS_SESSION_LEXICON")
	overrideBool(&cfg.Session.RequireSpeaker, "FILLERS_SESSION_REQUIRE_SPEAKER")
	overrideInt(&cfg.Session.MaxSpeakers, "FILLERS_SESSION_MAX_SPEAKERS")
	overrideString(&cfg.Session.SpeakerBinding, "FILLERS_SESSION_SPEAKER_BINDING")
	overrideString(&cfg.Session.StopPolicy, "FILLERS_SESSION_STOP_POLICY")
	overrideInt(&cfg.Session.DrainTimeoutMS, "FILLERS_SESSION_DRAIN_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if err := validateCapture(cfg.Capture); err != nil {
		return err
	}
	if err := validateSTT(cfg.STT); err != nil {
		return err
	}
	return validateSession(cfg.Session)
}

func validateCapture(c CaptureConfig) error {
	switch c.Backend {
	case "wav", "portaudio":
	default:
		return errors.New("capture.backend must be one of wav|portaudio")
	}
	switch c.SampleRate {
	case 16000, 24000:
	default:
		return errors.New("capture.sample_rate must be 16000 or 24000")
	}
	if c.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if c.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	switch c.Segmentation {
	case "fixed":
		if c.SegmentMS < c.FrameDurationMS {
			return errors.New("capture.segment_ms must be at least one frame")
		}
	case "silence":
		if c.PhraseLimitMS < c.FrameDurationMS {
			return errors.New("capture.phrase_limit_ms must be at least one frame")
		}
		if c.EndSilenceMS <= 0 {
			return errors.New("capture.end_silence_ms must be positive")
		}
		if c.InactivityTimeoutMS < 0 {
			return errors.New("capture.inactivity_timeout_ms must be >= 0")
		}
		if c.EnergyThreshold < 0 {
			return errors.New("capture.energy_threshold must be >= 0")
		}
	default:
		return errors.New("capture.segmentation must be one of fixed|silence")
	}
	return nil
}

func validateSTT(c STTConfig) error {
	switch c.Mode {
	case "mock", "exec", "http", "whisper":
	default:
		return errors.New("stt.mode must be one of mock|exec|http|whisper")
	}
	if c.Mode == "exec" && c.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if c.Mode == "http" && c.Endpoint == "" {
		return errors.New("stt.endpoint must be set when mode=http")
	}
	if c.Mode == "whisper" && c.ModelPath == "" {
		return errors.New("stt.model_path must be set when mode=whisper")
	}
	if c.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	return nil
}

func validateSession(c SessionConfig) error {
	for i, phrase := range c.Lexicon {
		if strings.TrimSpace(phrase) == "" {
			return fmt.Errorf("session.lexicon[%d] must not be empty", i)
		}
	}
	if c.MaxSpeakers < 0 {
		return errors.New("session.max_speakers must be >= 0")
	}
	switch c.SpeakerBinding {
	case "capture", "append":
	default:
		return errors.New("session.speaker_binding must be one of capture|append")
	}
	switch c.StopPolicy {
	case "drain", "detach":
	default:
		return errors.New("session.stop_policy must be one of drain|detach")
	}
	if c.DrainTimeoutMS < 0 {
		return errors.New("session.drain_timeout_ms must be >= 0")
	}
	return nil
}
