package protocol

import "time"

// TranscriptEvent is published for every recognized segment.
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeakerCounts is one row of a counts snapshot.
type SpeakerCounts struct {
	Speaker string         `json:"speaker"`
	Counts  map[string]int `json:"counts"`
}

// CountsSnapshot carries the full filler table after each append.
type CountsSnapshot struct {
	SessionID string          `json:"session_id"`
	Phrases   []string        `json:"phrases"`
	Rows      []SpeakerCounts `json:"rows"`
	Timestamp time.Time       `json:"timestamp"`
}

// StateChange reports lifecycle and speaker changes.
type StateChange struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Speaker   string    `json:"speaker,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlRequest is the body of every fillers.ctrl.* request. Unused
// fields are ignored by the handler.
type ControlRequest struct {
	Speaker string `json:"speaker,omitempty"`
	Device  string `json:"device,omitempty"`
}

// Device describes an input device offered by the daemon.
type Device struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// Status summarizes the controller.
type Status struct {
	SessionID     string   `json:"session_id"`
	State         string   `json:"state"`
	ActiveSpeaker string   `json:"active_speaker,omitempty"`
	Device        string   `json:"device,omitempty"`
	Speakers      []string `json:"speakers"`
	Pending       int64    `json:"pending"`
	// Backends lists the capture and transcription backends compiled into
	// the daemon, e.g. "capture:portaudio" or "stt:whisper".
	Backends []string `json:"backends,omitempty"`
}

// ControlResponse answers a control request. Error is empty on success.
type ControlResponse struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Status   *Status         `json:"status,omitempty"`
	Speaker  string          `json:"speaker,omitempty"`
	Snapshot *CountsSnapshot `json:"snapshot,omitempty"`
	TSV      string          `json:"tsv,omitempty"`
	Devices  []Device        `json:"devices,omitempty"`
}

const (
	SubjectTranscript = "fillers.transcript"
	SubjectCounts     = "fillers.counts"
	SubjectState      = "fillers.state"

	SubjectControlPrefix  = "fillers.ctrl"
	SubjectControlStart   = SubjectControlPrefix + ".start"
	SubjectControlStop    = SubjectControlPrefix + ".stop"
	SubjectControlAdd     = SubjectControlPrefix + ".speaker.add"
	SubjectControlSwitch  = SubjectControlPrefix + ".speaker.switch"
	SubjectControlReset   = SubjectControlPrefix + ".reset"
	SubjectControlResults = SubjectControlPrefix + ".results"
	SubjectControlStatus  = SubjectControlPrefix + ".status"
	SubjectControlDevices = SubjectControlPrefix + ".devices"
)
