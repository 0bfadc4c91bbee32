package session

import (
	"time"

	"github.com/loqalabs/loqa-fillers/internal/filler"
	"github.com/loqalabs/loqa-fillers/internal/transcript"
)

// State is the controller lifecycle state.
type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

type EventKind string

const (
	// EventTranscript carries one recognized segment and the speaker it was
	// appended to.
	EventTranscript EventKind = "transcript"
	// EventCounts follows every transcript event with a fresh snapshot.
	EventCounts  EventKind = "counts"
	EventState   EventKind = "state"
	EventSpeaker EventKind = "speaker"
)

// State change reasons.
const (
	ReasonStart       = "start"
	ReasonStop        = "stop"
	ReasonInactivity  = "inactivity"
	ReasonEndOfStream = "end_of_stream"
	ReasonDeviceError = "device_error"
	ReasonReset       = "reset"
)

// Event is delivered to presentation consumers through Controller.Events.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	SessionID string
	Time      time.Time

	Speaker  string
	Text     string
	Sequence uint64
	Counts   filler.Counts
	Snapshot *transcript.Snapshot

	State  State
	Reason string
	Device string
}
