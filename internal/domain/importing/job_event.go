package importing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verb is the row-level change that produced a job event.
type Verb string

const (
	VerbInsert Verb = "INSERT"
	VerbUpdate Verb = "UPDATE"
	VerbDelete Verb = "DELETE"
)

func (v Verb) valid() bool {
	return v == VerbInsert || v == VerbUpdate || v == VerbDelete
}

// EventNameHeartbeat is the named SSE event carrying liveness only.
const EventNameHeartbeat = "heartbeat"

// Control message types that carry no state change.
const (
	controlConnectionEstablished = "connection_established"
	controlHeartbeat             = "heartbeat"
)

// StreamEvent is one message as delivered by an event stream transport,
// before any interpretation. Name is empty for default (unnamed) messages.
type StreamEvent struct {
	Name string
	ID   string
	Data string
}

// IsEmpty reports whether the payload is blank.
func (e StreamEvent) IsEmpty() bool { return strings.TrimSpace(e.Data) == "" }

// IsHeartbeat reports whether the transport delivered a dedicated heartbeat event.
func (e StreamEvent) IsHeartbeat() bool { return e.Name == EventNameHeartbeat }

// JobEvent is a parsed row change for one import job.
type JobEvent struct {
	Verb  Verb
	JobID int64
	Patch JobPatch
}

type wireJobEvent struct {
	Type      string          `json:"type,omitempty"`
	Verb      Verb            `json:"verb,omitempty"`
	ImportJob json.RawMessage `json:"import_job"`
}

// ParseJobEvent interprets a default stream message payload.
//
// It returns ErrControlMessage for connection and heartbeat notices, and an
// error wrapping ErrMalformedEvent when the payload is not JSON or lacks the
// {verb, import_job} shape.
func ParseJobEvent(data string) (JobEvent, error) {
	var w wireJobEvent
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return JobEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if w.Type == controlConnectionEstablished || w.Type == controlHeartbeat {
		return JobEvent{}, ErrControlMessage
	}

	if w.Verb == "" || len(w.ImportJob) == 0 || string(w.ImportJob) == "null" {
		return JobEvent{}, fmt.Errorf("%w: missing verb or import_job", ErrMalformedEvent)
	}
	if !w.Verb.valid() {
		return JobEvent{}, fmt.Errorf("%w: unknown verb %q", ErrMalformedEvent, w.Verb)
	}

	var patch JobPatch
	if err := json.Unmarshal(w.ImportJob, &patch); err != nil {
		return JobEvent{}, fmt.Errorf("%w: import_job is not an object: %v", ErrMalformedEvent, err)
	}

	id, ok := patch.ID()
	if !ok {
		return JobEvent{}, fmt.Errorf("%w: import_job has no numeric id", ErrMalformedEvent)
	}

	return JobEvent{Verb: w.Verb, JobID: id, Patch: patch}, nil
}

// EncodeJobEvent renders a job event in the wire shape ParseJobEvent accepts.
func EncodeJobEvent(verb Verb, job json.RawMessage) (string, error) {
	data, err := json.Marshal(wireJobEvent{Verb: verb, ImportJob: job})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
