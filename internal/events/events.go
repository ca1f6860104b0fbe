package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cp818/scribe/internal/note"
	"github.com/cp818/scribe/internal/transcript"
)

// Kind identifies the event type on the presentation feed.
type Kind string

// Event kinds emitted to the presentation layer.
const (
	// KindSession announces a session lifecycle transition.
	KindSession Kind = "session"

	// KindTranscript announces transcript growth.
	KindTranscript Kind = "transcript"

	// KindNote carries the latest complete committed note.
	KindNote Kind = "note"

	// KindDone terminates one regeneration round, success or failure.
	KindDone Kind = "done"

	// KindError reports an absorbed, non-fatal pipeline failure.
	KindError Kind = "error"
)

// Envelope is the wire representation of one feed event.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionPayload announces a lifecycle transition.
type SessionPayload struct {
	State string `json:"state"`
}

// TranscriptPayload announces one applied transcript segment.
type TranscriptPayload struct {
	SequenceIndex int    `json:"sequence_index"`
	Text          string `json:"text"`
	FullText      string `json:"full_text"`
}

// NotePayload carries a committed note.
type NotePayload struct {
	Note note.Note `json:"note"`
}

// DonePayload terminates one regeneration round.
type DonePayload struct {
	Token  string `json:"token"`
	Status string `json:"status"` // "committed" or "failed"
	Detail string `json:"detail,omitempty"`
}

// ErrorPayload reports an absorbed failure.
type ErrorPayload struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

// Done statuses.
const (
	DoneCommitted = "committed"
	DoneFailed    = "failed"
)

// New builds an envelope around a payload.
func New(kind Kind, sessionID string, seq uint64, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	return Envelope{
		Kind:      kind,
		SessionID: sessionID,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// Validate checks envelope well-formedness before it goes on the wire.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindSession, KindTranscript, KindNote, KindDone, KindError:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}

	if e.SessionID == "" {
		return fmt.Errorf("session_id cannot be empty")
	}

	if len(e.Payload) == 0 {
		return fmt.Errorf("payload cannot be empty")
	}

	if !json.Valid(e.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}

	return nil
}

// Segment is a convenience constructor for transcript events.
func Segment(sessionID string, seq uint64, segment transcript.Segment, fullText string) (Envelope, error) {
	return New(KindTranscript, sessionID, seq, TranscriptPayload{
		SequenceIndex: segment.SequenceIndex,
		Text:          segment.Text,
		FullText:      fullText,
	})
}
