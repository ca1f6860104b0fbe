package events

import (
	"encoding/json"
	"testing"

	"github.com/cp818/scribe/internal/transcript"
)

func TestNewEnvelope(t *testing.T) {
	env, err := New(KindSession, "sess-1", 1, SessionPayload{State: "recording"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := env.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
	if env.Kind != KindSession || env.SessionID != "sess-1" || env.Seq != 1 {
		t.Errorf("envelope fields wrong: %+v", env)
	}
	if env.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	var payload SessionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload does not round-trip: %v", err)
	}
	if payload.State != "recording" {
		t.Errorf("State = %q", payload.State)
	}
}

func TestSegmentEnvelope(t *testing.T) {
	seg := transcript.Segment{SequenceIndex: 3, Text: "hello"}
	env, err := Segment("sess-1", 7, seg, "full text hello")
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	var payload TranscriptPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("payload does not decode: %v", err)
	}
	if payload.SequenceIndex != 3 || payload.Text != "hello" || payload.FullText != "full text hello" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"unknown kind", Envelope{Kind: "bogus", SessionID: "s", Payload: json.RawMessage(`{}`)}},
		{"empty session", Envelope{Kind: KindNote, Payload: json.RawMessage(`{}`)}},
		{"empty payload", Envelope{Kind: KindNote, SessionID: "s"}},
		{"invalid payload", Envelope{Kind: KindNote, SessionID: "s", Payload: json.RawMessage(`{broken`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.env.Validate(); err == nil {
				t.Error("invalid envelope accepted")
			}
		})
	}
}
