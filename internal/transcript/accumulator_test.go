package transcript

import (
	"errors"
	"testing"
)

func TestApplyInOrder(t *testing.T) {
	a := NewAccumulator(8)

	segments := []Segment{
		{SequenceIndex: 0, Text: "Patient presents"},
		{SequenceIndex: 1, Text: "with chest pain"},
		{SequenceIndex: 2, Text: "since this morning."},
	}

	for _, seg := range segments {
		grew, err := a.Apply(seg)
		if err != nil {
			t.Fatalf("Apply(%d) failed: %v", seg.SequenceIndex, err)
		}
		if !grew {
			t.Errorf("Apply(%d) should report growth", seg.SequenceIndex)
		}
	}

	want := "Patient presents with chest pain since this morning."
	if got := a.CurrentText(); got != want {
		t.Errorf("CurrentText() = %q, want %q", got, want)
	}
}

func TestApplyOutOfOrder(t *testing.T) {
	a := NewAccumulator(8)

	// Index 1 arrives first and must be buffered, not committed.
	if _, err := a.Apply(Segment{SequenceIndex: 1, Text: "has"}); err != nil {
		t.Fatalf("Apply(1) failed: %v", err)
	}
	if a.CurrentText() != "" {
		t.Errorf("transcript should be empty while index 0 is missing, got %q", a.CurrentText())
	}
	if a.PendingCount() != 1 {
		t.Errorf("PendingCount() = %d, want 1", a.PendingCount())
	}

	// Index 0 fills the gap; both commit in index order.
	if _, err := a.Apply(Segment{SequenceIndex: 0, Text: "Patient"}); err != nil {
		t.Fatalf("Apply(0) failed: %v", err)
	}
	if _, err := a.Apply(Segment{SequenceIndex: 2, Text: "a fever."}); err != nil {
		t.Fatalf("Apply(2) failed: %v", err)
	}

	want := "Patient has a fever."
	if got := a.CurrentText(); got != want {
		t.Errorf("CurrentText() = %q, want %q", got, want)
	}
	if a.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", a.PendingCount())
	}
}

func TestApplyIdempotent(t *testing.T) {
	a := NewAccumulator(8)

	if _, err := a.Apply(Segment{SequenceIndex: 0, Text: "hello"}); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	grew, err := a.Apply(Segment{SequenceIndex: 0, Text: "hello"})
	if err != nil {
		t.Fatalf("idempotent re-apply failed: %v", err)
	}
	if grew {
		t.Error("re-apply of an identical segment should not report growth")
	}
	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
}

func TestApplyConflict(t *testing.T) {
	a := NewAccumulator(8)

	if _, err := a.Apply(Segment{SequenceIndex: 0, Text: "hello"}); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	_, err := a.Apply(Segment{SequenceIndex: 0, Text: "goodbye"})
	if !errors.Is(err, ErrSegmentConflict) {
		t.Errorf("conflicting re-apply: got %v, want ErrSegmentConflict", err)
	}

	// Buffered segments conflict the same way.
	if _, err := a.Apply(Segment{SequenceIndex: 5, Text: "five"}); err != nil {
		t.Fatalf("Apply(5) failed: %v", err)
	}
	_, err = a.Apply(Segment{SequenceIndex: 5, Text: "FIVE"})
	if !errors.Is(err, ErrSegmentConflict) {
		t.Errorf("conflicting buffered re-apply: got %v, want ErrSegmentConflict", err)
	}
}

func TestApplyNegativeIndex(t *testing.T) {
	a := NewAccumulator(8)
	if _, err := a.Apply(Segment{SequenceIndex: -1, Text: "bad"}); err == nil {
		t.Error("negative sequence index should be rejected")
	}
}

func TestEmptySegmentsContributeNothing(t *testing.T) {
	a := NewAccumulator(8)

	grew, err := a.Apply(Segment{SequenceIndex: 0, Text: ""})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if grew {
		t.Error("empty segment should not report growth")
	}

	if _, err := a.Apply(Segment{SequenceIndex: 1, Text: "  "}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := a.Apply(Segment{SequenceIndex: 2, Text: "word"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := a.CurrentText(); got != "word" {
		t.Errorf("CurrentText() = %q, want %q", got, "word")
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d, want 3: empty segments still occupy positions", a.Len())
	}
}

func TestEmptySegmentFillsGap(t *testing.T) {
	a := NewAccumulator(8)

	// A failed transcription contributes empty text but must still
	// unblock the segments buffered behind it.
	if _, err := a.Apply(Segment{SequenceIndex: 1, Text: "after"}); err != nil {
		t.Fatalf("Apply(1) failed: %v", err)
	}
	if _, err := a.Apply(Segment{SequenceIndex: 0, Text: ""}); err != nil {
		t.Fatalf("Apply(0) failed: %v", err)
	}

	if got := a.CurrentText(); got != "after" {
		t.Errorf("CurrentText() = %q, want %q", got, "after")
	}
}

func TestToleranceFlush(t *testing.T) {
	a := NewAccumulator(2)

	// Index 0 never arrives; buffer fills past the tolerance.
	if _, err := a.Apply(Segment{SequenceIndex: 2, Text: "two"}); err != nil {
		t.Fatalf("Apply(2) failed: %v", err)
	}
	if _, err := a.Apply(Segment{SequenceIndex: 1, Text: "one"}); err != nil {
		t.Fatalf("Apply(1) failed: %v", err)
	}
	if a.OrderingViolations() != 0 {
		t.Fatalf("no flush expected yet, violations = %d", a.OrderingViolations())
	}

	if _, err := a.Apply(Segment{SequenceIndex: 3, Text: "three"}); err != nil {
		t.Fatalf("Apply(3) failed: %v", err)
	}

	// Flush commits buffered segments in arrival order, skipping index 0.
	want := "two one three"
	if got := a.CurrentText(); got != want {
		t.Errorf("CurrentText() = %q, want %q", got, want)
	}
	if a.OrderingViolations() != 1 {
		t.Errorf("OrderingViolations() = %d, want 1", a.OrderingViolations())
	}
	if a.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", a.PendingCount())
	}
}

func TestLateSegmentAfterFlush(t *testing.T) {
	a := NewAccumulator(1)

	if _, err := a.Apply(Segment{SequenceIndex: 1, Text: "one"}); err != nil {
		t.Fatalf("Apply(1) failed: %v", err)
	}
	if _, err := a.Apply(Segment{SequenceIndex: 2, Text: "two"}); err != nil {
		t.Fatalf("Apply(2) failed: %v", err)
	}

	// Index 0 finally arrives after its slot was skipped by the flush.
	// It commits late, at the end.
	if _, err := a.Apply(Segment{SequenceIndex: 0, Text: "zero"}); err != nil {
		t.Fatalf("late Apply(0) failed: %v", err)
	}

	want := "one two zero"
	if got := a.CurrentText(); got != want {
		t.Errorf("CurrentText() = %q, want %q", got, want)
	}

	// Re-applying the late segment stays idempotent.
	if _, err := a.Apply(Segment{SequenceIndex: 0, Text: "zero"}); err != nil {
		t.Fatalf("re-apply of late segment failed: %v", err)
	}
	if got := a.CurrentText(); got != want {
		t.Errorf("CurrentText() after re-apply = %q, want %q", got, want)
	}
}

func TestSegmentsOrder(t *testing.T) {
	a := NewAccumulator(8)

	a.Apply(Segment{SequenceIndex: 0, Text: "a"})
	a.Apply(Segment{SequenceIndex: 2, Text: "c"})
	a.Apply(Segment{SequenceIndex: 1, Text: "b"})

	segments := a.Segments()
	if len(segments) != 3 {
		t.Fatalf("len(Segments()) = %d, want 3", len(segments))
	}
	for i, want := range []int{0, 1, 2} {
		if segments[i].SequenceIndex != want {
			t.Errorf("segments[%d].SequenceIndex = %d, want %d", i, segments[i].SequenceIndex, want)
		}
	}
}
