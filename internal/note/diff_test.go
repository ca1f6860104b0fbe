package note

import (
	"testing"
	"time"
)

func baseNote() Note {
	return Note{
		Metadata: Metadata{
			PatientName:    "Jane Doe",
			VisitTimestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
			Medications:    []string{},
		},
		Subjective: "Cough for three days.",
		Objective:  "Lungs clear.",
		Assessment: "Viral URI.",
		Plan:       "Supportive care.",
	}
}

func TestDiffInitial(t *testing.T) {
	entries := Diff(nil, baseNote())
	if len(entries) != 1 || entries[0] != InitialDiffEntry {
		t.Errorf("Diff(nil, note) = %v, want [%q]", entries, InitialDiffEntry)
	}
}

func TestDiffAddedLineOnly(t *testing.T) {
	prev := baseNote()
	prev.Subjective = "Line A\nLine B"

	next := baseNote()
	next.Subjective = "Line A\nLine B\nLine C"

	entries := Diff(&prev, next)
	if len(entries) != 1 {
		t.Fatalf("Diff = %v, want exactly one entry", entries)
	}
	if entries[0] != "subjective: Line C" {
		t.Errorf("entry = %q, want %q", entries[0], "subjective: Line C")
	}
}

func TestDiffRemovalsProduceNothing(t *testing.T) {
	prev := baseNote()
	prev.Plan = "Step one\nStep two"

	next := baseNote()
	next.Plan = "Step one"

	if entries := Diff(&prev, next); len(entries) != 0 {
		t.Errorf("removed lines should produce no entries, got %v", entries)
	}
}

func TestDiffIdenticalNotes(t *testing.T) {
	prev := baseNote()
	if entries := Diff(&prev, baseNote()); len(entries) != 0 {
		t.Errorf("identical notes should produce no entries, got %v", entries)
	}
}

func TestDiffMultipleSections(t *testing.T) {
	prev := baseNote()

	next := baseNote()
	next.Assessment = "Viral URI.\nRule out pneumonia."
	next.Plan = "Supportive care.\nChest x-ray."

	entries := Diff(&prev, next)
	want := []string{
		"assessment: Rule out pneumonia.",
		"plan: Chest x-ray.",
	}
	if len(entries) != len(want) {
		t.Fatalf("Diff = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i], want[i])
		}
	}
}

func TestDiffMetadata(t *testing.T) {
	prev := baseNote()

	next := baseNote()
	next.Metadata.ChiefComplaint = "cough"
	next.Metadata.Medications = []string{"azithromycin 250mg"}

	entries := Diff(&prev, next)
	want := []string{
		"metadata: chief complaint: cough",
		"metadata: medication: azithromycin 250mg",
	}
	if len(entries) != len(want) {
		t.Fatalf("Diff = %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i], want[i])
		}
	}
}

func TestDiffBlankLinesIgnored(t *testing.T) {
	prev := baseNote()

	next := baseNote()
	next.Objective = "Lungs clear.\n\n"

	if entries := Diff(&prev, next); len(entries) != 0 {
		t.Errorf("blank lines should be ignored, got %v", entries)
	}
}
