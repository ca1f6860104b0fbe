package note

import (
	"fmt"
	"strings"
)

// InitialDiffEntry is the sole diff entry of the first committed note.
const InitialDiffEntry = "Initial SOAP note generated"

// Diff computes the change descriptions for next relative to prev.
// Each free-text section and the metadata fields are compared
// line-by-line; a line present in the new version and absent (by exact
// match) from the old one yields an entry "<section>: <line>". Removed
// and unchanged lines produce nothing. A nil prev yields the single
// initial entry.
func Diff(prev *Note, next Note) []string {
	if prev == nil {
		return []string{InitialDiffEntry}
	}

	var entries []string

	sections := []struct {
		name     string
		old, new string
	}{
		{"subjective", prev.Subjective, next.Subjective},
		{"objective", prev.Objective, next.Objective},
		{"assessment", prev.Assessment, next.Assessment},
		{"plan", prev.Plan, next.Plan},
	}

	for _, section := range sections {
		entries = append(entries, addedLines(section.name, section.old, section.new)...)
	}

	entries = append(entries, addedLines("metadata",
		metadataLines(prev.Metadata), metadataLines(next.Metadata))...)

	return entries
}

// addedLines reports lines of new that are absent from old.
func addedLines(section, old, new string) []string {
	oldLines := make(map[string]bool)
	for _, line := range strings.Split(old, "\n") {
		oldLines[line] = true
	}

	var entries []string
	for _, line := range strings.Split(new, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !oldLines[line] {
			entries = append(entries, fmt.Sprintf("%s: %s", section, line))
		}
	}

	return entries
}

// metadataLines renders metadata fields as comparable lines.
func metadataLines(m Metadata) string {
	var lines []string

	if m.PatientName != "" {
		lines = append(lines, "patient name: "+m.PatientName)
	}
	if m.ClinicianName != "" {
		lines = append(lines, "clinician name: "+m.ClinicianName)
	}
	if m.ChiefComplaint != "" {
		lines = append(lines, "chief complaint: "+m.ChiefComplaint)
	}
	for _, med := range m.Medications {
		lines = append(lines, "medication: "+med)
	}

	return strings.Join(lines, "\n")
}
