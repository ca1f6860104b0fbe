package note

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlaceholderText fills a free-text section the oracle said nothing about.
const PlaceholderText = "[no information]"

// ErrInvariant indicates a note still violates shape invariants after
// defaulting. This is a contract error: the previous committed note must
// be retained.
var ErrInvariant = errors.New("note shape invariant violated")

// Metadata holds the visit-level fields of a note
type Metadata struct {
	PatientName    string    `json:"patient_name,omitempty"`
	ClinicianName  string    `json:"clinician_name,omitempty"`
	VisitTimestamp time.Time `json:"visit_timestamp"`
	ChiefComplaint string    `json:"chief_complaint,omitempty"`
	Medications    []string  `json:"medications"`
}

// Note is the structured clinical document. A Note is always complete:
// every field is present, with placeholders substituted where the
// generation oracle was silent. Notes are replaced wholesale, never
// partially mutated.
type Note struct {
	Metadata   Metadata `json:"metadata"`
	Subjective string   `json:"subjective"`
	Objective  string   `json:"objective"`
	Assessment string   `json:"assessment"`
	Plan       string   `json:"plan"`

	// Diff holds human-readable change descriptions relative to the
	// immediately preceding note.
	Diff []string `json:"diff"`
}

// Defaults seeds metadata fields the oracle may omit.
type Defaults struct {
	PatientName   string
	ClinicianName string
	Now           func() time.Time
}

// rawDocument is the loose shape decoded from the oracle's JSON output.
type rawDocument struct {
	Metadata   *rawMetadata `json:"metadata"`
	Subjective *string      `json:"subjective"`
	Objective  *string      `json:"objective"`
	Assessment *string      `json:"assessment"`
	Plan       *string      `json:"plan"`
}

type rawMetadata struct {
	PatientName     *string  `json:"patient_name"`
	ClinicianName   *string  `json:"clinician_name"`
	VisitTimestamp  *string  `json:"visit_timestamp"`
	ChiefComplaint  *string  `json:"chief_complaint"`
	MedicationsList []string `json:"medications_list"`
	Medications     []string `json:"medications"`
}

// Normalize transforms a raw decoded document into a valid Note,
// substituting defaults for every absent field so the committed note
// never has a hole. The returned note carries no diff; see Diff.
func Normalize(doc []byte, defaults Defaults) (Note, error) {
	var raw rawDocument
	if err := json.Unmarshal(doc, &raw); err != nil {
		return Note{}, fmt.Errorf("%w: document is not a note object: %v", ErrInvariant, err)
	}

	now := time.Now
	if defaults.Now != nil {
		now = defaults.Now
	}

	n := Note{
		Subjective: sectionOrPlaceholder(raw.Subjective),
		Objective:  sectionOrPlaceholder(raw.Objective),
		Assessment: sectionOrPlaceholder(raw.Assessment),
		Plan:       sectionOrPlaceholder(raw.Plan),
	}

	n.Metadata = Metadata{
		PatientName:    defaults.PatientName,
		ClinicianName:  defaults.ClinicianName,
		VisitTimestamp: now().UTC(),
		Medications:    []string{},
	}

	if raw.Metadata != nil {
		if raw.Metadata.PatientName != nil && *raw.Metadata.PatientName != "" {
			n.Metadata.PatientName = *raw.Metadata.PatientName
		}
		if raw.Metadata.ClinicianName != nil && *raw.Metadata.ClinicianName != "" {
			n.Metadata.ClinicianName = *raw.Metadata.ClinicianName
		}
		if raw.Metadata.ChiefComplaint != nil {
			n.Metadata.ChiefComplaint = *raw.Metadata.ChiefComplaint
		}
		if raw.Metadata.VisitTimestamp != nil {
			if ts, err := time.Parse(time.RFC3339, *raw.Metadata.VisitTimestamp); err == nil {
				n.Metadata.VisitTimestamp = ts.UTC()
			}
		}
		if raw.Metadata.MedicationsList != nil {
			n.Metadata.Medications = raw.Metadata.MedicationsList
		} else if raw.Metadata.Medications != nil {
			n.Metadata.Medications = raw.Metadata.Medications
		}
	}

	if err := n.validate(); err != nil {
		return Note{}, err
	}

	return n, nil
}

// sectionOrPlaceholder returns the section text or the placeholder.
func sectionOrPlaceholder(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return PlaceholderText
	}
	return *s
}

// validate checks the shape invariants every committed note must hold.
func (n *Note) validate() error {
	if strings.TrimSpace(n.Subjective) == "" {
		return fmt.Errorf("%w: subjective section is empty", ErrInvariant)
	}
	if strings.TrimSpace(n.Objective) == "" {
		return fmt.Errorf("%w: objective section is empty", ErrInvariant)
	}
	if strings.TrimSpace(n.Assessment) == "" {
		return fmt.Errorf("%w: assessment section is empty", ErrInvariant)
	}
	if strings.TrimSpace(n.Plan) == "" {
		return fmt.Errorf("%w: plan section is empty", ErrInvariant)
	}
	if n.Metadata.Medications == nil {
		return fmt.Errorf("%w: medications sequence is absent", ErrInvariant)
	}
	if n.Metadata.VisitTimestamp.IsZero() {
		return fmt.Errorf("%w: visit timestamp is absent", ErrInvariant)
	}
	return nil
}

// Clone returns a deep copy of the note. Empty slices stay non-nil so
// a committed note never serializes medications or diff as null.
func (n Note) Clone() Note {
	clone := n
	if n.Metadata.Medications != nil {
		clone.Metadata.Medications = make([]string, len(n.Metadata.Medications))
		copy(clone.Metadata.Medications, n.Metadata.Medications)
	}
	if n.Diff != nil {
		clone.Diff = make([]string, len(n.Diff))
		copy(clone.Diff, n.Diff)
	}
	return clone
}
