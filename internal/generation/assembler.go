package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Assembler accumulates oracle tokens into a buffer and detects the
// earliest point at which the buffer forms one complete JSON value.
// A failing parse is the expected common case while the document is
// still a prefix; it is absorbed silently. Accumulation continues after
// a successful parse so trailing content extends rather than truncates
// the document: the last candidate before end-of-stream is
// authoritative.
type Assembler struct {
	buf        bytes.Buffer
	last       []byte
	candidates int
}

// Outcome is the terminal result of one assembled stream.
type Outcome struct {
	// Doc is the last complete candidate document.
	Doc []byte

	// Candidates is the number of complete candidates seen.
	Candidates int
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Push appends one token and attempts to parse the whole buffer as a
// single JSON value. On success it returns a cloned candidate document
// and true; otherwise nil and false.
func (a *Assembler) Push(token string) ([]byte, bool) {
	a.buf.WriteString(token)

	data := bytes.TrimSpace(a.buf.Bytes())
	if len(data) == 0 {
		return nil, false
	}

	if !json.Valid(data) {
		return nil, false
	}

	candidate := make([]byte, len(data))
	copy(candidate, data)
	a.last = candidate
	a.candidates++

	return candidate, true
}

// Finish closes the stream. With a transport error, or when no complete
// candidate was ever parsed, it returns ErrGenerationFailed; a half-built
// document is never surfaced.
func (a *Assembler) Finish(streamErr error) (Outcome, error) {
	if streamErr != nil {
		return Outcome{}, streamErr
	}

	if a.last == nil {
		return Outcome{}, fmt.Errorf("%w: stream ended without a complete document (%d bytes buffered)",
			ErrGenerationFailed, a.buf.Len())
	}

	return Outcome{Doc: a.last, Candidates: a.candidates}, nil
}

// Buffered returns the number of bytes accumulated so far.
func (a *Assembler) Buffered() int {
	return a.buf.Len()
}
