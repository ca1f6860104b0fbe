package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSegmentConflict indicates a segment re-applied an already-filled
// sequence index with different text. This is a logic error in the
// pipeline, not a recoverable condition.
var ErrSegmentConflict = errors.New("conflicting segment for filled sequence index")

// Segment is the atomic unit of recognized speech. The sequence index
// is assigned at capture time and preserves chunk order even when
// transcription responses resolve out of order.
type Segment struct {
	SequenceIndex int    `json:"sequence_index"`
	Text          string `json:"text"`
}

// Accumulator merges transcript segments into a monotonically growing
// transcript. Segments are committed in sequence-index order; segments
// arriving ahead of a gap are buffered until the gap fills, or flushed
// in arrival order once the out-of-order tolerance is exceeded.
type Accumulator struct {
	mu sync.Mutex

	maxOutOfOrder int

	texts        map[int]string // filled index -> text as applied
	order        []int          // indices in committed order
	next         int            // lowest index not yet filled or skipped
	pending      map[int]string // buffered out-of-order segments
	pendingOrder []int          // arrival order of buffered indices

	nonEmpty   int // committed segments with non-empty text
	violations uint64
}

// NewAccumulator creates an accumulator with the given out-of-order
// tolerance (the number of buffered future segments allowed before an
// arrival-order flush).
func NewAccumulator(maxOutOfOrder int) *Accumulator {
	if maxOutOfOrder < 1 {
		maxOutOfOrder = 8
	}

	return &Accumulator{
		maxOutOfOrder: maxOutOfOrder,
		texts:         make(map[int]string),
		pending:       make(map[int]string),
	}
}

// Apply inserts a segment at the position implied by its sequence
// index. Re-applying an identical segment is a no-op; re-applying a
// filled index with different text fails fast with ErrSegmentConflict.
// Returns true when the visible transcript text grew.
func (a *Accumulator) Apply(segment Segment) (bool, error) {
	if segment.SequenceIndex < 0 {
		return false, fmt.Errorf("sequence index must be non-negative, got %d", segment.SequenceIndex)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, filled := a.texts[segment.SequenceIndex]; filled {
		if existing == segment.Text {
			return false, nil // idempotent re-apply
		}
		return false, fmt.Errorf("%w: index %d holds %q, got %q",
			ErrSegmentConflict, segment.SequenceIndex, existing, segment.Text)
	}

	if buffered, ok := a.pending[segment.SequenceIndex]; ok {
		if buffered == segment.Text {
			return false, nil
		}
		return false, fmt.Errorf("%w: index %d buffered %q, got %q",
			ErrSegmentConflict, segment.SequenceIndex, buffered, segment.Text)
	}

	before := a.nonEmpty

	switch {
	case segment.SequenceIndex == a.next:
		a.commitLocked(segment.SequenceIndex, segment.Text)
		a.drainPendingLocked()

	case segment.SequenceIndex > a.next:
		a.pending[segment.SequenceIndex] = segment.Text
		a.pendingOrder = append(a.pendingOrder, segment.SequenceIndex)
		if len(a.pending) > a.maxOutOfOrder {
			a.flushPendingLocked()
		}

	default:
		// An index below next that was never filled: its slot was skipped
		// by an earlier tolerance flush. Commit it late, in arrival order.
		a.commitLocked(segment.SequenceIndex, segment.Text)
	}

	return a.nonEmpty > before, nil
}

// commitLocked records a segment as part of the committed transcript.
func (a *Accumulator) commitLocked(index int, text string) {
	a.texts[index] = text
	a.order = append(a.order, index)
	if strings.TrimSpace(text) != "" {
		a.nonEmpty++
	}
	if index == a.next {
		a.next++
	}
}

// drainPendingLocked commits consecutively buffered segments starting
// at the next expected index.
func (a *Accumulator) drainPendingLocked() {
	for {
		text, ok := a.pending[a.next]
		if !ok {
			return
		}
		index := a.next
		delete(a.pending, index)
		a.removePendingOrderLocked(index)
		a.commitLocked(index, text)
	}
}

// flushPendingLocked abandons index order: every buffered segment is
// committed in arrival order and the gap below them is skipped. This
// records an ordering violation.
func (a *Accumulator) flushPendingLocked() {
	maxIndex := a.next
	for _, index := range a.pendingOrder {
		text := a.pending[index]
		delete(a.pending, index)
		a.texts[index] = text
		a.order = append(a.order, index)
		if strings.TrimSpace(text) != "" {
			a.nonEmpty++
		}
		if index >= maxIndex {
			maxIndex = index + 1
		}
	}
	a.pendingOrder = a.pendingOrder[:0]
	a.next = maxIndex
	a.violations++
}

// removePendingOrderLocked drops one index from the arrival-order list.
func (a *Accumulator) removePendingOrderLocked(index int) {
	for i, v := range a.pendingOrder {
		if v == index {
			a.pendingOrder = append(a.pendingOrder[:i], a.pendingOrder[i+1:]...)
			return
		}
	}
}

// CurrentText returns the committed segment texts in committed order,
// joined by single spaces and trimmed. Empty segments contribute nothing.
func (a *Accumulator) CurrentText() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	parts := make([]string, 0, len(a.order))
	for _, index := range a.order {
		text := strings.TrimSpace(a.texts[index])
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// Segments returns the committed segments in committed order.
func (a *Accumulator) Segments() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	segments := make([]Segment, 0, len(a.order))
	for _, index := range a.order {
		segments = append(segments, Segment{SequenceIndex: index, Text: a.texts[index]})
	}

	return segments
}

// Len returns the number of committed segments.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// PendingCount returns the number of buffered out-of-order segments.
func (a *Accumulator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// OrderingViolations returns the number of tolerance flushes performed.
func (a *Accumulator) OrderingViolations() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.violations
}
