// Package transcript maintains the monotonically growing session transcript.
// Segments are applied in sequence-index order regardless of the arrival order
// of transcription responses, with a bounded tolerance for out-of-order gaps.
package transcript
