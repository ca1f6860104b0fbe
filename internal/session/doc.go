// Package session owns the recording session lifecycle and all mutable
// session state. Every producer in the pipeline (chunker, transcription
// completions, generation stream, debounce timer) posts typed events onto
// one channel consumed by a single event loop, so no two state transitions
// ever interleave.
package session
