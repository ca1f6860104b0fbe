// Package audio handles audio capture, time-window chunking, and format conversion.
// It abstracts the input device behind a Source interface, segments the live sample
// stream into bounded-duration chunks with lossless boundaries, and encodes PCM
// to WAV for transcription requests.
package audio
