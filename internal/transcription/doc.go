// Package transcription implements the HTTP client for the speech-to-text oracle.
// It sends one multipart request per audio chunk, classifies failures into the
// typed error taxonomy, and treats empty recognized text as a valid result.
package transcription
