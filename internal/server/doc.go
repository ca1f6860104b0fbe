// Package server provides the HTTP API: session control, transcript
// and note retrieval, a WebSocket event feed, and monitoring endpoints.
package server
