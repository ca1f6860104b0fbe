// Package events defines the wire format of the server-to-client feed:
// typed event envelopes carrying session transitions, transcript growth,
// committed notes, and regeneration round boundaries.
package events
