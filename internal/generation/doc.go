// Package generation implements the streaming client for the note-generation
// oracle and the speculative assembly of its token stream. Tokens accumulate
// into a buffer that is re-parsed as JSON after every append; parse failure is
// the expected common case while the document is still a prefix.
package generation
