// Package scheduler decides when note regeneration requests may start.
// It enforces at most one request in flight and a minimum wall-clock
// interval between request starts, deferring (never dropping) desired
// regenerations until both conditions hold.
package scheduler
