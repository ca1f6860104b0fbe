// Package metrics provides Prometheus metrics for the scribe service.
package metrics
