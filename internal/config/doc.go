// Package config provides configuration loading and validation for the clinical scribe service.
// It handles YAML-based configuration with struct validation covering the capture,
// transcription, generation, scheduler and HTTP surfaces.
package config
