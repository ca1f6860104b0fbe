package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the scribe service.
// All record methods tolerate a nil receiver so pipeline components
// can run without a collector in tests.
type Metrics struct {
	// Capture metrics
	ChunksEmitted   prometheus.Counter
	SamplesCaptured prometheus.Counter

	// Transcription metrics
	TranscriptionsTotal   *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	SegmentsApplied       prometheus.Counter
	OrderingViolations    prometheus.Counter

	// Generation metrics
	RegenerationsTotal    *prometheus.CounterVec
	RegenerationsDeferred prometheus.Counter
	CandidatesParsed      prometheus.Counter
	NotesCommitted        prometheus.Counter
	GenerationDuration    prometheus.Histogram

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EventClientsActive  prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_chunks_emitted_total",
			Help: "Total number of audio chunks emitted by the chunker",
		}),
		SamplesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_audio_samples_captured_total",
			Help: "Total number of PCM samples captured",
		}),
		TranscriptionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_transcriptions_total",
			Help: "Total number of transcription requests by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_transcription_duration_seconds",
			Help:    "Transcription request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		SegmentsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcript_segments_applied_total",
			Help: "Total number of transcript segments applied",
		}),
		OrderingViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_transcript_ordering_violations_total",
			Help: "Total number of out-of-order tolerance flushes",
		}),
		RegenerationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_regenerations_total",
			Help: "Total number of note regeneration rounds by outcome",
		}, []string{"outcome"}),
		RegenerationsDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_regenerations_deferred_total",
			Help: "Total number of regeneration starts deferred by debounce or in-flight requests",
		}),
		CandidatesParsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_note_candidates_parsed_total",
			Help: "Total number of complete candidate documents parsed from token streams",
		}),
		NotesCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_notes_committed_total",
			Help: "Total number of notes committed to session state",
		}),
		GenerationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_generation_duration_seconds",
			Help:    "Note generation round duration in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_active_sessions",
			Help: "Number of currently active recording sessions",
		}),
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_total",
			Help: "Total number of sessions started",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_session_duration_seconds",
			Help:    "Session duration from start to stopped in seconds",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600},
		}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		EventClientsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scribe_event_clients_active",
			Help: "Number of connected event feed clients",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_events_published_total",
			Help: "Total number of feed events published by kind",
		}, []string{"kind"}),
	}
}

// RecordChunk records one emitted audio chunk.
func (m *Metrics) RecordChunk(samples int) {
	if m == nil {
		return
	}
	m.ChunksEmitted.Inc()
	m.SamplesCaptured.Add(float64(samples))
}

// RecordTranscription records one finished transcription request.
func (m *Metrics) RecordTranscription(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionsTotal.WithLabelValues(outcome).Inc()
	m.TranscriptionDuration.Observe(seconds)
}

// RecordSegment records one applied transcript segment.
func (m *Metrics) RecordSegment() {
	if m == nil {
		return
	}
	m.SegmentsApplied.Inc()
}

// RecordOrderingViolation records one out-of-order tolerance flush.
func (m *Metrics) RecordOrderingViolation() {
	if m == nil {
		return
	}
	m.OrderingViolations.Inc()
}

// RecordRegeneration records one finished regeneration round.
func (m *Metrics) RecordRegeneration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RegenerationsTotal.WithLabelValues(outcome).Inc()
	m.GenerationDuration.Observe(seconds)
}

// RecordRegenerationDeferred records one debounce- or in-flight-deferred start.
func (m *Metrics) RecordRegenerationDeferred() {
	if m == nil {
		return
	}
	m.RegenerationsDeferred.Inc()
}

// RecordCandidate records one complete candidate document.
func (m *Metrics) RecordCandidate() {
	if m == nil {
		return
	}
	m.CandidatesParsed.Inc()
}

// RecordNoteCommitted records one committed note.
func (m *Metrics) RecordNoteCommitted() {
	if m == nil {
		return
	}
	m.NotesCommitted.Inc()
}

// RecordSessionStart records a session start.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionStop records a session reaching the stopped state.
func (m *Metrics) RecordSessionStop(seconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(seconds)
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordEventClient adjusts the connected event client gauge.
func (m *Metrics) RecordEventClient(delta float64) {
	if m == nil {
		return
	}
	m.EventClientsActive.Add(delta)
}

// RecordEventPublished records one published feed event.
func (m *Metrics) RecordEventPublished(kind string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
}
