package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cp818/scribe/internal/audio"
	"github.com/cp818/scribe/internal/events"
	"github.com/cp818/scribe/internal/generation"
	"github.com/cp818/scribe/internal/metrics"
	"github.com/cp818/scribe/internal/note"
	"github.com/cp818/scribe/internal/scheduler"
	"github.com/cp818/scribe/internal/transcript"
	"github.com/cp818/scribe/internal/transcription"
)

// State represents the session lifecycle state.
type State string

// Session lifecycle states. Transitions run strictly forward:
// idle -> recording -> stopping -> stopped.
const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

// Transcriber converts one audio chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk audio.Chunk) (transcription.Result, error)
}

// Generator streams note documents for a transcript.
type Generator interface {
	Stream(ctx context.Context, req generation.Request) (<-chan generation.Token, <-chan error)
}

// Options configures a session.
type Options struct {
	Source        audio.Source
	ChunkWindow   time.Duration
	SampleRate    int
	Transcriber   Transcriber
	Generator     Generator
	Debounce      time.Duration
	MaxOutOfOrder int
	Defaults      note.Defaults
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Loop-internal events. Every producer posts onto one channel so all
// state transitions serialize through the event loop.
type (
	chunkArrived    struct{ chunk audio.Chunk }
	captureEnded    struct{}
	segmentResolved struct {
		seq  int
		text string
		err  error
		took time.Duration
	}
	candidateReady struct {
		token string
		doc   []byte
	}
	roundFinished struct {
		token string
		input string
		err   error
	}
	stopRequested struct{ reply chan *note.Note }
)

// Session is one recording session: capture, transcription, transcript
// accumulation and note regeneration, driven by a single event loop.
type Session struct {
	ID        string
	StartTime time.Time

	logger      *slog.Logger
	metrics     *metrics.Metrics
	transcriber Transcriber
	generator   Generator
	chunker     *audio.Chunker
	accum       *transcript.Accumulator
	sched       *scheduler.Scheduler
	defaults    note.Defaults

	evts          chan any
	done          chan struct{}
	captureCancel context.CancelFunc

	mu           sync.RWMutex
	state        State
	currentNote  *note.Note
	lastActivity time.Time
	stoppedAt    time.Time
	subscribers  map[uint64]chan events.Envelope
	nextSubID    uint64
	subsClosed   bool

	// Event-loop-owned state. Never touched outside the loop.
	eventSeq       uint64
	pendingChunks  int
	chunkerDone    bool
	stopping       bool
	finalIssued    bool
	stopWaiters    []chan *note.Note
	activeToken    string
	activeStart    time.Time
	reflected      string // transcript text covered by the last successful round
	lastViolations uint64
	timer          *time.Timer
	timerActive    bool
}

// New creates a session over the given audio source. The session is
// idle until Start is called.
func New(id string, opts Options) (*Session, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("audio source cannot be nil")
	}
	if opts.Transcriber == nil {
		return nil, fmt.Errorf("transcriber cannot be nil")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	chunker, err := audio.NewChunker(opts.Source, audio.ChunkerConfig{
		Window:     opts.ChunkWindow,
		SampleRate: opts.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	return &Session{
		ID:          id,
		logger:      opts.Logger.With(slog.String("session_id", id)),
		metrics:     opts.Metrics,
		transcriber: opts.Transcriber,
		generator:   opts.Generator,
		chunker:     chunker,
		accum:       transcript.NewAccumulator(opts.MaxOutOfOrder),
		sched:       scheduler.New(opts.Debounce),
		defaults:    opts.Defaults,
		evts:        make(chan any, 256),
		done:        make(chan struct{}),
		state:       StateIdle,
		subscribers: make(map[uint64]chan events.Envelope),
	}, nil
}

// Start acquires the audio source and begins the pipeline. A failure to
// acquire the source leaves the session idle; the caller should discard
// it. Capture lifetime is independent of the caller's context: it ends
// only on Stop or when the source itself ends.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session already started (state %s)", state)
	}
	s.mu.Unlock()

	captureCtx, cancel := context.WithCancel(context.Background())
	if err := s.chunker.Start(captureCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	s.state = StateRecording
	s.StartTime = now
	s.lastActivity = now
	s.captureCancel = cancel
	s.mu.Unlock()

	s.metrics.RecordSessionStart()
	s.logger.Info("session started")

	go s.pump()
	go s.run()

	return nil
}

// Stop requests session shutdown and blocks until the session reaches
// the stopped state, including the forced final regeneration. It
// returns the final committed note, which is nil when no note was ever
// committed. Stop is idempotent.
func (s *Session) Stop(ctx context.Context) (*note.Note, error) {
	reply := make(chan *note.Note, 1)

	select {
	case s.evts <- stopRequested{reply: reply}:
	case <-s.done:
		return s.CurrentNote(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case n := <-reply:
		return n, nil
	case <-s.done:
		return s.CurrentNote(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the session reaches the stopped state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// pump forwards chunks from the chunker into the event loop. It posts
// captureEnded after the chunker closes its channel, which happens only
// after the final flush chunk has been delivered.
func (s *Session) pump() {
	for chunk := range s.chunker.Chunks() {
		s.evts <- chunkArrived{chunk: chunk}
	}
	s.evts <- captureEnded{}
}

// run is the event loop. It owns every mutable pipeline decision; all
// other goroutines only post events or read snapshots under the lock.
func (s *Session) run() {
	defer close(s.done)

	s.publish(events.KindSession, events.SessionPayload{State: string(StateRecording)})

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		<-s.timer.C
	}

	for {
		select {
		case ev := <-s.evts:
			if s.handle(ev) {
				s.finish()
				return
			}

		case now := <-s.timer.C:
			s.timerActive = false
			if !s.stopping && s.sched.OnTimer(now) {
				s.startRound(now, false)
			}
		}
	}
}

// handle processes one event and reports whether the session is done.
func (s *Session) handle(ev any) bool {
	switch ev := ev.(type) {
	case chunkArrived:
		s.metrics.RecordChunk(len(ev.chunk.Samples))
		s.touch()
		s.pendingChunks++
		go s.transcribe(ev.chunk)
		return false

	case captureEnded:
		s.chunkerDone = true
		if !s.stopping {
			// The source ended on its own. Treat it as a stop request.
			s.logger.Info("audio source ended, stopping session")
			s.beginStopping()
		}
		return s.tryFinish()

	case segmentResolved:
		s.onSegment(ev)
		return s.tryFinish()

	case candidateReady:
		if ev.token == s.activeToken {
			s.metrics.RecordCandidate()
			s.reconcile(ev.doc)
		}
		return false

	case roundFinished:
		s.onRoundFinished(ev)
		return s.tryFinish()

	case stopRequested:
		return s.onStopRequested(ev)

	default:
		s.logger.Error("unknown event type", slog.String("type", fmt.Sprintf("%T", ev)))
		return false
	}
}

// transcribe issues one transcription call and posts the outcome. The
// call is never retried and never cancelled by session shutdown; its
// lifetime is bounded by the transcription client's own timeout.
func (s *Session) transcribe(chunk audio.Chunk) {
	start := time.Now()
	result, err := s.transcriber.Transcribe(context.Background(), chunk)
	s.evts <- segmentResolved{
		seq:  chunk.SequenceIndex,
		text: result.Text,
		err:  err,
		took: time.Since(start),
	}
}

// onSegment applies one resolved transcription to the transcript and
// drives the regeneration scheduler on growth.
func (s *Session) onSegment(ev segmentResolved) {
	s.pendingChunks--

	text := ev.text
	if ev.err != nil {
		// The chunk contributes empty text; ordering still advances.
		s.metrics.RecordTranscription("error", ev.took.Seconds())
		s.logger.Warn("transcription failed",
			slog.Int("sequence_index", ev.seq),
			slog.String("error", ev.err.Error()))
		s.publish(events.KindError, events.ErrorPayload{
			Stage:  "transcription",
			Detail: ev.err.Error(),
		})
		text = ""
	} else {
		s.metrics.RecordTranscription("ok", ev.took.Seconds())
	}

	segment := transcript.Segment{SequenceIndex: ev.seq, Text: text}
	grew, err := s.accum.Apply(segment)
	if err != nil {
		s.logger.Error("segment rejected",
			slog.Int("sequence_index", ev.seq),
			slog.String("error", err.Error()))
		s.publish(events.KindError, events.ErrorPayload{
			Stage:  "transcript",
			Detail: err.Error(),
		})
		return
	}

	s.metrics.RecordSegment()
	if v := s.accum.OrderingViolations(); v > s.lastViolations {
		s.metrics.RecordOrderingViolation()
		s.lastViolations = v
		s.logger.Warn("out-of-order tolerance exceeded, flushed buffered segments in arrival order")
	}

	if strings.TrimSpace(text) != "" {
		s.publishSegment(segment)
	}

	if !grew {
		return
	}
	s.touch()

	// While stopping, growth no longer triggers rounds; the forced
	// final round covers whatever accumulated.
	if s.stopping {
		return
	}

	now := time.Now()
	start, wait := s.sched.OnGrowth(now)
	switch {
	case start:
		s.startRound(now, false)
	default:
		s.metrics.RecordRegenerationDeferred()
		if wait > 0 {
			s.resetTimer(wait)
		}
	}
}

// startRound issues one regeneration request. The scheduler has already
// accounted for the start; this only snapshots inputs and spawns the
// stream consumer.
func (s *Session) startRound(now time.Time, final bool) {
	token := uuid.New().String()
	input := s.accum.CurrentText()

	s.mu.RLock()
	var prev *note.Note
	if s.currentNote != nil {
		clone := s.currentNote.Clone()
		prev = &clone
	}
	s.mu.RUnlock()

	s.activeToken = token
	s.activeStart = now

	s.logger.Info("regeneration started",
		slog.String("token", token),
		slog.Int("transcript_chars", len(input)),
		slog.Bool("final", final))

	go s.generate(token, input, prev)
}

// generate consumes one oracle token stream, posting each complete
// candidate document and finally the round outcome.
func (s *Session) generate(token, input string, prev *note.Note) {
	tokens, errCh := s.generator.Stream(context.Background(), generation.Request{
		Transcript:   input,
		PreviousNote: prev,
	})

	asm := generation.NewAssembler()
	for tok := range tokens {
		if tok.Token == "" {
			continue
		}
		if doc, ok := asm.Push(tok.Token); ok {
			s.evts <- candidateReady{token: token, doc: doc}
		}
	}

	_, err := asm.Finish(<-errCh)
	s.evts <- roundFinished{token: token, input: input, err: err}
}

// reconcile normalizes a candidate document and commits it as the
// current note. A candidate that violates note invariants is discarded;
// the previous note stays in place.
func (s *Session) reconcile(doc []byte) {
	s.mu.RLock()
	prev := s.currentNote
	s.mu.RUnlock()

	n, err := note.Normalize(doc, s.defaults)
	if err != nil {
		s.logger.Warn("candidate rejected", slog.String("error", err.Error()))
		s.publish(events.KindError, events.ErrorPayload{
			Stage:  "note",
			Detail: err.Error(),
		})
		return
	}

	n.Diff = note.Diff(prev, n)
	if n.Diff == nil {
		n.Diff = []string{}
	}

	committed := n.Clone()
	s.mu.Lock()
	s.currentNote = &committed
	s.mu.Unlock()

	s.metrics.RecordNoteCommitted()
	s.publish(events.KindNote, events.NotePayload{Note: committed})
}

// onRoundFinished closes out a regeneration round and lets the
// scheduler decide whether a deferred round starts now.
func (s *Session) onRoundFinished(ev roundFinished) {
	if ev.token == s.activeToken {
		s.activeToken = ""
		took := time.Since(s.activeStart).Seconds()

		if ev.err != nil {
			s.metrics.RecordRegeneration("failed", took)
			s.logger.Warn("regeneration failed",
				slog.String("token", ev.token),
				slog.String("error", ev.err.Error()))
			s.publish(events.KindDone, events.DonePayload{
				Token:  ev.token,
				Status: events.DoneFailed,
				Detail: ev.err.Error(),
			})
		} else {
			s.metrics.RecordRegeneration("committed", took)
			s.reflected = ev.input
			s.publish(events.KindDone, events.DonePayload{
				Token:  ev.token,
				Status: events.DoneCommitted,
			})
		}
	}

	now := time.Now()
	start, wait := s.sched.OnComplete(now)
	if s.stopping {
		return
	}
	if start {
		s.startRound(now, false)
	} else if wait > 0 {
		s.resetTimer(wait)
	}
}

// onStopRequested transitions to stopping and cancels capture. The
// reply is delivered once the session reaches the stopped state.
func (s *Session) onStopRequested(ev stopRequested) bool {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()

	if state == StateStopped {
		ev.reply <- s.CurrentNote()
		return false
	}

	s.stopWaiters = append(s.stopWaiters, ev.reply)

	if !s.stopping {
		s.beginStopping()
	}
	return s.tryFinish()
}

// beginStopping enters the stopping state and cancels capture, which
// flushes the final partial chunk and ends the chunk stream.
func (s *Session) beginStopping() {
	s.stopping = true

	s.mu.Lock()
	s.state = StateStopping
	cancel := s.captureCancel
	s.mu.Unlock()

	s.publish(events.KindSession, events.SessionPayload{State: string(StateStopping)})
	if cancel != nil {
		cancel()
	}
}

// tryFinish checks the stop sequence: capture drained, all
// transcriptions resolved, no round in flight, and the forced final
// round (when the transcript outgrew the last committed note) issued
// and completed. Returns true when the session may declare stopped.
func (s *Session) tryFinish() bool {
	if !s.stopping || !s.chunkerDone || s.pendingChunks > 0 {
		return false
	}
	if s.sched.InFlight() {
		return false
	}

	if !s.finalIssued {
		s.finalIssued = true
		if s.needsFinalRound() {
			now := time.Now()
			if s.sched.ForceStart(now) {
				s.startRound(now, true)
				return false
			}
		}
	}

	return true
}

// needsFinalRound reports whether transcript text exists that the last
// successful regeneration round did not see.
func (s *Session) needsFinalRound() bool {
	text := s.accum.CurrentText()
	if text == "" {
		return false
	}
	return text != s.reflected
}

// finish declares the session stopped, replies to stop waiters and
// closes all subscriber channels.
func (s *Session) finish() {
	s.mu.Lock()
	s.state = StateStopped
	s.stoppedAt = time.Now()
	s.mu.Unlock()

	s.publish(events.KindSession, events.SessionPayload{State: string(StateStopped)})
	s.metrics.RecordSessionStop(time.Since(s.StartTime).Seconds())
	s.logger.Info("session stopped",
		slog.Int("segments", s.accum.Len()),
		slog.Uint64("ordering_violations", s.accum.OrderingViolations()))

	final := s.CurrentNote()
	for _, waiter := range s.stopWaiters {
		waiter <- final
	}
	s.stopWaiters = nil

	s.mu.Lock()
	s.subsClosed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()
}

// Subscribe registers a feed subscriber. The returned cancel function
// is safe to call more than once. The channel is closed when the
// subscriber cancels or the session stops; a subscriber that falls
// behind has events dropped rather than stalling the pipeline.
func (s *Session) Subscribe() (<-chan events.Envelope, func()) {
	ch := make(chan events.Envelope, 64)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish builds an envelope and fans it out to subscribers. Only the
// event loop calls publish, so envelope sequence numbers are ordered.
func (s *Session) publish(kind events.Kind, payload any) {
	s.eventSeq++
	env, err := events.New(kind, s.ID, s.eventSeq, payload)
	if err != nil {
		s.logger.Error("failed to build event", slog.String("error", err.Error()))
		return
	}

	s.fanOut(env)
}

// publishSegment announces one applied transcript segment.
func (s *Session) publishSegment(segment transcript.Segment) {
	s.eventSeq++
	env, err := events.Segment(s.ID, s.eventSeq, segment, s.accum.CurrentText())
	if err != nil {
		s.logger.Error("failed to build event", slog.String("error", err.Error()))
		return
	}

	s.fanOut(env)
}

// fanOut delivers one envelope to every subscriber, dropping on full
// buffers rather than blocking the loop.
func (s *Session) fanOut(env events.Envelope) {
	s.metrics.RecordEventPublished(string(env.Kind))

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- env:
		default:
		}
	}
}

// resetTimer arms the debounce timer, draining a stale fire first.
func (s *Session) resetTimer(d time.Duration) {
	if !s.timer.Stop() && s.timerActive {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer.Reset(d)
	s.timerActive = true
}

// touch records session activity for idle-timeout accounting.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentNote returns a copy of the latest committed note, or nil when
// no note has been committed yet.
func (s *Session) CurrentNote() *note.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentNote == nil {
		return nil
	}
	clone := s.currentNote.Clone()
	return &clone
}

// Transcript returns the current accumulated transcript text.
func (s *Session) Transcript() string {
	return s.accum.CurrentText()
}

// Segments returns the committed transcript segments in committed order.
func (s *Session) Segments() []transcript.Segment {
	return s.accum.Segments()
}

// LastActivity returns the time of the last chunk or transcript growth.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// StoppedAt returns when the session reached the stopped state, or the
// zero time while it is still live.
func (s *Session) StoppedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stoppedAt
}

// Stats represents session statistics for monitoring
type Stats struct {
	ID                 string             `json:"id"`
	State              State              `json:"state"`
	StartTime          time.Time          `json:"start_time"`
	DurationSeconds    float64            `json:"duration_seconds"`
	Segments           int                `json:"segments"`
	PendingSegments    int                `json:"pending_segments"`
	OrderingViolations uint64             `json:"ordering_violations"`
	TranscriptChars    int                `json:"transcript_chars"`
	HasNote            bool               `json:"has_note"`
	Chunker            audio.ChunkerStats `json:"chunker"`
	Scheduler          scheduler.Stats    `json:"scheduler"`
}

// GetStats returns current session statistics.
func (s *Session) GetStats() Stats {
	s.mu.RLock()
	state := s.state
	start := s.StartTime
	stopped := s.stoppedAt
	hasNote := s.currentNote != nil
	s.mu.RUnlock()

	end := time.Now()
	if !stopped.IsZero() {
		end = stopped
	}

	duration := 0.0
	if !start.IsZero() {
		duration = end.Sub(start).Seconds()
	}

	return Stats{
		ID:                 s.ID,
		State:              state,
		StartTime:          start,
		DurationSeconds:    duration,
		Segments:           s.accum.Len(),
		PendingSegments:    s.accum.PendingCount(),
		OrderingViolations: s.accum.OrderingViolations(),
		TranscriptChars:    len(s.accum.CurrentText()),
		HasNote:            hasNote,
		Chunker:            s.chunker.Stats(),
		Scheduler:          s.sched.GetStats(),
	}
}
