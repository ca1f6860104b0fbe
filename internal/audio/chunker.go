package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Chunk represents one bounded-duration window of captured audio.
// Chunks carry strictly increasing sequence indices starting at 0;
// the samples of chunk N+1 begin exactly where chunk N ended.
type Chunk struct {
	SequenceIndex int           `json:"sequence_index"`
	Samples       []int16       `json:"-"`
	SampleRate    int           `json:"sample_rate"`
	Start         time.Time     `json:"start_time"`
	End           time.Time     `json:"end_time"`
	Duration      time.Duration `json:"duration"`
	Final         bool          `json:"final"` // set on the flush chunk emitted at stop
}

// ChunkerConfig contains configuration for time-window chunking
type ChunkerConfig struct {
	Window     time.Duration // target chunk duration (1-5s)
	SampleRate int
}

// Chunker segments a Source's frame stream into fixed-duration chunks.
// It owns the Source: Start acquires it, the background loop consumes
// frames until the context is cancelled or the source ends, flushes any
// unfinished tail as a final shorter chunk, and releases the source
// unconditionally.
type Chunker struct {
	config ChunkerConfig
	source Source
	chunks chan Chunk

	// Accumulation state, owned by the loop goroutine.
	windowSamples int
	pending       []int16
	nextIndex     int
	windowStart   time.Time

	// Statistics
	mu            sync.RWMutex
	chunksEmitted uint64
	samplesSeen   uint64
}

// NewChunker creates a chunker over the given source.
func NewChunker(source Source, config ChunkerConfig) (*Chunker, error) {
	if config.Window <= 0 {
		return nil, fmt.Errorf("chunk window must be positive, got %v", config.Window)
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	return &Chunker{
		config:        config,
		source:        source,
		chunks:        make(chan Chunk, 8),
		windowSamples: int(float64(config.SampleRate) * config.Window.Seconds()),
	}, nil
}

// Chunks returns the ordered chunk stream. The channel is closed after
// the final flush chunk once chunking ends.
func (c *Chunker) Chunks() <-chan Chunk {
	return c.chunks
}

// Start acquires the source and begins chunking in the background.
// The chunk channel is closed, and the source released, when the
// context is cancelled or the source's frame stream ends.
func (c *Chunker) Start(ctx context.Context) error {
	if err := c.source.Start(ctx); err != nil {
		close(c.chunks)
		return fmt.Errorf("failed to start audio source: %w", err)
	}

	c.windowStart = time.Now()
	go c.loop(ctx)

	return nil
}

// loop drives chunking until cancellation or end of the frame stream.
// The source is released unconditionally on exit.
func (c *Chunker) loop(ctx context.Context) {
	defer close(c.chunks)
	defer c.source.Stop()

	for {
		select {
		case <-ctx.Done():
			// Capture is cancelled immediately; drain nothing further,
			// flush the unfinished tail.
			c.flush(true)
			return

		case frame, ok := <-c.source.Frames():
			if !ok {
				c.flush(true)
				return
			}
			c.consume(ctx, frame)
		}
	}
}

// consume appends a frame and emits every completed window it fills.
func (c *Chunker) consume(ctx context.Context, frame []int16) {
	c.mu.Lock()
	c.samplesSeen += uint64(len(frame))
	c.mu.Unlock()

	c.pending = append(c.pending, frame...)

	for len(c.pending) >= c.windowSamples {
		window := make([]int16, c.windowSamples)
		copy(window, c.pending[:c.windowSamples])
		c.pending = c.pending[c.windowSamples:]

		if !c.emit(ctx, window, false) {
			return
		}
	}
}

// flush emits any unfinished tail as a final, possibly shorter, chunk.
func (c *Chunker) flush(final bool) {
	if len(c.pending) == 0 {
		return
	}

	tail := make([]int16, len(c.pending))
	copy(tail, c.pending)
	c.pending = nil

	// Blocking send: the final chunk must not be dropped.
	c.chunks <- c.makeChunk(tail, final)
}

// emit sends a completed window downstream.
func (c *Chunker) emit(ctx context.Context, samples []int16, final bool) bool {
	select {
	case c.chunks <- c.makeChunk(samples, final):
		return true
	case <-ctx.Done():
		// Keep the window so the flush path can still deliver it.
		c.pending = append(samples, c.pending...)
		return false
	}
}

// makeChunk assembles chunk metadata and advances the sequence index.
func (c *Chunker) makeChunk(samples []int16, final bool) Chunk {
	now := time.Now()
	chunk := Chunk{
		SequenceIndex: c.nextIndex,
		Samples:       samples,
		SampleRate:    c.config.SampleRate,
		Start:         c.windowStart,
		End:           now,
		Duration:      time.Duration(len(samples)) * time.Second / time.Duration(c.config.SampleRate),
		Final:         final,
	}

	c.nextIndex++
	c.windowStart = now

	c.mu.Lock()
	c.chunksEmitted++
	c.mu.Unlock()

	return chunk
}

// ChunkerStats represents chunker statistics for monitoring
type ChunkerStats struct {
	ChunksEmitted uint64 `json:"chunks_emitted"`
	SamplesSeen   uint64 `json:"samples_seen"`
}

// Stats returns current chunker statistics.
func (c *Chunker) Stats() ChunkerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ChunkerStats{
		ChunksEmitted: c.chunksEmitted,
		SamplesSeen:   c.samplesSeen,
	}
}

// PCM returns the chunk samples encoded as little-endian PCM-16 bytes.
func (ch *Chunk) PCM() []byte {
	return samplesToBytes(ch.Samples)
}
