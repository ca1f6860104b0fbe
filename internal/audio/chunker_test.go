package audio

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// pcmReader builds a PCM-16LE byte stream of n ramp samples.
func pcmReader(n int) *bytes.Reader {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	return bytes.NewReader(samplesToBytes(samples))
}

func collectChunks(t *testing.T, c *Chunker) []Chunk {
	t.Helper()

	var chunks []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-c.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("timed out waiting for chunks")
		}
	}
}

func TestChunkerExactWindows(t *testing.T) {
	// 16000 Hz, 1s window: 48000 samples yield exactly three chunks.
	source := NewReaderSource(pcmReader(48000), 16000, 1600)
	c, err := NewChunker(source, ChunkerConfig{Window: time.Second, SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunks := collectChunks(t, c)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.SequenceIndex != i {
			t.Errorf("chunk %d has sequence index %d", i, chunk.SequenceIndex)
		}
		if len(chunk.Samples) != 16000 {
			t.Errorf("chunk %d has %d samples, want 16000", i, len(chunk.Samples))
		}
	}
}

func TestChunkerNoSampleLoss(t *testing.T) {
	const total = 40000 // 2.5 windows at 16000 Hz
	source := NewReaderSource(pcmReader(total), 16000, 777)
	c, err := NewChunker(source, ChunkerConfig{Window: time.Second, SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunks := collectChunks(t, c)

	// Every sample appears exactly once, in order, across chunks.
	var got []int16
	for _, chunk := range chunks {
		got = append(got, chunk.Samples...)
	}
	if len(got) != total {
		t.Fatalf("got %d samples across chunks, want %d", len(got), total)
	}
	for i, s := range got {
		if s != int16(i%1000) {
			t.Fatalf("sample %d = %d, want %d: boundary corrupted", i, s, i%1000)
		}
	}

	// The tail chunk is shorter and marked final.
	last := chunks[len(chunks)-1]
	if !last.Final {
		t.Error("last chunk should be marked final")
	}
	if len(last.Samples) != 8000 {
		t.Errorf("final chunk has %d samples, want 8000", len(last.Samples))
	}
	for _, chunk := range chunks[:len(chunks)-1] {
		if chunk.Final {
			t.Errorf("chunk %d should not be final", chunk.SequenceIndex)
		}
	}
}

func TestChunkerCancelFlushesTail(t *testing.T) {
	// A reader that never ends: fill half a window, then block.
	pr := newBlockingReader(pcmReader(8000))
	source := NewReaderSource(pr, 16000, 1600)
	c, err := NewChunker(source, ChunkerConfig{Window: time.Second, SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the pending tail accumulate, then stop capture. The reader
	// unblocks afterwards so the source can wind down.
	time.Sleep(100 * time.Millisecond)
	cancel()
	pr.release()

	chunks := collectChunks(t, c)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 flushed tail", len(chunks))
	}
	if !chunks[0].Final {
		t.Error("flushed tail should be marked final")
	}
	if len(chunks[0].Samples) != 8000 {
		t.Errorf("flushed tail has %d samples, want 8000", len(chunks[0].Samples))
	}
}

func TestChunkerStats(t *testing.T) {
	source := NewReaderSource(pcmReader(32000), 16000, 1600)
	c, _ := NewChunker(source, ChunkerConfig{Window: time.Second, SampleRate: 16000})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	collectChunks(t, c)

	stats := c.Stats()
	if stats.ChunksEmitted != 2 {
		t.Errorf("ChunksEmitted = %d, want 2", stats.ChunksEmitted)
	}
	if stats.SamplesSeen != 32000 {
		t.Errorf("SamplesSeen = %d, want 32000", stats.SamplesSeen)
	}
}

func TestNewChunkerValidation(t *testing.T) {
	source := NewReaderSource(pcmReader(0), 16000, 1600)

	if _, err := NewChunker(source, ChunkerConfig{Window: 0, SampleRate: 16000}); err == nil {
		t.Error("zero window should be rejected")
	}
	if _, err := NewChunker(source, ChunkerConfig{Window: time.Second, SampleRate: 0}); err == nil {
		t.Error("zero sample rate should be rejected")
	}
}

// blockingReader serves its inner reader then blocks instead of EOF.
type blockingReader struct {
	inner   *bytes.Reader
	blockCh chan struct{}
}

func newBlockingReader(inner *bytes.Reader) *blockingReader {
	return &blockingReader{inner: inner, blockCh: make(chan struct{})}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		return n, nil
	}
	if err != nil {
		<-r.blockCh
		return 0, err
	}
	return n, err
}

func (r *blockingReader) release() {
	close(r.blockCh)
}
