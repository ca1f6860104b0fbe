package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrAudioResource indicates the audio input device could not be acquired.
// It is fatal to starting a session and is surfaced to the caller without retry.
var ErrAudioResource = errors.New("audio input resource unavailable")

// Source provides a live stream of PCM-16 audio frames.
// A Source is exclusively owned by one session: Start acquires the
// underlying input resource and Stop releases it unconditionally,
// including on error paths.
type Source interface {
	// Start begins producing frames. Frames are delivered on the channel
	// returned by Frames until Stop is called or the context is cancelled.
	Start(ctx context.Context) error

	// Frames returns the channel carrying captured sample frames.
	// The channel is closed after Stop.
	Frames() <-chan []int16

	// Stop stops capture and releases the input resource.
	Stop() error

	// SampleRate returns the capture sample rate in Hz.
	SampleRate() int
}

// ReaderSource reads PCM-16 little-endian samples from an io.Reader.
// It is used for file replay and tests; the reader stands in for a
// live device and frames are emitted as fast as they can be read.
type ReaderSource struct {
	reader     io.Reader
	sampleRate int
	frameSize  int

	mu      sync.Mutex
	frames  chan []int16
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// NewReaderSource creates a source that decodes PCM-16LE samples from r,
// emitting frames of frameSize samples.
func NewReaderSource(r io.Reader, sampleRate, frameSize int) *ReaderSource {
	return &ReaderSource{
		reader:     r,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		frames:     make(chan []int16, 16),
	}
}

// Start begins reading frames from the underlying reader.
func (s *ReaderSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("source already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})

	go s.readLoop(runCtx)

	return nil
}

// readLoop reads fixed-size frames until EOF, error, or cancellation.
func (s *ReaderSource) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.frames)

	buf := make([]byte, s.frameSize*2)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := io.ReadFull(s.reader, buf)
		if n > 0 {
			// A trailing short read still carries samples; keep whole samples only.
			samples := bytesToSamples(buf[:n-n%2])
			select {
			case s.frames <- samples:
			case <-ctx.Done():
				return
			}
		}

		if err != nil {
			return
		}
	}
}

// Frames returns the frame channel.
func (s *ReaderSource) Frames() <-chan []int16 {
	return s.frames
}

// Stop stops reading. The frame channel is closed once the read loop exits.
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// SampleRate returns the configured sample rate.
func (s *ReaderSource) SampleRate() int {
	return s.sampleRate
}

// bytesToSamples converts little-endian PCM-16 bytes to samples.
func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// samplesToBytes converts samples to little-endian PCM-16 bytes.
func samplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}
