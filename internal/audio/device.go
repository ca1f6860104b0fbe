package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	// DefaultFramesPerBuffer is the device read size in samples
	DefaultFramesPerBuffer = 512
)

// DeviceSource captures audio from a PortAudio input device.
// The device is an exclusive resource: it is acquired on Start and
// released on Stop, including when Start fails partway through.
type DeviceSource struct {
	sampleRate int
	bufferSize int
	deviceName string

	mu          sync.Mutex
	stream      *portaudio.Stream
	frames      chan []int16
	running     bool
	initialized bool
	done        chan struct{}
	cancel      context.CancelFunc
}

// DeviceConfig holds configuration for device capture
type DeviceConfig struct {
	SampleRate int
	BufferSize int
	DeviceName string // input device name (empty = default)
}

// NewDeviceSource creates a microphone-backed source. PortAudio is
// initialized here and terminated on Stop.
func NewDeviceSource(cfg DeviceConfig) (*DeviceSource, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultFramesPerBuffer
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrAudioResource, err)
	}

	return &DeviceSource{
		sampleRate:  cfg.SampleRate,
		bufferSize:  cfg.BufferSize,
		deviceName:  cfg.DeviceName,
		frames:      make(chan []int16, 64),
		initialized: true,
	}, nil
}

// Start opens the input device and begins the capture loop.
func (s *DeviceSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("capture already running")
	}

	buffer := make([]int16, s.bufferSize)

	stream, err := s.openStream(buffer)
	if err != nil {
		return fmt.Errorf("%w: failed to open audio stream: %v", ErrAudioResource, err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: failed to start audio stream: %v", ErrAudioResource, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.stream = stream
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})

	go s.captureLoop(runCtx, buffer)

	return nil
}

// openStream opens the named input device, falling back to the default.
func (s *DeviceSource) openStream(buffer []int16) (*portaudio.Stream, error) {
	if s.deviceName != "" && s.deviceName != "default" {
		device, err := findInputDevice(s.deviceName)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   device,
					Channels: 1,
					Latency:  device.DefaultLowInputLatency,
				},
				SampleRate:      float64(s.sampleRate),
				FramesPerBuffer: len(buffer),
			}
			return portaudio.OpenStream(params, buffer)
		}
		// Named device not found, fall through to default input.
	}

	return portaudio.OpenDefaultStream(1, 0, float64(s.sampleRate), len(buffer), buffer)
}

// captureLoop continuously reads sample frames from the device.
func (s *DeviceSource) captureLoop(ctx context.Context, buffer []int16) {
	defer close(s.done)
	defer close(s.frames)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		stream := s.stream
		running := s.running
		s.mu.Unlock()

		if !running || stream == nil {
			return
		}

		if err := stream.Read(); err != nil {
			s.mu.Lock()
			stillRunning := s.running
			s.mu.Unlock()
			if !stillRunning {
				return
			}
			continue
		}

		samples := make([]int16, len(buffer))
		copy(samples, buffer)

		select {
		case s.frames <- samples:
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops capture, closes the device stream, and terminates PortAudio.
func (s *DeviceSource) Stop() error {
	s.mu.Lock()

	if !s.running {
		// Release PortAudio even if Start was never called.
		err := s.terminateLocked()
		s.mu.Unlock()
		return err
	}

	s.running = false
	cancel := s.cancel
	done := s.done
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	cancel()

	if stream != nil {
		stream.Stop()
		if err := stream.Close(); err != nil {
			// Still terminate PortAudio below.
			<-done
			s.mu.Lock()
			defer s.mu.Unlock()
			s.terminateLocked()
			return fmt.Errorf("failed to close audio stream: %w", err)
		}
	}

	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminateLocked()
}

// terminateLocked releases the PortAudio runtime. Caller holds s.mu.
func (s *DeviceSource) terminateLocked() error {
	if !s.initialized {
		return nil
	}
	s.initialized = false

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// Frames returns the frame channel.
func (s *DeviceSource) Frames() <-chan []int16 {
	return s.frames
}

// SampleRate returns the capture sample rate.
func (s *DeviceSource) SampleRate() int {
	return s.sampleRate
}

// findInputDevice finds a PortAudio input device by name.
func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}

	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}

	return nil, fmt.Errorf("device not found: %s", name)
}

// ListInputDevices returns the available audio input devices.
func ListInputDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	defaultInput, _ := portaudio.DefaultInputDevice()
	var defaultName string
	if defaultInput != nil {
		defaultName = defaultInput.Name
	}

	var inputs []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			inputs = append(inputs, DeviceInfo{
				Name:              dev.Name,
				MaxInputChannels:  dev.MaxInputChannels,
				DefaultSampleRate: dev.DefaultSampleRate,
				IsDefault:         dev.Name == defaultName,
			})
		}
	}

	return inputs, nil
}

// DeviceInfo holds information about an audio input device
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}
