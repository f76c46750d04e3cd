package audio

import (
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/voicewire/voicewire/pkg/core"
)

// DefaultFrameSamples is the fixed capture frame size in samples.
const DefaultFrameSamples = 1024

// FrameFunc receives one fixed-size PCM frame. It runs on the audio
// callback path and must return quickly; slow consumers drop audio.
type FrameFunc func(pcm []byte)

// FrameSource captures microphone audio and delivers it as fixed-size
// PCM16 frames. One FrameSource owns one capture device.
type FrameSource struct {
	format       Format
	frameSamples int
	logger       *slog.Logger

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	pending []byte
	onFrame FrameFunc
	running bool
}

// NewFrameSource creates a capture source for the given format.
// frameSamples <= 0 selects DefaultFrameSamples.
func NewFrameSource(format Format, frameSamples int, logger *slog.Logger) *FrameSource {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameSource{
		format:       format,
		frameSamples: frameSamples,
		logger:       logger,
	}
}

// Start opens the capture device and begins delivering frames to
// onFrame. Calling Start on a running source is a no-op. Failure to
// open the device returns a device error; capture simply never starts.
func (s *FrameSource) Start(onFrame FrameFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return core.NewDeviceError("init audio context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.format.Channels)
	deviceConfig.SampleRate = uint32(s.format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.accumulate(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		return core.NewDeviceError("init capture device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		return core.NewDeviceError("start capture device", err)
	}

	s.ctx = ctx
	s.device = device
	s.onFrame = onFrame
	s.pending = s.pending[:0]
	s.running = true
	s.logger.Debug("audio: capture started",
		"sample_rate", s.format.SampleRate, "frame_samples", s.frameSamples)
	return nil
}

// Running reports whether the capture device is live.
func (s *FrameSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop halts capture synchronously. No frames are delivered after Stop
// returns. Stop is idempotent and safe to call on a never-started source.
func (s *FrameSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.onFrame = nil
	s.pending = nil
	device := s.device
	ctx := s.ctx
	s.device = nil
	s.ctx = nil
	s.mu.Unlock()

	// Teardown happens outside the lock: the data callback also takes
	// it, and device.Stop waits for in-flight callbacks.
	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if ctx != nil {
		_ = ctx.Uninit()
	}
	s.logger.Debug("audio: capture stopped")
}

// accumulate buffers callback data and emits fixed-size frames.
func (s *FrameSource) accumulate(input []byte) {
	frameBytes := s.frameSamples * s.format.Channels * (s.format.BitsPerSample / 8)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, input...)
	var frames [][]byte
	for len(s.pending) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, s.pending[:frameBytes])
		s.pending = s.pending[frameBytes:]
		frames = append(frames, frame)
	}
	onFrame := s.onFrame
	s.mu.Unlock()

	if onFrame == nil {
		return
	}
	for _, frame := range frames {
		onFrame(frame)
	}
}
