package audio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/voicewire/voicewire/pkg/core"
)

// Sink plays PCM16 audio through the speakers. Play queues audio;
// Flush drops everything queued or playing. One Sink owns the process's
// playback context.
type Sink struct {
	otoCtx *oto.Context
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	player  *oto.Player
	buf     []byte
	playing bool
	closed  bool
}

// NewSink opens the playback device for the given format.
func NewSink(format Format, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms buffer keeps latency low at the cost of glitch headroom.
		BufferSize: 100 * time.Millisecond,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, core.NewDeviceError("init playback device", err)
	}
	<-ready

	s := &Sink{
		otoCtx: otoCtx,
		logger: logger,
		buf:    make([]byte, 0, format.BytesForDurationMs(2000)),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Play schedules PCM audio for playback. The player starts on the
// first write and keeps pulling from the queue.
func (s *Sink) Play(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.buf = append(s.buf, pcm...)

	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read implements io.Reader for oto.Player. oto calls it to pull audio.
func (s *Sink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed && s.playing {
		s.cond.Wait()
	}

	if len(s.buf) == 0 {
		// Flushed or closed: feed silence so oto drains gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush drops all queued and playing audio immediately. From the
// caller's view the speaker is silent when Flush returns; the old
// player is torn down in the background.
func (s *Sink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]

	if s.player == nil || !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	player := s.player
	s.player = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	// Pause stops audio at once; Reset clears oto's internal buffer so
	// stale audio never overlaps whatever plays next.
	player.Pause()
	player.Reset()
	go func() {
		if err := player.Close(); err != nil {
			s.logger.Debug("audio: player close", "err", err)
		}
	}()
}

// Close flushes and releases the playback device.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.playing = false
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	if s.otoCtx != nil {
		_ = s.otoCtx.Suspend()
	}
}
