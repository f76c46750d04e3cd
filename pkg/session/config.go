package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything a Session needs to reach its backends and
// tune its buffers. Zero values are filled in by DefaultConfig.
type Config struct {
	// SocketURL is the duplex channel endpoint.
	SocketURL string

	// APIBaseURL is the REST base for history and auth.
	APIBaseURL string

	// TTSEndpoint and TTSAPIKey configure speech synthesis. An empty
	// key disables synthesis; the session still runs.
	TTSEndpoint string
	TTSAPIKey   string
	TTSModel    string
	TTSVoice    string
	TTSSpeed    float64

	// AutoSpeak speaks each completed agent response aloud when the
	// conversation returns to idle.
	AutoSpeak bool

	// FrameSamples is the microphone frame size in samples.
	FrameSamples int

	// EventBuffer is the capacity of the published event channel;
	// events beyond it are dropped for slow consumers.
	EventBuffer int

	// EventLogSize bounds the diagnostic event tail.
	EventLogSize int

	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration
}

// DefaultConfig returns the local-development defaults.
func DefaultConfig() Config {
	return Config{
		SocketURL:    "ws://localhost:3001/ws",
		APIBaseURL:   "http://localhost:3001/api",
		TTSEndpoint:  "https://api.openai.com/v1/audio/speech",
		TTSModel:     "tts-1",
		TTSVoice:     "nova",
		TTSSpeed:     1.0,
		AutoSpeak:    true,
		FrameSamples: 1024,
		EventBuffer:  64,
		EventLogSize: 50,
		DialTimeout:  15 * time.Second,
	}
}

// FromEnv builds a Config from the environment on top of the defaults.
func FromEnv() Config {
	def := DefaultConfig()
	return Config{
		SocketURL:    envOr("VOICEWIRE_SOCKET_URL", def.SocketURL),
		APIBaseURL:   envOr("VOICEWIRE_API_URL", def.APIBaseURL),
		TTSEndpoint:  envOr("VOICEWIRE_TTS_URL", def.TTSEndpoint),
		TTSAPIKey:    envOr("OPENAI_API_KEY", ""),
		TTSModel:     envOr("VOICEWIRE_TTS_MODEL", def.TTSModel),
		TTSVoice:     envOr("VOICEWIRE_TTS_VOICE", def.TTSVoice),
		TTSSpeed:     envFloatOr("VOICEWIRE_TTS_SPEED", def.TTSSpeed),
		AutoSpeak:    envBoolOr("VOICEWIRE_AUTO_SPEAK", def.AutoSpeak),
		FrameSamples: envIntOr("VOICEWIRE_FRAME_SAMPLES", def.FrameSamples),
		EventBuffer:  envIntOr("VOICEWIRE_EVENT_BUFFER", def.EventBuffer),
		EventLogSize: envIntOr("VOICEWIRE_EVENT_LOG_SIZE", def.EventLogSize),
		DialTimeout:  envDurationOr("VOICEWIRE_DIAL_TIMEOUT", def.DialTimeout),
	}
}

// withDefaults fills any zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SocketURL == "" {
		c.SocketURL = def.SocketURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	if c.TTSEndpoint == "" {
		c.TTSEndpoint = def.TTSEndpoint
	}
	if c.TTSModel == "" {
		c.TTSModel = def.TTSModel
	}
	if c.TTSVoice == "" {
		c.TTSVoice = def.TTSVoice
	}
	if c.TTSSpeed == 0 {
		c.TTSSpeed = def.TTSSpeed
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = def.FrameSamples
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.EventLogSize <= 0 {
		c.EventLogSize = def.EventLogSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloatOr(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
