package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func pcmFromSamples(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestRMSEnergy(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"empty", nil, 0},
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"full scale", []int16{-32768, -32768}, 1.0},
		{"half scale", []int16{16384, -16384}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMSEnergy(pcmFromSamples(tt.samples))
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("RMSEnergy = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestPeakAmplitude(t *testing.T) {
	got := PeakAmplitude(pcmFromSamples([]int16{100, -32768, 500}))
	if math.Abs(got-1.0) > 0.001 {
		t.Errorf("PeakAmplitude = %f, want 1.0", got)
	}
	if PeakAmplitude(nil) != 0 {
		t.Error("PeakAmplitude(nil) should be 0")
	}
}

func TestFormatMath(t *testing.T) {
	f := CaptureFormat()
	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("BytesPerSecond = %d, want 32000", got)
	}
	if got := f.BytesForDurationMs(100); got != 3200 {
		t.Errorf("BytesForDurationMs(100) = %d, want 3200", got)
	}
	if got := f.DurationMs(3200); got != 100 {
		t.Errorf("DurationMs(3200) = %d, want 100", got)
	}
}

func TestBufferTrimsOldest(t *testing.T) {
	f := Format{SampleRate: 1000, Channels: 1, BitsPerSample: 16}
	b := NewBuffer(f, 10) // 20 bytes max

	first := bytes.Repeat([]byte{1}, 16)
	second := bytes.Repeat([]byte{2}, 16)
	b.Write(first)
	b.Write(second)

	got := b.Read()
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	// The oldest 12 bytes were trimmed; the tail is all from second.
	if got[0] != 1 || got[4] != 2 || got[19] != 2 {
		t.Errorf("unexpected buffer contents: %v", got)
	}

	b.Clear()
	if b.Len() != 0 {
		t.Error("Clear did not empty the buffer")
	}
}

func TestBufferReadLast(t *testing.T) {
	f := Format{SampleRate: 1000, Channels: 1, BitsPerSample: 16}
	b := NewBuffer(f, 100)
	b.Write(bytes.Repeat([]byte{7}, 40))

	got := b.ReadLast(5) // 10 bytes
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	// Asking for more than buffered returns everything.
	if got := b.ReadLast(1000); len(got) != 40 {
		t.Errorf("oversized ReadLast len = %d, want 40", len(got))
	}
}

func TestRingBufferWrapAround(t *testing.T) {
	f := Format{SampleRate: 1000, Channels: 1, BitsPerSample: 16}
	r := NewRingBuffer(f, 4) // 8 bytes

	r.Write([]byte{1, 2, 3, 4, 5, 6})
	if got := r.Read(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("partial read = %v", got)
	}

	r.Write([]byte{7, 8, 9, 10})
	got := r.Read()
	if !bytes.Equal(got, []byte{3, 4, 5, 6, 7, 8, 9, 10}) {
		t.Fatalf("wrapped read = %v", got)
	}
	if r.Filled() != 8 {
		t.Errorf("Filled = %d, want 8", r.Filled())
	}

	r.Clear()
	if r.Filled() != 0 || len(r.Read()) != 0 {
		t.Error("Clear did not reset the ring")
	}
}

func TestFrameSourceStopBeforeStart(t *testing.T) {
	s := NewFrameSource(CaptureFormat(), 0, nil)
	// Must be a no-op, not a panic.
	s.Stop()
	s.Stop()
	if s.Running() {
		t.Error("never-started source reports running")
	}
}
