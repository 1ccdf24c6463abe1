// Package decode turns encoded audio files into fixed-size PCM frames ready
// for a voice connection.
package decode

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"

	"github.com/MrWong99/bingbong/pkg/audio"
)

const (
	// TargetSampleRate is the output rate of every frame (Discord voice).
	TargetSampleRate = 48000

	// TargetChannels is the output channel count of every frame.
	TargetChannels = 2

	// FrameDuration is the playback length of one frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples per channel in one frame.
	FrameSamples = TargetSampleRate * int(FrameDuration/time.Millisecond) / 1000

	// FrameBytes is the PCM size of one frame.
	FrameBytes = FrameSamples * TargetChannels * 2

	resampleQuality = 4
)

var _ audio.Source = (*Source)(nil)

// Source is an [audio.Source] that yields 20 ms frames of 48 kHz stereo
// PCM. The final frame is padded with silence to full length.
type Source struct {
	stream   beep.Streamer
	closer   io.Closer
	length   time.Duration
	srcRate  beep.SampleRate
	buf      [][2]float64
	pos      time.Duration
	finished bool
}

// OpenMP3 opens the MP3 file at path and returns a Source resampled to
// [TargetSampleRate]. The caller must Close it.
func OpenMP3(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode: open %q: %w", path, err)
	}
	stream, format, err := mp3.Decode(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decode: mp3 %q: %w", path, err)
	}
	s := newSource(stream, stream, format.SampleRate)
	s.length = format.SampleRate.D(stream.Len())
	return s, nil
}

// newSource wraps a beep streamer running at srcRate.
func newSource(stream beep.Streamer, closer io.Closer, srcRate beep.SampleRate) *Source {
	var s beep.Streamer = stream
	if srcRate != TargetSampleRate {
		s = beep.Resample(resampleQuality, srcRate, TargetSampleRate, stream)
	}
	return &Source{
		stream:  s,
		closer:  closer,
		srcRate: srcRate,
		buf:     make([][2]float64, FrameSamples),
	}
}

// SourceRate returns the sample rate of the encoded file.
func (s *Source) SourceRate() int { return int(s.srcRate) }

// Length returns the decoded duration of the file, or zero when unknown.
func (s *Source) Length() time.Duration { return s.length }

// Next returns the next frame or io.EOF once the stream is drained.
func (s *Source) Next() (audio.AudioFrame, error) {
	if s.finished {
		return audio.AudioFrame{}, io.EOF
	}

	filled := 0
	for filled < len(s.buf) {
		n, ok := s.stream.Stream(s.buf[filled:])
		filled += n
		if !ok {
			s.finished = true
			break
		}
	}
	if err := s.stream.Err(); err != nil {
		s.finished = true
		return audio.AudioFrame{}, fmt.Errorf("decode: stream: %w", err)
	}
	if filled == 0 {
		return audio.AudioFrame{}, io.EOF
	}
	clear(s.buf[filled:])

	frame := audio.AudioFrame{
		Data:       samplesToPCM(s.buf),
		SampleRate: TargetSampleRate,
		Channels:   TargetChannels,
		Timestamp:  s.pos,
	}
	s.pos += FrameDuration
	return frame, nil
}

// Close releases the underlying file.
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("decode: close: %w", err)
	}
	return nil
}

// samplesToPCM converts float stereo samples in [-1, 1] to interleaved
// little-endian int16.
func samplesToPCM(samples [][2]float64) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		l := toInt16(s[0])
		r := toInt16(s[1])
		out[i*4] = byte(l)
		out[i*4+1] = byte(l >> 8)
		out[i*4+2] = byte(r)
		out[i*4+3] = byte(r >> 8)
	}
	return out
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}
