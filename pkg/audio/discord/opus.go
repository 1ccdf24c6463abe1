package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice carries 20 ms frames of 48 kHz stereo Opus.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate / 50              // samples per channel
	opusFrameBytes = opusFrameSize * opusChannels * 2 // int16 PCM input
	opusBitrate    = 64000

	// trailingSilenceFrames follow every message so the client does not
	// interpolate into the next one.
	trailingSilenceFrames = 5
)

// silenceFrame is 20 ms of Opus silence.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// opusEncoder turns PCM frames into Opus packets for one connection. It
// reuses its sample buffer and is not safe for concurrent use.
type opusEncoder struct {
	enc     *gopus.Encoder
	samples []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	enc.SetBitrate(opusBitrate)
	return &opusEncoder{enc: enc, samples: make([]int16, opusFrameSize*opusChannels)}, nil
}

// encode encodes one frame of little-endian int16 PCM. The last frame of a
// message may be short; it is padded with silence.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	if len(pcm) > opusFrameBytes {
		return nil, fmt.Errorf("discord: frame of %d bytes exceeds %d", len(pcm), opusFrameBytes)
	}
	fillSamples(e.samples, pcm)
	packet, err := e.enc.Encode(e.samples, opusFrameSize, opusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}

// fillSamples decodes little-endian int16 PCM into dst and zeroes the rest.
func fillSamples(dst []int16, pcm []byte) {
	n := min(len(pcm)/2, len(dst))
	for i := range n {
		dst[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	clear(dst[n:])
}
