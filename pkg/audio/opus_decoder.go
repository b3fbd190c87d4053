// Package audio implements the Opus-decode / AAC-encode transcode
// stage that sits between RTP depacketization and the FLV muxer.
package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/meetecho/pushstream-relay/pkg/logger"
	opus "gopkg.in/hraban/opus.v2"
)

// maxFrameSamples covers the largest Opus frame (120 ms at 48 kHz).
const maxFrameSamples = 5760

// opusDecoderBackend is the subset of *opus.Decoder this package
// depends on, seamed out so the accumulation/timestamp logic around
// it can be exercised without the cgo-backed libopus decoder.
type opusDecoderBackend interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// OpusDecoder decodes one Opus packet per call into interleaved
// little-endian 16-bit PCM, per §4.3: stateful, 48 kHz, stereo,
// timestamps pass through unchanged. A failed decode drops the frame
// rather than propagating an error to the caller — packet loss
// concealment is explicitly not required.
type OpusDecoder struct {
	backend    opusDecoderBackend
	channels   int
	sampleRate int
	scratch    []int16

	// OnPCM receives one decoded frame (interleaved int16 samples) and
	// the RTP timestamp it was decoded from.
	OnPCM func(pcm []int16, rtpTimestamp uint32)
}

// NewOpusDecoder creates a decoder for the given sample rate and
// channel count.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return newOpusDecoderWithBackend(dec, sampleRate, channels), nil
}

func newOpusDecoderWithBackend(backend opusDecoderBackend, sampleRate, channels int) *OpusDecoder {
	return &OpusDecoder{
		backend:    backend,
		channels:   channels,
		sampleRate: sampleRate,
		scratch:    make([]int16, maxFrameSamples*channels),
	}
}

// Decode decodes one Opus packet. A malformed or otherwise
// undecodable packet is logged at the RTP debug category and
// dropped, matching §4.3's "failed decodes drop the frame".
func (d *OpusDecoder) Decode(opusPacket []byte, rtpTimestamp uint32) {
	n, err := d.backend.Decode(opusPacket, d.scratch)
	if err != nil {
		logger.Default().DebugRTP("opus decode failed, dropping frame", "error", err, "timestamp", rtpTimestamp)
		return
	}
	if n <= 0 {
		return
	}

	pcm := make([]int16, n*d.channels)
	copy(pcm, d.scratch[:n*d.channels])

	if d.OnPCM != nil {
		d.OnPCM(pcm, rtpTimestamp)
	}
}

// PCMToLittleEndianBytes interleaves int16 samples into the raw byte
// form the AAC encoder's native input expects.
func PCMToLittleEndianBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
