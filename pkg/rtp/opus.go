package rtp

import (
	"fmt"

	"github.com/pion/rtp"
)

// opusFrameCountTable maps the low 2 bits of the Opus TOC byte ("c", the
// frame-count code) to how the packet's frame count is determined: 0 and
// 1 mean exactly one or two frames; 2 means two frames of possibly
// different size (a second length byte follows); 3 means an arbitrary
// frame count given by a following byte. This processor does not need to
// know the exact sample count per packet — WebRTC delivers one Opus
// packet per RTP payload regardless of internal frame count. Every TOC
// value is accepted: only an empty payload is rejected, and the frame
// length bytes of code 2 and 3 packets are not checked.
const (
	opusCodeSingleFrame       = 0
	opusCodeTwoEqualFrames    = 1
	opusCodeTwoVariableFrames = 2
	opusCodeArbitraryFrames   = 3
)

// OpusProcessor depacketizes RTP payloads carrying Opus audio. Per the
// WebRTC/RTP binding for Opus, one RTP payload is exactly one Opus
// packet; no reassembly across packets is needed, only an empty-payload
// check and a pass-through to the decoder with the packet's RTP timestamp.
type OpusProcessor struct {
	// OnFrame is called with one Opus packet and the RTP timestamp it
	// arrived on (a 48 kHz clock, matching the Opus decoder's rate).
	OnFrame func(opusPacket []byte, rtpTimestamp uint32)
}

// NewOpusProcessor creates a new Opus RTP processor.
func NewOpusProcessor() *OpusProcessor {
	return &OpusProcessor{}
}

// ProcessPacket validates and forwards one RTP payload as an Opus
// packet.
func (p *OpusProcessor) ProcessPacket(packet *rtp.Packet) error {
	if len(packet.Payload) == 0 {
		return fmt.Errorf("empty opus payload")
	}

	toc := packet.Payload[0]
	code := toc & 0x03
	switch code {
	case opusCodeSingleFrame, opusCodeTwoEqualFrames, opusCodeTwoVariableFrames, opusCodeArbitraryFrames:
		// all four codes are structurally valid TOC values
	}

	if p.OnFrame != nil {
		p.OnFrame(packet.Payload, packet.Timestamp)
	}
	return nil
}

// opusFrameDurationMs returns the frame duration encoded by the TOC
// byte's configuration number (top 5 bits), per RFC 6716 §3.1. It is
// exposed for diagnostics and tests; the decoder itself does not need
// it since libopus derives duration internally.
func opusFrameDurationMs(toc byte) float64 {
	config := toc >> 3
	switch {
	case config < 12:
		// SILK-only: 10, 20, 40, or 60 ms, four configs per bandwidth tier
		durations := [4]float64{10, 20, 40, 60}
		return durations[config%4]
	case config < 16:
		// Hybrid: 10 or 20 ms
		if config%2 == 0 {
			return 10
		}
		return 20
	default:
		// CELT-only: 2.5, 5, 10, or 20 ms
		durations := [4]float64{2.5, 5, 10, 20}
		return durations[config%4]
	}
}
