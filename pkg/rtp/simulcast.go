package rtp

import "sync"

// DefaultTargetSubstream is the substream selected when a publisher
// first offers simulcast and no explicit preference has been set: the
// highest-quality of the (up to three) declared layers.
const DefaultTargetSubstream = 2

// Selector picks one of up to three simulcast SSRCs as the active
// source for a track and re-stamps its RTP sequence numbers (and,
// for VP8, its picture-id/tl0picidx) so that a substream switch is
// invisible to anything consuming the selected stream: sequence
// numbers stay strictly increasing modulo 2^16 across the switch.
//
// Selector does not touch RTP payload bytes for H.264 — rewriting
// the picture-id/tl0picidx fields only applies when VP8 is the
// negotiated codec, per the component design.
type Selector struct {
	mu sync.Mutex

	ssrcs  [3]uint32 // substream index -> SSRC, 0 = not yet seen
	target int       // target substream index, 0..2

	active          uint32
	activeSubstream int
	haveActive      bool

	seqOffset uint16
	tsOffset  uint32
	lastOutSeq uint16
	lastOutTS  uint32
	haveOutput bool

	vp8 vp8RewriteState

	// OnRequestPLI is invoked once, synchronously, when a substream
	// switch is decided (the target changed to a substream we are not
	// currently receiving keyframes on) — never per-packet.
	OnRequestPLI func()
}

// NewSelector creates a Selector defaulting to DefaultTargetSubstream.
func NewSelector() *Selector {
	return &Selector{target: DefaultTargetSubstream, activeSubstream: -1}
}

// DeclareSSRC records which SSRC carries a given simulcast substream
// index (0, 1, or 2), as parsed from the offer's a=simulcast/a=ssrc
// lines by the SDP layer this component treats as external.
func (s *Selector) DeclareSSRC(substream int, ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if substream < 0 || substream > 2 {
		return
	}
	s.ssrcs[substream] = ssrc
}

// SetTargetSubstream changes which substream the selector prefers.
// If the new target is not the one currently active, a switch is
// decided immediately and OnRequestPLI fires once so the publisher is
// asked for a keyframe on the target substream; the switch itself
// only takes effect once such a keyframe is observed in Process.
func (s *Selector) SetTargetSubstream(substream int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if substream == s.target {
		return
	}
	s.target = substream
	if substream != s.activeSubstream && s.OnRequestPLI != nil {
		s.OnRequestPLI()
	}
}

// ActiveSSRC returns the SSRC currently selected as active, or 0 if no
// packet has been processed yet. Used to target RTCP feedback (REMB,
// FIR, PLI) at whichever simulcast substream is actually flowing.
func (s *Selector) ActiveSSRC() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Selector) substreamOf(ssrc uint32) int {
	for i, v := range s.ssrcs {
		if v == ssrc {
			return i
		}
	}
	return -1
}

// Process decides whether to keep a packet and, if so, its re-stamped
// sequence number and timestamp. keyframeStart indicates the packet
// begins a key frame (required before a switch onto a non-active
// substream is accepted).
func (s *Selector) Process(ssrc uint32, seq uint16, ts uint32, keyframeStart bool) (keep bool, outSeq uint16, outTS uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveActive {
		s.active = ssrc
		s.activeSubstream = s.substreamOf(ssrc)
		s.haveActive = true
		s.seqOffset = 0
		s.tsOffset = 0
	} else if ssrc != s.active {
		wantSwitch := s.substreamOf(ssrc) == s.target && s.target != s.activeSubstream
		if !wantSwitch || !keyframeStart {
			return false, 0, 0
		}
		// Perform the switch: re-stamp so output continues from the
		// last emitted seq/ts with no visible discontinuity.
		if s.haveOutput {
			s.seqOffset = s.lastOutSeq + 1 - seq
			s.tsOffset = s.lastOutTS + 3000 - ts // ~one frame tick at 90kHz/30fps
		} else {
			s.seqOffset = 0
			s.tsOffset = 0
		}
		s.active = ssrc
		s.activeSubstream = s.substreamOf(ssrc)
	}

	outSeq = seq + s.seqOffset
	outTS = ts + s.tsOffset
	s.lastOutSeq = outSeq
	s.lastOutTS = outTS
	s.haveOutput = true
	return true, outSeq, outTS
}

// vp8RewriteState tracks the picture-id/tl0picidx offsets applied
// across a substream switch.
type vp8RewriteState struct {
	pictureIDOffset  uint16
	tl0PicIdxOffset  uint8
	lastOutPictureID uint16
	lastOutTl0PicIdx uint8
	have             bool
}

// RewriteVP8 rewrites the picture-id and tl0picidx fields of a VP8
// RTP payload descriptor in place, maintaining continuity across the
// substream switch the same way Process maintains RTP sequence
// continuity. payload must be the full VP8 RTP payload (descriptor +
// frame data); switched indicates Process just reported a substream
// switch on this packet.
func (s *Selector) RewriteVP8(payload []byte, switched bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, err := parseVP8Descriptor(payload)
	if err != nil {
		return err
	}

	if !s.vp8.have {
		s.vp8.pictureIDOffset = 0
		s.vp8.tl0PicIdxOffset = 0
	} else if switched {
		s.vp8.pictureIDOffset = s.vp8.lastOutPictureID + 1 - desc.pictureID
		s.vp8.tl0PicIdxOffset = s.vp8.lastOutTl0PicIdx + 1 - desc.tl0PicIdx
	}

	newPictureID := desc.pictureID + s.vp8.pictureIDOffset
	newTl0PicIdx := desc.tl0PicIdx + s.vp8.tl0PicIdxOffset

	writeVP8Descriptor(payload, desc, newPictureID, newTl0PicIdx)

	s.vp8.lastOutPictureID = newPictureID
	s.vp8.lastOutTl0PicIdx = newTl0PicIdx
	s.vp8.have = true
	return nil
}
