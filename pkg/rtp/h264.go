package rtp

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

const (
	// NAL Unit types
	NALUTypeUnspecified = 0
	NALUTypePFrame      = 1
	NALUTypeIFrame      = 5
	NALUTypeSEI         = 6
	NALUTypeSPS         = 7
	NALUTypePPS         = 8
	NALUTypeAUD         = 9
	NALUTypeSTAPA       = 24 // Single-Time Aggregation Packet
	NALUTypeFUA         = 28 // Fragmentation Unit A
)

// annexBStartCode is prepended to every NAL unit in the access units this
// processor emits. The FLV muxer's AVCDecoderConfigurationRecord and
// length-prefixed NALU tags are built from this Annex-B stream, not the
// other way around.
var annexBStartCode = [4]byte{0x00, 0x00, 0x00, 0x01}

// accessUnit accumulates the NAL units sharing one RTP timestamp.
type accessUnit struct {
	valid     bool
	timestamp uint32
	buf       []byte
	keyframe  bool
}

// H264Processor depacketizes an RFC 6184 RTP stream (single NAL, STAP-A,
// FU-A) into Annex-B access units. NAL units sharing an RTP timestamp are
// accumulated into one access unit; the unit is emitted as soon as a NAL
// unit for the *next* timestamp arrives, not on the RTP marker bit — a
// sender that never sets marker correctly still produces correct output.
type H264Processor struct {
	buffer []byte // fragment-reassembly buffer for FU-A
	sps    []byte
	pps    []byte
	au     accessUnit

	// OnFrame is called with one Annex-B access unit, the RTP timestamp
	// it was accumulated under, and whether it contains an IDR.
	OnFrame func(accessUnit []byte, rtpTimestamp uint32, keyframe bool)
}

// NewH264Processor creates a new H.264 RTP processor.
func NewH264Processor() *H264Processor {
	return &H264Processor{
		buffer: make([]byte, 0, 1024*1024),
	}
}

// ProcessPacket processes an RTP packet containing H.264 data.
func (p *H264Processor) ProcessPacket(packet *rtp.Packet) error {
	if len(packet.Payload) == 0 {
		return nil
	}

	payload := packet.Payload
	naluType := payload[0] & 0x1F

	switch naluType {
	case NALUTypeFUA:
		return p.processFUA(packet)
	case NALUTypeSTAPA:
		return p.processSTAPA(packet)
	default:
		return p.processSingleNALU(packet)
	}
}

// Flush emits any access unit still accumulating, for use at teardown
// when no further RTP packets will arrive to trigger the boundary rule.
func (p *H264Processor) Flush() {
	p.emit()
}

func (p *H264Processor) processFUA(packet *rtp.Packet) error {
	if len(packet.Payload) < 2 {
		return fmt.Errorf("FU-A packet too short")
	}

	fuIndicator := packet.Payload[0]
	fuHeader := packet.Payload[1]
	fragment := packet.Payload[2:]

	start := (fuHeader & 0x80) != 0
	end := (fuHeader & 0x40) != 0
	naluType := fuHeader & 0x1F

	if start {
		p.buffer = p.buffer[:0]
		nalHeader := (fuIndicator & 0xE0) | naluType
		p.buffer = append(p.buffer, nalHeader)
	}

	p.buffer = append(p.buffer, fragment...)

	if end {
		p.appendNALU(p.buffer, naluType, packet.Timestamp)
	}

	return nil
}

func (p *H264Processor) processSTAPA(packet *rtp.Packet) error {
	payload := packet.Payload[1:] // skip STAP-A header byte

	for len(payload) > 2 {
		naluSize := binary.BigEndian.Uint16(payload[:2])
		payload = payload[2:]

		if len(payload) < int(naluSize) {
			return fmt.Errorf("STAP-A NALU size exceeds payload")
		}

		nalu := payload[:naluSize]
		payload = payload[naluSize:]

		naluType := nalu[0] & 0x1F
		p.appendNALU(nalu, naluType, packet.Timestamp)
	}

	return nil
}

func (p *H264Processor) processSingleNALU(packet *rtp.Packet) error {
	nalu := packet.Payload
	naluType := nalu[0] & 0x1F
	p.appendNALU(nalu, naluType, packet.Timestamp)
	return nil
}

// appendNALU accumulates one reassembled NAL unit into the current
// access unit, flushing the prior access unit first if this NAL unit
// belongs to a new RTP timestamp.
func (p *H264Processor) appendNALU(nalu []byte, naluType uint8, timestamp uint32) {
	if p.au.valid && timestamp != p.au.timestamp {
		p.emit()
	}
	if !p.au.valid {
		p.au = accessUnit{valid: true, timestamp: timestamp}
	}

	switch naluType {
	case NALUTypeSPS:
		p.sps = append(p.sps[:0], nalu...)
		return // SPS is buffered, never flushed alone
	case NALUTypePPS:
		p.pps = append(p.pps[:0], nalu...)
		return // PPS is buffered, never flushed alone
	case NALUTypeIFrame:
		if len(p.sps) > 0 && len(p.pps) > 0 {
			p.au.buf = appendAnnexB(p.au.buf, p.sps)
			p.au.buf = appendAnnexB(p.au.buf, p.pps)
		}
		p.au.buf = appendAnnexB(p.au.buf, nalu)
		p.au.keyframe = true
	default:
		p.au.buf = appendAnnexB(p.au.buf, nalu)
	}
}

func (p *H264Processor) emit() {
	if p.au.valid && len(p.au.buf) > 0 && p.OnFrame != nil {
		p.OnFrame(p.au.buf, p.au.timestamp, p.au.keyframe)
	}
	p.au = accessUnit{}
}

// appendAnnexB appends a NALU prefixed with the Annex-B start code.
func appendAnnexB(dst, nalu []byte) []byte {
	dst = append(dst, annexBStartCode[:]...)
	return append(dst, nalu...)
}

// GetSPS returns the most recently seen SPS.
func (p *H264Processor) GetSPS() []byte {
	return p.sps
}

// GetPPS returns the most recently seen PPS.
func (p *H264Processor) GetPPS() []byte {
	return p.pps
}
