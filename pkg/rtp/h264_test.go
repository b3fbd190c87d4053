package rtp

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleNALUPacket(seq uint16, ts uint32, nalu []byte) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Timestamp: ts},
		Payload: nalu,
	}
}

func TestH264SingleNALUEmitsOnNextTimestamp(t *testing.T) {
	p := NewH264Processor()

	var got []byte
	var gotTS uint32
	calls := 0
	p.OnFrame = func(au []byte, ts uint32, keyframe bool) {
		calls++
		got = au
		gotTS = ts
	}

	pframe := append([]byte{byte(NALUTypePFrame)}, []byte{1, 2, 3}...)
	require.NoError(t, p.ProcessPacket(singleNALUPacket(1, 1000, pframe)))
	assert.Equal(t, 0, calls, "access unit not flushed until the next timestamp arrives")

	next := append([]byte{byte(NALUTypePFrame)}, []byte{4, 5}...)
	require.NoError(t, p.ProcessPacket(singleNALUPacket(2, 2000, next)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, uint32(1000), gotTS)
	assert.Equal(t, []byte{0, 0, 0, 1}, got[:4], "Annex-B start code")
	assert.Equal(t, pframe, got[4:])
}

func TestH264KeyframePrependsSPSPPS(t *testing.T) {
	p := NewH264Processor()

	var got []byte
	var keyframe bool
	p.OnFrame = func(au []byte, ts uint32, kf bool) {
		got = au
		keyframe = kf
	}

	sps := append([]byte{byte(NALUTypeSPS)}, []byte{0xAA}...)
	pps := append([]byte{byte(NALUTypePPS)}, []byte{0xBB}...)
	idr := append([]byte{byte(NALUTypeIFrame)}, []byte{0xCC, 0xDD}...)

	require.NoError(t, p.ProcessPacket(singleNALUPacket(1, 1000, sps)))
	require.NoError(t, p.ProcessPacket(singleNALUPacket(2, 1000, pps)))
	require.NoError(t, p.ProcessPacket(singleNALUPacket(3, 1000, idr)))
	// advance timestamp to force the flush
	require.NoError(t, p.ProcessPacket(singleNALUPacket(4, 2000, []byte{byte(NALUTypePFrame), 0x01})))

	require.True(t, keyframe)
	expected := append(append(append([]byte{0, 0, 0, 1}, sps...), append([]byte{0, 0, 0, 1}, pps...)...), append([]byte{0, 0, 0, 1}, idr...)...)
	assert.Equal(t, expected, got)
}

func TestH264STAPASplitsIntoSeparateNALUs(t *testing.T) {
	p := NewH264Processor()

	var got []byte
	p.OnFrame = func(au []byte, ts uint32, kf bool) { got = au }

	nalu1 := []byte{byte(NALUTypePFrame), 0x01}
	nalu2 := []byte{byte(NALUTypePFrame), 0x02, 0x03}

	payload := []byte{NALUTypeSTAPA}
	payload = append(payload, 0x00, byte(len(nalu1)))
	payload = append(payload, nalu1...)
	payload = append(payload, 0x00, byte(len(nalu2)))
	payload = append(payload, nalu2...)

	require.NoError(t, p.ProcessPacket(singleNALUPacket(1, 1000, payload)))
	require.NoError(t, p.ProcessPacket(singleNALUPacket(2, 2000, []byte{byte(NALUTypePFrame), 0x09})))

	expected := append(append([]byte{0, 0, 0, 1}, nalu1...), append([]byte{0, 0, 0, 1}, nalu2...)...)
	assert.Equal(t, expected, got)
}

func TestH264FUAReassembly(t *testing.T) {
	p := NewH264Processor()

	var got []byte
	p.OnFrame = func(au []byte, ts uint32, kf bool) { got = au }

	naluType := byte(NALUTypeIFrame)
	fuIndicator := byte(0x60) // NRI bits, type replaced by FU-A marker in payload[0]&0x1F below
	_ = fuIndicator

	start := []byte{0x60 | NALUTypeFUA, 0x80 | naluType, 0xAA}
	mid := []byte{0x60 | NALUTypeFUA, naluType, 0xBB}
	end := []byte{0x60 | NALUTypeFUA, 0x40 | naluType, 0xCC}

	require.NoError(t, p.ProcessPacket(singleNALUPacket(1, 1000, start)))
	require.NoError(t, p.ProcessPacket(singleNALUPacket(2, 1000, mid)))
	require.NoError(t, p.ProcessPacket(singleNALUPacket(3, 1000, end)))
	require.NoError(t, p.ProcessPacket(singleNALUPacket(4, 2000, []byte{byte(NALUTypePFrame), 0x01})))

	reconstructed := []byte{0x60 | naluType, 0xAA, 0xBB, 0xCC}
	assert.Equal(t, []byte{0, 0, 0, 1}, got[:4])
	assert.Equal(t, reconstructed, got[4:])
}

func TestH264FlushEmitsPendingAccessUnit(t *testing.T) {
	p := NewH264Processor()

	calls := 0
	p.OnFrame = func(au []byte, ts uint32, kf bool) { calls++ }

	require.NoError(t, p.ProcessPacket(singleNALUPacket(1, 1000, []byte{byte(NALUTypePFrame), 0x01})))
	assert.Equal(t, 0, calls)

	p.Flush()
	assert.Equal(t, 1, calls)
}
