package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectorDefaultsToFirstSeenSSRC(t *testing.T) {
	s := NewSelector()
	s.DeclareSSRC(0, 100)
	s.DeclareSSRC(1, 200)
	s.DeclareSSRC(2, 300)

	keep, outSeq, outTS := s.Process(100, 10, 1000, false)
	assert.True(t, keep)
	assert.Equal(t, uint16(10), outSeq)
	assert.Equal(t, uint32(1000), outTS)
}

func TestSelectorRejectsNonActiveNonTargetSSRC(t *testing.T) {
	s := NewSelector()
	s.DeclareSSRC(0, 100)
	s.DeclareSSRC(1, 200)
	s.DeclareSSRC(2, 300)
	s.SetTargetSubstream(0)

	s.Process(100, 1, 1000, false)

	keep, _, _ := s.Process(200, 1, 1000, true)
	assert.False(t, keep, "substream 1 is neither active nor target")
}

func TestSelectorSwitchRequiresKeyframe(t *testing.T) {
	s := NewSelector() // target defaults to substream 2
	s.DeclareSSRC(0, 100)
	s.DeclareSSRC(2, 300)

	pliCount := 0
	s.OnRequestPLI = func() { pliCount++ }

	// First packet establishes substream 2 (SSRC 300) as active.
	keep, _, _ := s.Process(300, 1, 1000, false)
	assert.True(t, keep)
	assert.Equal(t, 0, pliCount)

	// Retargeting to substream 0 is not yet active: exactly one PLI.
	s.SetTargetSubstream(0)
	assert.Equal(t, 1, pliCount)

	keep, _, _ = s.Process(100, 50, 5000, false)
	assert.False(t, keep, "non-keyframe packet on target substream is dropped pending a keyframe")

	keep, outSeq, outTS := s.Process(100, 50, 5000, true)
	assert.True(t, keep)
	assert.True(t, outSeq > 1, "sequence continues monotonically after the switch")
	assert.True(t, outTS > 1000, "timestamp continues monotonically after the switch")
	assert.Equal(t, 1, pliCount, "the switch itself does not request another PLI")
}

func TestSelectorSequenceStrictlyIncreasingAcrossSwitch(t *testing.T) {
	s := NewSelector()
	s.DeclareSSRC(0, 100)
	s.DeclareSSRC(2, 300)
	s.SetTargetSubstream(2)

	var lastSeq uint16
	for i := uint16(0); i < 5; i++ {
		_, outSeq, _ := s.Process(300, i, uint32(i)*3000, false)
		lastSeq = outSeq
	}

	s.SetTargetSubstream(0)
	_, switchedSeq, _ := s.Process(100, 1000, 999000, true)

	assert.Equal(t, lastSeq+1, switchedSeq)
}

func TestRewriteVP8PreservesLengthAndOffsetsOnSwitch(t *testing.T) {
	s := NewSelector()

	// X=1, I=1, L=1, M=0 (7-bit picture id)
	payload := []byte{0x80, 0xC0, 0x05, 0x02, 0xFF, 0xFF}
	err := s.RewriteVP8(payload, false)
	assert.NoError(t, err)
	assert.Equal(t, byte(0x05), payload[2]&0x7F)
	assert.Equal(t, byte(0x02), payload[3])

	switched := []byte{0x80, 0xC0, 0x01, 0x00, 0xAA}
	err = s.RewriteVP8(switched, true)
	assert.NoError(t, err)
	assert.Equal(t, byte(6), switched[2]&0x7F, "picture id continues from 5 -> 6 across the switch")
	assert.Equal(t, byte(3), switched[3], "tl0picidx continues from 2 -> 3 across the switch")
}
