package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAACBackend struct {
	calls int
}

func (f *fakeAACBackend) Encode(pcm []byte) ([]byte, error) {
	f.calls++
	return []byte{0xFF, 0xF1, byte(f.calls)}, nil
}

func TestAACEncoderEmitsSequenceHeaderOnce(t *testing.T) {
	backend := &fakeAACBackend{}
	e := newAACEncoderWithBackend(backend, 48000, 2)

	var frames [][]byte
	var isHeader []bool
	e.OnFrame = func(payload []byte, seqHdr bool, pts uint32) {
		frames = append(frames, payload)
		isHeader = append(isHeader, seqHdr)
	}

	frame := make([]int16, aacFrameSamples*2)
	require.NoError(t, e.Feed(frame, 0))
	require.NoError(t, e.Feed(frame, 1024))

	require.Len(t, isHeader, 3, "sequence header + 2 encoded frames")
	assert.True(t, isHeader[0])
	assert.False(t, isHeader[1])
	assert.False(t, isHeader[2])
	assert.Equal(t, buildAudioSpecificConfig(48000, 2), frames[0])
}

func TestAACEncoderTimestampIsMidpointOfInputSpan(t *testing.T) {
	backend := &fakeAACBackend{}
	e := newAACEncoderWithBackend(backend, 48000, 2)

	var pts []uint32
	e.OnFrame = func(payload []byte, seqHdr bool, p uint32) {
		if !seqHdr {
			pts = append(pts, p)
		}
	}

	frame := make([]int16, aacFrameSamples*2)
	require.NoError(t, e.Feed(frame, 960))

	require.Len(t, pts, 1)
	assert.Equal(t, uint32(960+aacFrameSamples/2), pts[0])
}

func TestAACEncoderBuffersAcrossFeedCalls(t *testing.T) {
	backend := &fakeAACBackend{}
	e := newAACEncoderWithBackend(backend, 48000, 2)

	calls := 0
	e.OnFrame = func(payload []byte, seqHdr bool, p uint32) {
		if !seqHdr {
			calls++
		}
	}

	half := make([]int16, (aacFrameSamples/2)*2)
	require.NoError(t, e.Feed(half, 0))
	assert.Equal(t, 0, calls, "not enough samples yet for one AAC frame")

	require.NoError(t, e.Feed(half, 480))
	assert.Equal(t, 1, calls)
}
