package audio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeOpusBackend struct {
	samplesPerChannel int
	err               error
}

func (f *fakeOpusBackend) Decode(data []byte, pcm []int16) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	for i := range pcm[:f.samplesPerChannel*2] {
		pcm[i] = int16(i)
	}
	return f.samplesPerChannel, nil
}

func TestOpusDecoderForwardsPCMAndTimestamp(t *testing.T) {
	backend := &fakeOpusBackend{samplesPerChannel: 960}
	d := newOpusDecoderWithBackend(backend, 48000, 2)

	var gotPCM []int16
	var gotTS uint32
	d.OnPCM = func(pcm []int16, ts uint32) {
		gotPCM = pcm
		gotTS = ts
	}

	d.Decode([]byte{0x78, 0x01}, 4800)

	assert.Len(t, gotPCM, 960*2)
	assert.Equal(t, uint32(4800), gotTS)
}

func TestOpusDecoderDropsFailedFrame(t *testing.T) {
	backend := &fakeOpusBackend{err: errors.New("corrupt packet")}
	d := newOpusDecoderWithBackend(backend, 48000, 2)

	called := false
	d.OnPCM = func(pcm []int16, ts uint32) { called = true }

	d.Decode([]byte{0x78, 0x01}, 4800)
	assert.False(t, called)
}

func TestPCMToLittleEndianBytes(t *testing.T) {
	out := PCMToLittleEndianBytes([]int16{1, -1})
	assert.Equal(t, []byte{0x01, 0x00, 0xFF, 0xFF}, out)
}
