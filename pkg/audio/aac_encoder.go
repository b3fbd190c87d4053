package audio

import (
	"fmt"

	"github.com/Glimesh/go-fdkaac/fdkaac"
)

// aacFrameSamples is the AAC-LC frame length (samples per channel),
// per §4.4.
const aacFrameSamples = 1024

// defaultBitrate is the CBR default, per §4.4.
const defaultBitrate = 64000

// aacEncoderBackend is the subset of *fdkaac.AacEncoder this package
// depends on, seamed out so the PCM-buffering and timestamp-midpoint
// logic can be exercised without the cgo-backed fdk-aac encoder.
type aacEncoderBackend interface {
	Encode(pcm []byte) ([]byte, error)
}

// AACEncoder buffers incoming PCM into 1024-sample frames and encodes
// each as AAC-LC/ADTS, per §4.4. On the first encoded frame it emits
// an AudioSpecificConfig once via OnFrame(..., isSequenceHeader=true)
// and never again for the life of the encoder.
type AACEncoder struct {
	backend    aacEncoderBackend
	sampleRate int
	channels   int

	pcmBuf     []int16
	bufStartTS uint32
	haveBuf    bool
	ascEmitted bool

	// OnFrame receives one encoded unit: either the one-time
	// AudioSpecificConfig (isSequenceHeader=true) or a raw ADTS AAC
	// frame (isSequenceHeader=false), with the output PTS in the same
	// 48 kHz clock the RTP timestamps arrived on.
	OnFrame func(payload []byte, isSequenceHeader bool, ptsRTP uint32)
}

// NewAACEncoder creates an AAC-LC/ADTS encoder at the given CBR bitrate
// (0 selects defaultBitrate).
func NewAACEncoder(sampleRate, channels, bitrate int) (*AACEncoder, error) {
	if bitrate <= 0 {
		bitrate = defaultBitrate
	}

	enc := fdkaac.NewAacEncoder()
	err := enc.InitRaw(fdkaac.AacEncoderOptions{
		AOT:         fdkaac.AOT_AAC_LC,
		SampleRate:  sampleRate,
		ChannelMode: channelMode(channels),
		Bitrate:     bitrate,
		BitrateMode: 0, // CBR
		Afterburner: 1,
		TransportType: fdkaac.TransportTypeADTS,
	})
	if err != nil {
		return nil, fmt.Errorf("aac: init encoder: %w", err)
	}

	return newAACEncoderWithBackend(enc, sampleRate, channels), nil
}

func newAACEncoderWithBackend(backend aacEncoderBackend, sampleRate, channels int) *AACEncoder {
	return &AACEncoder{
		backend:    backend,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func channelMode(channels int) fdkaac.ChannelMode {
	switch channels {
	case 1:
		return fdkaac.MODE_1
	case 2:
		return fdkaac.MODE_2
	default:
		return fdkaac.MODE_2
	}
}

// Feed appends one decoded PCM frame (interleaved int16 samples,
// `rtpTimestamp` covering its first sample) to the accumulation
// buffer, encoding and emitting every complete 1024-sample frame it
// produces. Opus's 20 ms frames and AAC's 21.33 ms frames don't align,
// so frames straddle PCM segment boundaries by design; bufStartTS is
// the 48 kHz-clock timestamp of the oldest buffered sample.
func (e *AACEncoder) Feed(pcm []int16, rtpTimestamp uint32) error {
	if !e.haveBuf {
		e.bufStartTS = rtpTimestamp
		e.haveBuf = true
	}
	e.pcmBuf = append(e.pcmBuf, pcm...)

	frameLen := aacFrameSamples * e.channels
	for len(e.pcmBuf) >= frameLen {
		frame := e.pcmBuf[:frameLen]
		if err := e.encodeFrame(frame); err != nil {
			return err
		}
		remaining := len(e.pcmBuf) - frameLen
		copy(e.pcmBuf, e.pcmBuf[frameLen:])
		e.pcmBuf = e.pcmBuf[:remaining]
		e.bufStartTS += aacFrameSamples
	}
	return nil
}

func (e *AACEncoder) encodeFrame(frame []int16) error {
	out, err := e.backend.Encode(PCMToLittleEndianBytes(frame))
	if err != nil {
		return fmt.Errorf("aac: encode: %w", err)
	}

	// Midpoint of the frame's input PCM span, per §4.4.
	ptsRTP := e.bufStartTS + aacFrameSamples/2

	if !e.ascEmitted {
		asc := buildAudioSpecificConfig(e.sampleRate, e.channels)
		if e.OnFrame != nil {
			e.OnFrame(asc, true, ptsRTP)
		}
		e.ascEmitted = true
	}

	if e.OnFrame != nil {
		e.OnFrame(out, false, ptsRTP)
	}
	return nil
}
