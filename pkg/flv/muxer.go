package flv

import (
	"sync"

	"github.com/meetecho/pushstream-relay/pkg/logger"
	"github.com/yutopp/go-flv/tag"
)

const (
	audioClockHz = 48 // RTP clock / audioClockHz = milliseconds (48 kHz)
	videoClockHz = 90 // RTP clock / videoClockHz = milliseconds (90 kHz)
)

// Muxer owns per-track PTS origins and turns decoded audio/video
// access units into FLV tags, per §4.5. Exactly one AAC sequence
// header precedes any AAC raw tag and exactly one AVC configuration
// record precedes any AVC NALU tag, for the life of one publish.
type Muxer struct {
	mu sync.Mutex

	haveAudioOrigin bool
	audioOriginRTP  uint32
	audioSeqSent    bool

	haveVideoOrigin bool
	videoOriginRTP  uint32
	videoSeqSent    bool

	// OnTag is invoked for each tag produced, in emission order.
	OnTag func(Tag)
}

// NewMuxer creates an empty muxer for one publish.
func NewMuxer() *Muxer {
	return &Muxer{}
}

// PutAudio consumes one encoded AAC unit. isSequenceHeader selects
// between the one-time AudioSpecificConfig tag and a raw-frame tag;
// payload is the ASC bytes or the ADTS frame, respectively — §4.5's
// audio-tag first byte (0xAF, stereo/44.1kHz-flagged regardless of the
// true source rate) is fixed here, matching the FLV AAC convention
// that the container's sound-rate/size/type flags are nominal and the
// real parameters live in the AudioSpecificConfig.
func (m *Muxer) PutAudio(payload []byte, isSequenceHeader bool, ptsRTP uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveAudioOrigin {
		m.audioOriginRTP = ptsRTP
		m.haveAudioOrigin = true
	}
	ts := (ptsRTP - m.audioOriginRTP) / audioClockHz

	if isSequenceHeader {
		if m.audioSeqSent {
			logger.Default().DebugFLV("duplicate AAC sequence header suppressed")
			return
		}
		m.audioSeqSent = true
	} else if !m.audioSeqSent {
		logger.Default().DebugFLV("dropping AAC frame before sequence header is available")
		return
	}

	body := make([]byte, 0, len(payload)+2)
	body = append(body, audioTagHeaderByte())
	if isSequenceHeader {
		body = append(body, byte(tag.AACPacketTypeSequenceHeader))
	} else {
		body = append(body, byte(tag.AACPacketTypeRaw))
	}
	body = append(body, payload...)

	m.emit(tag.TagTypeAudio, ts, body)
}

func audioTagHeaderByte() byte {
	// SoundFormat=AAC(10)<<4 | SoundRate=44kHz(3)<<2 | SoundSize=16bit(1)<<1 | SoundType=stereo(1)
	return byte(tag.SoundFormatAAC)<<4 | byte(tag.SoundRate44kHz)<<2 | byte(tag.SoundSize16Bit)<<1 | byte(tag.SoundTypeStereo)
}

// PutVideo consumes one Annex-B access unit. keyframe must be true iff
// the unit contains an IDR; sps/pps are required (and only used) on
// the first keyframe, to build the AVCDecoderConfigurationRecord.
func (m *Muxer) PutVideo(accessUnit []byte, keyframe bool, ptsRTP uint32, sps, pps []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.haveVideoOrigin {
		m.videoOriginRTP = ptsRTP
		m.haveVideoOrigin = true
	}
	ts := (ptsRTP - m.videoOriginRTP) / videoClockHz

	if !m.videoSeqSent {
		if !keyframe {
			logger.Default().DebugFLV("dropping inter frame before first keyframe")
			return
		}
		avcc, err := buildAVCDecoderConfigurationRecord(sps, pps)
		if err != nil {
			logger.Default().DebugFLV("failed to build AVCDecoderConfigurationRecord", "error", err)
			return
		}
		cfgBody := make([]byte, 0, len(avcc)+5)
		cfgBody = append(cfgBody, 0x17, 0x00, 0x00, 0x00, 0x00) // keyframe, AVC, seq header, CT=0
		cfgBody = append(cfgBody, avcc...)
		m.emit(tag.TagTypeVideo, ts, cfgBody)
		m.videoSeqSent = true
	}

	firstByte := byte(0x27) // inter frame, AVC
	if keyframe {
		firstByte = 0x17
	}
	body := make([]byte, 0, len(accessUnit)+5)
	// CT (composition time, PTS-DTS) is always 0: this muxer has no
	// B-frames and no separate DTS to offset against, since the
	// selector only emits access units in the order they arrive.
	body = append(body, firstByte, 0x01, 0x00, 0x00, 0x00) // AVCPacketType=NALU, CT=0
	body = append(body, annexBToLengthPrefixed(accessUnit)...)

	m.emit(tag.TagTypeVideo, ts, body)
}

func (m *Muxer) emit(tagType tag.TagType, ts uint32, body []byte) {
	logger.Default().DebugFLVTag(tagTypeName(tagType), len(body), ts)
	if m.OnTag != nil {
		m.OnTag(Tag{Type: tagType, TimestampMs: ts, Body: body})
	}
}

func tagTypeName(t tag.TagType) string {
	switch t {
	case tag.TagTypeAudio:
		return "audio"
	case tag.TagTypeVideo:
		return "video"
	case tag.TagTypeScriptData:
		return "script"
	default:
		return "unknown"
	}
}
