package session

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/yutopp/go-flv/tag"

	"github.com/meetecho/pushstream-relay/pkg/audio"
	"github.com/meetecho/pushstream-relay/pkg/flv"
	"github.com/meetecho/pushstream-relay/pkg/logger"
	pkgrtp "github.com/meetecho/pushstream-relay/pkg/rtp"
	"github.com/meetecho/pushstream-relay/pkg/rtmp"
)

// pipeline wires one session's media path: RTP depacketizers feed the
// simulcast selector (video) and the Opus decoder (audio); decoded
// audio feeds the AAC encoder; both encoded tracks feed the FLV muxer,
// which feeds the RTMP publisher. Built once per `record`, torn down
// once per `stop`.
type pipeline struct {
	video    *pkgrtp.H264Processor
	audio    *pkgrtp.OpusProcessor
	selector *pkgrtp.Selector
	decoder  *audio.OpusDecoder
	encoder  *audio.AACEncoder
	muxer    *flv.Muxer
	rtmp     *rtmp.Client

	errMu   sync.Mutex
	lastErr error
}

// pipelineConfig carries the parameters a pipeline needs that come
// from the session's current configure state and the record request.
type pipelineConfig struct {
	rtmpURL          string
	connectTimeoutMs int
	sendTimeoutMs    int
	chunkSize        int
	sampleRate       int
	channels         int
	bitrate          int
}

// newPipeline constructs every stage and connects an RTMP publisher.
// Construction order matches the resource-creation error codes in
// §7: RTMP first (500), then FLV muxer (501), AAC encoder (502), Opus
// decoder (503); RTP depacketizers never fail to construct (504/505
// are reserved for the source's symmetrical error taxonomy but this
// port's depacketizer constructors carry no fallible setup).
func newPipeline(ctx context.Context, cfg pipelineConfig) (*pipeline, error) {
	rtmpClient := rtmp.NewClient(rtmp.ConfigFromMillis(cfg.connectTimeoutMs, cfg.sendTimeoutMs, cfg.chunkSize))
	if err := rtmpClient.Connect(ctx, cfg.rtmpURL); err != nil {
		return nil, newError(ErrRTMPCreate, "rtmp client create failed: %v", err)
	}

	muxer := flv.NewMuxer()

	encoder, err := audio.NewAACEncoder(cfg.sampleRate, cfg.channels, cfg.bitrate)
	if err != nil {
		rtmpClient.Close()
		return nil, newError(ErrAACEncoderInit, "aac encoder create failed: %v", err)
	}

	decoder, err := audio.NewOpusDecoder(cfg.sampleRate, cfg.channels)
	if err != nil {
		rtmpClient.Close()
		return nil, newError(ErrOpusDecoderInit, "opus decoder create failed: %v", err)
	}

	p := &pipeline{
		video:    pkgrtp.NewH264Processor(),
		audio:    pkgrtp.NewOpusProcessor(),
		selector: pkgrtp.NewSelector(),
		decoder:  decoder,
		encoder:  encoder,
		muxer:    muxer,
		rtmp:     rtmpClient,
	}

	// A read-loop failure (closed socket, peer reset) is a transport
	// error (category e) exactly like a publish-side send failure; both
	// funnel through the same sticky pipeline error the session polls.
	rtmpClient.OnFatal = p.recordErr

	// Audio: Opus packet -> PCM -> AAC/ADTS -> FLV audio tag -> RTMP.
	p.audio.OnFrame = func(opusPacket []byte, rtpTimestamp uint32) {
		p.decoder.Decode(opusPacket, rtpTimestamp)
	}
	p.decoder.OnPCM = func(pcm []int16, rtpTimestamp uint32) {
		if err := p.encoder.Feed(pcm, rtpTimestamp); err != nil {
			// Encode failures are media errors (category d): logged and
			// dropped, the session continues.
			logger.Default().DebugSession("aac encode failed, dropping frame", "error", err, "timestamp", rtpTimestamp)
			return
		}
	}
	p.encoder.OnFrame = func(payload []byte, isSequenceHeader bool, ptsRTP uint32) {
		p.muxer.PutAudio(payload, isSequenceHeader, ptsRTP)
	}

	// Video: RTP -> simulcast selection -> Annex-B access unit -> FLV
	// video tag -> RTMP. The selector governs which SSRC's packets ever
	// reach the depacketizer; PLI is requested through OnRequestPLI,
	// wired by the session so it can reach the right RTCP feedback path.
	p.video.OnFrame = func(accessUnit []byte, rtpTimestamp uint32, keyframe bool) {
		p.muxer.PutVideo(accessUnit, keyframe, rtpTimestamp, p.video.GetSPS(), p.video.GetPPS())
	}

	// FLV tags become RTMP messages directly; PutAudio/PutVideo already
	// rebase timestamps to a per-track origin in milliseconds.
	p.muxer.OnTag = func(t flv.Tag) {
		var pubErr error
		switch {
		case isAudioTag(t):
			pubErr = p.rtmp.PublishAudio(t.TimestampMs, t.Body)
		default:
			pubErr = p.rtmp.PublishVideo(t.TimestampMs, t.Body)
		}
		if pubErr != nil {
			// Surfaced to the session via the pipeline's sticky error so
			// the next ingress callback can trigger teardown; RTMP
			// send failures are a transport error (category e), fatal.
			p.recordErr(pubErr)
		}
	}

	return p, nil
}

func isAudioTag(t flv.Tag) bool {
	return t.Type == tag.TagTypeAudio
}

func (p *pipeline) recordErr(err error) {
	p.errMu.Lock()
	p.lastErr = err
	p.errMu.Unlock()
}

// Err returns the last fatal transport error observed by the RTMP
// publish callback, if any. The session polls this after each ingress
// callback to decide whether to initiate teardown.
func (p *pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

// ProcessVideoRTP runs one video RTP packet through the simulcast
// selector and, if accepted, the H.264 depacketizer.
func (p *pipeline) ProcessVideoRTP(pkt *rtp.Packet) error {
	keyframeStart := isH264KeyframeStart(pkt.Payload)
	keep, outSeq, outTS := p.selector.Process(pkt.SSRC, pkt.SequenceNumber, pkt.Timestamp, keyframeStart)
	if !keep {
		return nil
	}
	pkt.SequenceNumber = outSeq
	pkt.Timestamp = outTS
	return p.video.ProcessPacket(pkt)
}

// isH264KeyframeStart reports whether payload begins a NAL unit (or
// FU-A fragment) carrying an IDR, the trigger the selector requires
// before committing a substream switch.
func isH264KeyframeStart(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	naluType := payload[0] & 0x1F
	const fuA = 28
	if naluType == fuA {
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		fragType := payload[1] & 0x1F
		return start && fragType == 5
	}
	return naluType == 5
}

// ProcessAudioRTP runs one audio RTP packet through the Opus
// depacketizer.
func (p *pipeline) ProcessAudioRTP(pkt *rtp.Packet) error {
	return p.audio.ProcessPacket(pkt)
}

// Close tears down the publisher, flushing any in-flight access unit
// first.
func (p *pipeline) Close() error {
	p.video.Flush()
	return p.rtmp.Stop()
}
