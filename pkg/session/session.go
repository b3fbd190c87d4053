// Package session implements the per-connection state machine this
// plugin drives: Idle -> Negotiating -> Publishing -> HangingUp ->
// Closed, the RTP/audio/FLV/RTMP pipeline each Publishing session
// owns, and the RTCP feedback scheduler that rides along with it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/meetecho/pushstream-relay/pkg/logger"
)

// State is one of the five states in the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StatePublishing
	StateHangingUp
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StatePublishing:
		return "publishing"
	case StateHangingUp:
		return "hanging_up"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one gateway-facing handle: one PeerConnection's worth of
// control-plane state and, once Publishing, one media pipeline.
type Session struct {
	id      string
	gateway Gateway

	mu                sync.Mutex
	state             State
	videoBitrateMax   int
	keyframeIntervalMs int
	recordingID       int

	pipeline *pipeline
	rtcpSched *rtcpScheduler

	hangingUp atomic.Bool
	wg        sync.WaitGroup

	rtmpDefaults RTMPDefaults
}

// RTMPDefaults carries the configured connect/send timeouts and chunk
// size a pipeline's RTMP client is constructed with.
type RTMPDefaults struct {
	ConnectTimeoutMs int
	SendTimeoutMs    int
	ChunkSize        int
}

// New creates an Idle session.
func New(id string, gateway Gateway, rtmpDefaults RTMPDefaults) *Session {
	return &Session{
		id:                 id,
		gateway:            gateway,
		state:              StateIdle,
		videoBitrateMax:    2_000_000,
		keyframeIntervalMs: 2000,
		rtmpDefaults:       rtmpDefaults,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleRequest dispatches one decoded request envelope. Synchronous
// requests (configure) return inline; record/play/start/stop are
// meant to be queued by the caller (pkg/dispatcher) and invoked here
// from the single worker goroutine, so no further internal queuing
// happens.
func (s *Session) HandleRequest(ctx context.Context, transactionID string, req Request, jsep json.RawMessage) error {
	switch req.Request {
	case "configure":
		return s.handleConfigure(transactionID, req.Raw)
	case "record":
		return s.handleRecord(ctx, transactionID, req.Raw, jsep)
	case "play":
		return s.handlePlay(transactionID, req.Raw)
	case "start":
		return s.handleStart(transactionID, jsep)
	case "stop":
		return s.handleStop(transactionID)
	case "":
		return s.reportError(transactionID, newError(ErrNoMessage, "no request field"))
	default:
		return s.reportError(transactionID, newError(ErrInvalidRequest, "unrecognized request %q", req.Request))
	}
}

func (s *Session) handleConfigure(transactionID string, raw json.RawMessage) error {
	var body ConfigureRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return s.reportError(transactionID, newError(ErrInvalidJSON, "configure: %v", err))
	}

	s.mu.Lock()
	if body.VideoBitrateMax != nil {
		v := *body.VideoBitrateMax
		if v < 0 {
			v = 0
		}
		s.videoBitrateMax = v
	}
	if body.VideoKeyframeInterval != nil {
		v := *body.VideoKeyframeInterval
		if v < 1000 {
			v = 1000
		}
		s.keyframeIntervalMs = v
	}
	bitrate := s.videoBitrateMax
	interval := s.keyframeIntervalMs
	sched := s.rtcpSched
	s.mu.Unlock()

	if sched != nil {
		sched.SetBitrate(uint64(bitrate))
		sched.SetKeyframeInterval(interval)
	}

	ack := AckEvent{
		Pushstream: "configure",
		Status:     "ok",
		Settings: map[string]interface{}{
			"video-bitrate-max":      bitrate,
			"video-keyframe-interval": interval,
		},
	}
	return s.pushJSON(transactionID, ack, nil)
}

func (s *Session) handleRecord(ctx context.Context, transactionID string, raw json.RawMessage, jsep json.RawMessage) error {
	var body RecordRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return s.reportError(transactionID, newError(ErrInvalidJSON, "record: %v", err))
	}
	if body.Name == "" {
		return s.reportError(transactionID, newError(ErrMissingElement, "record requires non-empty name"))
	}
	if len(body.RTMP) < 28 || !hasRTMPScheme(body.RTMP) {
		return s.reportError(transactionID, newError(ErrInvalidElement, "record.rtmp must be an rtmp:// url of at least 28 characters"))
	}
	if len(jsep) == 0 {
		return s.reportError(transactionID, newError(ErrInvalidSDP, "record requires a JSEP offer"))
	}
	var offer Jsep
	if err := json.Unmarshal(jsep, &offer); err != nil {
		return s.reportError(transactionID, newError(ErrInvalidSDP, "record jsep: %v", err))
	}
	answer, err := buildAnswer(offer)
	if err != nil {
		return s.reportError(transactionID, newError(ErrInvalidSDP, "record jsep: %v", err))
	}
	answerBody, err := json.Marshal(answer)
	if err != nil {
		return s.reportError(transactionID, newError(ErrInvalidSDP, "record jsep: %v", err))
	}
	simulcast, err := parseSimulcastInfo(offer.SDP)
	if err != nil {
		return s.reportError(transactionID, newError(ErrInvalidSDP, "record jsep: %v", err))
	}

	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return s.reportError(transactionID, newError(ErrInvalidState, "record is only valid from idle, session is %s", st))
	}
	s.state = StateNegotiating
	id := 1
	if body.ID != nil {
		id = *body.ID
	}
	s.recordingID = id
	bitrate := s.videoBitrateMax
	interval := s.keyframeIntervalMs
	s.mu.Unlock()

	if err := s.emitState("preparing", &id, nil); err != nil {
		logger.Default().DebugSession("failed to emit preparing event", "error", err)
	}

	pcfg := pipelineConfig{
		rtmpURL:          body.RTMP,
		connectTimeoutMs: s.rtmpDefaults.ConnectTimeoutMs,
		sendTimeoutMs:    s.rtmpDefaults.SendTimeoutMs,
		chunkSize:        s.rtmpDefaults.ChunkSize,
		sampleRate:       48000,
		channels:         2,
		bitrate:          0,
	}
	pl, err := newPipeline(ctx, pcfg)
	if err != nil {
		s.mu.Lock()
		s.state = StateHangingUp
		s.mu.Unlock()
		var sessErr *Error
		if ok := asSessionError(err, &sessErr); ok {
			s.teardown(transactionID, sessErr)
		} else {
			s.teardown(transactionID, newError(ErrUnknown, "%v", err))
		}
		return err
	}

	for i, ssrc := range simulcast.ssrcs {
		pl.selector.DeclareSSRC(i, ssrc)
	}

	s.mu.Lock()
	s.pipeline = pl
	s.state = StatePublishing
	s.mu.Unlock()

	senderSSRC := deriveSenderSSRC(s.id)

	s.rtcpSched = newRTCPScheduler(uint64(bitrate), interval, pl.selector.ActiveSSRC, senderSSRC, func(pkts []rtcp.Packet) error {
		// All scheduled feedback (REMB, FIR, PLI) concerns the video
		// track; this pipeline has no audio RTCP feedback path.
		for _, p := range pkts {
			b, err := p.Marshal()
			if err != nil {
				continue
			}
			if err := s.gateway.RelayRTCP(s, true, b); err != nil {
				return err
			}
		}
		return nil
	})

	pl.selector.OnRequestPLI = func() {
		pkt := &rtcp.PictureLossIndication{
			SenderSSRC: senderSSRC,
			MediaSSRC:  pl.selector.ActiveSSRC(),
		}
		b, err := pkt.Marshal()
		if err != nil {
			logger.Default().DebugSession("failed to marshal PLI", "error", err)
			return
		}
		_ = s.gateway.RelayRTCP(s, true, b)
	}

	return s.emitState("recording", &id, answerBody)
}

func (s *Session) handlePlay(transactionID string, raw json.RawMessage) error {
	var body PlayRequest
	_ = json.Unmarshal(raw, &body)
	return s.reportError(transactionID, newError(ErrInvalidState, "playback is not implemented by this pipeline"))
}

func (s *Session) handleStart(transactionID string, jsep json.RawMessage) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != StatePublishing {
		return s.reportError(transactionID, newError(ErrInvalidState, "start is only valid once publishing has begun, session is %s", st))
	}
	return s.pushJSON(transactionID, AckEvent{Pushstream: "ok"}, nil)
}

func (s *Session) handleStop(transactionID string) error {
	if !s.hangingUp.CompareAndSwap(false, true) {
		return nil // another caller already initiated teardown
	}
	s.mu.Lock()
	id := s.recordingID
	s.mu.Unlock()
	if err := s.emitState("stopped", &id, nil); err != nil {
		logger.Default().DebugSession("failed to emit stopped event", "error", err)
	}
	s.teardown(transactionID, nil)
	return nil
}

// ProcessVideoRTP feeds one video RTP packet to the pipeline, driving
// the RTCP feedback scheduler alongside it. Called inline on the
// gateway's delivery goroutine; must not block.
func (s *Session) ProcessVideoRTP(pkt *rtp.Packet) {
	if s.hangingUp.Load() {
		return
	}
	s.mu.Lock()
	pl := s.pipeline
	sched := s.rtcpSched
	s.mu.Unlock()
	if pl == nil {
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	if sched != nil {
		sched.OnVideoRTP(time.Now())
	}
	if err := pl.ProcessVideoRTP(pkt); err != nil {
		logger.Default().DebugRTP("video RTP processing error, dropping packet", "error", err)
	}
	if err := pl.Err(); err != nil {
		s.triggerFatal(err)
	}
}

// ProcessAudioRTP feeds one audio RTP packet to the pipeline.
func (s *Session) ProcessAudioRTP(pkt *rtp.Packet) {
	if s.hangingUp.Load() {
		return
	}
	s.mu.Lock()
	pl := s.pipeline
	s.mu.Unlock()
	if pl == nil {
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	if err := pl.ProcessAudioRTP(pkt); err != nil {
		logger.Default().DebugRTP("audio RTP processing error, dropping packet", "error", err)
	}
	if err := pl.Err(); err != nil {
		s.triggerFatal(err)
	}
}

// triggerFatal initiates teardown exactly once for a transport-layer
// failure surfaced from the pipeline (category e in the error
// taxonomy): it does not have a transaction id to reply on, so the
// terminating event goes out as a plugin-initiated push instead.
func (s *Session) triggerFatal(err error) {
	if !s.hangingUp.CompareAndSwap(false, true) {
		return
	}
	s.teardown("", newError(ErrUnknown, "rtmp transport failure: %v", err))
}

// teardown runs the HangingUp -> Closed transition: it waits for
// in-flight RTP callbacks to drain, closes the pipeline, and emits
// exactly one terminating event.
func (s *Session) teardown(transactionID string, failure *Error) {
	s.mu.Lock()
	s.state = StateHangingUp
	pl := s.pipeline
	s.mu.Unlock()

	s.wg.Wait()

	if pl != nil {
		if err := pl.Close(); err != nil {
			logger.Default().DebugSession("pipeline close error during teardown", "error", err)
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	if failure != nil {
		_ = s.reportError(transactionID, failure)
		return
	}
	_ = s.pushJSON(transactionID, DoneEvent{Pushstream: "event", Result: "done"}, nil)
}

func (s *Session) emitState(status string, id *int, jsep json.RawMessage) error {
	evt := StateEvent{Pushstream: "event", Result: StateResult{Status: status, ID: id}}
	return s.pushJSON("", evt, jsep)
}

func (s *Session) reportError(transactionID string, err *Error) error {
	evt := ErrorEvent{Pushstream: "event", ErrorCode: int(err.Code), Error: err.Msg}
	_ = s.pushJSON(transactionID, evt, nil)
	return err
}

func (s *Session) pushJSON(transactionID string, v interface{}, jsep json.RawMessage) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.gateway.PushEvent(s, transactionID, b, jsep)
}

// deriveSenderSSRC derives a stable, non-zero SSRC identifying this
// plugin's own RTCP reports from the session id, so REMB/FIR/PLI
// packets carry a consistent SenderSSRC across one recording's life.
func deriveSenderSSRC(sessionID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	v := h.Sum32()
	if v == 0 {
		v = 1
	}
	return v
}

func hasRTMPScheme(u string) bool {
	return len(u) >= 7 && u[:7] == "rtmp://"
}

func asSessionError(err error, out **Error) bool {
	se, ok := err.(*Error)
	if ok {
		*out = se
	}
	return ok
}
