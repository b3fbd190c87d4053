package session

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
)

// rtcpScheduler drives the REMB ramp-up/steady-state cadence and the
// FIR+PLI keyframe request cadence, fired from video RTP ingress.
type rtcpScheduler struct {
	mu sync.Mutex

	bitrate            uint64
	keyframeIntervalMs int
	mediaSSRCFn        func() uint32
	senderSSRC         uint32

	rembSent   int
	lastREMB   time.Time
	lastFIR    time.Time
	firSeqNo   uint8

	send func(pkts []rtcp.Packet) error
}

// newRTCPScheduler builds a scheduler targeting senderSSRC as this
// plugin's own RTCP identity and mediaSSRCFn as the live media SSRC to
// feed back about; mediaSSRCFn is a function, not a fixed value,
// because the simulcast selector's active SSRC can change mid-session
// on a substream switch, and feedback must always target whichever
// SSRC is actually producing packets right now.
func newRTCPScheduler(bitrate uint64, keyframeIntervalMs int, mediaSSRCFn func() uint32, senderSSRC uint32, send func([]rtcp.Packet) error) *rtcpScheduler {
	return &rtcpScheduler{
		bitrate:            bitrate,
		keyframeIntervalMs: keyframeIntervalMs,
		mediaSSRCFn:        mediaSSRCFn,
		senderSSRC:         senderSSRC,
		send:               send,
	}
}

// OnVideoRTP is called for every inbound video RTP packet; it fires a
// REMB and/or a FIR+PLI pair if their respective timers have elapsed.
func (s *rtcpScheduler) OnVideoRTP(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSendREMB(now)
	s.maybeSendFIRPLI(now)
}

func (s *rtcpScheduler) maybeSendREMB(now time.Time) {
	var due bool
	if s.rembSent < 4 {
		due = true // ramp-up: fire immediately, one per call until 4 sent
	} else {
		due = now.Sub(s.lastREMB) >= 5*time.Second
	}
	if !due {
		return
	}

	bitrate := s.bitrate
	if s.rembSent < 4 {
		n := uint64(4 - s.rembSent)
		bitrate = s.bitrate / n
	}

	pkt := &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: s.senderSSRC,
		Bitrate:    float32(bitrate),
		SSRCs:      []uint32{s.mediaSSRCFn()},
	}
	if s.send != nil {
		s.send([]rtcp.Packet{pkt})
	}
	s.rembSent++
	s.lastREMB = now
}

func (s *rtcpScheduler) maybeSendFIRPLI(now time.Time) {
	interval := s.keyframeIntervalMs
	if interval < 1000 {
		interval = 1000
	}
	if s.lastFIR.IsZero() {
		s.lastFIR = now
		return
	}
	if now.Sub(s.lastFIR) < time.Duration(interval)*time.Millisecond {
		return
	}

	mediaSSRC := s.mediaSSRCFn()
	s.firSeqNo++
	pkts := []rtcp.Packet{
		&rtcp.FullIntraRequest{
			SenderSSRC: s.senderSSRC,
			FIR: []rtcp.FIREntry{
				{SSRC: mediaSSRC, SequenceNumber: s.firSeqNo},
			},
		},
		&rtcp.PictureLossIndication{
			SenderSSRC: s.senderSSRC,
			MediaSSRC:  mediaSSRC,
		},
	}
	if s.send != nil {
		s.send(pkts)
	}
	s.lastFIR = now
}

// SetKeyframeInterval updates the FIR+PLI interval (clamped to at least
// 1000 ms); it takes effect at the next video RTP packet.
func (s *rtcpScheduler) SetKeyframeInterval(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms < 1000 {
		ms = 1000
	}
	s.keyframeIntervalMs = ms
}

// SetBitrate updates the REMB target bitrate, applied to the next
// steady-state REMB (ramp-up REMBs already sent are not retroactively
// corrected).
func (s *rtcpScheduler) SetBitrate(bitrate uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitrate = bitrate
}
