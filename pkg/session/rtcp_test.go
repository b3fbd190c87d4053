package session

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
)

func TestRTCPSchedulerRampsUpREMBOnFirstFourCalls(t *testing.T) {
	var sent [][]rtcp.Packet
	sched := newRTCPScheduler(4_000_000, 2000, func() uint32 { return 1 }, 2, func(pkts []rtcp.Packet) error {
		sent = append(sent, pkts)
		return nil
	})

	base := time.Now()
	for i := 0; i < 4; i++ {
		sched.OnVideoRTP(base.Add(time.Duration(i) * time.Millisecond))
	}

	if len(sent) != 4 {
		t.Fatalf("got %d REMB sends in ramp-up, want 4 (one per call)", len(sent))
	}
	remb0, ok := sent[0][0].(*rtcp.ReceiverEstimatedMaximumBitrate)
	if !ok {
		t.Fatalf("first packet is %T, want ReceiverEstimatedMaximumBitrate", sent[0][0])
	}
	if remb0.Bitrate != 1_000_000 {
		t.Errorf("first ramp-up bitrate = %v, want bitrate/4 = 1000000", remb0.Bitrate)
	}
}

func TestRTCPSchedulerSteadyStateEveryFiveSeconds(t *testing.T) {
	var count int
	sched := newRTCPScheduler(1_000_000, 2000, func() uint32 { return 1 }, 2, func(pkts []rtcp.Packet) error {
		// Count REMBs only: the FIR+PLI pair on its own 2s cadence is
		// sent through the same callback.
		for _, p := range pkts {
			if _, ok := p.(*rtcp.ReceiverEstimatedMaximumBitrate); ok {
				count++
			}
		}
		return nil
	})

	base := time.Now()
	for i := 0; i < 4; i++ {
		sched.OnVideoRTP(base.Add(time.Duration(i) * time.Millisecond))
	}
	count = 0 // reset after ramp-up

	sched.OnVideoRTP(base.Add(1 * time.Second))
	if count != 0 {
		t.Fatalf("unexpected REMB sent before 5s steady-state interval")
	}

	sched.OnVideoRTP(base.Add(6 * time.Second))
	if count != 1 {
		t.Fatalf("expected one REMB at 6s, got %d", count)
	}
}

func TestRTCPSchedulerFIRPLIRespectsClampedInterval(t *testing.T) {
	var pktTypes []string
	sched := newRTCPScheduler(1_000_000, 500, func() uint32 { return 1 }, 2, func(pkts []rtcp.Packet) error {
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.FullIntraRequest:
				pktTypes = append(pktTypes, "fir")
			case *rtcp.PictureLossIndication:
				pktTypes = append(pktTypes, "pli")
			}
		}
		return nil
	})

	base := time.Now()
	sched.OnVideoRTP(base) // establishes lastFIR, no send yet
	pktTypes = nil

	// Interval is clamped to 1000ms even though configured as 500ms.
	sched.OnVideoRTP(base.Add(900 * time.Millisecond))
	if len(pktTypes) != 0 {
		t.Fatalf("FIR/PLI fired before clamped 1000ms interval: %v", pktTypes)
	}

	sched.OnVideoRTP(base.Add(1100 * time.Millisecond))
	if len(pktTypes) != 2 || pktTypes[0] != "fir" || pktTypes[1] != "pli" {
		t.Fatalf("pktTypes = %v, want [fir pli]", pktTypes)
	}
}
