package session

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeGateway struct {
	events []json.RawMessage
}

func (g *fakeGateway) PushEvent(handle *Session, transactionID string, event, jsep json.RawMessage) error {
	g.events = append(g.events, event)
	return nil
}
func (g *fakeGateway) EventsIsEnabled() bool                             { return true }
func (g *fakeGateway) NotifyEvent(handle *Session, info json.RawMessage) {}
func (g *fakeGateway) RelayRTCP(handle *Session, isVideo bool, packet []byte) error {
	return nil
}

func newTestSession() (*Session, *fakeGateway) {
	gw := &fakeGateway{}
	s := New("handle-1", gw, RTMPDefaults{ConnectTimeoutMs: 100, SendTimeoutMs: 100, ChunkSize: 4096})
	return s, gw
}

func TestHandleRequestUnknownRequestIs413(t *testing.T) {
	s, gw := newTestSession()
	err := s.HandleRequest(context.Background(), "t1", Request{Request: "bogus"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown request")
	}
	se, ok := err.(*Error)
	if !ok || se.Code != ErrInvalidRequest {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if len(gw.events) != 1 {
		t.Fatalf("expected exactly one pushed event, got %d", len(gw.events))
	}
}

func TestHandleRequestEmptyRequestIs411(t *testing.T) {
	s, _ := newTestSession()
	err := s.HandleRequest(context.Background(), "t1", Request{Request: ""}, nil)
	se, ok := err.(*Error)
	if !ok || se.Code != ErrNoMessage {
		t.Fatalf("err = %v, want ErrNoMessage", err)
	}
}

func TestHandleConfigureClampsKeyframeIntervalAndAcks(t *testing.T) {
	s, gw := newTestSession()
	raw, _ := json.Marshal(map[string]interface{}{
		"video-bitrate-max":       -5,
		"video-keyframe-interval": 10,
	})
	req := Request{Request: "configure", Raw: raw}
	if err := s.HandleRequest(context.Background(), "t1", req, nil); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	s.mu.Lock()
	bitrate := s.videoBitrateMax
	interval := s.keyframeIntervalMs
	s.mu.Unlock()

	if bitrate != 0 {
		t.Errorf("videoBitrateMax = %d, want clamped to 0", bitrate)
	}
	if interval != 1000 {
		t.Errorf("keyframeIntervalMs = %d, want clamped to 1000", interval)
	}
	if len(gw.events) != 1 {
		t.Fatalf("expected one ack event, got %d", len(gw.events))
	}

	var ack AckEvent
	if err := json.Unmarshal(gw.events[0], &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != "ok" {
		t.Errorf("ack.Status = %q, want ok", ack.Status)
	}
}

func TestHandleRecordRejectsMissingName(t *testing.T) {
	s, _ := newTestSession()
	raw, _ := json.Marshal(map[string]interface{}{
		"rtmp": "rtmp://media.example.com/live/stream-name",
	})
	err := s.HandleRequest(context.Background(), "t1", Request{Request: "record", Raw: raw}, []byte(`{"type":"offer","sdp":"v=0"}`))
	se, ok := err.(*Error)
	if !ok || se.Code != ErrMissingElement {
		t.Fatalf("err = %v, want ErrMissingElement", err)
	}
}

func TestHandleRecordRejectsShortRTMPURL(t *testing.T) {
	s, _ := newTestSession()
	raw, _ := json.Marshal(map[string]interface{}{
		"name": "cam1",
		"rtmp": "rtmp://a/b",
	})
	err := s.HandleRequest(context.Background(), "t1", Request{Request: "record", Raw: raw}, []byte(`{"type":"offer","sdp":"v=0"}`))
	se, ok := err.(*Error)
	if !ok || se.Code != ErrInvalidElement {
		t.Fatalf("err = %v, want ErrInvalidElement", err)
	}
}

func TestHandleRecordRejectsMissingJSEP(t *testing.T) {
	s, _ := newTestSession()
	raw, _ := json.Marshal(map[string]interface{}{
		"name": "cam1",
		"rtmp": "rtmp://media.example.com/live/stream-name",
	})
	err := s.HandleRequest(context.Background(), "t1", Request{Request: "record", Raw: raw}, nil)
	se, ok := err.(*Error)
	if !ok || se.Code != ErrInvalidSDP {
		t.Fatalf("err = %v, want ErrInvalidSDP", err)
	}
}

func TestHandleStartBeforePublishingIs418(t *testing.T) {
	s, _ := newTestSession()
	err := s.HandleRequest(context.Background(), "t1", Request{Request: "start"}, []byte(`{"type":"answer","sdp":"v=0"}`))
	se, ok := err.(*Error)
	if !ok || se.Code != ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestHandleStopEmitsStoppedThenDone(t *testing.T) {
	s, gw := newTestSession()
	if err := s.HandleRequest(context.Background(), "t1", Request{Request: "stop"}, nil); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if len(gw.events) != 2 {
		t.Fatalf("expected stopped + done events, got %d: %v", len(gw.events), gw.events)
	}
	var stopped StateEvent
	if err := json.Unmarshal(gw.events[0], &stopped); err != nil {
		t.Fatalf("unmarshal stopped event: %v", err)
	}
	if stopped.Result.Status != "stopped" {
		t.Errorf("first event status = %q, want stopped", stopped.Result.Status)
	}
	var done DoneEvent
	if err := json.Unmarshal(gw.events[1], &done); err != nil {
		t.Fatalf("unmarshal done event: %v", err)
	}
	if done.Result != "done" {
		t.Errorf("second event result = %v, want done", done.Result)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want Closed", s.State())
	}
}

func TestHandlePlayIsNotImplemented(t *testing.T) {
	s, _ := newTestSession()
	err := s.HandleRequest(context.Background(), "t1", Request{Request: "play"}, nil)
	se, ok := err.(*Error)
	if !ok || se.Code != ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}
