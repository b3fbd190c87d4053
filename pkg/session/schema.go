package session

import "encoding/json"

// Request is the envelope every incoming message carries; Raw is
// re-decoded against the specific request's field set once Request is
// known, mirroring the sibling's JSON handling in pkg/api/server.go
// (decode twice: once for the envelope, once for the typed payload).
type Request struct {
	Request string          `json:"request"`
	Raw     json.RawMessage `json:"-"`
}

// ConfigureRequest updates video bitrate/keyframe-interval targets.
type ConfigureRequest struct {
	VideoBitrateMax       *int `json:"video-bitrate-max"`
	VideoKeyframeInterval *int `json:"video-keyframe-interval"`
}

// RecordRequest starts a publish. JSEP is carried alongside the
// request body by the caller (see handleRecord), not embedded here,
// matching how the gateway delivers JSEP as a sibling field to the
// plugin message rather than inside it.
type RecordRequest struct {
	Name string `json:"name"`
	ID   *int   `json:"id"`
	RTMP string `json:"rtmp"`
}

// PlayRequest is accepted for schema completeness (see Non-goals:
// playback is not implemented by this pipeline) but is rejected with
// ErrInvalidState since no recording registry entry can ever satisfy it.
type PlayRequest struct {
	ID      int  `json:"id"`
	Restart bool `json:"restart"`
}

// AckEvent is the synchronous acknowledgment for configure.
type AckEvent struct {
	Pushstream string                 `json:"pushstream"`
	Status     string                 `json:"status,omitempty"`
	Settings   map[string]interface{} `json:"settings,omitempty"`
}

// StateResult is the `result` payload of a state event.
type StateResult struct {
	Status string `json:"status"`
	ID     *int   `json:"id,omitempty"`
}

// StateEvent reports a status transition (recording/preparing/playing/stopped).
type StateEvent struct {
	Pushstream string      `json:"pushstream"`
	Result     StateResult `json:"result"`
}

// DoneEvent is the single clean-teardown terminator.
type DoneEvent struct {
	Pushstream string `json:"pushstream"`
	Result     string `json:"result"`
}

// ErrorEvent is the single failure terminator; a session emits exactly
// one of DoneEvent or ErrorEvent, never both.
type ErrorEvent struct {
	Pushstream string `json:"pushstream"`
	ErrorCode  int    `json:"error_code"`
	Error      string `json:"error"`
}
