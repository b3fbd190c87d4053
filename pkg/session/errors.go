package session

import "fmt"

// ErrorCode is the wire-visible error code carried on an error event.
type ErrorCode int

const (
	ErrNoMessage       ErrorCode = 411
	ErrInvalidJSON     ErrorCode = 412
	ErrInvalidRequest  ErrorCode = 413
	ErrInvalidElement  ErrorCode = 414
	ErrMissingElement  ErrorCode = 415
	ErrNotFound        ErrorCode = 416
	ErrInvalidRecord   ErrorCode = 417
	ErrInvalidState    ErrorCode = 418
	ErrInvalidSDP      ErrorCode = 419
	ErrRecordingExists ErrorCode = 420
	ErrUnknown         ErrorCode = 499
	ErrRTMPCreate      ErrorCode = 500
	ErrFLVMuxerCreate  ErrorCode = 501
	ErrAACEncoderInit  ErrorCode = 502
	ErrOpusDecoderInit ErrorCode = 503
	ErrVideoDecoderInit ErrorCode = 504
	ErrAudioDecoderInit ErrorCode = 505
)

// Error pairs a wire error code with a human-readable message. Client
// protocol errors and state errors are reported inline; resource and
// transport errors carry through to teardown.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Msg)
}

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}
