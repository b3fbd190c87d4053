package session

import "encoding/json"

// Gateway is the subset of gateway callbacks this plugin depends on,
// modeled as a small interface so Session can be driven and tested
// without a real Janus core.
type Gateway interface {
	PushEvent(handle *Session, transactionID string, event, jsep json.RawMessage) error
	EventsIsEnabled() bool
	NotifyEvent(handle *Session, info json.RawMessage)
	RelayRTCP(handle *Session, isVideo bool, packet []byte) error
}
