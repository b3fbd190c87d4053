// Package registry implements the two global mutex-guarded maps the
// plugin keeps: active sessions, keyed by handle id, and recording
// descriptors, keyed by recording id. Grounded on the sibling
// project's pkg/nest/multi_manager.go MultiStreamManager, which
// guards its own per-camera map the same way: one RWMutex, no
// per-entry locking.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/meetecho/pushstream-relay/pkg/session"
)

// Sessions is a mutex-guarded map of active sessions keyed by handle id.
type Sessions struct {
	mu sync.RWMutex
	m  map[string]*session.Session
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*session.Session)}
}

// Add registers a session under id, replacing any prior entry.
func (s *Sessions) Add(id string, sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = sess
}

// NewHandle mints an opaque session handle id. The gateway normally
// supplies this handle itself; a standalone harness mints its own.
func NewHandle() string {
	return uuid.NewString()
}

// Get returns the session for id, if any.
func (s *Sessions) Get(id string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.m[id]
	return sess, ok
}

// Remove deletes the session for id.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

// Len returns the number of active sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// RecordingDescriptor is what the recordings table remembers about
// one `record` allocation: enough to answer `play`/duplicate-id
// checks without holding a reference to the owning session.
type RecordingDescriptor struct {
	ID       int
	Name     string
	RTMPURL  string
	OwnerID  string
}

// Recordings is the mutex-guarded recording-id table. Because this
// pipeline is push-only (no on-disk playback path, see Non-goals),
// the table exists purely to detect duplicate/not-found ids, not to
// back a play implementation.
type Recordings struct {
	mu sync.Mutex
	m  map[int]*RecordingDescriptor
}

// NewRecordings creates an empty recordings table.
func NewRecordings() *Recordings {
	return &Recordings{m: make(map[int]*RecordingDescriptor)}
}

// Create allocates a new recording entry, failing if id is already taken.
func (r *Recordings) Create(desc RecordingDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.m[desc.ID]; exists {
		return fmt.Errorf("recording id %d already exists", desc.ID)
	}
	d := desc
	r.m[desc.ID] = &d
	return nil
}

// Get returns the recording descriptor for id, if any.
func (r *Recordings) Get(id int) (*RecordingDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.m[id]
	return d, ok
}

// Remove deletes the recording entry for id.
func (r *Recordings) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

// Len returns the number of active recording entries.
func (r *Recordings) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
