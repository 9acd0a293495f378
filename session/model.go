package session

import "time"

// State is the mutable record of authentication artifacts owned by exactly
// one client instance. It is never shared across instances except through a
// codec's serialized form.
//
// State instances are intended to be mutated only by the owning client's
// refresh critical section; reads of individual fields are safe under the
// client's serialization discipline.
type State struct {
	// AuthToken is the bearer credential for the remote API. A non-empty
	// AuthToken means the session is authenticated.
	AuthToken string

	// CSRFToken accompanies AuthToken on mutating calls when the server
	// issued one.
	CSRFToken string

	// DeviceID is a stable identifier generated once per persisted session.
	DeviceID string

	// CreatedAt and LastUsedAt are unix seconds. LastUsedAt advances on
	// every call that reaches the network, not just successes.
	CreatedAt  int64
	LastUsedAt int64
}

// Authenticated reports whether the state carries a bearer credential.
func (s *State) Authenticated() bool {
	return s != nil && s.AuthToken != ""
}

// Stale reports whether the session must be revalidated before use:
// either the token is absent or the session has gone unused beyond
// threshold.
func (s *State) Stale(now time.Time, threshold time.Duration) bool {
	if !s.Authenticated() {
		return true
	}
	if threshold <= 0 {
		return false
	}
	return now.Unix()-s.LastUsedAt > int64(threshold/time.Second)
}

// Touch advances LastUsedAt.
func (s *State) Touch(now time.Time) {
	if s == nil {
		return
	}
	s.LastUsedAt = now.Unix()
}

// Clear resets the state to empty. DeviceID is kept so a subsequent login
// presents the same device to the server.
func (s *State) Clear() {
	if s == nil {
		return
	}
	s.AuthToken = ""
	s.CSRFToken = ""
	s.CreatedAt = 0
	s.LastUsedAt = 0
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
