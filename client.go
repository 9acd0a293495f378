package monarch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mmkit/monarch/session"
)

// Client is an authenticated client for the remote GraphQL financial-data
// API. Construct it through [Builder.Build]; after that all methods are safe
// for concurrent use.
//
// The client owns exactly one [session.State]. The state is shared mutable
// data internally, but the only critical section is the validate-or-refresh
// unit of work, which is coalesced so at most one is in flight regardless of
// how many callers discover staleness at once.
type Client struct {
	config  Config
	logger  logr.Logger
	http    *http.Client
	store   session.Store
	creds   *Credentials
	metrics *Metrics
	totp    totpGenerator

	mu         sync.Mutex
	state      *session.State
	authState  AuthState
	pendingMFA MFAKind
	loaded     bool

	flight singleflight.Group
}

// Status returns the authenticator state machine position.
func (c *Client) Status() AuthState {
	if c == nil {
		return StateUnauthenticated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState
}

// SessionInfo returns a read-only snapshot of session metadata. Token values
// are never exposed.
func (c *Client) SessionInfo() SessionInfo {
	if c == nil {
		return SessionInfo{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return SessionInfo{}
	}
	return SessionInfo{
		Authenticated: c.state.Authenticated(),
		DeviceID:      c.state.DeviceID,
		CreatedAt:     time.Unix(c.state.CreatedAt, 0),
		LastUsedAt:    time.Unix(c.state.LastUsedAt, 0),
	}
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return c.metrics.Snapshot()
}

// Logout clears the in-memory session, deletes the persisted copy, and makes
// a best-effort attempt to invalidate the session server-side. Local cleanup
// succeeds even when the remote call fails.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil {
		return ErrNotReady
	}

	c.mu.Lock()
	token := ""
	device := ""
	if c.state != nil {
		token = c.state.AuthToken
		device = c.state.DeviceID
		c.state.Clear()
	}
	c.authState = StateUnauthenticated
	c.pendingMFA = ""
	c.mu.Unlock()

	if token != "" {
		if err := c.deleteRemoteSession(ctx, token, device); err != nil {
			c.logger.V(1).Info("remote session invalidation failed", "error", err.Error())
		}
	}

	return c.store.Delete(ctx)
}

// loadPersistedLocked restores the session from the store on first use. A
// missing or corrupt persisted session is not an error: it yields a fresh
// empty state with a newly generated device UUID.
func (c *Client) loadPersistedLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}

	s, err := c.store.Load(ctx)
	switch {
	case err == nil:
		if s.DeviceID == "" {
			s.DeviceID = uuid.NewString()
		}
		c.state = s
		if s.Authenticated() {
			c.authState = StateAuthenticated
		}
		c.metrics.Inc(MetricSessionLoaded)
		c.logger.V(1).Info("restored persisted session", "deviceUuid", s.DeviceID)
	case errors.Is(err, session.ErrNoSession):
		c.state = &session.State{DeviceID: uuid.NewString()}
	default:
		return err
	}

	c.loaded = true
	return nil
}

// persistLocked writes the current state to the store. Persistence failures
// are logged and swallowed: a session that cannot be saved still works for
// the life of this process.
func (c *Client) persistLocked(ctx context.Context) {
	if c.state == nil {
		return
	}
	if err := c.store.Save(ctx, c.state.Clone()); err != nil {
		c.logger.Error(err, "session persistence failed")
		return
	}
	c.metrics.Inc(MetricSessionPersisted)
}

// requestAuth returns the header material for one outgoing call.
func (c *Client) requestAuth() (token, csrf, device string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return "", "", ""
	}
	return c.state.AuthToken, c.state.CSRFToken, c.state.DeviceID
}

// touchSession advances LastUsedAt; called for every request that reached
// the network, regardless of outcome, so staleness tracks actual usage.
func (c *Client) touchSession(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Touch(now)
}

func (c *Client) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}
