package monarch

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	opRefresh  = "RefreshSession"
	opValidate = "ValidateSession"

	flightRefresh = "refresh"
	flightReauth  = "reauth"
)

// EnsureValid guarantees the session is usable before a request goes out.
// A fresh session returns immediately. A stale one triggers exactly one
// validate-or-refresh unit of work no matter how many goroutines call in
// concurrently; late callers wait on the in-flight unit and share its
// outcome.
func (c *Client) EnsureValid(ctx context.Context) error {
	if c == nil {
		return ErrNotReady
	}

	c.mu.Lock()
	if err := c.loadPersistedLocked(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	fresh := c.state.Authenticated() && !c.staleLocked(time.Now())
	c.mu.Unlock()

	if fresh {
		return nil
	}
	return c.refreshShared(ctx, false)
}

// reauthenticate forces a full re-login, bypassing the validation probe. It
// runs under its own flight key so it never coalesces into a plain
// validation unit that might bless the very token the server just rejected.
func (c *Client) reauthenticate(ctx context.Context) error {
	return c.refreshShared(ctx, true)
}

// refreshShared funnels all callers through one in-flight unit of work per
// flight key. The unit runs detached from any single caller's context: a
// waiter that cancels stops waiting, but the unit finishes for everyone
// else.
func (c *Client) refreshShared(ctx context.Context, force bool) error {
	key := flightRefresh
	if force {
		key = flightReauth
	}

	ran := false
	unitCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		ran = true
		if force {
			return nil, c.relogin(unitCtx)
		}
		return nil, c.refreshUnit(unitCtx)
	})

	select {
	case <-ctx.Done():
		return &Error{
			Class:     ClassUnknown,
			Condition: conditionFromContext(ctx.Err()),
			Operation: opRefresh,
			Attempts:  0,
			Err:       ctx.Err(),
		}
	case res := <-ch:
		if !ran {
			c.metricInc(MetricRefreshCoalesced)
		}
		if res.Err != nil {
			if ran {
				c.metricInc(MetricRefreshFailure)
			}
			return res.Err
		}
		if ran {
			c.metricInc(MetricRefreshSuccess)
		}
		return nil
	}
}

// refreshUnit is the body of one validate-or-refresh. It re-checks staleness
// first so a caller that queued behind a completed unit exits without
// touching the network.
func (c *Client) refreshUnit(ctx context.Context) error {
	now := time.Now()

	c.mu.Lock()
	if c.state.Authenticated() && !c.staleLocked(now) {
		c.mu.Unlock()
		return nil
	}
	token := c.state.AuthToken
	c.mu.Unlock()

	if token != "" && !tokenExpired(token, now) {
		// Stale but structurally alive: a lightweight authenticated probe
		// settles whether the server still honors it.
		err := c.validateSession(ctx)
		if err == nil {
			c.mu.Lock()
			c.state.Touch(time.Now())
			c.authState = StateAuthenticated
			c.persistLocked(ctx)
			c.mu.Unlock()
			c.logger.V(1).Info("stale session validated")
			return nil
		}
		if !IsClass(err, ClassAuthentication) {
			return err
		}
		c.logger.V(1).Info("stale session rejected, re-authenticating")
	}

	return c.relogin(ctx)
}

// relogin performs a full non-interactive login with the retained
// credentials. A second-factor demand is satisfiable only through an
// MFASecret here; an interactive challenge cannot be serviced mid-request
// and surfaces as a classified failure instead.
func (c *Client) relogin(ctx context.Context) error {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()

	if creds == nil {
		return &Error{Class: ClassAuthentication, Operation: opRefresh, Attempts: 0, Err: ErrNoCredentials}
	}

	out, err := c.submitLogin(ctx, opRefresh, "", "")
	if err != nil {
		c.markLoginFailure(ctx, err)
		return err
	}

	if out.mfaKind != "" {
		if creds.MFASecret == "" {
			c.mu.Lock()
			c.authState = StatePendingMFA
			c.pendingMFA = out.mfaKind
			c.mu.Unlock()
			c.metricInc(MetricMFARequired)
			return &Error{Class: ClassMFARequired, Operation: opRefresh, Attempts: 1, Err: ErrMFARequired}
		}
		code, cerr := c.totp.Code(creds.MFASecret, time.Now())
		if cerr != nil {
			return &Error{Class: ClassInvalidMFA, Operation: opRefresh, Attempts: 1, Err: cerr}
		}
		out, err = c.submitLogin(ctx, opRefresh, MFAKindTOTP, code)
		if err != nil {
			c.markLoginFailure(ctx, err)
			return err
		}
	}

	c.commitLogin(ctx, out)
	return nil
}

// validateSession issues one unretried authenticated probe.
func (c *Client) validateSession(ctx context.Context) error {
	data, fail := c.send(ctx, opSubscriptionDetails())
	if fail != nil {
		return &Error{
			Class:     fail.class,
			Condition: conditionFromContext(fail.cause),
			Operation: opValidate,
			Attempts:  1,
			Err:       fail.cause,
		}
	}
	_ = data
	return nil
}

// staleLocked reports whether the session needs revalidation before use:
// unused past the threshold, or carrying a token whose embedded expiry has
// passed. Caller holds c.mu.
func (c *Client) staleLocked(now time.Time) bool {
	if c.state.Stale(now, c.config.Session.StaleThreshold) {
		return true
	}
	return tokenExpired(c.state.AuthToken, now)
}

// tokenExpired peeks at a JWT's exp claim without verifying the signature;
// verification is the server's job, the claim just saves a doomed round
// trip. Opaque (non-JWT) tokens carry no expiry signal and are never
// considered expired here.
func tokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.After(exp.Time)
}
