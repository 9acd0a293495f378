package monarch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	loginPath   = "/auth/login/"
	sessionPath = "/auth/session/"

	opLogin       = "Login"
	opCompleteMFA = "CompleteMFA"
	opLogout      = "Logout"
)

// loginRequest is the REST body for the login endpoint. MFA completion adds
// exactly one of the two code fields; the server rejects requests carrying
// both.
type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	TrustedDevice bool   `json:"trusted_device"`
	SupportsMFA   bool   `json:"supports_mfa"`
	EmailOTP      string `json:"email_otp,omitempty"`
	TOTP          string `json:"totp,omitempty"`
}

type loginReply struct {
	Token     string `json:"token"`
	ErrorCode string `json:"error_code"`
	Detail    string `json:"detail"`
}

// loginOutcome is a successfully decoded login exchange: either a token pair
// or a pending second-factor challenge, never both.
type loginOutcome struct {
	token   string
	csrf    string
	mfaKind MFAKind
}

// Login authenticates with the retained credentials. When the client already
// holds a fresh authenticated session, Login is a no-op. When the server
// demands a second factor and no MFASecret was supplied, Login returns a
// result with MFARequired set and leaves the client in [StatePendingMFA];
// [Client.CompleteMFA] finishes the exchange.
func (c *Client) Login(ctx context.Context) (*LoginResult, error) {
	return c.loginFlow(ctx, false)
}

// ForceLogin re-authenticates unconditionally, discarding any current
// session token first.
func (c *Client) ForceLogin(ctx context.Context) (*LoginResult, error) {
	return c.loginFlow(ctx, true)
}

func (c *Client) loginFlow(ctx context.Context, force bool) (*LoginResult, error) {
	if c == nil {
		return nil, ErrNotReady
	}

	c.mu.Lock()
	if err := c.loadPersistedLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if force {
		c.state.Clear()
		c.authState = StateUnauthenticated
		c.pendingMFA = ""
	} else if c.authState == StateAuthenticated && c.state.Authenticated() && !c.staleLocked(time.Now()) {
		c.mu.Unlock()
		return &LoginResult{}, nil
	}
	creds := c.creds
	c.mu.Unlock()

	if creds == nil {
		c.metricInc(MetricLoginFailure)
		return nil, &Error{Class: ClassAuthentication, Operation: opLogin, Attempts: 0, Err: ErrNoCredentials}
	}

	out, err := c.submitLogin(ctx, opLogin, "", "")
	if err != nil {
		c.markLoginFailure(ctx, err)
		return nil, err
	}

	if out.mfaKind == "" {
		c.commitLogin(ctx, out)
		return &LoginResult{}, nil
	}

	// Second factor demanded. With a shared secret on hand we complete the
	// exchange ourselves; otherwise the caller owns the next step.
	c.metricInc(MetricMFARequired)

	if creds.MFASecret != "" {
		code, cerr := c.totp.Code(creds.MFASecret, time.Now())
		if cerr != nil {
			c.metricInc(MetricMFAFailure)
			return nil, &Error{Class: ClassInvalidMFA, Operation: opLogin, Attempts: 1, Err: cerr}
		}
		out, err = c.submitLogin(ctx, opLogin, MFAKindTOTP, code)
		if err != nil {
			c.markLoginFailure(ctx, err)
			return nil, err
		}
		c.commitLogin(ctx, out)
		return &LoginResult{}, nil
	}

	c.mu.Lock()
	c.authState = StatePendingMFA
	c.pendingMFA = out.mfaKind
	c.mu.Unlock()
	c.logger.V(1).Info("login pending second factor", "kind", string(out.mfaKind))

	return &LoginResult{MFARequired: true, MFAKind: out.mfaKind}, nil
}

// CompleteMFA finishes a pending multi-factor login with a user-supplied
// code. Six-digit numeric codes are submitted as email one-time codes; any
// other well-formed code is submitted as a TOTP value. A rejected code keeps
// the client in [StatePendingMFA] so a fresh code can be tried; the rejected
// code itself must never be resubmitted.
func (c *Client) CompleteMFA(ctx context.Context, code string) error {
	if c == nil {
		return ErrNotReady
	}

	c.mu.Lock()
	if c.authState != StatePendingMFA {
		c.mu.Unlock()
		return &Error{Class: ClassValidation, Operation: opCompleteMFA, Attempts: 0, Err: ErrNoPendingMFA}
	}
	creds := c.creds
	c.mu.Unlock()

	if creds == nil {
		return &Error{Class: ClassAuthentication, Operation: opCompleteMFA, Attempts: 0, Err: ErrNoCredentials}
	}

	kind, err := routeMFACode(code)
	if err != nil {
		c.metricInc(MetricMFAFailure)
		return &Error{Class: ClassInvalidMFA, Operation: opCompleteMFA, Attempts: 0, Err: err}
	}

	out, err := c.submitLogin(ctx, opCompleteMFA, kind, code)
	if err != nil {
		if IsClass(err, ClassInvalidMFA) {
			// Stay in PendingMFA: the challenge is still open for a new code.
			c.metricInc(MetricMFAFailure)
			return err
		}
		c.markLoginFailure(ctx, err)
		return err
	}

	c.commitLogin(ctx, out)
	return nil
}

// routeMFACode picks the submission field for a user-supplied code. Numeric
// codes must be exactly six digits; anything else numeric is a typo and is
// rejected before it burns a server-side attempt.
func routeMFACode(code string) (MFAKind, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidMFACode
	}
	numeric := true
	for _, r := range code {
		if r < '0' || r > '9' {
			numeric = false
			break
		}
	}
	if !numeric {
		return MFAKindTOTP, nil
	}
	if len(code) != totpDigits {
		return "", ErrInvalidMFACode
	}
	return MFAKindEmailOTP, nil
}

// submitLogin performs one login exchange and classifies the outcome. op
// names the caller-visible operation for error reporting; kind/code are
// empty for the initial password-only attempt.
func (c *Client) submitLogin(ctx context.Context, op string, kind MFAKind, code string) (*loginOutcome, error) {
	c.mu.Lock()
	device := ""
	if c.state != nil {
		device = c.state.DeviceID
	}
	creds := c.creds
	c.mu.Unlock()

	body := loginRequest{
		Username:      creds.Email,
		Password:      creds.Password,
		TrustedDevice: true,
		SupportsMFA:   true,
	}
	switch kind {
	case MFAKindEmailOTP:
		body.EmailOTP = code
	case MFAKindTOTP:
		body.TOTP = code
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Class: ClassValidation, Operation: op, Attempts: 0, Err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, c.config.Transport.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.config.BaseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Class: ClassValidation, Operation: op, Attempts: 0, Err: err}
	}
	c.setCommonHeaders(req, device)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{
			Class:     ClassNetwork,
			Condition: conditionFromContext(err),
			Operation: op,
			Attempts:  1,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Class: ClassNetwork, Operation: op, Attempts: 1, Err: err}
	}

	var reply loginReply
	_ = json.Unmarshal(raw, &reply)

	switch {
	case resp.StatusCode == http.StatusOK:
		if reply.Token == "" {
			return nil, &Error{Class: ClassUnknown, Operation: op, Attempts: 1,
				Err: errors.New("login succeeded without a token")}
		}
		return &loginOutcome{token: reply.Token, csrf: csrfFromCookies(resp)}, nil

	case resp.StatusCode == http.StatusForbidden && mfaSignalled(reply):
		if code != "" {
			// The server asked for a factor again after we sent one: the
			// submitted code was not accepted.
			return nil, &Error{Class: ClassInvalidMFA, Operation: op, Attempts: 1, Err: ErrInvalidMFACode}
		}
		return &loginOutcome{mfaKind: mfaKindFromReply(reply)}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if code != "" {
			return nil, &Error{Class: ClassInvalidMFA, Operation: op, Attempts: 1, Err: ErrInvalidMFACode}
		}
		return nil, &Error{Class: ClassAuthentication, Operation: op, Attempts: 1, Err: ErrInvalidCredentials}

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Class: ClassRateLimited, Operation: op, Attempts: 1, Err: ErrRateLimited}

	case resp.StatusCode >= 500:
		return nil, &Error{Class: ClassServer, Operation: op, Attempts: 1,
			Err: fmt.Errorf("server returned %d", resp.StatusCode)}

	case resp.StatusCode >= 400:
		return nil, &Error{Class: ClassValidation, Operation: op, Attempts: 1,
			Err: fmt.Errorf("server rejected login request: %d", resp.StatusCode)}

	default:
		return nil, &Error{Class: ClassUnknown, Operation: op, Attempts: 1,
			Err: fmt.Errorf("unexpected login status %d", resp.StatusCode)}
	}
}

// mfaSignalled reports whether a 403 reply is a second-factor challenge
// rather than a plain rejection.
func mfaSignalled(r loginReply) bool {
	switch r.ErrorCode {
	case "MFA_REQUIRED", "EMAIL_OTP_REQUIRED":
		return true
	}
	return strings.Contains(strings.ToLower(r.Detail), "multi-factor")
}

func mfaKindFromReply(r loginReply) MFAKind {
	if r.ErrorCode == "EMAIL_OTP_REQUIRED" || strings.Contains(strings.ToLower(r.Detail), "email") {
		return MFAKindEmailOTP
	}
	return MFAKindTOTP
}

// commitLogin installs a fresh token pair, marks the session authenticated,
// and persists it.
func (c *Client) commitLogin(ctx context.Context, out *loginOutcome) {
	now := time.Now()

	c.mu.Lock()
	c.state.AuthToken = out.token
	if out.csrf != "" {
		c.state.CSRFToken = out.csrf
	}
	c.state.CreatedAt = now.Unix()
	c.state.Touch(now)
	c.authState = StateAuthenticated
	c.pendingMFA = ""
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.metricInc(MetricLoginSuccess)
	c.logger.Info("login completed", "deviceUuid", c.SessionInfo().DeviceID)
}

// markLoginFailure moves the state machine for terminal login failures and
// destroys the session: the server has rejected the credentials or the
// factor, so the held token is dead weight and must not survive in memory or
// at rest. DeviceID is kept, like Logout. Transient classes (network,
// server, rate limit) leave the state untouched so a later attempt starts
// from where it left off.
func (c *Client) markLoginFailure(ctx context.Context, err error) {
	c.metricInc(MetricLoginFailure)
	switch ClassOf(err) {
	case ClassAuthentication, ClassInvalidMFA:
		c.mu.Lock()
		if c.state != nil {
			c.state.Clear()
		}
		c.authState = StateFailed
		c.pendingMFA = ""
		c.mu.Unlock()
		if derr := c.store.Delete(ctx); derr != nil {
			c.logger.Error(derr, "deleting persisted session after auth failure")
		}
	}
}

// deleteRemoteSession best-effort invalidates the bearer token server-side.
func (c *Client) deleteRemoteSession(ctx context.Context, token, device string) error {
	cctx, cancel := context.WithTimeout(ctx, c.config.Transport.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodDelete, c.config.BaseURL+sessionPath, nil)
	if err != nil {
		return err
	}
	c.setCommonHeaders(req, device)
	req.Header.Set("Authorization", "Token "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("session delete returned %d", resp.StatusCode)
	}
	return nil
}

// setCommonHeaders applies the headers every call to the service carries.
func (c *Client) setCommonHeaders(req *http.Request, device string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.Transport.UserAgent)
	req.Header.Set("Client-Platform", "web")
	req.Header.Set("Origin", "https://app.monarchmoney.com")
	if device != "" {
		req.Header.Set("device-uuid", device)
	}
}

func csrfFromCookies(resp *http.Response) string {
	for _, ck := range resp.Cookies() {
		if ck.Name == "csrftoken" {
			return ck.Value
		}
	}
	return ""
}
