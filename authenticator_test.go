package monarch

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"
)

// loginRecorder captures login bodies and plays back scripted responses.
type loginRecorder struct {
	mu     sync.Mutex
	bodies []loginRequest
	script []func(w http.ResponseWriter)
}

func (lr *loginRecorder) handle(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != loginPath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body loginRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding login body: %v", err)
		}

		lr.mu.Lock()
		lr.bodies = append(lr.bodies, body)
		idx := len(lr.bodies) - 1
		lr.mu.Unlock()

		if idx >= len(lr.script) {
			t.Errorf("unscripted login call #%d", idx+1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		lr.script[idx](w)
	}
}

func (lr *loginRecorder) calls() int {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return len(lr.bodies)
}

func (lr *loginRecorder) body(i int) loginRequest {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.bodies[i]
}

func respondToken(token string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-" + token})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginReply{Token: token})
	}
}

func respondMFA(errorCode, detail string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(loginReply{ErrorCode: errorCode, Detail: detail})
	}
}

func respondStatus(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
	}
}

func TestLoginDirectSuccess(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){respondToken("tok-1")}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Login(context.Background())
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.MFARequired {
		t.Fatal("unexpected MFA demand")
	}
	if c.Status() != StateAuthenticated {
		t.Fatalf("status = %v, want authenticated", c.Status())
	}

	body := rec.body(0)
	if body.Username != "user@example.com" || body.Password != "hunter2" {
		t.Fatal("login body missing credentials")
	}
	if !body.TrustedDevice || !body.SupportsMFA {
		t.Fatal("login body missing trusted_device/supports_mfa")
	}
	if body.EmailOTP != "" || body.TOTP != "" {
		t.Fatal("initial login must not carry a second factor")
	}

	c.mu.Lock()
	token, csrf := c.state.AuthToken, c.state.CSRFToken
	c.mu.Unlock()
	if token != "tok-1" || csrf != "csrf-tok-1" {
		t.Fatalf("committed tokens = %q/%q", token, csrf)
	}
	if got := c.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("login success counter = %d", got)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){respondStatus(http.StatusUnauthorized)}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Login(context.Background())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
	if !IsClass(err, ClassAuthentication) {
		t.Fatalf("class = %v, want authentication", ClassOf(err))
	}
	if c.Status() != StateFailed {
		t.Fatalf("status = %v, want failed", c.Status())
	}
}

func TestLoginMFARequiredThenEmailOTPCompletion(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){
		respondMFA("EMAIL_OTP_REQUIRED", "Email OTP required"),
		respondToken("tok-mfa"),
	}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Login(context.Background())
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.MFARequired || res.MFAKind != MFAKindEmailOTP {
		t.Fatalf("result = %+v, want email otp challenge", res)
	}
	if c.Status() != StatePendingMFA {
		t.Fatalf("status = %v, want pending_mfa", c.Status())
	}
	if got := c.MetricsSnapshot().Counters[MetricMFARequired]; got != 1 {
		t.Fatalf("mfa required counter = %d", got)
	}

	if err := c.CompleteMFA(context.Background(), "123456"); err != nil {
		t.Fatalf("CompleteMFA failed: %v", err)
	}
	if c.Status() != StateAuthenticated {
		t.Fatalf("status = %v, want authenticated", c.Status())
	}

	completion := rec.body(1)
	if completion.EmailOTP != "123456" {
		t.Fatalf("email_otp field = %q, want the code", completion.EmailOTP)
	}
	if completion.TOTP != "" {
		t.Fatal("six-digit numeric code must not go out as totp")
	}
}

func TestCompleteMFARoutesNonNumericAsTOTP(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){
		respondMFA("MFA_REQUIRED", "Multi-Factor Auth Required"),
		respondToken("tok-totp"),
	}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := c.CompleteMFA(context.Background(), "abc12345"); err != nil {
		t.Fatalf("CompleteMFA failed: %v", err)
	}

	completion := rec.body(1)
	if completion.TOTP != "abc12345" || completion.EmailOTP != "" {
		t.Fatalf("completion body = %+v, want totp routing", completion)
	}
}

func TestCompleteMFARejectsMalformedNumericCode(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){
		respondMFA("MFA_REQUIRED", "Multi-Factor Auth Required"),
	}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	err := c.CompleteMFA(context.Background(), "12345")
	if !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("error = %v, want ErrInvalidMFACode", err)
	}
	if rec.calls() != 1 {
		t.Fatalf("malformed code reached the server: %d login calls", rec.calls())
	}
	if c.Status() != StatePendingMFA {
		t.Fatalf("status = %v, challenge must stay open", c.Status())
	}
}

func TestCompleteMFAWithoutChallenge(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	err := c.CompleteMFA(context.Background(), "123456")
	if !errors.Is(err, ErrNoPendingMFA) {
		t.Fatalf("error = %v, want ErrNoPendingMFA", err)
	}
}

func TestCompleteMFARejectedCodeKeepsChallengeOpen(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){
		respondMFA("MFA_REQUIRED", "Multi-Factor Auth Required"),
		respondMFA("MFA_REQUIRED", "Multi-Factor Auth Required"),
		respondToken("tok-second-try"),
	}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	err := c.CompleteMFA(context.Background(), "000000")
	if !IsClass(err, ClassInvalidMFA) {
		t.Fatalf("class = %v, want invalid_mfa", ClassOf(err))
	}
	if c.Status() != StatePendingMFA {
		t.Fatalf("status = %v, want pending_mfa after rejection", c.Status())
	}

	if err := c.CompleteMFA(context.Background(), "111111"); err != nil {
		t.Fatalf("fresh code rejected: %v", err)
	}
	if c.Status() != StateAuthenticated {
		t.Fatalf("status = %v, want authenticated", c.Status())
	}
	if got := c.MetricsSnapshot().Counters[MetricMFAFailure]; got != 1 {
		t.Fatalf("mfa failure counter = %d", got)
	}
}

func TestLoginAutoTOTPWithSecret(t *testing.T) {
	secret := base32.StdEncoding.EncodeToString([]byte("12345678901234567890"))

	rec := &loginRecorder{script: []func(http.ResponseWriter){
		respondMFA("MFA_REQUIRED", "Multi-Factor Auth Required"),
		respondToken("tok-auto"),
	}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.creds.MFASecret = secret

	res, err := c.Login(context.Background())
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.MFARequired {
		t.Fatal("auto-TOTP login must not surface an MFA demand")
	}

	completion := rec.body(1)
	if completion.TOTP == "" || completion.EmailOTP != "" {
		t.Fatalf("completion body = %+v, want totp field", completion)
	}
	// The code must match the shared secret for the current or adjacent step.
	var g totpGenerator
	ok := false
	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		want, _ := g.Code(secret, time.Now().Add(offset))
		if completion.TOTP == want {
			ok = true
		}
	}
	if !ok {
		t.Fatalf("submitted totp %q does not match the secret", completion.TOTP)
	}
	if c.Status() != StateAuthenticated {
		t.Fatalf("status = %v, want authenticated", c.Status())
	}
}

func TestLoginIdempotentWhenFresh(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){respondToken("tok-1")}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background()); err != nil {
		t.Fatalf("first Login failed: %v", err)
	}
	if _, err := c.Login(context.Background()); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	if rec.calls() != 1 {
		t.Fatalf("login calls = %d, re-login must be a no-op", rec.calls())
	}
}

func TestForceLoginAlwaysReauthenticates(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){
		respondToken("tok-1"),
		respondToken("tok-2"),
	}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := c.ForceLogin(context.Background()); err != nil {
		t.Fatalf("ForceLogin failed: %v", err)
	}
	if rec.calls() != 2 {
		t.Fatalf("login calls = %d, want 2", rec.calls())
	}

	c.mu.Lock()
	token := c.state.AuthToken
	c.mu.Unlock()
	if token != "tok-2" {
		t.Fatalf("token after forced login = %q", token)
	}
}

func TestUnrecoverableLoginFailureDestroysSession(t *testing.T) {
	rec := &loginRecorder{script: []func(http.ResponseWriter){respondStatus(http.StatusUnauthorized)}}
	srv := httptest.NewServer(rec.handle(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	seedSession(c, "tok-revoked", time.Now().Add(-2*time.Hour))
	c.mu.Lock()
	c.persistLocked(context.Background())
	c.mu.Unlock()

	_, err := c.Login(context.Background())
	if !IsClass(err, ClassAuthentication) {
		t.Fatalf("class = %v, want authentication", ClassOf(err))
	}
	if c.Status() != StateFailed {
		t.Fatalf("status = %v, want failed", c.Status())
	}

	info := c.SessionInfo()
	if info.Authenticated {
		t.Fatal("rejected login must clear the held token")
	}
	if info.DeviceID != "device-test" {
		t.Fatalf("device id = %q, must survive the session teardown", info.DeviceID)
	}
	if _, serr := os.Stat(c.config.Session.FilePath); !os.IsNotExist(serr) {
		t.Fatalf("persisted session must be deleted on auth failure: %v", serr)
	}
}

func TestLoginWithoutCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://unused.invalid"
	cfg.Session.FilePath = t.TempDir() + "/session.enc"
	c, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = c.Login(context.Background())
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("error = %v, want ErrNoCredentials", err)
	}
}
