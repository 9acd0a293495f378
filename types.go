package monarch

import (
	"time"

	internalmetrics "github.com/mmkit/monarch/internal/metrics"
)

// Credentials holds the caller-supplied login material. The client never
// logs these values and never includes them in error messages.
type Credentials struct {
	Email    string
	Password string

	// MFASecret is an optional base32 TOTP secret. When set, the client
	// computes the current TOTP value itself (30s step, HMAC-SHA1) and
	// completes multi-factor login without user interaction.
	MFASecret string
}

// MFAKind identifies which second-factor path a login requires or a code
// was routed to.
type MFAKind string

const (
	// MFAKindEmailOTP is a 6-digit numeric one-time code delivered by email.
	MFAKindEmailOTP MFAKind = "email_otp"
	// MFAKindTOTP is an authenticator-app code (RFC 6238).
	MFAKindTOTP MFAKind = "totp"
)

// AuthState is the authenticator's state machine position.
type AuthState uint8

const (
	// StateUnauthenticated is the initial state.
	StateUnauthenticated AuthState = iota
	// StatePendingMFA means login succeeded past the password but a second
	// factor is outstanding.
	StatePendingMFA
	// StateAuthenticated means the session carries a valid bearer token.
	StateAuthenticated
	// StateFailed is reached from any state on unrecoverable auth failure.
	StateFailed
)

func (s AuthState) String() string {
	switch s {
	case StatePendingMFA:
		return "pending_mfa"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unauthenticated"
	}
}

// LoginResult is returned by [Client.Login]. When MFARequired is set the
// client is in [StatePendingMFA] and [Client.CompleteMFA] must follow.
type LoginResult struct {
	MFARequired bool
	MFAKind     MFAKind
}

// Operation is an immutable description of one remote GraphQL call.
type Operation struct {
	// Name is the GraphQL operation name.
	Name string
	// Query is the full GraphQL document.
	Query string
	// Variables are marshalled as the request's variables object.
	Variables map[string]any
	// Idempotent marks the operation safe to re-send verbatim. Operations
	// left non-idempotent are issued at most once when a Network failure
	// makes delivery ambiguous.
	Idempotent bool
}

// SessionInfo is a read-only snapshot of the client's session metadata.
// Token values are deliberately not exposed.
type SessionInfo struct {
	Authenticated bool
	DeviceID      string
	CreatedAt     time.Time
	LastUsedAt    time.Time
}

// MetricID identifies one counter in the client's metrics.
type MetricID = internalmetrics.MetricID

const (
	// MetricLoginSuccess counts completed logins, MFA or not.
	MetricLoginSuccess = internalmetrics.MetricLoginSuccess
	// MetricLoginFailure counts rejected logins.
	MetricLoginFailure = internalmetrics.MetricLoginFailure
	// MetricMFARequired counts logins that demanded a second factor.
	MetricMFARequired = internalmetrics.MetricMFARequired
	// MetricMFAFailure counts rejected MFA completions.
	MetricMFAFailure = internalmetrics.MetricMFAFailure
	// MetricRefreshSuccess counts validate-or-refresh units that succeeded.
	MetricRefreshSuccess = internalmetrics.MetricRefreshSuccess
	// MetricRefreshFailure counts validate-or-refresh units that failed.
	MetricRefreshFailure = internalmetrics.MetricRefreshFailure
	// MetricRefreshCoalesced counts callers that observed another caller's
	// in-flight refresh instead of starting their own.
	MetricRefreshCoalesced = internalmetrics.MetricRefreshCoalesced
	// MetricRequestSuccess counts executed operations that returned data.
	MetricRequestSuccess = internalmetrics.MetricRequestSuccess
	// MetricRequestFailure counts executed operations surfaced as failures.
	MetricRequestFailure = internalmetrics.MetricRequestFailure
	// MetricRequestRetry counts individual retried sends.
	MetricRequestRetry = internalmetrics.MetricRequestRetry
	// MetricRequestRateLimited counts rate-limit signals observed.
	MetricRequestRateLimited = internalmetrics.MetricRequestRateLimited
	// MetricSessionLoaded counts sessions restored from the store.
	MetricSessionLoaded = internalmetrics.MetricSessionLoaded
	// MetricSessionPersisted counts sessions written to the store.
	MetricSessionPersisted = internalmetrics.MetricSessionPersisted
	// MetricPollTimeout counts poller waits that hit the overall budget.
	MetricPollTimeout = internalmetrics.MetricPollTimeout
)

// Metrics holds the client's lock-free counters.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When enabled is false all
// operations are no-ops.
func NewMetrics(enabled bool) *Metrics {
	return internalmetrics.New(internalmetrics.Config{Enabled: enabled})
}
