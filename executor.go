package monarch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/mmkit/monarch/internal/gql"
)

const (
	graphqlPath = "/graphql"

	// maxResponseBytes bounds how much of any response body is read; the
	// service's payloads are far smaller, this just caps a misbehaving peer.
	maxResponseBytes = 8 << 20
)

// sendFailure is one classified failed send, before retry accounting.
type sendFailure struct {
	class Class
	cause error
}

// Execute runs one GraphQL operation with session handling and the retry
// policy applied:
//
//   - Validation, Unknown, MFA classes: surfaced immediately, no retry.
//   - Network, Server, RateLimited: retried with exponential backoff up to
//     Retry.MaxAttempts extra sends; rate limits back off at twice the base.
//   - Network failures never re-send a non-idempotent operation, because the
//     first send may have been applied.
//   - Authentication: one forced re-login, then one more send; a second
//     rejection is final.
//
// The returned data is the raw GraphQL data object for the caller to decode.
func (c *Client) Execute(ctx context.Context, op Operation) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrNotReady
	}
	if op.Query == "" {
		return nil, &Error{Class: ClassValidation, Operation: op.Name, Attempts: 0,
			Err: fmt.Errorf("operation has no query document")}
	}

	if err := c.EnsureValid(ctx); err != nil {
		return nil, err
	}

	policy := c.config.Retry
	attempts := 0
	retries := 0
	reauthed := false

	for {
		attempts++
		data, fail := c.send(ctx, op)
		if fail == nil {
			c.metricInc(MetricRequestSuccess)
			return data, nil
		}

		if fail.class == ClassRateLimited {
			c.metricInc(MetricRequestRateLimited)
		}

		if fail.class == ClassAuthentication && !reauthed {
			reauthed = true
			if err := c.reauthenticate(ctx); err != nil {
				c.metricInc(MetricRequestFailure)
				return nil, err
			}
			continue
		}

		canRetry := fail.class.retryable() &&
			retries < policy.MaxAttempts &&
			(op.Idempotent || fail.class != ClassNetwork)

		if !canRetry {
			c.metricInc(MetricRequestFailure)
			return nil, &Error{
				Class:     fail.class,
				Condition: conditionFromContext(fail.cause),
				Operation: op.Name,
				Attempts:  attempts,
				Err:       fail.cause,
			}
		}

		delay := retryDelay(policy, retries, fail.class == ClassRateLimited)
		retries++
		c.metricInc(MetricRequestRetry)
		c.logger.V(1).Info("retrying operation",
			"operation", op.Name, "class", fail.class.String(), "attempt", attempts, "delay", delay.String())

		if err := sleepContext(ctx, delay); err != nil {
			c.metricInc(MetricRequestFailure)
			return nil, &Error{
				Class:     fail.class,
				Condition: conditionFromContext(err),
				Operation: op.Name,
				Attempts:  attempts,
				Err:       fail.cause,
			}
		}
	}
}

// send performs exactly one wire exchange and classifies the outcome. It
// never retries and never mutates auth state beyond the last-used stamp.
func (c *Client) send(ctx context.Context, op Operation) (json.RawMessage, *sendFailure) {
	token, csrf, device := c.requestAuth()

	body, err := json.Marshal(gql.Request{
		OperationName: op.Name,
		Query:         op.Query,
		Variables:     op.Variables,
	})
	if err != nil {
		return nil, &sendFailure{class: ClassValidation, cause: err}
	}

	cctx, cancel := context.WithTimeout(ctx, c.config.Transport.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.config.BaseURL+graphqlPath, bytes.NewReader(body))
	if err != nil {
		return nil, &sendFailure{class: ClassValidation, cause: err}
	}
	c.setCommonHeaders(req, device)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRFToken", csrf)
	}

	resp, err := c.http.Do(req)
	c.touchSession(time.Now())
	if err != nil {
		return nil, &sendFailure{class: ClassNetwork, cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &sendFailure{class: ClassNetwork, cause: err}
	}

	var env gql.Response
	parsed := json.Unmarshal(raw, &env) == nil

	// An explicit rate-limit signal wins regardless of transport status.
	if resp.StatusCode == http.StatusTooManyRequests || (parsed && env.RateLimited()) {
		return nil, &sendFailure{class: ClassRateLimited, cause: ErrRateLimited}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &sendFailure{class: ClassAuthentication,
			cause: fmt.Errorf("server returned %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &sendFailure{class: ClassServer,
			cause: fmt.Errorf("server returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &sendFailure{class: ClassValidation,
			cause: fmt.Errorf("server rejected request: %d", resp.StatusCode)}
	}

	if !parsed {
		return nil, &sendFailure{class: ClassUnknown,
			cause: fmt.Errorf("malformed response envelope")}
	}

	if env.Failed() {
		msg := env.ErrorMessage()
		switch {
		case env.AuthFailed():
			return nil, &sendFailure{class: ClassAuthentication, cause: fmt.Errorf("%s", msg)}
		case env.Invalid():
			return nil, &sendFailure{class: ClassValidation, cause: fmt.Errorf("%s", msg)}
		default:
			return nil, &sendFailure{class: ClassUnknown, cause: fmt.Errorf("%s", msg)}
		}
	}

	return env.Data, nil
}

// retryDelay computes the backoff before retry number `retry` (zero-based):
// base·multiplier^retry, doubled base for rate limits, jittered by
// ±JitterFraction, never exceeding MaxDelay.
func retryDelay(p RetryConfig, retry int, rateLimited bool) time.Duration {
	base := float64(p.BaseDelay)
	if rateLimited {
		base *= 2
	}

	d := base * math.Pow(p.BackoffMultiplier, float64(retry))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		d *= 1 + p.JitterFraction*(2*rand.Float64()-1)
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// sleepContext blocks for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
