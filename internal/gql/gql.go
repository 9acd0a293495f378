package gql

import (
	"encoding/json"
	"strings"
)

// Request is the POST body for one GraphQL call.
type Request struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is the standard GraphQL envelope: either data or a non-empty
// errors array (both can appear on partial failures; errors win here).
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors,omitempty"`
}

// Error is one entry of the errors array.
type Error struct {
	Message    string     `json:"message"`
	Extensions Extensions `json:"extensions"`
}

// Extensions carries the machine-readable error code when present.
type Extensions struct {
	Code string `json:"code"`
}

// Failed reports whether the envelope carries any error.
func (r *Response) Failed() bool {
	return len(r.Errors) > 0
}

// RateLimited reports an explicit rate-limit payload, which must be honored
// regardless of transport status.
func (r *Response) RateLimited() bool {
	for _, e := range r.Errors {
		if e.Extensions.Code == "RATE_LIMITED" {
			return true
		}
		if strings.Contains(strings.ToLower(e.Message), "rate limit") {
			return true
		}
	}
	return false
}

// AuthFailed reports an authentication/authorization rejection inside the
// envelope.
func (r *Response) AuthFailed() bool {
	for _, e := range r.Errors {
		switch e.Extensions.Code {
		case "UNAUTHENTICATED", "FORBIDDEN":
			return true
		}
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "not authenticated") {
			return true
		}
	}
	return false
}

// Invalid reports a caller-input rejection inside the envelope.
func (r *Response) Invalid() bool {
	for _, e := range r.Errors {
		switch e.Extensions.Code {
		case "BAD_USER_INPUT", "GRAPHQL_VALIDATION_FAILED", "GRAPHQL_PARSE_FAILED":
			return true
		}
	}
	return false
}

// ErrorMessage flattens the errors array into one diagnostic string.
func (r *Response) ErrorMessage() string {
	if len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Extensions.Code != "" {
			parts = append(parts, e.Extensions.Code+": "+e.Message)
			continue
		}
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}
