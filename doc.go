// Package monarch provides a resilient Go client for the MonarchMoney
// GraphQL API: credential and multi-factor login, encrypted session
// persistence, coalesced session refresh, and classified retry handling for
// every remote operation.
//
// The package is designed for concurrent callers: Client methods are safe to
// call from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// monarch is the public surface. It exposes [Client], [Builder], [Config],
// the failure taxonomy ([Class], [Condition], [Error]), and value types
// (SessionInfo, LoginResult, Account, Subscription). Session encoding and
// storage live in the session sub-package; the GraphQL wire envelope and
// metric counters live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Log or embed credential values, tokens, or MFA codes in errors.
//   - Retry a non-idempotent operation after an ambiguous network failure.
//   - Start more than one session refresh at a time, regardless of caller
//     count.
//
// # Failure contract
//
// Every failure surfaced by Execute and its wrappers maps to exactly one
// [Class], carries the number of sends actually attempted, and records an
// orthogonal [Condition] when a deadline or cancellation cut the work short.
// Callers branch on [ClassOf] and [ConditionOf], never on error strings.
package monarch
