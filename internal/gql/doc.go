// Package gql defines the GraphQL wire envelope the executor speaks: the
// request body, the data/errors response envelope, and the helpers that
// recognize rate-limit and authentication signals inside the errors array.
//
// # What this package must NOT do
//
//   - Perform HTTP itself; the root package owns transport and retry.
//   - Interpret business payloads; data stays raw JSON.
package gql
