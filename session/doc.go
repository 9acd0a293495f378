// Package session owns the durable authenticated-session artifact for the
// monarch client: the [State] record, the codecs that serialize it for rest,
// and the store drivers that persist it.
//
// # Architecture boundaries
//
// This package knows nothing about HTTP, GraphQL, or retry policy. It
// serializes and persists State and reports exactly two failure shapes to
// callers: [ErrNoSession] (missing, corrupt, or undecryptable — all
// equivalent at the API boundary) and real I/O errors from the backing
// store.
//
// # What this package must NOT do
//
//   - Perform network calls other than through a configured store driver.
//   - Silently fall back from encrypted to plaintext encoding. [PlainCodec]
//     exists only as an explicit opt-in and leaves tokens readable at rest.
//   - Import the root monarch package (no import cycles).
package session
