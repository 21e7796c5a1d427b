// Package timeouts defines shared timeout constants used across the gateway.
// Centralizing these values prevents drift between process boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// StoreOp caps the wait time for a single session-store operation.
const StoreOp = 5 * time.Second

// CollaboratorRequest caps the time allowed for one HTTP call to the
// discussions backend.
const CollaboratorRequest = 3 * time.Second

// CollaboratorClient bounds the whole HTTP exchange with the discussions
// backend, including retries handled by the transport.
const CollaboratorClient = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
