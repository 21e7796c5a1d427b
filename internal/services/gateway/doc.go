// Package gateway groups the real-time discussion gateway service.
//
// The gateway terminates WebSocket connections for discussion participants,
// authenticates bearer tokens at the handshake, and relays events between
// connected clients and the discussions backend.
//
// Subpackages:
//   - gateway/app: WebSocket transport, frame dispatch, event fan-out
//   - gateway/auth: bearer-token verification at the handshake
//   - gateway/storage: session, connection-index, and rate-limit store
//     (Redis in production, SQLite for single-node and tests)
//   - gateway/orchestrator: discussion state machine, membership, turn
//     lifecycle, phase transitions
//   - gateway/turn: pure next-speaker strategies
//   - gateway/scoring: deterministic persona contribution scoring
//   - gateway/discussions: HTTP client for the discussions backend
//
// Sessions and rate-limit counters live in the store so a user's connection
// cap and per-action limits hold across gateway processes. Turn timers and
// conversation momentum are per-process and start cold after a restart.
package gateway
