// Package transport provides the encrypted channel between two peers.
//
// The transport layer handles:
//   - Role-specific TLS contexts built from a certificate and key
//   - Server and client handshakes over connected sockets
//   - A single-goroutine completion reactor for session I/O
//   - Optional length-prefixed framing
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Application byte runs        │
//	├────────────────────────────────┤
//	│ Length-Prefix Framing (opt.)   │
//	├────────────────────────────────┤
//	│       TLS 1.3 (1.2 min)        │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Peer Verification
//
// VerifyEnforce checks the peer certificate against the configured roots, or
// against the local certificate when no roots are given. VerifyAcceptAny
// skips verification and exists for testing and legacy peers.
//
// # Crypto Runtime
//
// Startup must be called once before building any SecureContext, and
// Shutdown once at process exit. Both are safe to call repeatedly.
//
// # Reads
//
// A ReadLoop keeps one read of ReadBufferSize bytes outstanding. Each
// completed read is delivered as produced by TLS; a message longer than the
// buffer arrives in several deliveries.
package transport
