// Package log provides structured protocol event capture for peerlink.
//
// This package defines the Logger interface and Event types for recording
// what happened on a connection: status transitions, session open/close,
// byte runs read or written, and errors. It is separate from operational
// logging (slog); the event trace is machine-readable and meant for
// debugging a session after the fact.
//
// # Basic Usage
//
//	// For development: log events to the console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For later analysis: write a binary trace
//	cfg.ProtocolLogger, _ = log.NewFileLogger("host.plog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # File Format
//
// Trace files are a stream of CBOR-encoded events with integer keys and the
// .plog extension. The peerlink-log command views and summarizes them.
package log
