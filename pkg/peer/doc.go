// Package peer runs the host and client sides of a link.
//
// A Host listens on the configured port, accepts one client, performs the
// server handshake and reads until the client goes away. A Client connects
// with a bounded number of attempts and writes its payload once.
//
// Runner serializes sequences: Start runs one role on a worker goroutine and
// returns when that sequence is finished. Progress is published on a
// connection.StatusBoard.
//
// Configuration comes from DefaultConfig, a YAML file (LoadConfig) or both.
package peer
