// Package connection tracks the client connection lifecycle.
//
// This package handles:
//   - The shared connection status shown to the user
//   - Bounded connection attempt sequences
//   - Delay policies between attempts
//
// # Attempt Sequence
//
// A Controller makes at most MaxRetries attempts with RetryDelay between
// them:
//
//  1. Publish "Searching for server"
//  2. Attempt; on success publish "Connected securely" and stop
//  3. On failure k < N publish "Retrying (k/N)" and wait
//  4. After failure N publish "Failed: exceeded max attempts"
//
// A new sequence starts only on explicit request; the budget resets for
// each one. Cancelling the context ends the sequence and publishes
// "Not connected".
//
// # Status Board
//
// StatusBoard is the single writer-visible status. Readers see whole values
// only. Subscribers get a signal after each change and re-read with Get.
package connection
