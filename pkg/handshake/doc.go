// Package handshake waits for a launched worker's output contract.
//
// Each poll reads the failure log first and then the output file, and
// classifies the result as an Observation. Missing, unreadable and
// malformed output is retried until the deadline; a failure log or a
// parseable output ends the watch immediately.
package handshake
