// Package main runs the in-memory relay that beacon devices publish keys to
// and exchange encrypted to-device events through.
//
// HTTP API
//
//	POST /_matrix/client/v3/keys/upload
//	    Store the caller's device keys and append signed one-time keys.
//	    Returns the remaining one-time key counts per algorithm.
//
//	POST /_matrix/client/v3/keys/query
//	    Return the device keys of every device of the requested users.
//
//	POST /_matrix/client/v3/keys/claim
//	    Hand out one one-time key per requested device, oldest upload first.
//	    Devices with no key left are absent from the response.
//
//	PUT /_matrix/client/v3/sendToDevice/{eventType}/{txnId}
//	    Queue content for each addressed device. A repeated txnId from the
//	    same device is accepted and ignored.
//
//	GET /_matrix/client/v3/sync?since=N&limit=M
//	    Drop everything up to N, then return up to M queued events, the
//	    next_batch token and the caller's one-time key counts.
//
//	GET /metrics, GET /health
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Callers identify themselves with X-Beacon-User and X-Beacon-Device.
//     There is no authentication; run it on a private network.
//   - An access log records method, path, status and duration per request.
//   - The default listen address is :8080.
//
// The relay never sees plaintext or private keys; it only stores ciphertext
// and public keys.
package main
