// Package ratchet implements the Double Ratchet algorithm that carries every
// pairwise session after the triple Diffie–Hellman handshake.
//
// The algorithm maintains a root key and two message chains (send and receive).
// Each message advances a KDF chain so that keys are forward secure. When a party
// changes its DH ratchet public key, both sides derive new chain keys from a new
// root derived via DH.
//
// Message keys for messages that arrive out of order within a chain are kept
// in a bounded cache. A header that would require deriving more than
// MaxSkip keys is rejected with ErrTooManySkipped.
//
// Concurrency: RatchetState is NOT safe for concurrent use. Callers must
// serialise access per session. Encrypt and Decrypt mutate the state even on
// failure; callers that need all-or-nothing semantics work on a Clone.
package ratchet
