// Package session establishes outbound sessions to remote devices.
//
// Establishing a session trusts nothing the key server says on its own: the
// device record must carry a valid self-signature, and the claimed one-time
// key must be signed by that record's signing key, before the triple
// Diffie-Hellman handshake runs.
package session
