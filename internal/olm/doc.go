// Package olm is the pairwise ratchet primitive: a local Account holding the
// long-term identity and a pool of one-time keys, and a Session per remote
// device.
//
// Sessions are bootstrapped with the triple Diffie–Hellman agreement in
// internal/protocol/x3dh and carried by the Double Ratchet in
// internal/protocol/ratchet. Until an outbound session has received a reply,
// every message it produces is a pre-key message that embeds the one-time
// key, base key and identity key the responder needs to build its side.
//
// Message bodies are protobuf-framed (see message.go) and base64 encoded
// without padding. Accounts and sessions serialize to versioned JSON; the
// caller is responsible for sealing the bytes at rest.
//
// Neither type is safe for concurrent use.
package olm
