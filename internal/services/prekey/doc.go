// Package prekey signs, publishes and replenishes one-time keys.
//
// Keys are uploaded as "signed_curve25519:<id>" with a signature over
// {"key": <public key>}. Generation happens on the account, upload happens
// on the key server, and the two are separate calls so the caller can hold
// its state lock for the first and release it for the second.
package prekey
