// Package crypto wraps the handful of primitives the account, session and
// relay code build on.
//
//   - Curve25519 identity, base and one-time keys (GenerateX25519, DH)
//   - Ed25519 fingerprint keys and detached signatures (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Unpadded standard base64, the only encoding keys and ciphertexts use on
//     the wire (B64, DecodeB64, DecodeX25519, DecodeEd25519)
//   - Canonical JSON and the "signatures"/"unsigned" convention for signed
//     objects (CanonicalJSON, VerifySignedJSON)
//   - Short display fingerprints (Fingerprint)
//
// Keys are fixed-size arrays from internal/domain. Shared secrets returned by
// DH are owned by the caller, which wipes them with memzero after use.
package crypto
