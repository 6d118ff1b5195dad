// Package x3dh implements the triple Diffie–Hellman key agreement used to
// bootstrap a Double Ratchet session between two devices.
//
// # Overview
//
// The responder publishes one-time Curve25519 keys, each signed with its
// Ed25519 device key, to the key server. The initiator claims one, checks the
// signature, generates a base key and derives a shared 32-byte root key:
//
//	DH(IKa, OTKb) || DH(EKa, IKb) || DH(EKa, OTKb)
//
// run through HKDF-SHA256. The responder recomputes the same transcript from
// the pre-key message, which carries IKa, EKa and the OTKb it used.
//
// There is no signed prekey: every session consumes exactly one one-time key,
// which the responder deletes once the session is confirmed.
package x3dh
