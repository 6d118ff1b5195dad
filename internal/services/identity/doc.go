// Package identity creates the local account and the self-signed device
// record published for it, and verifies the records of remote devices.
//
// A device record lists the device's Curve25519 identity key and Ed25519
// signing key under "<algorithm>:<device id>" and is signed over its
// canonical JSON (signatures and unsigned members removed). Remote records
// are only trusted after that self-signature verifies and the record names
// the user and device that was asked for.
//
// The package also owns the passphrase policy for the sealed local state.
package identity
