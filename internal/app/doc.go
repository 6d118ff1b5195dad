// Package app loads the CLI configuration and wires application
// dependencies.
//
// Config is read from <home>/config.yaml with defaults filled in after
// decoding; command-line flags override it. NewWire builds the blob store
// (badger or plain files), the passphrase sealer, the HTTP relay client and
// the encryption handler from it, exposing them via the Wire struct for
// commands to use.
package app
