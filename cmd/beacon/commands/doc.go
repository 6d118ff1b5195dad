// Package commands defines the beacon CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create this device's keys and publish them to the relay
//   - keys           Print identity keys, fingerprint and sessions
//   - send           Encrypt and send a text message to devices
//   - send-location  Encrypt and send a location update to devices
//   - recv           Fetch and decrypt queued messages
//   - forget         Drop the session with a device
//   - replenish      Upload new one-time keys when the relay runs low
//   - logout         Erase all local keys and sessions
//
// Devices are named "user:device"; the device is everything after the last
// colon, so Matrix-style user ids work as they are.
//
// # Implementation
//
// The root command loads <home>/config.yaml and applies flag overrides before
// any subcommand runs. Subcommands that touch keys build the dependency graph
// (store, sealer, relay client, encryption handler) per invocation and close
// it when done, which waits for any background key upload.
package commands
