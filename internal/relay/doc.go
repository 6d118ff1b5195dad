// Package relay is the directory service and to-device transport that
// devices talk to.
//
// Hub holds everything in memory: published device keys, signed one-time
// keys waiting to be claimed, and per-device queues of to-device events.
// Server exposes a Hub over HTTP with gorilla/mux, mimicking the Matrix
// client-server endpoints, and publishes prometheus counters on /metrics.
//
// Two clients implement domain.RelayClient for one device:
//   - HTTPClient, over the network.
//   - LocalClient, in-process against a Hub; tests use it to inject
//     transport failures.
//
// Endpoints (all JSON, caller identified by X-Beacon-User/X-Beacon-Device):
//
//	POST /_matrix/client/v3/keys/upload
//	POST /_matrix/client/v3/keys/query
//	POST /_matrix/client/v3/keys/claim
//	PUT  /_matrix/client/v3/sendToDevice/{eventType}/{txnId}
//	GET  /_matrix/client/v3/sync?since=&limit=
//	GET  /metrics
//
// Every queued event is stamped with age_ts, a millisecond timestamp that
// strictly increases across the hub. Sync acknowledges everything up to the
// since token it is given. The relay never sees plaintext or private keys.
package relay
