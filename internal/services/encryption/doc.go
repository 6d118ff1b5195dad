// Package encryption is the entry point to the pairwise encryption core for
// one logged-in principal.
//
// A Handler owns the account, the local device record and the directory of
// sessions, loads them at Open and saves them at the end of every call that
// can change them. All calls are serialized on one lock, so successive sync
// cycles see exactly the state the previous one persisted.
//
// One-time key replenishment is the only background work. It is started by
// HandleSync when the server reports fewer keys than the low-water mark,
// runs at most once at a time, and holds the lock only while generating and
// recording keys, never across the upload.
package encryption
