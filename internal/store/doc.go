// Package store persists the encryption state of each logged-in principal.
//
// Blobs live in a BlobStore grouped by namespace. Three implementations are
// provided:
//   - BadgerStore: an embedded badger database; a namespace is a key prefix
//     and deleting it drops the prefix.
//   - FileStore: one directory per namespace, one file per blob, written via
//     a temp file and rename.
//   - MemoryStore: a map, for tests and throwaway runs.
//
// Every blob is sealed with ChaCha20-Poly1305 under a key derived from a
// passphrase with scrypt (Sealer) before it reaches the BlobStore.
//
// StateStore sits on top and knows the layout of one principal: the
// serialized account, the local device record, the session map and the device
// map under "<user>_encryption", plus the sync token under "<user>_sync".
// Loading is all-or-nothing; anything unreadable or inconsistent wipes the
// namespace and yields an empty state.
package store
