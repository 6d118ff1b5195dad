// Package memzero wipes secret key material once it is no longer needed.
package memzero

import "runtime"

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}

// Keys wipes every 32-byte key in ks.
func Keys(ks ...*[32]byte) {
	for _, k := range ks {
		if k != nil {
			Zero(k[:])
		}
	}
}
