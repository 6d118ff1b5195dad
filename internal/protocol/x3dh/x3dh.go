package x3dh

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/util/memzero"
)

const rootInfo = "BEACON_ROOT"

// InitiatorRootKey derives the root key for the side that claimed the peer's
// one-time key and generated the base (ephemeral) key.
func InitiatorRootKey(
	ourIdentityPriv domain.X25519Private,
	ourBasePriv domain.X25519Private,
	peerIdentity domain.X25519Public,
	peerOneTimeKey domain.X25519Public,
) ([]byte, error) {
	dh1, err := crypto.DH(ourIdentityPriv, peerOneTimeKey) // DH(IKA, OTKB)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(ourBasePriv, peerIdentity) // DH(EKA, IKB)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(ourBasePriv, peerOneTimeKey) // DH(EKA, OTKB)
	if err != nil {
		return nil, err
	}
	return deriveRoot(dh1, dh2, dh3), nil
}

// ResponderRootKey derives the same root key on the side whose one-time key
// was claimed, from the initiator's identity and base keys.
func ResponderRootKey(
	ourIdentityPriv domain.X25519Private,
	ourOneTimePriv domain.X25519Private,
	peerIdentity domain.X25519Public,
	peerBase domain.X25519Public,
) ([]byte, error) {
	dh1, err := crypto.DH(ourOneTimePriv, peerIdentity) // DH(OTKB, IKA)
	if err != nil {
		return nil, err
	}
	dh2, err := crypto.DH(ourIdentityPriv, peerBase) // DH(IKB, EKA)
	if err != nil {
		return nil, err
	}
	dh3, err := crypto.DH(ourOneTimePriv, peerBase) // DH(OTKB, EKA)
	if err != nil {
		return nil, err
	}
	return deriveRoot(dh1, dh2, dh3), nil
}

func deriveRoot(dhs ...[32]byte) []byte {
	transcript := make([]byte, 0, 32*len(dhs))
	for i := range dhs {
		transcript = append(transcript, dhs[i][:]...)
		memzero.Keys(&dhs[i])
	}
	root := make([]byte, 32)
	_, _ = io.ReadFull(hkdf.New(sha256.New, transcript, nil, []byte(rootInfo)), root)
	memzero.Zero(transcript)
	return root
}
