package ratchet_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/protocol/ratchet"
)

// makeIdentity returns a fresh X25519 identity pair.
func makeIdentity(t *testing.T) (priv domain.X25519Private, pub domain.X25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

type sent struct {
	header domain.RatchetHeader
	ct     []byte
}

// pair seeds an initiator and a responder that share rk. The responder is
// seeded from the header of the initiator's first message, which is returned.
func pair(t *testing.T, ad []byte) (a, b domain.RatchetState, first sent) {
	t.Helper()
	rk := bytes.Repeat([]byte{0x42}, 32)
	bPriv, bPub := makeIdentity(t)

	a, err := ratchet.InitAsInitiator(rk, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	h, ct, err := ratchet.Encrypt(&a, ad, []byte("first"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	var senderRatchet domain.X25519Public
	copy(senderRatchet[:], h.DiffieHellmanPublicKey)
	b, err = ratchet.InitAsResponder(rk, bPriv, senderRatchet)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return a, b, sent{h, ct}
}

func TestDoubleRatchet_OneRoundTrip(t *testing.T) {
	ad := []byte("alice|bob")
	_, b, first := pair(t, ad)

	pt, err := ratchet.Decrypt(&b, ad, first.header, first.ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "first" {
		t.Fatalf("got %q, want %q", pt, "first")
	}
}

func TestDoubleRatchet_PingPong(t *testing.T) {
	ad := []byte("alice|bob")
	a, b, first := pair(t, ad)
	if _, err := ratchet.Decrypt(&b, ad, first.header, first.ct); err != nil {
		t.Fatalf("Decrypt first: %v", err)
	}

	for round := 0; round < 5; round++ {
		msg := []byte(fmt.Sprintf("b->a %d", round))
		h, ct, err := ratchet.Encrypt(&b, ad, msg)
		if err != nil {
			t.Fatalf("round %d: Encrypt b: %v", round, err)
		}
		pt, err := ratchet.Decrypt(&a, ad, h, ct)
		if err != nil {
			t.Fatalf("round %d: Decrypt a: %v", round, err)
		}
		if !bytes.Equal(pt, msg) {
			t.Fatalf("round %d: got %q, want %q", round, pt, msg)
		}

		msg = []byte(fmt.Sprintf("a->b %d", round))
		h, ct, err = ratchet.Encrypt(&a, ad, msg)
		if err != nil {
			t.Fatalf("round %d: Encrypt a: %v", round, err)
		}
		pt, err = ratchet.Decrypt(&b, ad, h, ct)
		if err != nil {
			t.Fatalf("round %d: Decrypt b: %v", round, err)
		}
		if !bytes.Equal(pt, msg) {
			t.Fatalf("round %d: got %q, want %q", round, pt, msg)
		}
	}
}

func TestDoubleRatchet_OutOfOrderWithinChain(t *testing.T) {
	ad := []byte("ad")
	a, b, first := pair(t, ad)

	var msgs []sent
	for i := 0; i < 3; i++ {
		h, ct, err := ratchet.Encrypt(&a, ad, []byte{byte('a' + i)})
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		msgs = append(msgs, sent{h, ct})
	}

	// Deliver the last one first; earlier keys are cached.
	pt, err := ratchet.Decrypt(&b, ad, msgs[2].header, msgs[2].ct)
	if err != nil || string(pt) != "c" {
		t.Fatalf("Decrypt last: %q, %v", pt, err)
	}
	pt, err = ratchet.Decrypt(&b, ad, first.header, first.ct)
	if err != nil || string(pt) != "first" {
		t.Fatalf("Decrypt first: %q, %v", pt, err)
	}
	pt, err = ratchet.Decrypt(&b, ad, msgs[0].header, msgs[0].ct)
	if err != nil || string(pt) != "a" {
		t.Fatalf("Decrypt msg 0: %q, %v", pt, err)
	}

	// Replaying a consumed message fails.
	if _, err := ratchet.Decrypt(&b, ad, msgs[0].header, msgs[0].ct); !errors.Is(err, ratchet.ErrSkippedKeyNotFound) {
		t.Fatalf("replay: want ErrSkippedKeyNotFound, got %v", err)
	}
}

func TestDoubleRatchet_TooManySkipped(t *testing.T) {
	ad := []byte("ad")
	_, b, first := pair(t, ad)

	h := first.header
	h.MessageIndex = ratchet.MaxSkip + 1
	if _, err := ratchet.Decrypt(&b, ad, h, first.ct); !errors.Is(err, ratchet.ErrTooManySkipped) {
		t.Fatalf("want ErrTooManySkipped, got %v", err)
	}
}

func TestDoubleRatchet_AssociatedDataBound(t *testing.T) {
	_, b, first := pair(t, []byte("ad"))
	if _, err := ratchet.Decrypt(&b, []byte("other"), first.header, first.ct); err == nil {
		t.Fatal("expected decrypt with wrong associated data to fail")
	}
}

func TestDoubleRatchet_CloneIsIndependent(t *testing.T) {
	ad := []byte("ad")
	_, b, first := pair(t, ad)

	clone := b.Clone()
	if _, err := ratchet.Decrypt(&clone, ad, first.header, first.ct); err != nil {
		t.Fatalf("Decrypt clone: %v", err)
	}
	// The original has not advanced and can still open the message.
	if _, err := ratchet.Decrypt(&b, ad, first.header, first.ct); err != nil {
		t.Fatalf("Decrypt original: %v", err)
	}
}
