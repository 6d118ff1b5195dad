package crypto_test

import (
	"errors"
	"testing"

	"beacon/internal/crypto"
	"beacon/internal/domain"
)

func TestCanonicalJSON_SortsAndStrips(t *testing.T) {
	in := map[string]any{
		"z":          1,
		"a":          map[string]any{"y": "<&>", "b": []int{3, 1}},
		"signatures": map[string]any{"@u:hs": map[string]string{"ed25519:D": "sig"}},
		"unsigned":   map[string]any{"age": 5},
	}
	got, err := crypto.CanonicalJSON(in)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"a":{"b":[3,1],"y":"<&>"},"z":1}`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalJSON_KeepsLargeNumbers(t *testing.T) {
	got, err := crypto.CanonicalJSON(map[string]int64{"n": 9007199254740993})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	if string(got) != `{"n":9007199254740993}` {
		t.Fatalf("canonical = %s", got)
	}
}

func TestVerifySignedJSON(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	key := domain.SignedKey{Key: "abc"}
	msg, err := crypto.CanonicalJSON(key)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	key.Signatures = domain.Signatures{}
	key.Signatures.Set("@bob:hs", "ed25519:BOB", crypto.B64(crypto.SignEd25519(priv, msg)))
	signer := crypto.B64(pub[:])

	if err := crypto.VerifySignedJSON(key, key.Signatures, "@bob:hs", "ed25519:BOB", signer); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	err = crypto.VerifySignedJSON(key, key.Signatures, "@bob:hs", "ed25519:OTHER", signer)
	if !errors.Is(err, crypto.ErrSignatureMissing) {
		t.Fatalf("err = %v, want ErrSignatureMissing", err)
	}

	tampered := key
	tampered.Key = "abd"
	err = crypto.VerifySignedJSON(tampered, key.Signatures, "@bob:hs", "ed25519:BOB", signer)
	if !errors.Is(err, crypto.ErrSignatureInvalid) {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestDecodeB64_AcceptsPadding(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	for _, s := range []string{crypto.B64(raw), crypto.B64(raw) + "=="} {
		got, err := crypto.DecodeB64(s)
		if err != nil || string(got) != string(raw) {
			t.Fatalf("DecodeB64(%q) = %v, %v", s, got, err)
		}
	}
}

func TestDH_Agrees(t *testing.T) {
	aPriv, aPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatal(err)
	}
	bPriv, bPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatal(err)
	}
	ab, err := crypto.DH(aPriv, bPub)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := crypto.DH(bPriv, aPub)
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Fatal("shared secrets differ")
	}
}
