package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"beacon/internal/domain"
)

var (
	// ErrSignatureMissing is returned when the object carries no signature
	// for the requested signer.
	ErrSignatureMissing = errors.New("signature missing")
	// ErrSignatureInvalid is returned when the signature does not verify.
	ErrSignatureInvalid = errors.New("signature invalid")
)

// CanonicalJSON encodes v as canonical JSON: object keys sorted, no
// insignificant whitespace, no HTML escaping, and the top-level "signatures"
// and "unsigned" members removed. This is the byte string that gets signed.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	if obj, ok := generic.(map[string]any); ok {
		delete(obj, "signatures")
		delete(obj, "unsigned")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// VerifySignedJSON checks the signature made by user with keyID over the
// canonical form of v, using the base64 Ed25519 key signingKey.
func VerifySignedJSON(v any, sigs domain.Signatures, user, keyID, signingKey string) error {
	sigB64, ok := sigs.Get(user, keyID)
	if !ok {
		return ErrSignatureMissing
	}
	pub, err := DecodeEd25519(signingKey)
	if err != nil {
		return err
	}
	sig, err := DecodeB64(sigB64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	msg, err := CanonicalJSON(v)
	if err != nil {
		return err
	}
	if !VerifyEd25519(pub, msg, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
