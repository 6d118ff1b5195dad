// Package wire wraps ratchet ciphertexts into the JSON object that travels
// through the transport, and unwraps them again.
package wire

import (
	"encoding/json"
	"fmt"

	"beacon/internal/domain"
)

// Algorithm is the only suite this core speaks.
const Algorithm = "m.olm.v1.curve25519-aes-sha2"

// Wrap builds the wire message for ciphertext sent by the local device.
func Wrap(msg domain.OlmMessage, senderKey, senderDevice string) domain.WireMessage {
	return domain.WireMessage{
		Algorithm:    Algorithm,
		Ciphertext:   msg,
		SenderKey:    senderKey,
		SenderDevice: senderDevice,
	}
}

// Encode returns the event content for w.
func Encode(w domain.WireMessage) (json.RawMessage, error) {
	return json.Marshal(w)
}

// Unwrap parses event content and checks the algorithm tag and message type.
func Unwrap(content json.RawMessage) (domain.WireMessage, error) {
	var w domain.WireMessage
	if err := json.Unmarshal(content, &w); err != nil {
		return domain.WireMessage{}, fmt.Errorf("decode wire message: %w", err)
	}
	if w.Algorithm != Algorithm {
		return domain.WireMessage{}, fmt.Errorf("%w: %q", domain.ErrUnknownAlgorithm, w.Algorithm)
	}
	switch w.Ciphertext.Type {
	case domain.MessageTypePreKey, domain.MessageTypeStandard:
	default:
		return domain.WireMessage{}, fmt.Errorf("wire message has unknown type %d", w.Ciphertext.Type)
	}
	if w.Ciphertext.Body == "" || w.SenderKey == "" || w.SenderDevice == "" {
		return domain.WireMessage{}, fmt.Errorf("wire message is missing fields")
	}
	return w, nil
}
