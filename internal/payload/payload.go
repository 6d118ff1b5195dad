// Package payload encodes and checks the authenticated plaintext carried
// inside every ratchet ciphertext.
package payload

import (
	"encoding/json"
	"fmt"

	"beacon/internal/domain"
)

// Local describes the sending or receiving device as the payload sees it.
type Local struct {
	UserID   string
	DeviceID string
	Keys     domain.IdentityKeys
}

// New builds the payload sent from local to a remote device.
func New(content string, from Local, to domain.DeviceKeys) domain.Payload {
	return domain.Payload{
		Content:      content,
		Sender:       from.UserID,
		SenderDevice: from.DeviceID,
		Keys: map[string]string{
			domain.AlgorithmCurve25519: from.Keys.Curve25519,
			domain.AlgorithmEd25519:    from.Keys.Ed25519,
		},
		Recipient: to.UserID,
		RecipientKeys: map[string]string{
			domain.AlgorithmCurve25519: to.IdentityKey(),
		},
	}
}

// Encode returns the JSON bytes that get encrypted.
func Encode(p domain.Payload) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses decrypted bytes.
func Decode(b []byte) (domain.Payload, error) {
	var p domain.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return domain.Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// SenderIdentityKey returns the sender's Curve25519 key claimed by the payload.
func SenderIdentityKey(p domain.Payload) string {
	return p.Keys[domain.AlgorithmCurve25519]
}

// RecipientIdentityKey returns the recipient's Curve25519 key claimed by the payload.
func RecipientIdentityKey(p domain.Payload) string {
	return p.RecipientKeys[domain.AlgorithmCurve25519]
}

// CheckRecipient verifies that p was addressed to the local device.
func CheckRecipient(p domain.Payload, local Local) error {
	if p.Recipient != local.UserID {
		return fmt.Errorf("%w: recipient %q", domain.ErrInboundSessionDoesntMatch, p.Recipient)
	}
	if RecipientIdentityKey(p) != local.Keys.Curve25519 {
		return fmt.Errorf("%w: recipient key", domain.ErrInboundSessionDoesntMatch)
	}
	return nil
}

// CheckSender performs the sender checks for a message on an established
// session: the payload key must equal both the wire sender key and the cached
// device's key, and the payload sender must equal the cached device's
// owner and device id.
func CheckSender(p domain.Payload, wireSenderKey string, device domain.DeviceKeys) error {
	key := SenderIdentityKey(p)
	switch {
	case key != wireSenderKey:
		return fmt.Errorf("%w: payload key differs from sender key", domain.ErrInboundSessionDoesntMatch)
	case key != device.IdentityKey():
		return fmt.Errorf("%w: payload key differs from known device", domain.ErrInboundSessionDoesntMatch)
	case p.Sender != device.UserID || p.SenderDevice != device.DeviceID:
		return fmt.Errorf("%w: payload sender differs from known device", domain.ErrInboundSessionDoesntMatch)
	case p.Keys[domain.AlgorithmEd25519] != "" && p.Keys[domain.AlgorithmEd25519] != device.SigningKey():
		return fmt.Errorf("%w: payload signing key differs from known device", domain.ErrInboundSessionDoesntMatch)
	}
	return nil
}

// DeviceFromPayload infers the sender's device record from a payload that
// opened a new inbound session. The record carries no signatures.
func DeviceFromPayload(p domain.Payload) domain.DeviceKeys {
	keys := map[string]string{
		domain.KeyID(domain.AlgorithmCurve25519, p.SenderDevice): SenderIdentityKey(p),
	}
	if ed := p.Keys[domain.AlgorithmEd25519]; ed != "" {
		keys[domain.KeyID(domain.AlgorithmEd25519, p.SenderDevice)] = ed
	}
	return domain.DeviceKeys{
		UserID:   p.Sender,
		DeviceID: p.SenderDevice,
		Keys:     keys,
	}
}
