package types

const (
	// AlgorithmCurve25519 labels identity (Diffie-Hellman) keys.
	AlgorithmCurve25519 = "curve25519"
	// AlgorithmEd25519 labels signing keys.
	AlgorithmEd25519 = "ed25519"
	// AlgorithmSignedCurve25519 labels signed one-time keys on upload and claim.
	AlgorithmSignedCurve25519 = "signed_curve25519"
)

// Signatures maps user id -> "<algorithm>:<device id>" -> signature.
type Signatures map[string]map[string]string

// Get returns the signature made by user with keyID, if present.
func (s Signatures) Get(user, keyID string) (string, bool) {
	byKey, ok := s[user]
	if !ok {
		return "", false
	}
	sig, ok := byKey[keyID]
	return sig, ok
}

// Set records a signature, allocating the inner map when needed.
func (s Signatures) Set(user, keyID, sig string) {
	if s[user] == nil {
		s[user] = make(map[string]string)
	}
	s[user][keyID] = sig
}

// DeviceKeys is the published record of a device: its ids, the algorithms it
// supports, its public keys and the self-signature over all of it. Records are
// replaced wholesale, never edited in place.
type DeviceKeys struct {
	UserID     string            `json:"user_id"`
	DeviceID   string            `json:"device_id"`
	Algorithms []string          `json:"algorithms,omitempty"`
	Keys       map[string]string `json:"keys"`
	Signatures Signatures        `json:"signatures,omitempty"`
}

// KeyID returns "<algorithm>:<device id>".
func KeyID(algorithm, deviceID string) string { return algorithm + ":" + deviceID }

// IdentityKey returns the device's Curve25519 identity key.
func (d DeviceKeys) IdentityKey() string {
	return d.Keys[KeyID(AlgorithmCurve25519, d.DeviceID)]
}

// SigningKey returns the device's Ed25519 key.
func (d DeviceKeys) SigningKey() string {
	return d.Keys[KeyID(AlgorithmEd25519, d.DeviceID)]
}

// Recipient returns the (user, device) handle of the record.
func (d DeviceKeys) Recipient() Recipient {
	return Recipient{UserName: d.UserID, DeviceName: d.DeviceID}
}

// Clone returns a deep copy.
func (d DeviceKeys) Clone() DeviceKeys {
	out := DeviceKeys{
		UserID:     d.UserID,
		DeviceID:   d.DeviceID,
		Algorithms: append([]string(nil), d.Algorithms...),
		Keys:       make(map[string]string, len(d.Keys)),
	}
	for k, v := range d.Keys {
		out.Keys[k] = v
	}
	if d.Signatures != nil {
		out.Signatures = make(Signatures, len(d.Signatures))
		for user, byKey := range d.Signatures {
			for k, v := range byKey {
				out.Signatures.Set(user, k, v)
			}
		}
	}
	return out
}

// SignedKey is a one-time key as uploaded and claimed: the public key plus
// the owning device's signature over {"key": ...}.
type SignedKey struct {
	Key        string     `json:"key"`
	Signatures Signatures `json:"signatures,omitempty"`
}

// SignedKeyID returns "signed_curve25519:<key id>".
func SignedKeyID(keyID string) string {
	return AlgorithmSignedCurve25519 + ":" + keyID
}

// DeviceKeyMap is a key query response: user -> device -> record.
type DeviceKeyMap map[string]map[string]DeviceKeys

// Lookup returns the record for r, if the response carries one.
func (m DeviceKeyMap) Lookup(r Recipient) (DeviceKeys, bool) {
	d, ok := m[r.UserName][r.DeviceName]
	return d, ok
}

// ClaimRequest asks for one key of the given algorithm per device:
// user -> device -> algorithm.
type ClaimRequest map[string]map[string]string

// ClaimedKeys is a claim response: user -> device -> "<algorithm>:<id>" -> key.
type ClaimedKeys map[string]map[string]map[string]SignedKey

// Lookup returns the keys claimed for r, if any.
func (c ClaimedKeys) Lookup(r Recipient) (map[string]SignedKey, bool) {
	k, ok := c[r.UserName][r.DeviceName]
	return k, ok
}
