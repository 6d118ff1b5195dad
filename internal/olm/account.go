package olm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/protocol/ratchet"
	"beacon/internal/protocol/x3dh"
)

// MaxOneTimeKeys is the most one-time keys an account holds. Generating more
// discards the oldest.
const MaxOneTimeKeys = 100

const accountPickleVersion = 1

var (
	// ErrBadMessageKeyID is returned when a pre-key message names a one-time
	// key this account does not hold, or an identity key other than expected.
	ErrBadMessageKeyID = errors.New("olm: bad message key id")
	ErrBadAccountKey   = errors.New("olm: bad account pickle")
)

type oneTimeKey struct {
	ID        uint32               `json:"id"`
	Private   domain.X25519Private `json:"private"`
	Public    domain.X25519Public  `json:"public"`
	Published bool                 `json:"published"`
}

// Account is the local device identity: a Curve25519 identity key, an
// Ed25519 signing key and the one-time keys offered to peers.
type Account struct {
	identityPriv domain.X25519Private
	identityPub  domain.X25519Public
	signingPriv  domain.Ed25519Private
	signingPub   domain.Ed25519Public

	oneTimeKeys []oneTimeKey
	nextKeyID   uint32
}

var _ domain.Account = (*Account)(nil)

// NewAccount generates fresh identity and signing keys.
func NewAccount() (*Account, error) {
	idPriv, idPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	sPriv, sPub, err := crypto.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	return &Account{
		identityPriv: idPriv,
		identityPub:  idPub,
		signingPriv:  sPriv,
		signingPub:   sPub,
		nextKeyID:    1,
	}, nil
}

// IdentityKeys returns the public identity and signing keys.
func (a *Account) IdentityKeys() domain.IdentityKeys {
	return domain.IdentityKeys{
		Curve25519: crypto.B64(a.identityPub[:]),
		Ed25519:    crypto.B64(a.signingPub[:]),
	}
}

// Sign returns the base64 signature of message.
func (a *Account) Sign(message []byte) string {
	return crypto.B64(crypto.SignEd25519(a.signingPriv, message))
}

// GenerateOneTimeKeys adds count unpublished keys.
func (a *Account) GenerateOneTimeKeys(count int) error {
	for i := 0; i < count; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return err
		}
		a.oneTimeKeys = append(a.oneTimeKeys, oneTimeKey{ID: a.nextKeyID, Private: priv, Public: pub})
		a.nextKeyID++
	}
	if extra := len(a.oneTimeKeys) - MaxOneTimeKeys; extra > 0 {
		a.oneTimeKeys = append([]oneTimeKey(nil), a.oneTimeKeys[extra:]...)
	}
	return nil
}

// OneTimeKeys returns the unpublished keys as key id -> public key.
func (a *Account) OneTimeKeys() map[string]string {
	out := make(map[string]string)
	for _, k := range a.oneTimeKeys {
		if !k.Published {
			out[keyIDString(k.ID)] = crypto.B64(k.Public[:])
		}
	}
	return out
}

// MarkKeysAsPublished flags every current key as published.
func (a *Account) MarkKeysAsPublished() {
	for i := range a.oneTimeKeys {
		a.oneTimeKeys[i].Published = true
	}
}

// MaxNumberOfOneTimeKeys returns MaxOneTimeKeys.
func (a *Account) MaxNumberOfOneTimeKeys() int { return MaxOneTimeKeys }

// NewOutboundSession starts a session with a device whose identity key and
// claimed one-time key are given in base64.
func (a *Account) NewOutboundSession(theirIdentityKey, theirOneTimeKey string) (domain.Session, error) {
	theirID, err := crypto.DecodeX25519(theirIdentityKey)
	if err != nil {
		return nil, err
	}
	theirOTK, err := crypto.DecodeX25519(theirOneTimeKey)
	if err != nil {
		return nil, err
	}
	basePriv, basePub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	root, err := x3dh.InitiatorRootKey(a.identityPriv, basePriv, theirID, theirOTK)
	if err != nil {
		return nil, err
	}
	st, err := ratchet.InitAsInitiator(root, theirID)
	if err != nil {
		return nil, err
	}
	return &Session{
		outbound:      true,
		ourIdentity:   a.identityPub,
		theirIdentity: theirID,
		oneTimeKey:    theirOTK,
		baseKey:       basePub,
		state:         st,
	}, nil
}

// NewInboundSession builds the responder side from a base64 pre-key message
// body. When theirIdentityKey is not empty it must match the identity key
// embedded in the message. The one-time key stays in the account until
// RemoveOneTimeKeys is called.
func (a *Account) NewInboundSession(theirIdentityKey string, preKeyBody string) (domain.Session, error) {
	raw, err := crypto.DecodeB64(preKeyBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessageFormat, err)
	}
	pk, err := decodePreKeyMessage(raw)
	if err != nil {
		return nil, err
	}
	var theirID, base, otkPub domain.X25519Public
	copy(theirID[:], pk.IdentityKey)
	copy(base[:], pk.BaseKey)
	copy(otkPub[:], pk.OneTimeKey)

	if theirIdentityKey != "" {
		expected, err := crypto.DecodeX25519(theirIdentityKey)
		if err != nil {
			return nil, err
		}
		if expected != theirID {
			return nil, ErrBadMessageKeyID
		}
	}

	otk, ok := a.findOneTimeKey(otkPub)
	if !ok {
		return nil, ErrBadMessageKeyID
	}
	inner, err := decodeMessage(pk.Message)
	if err != nil {
		return nil, err
	}
	root, err := x3dh.ResponderRootKey(a.identityPriv, otk.Private, theirID, base)
	if err != nil {
		return nil, err
	}
	var senderRatchet domain.X25519Public
	copy(senderRatchet[:], inner.RatchetKey)
	st, err := ratchet.InitAsResponder(root, a.identityPriv, senderRatchet)
	if err != nil {
		return nil, err
	}
	return &Session{
		received:      true,
		ourIdentity:   a.identityPub,
		theirIdentity: theirID,
		oneTimeKey:    otkPub,
		baseKey:       base,
		state:         st,
	}, nil
}

// RemoveOneTimeKeys deletes the one-time key an inbound session was built
// from. It reports whether a key was removed.
func (a *Account) RemoveOneTimeKeys(s domain.Session) bool {
	sess, ok := s.(*Session)
	if !ok || sess.outbound {
		return false
	}
	for i, k := range a.oneTimeKeys {
		if k.Public == sess.oneTimeKey {
			a.oneTimeKeys = append(a.oneTimeKeys[:i], a.oneTimeKeys[i+1:]...)
			return true
		}
	}
	return false
}

func (a *Account) findOneTimeKey(pub domain.X25519Public) (oneTimeKey, bool) {
	for _, k := range a.oneTimeKeys {
		if k.Public == pub {
			return k, true
		}
	}
	return oneTimeKey{}, false
}

type accountPickle struct {
	Version      int                   `json:"version"`
	IdentityPriv domain.X25519Private  `json:"identity_private"`
	IdentityPub  domain.X25519Public   `json:"identity_public"`
	SigningPriv  domain.Ed25519Private `json:"signing_private"`
	SigningPub   domain.Ed25519Public  `json:"signing_public"`
	OneTimeKeys  []oneTimeKey          `json:"one_time_keys"`
	NextKeyID    uint32                `json:"next_key_id"`
}

// Serialize returns the account as versioned JSON, private keys included.
func (a *Account) Serialize() ([]byte, error) {
	return json.Marshal(accountPickle{
		Version:      accountPickleVersion,
		IdentityPriv: a.identityPriv,
		IdentityPub:  a.identityPub,
		SigningPriv:  a.signingPriv,
		SigningPub:   a.signingPub,
		OneTimeKeys:  a.oneTimeKeys,
		NextKeyID:    a.nextKeyID,
	})
}

// RestoreAccount parses bytes produced by Serialize.
func RestoreAccount(data []byte) (*Account, error) {
	var p accountPickle
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAccountKey, err)
	}
	if p.Version != accountPickleVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadAccountKey, p.Version)
	}
	// The stored public halves must match the private keys.
	dh, err := crypto.DH(p.IdentityPriv, curveBasepoint())
	if err != nil || !bytes.Equal(dh[:], p.IdentityPub[:]) {
		return nil, fmt.Errorf("%w: identity key mismatch", ErrBadAccountKey)
	}
	if !bytes.Equal(p.SigningPriv[32:], p.SigningPub[:]) {
		return nil, fmt.Errorf("%w: signing key mismatch", ErrBadAccountKey)
	}
	return &Account{
		identityPriv: p.IdentityPriv,
		identityPub:  p.IdentityPub,
		signingPriv:  p.SigningPriv,
		signingPub:   p.SigningPub,
		oneTimeKeys:  p.OneTimeKeys,
		nextKeyID:    p.NextKeyID,
	}, nil
}

func curveBasepoint() domain.X25519Public {
	return domain.X25519Public{9}
}

// keyIDString encodes a key id the way it appears on the wire: the
// big-endian 32-bit id in unpadded base64.
func keyIDString(id uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return crypto.B64(b[:])
}

// sessionID is the same on both ends: H(IKa || EKa || OTKb).
func sessionID(initiatorIdentity, base, oneTime domain.X25519Public) string {
	h := sha256.New()
	h.Write(initiatorIdentity[:])
	h.Write(base[:])
	h.Write(oneTime[:])
	return crypto.B64(h.Sum(nil))
}
