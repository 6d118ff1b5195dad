package olm

import (
	"encoding/json"
	"errors"
	"fmt"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/protocol/ratchet"
)

const sessionPickleVersion = 1

var ErrBadSessionKey = errors.New("olm: bad session pickle")

// Session is one end of a pairwise ratchet.
type Session struct {
	outbound bool
	// received is set once the session has decrypted a message; from then on
	// it sends standard messages.
	received bool

	ourIdentity   domain.X25519Public
	theirIdentity domain.X25519Public
	oneTimeKey    domain.X25519Public
	baseKey       domain.X25519Public

	state domain.RatchetState
}

var _ domain.Session = (*Session)(nil)

// ID identifies the session; both ends compute the same value.
func (s *Session) ID() string {
	return sessionID(s.initiatorIdentity(), s.baseKey, s.oneTimeKey)
}

// TheirIdentityKey returns the remote identity key in base64.
func (s *Session) TheirIdentityKey() string { return crypto.B64(s.theirIdentity[:]) }

// Encrypt advances the sending chain. Until a message has been received the
// result is a pre-key message.
func (s *Session) Encrypt(plaintext []byte) (domain.OlmMessage, error) {
	st := s.state.Clone()
	h, ct, err := ratchet.Encrypt(&st, s.associatedData(), plaintext)
	if err != nil {
		return domain.OlmMessage{}, err
	}
	s.state = st

	body := message{
		RatchetKey:     h.DiffieHellmanPublicKey,
		ChainIndex:     h.MessageIndex,
		PreviousLength: h.PreviousChainLength,
		Ciphertext:     ct,
	}.encode()
	if s.received {
		return domain.OlmMessage{Body: crypto.B64(body), Type: domain.MessageTypeStandard}, nil
	}
	pk := preKeyMessage{
		OneTimeKey:  s.oneTimeKey[:],
		BaseKey:     s.baseKey[:],
		IdentityKey: s.ourIdentity[:],
		Message:     body,
	}.encode()
	return domain.OlmMessage{Body: crypto.B64(pk), Type: domain.MessageTypePreKey}, nil
}

// Decrypt opens msg. The session only changes when decryption succeeds.
func (s *Session) Decrypt(msg domain.OlmMessage) ([]byte, error) {
	raw, err := crypto.DecodeB64(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessageFormat, err)
	}
	switch msg.Type {
	case domain.MessageTypePreKey:
		pk, err := decodePreKeyMessage(raw)
		if err != nil {
			return nil, err
		}
		if !s.matches(pk) {
			return nil, ErrBadMessageKeyID
		}
		raw = pk.Message
	case domain.MessageTypeStandard:
	default:
		return nil, fmt.Errorf("%w: message type %d", ErrBadMessageFormat, msg.Type)
	}

	m, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	h := domain.RatchetHeader{
		DiffieHellmanPublicKey: m.RatchetKey,
		PreviousChainLength:    m.PreviousLength,
		MessageIndex:           m.ChainIndex,
	}
	st := s.state.Clone()
	pt, err := ratchet.Decrypt(&st, s.associatedData(), h, m.Ciphertext)
	if err != nil {
		return nil, err
	}
	s.state = st
	s.received = true
	return pt, nil
}

// MatchesInbound reports whether a base64 pre-key body belongs to this session.
func (s *Session) MatchesInbound(preKeyBody string) bool {
	raw, err := crypto.DecodeB64(preKeyBody)
	if err != nil {
		return false
	}
	pk, err := decodePreKeyMessage(raw)
	if err != nil {
		return false
	}
	return s.matches(pk)
}

func (s *Session) matches(pk preKeyMessage) bool {
	if s.outbound {
		return false
	}
	return string(pk.IdentityKey) == string(s.theirIdentity[:]) &&
		string(pk.BaseKey) == string(s.baseKey[:]) &&
		string(pk.OneTimeKey) == string(s.oneTimeKey[:])
}

func (s *Session) initiatorIdentity() domain.X25519Public {
	if s.outbound {
		return s.ourIdentity
	}
	return s.theirIdentity
}

// associatedData binds every message to both identities, initiator first.
func (s *Session) associatedData() []byte {
	ad := make([]byte, 0, 64)
	if s.outbound {
		ad = append(ad, s.ourIdentity[:]...)
		return append(ad, s.theirIdentity[:]...)
	}
	ad = append(ad, s.theirIdentity[:]...)
	return append(ad, s.ourIdentity[:]...)
}

type sessionPickle struct {
	Version       int                 `json:"version"`
	Outbound      bool                `json:"outbound"`
	Received      bool                `json:"received"`
	OurIdentity   domain.X25519Public `json:"our_identity"`
	TheirIdentity domain.X25519Public `json:"their_identity"`
	OneTimeKey    domain.X25519Public `json:"one_time_key"`
	BaseKey       domain.X25519Public `json:"base_key"`
	Ratchet       domain.RatchetState `json:"ratchet"`
}

// Serialize returns the session as versioned JSON.
func (s *Session) Serialize() ([]byte, error) {
	return json.Marshal(sessionPickle{
		Version:       sessionPickleVersion,
		Outbound:      s.outbound,
		Received:      s.received,
		OurIdentity:   s.ourIdentity,
		TheirIdentity: s.theirIdentity,
		OneTimeKey:    s.oneTimeKey,
		BaseKey:       s.baseKey,
		Ratchet:       s.state,
	})
}

// RestoreSession parses bytes produced by Serialize.
func RestoreSession(data []byte) (*Session, error) {
	var p sessionPickle
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSessionKey, err)
	}
	if p.Version != sessionPickleVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadSessionKey, p.Version)
	}
	if len(p.Ratchet.RootKey) != 32 {
		return nil, fmt.Errorf("%w: missing root key", ErrBadSessionKey)
	}
	if p.Ratchet.SkippedKeys == nil {
		p.Ratchet.SkippedKeys = make(map[string][]byte)
	}
	return &Session{
		outbound:      p.Outbound,
		received:      p.Received,
		ourIdentity:   p.OurIdentity,
		theirIdentity: p.TheirIdentity,
		oneTimeKey:    p.OneTimeKey,
		baseKey:       p.BaseKey,
		state:         p.Ratchet,
	}, nil
}
