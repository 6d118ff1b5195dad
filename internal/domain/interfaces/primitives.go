package interfaces

import domaintypes "beacon/internal/domain/types"

// Account is the local long-term identity of a device together with its
// pool of one-time keys. Implementations are not safe for concurrent use.
type Account interface {
	IdentityKeys() domaintypes.IdentityKeys
	// Sign returns the unpadded base64 Ed25519 signature of message.
	Sign(message []byte) string

	GenerateOneTimeKeys(count int) error
	// OneTimeKeys returns the unpublished one-time keys, id -> public key.
	OneTimeKeys() map[string]string
	MarkKeysAsPublished()
	MaxNumberOfOneTimeKeys() int

	NewOutboundSession(theirIdentityKey, theirOneTimeKey string) (Session, error)
	NewInboundSession(theirIdentityKey string, preKeyBody string) (Session, error)
	// RemoveOneTimeKeys releases the one-time key used to create s. It reports
	// whether a key was removed; calling it again is a no-op.
	RemoveOneTimeKeys(s Session) bool

	Serialize() ([]byte, error)
}

// Session is one pairwise ratchet. Encrypt and Decrypt mutate it.
type Session interface {
	ID() string
	TheirIdentityKey() string
	Encrypt(plaintext []byte) (domaintypes.OlmMessage, error)
	Decrypt(msg domaintypes.OlmMessage) ([]byte, error)
	// MatchesInbound reports whether a pre-key message body was produced for
	// this session.
	MatchesInbound(preKeyBody string) bool
	Serialize() ([]byte, error)
}

// Primitives constructs and restores accounts and sessions.
type Primitives interface {
	NewAccount() (Account, error)
	RestoreAccount(data []byte) (Account, error)
	RestoreSession(data []byte) (Session, error)
}
