package identity

import (
	"context"
	"fmt"
	"unicode"

	"github.com/sirupsen/logrus"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/wire"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
)

// Service creates the local account and its signed device record.
//
// The account contains:
//   - X25519 identity key pair for the triple Diffie-Hellman handshake.
//   - Ed25519 key pair for signing the device record and one-time keys.
type Service struct {
	primitives domain.Primitives
	log        logrus.FieldLogger
}

// New returns an identity service building accounts with primitives.
func New(primitives domain.Primitives, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{primitives: primitives, log: log.WithField("service", "identity")}
}

// CreateAccount generates a new account and the device record that
// advertises it as (user, device).
//
// Steps:
//  1. Generate the identity and signing key pairs.
//  2. Build the device record listing the supported message algorithm and
//     both public keys under "<algorithm>:<device>".
//  3. Sign the canonical JSON of the record with the new signing key.
func (s *Service) CreateAccount(ctx context.Context, user, device string) (domain.Account, domain.DeviceKeys, error) {
	if user == "" || device == "" {
		return nil, domain.DeviceKeys{}, domain.ErrNoCredentials
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.DeviceKeys{}, err
	}

	account, err := s.primitives.NewAccount()
	if err != nil {
		return nil, domain.DeviceKeys{}, fmt.Errorf("create account: %w", err)
	}
	keys, err := SignedDeviceKeys(account, user, device)
	if err != nil {
		return nil, domain.DeviceKeys{}, err
	}
	s.log.WithFields(logrus.Fields{
		"device":      domain.NewRecipient(user, device).String(),
		"fingerprint": Fingerprint(account).String(),
	}).Info("account created")
	return account, keys, nil
}

// SignedDeviceKeys builds and self-signs the device record for account.
func SignedDeviceKeys(account domain.Account, user, device string) (domain.DeviceKeys, error) {
	ids := account.IdentityKeys()
	keys := domain.DeviceKeys{
		UserID:     user,
		DeviceID:   device,
		Algorithms: []string{wire.Algorithm},
		Keys: map[string]string{
			domain.KeyID(domain.AlgorithmCurve25519, device): ids.Curve25519,
			domain.KeyID(domain.AlgorithmEd25519, device):    ids.Ed25519,
		},
	}
	msg, err := crypto.CanonicalJSON(keys)
	if err != nil {
		return domain.DeviceKeys{}, fmt.Errorf("canonical device keys: %w", err)
	}
	keys.Signatures = domain.Signatures{}
	keys.Signatures.Set(user, domain.KeyID(domain.AlgorithmEd25519, device), account.Sign(msg))
	return keys, nil
}

// VerifyDeviceKeys checks that keys belong to want and carry a valid
// self-signature made with the record's own signing key.
func VerifyDeviceKeys(keys domain.DeviceKeys, want domain.Recipient) error {
	if keys.Recipient() != want {
		return fmt.Errorf("%w: record is for %s", domain.ErrDeviceKeysFailedVerification, keys.Recipient())
	}
	if keys.IdentityKey() == "" || keys.SigningKey() == "" {
		return fmt.Errorf("%w: missing keys", domain.ErrDeviceKeysFailedVerification)
	}
	err := crypto.VerifySignedJSON(keys, keys.Signatures, keys.UserID,
		domain.KeyID(domain.AlgorithmEd25519, keys.DeviceID), keys.SigningKey())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeviceKeysFailedVerification, err)
	}
	return nil
}

// Fingerprint returns a short fingerprint of the account's identity key.
func Fingerprint(account domain.Account) domain.Fingerprint {
	pub, err := crypto.DecodeB64(account.IdentityKeys().Curve25519)
	if err != nil {
		return ""
	}
	return crypto.Fingerprint(pub)
}

// ValidatePassphrase enforces the strength policy for the passphrase that
// seals the local state.
func ValidatePassphrase(passphrase string) error {
	if !isSecurePassphrase(passphrase) {
		return ErrWeakPassphrase
	}
	return nil
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}
