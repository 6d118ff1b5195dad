package prekey

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"beacon/internal/crypto"
	"beacon/internal/domain"
)

const (
	// DefaultLowWater is the server-side key count under which the pool is
	// topped up.
	DefaultLowWater = 10
	// DefaultBatch is how many keys one replenishment generates.
	DefaultBatch = 10
)

// Service signs and publishes one-time keys.
type Service struct {
	keys domain.KeyServer
	log  logrus.FieldLogger
}

// New returns a prekey service uploading through keys.
func New(keys domain.KeyServer, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{keys: keys, log: log.WithField("service", "prekey")}
}

// Prepare generates n new one-time keys in account and returns every
// unpublished key signed for upload, keyed "signed_curve25519:<id>".
//
// Each key is signed over the canonical JSON of {"key": <public key>} with
// the device's Ed25519 key.
func Prepare(account domain.Account, user, device string, n int) (map[string]domain.SignedKey, error) {
	if n > 0 {
		if err := account.GenerateOneTimeKeys(n); err != nil {
			return nil, fmt.Errorf("generate one-time keys: %w", err)
		}
	}
	signer := domain.KeyID(domain.AlgorithmEd25519, device)
	out := make(map[string]domain.SignedKey)
	for id, pub := range account.OneTimeKeys() {
		k := domain.SignedKey{Key: pub}
		msg, err := crypto.CanonicalJSON(k)
		if err != nil {
			return nil, fmt.Errorf("canonical one-time key: %w", err)
		}
		k.Signatures = domain.Signatures{}
		k.Signatures.Set(user, signer, account.Sign(msg))
		out[domain.SignedKeyID(id)] = k
	}
	return out, nil
}

// Upload publishes device (when non-nil) and keys and returns the server's
// remaining signed one-time key count. A response without that count is
// ErrKeyUploadFailed.
//
// Upload does not mark the keys as published: the caller does that on the
// account once the call returns without error.
func (s *Service) Upload(ctx context.Context, device *domain.DeviceKeys, keys map[string]domain.SignedKey) (int, error) {
	counts, err := s.keys.UploadKeys(ctx, device, keys)
	if err != nil {
		return 0, fmt.Errorf("upload keys: %w", err)
	}
	remaining, ok := counts[domain.AlgorithmSignedCurve25519]
	if !ok {
		return 0, domain.ErrKeyUploadFailed
	}
	s.log.WithFields(logrus.Fields{
		"uploaded":  len(keys),
		"remaining": remaining,
		"device":    device != nil,
	}).Debug("keys uploaded")
	return remaining, nil
}

// Needed returns how many keys to generate when the server reports count
// remaining keys. It is zero at or above lowWater and never pushes the
// account past half its capacity, so unclaimed keys are not discarded by
// the account before they are used.
func Needed(count, lowWater, batch, capacity int) int {
	if count >= lowWater {
		return 0
	}
	n := batch
	if limit := capacity/2 - count; n > limit {
		n = limit
	}
	if n < 0 {
		return 0
	}
	return n
}
