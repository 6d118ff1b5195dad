package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/services/identity"
)

// Service establishes outbound sessions to remote devices.
//
// This service handles:
//   - Fetching and verifying the remote device record from the key server.
//   - Claiming one signed one-time key for the device.
//   - Verifying the one-time key signature against the device's signing key.
//   - Creating the outbound session from the verified keys.
//
// Storing the session is left to the caller, which owns the directory.
type Service struct {
	keys domain.KeyServer
	log  logrus.FieldLogger
}

// New constructs a session service using keys for queries and claims.
func New(keys domain.KeyServer, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{keys: keys, log: log.WithField("service", "session")}
}

// Establish creates a new outbound session from account to r.
//
// Steps:
//  1. Query r's user for device records; a missing device is
//     ErrDeviceDoesNotExist.
//  2. Verify the record's self-signature and ownership.
//  3. Claim a signed one-time key; none is ErrNoPreKeysAvailable.
//  4. Verify the key's signature; missing is ErrNoSignature, invalid is
//     ErrPrekeyFailedVerification.
//  5. Build the outbound session from the identity and one-time keys.
func (s *Service) Establish(ctx context.Context, account domain.Account, r domain.Recipient) (domain.Session, domain.DeviceKeys, error) {
	if account == nil {
		return nil, domain.DeviceKeys{}, domain.ErrNoAccount
	}

	device, err := s.fetchDevice(ctx, r)
	if err != nil {
		return nil, domain.DeviceKeys{}, err
	}

	oneTimeKey, err := s.claimKey(ctx, r, device)
	if err != nil {
		return nil, domain.DeviceKeys{}, err
	}

	sess, err := account.NewOutboundSession(device.IdentityKey(), oneTimeKey)
	if err != nil {
		return nil, domain.DeviceKeys{}, fmt.Errorf("create outbound session: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"device":  r.String(),
		"session": sess.ID(),
	}).Debug("outbound session established")
	return sess, device, nil
}

func (s *Service) fetchDevice(ctx context.Context, r domain.Recipient) (domain.DeviceKeys, error) {
	found, err := s.keys.QueryKeys(ctx, []string{r.UserName})
	if err != nil {
		return domain.DeviceKeys{}, fmt.Errorf("query keys: %w", err)
	}
	device, ok := found.Lookup(r)
	if !ok {
		return domain.DeviceKeys{}, fmt.Errorf("%w: %s", domain.ErrDeviceDoesNotExist, r)
	}
	if err := identity.VerifyDeviceKeys(device, r); err != nil {
		return domain.DeviceKeys{}, err
	}
	return device, nil
}

func (s *Service) claimKey(ctx context.Context, r domain.Recipient, device domain.DeviceKeys) (string, error) {
	claimed, err := s.keys.ClaimKeys(ctx, domain.ClaimRequest{
		r.UserName: {r.DeviceName: domain.AlgorithmSignedCurve25519},
	})
	if err != nil {
		return "", fmt.Errorf("claim keys: %w", err)
	}
	byID, ok := claimed.Lookup(r)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrNoPreKeysAvailable, r)
	}
	id, key, ok := firstSigned(byID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrNoPreKeysAvailable, r)
	}

	err = crypto.VerifySignedJSON(key, key.Signatures, r.UserName,
		domain.KeyID(domain.AlgorithmEd25519, r.DeviceName), device.SigningKey())
	switch {
	case errors.Is(err, crypto.ErrSignatureMissing):
		return "", fmt.Errorf("%w: %s", domain.ErrNoSignature, id)
	case err != nil:
		return "", fmt.Errorf("%w: %s: %v", domain.ErrPrekeyFailedVerification, id, err)
	}
	return key.Key, nil
}

// firstSigned picks the signed one-time key from a claim response. The
// relay returns one key per device; ids are sorted so the choice is stable
// if it ever returns more.
func firstSigned(byID map[string]domain.SignedKey) (string, domain.SignedKey, bool) {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		if strings.HasPrefix(id, domain.AlgorithmSignedCurve25519+":") {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", domain.SignedKey{}, false
	}
	sort.Strings(ids)
	return ids[0], byID[ids[0]], true
}
