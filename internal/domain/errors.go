package domain

import (
	"errors"

	types "beacon/internal/domain/types"
)

// Precondition errors. Returned before any state is touched; the caller
// recovers by running setup again.
var (
	ErrNoCredentials   = errors.New("no user or device configured")
	ErrNoAccount       = errors.New("no local account, run setup first")
	ErrExistingAccount = errors.New("an account already exists for this device")
)

// Directory and network errors, reported per recipient.
var (
	ErrDeviceDoesNotExist = errors.New("the requested device does not exist")
	ErrNoPreKeysAvailable = errors.New("no one-time keys available for device")
	ErrKeyUploadFailed    = errors.New("key upload response carried no key counts")
)

// Verification errors. The affected message or recipient is dropped.
var (
	ErrNoSignature                  = errors.New("one-time key carries no signature")
	ErrPrekeyFailedVerification     = errors.New("one-time key signature failed verification")
	ErrDeviceKeysFailedVerification = errors.New("device keys failed verification")
	ErrNoMatchingIdentityKey        = errors.New("payload identity key does not match sender key")
	ErrInboundSessionDoesntMatch    = errors.New("inbound message does not match session")
	ErrNoSession                    = errors.New("no session for sender")
	ErrUnknownAlgorithm             = errors.New("unknown message algorithm")
)

// Consistency errors. Fatal to loading; the state is wiped and rebuilt.
var (
	ErrStoredStateMismatch = errors.New("stored sessions and devices disagree")
)

// ErrInvalidCombinedName is returned when a "user:device" name cannot be split.
var ErrInvalidCombinedName = types.ErrInvalidCombinedName
