package types

import (
	"errors"
	"strings"
)

// ErrInvalidCombinedName is returned when a "user:device" string cannot be split.
var ErrInvalidCombinedName = errors.New("the combined name provided was invalid")

// Recipient identifies one device of one user. It is comparable and is used
// directly as a map key for directory lookups and failure reporting.
type Recipient struct {
	UserName   string `json:"user_name"`
	DeviceName string `json:"device_name"`
}

// NewRecipient returns the recipient for (user, device).
func NewRecipient(user, device string) Recipient {
	return Recipient{UserName: user, DeviceName: device}
}

// ParseRecipient splits a combined "user:device" name. The device is taken
// after the last colon, since user ids such as "@alice:example.org" contain one.
func ParseRecipient(combined string) (Recipient, error) {
	i := strings.LastIndex(combined, ":")
	if i <= 0 || i == len(combined)-1 {
		return Recipient{}, ErrInvalidCombinedName
	}
	return Recipient{UserName: combined[:i], DeviceName: combined[i+1:]}, nil
}

// CombinedName returns "user:device".
func (r Recipient) CombinedName() string { return r.UserName + ":" + r.DeviceName }

// String returns the combined name.
func (r Recipient) String() string { return r.CombinedName() }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
