package olm

import "beacon/internal/domain"

// Primitives constructs olm accounts and sessions for the encryption core.
type Primitives struct{}

var _ domain.Primitives = Primitives{}

// NewAccount implements domain.Primitives.
func (Primitives) NewAccount() (domain.Account, error) {
	a, err := NewAccount()
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RestoreAccount implements domain.Primitives.
func (Primitives) RestoreAccount(data []byte) (domain.Account, error) {
	a, err := RestoreAccount(data)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RestoreSession implements domain.Primitives.
func (Primitives) RestoreSession(data []byte) (domain.Session, error) {
	s, err := RestoreSession(data)
	if err != nil {
		return nil, err
	}
	return s, nil
}
