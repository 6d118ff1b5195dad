package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"beacon/internal/directory"
	"beacon/internal/domain"
)

// Blob names inside a principal's namespace.
const (
	blobAccount  = "account"
	blobDevice   = "device"
	blobSessions = "sessions"
	blobDevices  = "devices"
	blobSyncNext = "next_batch"
)

// State is everything the encryption core owns for one principal. Account
// and Device are nil until setup has run.
type State struct {
	Account   domain.Account
	Device    *domain.DeviceKeys
	Directory *directory.Directory
}

// Empty returns a state with no account and an empty directory.
func Empty() State { return State{Directory: directory.New()} }

// StateStore saves and restores State through a BlobStore.
type StateStore struct {
	blobs      domain.BlobStore
	sealer     *Sealer
	primitives domain.Primitives
	log        logrus.FieldLogger
}

// NewStateStore wires a StateStore.
func NewStateStore(blobs domain.BlobStore, sealer *Sealer, primitives domain.Primitives, log logrus.FieldLogger) *StateStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &StateStore{blobs: blobs, sealer: sealer, primitives: primitives, log: log}
}

// Namespace returns the namespace holding user's encryption state.
func Namespace(user string) string { return user + "_encryption" }

func syncNamespace(user string) string { return user + "_sync" }

// Load restores the state for user. A missing state yields Empty. An account
// blob that does not open under the sealer's passphrase is reported as
// ErrWrongPassphrase and nothing is touched. Anything else unreadable or
// inconsistent wipes the stored state and yields Empty with reset set; the
// returned error is then only non-nil when that wipe fails.
func (s *StateStore) Load(user string) (st State, reset bool, err error) {
	st, loadErr := s.load(user)
	if loadErr == nil {
		return st, false, nil
	}
	if errors.Is(loadErr, ErrWrongPassphrase) {
		return Empty(), false, loadErr
	}
	s.log.WithFields(logrus.Fields{"user": user, "error": loadErr}).
		Error("stored encryption state is unusable, resetting")
	if err := s.Wipe(user); err != nil {
		return Empty(), true, err
	}
	return Empty(), true, nil
}

func (s *StateStore) load(user string) (State, error) {
	ns := Namespace(user)
	blobs := make(map[string][]byte, 4)
	for _, name := range []string{blobAccount, blobDevice, blobSessions, blobDevices} {
		b, ok, err := s.get(ns, name)
		switch {
		case err != nil && name != blobAccount && errors.Is(err, ErrWrongPassphrase):
			// The account opened under this passphrase, so this blob is damaged.
			return State{}, fmt.Errorf("%w: %s does not open", domain.ErrStoredStateMismatch, name)
		case err != nil:
			return State{}, fmt.Errorf("read %s: %w", name, err)
		}
		if ok {
			blobs[name] = b
		}
	}
	if len(blobs) == 0 {
		return Empty(), nil
	}
	if len(blobs) != 4 {
		return State{}, fmt.Errorf("%w: only %d of 4 blobs present", domain.ErrStoredStateMismatch, len(blobs))
	}

	account, err := s.primitives.RestoreAccount(blobs[blobAccount])
	if err != nil {
		return State{}, fmt.Errorf("restore account: %w", err)
	}
	var device domain.DeviceKeys
	if err := json.Unmarshal(blobs[blobDevice], &device); err != nil {
		return State{}, fmt.Errorf("decode device: %w", err)
	}
	if device.IdentityKey() != account.IdentityKeys().Curve25519 {
		return State{}, fmt.Errorf("%w: device record does not match account", domain.ErrStoredStateMismatch)
	}
	snap, err := directory.UnmarshalSnapshot(blobs[blobSessions], blobs[blobDevices])
	if err != nil {
		return State{}, err
	}
	dir, err := directory.Restore(snap, s.primitives)
	if err != nil {
		return State{}, err
	}
	return State{Account: account, Device: &device, Directory: dir}, nil
}

// Save writes every blob of st in one batch. A state without an account is
// not saved.
func (s *StateStore) Save(user string, st State) error {
	if st.Account == nil || st.Device == nil {
		return nil
	}
	ns := Namespace(user)

	account, err := st.Account.Serialize()
	if err != nil {
		return fmt.Errorf("serialize account: %w", err)
	}
	device, err := json.Marshal(st.Device)
	if err != nil {
		return fmt.Errorf("encode device: %w", err)
	}
	snap, err := st.Directory.Snapshot()
	if err != nil {
		return err
	}
	sessions, err := snap.MarshalSessions()
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	devices, err := snap.MarshalDevices()
	if err != nil {
		return fmt.Errorf("encode devices: %w", err)
	}

	sealed := make(map[string][]byte, 4)
	for name, raw := range map[string][]byte{
		blobAccount:  account,
		blobDevice:   device,
		blobSessions: sessions,
		blobDevices:  devices,
	} {
		b, err := s.sealer.Seal(ns+"/"+name, raw)
		if err != nil {
			return fmt.Errorf("seal %s: %w", name, err)
		}
		sealed[name] = b
	}
	if err := s.blobs.PutAll(ns, sealed); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Wipe deletes everything stored for user.
func (s *StateStore) Wipe(user string) error {
	return errors.Join(
		s.blobs.DeleteNamespace(Namespace(user)),
		s.blobs.DeleteNamespace(syncNamespace(user)),
	)
}

// LoadSyncToken returns the last stored next_batch token, or "".
func (s *StateStore) LoadSyncToken(user string) (string, error) {
	b, ok, err := s.get(syncNamespace(user), blobSyncNext)
	if err != nil || !ok {
		return "", err
	}
	return string(b), nil
}

// SaveSyncToken stores the next_batch token.
func (s *StateStore) SaveSyncToken(user, token string) error {
	return s.put(syncNamespace(user), blobSyncNext, []byte(token))
}

func (s *StateStore) get(ns, name string) ([]byte, bool, error) {
	sealed, ok, err := s.blobs.Get(ns, name)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, err := s.sealer.Open(ns+"/"+name, sealed)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *StateStore) put(ns, name string, raw []byte) error {
	sealed, err := s.sealer.Seal(ns+"/"+name, raw)
	if err != nil {
		return err
	}
	return s.blobs.Put(ns, name, sealed)
}
