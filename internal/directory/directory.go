// Package directory holds the known remote devices and the sessions
// established with them, keyed by (user, device).
//
// The directory keeps one invariant: every recipient with a session also has
// a device record. Sessions are never shared: Put replaces whatever was
// stored for the recipient.
package directory

import (
	"encoding/json"
	"fmt"
	"sort"

	"beacon/internal/domain"
)

// Directory is not safe for concurrent use; its owner serializes access.
type Directory struct {
	sessions map[domain.Recipient]domain.Session
	devices  map[domain.Recipient]domain.DeviceKeys
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		sessions: make(map[domain.Recipient]domain.Session),
		devices:  make(map[domain.Recipient]domain.DeviceKeys),
	}
}

// Session returns the session for r.
func (d *Directory) Session(r domain.Recipient) (domain.Session, bool) {
	s, ok := d.sessions[r]
	return s, ok
}

// Device returns the cached device record for r.
func (d *Directory) Device(r domain.Recipient) (domain.DeviceKeys, bool) {
	dev, ok := d.devices[r]
	return dev, ok
}

// Put stores a session together with its device record, overwriting both.
func (d *Directory) Put(r domain.Recipient, s domain.Session, dev domain.DeviceKeys) {
	d.sessions[r] = s
	d.devices[r] = dev
}

// Remove forgets the session and device for r. It reports whether anything
// was stored.
func (d *Directory) Remove(r domain.Recipient) bool {
	_, hadSession := d.sessions[r]
	_, hadDevice := d.devices[r]
	delete(d.sessions, r)
	delete(d.devices, r)
	return hadSession || hadDevice
}

// Len returns the number of sessions.
func (d *Directory) Len() int { return len(d.sessions) }

// Recipients lists every recipient with a session, sorted by combined name.
func (d *Directory) Recipients() []domain.Recipient {
	out := make([]domain.Recipient, 0, len(d.sessions))
	for r := range d.sessions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CombinedName() < out[j].CombinedName() })
	return out
}

// Consistent reports whether sessions and devices have the same key set.
func (d *Directory) Consistent() bool {
	if len(d.sessions) != len(d.devices) {
		return false
	}
	for r := range d.sessions {
		if _, ok := d.devices[r]; !ok {
			return false
		}
	}
	return true
}

// Snapshot is the persisted form: user -> device -> value.
type Snapshot struct {
	Sessions map[string]map[string]string            `json:"sessions"`
	Devices  map[string]map[string]domain.DeviceKeys `json:"devices"`
}

// Snapshot serializes every session and device.
func (d *Directory) Snapshot() (Snapshot, error) {
	snap := Snapshot{
		Sessions: make(map[string]map[string]string),
		Devices:  make(map[string]map[string]domain.DeviceKeys),
	}
	for r, s := range d.sessions {
		b, err := s.Serialize()
		if err != nil {
			return Snapshot{}, fmt.Errorf("serialize session %s: %w", r, err)
		}
		if snap.Sessions[r.UserName] == nil {
			snap.Sessions[r.UserName] = make(map[string]string)
		}
		snap.Sessions[r.UserName][r.DeviceName] = string(b)
	}
	for r, dev := range d.devices {
		if snap.Devices[r.UserName] == nil {
			snap.Devices[r.UserName] = make(map[string]domain.DeviceKeys)
		}
		snap.Devices[r.UserName][r.DeviceName] = dev
	}
	return snap, nil
}

// Restore rebuilds a directory from a snapshot. It fails with
// domain.ErrStoredStateMismatch unless sessions and devices cover exactly the
// same recipients; nothing is partially loaded.
func Restore(snap Snapshot, primitives domain.Primitives) (*Directory, error) {
	d := New()
	for user, byDevice := range snap.Devices {
		for device, dev := range byDevice {
			d.devices[domain.NewRecipient(user, device)] = dev
		}
	}
	for user, byDevice := range snap.Sessions {
		for device, blob := range byDevice {
			s, err := primitives.RestoreSession([]byte(blob))
			if err != nil {
				return nil, fmt.Errorf("restore session %s:%s: %w", user, device, err)
			}
			d.sessions[domain.NewRecipient(user, device)] = s
		}
	}
	if !d.Consistent() {
		return nil, domain.ErrStoredStateMismatch
	}
	return d, nil
}

// MarshalSessions returns the session blob.
func (s Snapshot) MarshalSessions() ([]byte, error) { return json.Marshal(s.Sessions) }

// MarshalDevices returns the device blob.
func (s Snapshot) MarshalDevices() ([]byte, error) { return json.Marshal(s.Devices) }

// UnmarshalSnapshot parses the two persisted blobs.
func UnmarshalSnapshot(sessions, devices []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(sessions, &snap.Sessions); err != nil {
		return Snapshot{}, fmt.Errorf("decode sessions: %w", err)
	}
	if err := json.Unmarshal(devices, &snap.Devices); err != nil {
		return Snapshot{}, fmt.Errorf("decode devices: %w", err)
	}
	return snap, nil
}
