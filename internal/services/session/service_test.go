package session_test

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/domain"
	"beacon/internal/olm"
	"beacon/internal/relay"
	"beacon/internal/services/identity"
	"beacon/internal/services/prekey"
	"beacon/internal/services/session"
)

var bobR = domain.NewRecipient("@bob:hs", "BOB")

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// publishBob uploads Bob's device record and the given one-time keys after
// letting edit tamper with them.
func publishBob(t *testing.T, hub *relay.Hub, edit func(*domain.DeviceKeys, map[string]domain.SignedKey)) domain.Account {
	t.Helper()
	account, dev, err := identity.New(olm.Primitives{}, quietLogger()).CreateAccount(context.Background(), bobR.UserName, bobR.DeviceName)
	require.NoError(t, err)
	keys, err := prekey.Prepare(account, bobR.UserName, bobR.DeviceName, 1)
	require.NoError(t, err)
	if edit != nil {
		edit(&dev, keys)
	}
	_, err = hub.Upload(bobR, &dev, keys)
	require.NoError(t, err)
	account.MarkKeysAsPublished()
	return account
}

func establish(t *testing.T, hub *relay.Hub) (domain.Session, domain.DeviceKeys, error) {
	t.Helper()
	alice, err := olm.NewAccount()
	require.NoError(t, err)
	svc := session.New(hub.Client("@alice:hs", "ALICE"), quietLogger())
	return svc.Establish(context.Background(), alice, bobR)
}

func TestEstablish_VerifiedKeys(t *testing.T) {
	hub := relay.NewHub(relay.WithLogger(quietLogger()))
	bob := publishBob(t, hub, nil)

	sess, dev, err := establish(t, hub)
	require.NoError(t, err)
	assert.Equal(t, bob.IdentityKeys().Curve25519, dev.IdentityKey())
	assert.Equal(t, bob.IdentityKeys().Curve25519, sess.TheirIdentityKey())
	assert.Equal(t, 0, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))

	_, _, err = establish(t, hub)
	assert.ErrorIs(t, err, domain.ErrNoPreKeysAvailable)
}

func TestEstablish_Failures(t *testing.T) {
	cases := []struct {
		name string
		edit func(*domain.DeviceKeys, map[string]domain.SignedKey)
		want error
	}{
		{
			name: "device record signature",
			edit: func(d *domain.DeviceKeys, _ map[string]domain.SignedKey) {
				d.Algorithms = append(d.Algorithms, "m.megolm.v1.aes-sha2")
			},
			want: domain.ErrDeviceKeysFailedVerification,
		},
		{
			name: "unsigned one-time key",
			edit: func(_ *domain.DeviceKeys, keys map[string]domain.SignedKey) {
				for id, k := range keys {
					k.Signatures = nil
					keys[id] = k
				}
			},
			want: domain.ErrNoSignature,
		},
		{
			name: "substituted one-time key",
			edit: func(_ *domain.DeviceKeys, keys map[string]domain.SignedKey) {
				for id, k := range keys {
					k.Key = "hA0Tj8rZ9mM6mQmPZ2cY7kq3dWcQ0yPp3VqgR0hJtWQ"
					keys[id] = k
				}
			},
			want: domain.ErrPrekeyFailedVerification,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hub := relay.NewHub(relay.WithLogger(quietLogger()))
			publishBob(t, hub, tc.edit)
			_, _, err := establish(t, hub)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEstablish_UnknownDevice(t *testing.T) {
	hub := relay.NewHub(relay.WithLogger(quietLogger()))
	_, _, err := establish(t, hub)
	assert.ErrorIs(t, err, domain.ErrDeviceDoesNotExist)

	svc := session.New(hub.Client("@alice:hs", "ALICE"), quietLogger())
	_, _, err = svc.Establish(context.Background(), nil, bobR)
	assert.ErrorIs(t, err, domain.ErrNoAccount)
}
