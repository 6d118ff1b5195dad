package store_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/domain"
	"beacon/internal/store"
)

var fastScrypt = store.ScryptParams{N: 16, R: 1, P: 1}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func blobStores(t *testing.T) map[string]domain.BlobStore {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	bs, err := store.OpenBadger(store.BadgerConfig{InMemory: true, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })
	return map[string]domain.BlobStore{
		"memory": store.NewMemoryStore(),
		"file":   fs,
		"badger": bs,
	}
}

func TestBlobStores(t *testing.T) {
	for name, bs := range blobStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := bs.Get("@alice:hs_encryption", "account")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, bs.Put("@alice:hs_encryption", "account", []byte("a1")))
			require.NoError(t, bs.Put("@alice:hs_encryption", "account", []byte("a2")))
			require.NoError(t, bs.Put("@alice:hs_encryption", "device", []byte("d")))
			require.NoError(t, bs.Put("@alice:hs_encryptionx", "account", []byte("other")))

			got, ok, err := bs.Get("@alice:hs_encryption", "account")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "a2", string(got))

			require.NoError(t, bs.DeleteNamespace("@alice:hs_encryption"))
			_, ok, err = bs.Get("@alice:hs_encryption", "device")
			require.NoError(t, err)
			assert.False(t, ok)

			// A namespace sharing a prefix is untouched.
			got, ok, err = bs.Get("@alice:hs_encryptionx", "account")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "other", string(got))

			require.NoError(t, bs.PutAll("@alice:hs_encryption", map[string][]byte{
				"account": []byte("a3"),
				"device":  []byte("d3"),
			}))
			for key, want := range map[string]string{"account": "a3", "device": "d3"} {
				got, ok, err := bs.Get("@alice:hs_encryption", key)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, want, string(got))
			}
		})
	}
}

func TestSealer(t *testing.T) {
	s := store.NewSealer("correct horse", fastScrypt)
	sealed, err := s.Seal("ns/account", []byte("secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret")

	raw, err := s.Open("ns/account", sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(raw))

	// Bound to its name.
	_, err = s.Open("ns/device", sealed)
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)

	// A fresh sealer with the same passphrase derives the same key from the salt.
	raw, err = store.NewSealer("correct horse", fastScrypt).Open("ns/account", sealed)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(raw))

	_, err = store.NewSealer("wrong", fastScrypt).Open("ns/account", sealed)
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)
}
