package encryption_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/crypto"
	"beacon/internal/domain"
	"beacon/internal/olm"
	"beacon/internal/relay"
	"beacon/internal/services/encryption"
	"beacon/internal/store"
)

var (
	aliceR = domain.NewRecipient("@alice:hs", "ALICE")
	bobR   = domain.NewRecipient("@bob:hs", "BOB")
	carolR = domain.NewRecipient("@carol:hs", "CAROL")
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type principal struct {
	h      *encryption.Handler
	client *relay.LocalClient
	blobs  domain.BlobStore
}

type option func(*encryption.Config)

func withSyncLimit(n int) option { return func(c *encryption.Config) { c.SyncLimit = n } }

func newHandler(t *testing.T, client domain.RelayClient, blobs domain.BlobStore, r domain.Recipient, passphrase string, opts ...option) *encryption.Handler {
	t.Helper()
	states := store.NewStateStore(blobs, store.NewSealer(passphrase, store.ScryptParams{N: 16, R: 1, P: 1}), olm.Primitives{}, quietLogger())
	cfg := encryption.Config{UserID: r.UserName, DeviceID: r.DeviceName}
	for _, o := range opts {
		o(&cfg)
	}
	h, err := encryption.New(cfg, client, states, olm.Primitives{}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// join opens a handler for r on hub and runs setup.
func join(t *testing.T, hub *relay.Hub, r domain.Recipient, opts ...option) principal {
	t.Helper()
	client := hub.Client(r.UserName, r.DeviceName)
	blobs := store.NewMemoryStore()
	h := newHandler(t, client, blobs, r, "Correct-Horse-9", opts...)
	reset, err := h.Open(context.Background())
	require.NoError(t, err)
	require.False(t, reset)
	_, err = h.Setup(context.Background())
	require.NoError(t, err)
	return principal{h: h, client: client, blobs: blobs}
}

func send(t *testing.T, from principal, content string, to ...domain.Recipient) domain.Outcome {
	t.Helper()
	out, err := from.h.Send(context.Background(), to, content, "")
	require.NoError(t, err)
	return out
}

func syncOnce(t *testing.T, p principal) map[domain.Recipient]string {
	t.Helper()
	res, err := p.h.Sync(context.Background())
	require.NoError(t, err)
	return res.Messages
}

func newHub() *relay.Hub { return relay.NewHub(relay.WithLogger(quietLogger())) }

func TestHandler_RoundTrip(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	out := send(t, alice, "hello", bobR)
	assert.True(t, out.Succeeded(bobR))
	assert.Empty(t, out.Failure)

	assert.Equal(t, map[domain.Recipient]string{aliceR: "hello"}, syncOnce(t, bob))
	// Acknowledged by the stored token.
	assert.Empty(t, syncOnce(t, bob))

	send(t, bob, "hi alice", aliceR)
	assert.Equal(t, "hi alice", syncOnce(t, alice)[bobR])

	send(t, alice, "standard now", bobR)
	assert.Equal(t, "standard now", syncOnce(t, bob)[aliceR])
}

func TestHandler_Preconditions(t *testing.T) {
	hub := newHub()
	_, err := encryption.New(encryption.Config{UserID: "@alice:hs"}, hub.Client("@alice:hs", ""), nil, olm.Primitives{}, nil)
	assert.ErrorIs(t, err, domain.ErrNoCredentials)

	h := newHandler(t, hub.Client(aliceR.UserName, aliceR.DeviceName), store.NewMemoryStore(), aliceR, "Correct-Horse-9")
	_, err = h.Open(context.Background())
	require.NoError(t, err)

	_, err = h.Send(context.Background(), []domain.Recipient{bobR}, "x", "")
	assert.ErrorIs(t, err, domain.ErrNoAccount)
	_, err = h.Sync(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoAccount)
	_, err = h.IdentityKeys()
	assert.ErrorIs(t, err, domain.ErrNoAccount)

	_, err = h.Setup(context.Background())
	require.NoError(t, err)
	_, err = h.Setup(context.Background())
	assert.ErrorIs(t, err, domain.ErrExistingAccount)

	require.NoError(t, h.Close())
	_, err = h.Send(context.Background(), []domain.Recipient{bobR}, "x", "")
	assert.ErrorIs(t, err, encryption.ErrClosed)
}

func TestHandler_SetupPublishesSignedKeys(t *testing.T) {
	hub := newHub()
	bob := join(t, hub, bobR)

	assert.Equal(t, 10, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))
	assert.Equal(t, 10, bob.h.OneTimeKeyCount())

	dev, ok := hub.Query([]string{bobR.UserName}).Lookup(bobR)
	require.True(t, ok)
	keys, err := bob.h.IdentityKeys()
	require.NoError(t, err)
	assert.Equal(t, keys.Curve25519, dev.IdentityKey())
	assert.Equal(t, keys.Ed25519, dev.SigningKey())
	require.NoError(t, crypto.VerifySignedJSON(dev, dev.Signatures, bobR.UserName, "ed25519:BOB", dev.SigningKey()))

	fp, err := bob.h.Fingerprint()
	require.NoError(t, err)
	assert.Len(t, fp.String(), 20)
}

func TestHandler_LastMessageWins(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	send(t, alice, "Hello", bobR)
	send(t, alice, "Hello again", bobR)

	assert.Equal(t, map[domain.Recipient]string{aliceR: "Hello again"}, syncOnce(t, bob))
}

func TestHandler_SessionSingularity(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)
	ctx := context.Background()

	require.NoError(t, alice.h.Establish(ctx, bobR))
	require.NoError(t, alice.h.Establish(ctx, bobR))
	assert.Equal(t, []domain.Recipient{bobR}, alice.h.Sessions())
	assert.Equal(t, 8, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))

	send(t, alice, "after re-establish", bobR)
	assert.Equal(t, "after re-establish", syncOnce(t, bob)[aliceR])
}

func TestHandler_PreKeyThenStandardOrdering(t *testing.T) {
	hub := newHub()
	alice := join(t, hub, aliceR)
	bob := join(t, hub, bobR, withSyncLimit(1))

	for i := 1; i <= 3; i++ {
		send(t, alice, fmt.Sprintf("pre-key %d", i), bobR)
	}
	for i := 1; i <= 3; i++ {
		assert.Equal(t, fmt.Sprintf("pre-key %d", i), syncOnce(t, bob)[aliceR])
	}

	send(t, bob, "ack", aliceR)
	require.Equal(t, "ack", syncOnce(t, alice)[bobR])

	for i := 1; i <= 3; i++ {
		send(t, alice, fmt.Sprintf("standard %d", i), bobR)
	}
	for i := 1; i <= 3; i++ {
		assert.Equal(t, fmt.Sprintf("standard %d", i), syncOnce(t, bob)[aliceR])
	}
}

func TestHandler_StandardWithoutSessionIsDropped(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	send(t, alice, "hello", bobR)
	require.Equal(t, "hello", syncOnce(t, bob)[aliceR])
	send(t, bob, "ack", aliceR)
	require.Equal(t, "ack", syncOnce(t, alice)[bobR])

	removed, err := bob.h.RemoveSession(aliceR)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = bob.h.RemoveSession(aliceR)
	require.NoError(t, err)
	assert.False(t, removed)

	send(t, alice, "lost", bobR)
	assert.Empty(t, syncOnce(t, bob))
}

func TestHandler_SortsByAge(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	for _, m := range []string{"1", "2", "3"} {
		send(t, alice, m, bobR)
	}
	resp, err := hub.Sync(bobR, "", 0)
	require.NoError(t, err)
	require.Len(t, resp.Events, 3)
	for i, j := 0, len(resp.Events)-1; i < j; i, j = i+1, j-1 {
		resp.Events[i], resp.Events[j] = resp.Events[j], resp.Events[i]
	}

	res, err := bob.h.HandleSync(resp)
	require.NoError(t, err)
	assert.Equal(t, "3", res.Messages[aliceR])
}

func TestHandler_PassthroughEvents(t *testing.T) {
	hub := newHub()
	bob := join(t, hub, bobR)

	other := domain.Event{Type: "m.room_key_request", Sender: aliceR.UserName, Content: json.RawMessage(`{}`), AgeTS: 1}
	res, err := bob.h.HandleSync(domain.SyncResponse{Events: []domain.Event{other}})
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
	assert.Equal(t, []domain.Event{other}, res.Passthrough)
}

func TestHandler_TamperedSenderKeyIsDropped(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	send(t, alice, "genuine", bobR)
	resp, err := hub.Sync(bobR, "", 0)
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
	original := resp.Events[0]

	var w domain.WireMessage
	require.NoError(t, json.Unmarshal(original.Content, &w))
	raw, err := crypto.DecodeB64(w.SenderKey)
	require.NoError(t, err)
	raw[0] ^= 0x01
	w.SenderKey = crypto.B64(raw)
	tampered := original
	tampered.Content, err = json.Marshal(w)
	require.NoError(t, err)

	res, err := bob.h.HandleSync(domain.SyncResponse{Events: []domain.Event{tampered}})
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
	assert.False(t, bob.h.HasSession(aliceR))

	// A sender that is not the payload's sender is dropped too.
	spoofed := original
	spoofed.Sender = carolR.UserName
	res, err = bob.h.HandleSync(domain.SyncResponse{Events: []domain.Event{spoofed}})
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	res, err = bob.h.HandleSync(domain.SyncResponse{Events: []domain.Event{original}})
	require.NoError(t, err)
	assert.Equal(t, "genuine", res.Messages[aliceR])
}

func TestHandler_DeviceRotation(t *testing.T) {
	hub := newHub()
	alice, bob, carol := join(t, hub, aliceR), join(t, hub, bobR), join(t, hub, carolR)

	send(t, alice, "from old device", bobR)
	send(t, carol, "from carol", bobR)
	require.Len(t, syncOnce(t, bob), 2)

	// Same user, new device and new keys.
	alice2R := domain.NewRecipient(aliceR.UserName, "ALICE2")
	alice2 := join(t, hub, alice2R)
	send(t, alice2, "from new device", bobR)
	assert.Equal(t, map[domain.Recipient]string{alice2R: "from new device"}, syncOnce(t, bob))
	assert.ElementsMatch(t, []domain.Recipient{aliceR, alice2R, carolR}, bob.h.Sessions())

	// Same device id regenerated from scratch.
	require.NoError(t, alice.h.Logout())
	_, err := alice.h.Setup(context.Background())
	require.NoError(t, err)
	send(t, alice, "after regenerate", bobR)
	assert.Equal(t, "after regenerate", syncOnce(t, bob)[aliceR])

	// The replaced session is the one Bob now answers on.
	send(t, bob, "to regenerated", aliceR, carolR)
	assert.Equal(t, "to regenerated", syncOnce(t, alice)[bobR])
	assert.Equal(t, "to regenerated", syncOnce(t, carol)[bobR])
}

func TestHandler_TwoSyncCyclesKeepOrder(t *testing.T) {
	hub := newHub()
	alice := join(t, hub, aliceR)
	bob := join(t, hub, bobR, withSyncLimit(100))

	for i := 0; i < 150; i++ {
		send(t, alice, fmt.Sprintf("m%03d", i), bobR)
	}
	assert.Equal(t, "m099", syncOnce(t, bob)[aliceR])
	assert.Equal(t, "m149", syncOnce(t, bob)[aliceR])
	assert.Empty(t, syncOnce(t, bob))
}

func TestHandler_PerRecipientFailures(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)
	_ = join(t, hub, carolR)

	for i := 0; i < 10; i++ {
		hub.Claim(domain.ClaimRequest{carolR.UserName: {carolR.DeviceName: domain.AlgorithmSignedCurve25519}})
	}
	ghostR := domain.NewRecipient("@ghost:hs", "NOPE")

	out := send(t, alice, "hi", bobR, carolR, ghostR, bobR)
	assert.Equal(t, []domain.Recipient{bobR}, out.Success)
	require.Len(t, out.Failure, 2)

	f, ok := out.FailureFor(carolR)
	require.True(t, ok)
	assert.ErrorIs(t, f.Err, domain.ErrNoPreKeysAvailable)
	f, ok = out.FailureFor(ghostR)
	require.True(t, ok)
	assert.ErrorIs(t, f.Err, domain.ErrDeviceDoesNotExist)

	assert.Equal(t, "hi", syncOnce(t, bob)[aliceR])
}

func TestHandler_TransportFailureFailsSend(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	boom := errors.New("relay unavailable")
	alice.client.FailNextSend(boom)
	_, err := alice.h.Send(context.Background(), []domain.Recipient{bobR}, "lost", "")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, syncOnce(t, bob))

	// The session survives and the next message gets through.
	assert.True(t, alice.h.HasSession(bobR))
	send(t, alice, "retry", bobR)
	assert.Equal(t, "retry", syncOnce(t, bob)[aliceR])
}

func TestHandler_ReplenishesBelowLowWater(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	send(t, alice, "hello", bobR)
	require.Equal(t, 9, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))
	require.Equal(t, "hello", syncOnce(t, bob)[aliceR])

	n, err := bob.h.Replenish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 19, n)
	require.NoError(t, bob.h.Close())
	assert.Equal(t, 19, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))
	assert.Equal(t, 19, bob.h.OneTimeKeyCount())
}

func TestHandler_CloseFinishesBackgroundReplenish(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)

	send(t, alice, "hello", bobR)
	require.Equal(t, 9, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))
	require.Equal(t, "hello", syncOnce(t, bob)[aliceR])

	require.NoError(t, bob.h.Close())
	assert.Equal(t, 19, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))

	_, err := bob.h.Sync(context.Background())
	assert.ErrorIs(t, err, encryption.ErrClosed)
}

func TestHandler_WrongPassphraseKeepsIdentity(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)
	ctx := context.Background()

	send(t, alice, "hello", bobR)
	require.Equal(t, "hello", syncOnce(t, bob)[aliceR])
	keys, err := bob.h.IdentityKeys()
	require.NoError(t, err)
	require.NoError(t, bob.h.Close())

	mistyped := newHandler(t, bob.client, bob.blobs, bobR, "Correct-Horse-8")
	reset, err := mistyped.Open(ctx)
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
	assert.False(t, reset)
	_, err = mistyped.Setup(ctx)
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)
	_, err = mistyped.Sync(ctx)
	assert.ErrorIs(t, err, store.ErrWrongPassphrase)
	require.NoError(t, mistyped.Close())

	published, ok := hub.Query([]string{bobR.UserName}).Lookup(bobR)
	require.True(t, ok)
	assert.Equal(t, keys.Curve25519, published.IdentityKey())

	restarted := newHandler(t, bob.client, bob.blobs, bobR, "Correct-Horse-9")
	reset, err = restarted.Open(ctx)
	require.NoError(t, err)
	assert.False(t, reset)
	got, err := restarted.IdentityKeys()
	require.NoError(t, err)
	assert.Equal(t, keys, got)
	assert.True(t, restarted.HasSession(aliceR))

	send(t, alice, "still here", bobR)
	res, err := restarted.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "still here", res.Messages[aliceR])
}

func TestHandler_PersistsAcrossRestart(t *testing.T) {
	hub := newHub()
	alice, bob := join(t, hub, aliceR), join(t, hub, bobR)
	ctx := context.Background()

	send(t, alice, "one", bobR)
	require.Equal(t, "one", syncOnce(t, bob)[aliceR])
	keys, err := bob.h.IdentityKeys()
	require.NoError(t, err)
	require.NoError(t, bob.h.Close())

	restarted := newHandler(t, bob.client, bob.blobs, bobR, "Correct-Horse-9")
	reset, err := restarted.Open(ctx)
	require.NoError(t, err)
	assert.False(t, reset)
	got, err := restarted.IdentityKeys()
	require.NoError(t, err)
	assert.Equal(t, keys, got)
	assert.True(t, restarted.HasSession(aliceR))

	// The stored sync token keeps "one" from being delivered again.
	send(t, alice, "two", bobR)
	res, err := restarted.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.Recipient]string{aliceR: "two"}, res.Messages)
}

func TestHandler_ResetsUnusableState(t *testing.T) {
	hub := newHub()
	bob := join(t, hub, bobR)
	ctx := context.Background()
	keys, err := bob.h.IdentityKeys()
	require.NoError(t, err)
	require.NoError(t, bob.h.Close())

	require.NoError(t, bob.blobs.Put(store.Namespace(bobR.UserName), "sessions", []byte("not sealed")))

	restarted := newHandler(t, bob.client, bob.blobs, bobR, "Correct-Horse-9")
	reset, err := restarted.Open(ctx)
	require.NoError(t, err)
	assert.True(t, reset)

	fresh, err := restarted.IdentityKeys()
	require.NoError(t, err)
	assert.NotEqual(t, keys.Curve25519, fresh.Curve25519)
	assert.Empty(t, restarted.Sessions())

	// The fresh identity is published and reachable.
	alice := join(t, hub, aliceR)
	send(t, alice, "after reset", bobR)
	res, err := restarted.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after reset", res.Messages[aliceR])
}

func TestHandler_OverHTTP(t *testing.T) {
	hub := newHub()
	srv := httptest.NewServer(relay.NewServer(hub, quietLogger()).Router())
	defer srv.Close()

	open := func(r domain.Recipient) *encryption.Handler {
		client := relay.NewHTTP(srv.URL, r.UserName, r.DeviceName, 5*time.Second)
		h := newHandler(t, client, store.NewMemoryStore(), r, "Correct-Horse-9")
		_, err := h.Open(context.Background())
		require.NoError(t, err)
		_, err = h.Setup(context.Background())
		require.NoError(t, err)
		return h
	}
	alice, bob := open(aliceR), open(bobR)
	ctx := context.Background()

	out, err := alice.Send(ctx, []domain.Recipient{bobR}, "over the wire", "txn-1")
	require.NoError(t, err)
	require.True(t, out.Succeeded(bobR))
	// A retried transaction is not delivered twice.
	_, err = alice.Send(ctx, []domain.Recipient{bobR}, "over the wire", "txn-1")
	require.NoError(t, err)

	res, err := bob.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "over the wire", res.Messages[aliceR])
	res, err = bob.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}
