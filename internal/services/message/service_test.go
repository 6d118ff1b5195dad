package message_test

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/crypto"
	"beacon/internal/directory"
	"beacon/internal/domain"
	"beacon/internal/olm"
	"beacon/internal/payload"
	"beacon/internal/relay"
	"beacon/internal/services/identity"
	"beacon/internal/services/message"
	"beacon/internal/services/prekey"
	"beacon/internal/services/session"
	"beacon/internal/wire"
)

var (
	aliceR = domain.NewRecipient("@alice:hs", "ALICE")
	bobR   = domain.NewRecipient("@bob:hs", "BOB")
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type peer struct {
	p        message.Principal
	svc      *message.Service
	sessions *session.Service
}

func newPeer(t *testing.T, hub *relay.Hub, r domain.Recipient) peer {
	t.Helper()
	ctx := context.Background()
	log := quietLogger()
	client := hub.Client(r.UserName, r.DeviceName)

	account, dev, err := identity.New(olm.Primitives{}, log).CreateAccount(ctx, r.UserName, r.DeviceName)
	require.NoError(t, err)
	keys, err := prekey.Prepare(account, r.UserName, r.DeviceName, 5)
	require.NoError(t, err)
	_, err = prekey.New(client, log).Upload(ctx, &dev, keys)
	require.NoError(t, err)
	account.MarkKeysAsPublished()

	sessions := session.New(client, log)
	return peer{
		p: message.Principal{
			Account:   account,
			Self:      payload.Local{UserID: r.UserName, DeviceID: r.DeviceName, Keys: account.IdentityKeys()},
			Directory: directory.New(),
		},
		svc:      message.New(client, sessions, message.Config{}, log),
		sessions: sessions,
	}
}

// pending returns every event queued for r without acknowledging it.
func pending(t *testing.T, hub *relay.Hub, r domain.Recipient) []domain.Event {
	t.Helper()
	resp, err := hub.Sync(r, "", 0)
	require.NoError(t, err)
	return resp.Events
}

// drain returns and acknowledges every event queued for r.
func drain(t *testing.T, hub *relay.Hub, r domain.Recipient) []domain.Event {
	t.Helper()
	resp, err := hub.Sync(r, "", 0)
	require.NoError(t, err)
	_, err = hub.Sync(r, resp.NextBatch, 0)
	require.NoError(t, err)
	return resp.Events
}

func TestSend_DeduplicatesRecipients(t *testing.T) {
	hub := relay.NewHub(relay.WithLogger(quietLogger()))
	alice, _ := newPeer(t, hub, aliceR), newPeer(t, hub, bobR)

	out, err := alice.svc.Send(context.Background(), alice.p, []domain.Recipient{bobR, bobR}, "x", "")
	require.NoError(t, err)
	assert.Equal(t, []domain.Recipient{bobR}, out.Success)
	assert.Len(t, pending(t, hub, bobR), 1)
	assert.Equal(t, 4, hub.OneTimeKeyCount(bobR, domain.AlgorithmSignedCurve25519))
}

func TestReceive_StandardBeforePreKeyIsNoSession(t *testing.T) {
	hub := relay.NewHub(relay.WithLogger(quietLogger()))
	alice, bob := newPeer(t, hub, aliceR), newPeer(t, hub, bobR)
	ctx := context.Background()

	_, err := alice.svc.Send(ctx, alice.p, []domain.Recipient{bobR}, "first", "")
	require.NoError(t, err)
	first := drain(t, hub, bobR)
	require.Len(t, first, 1)

	// A second device state for Bob that has not seen the pre-key message.
	behind := bob.p
	behind.Directory = directory.New()

	got := bob.svc.Receive(bob.p, first)
	require.Equal(t, "first", got[aliceR])
	_, err = bob.svc.Send(ctx, bob.p, []domain.Recipient{aliceR}, "reply", "")
	require.NoError(t, err)
	require.Equal(t, "reply", alice.svc.Receive(alice.p, drain(t, hub, aliceR))[bobR])

	_, err = alice.svc.Send(ctx, alice.p, []domain.Recipient{bobR}, "second", "")
	require.NoError(t, err)
	second := drain(t, hub, bobR)
	require.Len(t, second, 1)

	var w domain.WireMessage
	require.NoError(t, json.Unmarshal(second[0].Content, &w))
	require.Equal(t, domain.MessageTypeStandard, w.Ciphertext.Type)

	_, _, err = bob.svc.ReceiveEvent(behind, second[0])
	assert.ErrorIs(t, err, domain.ErrNoSession)

	r, content, err := bob.svc.ReceiveEvent(bob.p, second[0])
	require.NoError(t, err)
	assert.Equal(t, aliceR, r)
	assert.Equal(t, "second", content)

	// The one-time key was released by the first standard message.
	sess, ok := bob.p.Directory.Session(aliceR)
	require.True(t, ok)
	assert.False(t, bob.p.Account.RemoveOneTimeKeys(sess))
}

// forge encrypts a hand-built payload from alice to bob on a fresh session.
func forge(t *testing.T, alice peer, edit func(*domain.Payload)) domain.Event {
	t.Helper()
	sess, dev, err := alice.sessions.Establish(context.Background(), alice.p.Account, bobR)
	require.NoError(t, err)

	pl := payload.New("forged", alice.p.Self, dev)
	edit(&pl)
	plaintext, err := payload.Encode(pl)
	require.NoError(t, err)
	msg, err := sess.Encrypt(plaintext)
	require.NoError(t, err)
	content, err := wire.Encode(wire.Wrap(msg, alice.p.Self.Keys.Curve25519, alice.p.Self.DeviceID))
	require.NoError(t, err)
	return domain.Event{Type: message.DefaultEventType, Sender: aliceR.UserName, Content: content, AgeTS: 1}
}

func TestReceive_RejectsMismatchedPayloads(t *testing.T) {
	hub := relay.NewHub(relay.WithLogger(quietLogger()))
	alice, bob := newPeer(t, hub, aliceR), newPeer(t, hub, bobR)

	cases := []struct {
		name string
		edit func(*domain.Payload)
		want error
	}{
		{
			name: "payload identity key",
			edit: func(p *domain.Payload) {
				raw, _ := crypto.DecodeB64(p.Keys[domain.AlgorithmCurve25519])
				raw[5] ^= 0x80
				p.Keys[domain.AlgorithmCurve25519] = crypto.B64(raw)
			},
			want: domain.ErrNoMatchingIdentityKey,
		},
		{
			name: "recipient",
			edit: func(p *domain.Payload) { p.Recipient = "@carol:hs" },
			want: domain.ErrInboundSessionDoesntMatch,
		},
		{
			name: "recipient key",
			edit: func(p *domain.Payload) { p.RecipientKeys[domain.AlgorithmCurve25519] = "AAAA" },
			want: domain.ErrInboundSessionDoesntMatch,
		},
		{
			name: "sender device",
			edit: func(p *domain.Payload) { p.SenderDevice = "OTHER" },
			want: domain.ErrInboundSessionDoesntMatch,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := forge(t, alice, tc.edit)
			_, _, err := bob.svc.ReceiveEvent(bob.p, ev)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, bob.svc.Receive(bob.p, []domain.Event{ev}))
			assert.Zero(t, bob.p.Directory.Len())
		})
	}
}

func TestReceive_UnknownAlgorithm(t *testing.T) {
	hub := relay.NewHub(relay.WithLogger(quietLogger()))
	bob := newPeer(t, hub, bobR)

	ev := domain.Event{
		Type:    message.DefaultEventType,
		Sender:  aliceR.UserName,
		Content: json.RawMessage(`{"algorithm":"m.megolm.v1.aes-sha2","ciphertext":{"ciphertext":"x","type":0},"senderKey":"k","senderDevice":"ALICE"}`),
	}
	_, _, err := bob.svc.ReceiveEvent(bob.p, ev)
	assert.ErrorIs(t, err, domain.ErrUnknownAlgorithm)
}
