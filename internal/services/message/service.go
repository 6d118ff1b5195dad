package message

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"beacon/internal/directory"
	"beacon/internal/domain"
	"beacon/internal/payload"
	"beacon/internal/services/session"
	"beacon/internal/wire"
)

// DefaultEventType is the to-device event type carrying wrapped messages.
const DefaultEventType = "beacon.location"

// Establisher creates a new outbound session to a remote device.
type Establisher interface {
	Establish(ctx context.Context, account domain.Account, r domain.Recipient) (domain.Session, domain.DeviceKeys, error)
}

var _ Establisher = (*session.Service)(nil)

// Principal is the local side of a send or receive: the account, the
// public identity it presents in payloads and the directory of sessions.
// The caller serializes access to it.
type Principal struct {
	Account   domain.Account
	Self      payload.Local
	Directory *directory.Directory
}

// Config tunes the pipelines.
type Config struct {
	// EventType is the only event type Receive looks at and the type Send
	// posts with.
	EventType string
	// RecipientTimeout bounds establishing a session to one recipient.
	RecipientTimeout time.Duration
}

// Service runs the send and receive pipelines.
//
// High-level flow:
//   - Send: per recipient, reuse or establish a session, encrypt the payload
//     and wrap it; then post every wrapped message in one batch.
//   - Receive: keep events of the configured type, order them oldest first,
//     then decrypt and validate each one, dropping anything that does not
//     check out.
type Service struct {
	transport   domain.Transport
	establisher Establisher
	cfg         Config
	log         logrus.FieldLogger
}

// New constructs a message service.
func New(transport domain.Transport, establisher Establisher, cfg Config, log logrus.FieldLogger) *Service {
	if cfg.EventType == "" {
		cfg.EventType = DefaultEventType
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		transport:   transport,
		establisher: establisher,
		cfg:         cfg,
		log:         log.WithField("service", "message"),
	}
}

// EventType returns the event type the service sends and receives.
func (s *Service) EventType() string { return s.cfg.EventType }

// Send encrypts content for every recipient and posts the result as one
// batch under txnID (a random id when empty).
//
// Steps:
//  1. For each distinct recipient, reuse its session or establish one. A
//     session without a device record is dropped and re-established.
//  2. Build the payload, encrypt it on the session and wrap it.
//  3. Recipients that failed any step go to Outcome.Failure; the rest go
//     into the batch and Outcome.Success.
//  4. Post the batch. A transport error fails the whole call.
//
// Sessions are mutated even when the call fails; the caller persists the
// directory either way.
func (s *Service) Send(ctx context.Context, p Principal, recipients []domain.Recipient, content, txnID string) (domain.Outcome, error) {
	if p.Account == nil {
		return domain.Outcome{}, domain.ErrNoAccount
	}
	if txnID == "" {
		txnID = uuid.NewString()
	}

	var out domain.Outcome
	batch := make(domain.ContentMap)
	seen := make(map[domain.Recipient]bool, len(recipients))
	for _, r := range recipients {
		if seen[r] {
			continue
		}
		seen[r] = true

		wrapped, err := s.encryptFor(ctx, p, r, content)
		if err != nil {
			s.log.WithFields(logrus.Fields{"recipient": r.String(), "error": err}).Warn("recipient skipped")
			out.Failure = append(out.Failure, domain.Failure{Recipient: r, Err: err})
			continue
		}
		batch.Set(r, wrapped)
		out.Success = append(out.Success, r)
	}

	if len(out.Success) == 0 {
		return out, nil
	}
	if err := s.transport.SendToDevice(ctx, s.cfg.EventType, txnID, batch); err != nil {
		return domain.Outcome{}, fmt.Errorf("send to device: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"txn_id": txnID,
		"count":  len(out.Success),
		"failed": len(out.Failure),
	}).Debug("batch sent")
	return out, nil
}

func (s *Service) encryptFor(ctx context.Context, p Principal, r domain.Recipient, content string) ([]byte, error) {
	sess, hasSession := p.Directory.Session(r)
	device, hasDevice := p.Directory.Device(r)
	if hasSession && !hasDevice {
		p.Directory.Remove(r)
		hasSession = false
		s.log.WithField("recipient", r.String()).Warn("session without device record, re-establishing")
	}
	if !hasSession {
		ectx, cancel := s.recipientContext(ctx)
		var err error
		sess, device, err = s.establisher.Establish(ectx, p.Account, r)
		cancel()
		if err != nil {
			return nil, err
		}
		p.Directory.Put(r, sess, device)
	}

	plaintext, err := payload.Encode(payload.New(content, p.Self, device))
	if err != nil {
		return nil, err
	}
	msg, err := sess.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return wire.Encode(wire.Wrap(msg, p.Self.Keys.Curve25519, p.Self.DeviceID))
}

func (s *Service) recipientContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RecipientTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RecipientTimeout)
}

// Receive decrypts the events of the configured type, oldest first, and
// returns the last plaintext per sending device. Events that fail to
// decrypt or validate are logged and dropped.
func (s *Service) Receive(p Principal, events []domain.Event) map[domain.Recipient]string {
	out := make(map[domain.Recipient]string)
	if p.Account == nil {
		if len(events) > 0 {
			s.log.WithField("count", len(events)).Warn("events dropped, no account")
		}
		return out
	}

	ordered := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if ev.Type == s.cfg.EventType {
			ordered = append(ordered, ev)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].AgeTS < ordered[j].AgeTS })

	for _, ev := range ordered {
		r, content, err := s.ReceiveEvent(p, ev)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"sender":     ev.Sender,
				"event_type": ev.Type,
				"age_ts":     ev.AgeTS,
				"error":      err,
			}).Warn("message dropped")
			continue
		}
		out[r] = content
	}
	return out
}

// ReceiveEvent decrypts and validates a single event, which must be of the
// configured type. Receive calls it for each event in age order.
func (s *Service) ReceiveEvent(p Principal, ev domain.Event) (domain.Recipient, string, error) {
	if p.Account == nil {
		return domain.Recipient{}, "", domain.ErrNoAccount
	}
	w, err := wire.Unwrap(ev.Content)
	if err != nil {
		return domain.Recipient{}, "", err
	}
	r := domain.NewRecipient(ev.Sender, w.SenderDevice)

	var content string
	switch w.Ciphertext.Type {
	case domain.MessageTypePreKey:
		content, err = s.receivePreKey(p, r, w)
	default:
		content, err = s.receiveStandard(p, r, w)
	}
	return r, content, err
}

// receivePreKey handles the first messages of a session. A message for the
// session already stored for r is decrypted on it; anything else builds a
// new inbound session that replaces the stored one once the payload checks
// out.
func (s *Service) receivePreKey(p Principal, r domain.Recipient, w domain.WireMessage) (string, error) {
	if sess, ok := p.Directory.Session(r); ok && sess.MatchesInbound(w.Ciphertext.Body) {
		if device, ok := p.Directory.Device(r); ok {
			pl, err := decrypt(sess, w.Ciphertext)
			if err != nil {
				return "", err
			}
			if err := checkInbound(pl, p, r, w); err != nil {
				return "", err
			}
			if err := payload.CheckSender(pl, w.SenderKey, device); err != nil {
				return "", err
			}
			return pl.Content, nil
		}
	}

	sess, err := p.Account.NewInboundSession(w.SenderKey, w.Ciphertext.Body)
	if err != nil {
		return "", fmt.Errorf("create inbound session: %w", err)
	}
	if sess.TheirIdentityKey() != w.SenderKey {
		return "", fmt.Errorf("%w: session key differs from sender key", domain.ErrNoMatchingIdentityKey)
	}
	pl, err := decrypt(sess, w.Ciphertext)
	if err != nil {
		return "", err
	}
	if err := checkInbound(pl, p, r, w); err != nil {
		return "", err
	}

	device := payload.DeviceFromPayload(pl)
	if known, ok := p.Directory.Device(r); ok && known.IdentityKey() == device.IdentityKey() {
		device = known
	}
	p.Directory.Put(r, sess, device)
	s.log.WithFields(logrus.Fields{"sender": r.String(), "session": sess.ID()}).Debug("inbound session stored")
	return pl.Content, nil
}

func (s *Service) receiveStandard(p Principal, r domain.Recipient, w domain.WireMessage) (string, error) {
	sess, hasSession := p.Directory.Session(r)
	device, hasDevice := p.Directory.Device(r)
	if !hasSession || !hasDevice {
		return "", fmt.Errorf("%w: %s", domain.ErrNoSession, r)
	}
	pl, err := decrypt(sess, w.Ciphertext)
	if err != nil {
		return "", err
	}
	if err := payload.CheckSender(pl, w.SenderKey, device); err != nil {
		return "", err
	}
	if err := payload.CheckRecipient(pl, p.Self); err != nil {
		return "", err
	}
	if p.Account.RemoveOneTimeKeys(sess) {
		s.log.WithField("sender", r.String()).Debug("one-time key released")
	}
	return pl.Content, nil
}

func decrypt(sess domain.Session, msg domain.OlmMessage) (domain.Payload, error) {
	plaintext, err := sess.Decrypt(msg)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("decrypt: %w", err)
	}
	return payload.Decode(plaintext)
}

// checkInbound binds a pre-key payload to the wrapper and the transport
// sender, and checks it was addressed to us.
func checkInbound(pl domain.Payload, p Principal, r domain.Recipient, w domain.WireMessage) error {
	if payload.SenderIdentityKey(pl) != w.SenderKey {
		return fmt.Errorf("%w: payload key differs from sender key", domain.ErrNoMatchingIdentityKey)
	}
	if pl.Sender != r.UserName || pl.SenderDevice != r.DeviceName {
		return fmt.Errorf("%w: payload sender %s:%s", domain.ErrInboundSessionDoesntMatch, pl.Sender, pl.SenderDevice)
	}
	return payload.CheckRecipient(pl, p.Self)
}
