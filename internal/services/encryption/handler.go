package encryption

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"beacon/internal/domain"
	"beacon/internal/payload"
	"beacon/internal/services/identity"
	"beacon/internal/services/message"
	"beacon/internal/services/prekey"
	"beacon/internal/services/session"
	"beacon/internal/store"
)

// ErrClosed is returned by every call made after Close.
var ErrClosed = errors.New("encryption handler is closed")

// Config identifies the principal and tunes the pipelines.
type Config struct {
	UserID   string
	DeviceID string

	EventType          string
	OneTimeKeyLowWater int
	OneTimeKeyBatch    int
	RequestTimeout     time.Duration
	SyncLimit          int
}

func (c *Config) setDefaults() {
	if c.EventType == "" {
		c.EventType = message.DefaultEventType
	}
	if c.OneTimeKeyLowWater <= 0 {
		c.OneTimeKeyLowWater = prekey.DefaultLowWater
	}
	if c.OneTimeKeyBatch <= 0 {
		c.OneTimeKeyBatch = prekey.DefaultBatch
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.SyncLimit <= 0 {
		c.SyncLimit = 100
	}
}

// SyncResult is what one sync cycle produced: the last plaintext per
// sending device, and the events of other types, untouched.
type SyncResult struct {
	Messages    map[domain.Recipient]string
	Passthrough []domain.Event
}

// Handler owns the encryption state of one principal. Every operation runs
// under a single lock and persists the state before returning.
type Handler struct {
	cfg        Config
	relay      domain.RelayClient
	states     *store.StateStore
	primitives domain.Primitives
	log        logrus.FieldLogger

	identity *identity.Service
	prekeys  *prekey.Service
	sessions *session.Service
	messages *message.Service

	mu        sync.Mutex
	state     store.State
	syncToken string
	keyCount  int
	closing   bool
	closed    bool
	// locked holds the error of an Open that could not read the stored
	// state. Nothing may overwrite that state until Open succeeds.
	locked error

	replenish singleflight.Group
	inflight  sync.WaitGroup
}

// New wires a handler for cfg.UserID and cfg.DeviceID. Call Open before use.
func New(cfg Config, relay domain.RelayClient, states *store.StateStore, primitives domain.Primitives, log logrus.FieldLogger) (*Handler, error) {
	if cfg.UserID == "" || cfg.DeviceID == "" {
		return nil, domain.ErrNoCredentials
	}
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("device", domain.NewRecipient(cfg.UserID, cfg.DeviceID).String())

	sessions := session.New(relay, log)
	return &Handler{
		cfg:        cfg,
		relay:      relay,
		states:     states,
		primitives: primitives,
		log:        log,
		identity:   identity.New(primitives, log),
		prekeys:    prekey.New(relay, log),
		sessions:   sessions,
		messages: message.New(relay, sessions, message.Config{
			EventType:        cfg.EventType,
			RecipientTimeout: cfg.RequestTimeout,
		}, log),
		state:    store.Empty(),
		keyCount: -1,
	}, nil
}

// Open loads the persisted state. Unusable state is wiped and a fresh
// identity is set up in its place; reset reports that this happened.
// Missing state is left empty for Setup. A wrong passphrase is returned as
// store.ErrWrongPassphrase with the stored state untouched.
func (h *Handler) Open(ctx context.Context) (reset bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false, ErrClosed
	}

	st, reset, err := h.states.Load(h.cfg.UserID)
	if err != nil {
		h.locked = fmt.Errorf("load state: %w", err)
		return reset, h.locked
	}
	h.locked = nil
	h.state = st
	if h.syncToken, err = h.states.LoadSyncToken(h.cfg.UserID); err != nil {
		return reset, fmt.Errorf("load sync token: %w", err)
	}
	if reset {
		if _, err := h.setupLocked(ctx); err != nil {
			return true, fmt.Errorf("set up after reset: %w", err)
		}
	}
	return reset, nil
}

// Setup creates the account and device record, publishes them with the
// first batch of one-time keys and persists the result.
func (h *Handler) Setup(ctx context.Context) (domain.Fingerprint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrClosed
	}
	if h.locked != nil {
		return "", h.locked
	}
	if h.state.Account != nil {
		return "", domain.ErrExistingAccount
	}
	return h.setupLocked(ctx)
}

func (h *Handler) setupLocked(ctx context.Context) (domain.Fingerprint, error) {
	account, device, err := h.identity.CreateAccount(ctx, h.cfg.UserID, h.cfg.DeviceID)
	if err != nil {
		return "", err
	}
	n := prekey.Needed(0, h.cfg.OneTimeKeyLowWater, h.cfg.OneTimeKeyBatch, account.MaxNumberOfOneTimeKeys())
	keys, err := prekey.Prepare(account, h.cfg.UserID, h.cfg.DeviceID, n)
	if err != nil {
		return "", err
	}

	uctx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	remaining, err := h.prekeys.Upload(uctx, &device, keys)
	cancel()
	if err != nil {
		return "", err
	}
	account.MarkKeysAsPublished()

	h.state = store.State{Account: account, Device: &device, Directory: h.state.Directory}
	h.keyCount = remaining
	if err := h.persistLocked(); err != nil {
		return "", err
	}
	return identity.Fingerprint(account), nil
}

// Send encrypts content for each recipient and posts it as one batch.
// A recipient that cannot be reached is reported in Outcome.Failure; the
// error is only set when nothing could be posted at all or state could not
// be saved.
func (h *Handler) Send(ctx context.Context, recipients []domain.Recipient, content, txnID string) (out domain.Outcome, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.readyLocked(); err != nil {
		return domain.Outcome{}, err
	}
	defer func() { err = errors.Join(err, h.persistLocked()) }()

	return h.messages.Send(ctx, h.principalLocked(), recipients, content, txnID)
}

// HandleSync processes one sync response: events of the handler's type are
// decrypted oldest first and the rest pass through. The reported one-time
// key count is recorded and a replenishment is started in the background
// when it is below the low-water mark.
func (h *Handler) HandleSync(resp domain.SyncResponse) (SyncResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return SyncResult{}, ErrClosed
	}
	return h.handleSyncLocked(resp)
}

func (h *Handler) handleSyncLocked(resp domain.SyncResponse) (SyncResult, error) {
	res := SyncResult{Messages: map[domain.Recipient]string{}}
	for _, ev := range resp.Events {
		if ev.Type != h.messages.EventType() {
			res.Passthrough = append(res.Passthrough, ev)
		}
	}
	if h.state.Account == nil {
		if len(resp.Events) > len(res.Passthrough) {
			return res, domain.ErrNoAccount
		}
		return res, nil
	}

	res.Messages = h.messages.Receive(h.principalLocked(), resp.Events)
	if err := h.persistLocked(); err != nil {
		return res, err
	}

	if count, ok := resp.OneTimeKeyCounts[domain.AlgorithmSignedCurve25519]; ok {
		h.keyCount = count
		if count < h.cfg.OneTimeKeyLowWater {
			h.startReplenishLocked()
		}
	}
	return res, nil
}

// Sync fetches the next batch after the stored token, processes it and
// stores the new token. The token is only advanced after the state the
// batch produced has been saved.
func (h *Handler) Sync(ctx context.Context) (SyncResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.readyLocked(); err != nil {
		return SyncResult{}, err
	}

	resp, err := h.relay.Sync(ctx, h.syncToken, h.cfg.SyncLimit)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync: %w", err)
	}
	res, err := h.handleSyncLocked(resp)
	if err != nil {
		return res, err
	}
	if resp.NextBatch != "" && resp.NextBatch != h.syncToken {
		if err := h.states.SaveSyncToken(h.cfg.UserID, resp.NextBatch); err != nil {
			return res, fmt.Errorf("save sync token: %w", err)
		}
		h.syncToken = resp.NextBatch
	}
	return res, nil
}

// Establish replaces any session with r by a freshly established one.
func (h *Handler) Establish(ctx context.Context, r domain.Recipient) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.readyLocked(); err != nil {
		return err
	}

	ectx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	sess, device, err := h.sessions.Establish(ectx, h.state.Account, r)
	cancel()
	if err != nil {
		return err
	}
	h.state.Directory.Put(r, sess, device)
	return h.persistLocked()
}

// RemoveSession forgets the session and device record for r. It reports
// whether anything was stored.
func (h *Handler) RemoveSession(r domain.Recipient) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.readyLocked(); err != nil {
		return false, err
	}
	if !h.state.Directory.Remove(r) {
		return false, nil
	}
	return true, h.persistLocked()
}

// Sessions lists the recipients a session is stored for.
func (h *Handler) Sessions() []domain.Recipient {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Directory.Recipients()
}

// HasSession reports whether a session is stored for r.
func (h *Handler) HasSession(r domain.Recipient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.state.Directory.Session(r)
	return ok
}

// IdentityKeys returns the public keys of the local account.
func (h *Handler) IdentityKeys() (domain.IdentityKeys, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Account == nil {
		return domain.IdentityKeys{}, domain.ErrNoAccount
	}
	return h.state.Account.IdentityKeys(), nil
}

// Fingerprint returns the short fingerprint of the local identity key.
func (h *Handler) Fingerprint() (domain.Fingerprint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Account == nil {
		return "", domain.ErrNoAccount
	}
	return identity.Fingerprint(h.state.Account), nil
}

// OneTimeKeyCount returns the last server-reported count of published
// one-time keys, or -1 when none has been seen.
func (h *Handler) OneTimeKeyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keyCount
}

// Logout wipes everything persisted for the principal and resets the
// in-memory state.
func (h *Handler) Logout() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.state = store.Empty()
	h.syncToken = ""
	h.keyCount = -1
	h.locked = nil
	if err := h.states.Wipe(h.cfg.UserID); err != nil {
		return fmt.Errorf("wipe state: %w", err)
	}
	h.log.Info("logged out, local state wiped")
	return nil
}

// Close lets a background replenishment that is already running finish,
// then rejects further calls.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	h.inflight.Wait()

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *Handler) readyLocked() error {
	if h.closed {
		return ErrClosed
	}
	if h.locked != nil {
		return h.locked
	}
	if h.state.Account == nil || h.state.Device == nil {
		return domain.ErrNoAccount
	}
	return nil
}

func (h *Handler) principalLocked() message.Principal {
	return message.Principal{
		Account: h.state.Account,
		Self: payload.Local{
			UserID:   h.cfg.UserID,
			DeviceID: h.cfg.DeviceID,
			Keys:     h.state.Account.IdentityKeys(),
		},
		Directory: h.state.Directory,
	}
}

func (h *Handler) persistLocked() error {
	if err := h.states.Save(h.cfg.UserID, h.state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}
