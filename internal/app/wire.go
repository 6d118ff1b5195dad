package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"beacon/internal/domain"
	"beacon/internal/olm"
	"beacon/internal/relay"
	"beacon/internal/services/encryption"
	"beacon/internal/store"
)

// Wire bundles the stores, relay client and encryption handler for the CLI.
type Wire struct {
	Config  Config
	Log     logrus.FieldLogger
	Blobs   domain.BlobStore
	Sealer  *store.Sealer
	Relay   domain.RelayClient
	Handler *encryption.Handler
}

// NewWire constructs the dependency graph from cfg. The passphrase seals the
// local state at rest. The caller opens the handler.
func NewWire(cfg Config, passphrase string, log logrus.FieldLogger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UserID == "" || cfg.DeviceID == "" {
		return nil, domain.ErrNoCredentials
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	blobs, err := openBlobs(cfg, log)
	if err != nil {
		return nil, err
	}
	sealer := store.NewSealer(passphrase, store.DefaultScryptParams())
	primitives := olm.Primitives{}
	states := store.NewStateStore(blobs, sealer, primitives, log)

	rc := relay.NewHTTP(cfg.RelayURL, cfg.UserID, cfg.DeviceID, cfg.RequestTimeout)

	handler, err := encryption.New(encryption.Config{
		UserID:             cfg.UserID,
		DeviceID:           cfg.DeviceID,
		EventType:          cfg.EventType,
		OneTimeKeyLowWater: cfg.OneTimeKeyLowWater,
		OneTimeKeyBatch:    cfg.OneTimeKeyBatch,
		RequestTimeout:     cfg.RequestTimeout,
		SyncLimit:          cfg.SyncLimit,
	}, rc, states, primitives, log)
	if err != nil {
		_ = blobs.Close()
		return nil, err
	}

	return &Wire{
		Config:  cfg,
		Log:     log,
		Blobs:   blobs,
		Sealer:  sealer,
		Relay:   rc,
		Handler: handler,
	}, nil
}

func openBlobs(cfg Config, log logrus.FieldLogger) (domain.BlobStore, error) {
	dir := filepath.Join(cfg.Home, "state")
	switch cfg.Store {
	case StoreFile:
		return store.NewFileStore(dir)
	case StoreBadger:
		return store.OpenBadger(store.BadgerConfig{Dir: dir, Logger: log})
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// Close waits for background work, then releases the store and the cached
// sealing keys.
func (w *Wire) Close() error {
	err := errors.Join(w.Handler.Close(), w.Blobs.Close())
	w.Sealer.Forget()
	return err
}

// NewLogger returns a text logger at level (debug, info, warn or error).
func NewLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log, nil
}
