package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"beacon/internal/app"
	"beacon/internal/store"
)

// passphraseEnv is read when -p is not given.
const passphraseEnv = "BEACON_PASSPHRASE"

var (
	home       string
	passphrase string
	cfg        app.Config
	log        *logrus.Logger

	relayURL  string
	userID    string
	deviceID  string
	storeKind string
	logLevel  string
)

func Execute() error {
	root := &cobra.Command{
		Use:           "beacon",
		Short:         "End-to-end encrypted location sharing CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := app.DefaultHome()
				if err != nil {
					return err
				}
				home = dir
			}
			var err error
			if cfg, err = app.LoadConfig(home); err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("relay") {
				cfg.RelayURL = relayURL
			}
			if flags.Changed("user") {
				cfg.UserID = userID
			}
			if flags.Changed("device") {
				cfg.DeviceID = deviceID
			}
			if flags.Changed("store") {
				cfg.Store = storeKind
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			if log, err = app.NewLogger(cfg.LogLevel); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			if passphrase == "" {
				passphrase = os.Getenv(passphraseEnv)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&home, "home", "", "config dir (default ~/.beacon)")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting local keys (or $"+passphraseEnv+")")
	pf.StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	pf.StringVar(&userID, "user", "", "user id, e.g. @alice:example.org")
	pf.StringVar(&deviceID, "device", "", "device id")
	pf.StringVar(&storeKind, "store", "", "state backend: badger or file")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		initCmd(),
		keysCmd(),
		sendCmd(),
		sendLocationCmd(),
		recvCmd(),
		forgetCmd(),
		replenishCmd(),
		logoutCmd(),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// openWire builds the dependency graph and loads the local state.
func openWire(ctx context.Context) (*app.Wire, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required (-p or $%s)", passphraseEnv)
	}
	w, err := app.NewWire(cfg, passphrase, log)
	if err != nil {
		return nil, err
	}
	reset, err := w.Handler.Open(ctx)
	if err != nil {
		_ = w.Close()
		if errors.Is(err, store.ErrWrongPassphrase) {
			return nil, fmt.Errorf("cannot unlock local state, check the passphrase: %w", err)
		}
		return nil, err
	}
	if reset {
		log.Warn("local encryption state was unusable and has been replaced by a new identity")
	}
	return w, nil
}

// withWire runs fn against an opened wire and closes it afterwards.
func withWire(cmd *cobra.Command, fn func(ctx context.Context, w *app.Wire) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w, err := openWire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, w)
}
