package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"beacon/internal/app"
	"beacon/internal/services/identity"
)

// init: create the device identity, publish it and save the config.
func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create and publish this device's keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := identity.ValidatePassphrase(passphrase); err != nil {
				return err
			}
			if cfg.UserID == "" {
				return fmt.Errorf("--user required")
			}
			if cfg.DeviceID == "" {
				cfg.DeviceID = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			return withWire(cmd, func(ctx context.Context, w *app.Wire) error {
				fp, err := w.Handler.Setup(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Device %s:%s created.\nFingerprint: %s\n", cfg.UserID, cfg.DeviceID, fp)
				return nil
			})
		},
	}
}
