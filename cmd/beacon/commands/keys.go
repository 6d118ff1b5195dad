package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"beacon/internal/app"
)

// keys: print the local identity and the known sessions.
func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Show identity keys, fingerprint and sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWire(cmd, func(ctx context.Context, w *app.Wire) error {
				ids, err := w.Handler.IdentityKeys()
				if err != nil {
					return err
				}
				fp, err := w.Handler.Fingerprint()
				if err != nil {
					return err
				}
				fmt.Printf("Device:      %s:%s\n", cfg.UserID, cfg.DeviceID)
				fmt.Printf("Fingerprint: %s\n", fp)
				fmt.Printf("curve25519:  %s\n", ids.Curve25519)
				fmt.Printf("ed25519:     %s\n", ids.Ed25519)
				for _, r := range w.Handler.Sessions() {
					fmt.Printf("session      %s\n", r)
				}
				return nil
			})
		},
	}
}
