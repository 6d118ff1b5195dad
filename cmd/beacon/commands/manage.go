package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"beacon/internal/app"
	"beacon/internal/domain"
)

// forget <user:device>: drop the session with a device.
func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <user:device>",
		Short: "Forget the session with a device; the next send starts a new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRecipient(args[0])
			if err != nil {
				return err
			}
			return withWire(cmd, func(ctx context.Context, w *app.Wire) error {
				removed, err := w.Handler.RemoveSession(r)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Printf("no session with %s\n", r)
					return nil
				}
				fmt.Printf("forgot %s\n", r)
				return nil
			})
		},
	}
}

// replenish: top up the published one-time keys.
func replenishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replenish",
		Short: "Upload new one-time keys when the relay is running low",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWire(cmd, func(ctx context.Context, w *app.Wire) error {
				// Learn the current count first.
				if _, err := w.Handler.Sync(ctx); err != nil {
					return err
				}
				n, err := w.Handler.Replenish(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("one-time keys on relay: %d\n", n)
				return nil
			})
		},
	}
}

// logout: wipe all local encryption state for the user.
func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Erase this device's keys and sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWire(cmd, func(ctx context.Context, w *app.Wire) error {
				if err := w.Handler.Logout(); err != nil {
					return err
				}
				fmt.Println("local state erased")
				return nil
			})
		},
	}
}
