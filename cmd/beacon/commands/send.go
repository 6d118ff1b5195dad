package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"beacon/internal/app"
	"beacon/internal/domain"
	"beacon/internal/location"
)

var txnID string

// send <user:device>...: encrypt and send a text message.
func sendCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "send <user:device>...",
		Short: "Encrypt and send a message to one or more devices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendContent(cmd, args, text)
		},
	}
	cmd.Flags().StringVarP(&text, "message", "m", "", "message to send")
	cmd.Flags().StringVar(&txnID, "txn-id", "", "transaction id (default random)")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// send-location <user:device>...: send a location update.
func sendLocationCmd() *cobra.Command {
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "send-location <user:device>...",
		Short: "Send a location update to one or more devices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := location.New(lat, lon)
			if err != nil {
				return err
			}
			content, err := m.Encode()
			if err != nil {
				return err
			}
			return sendContent(cmd, args, content)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude in degrees")
	cmd.Flags().StringVar(&txnID, "txn-id", "", "transaction id (default random)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func sendContent(cmd *cobra.Command, args []string, content string) error {
	recipients := make([]domain.Recipient, 0, len(args))
	for _, a := range args {
		r, err := domain.ParseRecipient(a)
		if err != nil {
			return fmt.Errorf("%q: %w", a, err)
		}
		recipients = append(recipients, r)
	}

	return withWire(cmd, func(ctx context.Context, w *app.Wire) error {
		out, err := w.Handler.Send(ctx, recipients, content, txnID)
		if err != nil {
			return err
		}
		for _, r := range out.Success {
			fmt.Printf("sent    %s\n", r)
		}
		for _, f := range out.Failure {
			fmt.Printf("failed  %s: %v\n", f.Recipient, f.Err)
		}
		if len(out.Success) == 0 {
			return fmt.Errorf("no recipient reached")
		}
		return nil
	})
}
