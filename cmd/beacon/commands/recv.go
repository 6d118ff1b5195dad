package commands

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"beacon/internal/app"
	"beacon/internal/domain"
	"beacon/internal/location"
)

// recv: fetch and decrypt queued messages.
func recvCmd() *cobra.Command {
	var (
		follow   bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWire(cmd, func(ctx context.Context, w *app.Wire) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				for {
					res, err := w.Handler.Sync(ctx)
					if err != nil {
						return err
					}
					printMessages(res.Messages)
					if len(res.Passthrough) > 0 {
						log.WithField("count", len(res.Passthrough)).Debug("ignored events of other types")
					}
					if !follow {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(interval):
					}
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for messages")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval with --follow")
	return cmd
}

func printMessages(msgs map[domain.Recipient]string) {
	senders := make([]domain.Recipient, 0, len(msgs))
	for r := range msgs {
		senders = append(senders, r)
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i].CombinedName() < senders[j].CombinedName() })

	for _, r := range senders {
		content := msgs[r]
		if m, err := location.Decode(content); err == nil {
			fmt.Printf("[%s] location %s\n", r, m)
			continue
		}
		fmt.Printf("[%s] %s\n", r, content)
	}
}
