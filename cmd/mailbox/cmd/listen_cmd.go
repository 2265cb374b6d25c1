package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mailbox/internal/logging"
	"mailbox/internal/mailbox"
)

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Consume this agent's inbox and print each message as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)
			ctx = logging.WithLogger(ctx, logger)

			svc := newService(cfg, logger)
			out := json.NewEncoder(cmd.OutOrStdout())
			svc.Register(func(ctx context.Context, env *mailbox.Envelope) error {
				return out.Encode(map[string]any{
					"message_id":   env.MessageID,
					"sender":       env.Sender,
					"recipient":    env.Recipient,
					"payload":      env.Payload,
					"message_type": env.MessageType,
					"timestamp":    env.Timestamp,
				})
			})

			if err := svc.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "listening as %s (ctrl-c to stop)\n", cfg.Agent.ID)
			<-ctx.Done()
			return svc.Stop()
		},
	}
}
