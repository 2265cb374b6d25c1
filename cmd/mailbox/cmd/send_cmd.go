package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"mailbox/internal/logging"
	"mailbox/internal/mailbox"
)

func newSendCmd() *cobra.Command {
	var payloadJSON string
	var messageType string
	var messageID string

	c := &cobra.Command{
		Use:   "send <recipient>",
		Short: "Append one message to a recipient's inbox stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)

			var payload any
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return fmt.Errorf("payload must be valid JSON: %w", err)
			}

			svc := newService(cfg, logger)
			defer func() { _ = svc.Stop() }()

			id, err := svc.SendWith(cmd.Context(), args[0], payload, mailbox.SendOptions{
				MessageType: messageType,
				MessageID:   messageID,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	c.Flags().StringVar(&payloadJSON, "payload", "{}", "message payload as JSON")
	c.Flags().StringVar(&messageType, "type", "", "message type (default: direct_message)")
	c.Flags().StringVar(&messageID, "id", "", "message id (default: generated)")
	return c
}
