package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"mailbox/internal/mailbox"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [agent]",
		Short: "Show stream length and pending entries for an agent's inbox",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			agentID := cfg.Agent.ID
			if len(args) == 1 {
				agentID = args[0]
			}

			client := redis.NewClient(&redis.Options{
				Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
				DB:       cfg.Redis.DB,
				Password: cfg.Redis.Password,
			})
			defer func() { _ = client.Close() }()

			ctx := cmd.Context()
			stream := mailbox.StreamName(cfg.Mailbox.StreamPrefix, agentID)
			group := mailbox.GroupName(agentID)

			length, err := client.XLen(ctx, stream).Result()
			if err != nil {
				return fmt.Errorf("stream length: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stream:  %s\n", stream)
			fmt.Fprintf(cmd.OutOrStdout(), "length:  %d\n", length)

			pending, err := client.XPending(ctx, stream, group).Result()
			if err != nil {
				// The group does not exist until the agent has started once.
				if errors.Is(err, redis.Nil) || isNoGroupErr(err) {
					fmt.Fprintf(cmd.OutOrStdout(), "group:   %s (not created)\n", group)
					return nil
				}
				return fmt.Errorf("pending entries: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group:   %s\n", group)
			fmt.Fprintf(cmd.OutOrStdout(), "pending: %d\n", pending.Count)
			for consumer, n := range pending.Consumers {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", consumer, n)
			}
			return nil
		},
	}
}

func isNoGroupErr(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "NOGROUP")
}
