package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mailbox/internal/config"
	"mailbox/internal/logging"
	"mailbox/internal/mailbox"
)

var rootCmd = &cobra.Command{
	Use:           "mailbox",
	Short:         "Durable point-to-point messaging for agents over Redis streams",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagConfigFile    string
	flagAgentID       string
	flagRedisURL      string
	flagRedisHost     string
	flagRedisPort     int
	flagRedisDB       int
	flagRedisPassword string
	flagLogLevel      string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigFile, "config", "", "config file (default: "+config.DefaultConfigPath()+")")
	pf.StringVar(&flagAgentID, "agent", "", "agent id owning this mailbox")
	pf.StringVar(&flagRedisURL, "url", "", "redis connection URL (overrides MAILBOX_REDIS_URL)")
	pf.StringVar(&flagRedisHost, "host", "", "redis host")
	pf.IntVar(&flagRedisPort, "port", 0, "redis port")
	pf.IntVar(&flagRedisDB, "db", -1, "redis database number")
	pf.StringVar(&flagRedisPassword, "password", "", "redis password")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newListenCmd())
	rootCmd.AddCommand(newStatusCmd())
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

// resolveConfig loads configuration and layers explicit flags on top:
// flags > config file / MAILBOX_* environment (including the redis URL) >
// built-in defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: flagConfigFile})
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("url") {
		if err := cfg.ApplyRedisURL(flagRedisURL); err != nil {
			return nil, err
		}
	}
	if flagAgentID != "" {
		cfg.Agent.ID = flagAgentID
	}
	if flagRedisHost != "" {
		cfg.Redis.Host = flagRedisHost
	}
	if flagRedisPort != 0 {
		cfg.Redis.Port = flagRedisPort
	}
	if flagRedisDB >= 0 {
		cfg.Redis.DB = flagRedisDB
	}
	if flagRedisPassword != "" {
		cfg.Redis.Password = flagRedisPassword
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newService(cfg *config.Config, logger logging.Logger) *mailbox.Service {
	return mailbox.New(mailbox.Options{
		AgentID:             cfg.Agent.ID,
		Host:                cfg.Redis.Host,
		Port:                cfg.Redis.Port,
		DB:                  cfg.Redis.DB,
		Password:            cfg.Redis.Password,
		StreamPrefix:        cfg.Mailbox.StreamPrefix,
		MaxStreamLength:     cfg.Mailbox.MaxStreamLength,
		PollInterval:        cfg.Mailbox.PollInterval,
		EnableRecovery:      cfg.Mailbox.EnableRecovery,
		RecoveryMinIdleTime: cfg.Mailbox.RecoveryMinIdleTime,
		RecoveryBatchSize:   cfg.Mailbox.RecoveryBatchSize,
		Logger:              logger,
	})
}
