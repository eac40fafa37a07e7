// Package cmd implements the hermes-balancer commands.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/pzmi/hermes"
	"github.com/pzmi/hermes/internal/logging"
	"github.com/pzmi/hermes/types"
)

// EnvNATSURL overrides the default NATS server URL.
const EnvNATSURL = "HERMES_NATS_URL"

var (
	configFlag    string
	natsURLFlag   string
	clusterFlag   string
	logLevelFlag  string
	logPrettyFlag bool
	outputFlag    string
	timeoutFlag   time.Duration

	cfg       hermes.Config
	logger    types.Logger
	formatter *Formatter
)

var rootCmd = &cobra.Command{
	Use:   "hermes-balancer",
	Short: "Balances subscription consumers across Hermes nodes",
	Long: `hermes-balancer assigns subscription consumers to the nodes of a cluster.

Nodes announce themselves with heartbeats in NATS KV. The elected leader
periodically reconciles the persisted assignments so that every subscription
runs on as many nodes as its parallelism asks for, without exceeding node
capacity and moving as little work as possible.

Use "hermes-balancer [command] --help" for more information about a command.`,
	PersistentPreRunE: initialize,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}

	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"YAML config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVarP(&natsURLFlag, "nats-url", "n", "",
		"NATS server URL (env: "+EnvNATSURL+")")
	rootCmd.PersistentFlags().StringVar(&clusterFlag, "cluster", "",
		"Cluster name, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logPrettyFlag, "log-pretty", false,
		"Human-readable console logs instead of JSON")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table",
		"Output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second,
		"Timeout of one-shot commands")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(assignmentsCmd)
	rootCmd.AddCommand(subscriptionsCmd)
	rootCmd.AddCommand(configCmd)
}

// initialize loads the configuration and builds the shared logger and formatter.
func initialize(cmd *cobra.Command, _ []string) error {
	logger = logging.NewZerologConsole(cmd.ErrOrStderr(), logLevelFlag, logPrettyFlag)

	format, err := ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	formatter = NewFormatter(format, cmd.OutOrStdout())

	if configFlag != "" {
		cfg, err = hermes.LoadConfig(configFlag)
		if err != nil {
			return err
		}
	} else {
		cfg = hermes.DefaultConfig()
	}
	if clusterFlag != "" {
		cfg.Cluster = clusterFlag
	}
	hermes.SetDefaults(&cfg)

	return cfg.Validate()
}

func resolveNATSURL() string {
	if natsURLFlag != "" {
		return natsURLFlag
	}
	if url := os.Getenv(EnvNATSURL); url != "" {
		return url
	}

	return nats.DefaultURL
}

func connect() (*nats.Conn, error) {
	url := resolveNATSURL()
	nc, err := nats.Connect(url,
		nats.Name("hermes-balancer"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, nil
}
