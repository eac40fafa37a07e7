package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pzmi/hermes"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(newConfigView(cfg)); err != nil {
			return err
		}

		return enc.Close()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and report risky settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// initialize already rejected invalid values.
		cfg.ValidateWithWarnings(logger)
		fmt.Fprintf(cmd.OutOrStdout(), "configuration for cluster %q is valid\n", cfg.Cluster)

		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

// configView renders durations the way LoadConfig reads them.
type configView struct {
	Cluster            string                `yaml:"cluster"`
	NodeID             string                `yaml:"nodeId,omitempty"`
	BalancingInterval  string                `yaml:"balancingInterval"`
	NodeCapacity       int                   `yaml:"nodeCapacity"`
	DefaultParallelism int                   `yaml:"defaultParallelism"`
	HeartbeatInterval  string                `yaml:"heartbeatInterval"`
	HeartbeatTTL       string                `yaml:"heartbeatTtl"`
	ElectionTTL        string                `yaml:"electionTtl"`
	OperationTimeout   string                `yaml:"operationTimeout"`
	StartupTimeout     string                `yaml:"startupTimeout"`
	ShutdownTimeout    string                `yaml:"shutdownTimeout"`
	KVBuckets          hermes.KVBucketConfig `yaml:"kvBuckets"`
}

func newConfigView(c hermes.Config) configView {
	return configView{
		Cluster:            c.Cluster,
		NodeID:             c.NodeID,
		BalancingInterval:  c.BalancingInterval.String(),
		NodeCapacity:       c.EffectiveNodeCapacity(),
		DefaultParallelism: c.DefaultParallelism,
		HeartbeatInterval:  c.HeartbeatInterval.String(),
		HeartbeatTTL:       c.HeartbeatTTL.String(),
		ElectionTTL:        c.ElectionTTL.String(),
		OperationTimeout:   c.OperationTimeout.String(),
		StartupTimeout:     c.StartupTimeout.String(),
		ShutdownTimeout:    c.ShutdownTimeout.String(),
		KVBuckets:          c.KVBuckets,
	}
}
