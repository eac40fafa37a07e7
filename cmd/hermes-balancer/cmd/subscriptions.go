package cmd

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/pzmi/hermes"
	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/source"
	"github.com/pzmi/hermes/types"
)

var (
	putParallelismFlag int
	putSuspendedFlag   bool
)

var subscriptionsCmd = &cobra.Command{
	Use:     "subscriptions",
	Aliases: []string{"subs"},
	Short:   "Manage subscription definitions in the subscription bucket",
}

var subscriptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored definitions, suspended ones included",
	Args:  cobra.NoArgs,
	RunE:  runSubscriptionsList,
}

var subscriptionsPutCmd = &cobra.Command{
	Use:   "put <group.topic$subscription>",
	Short: "Create or replace a definition",
	Example: `  hermes-balancer subscriptions put 'pl.allegro.orders$audit' --parallelism 2
  hermes-balancer subscriptions put 'pl.allegro.orders$audit' --suspended`,
	Args: cobra.ExactArgs(1),
	RunE: runSubscriptionsPut,
}

var subscriptionsDeleteCmd = &cobra.Command{
	Use:   "delete <group.topic$subscription>",
	Short: "Delete a definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscriptionsDelete,
}

func init() {
	subscriptionsPutCmd.Flags().IntVarP(&putParallelismFlag, "parallelism", "p", 0,
		"Nodes that should consume the subscription (0 uses the configured default)")
	subscriptionsPutCmd.Flags().BoolVar(&putSuspendedFlag, "suspended", false,
		"Store the subscription as SUSPENDED")

	subscriptionsCmd.AddCommand(subscriptionsListCmd)
	subscriptionsCmd.AddCommand(subscriptionsPutCmd)
	subscriptionsCmd.AddCommand(subscriptionsDeleteCmd)
}

// withSubscriptionSource opens the subscription bucket and runs fn against a
// source.KV writing to it.
func withSubscriptionSource(cmd *cobra.Command, fn func(ctx context.Context, kv jetstream.KeyValue, src *source.KV) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()

	nc, err := connect()
	if err != nil {
		return err
	}
	defer nc.Close()

	kv, err := hermes.EnsureSubscriptionBucket(ctx, nc, &cfg)
	if err != nil {
		return err
	}

	return fn(ctx, kv, source.NewKV(kv, cfg.DefaultParallelism, logger))
}

func runSubscriptionsList(cmd *cobra.Command, _ []string) error {
	return withSubscriptionSource(cmd, func(ctx context.Context, kv jetstream.KeyValue, _ *source.KV) error {
		entries, err := kvutil.Snapshot(ctx, kv, ">")
		if err != nil {
			return err
		}

		defs := make([]source.Definition, 0, len(entries))
		for _, entry := range entries {
			var def source.Definition
			if err := json.Unmarshal(entry.Value(), &def); err != nil {
				logger.Warn("skipping undecodable definition", "key", entry.Key(), "error", err)
				continue
			}
			if def.State == "" {
				def.State = types.SubscriptionActive
			}
			defs = append(defs, def)
		}

		return formatter.Print(defs, []string{"name", "parallelism", "state"}, func(row func(...any)) {
			for _, d := range defs {
				parallelism := d.Parallelism
				if parallelism == 0 {
					parallelism = cfg.DefaultParallelism
				}
				row(d.Name, parallelism, d.State)
			}
		})
	})
}

func runSubscriptionsPut(cmd *cobra.Command, args []string) error {
	def := source.Definition{Name: args[0], Parallelism: putParallelismFlag}
	if putSuspendedFlag {
		def.State = types.SubscriptionSuspended
	}

	return withSubscriptionSource(cmd, func(ctx context.Context, _ jetstream.KeyValue, src *source.KV) error {
		if err := src.Put(ctx, def); err != nil {
			return err
		}
		logger.Info("subscription stored", "name", def.Name, "parallelism", def.Parallelism, "state", def.State)

		return nil
	})
}

func runSubscriptionsDelete(cmd *cobra.Command, args []string) error {
	name, err := types.ParseSubscriptionName(args[0])
	if err != nil {
		return err
	}

	return withSubscriptionSource(cmd, func(ctx context.Context, _ jetstream.KeyValue, src *source.KV) error {
		if err := src.Delete(ctx, name); err != nil {
			return err
		}
		logger.Info("subscription deleted", "name", name)

		return nil
	})
}
