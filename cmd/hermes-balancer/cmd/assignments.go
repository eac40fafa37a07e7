package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/pzmi/hermes/internal/metrics"
	"github.com/pzmi/hermes/internal/registry"
	"github.com/pzmi/hermes/internal/tracker"
	"github.com/pzmi/hermes/types"
)

var assignmentsNodeFlag string

var assignmentsCmd = &cobra.Command{
	Use:   "assignments",
	Short: "List the persisted assignments of the cluster",
	Example: `  hermes-balancer assignments
  hermes-balancer assignments --node host_1_ab12cd34 -o json`,
	Args: cobra.NoArgs,
	RunE: runAssignments,
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the live nodes of the cluster",
	Args:  cobra.NoArgs,
	RunE:  runNodes,
}

func init() {
	assignmentsCmd.Flags().StringVar(&assignmentsNodeFlag, "node", "", "Only list assignments of this node")
	rootCmd.AddCommand(nodesCmd)
}

type assignmentRow struct {
	Subscription types.SubscriptionName `json:"subscription" yaml:"subscription"`
	Node         types.NodeID           `json:"node" yaml:"node"`
	CreatedAt    time.Time              `json:"createdAt" yaml:"createdAt"`
}

func runAssignments(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()

	kv, closeConn, err := openBucket(ctx, cfg.KVBuckets.Assignments)
	if err != nil {
		return err
	}
	defer closeConn()

	t := tracker.New(kv, cfg.Cluster, metrics.NewNop(), logger)

	var assignments []types.Assignment
	if assignmentsNodeFlag != "" {
		assignments, err = t.NodeAssignments(ctx, types.NodeID(assignmentsNodeFlag))
	} else {
		var set *types.AssignmentSet
		set, err = t.GetAssignments(ctx)
		if set != nil {
			assignments = set.All()
		}
	}
	if err != nil {
		return err
	}

	rows := make([]assignmentRow, 0, len(assignments))
	for _, a := range assignments {
		rows = append(rows, assignmentRow{Subscription: a.Subscription, Node: a.Node, CreatedAt: a.CreatedAt})
	}

	return formatter.Print(rows, []string{"subscription", "node", "created"}, func(row func(...any)) {
		for _, r := range rows {
			row(r.Subscription, r.Node, r.CreatedAt.Format(time.RFC3339))
		}
	})
}

func runNodes(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	defer cancel()

	kv, closeConn, err := openBucket(ctx, cfg.KVBuckets.Nodes)
	if err != nil {
		return err
	}
	defer closeConn()

	// Listing needs no leadership.
	reg := registry.New(kv, cfg.Cluster, cfg.EffectiveNodeCapacity(), nil, metrics.NewNop(), logger)
	nodes, err := reg.List(ctx)
	if err != nil {
		return err
	}

	return formatter.Print(nodes, []string{"node", "capacity"}, func(row func(...any)) {
		for _, n := range nodes {
			row(n.ID, n.Capacity)
		}
	})
}

// openBucket connects to NATS and opens an existing bucket.
func openBucket(ctx context.Context, bucket string) (jetstream.KeyValue, func(), error) {
	nc, err := connect()
	if err != nil {
		return nil, nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		nc.Close()
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, nil, fmt.Errorf("bucket %s not found, no balancer has started in this account yet", bucket)
		}

		return nil, nil, fmt.Errorf("failed to open bucket %s: %w", bucket, err)
	}

	return kv, nc.Close, nil
}
