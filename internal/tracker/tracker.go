package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/multierr"

	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/types"
)

// record is the stored value of one assignment key.
type record struct {
	Subscription types.SubscriptionName `json:"subscription"`
	Node         types.NodeID           `json:"node"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Tracker persists assignments in a NATS KV bucket, one key per pair:
//
//	{cluster}.assignments.{subscription}.{node}
//
// The existence of a key is the assignment. Every create and delete is a
// single atomic key operation, so readers never see a partially written pair.
type Tracker struct {
	kv      jetstream.KeyValue
	prefix  string
	metrics types.TrackerMetrics
	logger  types.Logger
}

var _ types.WorkTracker = (*Tracker)(nil)

// New creates a tracker for the cluster's assignments.
//
// Parameters:
//   - kv: Assignment bucket (no TTL; assignments outlive leaders)
//   - cluster: Balancer cluster name
//   - metrics: Tracker metrics sink
//   - logger: Logger for store events
//
// Returns:
//   - *Tracker: New tracker instance
func New(kv jetstream.KeyValue, cluster string, metrics types.TrackerMetrics, logger types.Logger) *Tracker {
	return &Tracker{
		kv:      kv,
		prefix:  kvutil.Key(kvutil.EncodeToken(cluster), "assignments"),
		metrics: metrics,
		logger:  logger,
	}
}

// Key returns the store key of a pair.
func (t *Tracker) Key(sub types.SubscriptionName, node types.NodeID) string {
	return kvutil.Key(t.prefix, kvutil.EncodeToken(string(sub)), kvutil.EncodeToken(string(node)))
}

// GetAssignments returns the persisted assignments with their revisions.
//
// Entries that cannot be decoded are logged and skipped; they are not part of
// the set and so are never deleted by Apply.
func (t *Tracker) GetAssignments(ctx context.Context) (*types.AssignmentSet, error) {
	entries, err := t.snapshot(ctx, kvutil.Key(t.prefix, ">"))
	if err != nil {
		return nil, err
	}

	set := types.NewAssignmentSet()
	for _, entry := range entries {
		a, err := t.decode(entry)
		if err != nil {
			t.logger.Warn("skipping assignment entry", "key", entry.Key(), "error", err)
			continue
		}
		set.Add(a)
	}

	return set, nil
}

// NodeAssignments returns the persisted assignments of one node.
func (t *Tracker) NodeAssignments(ctx context.Context, node types.NodeID) ([]types.Assignment, error) {
	entries, err := t.snapshot(ctx, kvutil.Key(t.prefix, "*", kvutil.EncodeToken(string(node))))
	if err != nil {
		return nil, err
	}

	set := types.NewAssignmentSet()
	for _, entry := range entries {
		a, err := t.decode(entry)
		if err != nil {
			t.logger.Warn("skipping assignment entry", "key", entry.Key(), "error", err)
			continue
		}
		set.Add(a)
	}

	return set.All(), nil
}

// Apply moves the persisted set to target.
//
// Deletes run before creates so capacity freed on a node is released before new
// work lands on it. A delete is conditional on the revision that was read, so a
// pair recreated concurrently is left alone. A create that finds the key already
// present is a no-op. Failures of individual keys are collected and returned
// together; a cancelled context stops before the next key operation.
//
// Returns:
//   - types.WorkDistributionChanges: The changes that were applied
//   - error: Aggregated key failures or the context error
func (t *Tracker) Apply(ctx context.Context, target *types.AssignmentSet) (types.WorkDistributionChanges, error) {
	current, err := t.GetAssignments(ctx)
	if err != nil {
		return types.WorkDistributionChanges{}, err
	}

	changes := types.Diff(current, target)
	var (
		applied types.WorkDistributionChanges
		errs    error
	)
	defer func() {
		t.metrics.RecordAssignmentChange(applied.CreatedCount(), applied.DeletedCount())
	}()

	for _, a := range changes.Deleted {
		if err := ctx.Err(); err != nil {
			return applied, multierr.Append(errs, fmt.Errorf("%w: %w", types.ErrContextCanceled, err))
		}
		done, err := t.delete(ctx, a)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if done {
			applied.Deleted = append(applied.Deleted, a)
		}
	}

	for _, a := range changes.Created {
		if err := ctx.Err(); err != nil {
			return applied, multierr.Append(errs, fmt.Errorf("%w: %w", types.ErrContextCanceled, err))
		}
		created, ok, err := t.create(ctx, a)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			applied.Created = append(applied.Created, created)
		}
	}

	if errs != nil {
		t.logger.Warn("assignment changes partially applied",
			"created", applied.CreatedCount(),
			"deleted", applied.DeletedCount(),
			"failures", len(multierr.Errors(errs)),
		)
	}

	return applied, errs
}

// Clear deletes every assignment of the cluster and returns how many were removed.
func (t *Tracker) Clear(ctx context.Context) (int, error) {
	changes, err := t.Apply(ctx, types.NewAssignmentSet())

	return changes.DeletedCount(), err
}

func (t *Tracker) delete(ctx context.Context, a types.Assignment) (bool, error) {
	start := time.Now()
	err := t.kv.Delete(ctx, t.Key(a.Subscription, a.Node), jetstream.LastRevision(a.Revision))
	t.metrics.RecordKVOperationDuration("delete", time.Since(start).Seconds())

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return false, nil
	case kvutil.IsWrongRevision(err):
		// Either deleted already or rewritten since the read.
		if _, getErr := t.kv.Get(ctx, t.Key(a.Subscription, a.Node)); errors.Is(getErr, jetstream.ErrKeyNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("%w: %s on %s changed concurrently: %w", types.ErrDeleteFailed, a.Subscription, a.Node, err)
	default:
		return false, fmt.Errorf("%w: %s on %s: %w", types.ErrDeleteFailed, a.Subscription, a.Node, err)
	}
}

func (t *Tracker) create(ctx context.Context, a types.Assignment) (types.Assignment, bool, error) {
	a.CreatedAt = time.Now().UTC()
	value, err := json.Marshal(record{Subscription: a.Subscription, Node: a.Node, CreatedAt: a.CreatedAt})
	if err != nil {
		return a, false, fmt.Errorf("%w: %w", types.ErrCreateFailed, err)
	}

	start := time.Now()
	rev, err := t.kv.Create(ctx, t.Key(a.Subscription, a.Node), value)
	t.metrics.RecordKVOperationDuration("create", time.Since(start).Seconds())

	switch {
	case err == nil:
		a.Revision = rev
		return a, true, nil
	case errors.Is(err, jetstream.ErrKeyExists):
		t.logger.Debug("assignment already present", "subscription", a.Subscription, "node", a.Node)
		return a, false, nil
	default:
		return a, false, fmt.Errorf("%w: %s on %s: %w", types.ErrCreateFailed, a.Subscription, a.Node, err)
	}
}

func (t *Tracker) snapshot(ctx context.Context, filter string) ([]jetstream.KeyValueEntry, error) {
	start := time.Now()
	entries, err := kvutil.Snapshot(ctx, t.kv, filter)
	t.metrics.RecordKVOperationDuration("snapshot", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}

	return entries, nil
}

// decode builds an assignment from the key. The key is authoritative; the value
// only adds the creation time.
func (t *Tracker) decode(entry jetstream.KeyValueEntry) (types.Assignment, error) {
	sub, node, err := t.parseKey(entry.Key())
	if err != nil {
		return types.Assignment{}, err
	}

	a := types.Assignment{
		Subscription: sub,
		Node:         node,
		Revision:     entry.Revision(),
		CreatedAt:    entry.Created(),
	}
	var rec record
	if err := json.Unmarshal(entry.Value(), &rec); err == nil && !rec.CreatedAt.IsZero() {
		a.CreatedAt = rec.CreatedAt
	}

	return a, nil
}

func (t *Tracker) parseKey(key string) (types.SubscriptionName, types.NodeID, error) {
	rest, ok := strings.CutPrefix(key, t.prefix+".")
	if !ok {
		return "", "", fmt.Errorf("%w: unexpected key %q", types.ErrMalformedAssignment, key)
	}
	subToken, nodeToken, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(nodeToken, ".") {
		return "", "", fmt.Errorf("%w: unexpected key %q", types.ErrMalformedAssignment, key)
	}

	subRaw, err := kvutil.DecodeToken(subToken)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", types.ErrMalformedAssignment, err)
	}
	sub, err := types.ParseSubscriptionName(subRaw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", types.ErrMalformedAssignment, err)
	}
	nodeRaw, err := kvutil.DecodeToken(nodeToken)
	if err != nil || nodeRaw == "" {
		return "", "", fmt.Errorf("%w: bad node token in %q", types.ErrMalformedAssignment, key)
	}

	return sub, types.NodeID(nodeRaw), nil
}
