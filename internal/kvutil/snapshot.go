package kvutil

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Snapshot returns the current entries whose keys match the subject filter.
//
// It opens a watcher with IgnoreDeletes and collects the initial values up to
// the nil marker, which makes it a single round trip regardless of the number
// of keys (unlike Keys followed by one Get per key). Deleted and purged keys
// are not returned.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - kv: Bucket to read
//   - filter: Key filter, e.g. "cluster.assignments.>"
//
// Returns:
//   - []jetstream.KeyValueEntry: Live entries in delivery order
//   - error: Watch error or context error
func Snapshot(ctx context.Context, kv jetstream.KeyValue, filter string) ([]jetstream.KeyValueEntry, error) {
	watcher, err := kv.Watch(ctx, filter, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", filter, err)
	}
	defer func() { _ = watcher.Stop() }()

	var entries []jetstream.KeyValueEntry
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}

				return nil, fmt.Errorf("watcher for %s closed before initial values", filter)
			}
			if entry == nil {
				return entries, nil
			}
			if entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			entries = append(entries, entry)
		}
	}
}
