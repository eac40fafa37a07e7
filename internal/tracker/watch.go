package tracker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/types"
)

const watchBufferSize = 64

// WatchNode streams the assignment changes of one node.
//
// The current assignments are delivered first as AssignmentAdded events, then
// every later create or delete as it happens. The channel is closed when ctx is
// done or the underlying watcher stops.
//
// Parameters:
//   - ctx: Lifetime of the watch
//   - node: Node whose subtree is watched
//
// Returns:
//   - <-chan types.NodeAssignmentEvent: Event stream
//   - error: Watch setup error
func (t *Tracker) WatchNode(ctx context.Context, node types.NodeID) (<-chan types.NodeAssignmentEvent, error) {
	filter := kvutil.Key(t.prefix, "*", kvutil.EncodeToken(string(node)))
	watcher, err := t.kv.Watch(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to watch assignments of %s: %w", node, err)
	}

	events := make(chan types.NodeAssignmentEvent, watchBufferSize)
	go func() {
		defer close(events)
		defer func() { _ = watcher.Stop() }()

		// Delete markers replayed before the nil marker are history, not events.
		replaying := true
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					replaying = false
					continue
				}
				if replaying && entry.Operation() != jetstream.KeyValuePut {
					continue
				}

				ev, ok := t.event(entry)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (t *Tracker) event(entry jetstream.KeyValueEntry) (types.NodeAssignmentEvent, bool) {
	sub, node, err := t.parseKey(entry.Key())
	if err != nil {
		t.logger.Warn("ignoring assignment event", "key", entry.Key(), "error", err)
		return types.NodeAssignmentEvent{}, false
	}

	ev := types.NodeAssignmentEvent{
		Type:         types.AssignmentAdded,
		Subscription: sub,
		Node:         node,
		Revision:     entry.Revision(),
	}
	if entry.Operation() != jetstream.KeyValuePut {
		ev.Type = types.AssignmentRemoved
	}

	return ev, true
}
