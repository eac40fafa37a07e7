package election

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/types"
)

// ErrInvalidDuration is returned when a lease duration is not positive.
var ErrInvalidDuration = errors.New("invalid lease duration")

// leaderRecord is the value stored under the leader key.
type leaderRecord struct {
	Node       string    `json:"node"`
	AcquiredAt time.Time `json:"acquiredAt"`
	RenewedAt  time.Time `json:"renewedAt"`
}

// NATSElection implements leader election on a NATS KV bucket.
//
// Uses atomic KV operations:
//   - Create: acquire leadership if the key does not exist
//   - Update with revision: renew while still holding the lease
//   - Delete: release
//
// The bucket TTL is the lease. A crashed leader stops renewing, its key
// expires and another node's Create succeeds.
//
// All state is protected by mu.
type NATSElection struct {
	kv  jetstream.KeyValue
	key string

	mu         sync.RWMutex
	nodeID     string
	revision   uint64
	acquiredAt time.Time
	isLeader   bool
}

var _ types.ElectionAgent = (*NATSElection)(nil)

// NewNATSElection creates a new NATS KV-based election agent.
//
// Parameters:
//   - kv: Election bucket; its TTL is the leadership lease
//   - key: Leader key, one per balancer cluster (e.g. "dc1.leader")
//
// Returns:
//   - *NATSElection: New election agent instance
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket: "hermes-election",
//	    TTL:    15 * time.Second,
//	})
//	agent := election.NewNATSElection(kv, "dc1.leader")
func NewNATSElection(kv jetstream.KeyValue, key string) *NATSElection {
	return &NATSElection{kv: kv, key: key}
}

// RequestLeadership attempts to acquire or keep leadership.
//
// A node that already leads renews instead. The lease itself is enforced by
// the bucket TTL, leaseDuration only has to be positive.
//
// Parameters:
//   - ctx: Context for timeout
//   - nodeID: The node requesting leadership
//   - leaseDuration: Lease duration in seconds
//
// Returns:
//   - bool: true if leadership acquired/held, false if another node leads
//   - error: KV error or context cancellation
func (e *NATSElection) RequestLeadership(ctx context.Context, nodeID string, leaseDuration int64) (bool, error) {
	if leaseDuration <= 0 {
		return false, ErrInvalidDuration
	}

	isLeader, current, _ := e.state()
	if isLeader && current == nodeID {
		if err := e.RenewLeadership(ctx); err == nil {
			return true, nil
		}
	}

	now := time.Now()
	value, err := json.Marshal(leaderRecord{Node: nodeID, AcquiredAt: now, RenewedAt: now})
	if err != nil {
		return false, err
	}

	revision, err := e.kv.Create(ctx, e.key, value)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create leader key: %w", err)
	}

	e.mu.Lock()
	e.isLeader = true
	e.nodeID = nodeID
	e.revision = revision
	e.acquiredAt = now
	e.mu.Unlock()

	return true, nil
}

// RenewLeadership extends the lease with a revision-checked update.
//
// Returns:
//   - error: types.ErrNotLeader if not leading, types.ErrLeadershipLost if
//     another node took over or the key expired
func (e *NATSElection) RenewLeadership(ctx context.Context) error {
	isLeader, nodeID, revision := e.state()
	if !isLeader {
		return types.ErrNotLeader
	}

	e.mu.RLock()
	acquiredAt := e.acquiredAt
	e.mu.RUnlock()

	value, err := json.Marshal(leaderRecord{Node: nodeID, AcquiredAt: acquiredAt, RenewedAt: time.Now()})
	if err != nil {
		return err
	}

	newRevision, err := e.kv.Update(ctx, e.key, value, revision)
	if err != nil {
		e.clear()

		return fmt.Errorf("%w: %w", types.ErrLeadershipLost, err)
	}

	e.mu.Lock()
	e.revision = newRevision
	e.mu.Unlock()

	return nil
}

// ReleaseLeadership deletes the leader key so another node can take over at once.
//
// The delete is conditional on our revision; if another node already owns the
// key it is left alone.
func (e *NATSElection) ReleaseLeadership(ctx context.Context) error {
	isLeader, _, revision := e.state()
	if !isLeader {
		return types.ErrNotLeader
	}
	e.clear()

	err := e.kv.Delete(ctx, e.key, jetstream.LastRevision(revision))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) && !kvutil.IsWrongRevision(err) {
		return fmt.Errorf("failed to delete leader key: %w", err)
	}

	return nil
}

// IsLeader confirms leadership against the KV store.
//
// The local flag is not enough: the key may have expired or been taken over
// since the last renewal. Leadership holds if the key still carries the
// revision of our last Create or Update, or a newer revision written by a
// renewal of the same term that has not been recorded locally yet.
func (e *NATSElection) IsLeader(ctx context.Context) (bool, error) {
	isLeader, nodeID, revision := e.state()
	if !isLeader {
		return false, nil
	}

	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			e.clear()

			return false, nil
		}

		return false, fmt.Errorf("failed to get leader key: %w", err)
	}
	if entry.Revision() == revision {
		return true, nil
	}
	if entry.Revision() > revision && e.ownsTerm(entry, nodeID) {
		e.adopt(entry.Revision())

		return true, nil
	}
	e.clearIfRevision(revision)

	return false, nil
}

// Leader returns the node ID currently holding the leader key, or "" if none.
func (e *NATSElection) Leader(ctx context.Context) (string, error) {
	entry, err := e.kv.Get(ctx, e.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("failed to get leader key: %w", err)
	}

	var rec leaderRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return "", fmt.Errorf("failed to decode leader key: %w", err)
	}

	return rec.Node, nil
}

func (e *NATSElection) state() (isLeader bool, nodeID string, revision uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader, e.nodeID, e.revision
}

// ownsTerm reports whether entry was written by this node during the
// current term. Renewals keep AcquiredAt, a new Create changes it.
func (e *NATSElection) ownsTerm(entry jetstream.KeyValueEntry, nodeID string) bool {
	var rec leaderRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return false
	}

	e.mu.RLock()
	acquiredAt := e.acquiredAt
	e.mu.RUnlock()

	return rec.Node == nodeID && rec.AcquiredAt.Equal(acquiredAt)
}

func (e *NATSElection) adopt(revision uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isLeader && revision > e.revision {
		e.revision = revision
	}
}

// clearIfRevision drops leadership unless a renewal moved the revision on
// since it was read.
func (e *NATSElection) clearIfRevision(revision uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.revision == revision {
		e.isLeader = false
	}
}

func (e *NATSElection) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = false
}
