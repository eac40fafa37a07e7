package election

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pzmi/hermes/types"
)

// Latch keeps an ElectionAgent campaigning and turns its results into
// leadership gained/lost notifications.
//
// A single goroutine requests leadership while not leader and renews every
// lease/3 while leader. Listeners are called from that goroutine in
// registration order, so a lost notification never overlaps a gained one.
type Latch struct {
	agent  types.ElectionAgent
	nodeID string
	lease  time.Duration
	logger types.Logger

	leader atomic.Bool

	mu     sync.Mutex
	gained []func()
	lost   []func()
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLatch creates a latch for the given agent.
//
// Parameters:
//   - agent: Election backend
//   - nodeID: ID this node campaigns with
//   - lease: Leadership lease; renewals happen every lease/3
//   - logger: Logger for campaign events
//
// Returns:
//   - *Latch: A stopped latch; call Start to campaign
func NewLatch(agent types.ElectionAgent, nodeID string, lease time.Duration, logger types.Logger) *Latch {
	return &Latch{agent: agent, nodeID: nodeID, lease: lease, logger: logger}
}

// OnLeadershipGained registers fn to run when this node becomes leader.
func (l *Latch) OnLeadershipGained(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gained = append(l.gained, fn)
}

// OnLeadershipLost registers fn to run when this node stops being leader.
func (l *Latch) OnLeadershipLost(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = append(l.lost, fn)
}

// HasLeadership reports the local view of leadership without contacting the store.
func (l *Latch) HasLeadership() bool {
	return l.leader.Load()
}

// IsLeader reports whether this node leads, confirmed against the store.
// Any error yields false.
func (l *Latch) IsLeader(ctx context.Context) bool {
	if !l.leader.Load() {
		return false
	}
	ok, err := l.agent.IsLeader(ctx)
	if err != nil {
		l.logger.Warn("leadership check failed", "error", err)
		return false
	}

	return ok
}

// Start begins campaigning. The first attempt happens immediately.
func (l *Latch) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx, l.done)
}

// Stop ends campaigning. A leader first notifies lost listeners and then
// releases the leader key so another node can take over without waiting for
// the lease to expire.
func (l *Latch) Stop(ctx context.Context) {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if l.leader.Load() {
		l.setLeader(false)
		if err := l.agent.ReleaseLeadership(ctx); err != nil {
			l.logger.Warn("failed to release leadership", "error", err)
		}
	}
}

func (l *Latch) interval() time.Duration {
	return max(l.lease/3, 10*time.Millisecond)
}

func (l *Latch) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.interval())
	defer ticker.Stop()

	l.campaign(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.campaign(ctx)
		}
	}
}

func (l *Latch) campaign(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, l.interval())
	defer cancel()

	if l.leader.Load() {
		if err := l.agent.RenewLeadership(opCtx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("leadership renewal failed", "node", l.nodeID, "error", err)
			l.setLeader(false)
		}

		return
	}

	seconds := max(int64(l.lease/time.Second), 1)
	ok, err := l.agent.RequestLeadership(opCtx, l.nodeID, seconds)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Warn("leadership request failed", "node", l.nodeID, "error", err)
		}

		return
	}
	if ok {
		l.setLeader(true)
	}
}

func (l *Latch) setLeader(leader bool) {
	if l.leader.Swap(leader) == leader {
		return
	}

	l.mu.Lock()
	listeners := l.lost
	if leader {
		listeners = l.gained
	}
	listeners = append([]func(){}, listeners...)
	l.mu.Unlock()

	if leader {
		l.logger.Info("leadership gained", "node", l.nodeID)
	} else {
		l.logger.Info("leadership lost", "node", l.nodeID)
	}
	for _, fn := range listeners {
		fn()
	}
}
