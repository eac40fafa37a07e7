package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/internal/heartbeat"
	"github.com/pzmi/hermes/types"
)

// Common errors for monitor lifecycle.
var (
	ErrMonitorAlreadyStarted = errors.New("node monitor already started")
	ErrMonitorNotStarted     = errors.New("node monitor not started")
)

const defaultDebounce = 100 * time.Millisecond

// Monitor watches heartbeat keys and calls onChange when nodes join or leave.
//
// Heartbeat refreshes of known nodes are ignored; only the set of node keys
// matters. Bursts of changes are debounced into a single call. Keys removed by
// TTL expiry produce no watch event, so expired nodes are still picked up by the
// next periodic balancing pass rather than by the monitor.
type Monitor struct {
	kv       jetstream.KeyValue
	filter   string
	debounce time.Duration
	onChange func()
	logger   types.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor for the cluster's heartbeats.
func NewMonitor(kv jetstream.KeyValue, cluster string, onChange func(), logger types.Logger) *Monitor {
	return &Monitor{
		kv:       kv,
		filter:   heartbeat.Filter(cluster),
		debounce: defaultDebounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Start opens the watcher and processes events in the background.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return ErrMonitorAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	watcher, err := m.kv.Watch(runCtx, m.filter)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch node heartbeats: %w", err)
	}

	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, watcher, m.done)

	m.logger.Debug("node monitor started", "filter", m.filter)

	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return ErrMonitorNotStarted
	}
	cancel()
	<-done

	return nil
}

func (m *Monitor) run(ctx context.Context, watcher jetstream.KeyWatcher, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := watcher.Stop(); err != nil {
			m.logger.Debug("failed to stop node watcher", "error", err)
		}
	}()

	known := make(map[string]struct{})
	replayed := false

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				replayed = true
				continue
			}
			if !m.track(known, entry) || !replayed {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(m.debounce)
			}

		case <-timer.C:
			pending = false
			m.logger.Debug("node set changed", "nodes", len(known))
			m.onChange()
		}
	}
}

// track updates the known key set and reports whether it changed.
func (m *Monitor) track(known map[string]struct{}, entry jetstream.KeyValueEntry) bool {
	key := entry.Key()
	_, exists := known[key]

	if entry.Operation() == jetstream.KeyValuePut {
		known[key] = struct{}{}
		return !exists
	}
	delete(known, key)

	return exists
}
