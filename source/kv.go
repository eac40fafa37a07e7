package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/internal/logging"
	"github.com/pzmi/hermes/types"
)

// Common errors for the KV source lifecycle.
var (
	ErrSourceNotStarted     = errors.New("subscription source not started")
	ErrSourceAlreadyStarted = errors.New("subscription source already started")
)

// KV is a subscription source backed by a NATS KV bucket.
//
// Each key holds one JSON Definition. A watch on the whole bucket keeps an
// in-memory cache current, so ActiveSubscriptions never reads the bucket and
// its staleness is bounded by watch delivery. Definitions that fail to decode
// or validate are logged and leave the cached entry unchanged.
type KV struct {
	kv                 jetstream.KeyValue
	defaultParallelism int
	logger             types.Logger

	active *xsync.Map[string, types.Subscription]
	ready  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ types.SubscriptionSource = (*KV)(nil)

// NewKV creates a KV source. Call Start before listing.
//
// Parameters:
//   - kv: Bucket holding subscription definitions
//   - defaultParallelism: Parallelism for definitions that omit it
//   - logger: Logger for rejected definitions; nil discards logs
//
// Returns:
//   - *KV: A stopped source
func NewKV(kv jetstream.KeyValue, defaultParallelism int, logger types.Logger) *KV {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &KV{
		kv:                 kv,
		defaultParallelism: defaultParallelism,
		logger:             logger,
		active:             xsync.NewMap[string, types.Subscription](),
		ready:              make(chan struct{}),
	}
}

// Start opens the watch and blocks until the current definitions are loaded.
func (s *KV) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrSourceAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.Background())
	watcher, err := s.kv.WatchAll(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch subscription definitions: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, watcher, s.done)

	select {
	case <-s.ready:
		s.logger.Info("subscription definitions loaded", "active", s.active.Size())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for subscription definitions: %w", ctx.Err())
	}
}

// Stop closes the watch.
func (s *KV) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrSourceNotStarted
	}
	cancel()
	<-done

	return nil
}

// ActiveSubscriptions returns the cached active subscriptions sorted by name.
func (s *KV) ActiveSubscriptions(ctx context.Context) ([]types.Subscription, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	subs := make([]types.Subscription, 0, s.active.Size())
	s.active.Range(func(_ string, sub types.Subscription) bool {
		subs = append(subs, sub)
		return true
	})
	sortByName(subs)

	return subs, nil
}

// TargetParallelism returns the cached parallelism of an active subscription.
func (s *KV) TargetParallelism(name types.SubscriptionName) (int, bool) {
	sub, ok := s.active.Load(kvutil.EncodeToken(string(name)))
	if !ok {
		return 0, false
	}

	return sub.Parallelism, true
}

// Put stores a definition in the bucket.
func (s *KV) Put(ctx context.Context, def Definition) error {
	if _, _, err := def.resolve(s.defaultParallelism); err != nil {
		return err
	}
	value, err := json.Marshal(def)
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(ctx, kvutil.EncodeToken(def.Name), value); err != nil {
		return fmt.Errorf("failed to store subscription %s: %w", def.Name, err)
	}

	return nil
}

// Delete removes a definition from the bucket.
func (s *KV) Delete(ctx context.Context, name types.SubscriptionName) error {
	if err := s.kv.Delete(ctx, kvutil.EncodeToken(string(name))); err != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", name, err)
	}

	return nil
}

func (s *KV) run(ctx context.Context, watcher jetstream.KeyWatcher, done chan struct{}) {
	defer close(done)
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				s.markReady()
				continue
			}
			s.apply(entry)
		}
	}
}

func (s *KV) markReady() {
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *KV) apply(entry jetstream.KeyValueEntry) {
	key := entry.Key()
	if entry.Operation() != jetstream.KeyValuePut {
		s.active.Delete(key)
		return
	}

	var def Definition
	if err := json.Unmarshal(entry.Value(), &def); err != nil {
		s.logger.Warn("ignoring undecodable subscription definition", "key", key, "error", err)
		return
	}
	if def.Name == "" {
		name, err := kvutil.DecodeToken(key)
		if err != nil {
			s.logger.Warn("ignoring subscription definition with bad key", "key", key, "error", err)
			return
		}
		def.Name = name
	}
	if kvutil.EncodeToken(def.Name) != key {
		s.logger.Warn("ignoring subscription definition stored under a foreign key", "key", key, "name", def.Name)
		return
	}

	sub, active, err := def.resolve(s.defaultParallelism)
	if err != nil {
		s.logger.Warn("ignoring invalid subscription definition", "key", key, "error", err)
		return
	}
	if !active {
		s.active.Delete(key)
		s.logger.Debug("subscription suspended", "subscription", sub.Name)
		return
	}
	s.active.Store(key, sub)
}
