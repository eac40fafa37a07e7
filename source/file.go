package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/pzmi/hermes/internal/logging"
	"github.com/pzmi/hermes/types"
)

// fileDocument is the YAML layout of a subscription file. A missing
// subscriptions key is an error, so a truncated file never empties the source.
type fileDocument struct {
	Subscriptions *[]Definition `yaml:"subscriptions"`
}

type fileSnapshot struct {
	subscriptions []types.Subscription
	parallelism   map[types.SubscriptionName]int
}

// File is a subscription source backed by a YAML file:
//
//	subscriptions:
//	  - name: pl.allegro.orders$audit
//	    parallelism: 2
//	  - name: pl.allegro.payments$billing
//	    state: SUSPENDED
//
// The file is reloaded whenever it changes. A reload that fails to parse or
// validate is logged and the previous snapshot stays in effect.
type File struct {
	path               string
	defaultParallelism int
	logger             types.Logger

	snapshot atomic.Pointer[fileSnapshot]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ types.SubscriptionSource = (*File)(nil)

// NewFile loads the file and returns a source serving it.
//
// Parameters:
//   - path: YAML file path
//   - defaultParallelism: Parallelism for definitions that omit it
//   - logger: Logger for reload events
//
// Returns:
//   - *File: Source holding the loaded snapshot; call Start to follow changes
//   - error: Read, parse or validation error of the initial load
func NewFile(path string, defaultParallelism int, logger types.Logger) (*File, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &File{path: path, defaultParallelism: defaultParallelism, logger: logger}
	if err := f.Reload(); err != nil {
		return nil, err
	}

	return f, nil
}

// ActiveSubscriptions returns the active subscriptions of the current snapshot.
func (f *File) ActiveSubscriptions(_ context.Context) ([]types.Subscription, error) {
	snap := f.snapshot.Load()
	out := make([]types.Subscription, len(snap.subscriptions))
	copy(out, snap.subscriptions)

	return out, nil
}

// TargetParallelism returns the parallelism of an active subscription.
func (f *File) TargetParallelism(name types.SubscriptionName) (int, bool) {
	p, ok := f.snapshot.Load().parallelism[name]
	return p, ok
}

// Reload reads the file and swaps the snapshot if it is valid.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read subscription file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse subscription file %s: %w", f.path, err)
	}

	if doc.Subscriptions == nil {
		return fmt.Errorf("%w: %s has no subscriptions key", ErrInvalidDefinition, f.path)
	}

	defs := *doc.Subscriptions
	snap := &fileSnapshot{parallelism: make(map[types.SubscriptionName]int, len(defs))}
	seen := make(map[types.SubscriptionName]struct{}, len(defs))
	for _, def := range defs {
		sub, active, err := def.resolve(f.defaultParallelism)
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		if _, dup := seen[sub.Name]; dup {
			return fmt.Errorf("%w: %s is defined twice in %s", ErrInvalidDefinition, sub.Name, f.path)
		}
		seen[sub.Name] = struct{}{}
		if !active {
			continue
		}
		snap.subscriptions = append(snap.subscriptions, sub)
		snap.parallelism[sub.Name] = sub.Parallelism
	}
	sortByName(snap.subscriptions)

	f.snapshot.Store(snap)

	return nil
}

// Start follows the file for changes until ctx is done or Stop is called.
//
// The parent directory is watched rather than the file itself so editors and
// config management that replace the file by rename are picked up too.
func (f *File) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher != nil {
		return ErrSourceAlreadyStarted
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", f.path, err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})
	go f.run(ctx, watcher, f.done)

	return nil
}

// Stop stops following the file.
func (f *File) Stop() error {
	f.mu.Lock()
	watcher, done := f.watcher, f.done
	f.watcher, f.done = nil, nil
	f.mu.Unlock()

	if watcher == nil {
		return ErrSourceNotStarted
	}
	err := watcher.Close()
	<-done

	return err
}

func (f *File) run(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("subscription file reload rejected, keeping previous definitions", "path", f.path, "error", err)
				continue
			}
			f.logger.Info("subscription file reloaded", "path", f.path, "active", len(f.snapshot.Load().subscriptions))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("subscription file watcher error", "path", f.path, "error", err)
		}
	}
}
