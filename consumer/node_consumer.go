package consumer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/pzmi/hermes/internal/kvutil"
	"github.com/pzmi/hermes/types"
)

// Common errors for NodeConsumer.
var (
	ErrMaxSubjectsExceeded = errors.New("node consumer subjects exceed MaxSubjects cap")
	ErrNotInitialized      = errors.New("node consumer not initialized")
	ErrClosed              = errors.New("node consumer closed")
)

// subjectContext is the template context for subject generation.
type subjectContext struct {
	Name         string
	Topic        string
	Group        string
	TopicName    string
	Subscription string
}

// NodeConsumer manages the durable pull consumer of one node.
//
// Instead of one consumer per subscription it keeps a single durable whose
// FilterSubjects set is replaced whenever the node's assignments change. The
// pull loop survives updates; an empty assignment pauses it.
type NodeConsumer struct {
	js      jetstream.JetStream
	cfg     Config
	logger  types.Logger
	tmpl    *template.Template
	handler MessageHandler

	updateMu sync.Mutex

	mu       sync.RWMutex
	nodeID   types.NodeID
	cons     jetstream.Consumer
	subjects []string
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// New creates a NodeConsumer.
//
// Parameters:
//   - js: JetStream context
//   - cfg: Consumer configuration; StreamName and ConsumerPrefix are required
//   - handler: Message handler invoked for each received message
//
// Returns:
//   - *NodeConsumer: Consumer with defaults applied; nothing is created on the
//     server until the first Update
//   - error: Configuration or template parsing error
func New(js jetstream.JetStream, cfg Config, handler MessageHandler) (*NodeConsumer, error) {
	if js == nil {
		return nil, errors.New("JetStream context is required")
	}
	if cfg.StreamName == "" {
		return nil, errors.New("stream name is required")
	}
	if cfg.ConsumerPrefix == "" {
		return nil, errors.New("consumer prefix is required")
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	cfg.applyDefaults()
	tmpl, err := template.New("subject").Option("missingkey=error").Parse(cfg.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid subject template: %w", err)
	}

	return &NodeConsumer{
		js:      js,
		cfg:     cfg,
		logger:  cfg.Logger,
		tmpl:    tmpl,
		handler: handler,
	}, nil
}

// Update points the node's durable consumer at the given subscriptions.
//
// Calling it with an unchanged subject set is a no-op. When nodeID differs
// from the previous call the old durable is deleted best-effort.
//
// Parameters:
//   - ctx: Context for the consumer update and retry backoff
//   - nodeID: Node owning the durable (<ConsumerPrefix>-<nodeID>)
//   - subscriptions: Complete set of subscriptions assigned to the node
//
// Returns:
//   - error: ErrMaxSubjectsExceeded, a template error or the JetStream API
//     failure after retries
func (c *NodeConsumer) Update(ctx context.Context, nodeID types.NodeID, subscriptions []types.SubscriptionName) error {
	if nodeID == "" {
		return types.ErrInvalidNodeID
	}

	subjects, err := c.buildSubjects(subscriptions)
	if err != nil {
		return err
	}
	if c.cfg.MaxSubjects > 0 && len(subjects) > c.cfg.MaxSubjects {
		return fmt.Errorf("%w: %d > %d", ErrMaxSubjectsExceeded, len(subjects), c.cfg.MaxSubjects)
	}

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	prevNodeID := c.nodeID
	if prevNodeID == nodeID && c.subjects != nil && slices.Equal(subjects, c.subjects) {
		return nil
	}

	if len(subjects) == 0 {
		// An empty filter would match the whole stream.
		c.stopLoopLocked()
		c.nodeID, c.subjects = nodeID, subjects
		c.logger.Info("node consumer paused, no subscriptions assigned", "node", nodeID)

		return nil
	}

	name := c.durableName(nodeID)
	cons, err := c.createOrUpdate(ctx, c.cfg.consumerConfig(name, subjects))
	if err != nil {
		return err
	}

	if prevNodeID != "" && prevNodeID != nodeID {
		c.stopLoopLocked()
		c.deleteDurable(c.durableName(prevNodeID))
	}

	if c.closed {
		return ErrClosed
	}
	c.nodeID, c.cons, c.subjects = nodeID, cons, subjects
	if c.done == nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.done = make(chan struct{})
		go c.run(loopCtx, c.done)
	}
	c.logger.Info("node consumer updated", "durable", name, "subjects", len(subjects))

	return nil
}

// Subjects returns a copy of the last applied filter subjects.
func (c *NodeConsumer) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Clone(c.subjects)
}

// Info returns the JetStream info of the durable consumer.
func (c *NodeConsumer) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	c.mu.RLock()
	cons := c.cons
	c.mu.RUnlock()

	if cons == nil {
		return nil, ErrNotInitialized
	}
	info, err := cons.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get node consumer info: %w", err)
	}

	return info, nil
}

// Close stops the pull loop and waits for an in-flight handler to return.
//
// The durable consumer is not deleted: NATS removes it after
// InactiveThreshold, and a restarted node resumes from its position.
func (c *NodeConsumer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("close context cancelled before the pull loop stopped")
		return ctx.Err()
	}
}

func (c *NodeConsumer) durableName(nodeID types.NodeID) string {
	return c.cfg.ConsumerPrefix + "-" + kvutil.EncodeToken(string(nodeID))
}

func (c *NodeConsumer) createOrUpdate(ctx context.Context, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	var delay time.Duration
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		cons, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, cfg)
		if err == nil {
			return cons, nil
		}
		lastErr = err

		if attempt == c.cfg.MaxRetries {
			break
		}
		delay = jitterBackoff(delay, c.cfg.RetryBackoff, c.cfg.MaxRetryBackoff)
		c.logger.Debug("node consumer update failed, retrying", "durable", cfg.Durable, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed to create/update node consumer %s after %d attempts: %w",
		cfg.Durable, c.cfg.MaxRetries+1, lastErr)
}

func (c *NodeConsumer) deleteDurable(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.js.DeleteConsumer(ctx, c.cfg.StreamName, name); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
		c.logger.Warn("best-effort delete of old durable failed", "durable", name, "error", err)
		return
	}
	c.logger.Info("deleted durable of previous node ID", "durable", name)
}

// stopLoopLocked cancels the pull loop and waits for it. c.mu is released
// while waiting because the loop takes the read lock between iterators.
func (c *NodeConsumer) stopLoopLocked() {
	if c.done == nil {
		return
	}
	done := c.done
	c.cancel()
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	<-done
	c.mu.Lock()
}

func (c *NodeConsumer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var delay time.Duration
	for ctx.Err() == nil {
		c.mu.RLock()
		cons := c.cons
		c.mu.RUnlock()

		iter, err := cons.Messages(
			jetstream.PullMaxMessages(c.cfg.BatchSize),
			jetstream.PullExpiry(c.cfg.FetchTimeout),
			jetstream.PullHeartbeat(c.cfg.FetchTimeout/3),
		)
		if err != nil {
			delay = jitterBackoff(delay, c.cfg.RetryBackoff, c.cfg.MaxRetryBackoff)
			c.logger.Error("failed to create message iterator", "error", err, "retryIn", delay)
			if !sleep(ctx, delay) {
				return
			}

			continue
		}

		if c.consume(ctx, iter) {
			delay = 0
			continue
		}
		delay = jitterBackoff(delay, c.cfg.RetryBackoff, c.cfg.MaxRetryBackoff)
		if !sleep(ctx, delay) {
			return
		}
	}
}

// consume handles messages until the iterator fails. It reports whether the
// iterator ended cleanly.
func (c *NodeConsumer) consume(ctx context.Context, iter jetstream.MessagesContext) bool {
	stop := context.AfterFunc(ctx, iter.Stop)
	defer func() {
		if stop() {
			iter.Stop()
		}
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return true
			}
			if errors.Is(err, jetstream.ErrNoHeartbeat) {
				c.logger.Warn("node consumer missed heartbeats, recreating iterator")
				return true
			}
			c.logger.Warn("node consumer iterator error", "error", err)

			return false
		}

		if err := c.handler.Handle(ctx, msg); err != nil {
			c.logger.Debug("message handler failed", "subject", msg.Subject(), "error", err)
			_ = msg.Nak()
		} else {
			_ = msg.Ack()
		}
	}
}

// buildSubjects renders a sorted, deduplicated subject list.
func (c *NodeConsumer) buildSubjects(subscriptions []types.SubscriptionName) ([]string, error) {
	subjects := make([]string, 0, len(subscriptions))
	var buf strings.Builder
	for _, name := range subscriptions {
		buf.Reset()
		err := c.tmpl.Execute(&buf, subjectContext{
			Name:         string(name),
			Topic:        name.Topic(),
			Group:        name.Group(),
			TopicName:    name.TopicName(),
			Subscription: name.Subscription(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render subject for %s: %w", name, err)
		}
		subjects = append(subjects, buf.String())
	}
	slices.Sort(subjects)

	return slices.Compact(subjects), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
