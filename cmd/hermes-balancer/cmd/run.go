package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/pzmi/hermes"
	"github.com/pzmi/hermes/consumer"
	"github.com/pzmi/hermes/internal/admin"
	"github.com/pzmi/hermes/internal/metrics"
	"github.com/pzmi/hermes/source"
	"github.com/pzmi/hermes/types"
)

var (
	listenFlag          string
	nodeIDFlag          string
	capacityFlag        int
	sourceFileFlag      string
	streamFlag          string
	consumerPrefixFlag  string
	subjectTemplateFlag string
	maxSubjectsFlag     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a balancer node until interrupted",
	Long: `Runs one balancer node: it heartbeats, takes part in leader election and,
while leader, balances the cluster every balancingInterval.

Subscription definitions come from --subscriptions-file when given, otherwise
from the subscription KV bucket (see "hermes-balancer subscriptions").

With --stream the node also consumes the subjects of its assigned
subscriptions from that JetStream stream through a single durable consumer.`,
	Example: `  hermes-balancer run --config hermes.yaml --listen :8080
  hermes-balancer run --cluster dc1 --subscriptions-file subscriptions.yaml --stream EVENTS`,
	Args: cobra.NoArgs,
	RunE: runNode,
}

func init() {
	runCmd.Flags().StringVar(&listenFlag, "listen", ":8080", "Admin HTTP listen address")
	runCmd.Flags().StringVar(&nodeIDFlag, "node-id", "", "Node ID (generated when empty)")
	runCmd.Flags().IntVar(&capacityFlag, "capacity", 0, "Node capacity, overrides the config file (0 drains the node)")
	runCmd.Flags().StringVar(&sourceFileFlag, "subscriptions-file", "", "YAML subscription definitions to follow")
	runCmd.Flags().StringVar(&streamFlag, "stream", "", "JetStream stream to consume assigned subscriptions from")
	runCmd.Flags().StringVar(&consumerPrefixFlag, "consumer-prefix", "hermes", "Durable consumer name prefix")
	runCmd.Flags().StringVar(&subjectTemplateFlag, "subject-template", consumer.DefaultSubjectTemplate,
		"Template rendering the subject of a subscription")
	runCmd.Flags().IntVar(&maxSubjectsFlag, "max-subjects", 0, "Cap on filter subjects per consumer (0 = no cap)")
}

func runNode(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if nodeIDFlag != "" {
		cfg.NodeID = nodeIDFlag
	}
	if cmd.Flags().Changed("capacity") {
		cfg.NodeCapacity = hermes.Capacity(capacityFlag)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ValidateWithWarnings(logger)

	nc, err := connect()
	if err != nil {
		return err
	}
	defer nc.Close()

	src, stopSource, err := openSource(ctx, nc)
	if err != nil {
		return err
	}
	defer stopSource()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheus(reg, "", cfg.Cluster)

	var syncer *consumerSyncer
	if streamFlag != "" {
		syncer, err = newConsumerSyncer(nc, reg)
		if err != nil {
			return err
		}
	}

	b, err := hermes.NewBalancer(&cfg, nc, src,
		hermes.WithLogger(logger),
		hermes.WithMetrics(collector),
		hermes.WithHooks(newHooks(syncer)),
	)
	if err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(ctx, cfg.StartupTimeout)
	err = b.Start(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("failed to start balancer: %w", err)
	}
	logger.Info("balancer node started", "node", b.NodeID(), "cluster", cfg.Cluster)

	if syncer != nil {
		syncer.start(ctx, b)
	}

	server := admin.NewServer(listenFlag, b, reg, logger)
	server.Start()

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs error
	errs = multierr.Append(errs, server.Stop(shutdownCtx))
	errs = multierr.Append(errs, b.Stop(shutdownCtx))
	if syncer != nil {
		errs = multierr.Append(errs, syncer.close(shutdownCtx))
	}
	if errs != nil {
		logger.Error("shutdown finished with errors", "error", errs)
		return errs
	}
	logger.Info("balancer node stopped")

	return nil
}

// openSource starts the configured subscription source and returns its stop function.
func openSource(ctx context.Context, nc *nats.Conn) (hermes.SubscriptionSource, func(), error) {
	if sourceFileFlag != "" {
		f, err := source.NewFile(sourceFileFlag, cfg.DefaultParallelism, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := f.Start(ctx); err != nil {
			return nil, nil, err
		}

		return f, func() { _ = f.Stop() }, nil
	}

	startCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	kv, err := hermes.EnsureSubscriptionBucket(startCtx, nc, &cfg)
	if err != nil {
		return nil, nil, err
	}
	src := source.NewKV(kv, cfg.DefaultParallelism, logger)
	if err := src.Start(startCtx); err != nil {
		return nil, nil, err
	}

	return src, func() { _ = src.Stop() }, nil
}

func newHooks(syncer *consumerSyncer) *hermes.Hooks {
	hooks := &hermes.Hooks{
		OnBalanced: func(_ context.Context, stats hermes.BalancingStats) error {
			if stats.MissingResources > 0 {
				logger.Warn("cluster lacks capacity for every consumer",
					"missing", stats.MissingResources, "assignments", stats.AllAssignments)
			}

			return nil
		},
		OnError: func(_ context.Context, err error) error {
			logger.Error("balancing pass failed", "error", err)
			return nil
		},
	}
	if syncer != nil {
		hooks.OnAssignmentsChanged = func(context.Context, []types.SubscriptionName, []types.SubscriptionName) error {
			syncer.notify()
			return nil
		}
	}

	return hooks
}

// consumerSyncer applies the owned subscriptions of the node to its durable
// consumer. Hooks run concurrently, so they only wake the single update loop.
type consumerSyncer struct {
	consumer *consumer.NodeConsumer
	received *prometheus.CounterVec
	wake     chan struct{}
	done     chan struct{}
}

func newConsumerSyncer(nc *nats.Conn, reg prometheus.Registerer) (*consumerSyncer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "hermes",
		Subsystem:   "consumer",
		Name:        "messages_total",
		Help:        "Messages received by the node consumer",
		ConstLabels: prometheus.Labels{"cluster": cfg.Cluster},
	}, []string{"subject"})
	reg.MustRegister(received)

	s := &consumerSyncer{
		received: received,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.consumer, err = consumer.New(js, consumer.Config{
		StreamName:      streamFlag,
		ConsumerPrefix:  consumerPrefixFlag,
		SubjectTemplate: subjectTemplateFlag,
		MaxSubjects:     maxSubjectsFlag,
		Logger:          logger,
	}, consumer.MessageHandlerFunc(s.handle))
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *consumerSyncer) handle(_ context.Context, msg jetstream.Msg) error {
	s.received.WithLabelValues(msg.Subject()).Inc()
	logger.Debug("message received", "subject", msg.Subject(), "bytes", len(msg.Data()))

	return nil
}

func (s *consumerSyncer) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *consumerSyncer) start(ctx context.Context, b *hermes.Balancer) {
	go func() {
		defer close(s.done)

		for {
			var retry <-chan time.Time
			if err := s.consumer.Update(ctx, b.NodeID(), b.Owned()); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("failed to update node consumer", "error", err)
				retry = time.After(5 * time.Second)
			}

			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			case <-retry:
			}
		}
	}()
}

func (s *consumerSyncer) close(ctx context.Context) error {
	select {
	case <-s.done:
	case <-ctx.Done():
		return errors.New("node consumer update loop did not stop in time")
	}

	return s.consumer.Close(ctx)
}
