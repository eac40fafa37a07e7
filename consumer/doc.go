// Package consumer lets a node consume the topics of the subscriptions
// assigned to it.
//
// NodeConsumer keeps one durable JetStream pull consumer per node. Its
// FilterSubjects follow the node's assignments: every Update replaces the
// filter with the subjects of the currently owned subscriptions, without
// restarting the pull loop. Feed it from Balancer.Owned in an
// OnAssignmentsChanged hook:
//
//	nc, _ := consumer.New(js, consumer.Config{
//	    StreamName:      "hermes",
//	    ConsumerPrefix:  "hermes",
//	    SubjectTemplate: "hermes.{{.Topic}}",
//	}, consumer.MessageHandlerFunc(process))
//
//	hooks := &hermes.Hooks{
//	    OnAssignmentsChanged: func(ctx context.Context, _, _ []hermes.SubscriptionName) error {
//	        return nc.Update(ctx, b.NodeID(), b.Owned())
//	    },
//	}
package consumer
