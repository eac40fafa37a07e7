// Package election provides leader election for the balancing job.
//
// Exactly one node per balancer cluster runs balancing passes. Two pieces
// cooperate:
//
//   - NATSElection: a types.ElectionAgent on a NATS KV bucket. Create acquires
//     the leader key, a revision-checked Update renews it and a conditional
//     Delete releases it. The bucket TTL is the lease.
//   - Latch: the campaign loop. It requests leadership while follower, renews
//     every lease/3 while leader, and converts outcomes into gained/lost
//     callbacks that drive the balancing job.
//
// # Usage
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket: "hermes-election",
//	    TTL:    15 * time.Second,
//	})
//	latch := election.NewLatch(election.NewNATSElection(kv, "dc1.leader"), nodeID, 15*time.Second, logger)
//	latch.OnLeadershipGained(job.OnLeadershipGained)
//	latch.OnLeadershipLost(job.OnLeadershipLost)
//	latch.Start(ctx)
//	defer latch.Stop(context.Background())
//
// # Failover
//
// A leader that stops gracefully releases the key and another node takes over
// on its next campaign tick. A crashed leader stops renewing; its key expires
// after the TTL. A leader that cannot renew (for example when partitioned from
// NATS) reports leadership lost at once, so it stops mutating assignments
// before another node can win the key.
package election
