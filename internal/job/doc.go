// Package job drives balancing passes on the leader.
//
// A Job is idle until the registry reports leadership gained. It then runs a
// pass every interval (or earlier on Trigger): read nodes, subscriptions and
// persisted assignments concurrently, compute a target with the strategy,
// validate it, confirm leadership once more and apply the difference through
// the work tracker. On leadership lost the driver is stopped, any in-flight
// pass is awaited and the published counters drop to zero.
package job
