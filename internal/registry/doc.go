// Package registry implements types.NodeRegistry on NATS KV.
//
// Live nodes are the heartbeat keys of the cluster (see package heartbeat).
// Leadership questions are answered by the election latch. Monitor turns node
// joins and graceful leaves into a debounced callback so the leader can
// rebalance before its next scheduled pass.
package registry
