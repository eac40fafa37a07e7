// Package tracker persists the assignment set in NATS KV.
//
// Each assignment is one key under {cluster}.assignments; subscription and
// node tokens are escaped with kvutil.EncodeToken. The leader moves the stored
// set to a target with Apply. Consumer nodes follow their own subtree with
// WatchNode.
package tracker
