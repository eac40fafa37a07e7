// Package heartbeat keeps consumer nodes registered through NATS KV.
//
// Every node puts a Record under its key at a fixed interval. The bucket TTL
// is about three intervals, so a crashed node disappears after three missed
// heartbeats and the leader stops assigning work to it. A node that stops
// gracefully deletes its key at once.
//
// # Key Format
//
//	{cluster}.{nodeID}
//
// Both tokens are encoded with kvutil.EncodeToken, so node IDs that contain
// dots or other characters NATS rejects in keys are still usable.
//
// Example:
//
//	publisher := heartbeat.New(kv, "dc1", 2*time.Second, metrics, logger)
//	publisher.SetNode(nodeID, 200)
//	if err := publisher.Start(ctx); err != nil {
//	    return err
//	}
//	defer publisher.Stop(context.Background())
//
// The registry reads the same records back with Filter and Decode.
package heartbeat
