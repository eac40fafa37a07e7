// Package source provides built-in subscription source implementations.
//
// Subscription sources tell the balancer which subscriptions exist and how
// many nodes each should run on. The package includes:
//
//   - Static: Fixed list of subscriptions
//   - KV: Definitions in a NATS KV bucket, followed through a watch
//   - File: Definitions in a YAML file, reloaded when it changes
//
// KV and File share the Definition format. Only ACTIVE definitions are
// listed; a zero parallelism falls back to the configured default.
//
// Custom sources can be implemented by satisfying the types.SubscriptionSource interface.
package source
