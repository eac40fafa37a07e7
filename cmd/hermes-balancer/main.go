// Command hermes-balancer runs a balancer node and inspects a cluster.
//
// Usage:
//
//	hermes-balancer run --config hermes.yaml --listen :8080
//	hermes-balancer assignments --node node-1
//	hermes-balancer subscriptions put pl.allegro.orders$audit --parallelism 2
//	hermes-balancer config show
package main

import (
	"os"

	"github.com/pzmi/hermes/cmd/hermes-balancer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
