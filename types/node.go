package types

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NodeID identifies one running consumer process.
//
// Node IDs are ephemeral: a node is registered while its heartbeat is alive
// and disappears from the registry when the heartbeat expires.
type NodeID string

// NewNodeID builds a node ID unique to this process.
//
// The format is <hostname>_<pid>_<suffix>, where suffix is the first eight hex
// digits of a random UUID. Containerised consumers typically all run as pid 1,
// so the suffix keeps IDs distinct across restarts on the same host.
//
// Parameters:
//   - hostname: Host name to embed; os.Hostname() is used when empty
//
// Returns:
//   - NodeID: The generated ID
func NewNodeID(hostname string) NodeID {
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "unknown"
		}
		hostname = h
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	return NodeID(fmt.Sprintf("%s_%d_%s", hostname, os.Getpid(), suffix))
}

// String implements fmt.Stringer.
func (id NodeID) String() string {
	return string(id)
}

// Node is a live consumer process able to run up to Capacity subscriptions.
type Node struct {
	ID       NodeID `json:"id"`
	Capacity int    `json:"capacity"`
}
