package types

import "time"

// JobState is the state of the balancing job on this node.
type JobState int

const (
	// JobNotLeader means no driver is running; counters read zero.
	JobNotLeader JobState = iota

	// JobLeader means the periodic driver is running.
	JobLeader
)

// String returns the string representation of the state.
func (s JobState) String() string {
	switch s {
	case JobNotLeader:
		return "NotLeader"
	case JobLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// BalancingStats are the counters published after the most recent completed pass.
//
// All fields are zero while the node is not leader.
type BalancingStats struct {
	AllAssignments     int64     `json:"allAssignments"`
	MissingResources   int64     `json:"missingResources"`
	CreatedAssignments int64     `json:"createdAssignments"`
	DeletedAssignments int64     `json:"deletedAssignments"`
	Fingerprint        uint64    `json:"fingerprint"`
	LastPassAt         time.Time `json:"lastPassAt,omitzero"`
	LastPassDuration   float64   `json:"lastPassDurationSeconds"`
}

// StatsProvider exposes the job's current counters.
type StatsProvider interface {
	Stats() BalancingStats
}
