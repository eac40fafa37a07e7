package hermes

import "github.com/pzmi/hermes/types"

// Re-export types from the internal types package.
//
// The types subpackage holds the definitions so internal packages can use them
// without importing the root package. The aliases below let users write
// hermes.Subscription, hermes.Logger and so on.
type (
	Subscription        = types.Subscription
	SubscriptionName    = types.SubscriptionName
	SubscriptionState   = types.SubscriptionState
	Node                = types.Node
	NodeID              = types.NodeID
	Assignment          = types.Assignment
	AssignmentSet       = types.AssignmentSet
	NodeAssignmentEvent = types.NodeAssignmentEvent
	BalancingStats      = types.BalancingStats
	BalancingResult     = types.BalancingResult
	JobState            = types.JobState
	Changes             = types.WorkDistributionChanges
)

// Re-export interfaces from the internal types package for convenience.
type (
	BalancingStrategy  = types.BalancingStrategy
	SubscriptionSource = types.SubscriptionSource
	ElectionAgent      = types.ElectionAgent
	MetricsCollector   = types.MetricsCollector
	Logger             = types.Logger
	Hooks              = types.Hooks
)

// Re-export constants from the internal types package.
const (
	JobNotLeader = types.JobNotLeader
	JobLeader    = types.JobLeader

	AssignmentAdded   = types.AssignmentAdded
	AssignmentRemoved = types.AssignmentRemoved
)

// Re-export subscription states.
const (
	SubscriptionActive    = types.SubscriptionActive
	SubscriptionSuspended = types.SubscriptionSuspended
)
